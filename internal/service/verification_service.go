package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"attestation-core/internal/event"
	"attestation-core/internal/ledger"
	"attestation-core/internal/model"
	"attestation-core/internal/notification"
	"attestation-core/internal/texts"
	"attestation-core/internal/verifyinvestor"
	"attestation-core/pkg/config"
	"attestation-core/pkg/keylock"
	"attestation-core/pkg/logger"
	"attestation-core/pkg/monitor"
)

// VerificationService drives transactions through the provider: first
// the authorization check and request submission, then polling for the
// request outcome. The provider's webhook and the periodic poll share
// one resolution path; whichever arrives second is a no-op.
type VerificationService struct {
	db       *gorm.DB
	node     ledger.Client
	vi       *verifyinvestor.Client
	notifier notification.AdminNotifier
	locks    *keylock.KeyedMutex
	rn       config.RealNameConfig

	onAccredited func(ctx context.Context, transactionID int64)
}

func NewVerificationService(db *gorm.DB, node ledger.Client, vi *verifyinvestor.Client,
	notifier notification.AdminNotifier, locks *keylock.KeyedMutex, rn config.RealNameConfig) *VerificationService {
	return &VerificationService{
		db:       db,
		node:     node,
		vi:       vi,
		notifier: notifier,
		locks:    locks,
		rn:       rn,
	}
}

// SetAccreditedHandler registers the callback fired when a transaction
// reaches accredited.
func (s *VerificationService) SetAccreditedHandler(f func(ctx context.Context, transactionID int64)) {
	s.onAccredited = f
}

// SweepAuthChecks retries the authorization check for every transaction
// stuck in in_authentication.
func (s *VerificationService) SweepAuthChecks(ctx context.Context) {
	timer := prometheus.NewTimer(monitor.Business.SweepDuration.WithLabelValues("auth_check"))
	defer timer.ObserveDuration()

	rows, err := listTxWhere(s.db, "transactions.vi_status = ?", model.StatusInAuthentication)
	if err != nil {
		logger.Error("auth sweep: query failed", zap.Error(err))
		return
	}
	for _, row := range rows {
		s.CheckAuthAndSubmit(ctx, row.ID)
	}
}

// CheckAuthAndSubmit asks the provider whether the user has granted us
// access; if so it opens a verification request and moves the
// transaction to in_verification.
func (s *VerificationService) CheckAuthAndSubmit(ctx context.Context, transactionID int64) {
	unlock := s.locks.Lock(txLockKey(transactionID))
	defer unlock()

	row, err := loadTx(s.db, transactionID)
	if err != nil {
		logger.Error("auth check: load transaction failed", zap.Int64("id", transactionID), zap.Error(err))
		return
	}
	if row.VIStatus != model.StatusInAuthentication {
		return
	}

	userID, ok, err := s.vi.CheckAuthorization(ctx, Identifier(row.UserAddress, row.DeviceAddress))
	if err != nil {
		logger.Warn("auth check: provider call failed", zap.Int64("id", transactionID), zap.Error(err))
		return
	}
	if !ok {
		return // user has not clicked the link yet, the sweep will retry
	}

	requestID, err := s.vi.SubmitVerificationRequest(ctx, userID, row.UserAddress)
	if err != nil {
		logger.Warn("auth check: submit request failed", zap.Int64("id", transactionID), zap.Error(err))
		return
	}

	err = s.db.Transaction(func(dbtx *gorm.DB) error {
		res := dbtx.Model(&model.Transaction{}).
			Where("id = ? AND vi_status = ?", transactionID, model.StatusInAuthentication).
			Updates(map[string]interface{}{
				"vi_status":     model.StatusInVerification,
				"vi_user_id":    userID,
				"vi_request_id": requestID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return model.CreateOutboxMessage(dbtx, event.TopicLifecycle, event.StatusChangedEvent{
			TransactionID: transactionID,
			UserAddress:   row.UserAddress,
			FromStatus:    model.StatusInAuthentication,
			ToStatus:      model.StatusInVerification,
		})
	})
	if err != nil {
		logger.Error("auth check: update failed", zap.Int64("id", transactionID), zap.Error(err))
		return
	}

	monitor.Business.TransitionsTotal.WithLabelValues(model.StatusInVerification).Inc()
	logger.Info("verification request submitted",
		zap.Int64("transaction_id", transactionID), zap.Int64("vi_user_id", userID), zap.Int64("vi_request_id", requestID))
	s.sendText(ctx, row.DeviceAddress, texts.ReceivedAuthToUserAccount()+"\n\n"+texts.WaitingWhileVerificationRequestFinished())
}

// SweepStatusChecks polls the provider for every open verification
// request.
func (s *VerificationService) SweepStatusChecks(ctx context.Context) {
	timer := prometheus.NewTimer(monitor.Business.SweepDuration.WithLabelValues("status_poll"))
	defer timer.ObserveDuration()

	rows, err := listTxWhere(s.db, "transactions.vi_status = ?", model.StatusInVerification)
	if err != nil {
		logger.Error("status sweep: query failed", zap.Error(err))
		return
	}
	for _, row := range rows {
		s.PollRequest(ctx, row.ID)
	}
}

// PollRequest fetches the state of one verification request and applies
// the outcome.
func (s *VerificationService) PollRequest(ctx context.Context, transactionID int64) {
	unlock := s.locks.Lock(txLockKey(transactionID))
	defer unlock()

	row, err := loadTx(s.db, transactionID)
	if err != nil {
		logger.Error("status poll: load transaction failed", zap.Int64("id", transactionID), zap.Error(err))
		return
	}
	if row.VIStatus != model.StatusInVerification || row.VIUserID == nil || row.VIRequestID == nil {
		return
	}

	status, notFound, err := s.vi.RequestStatus(ctx, *row.VIUserID, *row.VIRequestID)
	if err != nil {
		logger.Warn("status poll: provider call failed", zap.Int64("id", transactionID), zap.Error(err))
		return
	}

	if notFound {
		// the request vanished: either the user revoked access or the
		// provider is broken. Only trust the 404 if the API is healthy.
		if err := s.vi.Health(ctx); err != nil {
			s.notifier.NotifyAdmin("verification provider unhealthy",
				fmt.Sprintf("request status 404 for tx %d and health check failed: %v", transactionID, err))
			return
		}
		s.resetToAuthentication(transactionID, row.UserAddress)
		return
	}

	s.applyStatusLocked(ctx, row, status)
}

// ResolveFromCallback applies a webhook-delivered result. Same semantics
// as the poll path; a transaction that already left in_verification is
// left alone.
func (s *VerificationService) ResolveFromCallback(ctx context.Context, investorID, requestID int64, status string) {
	row, err := findTxWhere(s.db, "transactions.vi_user_id = ? AND transactions.vi_request_id = ? AND transactions.vi_status = ?",
		investorID, requestID, model.StatusInVerification)
	if err == gorm.ErrRecordNotFound {
		s.notifier.NotifyAdmin("callback for unknown verification request",
			fmt.Sprintf("investor_id=%d verification_request_id=%d status=%s", investorID, requestID, status))
		return
	}
	if err != nil {
		logger.Error("callback: query failed", zap.Error(err))
		return
	}

	unlock := s.locks.Lock(txLockKey(row.ID))
	defer unlock()

	// re-check under the lock, the poller may have won the race
	fresh, err := loadTx(s.db, row.ID)
	if err != nil {
		logger.Error("callback: re-read failed", zap.Int64("id", row.ID), zap.Error(err))
		return
	}
	if fresh.VIStatus != model.StatusInVerification {
		return
	}

	s.applyStatusLocked(ctx, fresh, status)
}

// applyStatusLocked maps a provider request status onto the lifecycle.
// Caller holds the transaction lock and has verified in_verification.
func (s *VerificationService) applyStatusLocked(ctx context.Context, row *txRow, vrStatus string) {
	if vrStatus == verifyinvestor.StatusNoVerificationRequest {
		s.resetToAuthentication(row.ID, row.UserAddress)
		return
	}

	description := verifyinvestor.StatusDescription(vrStatus)
	if description == "" {
		// possibly a status added on the provider side after this code
		// was written; never guess, let the operator look at it
		s.notifier.NotifyAdmin("unknown verification request status",
			fmt.Sprintf("status %q not found for tx %d", vrStatus, row.ID))
		return
	}

	if verifyinvestor.IsNeutralStatus(vrStatus) {
		return
	}

	newStatus := model.StatusNotAccredited
	text := texts.VerificationRequestCompletedWithStatus(description)
	if vrStatus == verifyinvestor.StatusAccredited {
		newStatus = model.StatusAccredited
	} else {
		text += "\n\n" + texts.CurrentAttestationFailed()
	}

	now := time.Now()
	err := s.db.Transaction(func(dbtx *gorm.DB) error {
		res := dbtx.Model(&model.Transaction{}).
			Where("id = ? AND vi_status = ?", row.ID, model.StatusInVerification).
			Updates(map[string]interface{}{
				"vi_status":         newStatus,
				"vi_request_status": vrStatus,
				"result_date":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return model.CreateOutboxMessage(dbtx, event.TopicLifecycle, event.StatusChangedEvent{
			TransactionID: row.ID,
			UserAddress:   row.UserAddress,
			FromStatus:    model.StatusInVerification,
			ToStatus:      newStatus,
		})
	})
	if err != nil {
		logger.Error("verification: apply result failed", zap.Int64("id", row.ID), zap.Error(err))
		return
	}

	monitor.Business.TransitionsTotal.WithLabelValues(newStatus).Inc()
	logger.Info("verification request resolved",
		zap.Int64("transaction_id", row.ID), zap.String("vr_status", vrStatus), zap.String("vi_status", newStatus))
	s.sendText(ctx, row.DeviceAddress, text)

	if newStatus == model.StatusAccredited && s.onAccredited != nil {
		s.onAccredited(ctx, row.ID)
	}
}

// resetToAuthentication sends the transaction back one step so the auth
// sweep opens a fresh verification request.
func (s *VerificationService) resetToAuthentication(transactionID int64, userAddress string) {
	err := s.db.Transaction(func(dbtx *gorm.DB) error {
		res := dbtx.Model(&model.Transaction{}).
			Where("id = ? AND vi_status = ?", transactionID, model.StatusInVerification).
			Update("vi_status", model.StatusInAuthentication)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return model.CreateOutboxMessage(dbtx, event.TopicLifecycle, event.StatusChangedEvent{
			TransactionID: transactionID,
			UserAddress:   userAddress,
			FromStatus:    model.StatusInVerification,
			ToStatus:      model.StatusInAuthentication,
		})
	})
	if err != nil {
		logger.Error("verification: reset failed", zap.Int64("id", transactionID), zap.Error(err))
		return
	}
	monitor.Business.TransitionsTotal.WithLabelValues(model.StatusInAuthentication).Inc()
	logger.Info("verification request reset to authentication", zap.Int64("transaction_id", transactionID))
}

func (s *VerificationService) sendText(ctx context.Context, device, text string) {
	if err := s.node.SendText(ctx, device, text); err != nil {
		logger.Error("send chat message failed", zap.String("device", device), zap.Error(err))
	}
}
