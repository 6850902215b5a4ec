package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"attestation-core/internal/event"
	"attestation-core/internal/ledger"
	"attestation-core/internal/model"
	"attestation-core/internal/notification"
	"attestation-core/internal/service/rates"
	"attestation-core/internal/texts"
	"attestation-core/pkg/config"
	"attestation-core/pkg/hashutil"
	"attestation-core/pkg/keylock"
	"attestation-core/pkg/logger"
	"attestation-core/pkg/monitor"
)

// AttestationService publishes the accreditation proof on the ledger and
// enrols the bonuses that come with it.
type AttestationService struct {
	db       *gorm.DB
	node     ledger.Client
	rates    *rates.Provider
	referral *ReferralService
	rewards  *RewardService
	notifier notification.AdminNotifier
	locks    *keylock.KeyedMutex
	fin      config.FinanceConfig

	attestorAddress string
}

func NewAttestationService(db *gorm.DB, node ledger.Client, rp *rates.Provider, referral *ReferralService,
	rewards *RewardService, notifier notification.AdminNotifier, locks *keylock.KeyedMutex, fin config.FinanceConfig) *AttestationService {
	return &AttestationService{
		db:       db,
		node:     node,
		rates:    rp,
		referral: referral,
		rewards:  rewards,
		notifier: notifier,
		locks:    locks,
		fin:      fin,
	}
}

// SetAttestorAddress sets the address attestations are posted from.
func (s *AttestationService) SetAttestorAddress(addr string) {
	s.attestorAddress = addr
}

// AttestationPayload is what gets published for an accredited address.
func AttestationPayload(userAddress string, viUserID int64) map[string]interface{} {
	return map[string]interface{}{
		"address": userAddress,
		"profile": map[string]interface{}{
			"vi_user_id": viUserID,
			"investor":   1,
		},
	}
}

// EnrolAccredited runs when a transaction turns accredited: it creates
// the attestation slot, posts the attestation and enrols the direct and
// referral bonuses. Every step is insert-ignore or CAS, so a crash at
// any point is repaired by the sweeps.
func (s *AttestationService) EnrolAccredited(ctx context.Context, transactionID int64) {
	row, err := loadTx(s.db, transactionID)
	if err != nil {
		logger.Error("enrol: load transaction failed", zap.Int64("id", transactionID), zap.Error(err))
		return
	}
	if row.VIStatus != model.StatusAccredited || row.VIUserID == nil {
		return
	}

	slot := model.AttestationUnit{TransactionID: transactionID}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&slot).Error; err != nil {
		logger.Error("enrol: create attestation slot failed", zap.Int64("id", transactionID), zap.Error(err))
		return
	}

	s.PostAttestation(ctx, transactionID)

	if s.fin.RewardUSD > 0 {
		s.enrolDirectReward(ctx, row)
	}
}

func (s *AttestationService) enrolDirectReward(ctx context.Context, row *txRow) {
	rewardBytes, err := s.rates.PriceInBytes(s.fin.RewardUSD)
	if err != nil {
		s.notifier.NotifyAdmin("cannot price reward",
			fmt.Sprintf("tx %d: %v", row.ID, err))
		return
	}

	reward := model.RewardUnit{
		TransactionID: row.ID,
		UserAddress:   row.UserAddress,
		VIUserID:      *row.VIUserID,
		Reward:        rewardBytes,
	}
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&reward)
	if res.Error != nil {
		logger.Error("enrol: create reward failed", zap.Int64("id", row.ID), zap.Error(res.Error))
		return
	}
	if res.RowsAffected == 0 {
		// the user or provider account was already rewarded once
		logger.Info("no first-time bonus, user already rewarded",
			zap.String("user_address", row.UserAddress), zap.Int64("vi_user_id", *row.VIUserID))
		return
	}

	s.sendText(ctx, row.DeviceAddress, texts.AttestedSuccessFirstTimeBonus(rewardBytes, s.fin))
	s.rewards.Disburse(ctx, RewardKindAttestation, row.ID)

	if s.fin.ReferralRewardUSD > 0 {
		s.enrolReferralReward(ctx, row)
	}
}

func (s *AttestationService) enrolReferralReward(ctx context.Context, row *txRow) {
	rewardBytes, err := s.rates.PriceInBytes(s.fin.ReferralRewardUSD)
	if err != nil {
		s.notifier.NotifyAdmin("cannot price referral reward",
			fmt.Sprintf("tx %d: %v", row.ID, err))
		return
	}

	referrer, err := s.referral.FindReferrer(ctx, row.PaymentUnit)
	if err != nil {
		logger.Error("enrol: referral walk failed", zap.Int64("id", row.ID), zap.Error(err))
		s.notifier.NotifyAdmin("referral walk failed", fmt.Sprintf("tx %d: %v", row.ID, err))
		return
	}
	if referrer == nil {
		return
	}

	reward := model.ReferralRewardUnit{
		TransactionID:  row.ID,
		UserAddress:    referrer.UserAddress,
		VIUserID:       referrer.VIUserID,
		NewUserAddress: row.UserAddress,
		NewVIUserID:    *row.VIUserID,
		Reward:         rewardBytes,
	}
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&reward)
	if res.Error != nil {
		logger.Error("enrol: create referral reward failed", zap.Int64("id", row.ID), zap.Error(res.Error))
		return
	}
	if res.RowsAffected == 0 {
		s.notifier.NotifyAdmin("duplicate referral reward",
			fmt.Sprintf("referral reward for new user %s %d already written", row.UserAddress, *row.VIUserID))
		return
	}

	s.sendText(ctx, referrer.DeviceAddress, texts.ReferredUserBonus(rewardBytes, s.fin))
	s.rewards.Disburse(ctx, RewardKindReferral, row.ID)
}

// PostAttestation broadcasts the attestation for one transaction. The
// unit is written exactly once; a concurrent caller loses the CAS and
// no-ops.
func (s *AttestationService) PostAttestation(ctx context.Context, transactionID int64) {
	unlock := s.locks.Lock(txLockKey(transactionID))
	defer unlock()

	var slot model.AttestationUnit
	if err := s.db.Where("transaction_id = ?", transactionID).Take(&slot).Error; err != nil {
		logger.Error("attestation: load slot failed", zap.Int64("id", transactionID), zap.Error(err))
		return
	}
	if slot.AttestationDate != nil {
		return // already posted
	}

	row, err := loadTx(s.db, transactionID)
	if err != nil {
		logger.Error("attestation: load transaction failed", zap.Int64("id", transactionID), zap.Error(err))
		return
	}
	if row.VIUserID == nil {
		return
	}

	payload := AttestationPayload(row.UserAddress, *row.VIUserID)
	payloadHash, err := hashutil.GetBase64Hash(payload)
	if err != nil {
		logger.Error("attestation: hash payload failed", zap.Int64("id", transactionID), zap.Error(err))
		return
	}
	msgs := []ledger.Message{{
		App:             "attestation",
		PayloadLocation: "inline",
		PayloadHash:     payloadHash,
		Payload:         payload,
	}}

	if s.fin.PostTimestamp {
		dataFeed := map[string]interface{}{"timestamp": time.Now().UnixMilli()}
		feedHash, err := hashutil.GetBase64Hash(dataFeed)
		if err != nil {
			logger.Error("attestation: hash data feed failed", zap.Error(err))
			return
		}
		msgs = append(msgs, ledger.Message{
			App:             "data_feed",
			PayloadLocation: "inline",
			PayloadHash:     feedHash,
			Payload:         dataFeed,
		})
	}

	unit, err := s.node.Broadcast(ctx, s.attestorAddress, msgs)
	if err != nil {
		balance, _ := s.node.ReadBalance(ctx, s.attestorAddress)
		s.notifier.NotifyAdmin("attestation failed",
			fmt.Sprintf("tx %d: %v, balance: stable=%d pending=%d", transactionID, err, balance.Stable, balance.Pending))
		return
	}

	now := time.Now()
	err = s.db.Transaction(func(dbtx *gorm.DB) error {
		res := dbtx.Model(&model.AttestationUnit{}).
			Where("transaction_id = ? AND attestation_unit IS NULL", transactionID).
			Updates(map[string]interface{}{"attestation_unit": unit, "attestation_date": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return model.CreateOutboxMessage(dbtx, event.TopicLifecycle, event.AttestationPostedEvent{
			TransactionID:   transactionID,
			UserAddress:     row.UserAddress,
			AttestationUnit: unit,
		})
	})
	if err != nil {
		logger.Error("attestation: record unit failed", zap.Int64("id", transactionID), zap.Error(err))
		return
	}

	monitor.Business.AttestationsPostedTotal.Inc()
	logger.Info("posted attestation",
		zap.Int64("transaction_id", transactionID), zap.String("unit", unit), zap.String("address", row.UserAddress))
	s.sendText(ctx, row.DeviceAddress, texts.AttestedSuccess(unit, s.fin))
}

// SweepAttestations retries every attestation slot without a unit.
func (s *AttestationService) SweepAttestations(ctx context.Context) {
	timer := prometheus.NewTimer(monitor.Business.SweepDuration.WithLabelValues("attestations"))
	defer timer.ObserveDuration()

	var ids []int64
	if err := s.db.Model(&model.AttestationUnit{}).Where("attestation_unit IS NULL").Pluck("transaction_id", &ids).Error; err != nil {
		logger.Error("attestation sweep: query failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		s.PostAttestation(ctx, id)
	}
}

func (s *AttestationService) sendText(ctx context.Context, device, text string) {
	if err := s.node.SendText(ctx, device, text); err != nil {
		logger.Error("send chat message failed", zap.String("device", device), zap.Error(err))
	}
}
