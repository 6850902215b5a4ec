package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"attestation-core/internal/event"
	"attestation-core/internal/ledger"
	"attestation-core/internal/model"
	"attestation-core/internal/notification"
	"attestation-core/internal/service/rates"
	"attestation-core/internal/texts"
	"attestation-core/internal/verifyinvestor"
	"attestation-core/pkg/config"
	"attestation-core/pkg/keylock"
	"attestation-core/pkg/logger"
	"attestation-core/pkg/monitor"
)

// PaymentService validates incoming payments and moves confirmed ones
// into the authentication stage.
type PaymentService struct {
	db       *gorm.DB
	node     ledger.Client
	rates    *rates.Provider
	vi       *verifyinvestor.Client
	notifier notification.AdminNotifier
	locks    *keylock.KeyedMutex
	fin      config.FinanceConfig
	rn       config.RealNameConfig
}

func NewPaymentService(db *gorm.DB, node ledger.Client, rp *rates.Provider, vi *verifyinvestor.Client,
	notifier notification.AdminNotifier, locks *keylock.KeyedMutex, fin config.FinanceConfig, rn config.RealNameConfig) *PaymentService {
	return &PaymentService{
		db:       db,
		node:     node,
		rates:    rp,
		vi:       vi,
		notifier: notifier,
		locks:    locks,
		fin:      fin,
		rn:       rn,
	}
}

// UpdateQuote re-quotes a receiving address at the given price.
func UpdateQuote(db *gorm.DB, receivingAddress string, price int64) error {
	return db.Model(&model.ReceivingAddress{}).
		Where("receiving_address = ?", receivingAddress).
		Updates(map[string]interface{}{"price": price, "last_price_date": time.Now()}).Error
}

// HandlePayment validates one incoming payment and either records a
// transaction or logs a rejection. Safe to call twice for the same unit.
func (s *PaymentService) HandlePayment(ctx context.Context, p *ledger.PaymentEvent) {
	if p.OwnAuthored {
		// consolidation payments land on our own addresses too
		return
	}

	var ra model.ReceivingAddress
	err := s.db.Where("receiving_address = ?", p.ReceivingAddress).First(&ra).Error
	if err == gorm.ErrRecordNotFound {
		return // not one of ours
	}
	if err != nil {
		logger.Error("payment: read receiving address failed", zap.Error(err))
		return
	}

	if reason, text, delay := s.validate(p, &ra); reason != "" {
		s.reject(ctx, p, &ra, reason, text, delay)
		return
	}

	tx := model.Transaction{
		ReceivingAddress: p.ReceivingAddress,
		Price:            ra.Price,
		ReceivedAmount:   p.Amount,
		PaymentUnit:      p.Unit,
	}
	var created bool
	err = s.db.Transaction(func(dbtx *gorm.DB) error {
		res := dbtx.Clauses(clause.OnConflict{DoNothing: true}).Create(&tx)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // already recorded, a re-delivered event
		}
		created = true
		return model.CreateOutboxMessage(dbtx, event.TopicPayments, event.PaymentAcceptedEvent{
			TransactionID: tx.ID,
			DeviceAddress: ra.DeviceAddress,
			UserAddress:   ra.UserAddress,
			PaymentUnit:   p.Unit,
			Amount:        p.Amount,
		})
	})
	if err != nil {
		logger.Error("payment: record transaction failed", zap.String("unit", p.Unit), zap.Error(err))
		return
	}
	if !created {
		return
	}

	monitor.Business.PaymentsAcceptedTotal.Inc()
	s.sendText(ctx, ra.DeviceAddress, texts.ReceivedYourPayment(p.Amount))
}

// validate returns a rejection reason (metric label), the message for the
// user and the quote age. An empty reason means the payment is good.
func (s *PaymentService) validate(p *ledger.PaymentEvent, ra *model.ReceivingAddress) (reason, text string, delay int64) {
	delay = int64(time.Since(ra.LastPriceDate) / time.Second)
	late := delay > s.fin.PriceTimeoutSec

	if p.Asset != "" {
		return "wrong_asset", "Received payment in wrong asset", delay
	}

	currentPrice, err := s.rates.PriceInBytes(s.fin.PriceUSD)
	if err != nil {
		// no fresh quote to compare against, fall back to the stored one
		currentPrice = ra.Price
		late = false
	}

	expected := ra.Price
	if late {
		expected = currentPrice
	}
	if p.Amount < expected {
		if err := UpdateQuote(s.db, ra.ReceivingAddress, currentPrice); err != nil {
			logger.Error("payment: update quote failed", zap.Error(err))
		}
		var msg string
		if late {
			msg = texts.PaymentTooLate(p.Amount)
		} else {
			msg = texts.PaymentTooSmall(p.Amount, ra.Price)
		}
		return "amount_too_low", msg + "\n\n" + texts.PleasePay(ra.ReceivingAddress, currentPrice, ra.UserAddress), delay
	}

	if len(p.AuthorAddresses) != 1 {
		s.resetUserAddress(ra.DeviceAddress)
		return "multiple_authors", texts.ReceivedPaymentFromMultipleAddresses() + "\n" + texts.SwitchToSingleAddress(), delay
	}
	if p.AuthorAddresses[0] != ra.UserAddress {
		s.resetUserAddress(ra.DeviceAddress)
		return "wrong_author", texts.ReceivedPaymentNotFromExpectedAddress(ra.UserAddress) + "\n" + texts.SwitchToSingleAddress(), delay
	}
	return "", "", delay
}

func (s *PaymentService) resetUserAddress(deviceAddress string) {
	err := s.db.Model(&model.User{}).
		Where("device_address = ?", deviceAddress).
		Update("user_address", nil).Error
	if err != nil {
		logger.Error("payment: reset user address failed", zap.Error(err))
	}
}

func (s *PaymentService) reject(ctx context.Context, p *ledger.PaymentEvent, ra *model.ReceivingAddress, reason, text string, delay int64) {
	rp := model.RejectedPayment{
		ReceivingAddress: p.ReceivingAddress,
		Price:            ra.Price,
		ReceivedAmount:   p.Amount,
		DelaySec:         delay,
		PaymentUnit:      p.Unit,
		Error:            text,
	}
	var created bool
	err := s.db.Transaction(func(dbtx *gorm.DB) error {
		res := dbtx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rp)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		return model.CreateOutboxMessage(dbtx, event.TopicPayments, event.PaymentRejectedEvent{
			ReceivingAddress: p.ReceivingAddress,
			PaymentUnit:      p.Unit,
			Amount:           p.Amount,
			Reason:           reason,
		})
	})
	if err != nil {
		logger.Error("payment: record rejection failed", zap.String("unit", p.Unit), zap.Error(err))
		return
	}
	if !created {
		return
	}

	monitor.Business.PaymentsRejectedTotal.WithLabelValues(reason).Inc()
	logger.Info("rejected payment",
		zap.String("unit", p.Unit), zap.String("reason", reason), zap.Int64("amount", p.Amount))
	s.sendText(ctx, ra.DeviceAddress, text)
}

// HandleStable confirms the transactions paid by the now-stable units and
// hands the payer the provider authorization link.
func (s *PaymentService) HandleStable(ctx context.Context, units []string) {
	for _, unit := range units {
		s.confirmUnit(ctx, unit)
	}
}

func (s *PaymentService) confirmUnit(ctx context.Context, unit string) {
	var row struct {
		model.Transaction
		DeviceAddress string
		UserAddress   string
	}
	err := s.db.Table("transactions").
		Select("transactions.*, receiving_addresses.device_address, receiving_addresses.user_address").
		Joins("JOIN receiving_addresses ON receiving_addresses.receiving_address = transactions.receiving_address").
		Where("transactions.payment_unit = ?", unit).
		Take(&row).Error
	if err == gorm.ErrRecordNotFound {
		return
	}
	if err != nil {
		logger.Error("payment: read transaction failed", zap.String("unit", unit), zap.Error(err))
		return
	}

	unlock := s.locks.Lock(txLockKey(row.ID))
	defer unlock()

	// re-check under the lock
	var current model.Transaction
	if err := s.db.First(&current, row.ID).Error; err != nil {
		logger.Error("payment: re-read transaction failed", zap.Int64("id", row.ID), zap.Error(err))
		return
	}
	if current.IsConfirmed {
		return
	}

	now := time.Now()
	err = s.db.Transaction(func(dbtx *gorm.DB) error {
		res := dbtx.Model(&model.Transaction{}).
			Where("id = ? AND is_confirmed = ?", row.ID, false).
			Updates(map[string]interface{}{
				"is_confirmed":      true,
				"confirmation_date": now,
				"vi_status":         model.StatusInAuthentication,
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
			FromStatus:    model.StatusPendingConfirmation,
			ToStatus:      model.StatusInAuthentication,
		})
	})
	if err != nil {
		logger.Error("payment: confirm transaction failed", zap.Int64("id", row.ID), zap.Error(err))
		return
	}

	monitor.Business.TransitionsTotal.WithLabelValues(model.StatusInAuthentication).Inc()

	authURL := s.vi.AuthURL(
		Identifier(row.UserAddress, row.DeviceAddress),
		LoadProfileParams(s.db, row.UserAddress, s.rn),
	)
	s.sendText(ctx, row.DeviceAddress, texts.PaymentIsConfirmed()+"\n\n"+texts.ClickInvestorLink(authURL))
}

func (s *PaymentService) sendText(ctx context.Context, device, text string) {
	if err := s.node.SendText(ctx, device, text); err != nil {
		logger.Error("send chat message failed", zap.String("device", device), zap.Error(err))
	}
}

func txLockKey(id int64) string {
	return fmt.Sprintf("tx-%d", id)
}

// Identifier builds the provider-side identifier binding a ledger address
// to the paying device.
func Identifier(userAddress, deviceAddress string) string {
	return fmt.Sprintf("ua%s_%s", userAddress, deviceAddress)
}
