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
	"attestation-core/pkg/keylock"
	"attestation-core/pkg/logger"
	"attestation-core/pkg/monitor"
)

// Reward kinds.
const (
	RewardKindAttestation = "attestation"
	RewardKindReferral    = "referral"
)

// RewardService pays out the first-time and referral bonuses from the
// distribution fund. A reward row with a NULL reward_unit is owed; the
// sweep re-drives those until a payment lands.
type RewardService struct {
	db       *gorm.DB
	node     ledger.Client
	notifier notification.AdminNotifier
	locks    *keylock.KeyedMutex

	distributionAddress string
}

func NewRewardService(db *gorm.DB, node ledger.Client, notifier notification.AdminNotifier, locks *keylock.KeyedMutex) *RewardService {
	return &RewardService{
		db:       db,
		node:     node,
		notifier: notifier,
		locks:    locks,
	}
}

// SetDistributionAddress sets the funded address rewards are paid from.
func (s *RewardService) SetDistributionAddress(addr string) {
	s.distributionAddress = addr
}

// rewardRow is the common shape of reward_units and referral_reward_units
// joined with the payer's device.
type rewardRow struct {
	UserAddress   string
	Reward        int64
	RewardDate    *time.Time
	DeviceAddress string
}

func (s *RewardService) loadReward(kind string, transactionID int64) (*rewardRow, error) {
	table := "reward_units"
	if kind == RewardKindReferral {
		table = "referral_reward_units"
	}
	var row rewardRow
	err := s.db.Table(table).
		Select(table+".user_address, "+table+".reward, "+table+".reward_date, receiving_addresses.device_address").
		Joins("JOIN transactions ON transactions.id = "+table+".transaction_id").
		Joins("JOIN receiving_addresses ON receiving_addresses.receiving_address = transactions.receiving_address").
		Where(table+".transaction_id = ?", transactionID).
		Take(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// recipientDevice finds where to announce the reward. For referral
// rewards the recipient is the referrer, not the payer of the
// transaction, so look their device up by address.
func (s *RewardService) recipientDevice(kind string, row *rewardRow) string {
	if kind != RewardKindReferral {
		return row.DeviceAddress
	}
	var ra model.ReceivingAddress
	err := s.db.Where("user_address = ?", row.UserAddress).
		Order("created_at DESC").
		First(&ra).Error
	if err != nil {
		return row.DeviceAddress
	}
	return ra.DeviceAddress
}

// Disburse sends one reward payment. Idempotent: a reward that already
// has a unit is skipped, and the unit is written exactly once.
func (s *RewardService) Disburse(ctx context.Context, kind string, transactionID int64) {
	unlock := s.locks.Lock(txLockKey(transactionID))
	defer unlock()

	row, err := s.loadReward(kind, transactionID)
	if err != nil {
		logger.Error("reward: load failed",
			zap.String("kind", kind), zap.Int64("transaction_id", transactionID), zap.Error(err))
		return
	}
	if row.RewardDate != nil {
		return // already sent
	}

	device := s.recipientDevice(kind, row)
	unit, err := s.node.SendPayment(ctx, ledger.PaymentRequest{
		ToAddress:       row.UserAddress,
		Amount:          row.Reward,
		PayingAddresses: []string{s.distributionAddress},
		ChangeAddress:   s.distributionAddress,
		RecipientDevice: device,
	})
	if err != nil {
		balance, _ := s.node.ReadBalance(ctx, s.distributionAddress)
		s.notifier.NotifyAdmin("failed to send reward",
			fmt.Sprintf("%s reward for tx %d: %v, balance: stable=%d pending=%d",
				kind, transactionID, err, balance.Stable, balance.Pending))
		return
	}

	table := "reward_units"
	if kind == RewardKindReferral {
		table = "referral_reward_units"
	}
	now := time.Now()
	err = s.db.Transaction(func(dbtx *gorm.DB) error {
		res := dbtx.Table(table).
			Where("transaction_id = ? AND reward_unit IS NULL", transactionID).
			Updates(map[string]interface{}{"reward_unit": unit, "reward_date": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return model.CreateOutboxMessage(dbtx, event.TopicRewards, event.RewardSentEvent{
			TransactionID: transactionID,
			UserAddress:   row.UserAddress,
			Kind:          kind,
			Amount:        row.Reward,
			RewardUnit:    unit,
		})
	})
	if err != nil {
		logger.Error("reward: record unit failed",
			zap.String("kind", kind), zap.Int64("transaction_id", transactionID), zap.Error(err))
		return
	}

	monitor.Business.RewardsSentTotal.WithLabelValues(kind).Inc()
	logger.Info("sent reward",
		zap.String("kind", kind), zap.Int64("transaction_id", transactionID),
		zap.Int64("amount", row.Reward), zap.String("unit", unit))
	if err := s.node.SendText(ctx, device, texts.RewardSent(kind)); err != nil {
		logger.Error("send chat message failed", zap.String("device", device), zap.Error(err))
	}
}

// SweepRewards retries every reward that has not been paid yet.
func (s *RewardService) SweepRewards(ctx context.Context) {
	timer := prometheus.NewTimer(monitor.Business.SweepDuration.WithLabelValues("rewards"))
	defer timer.ObserveDuration()

	s.sweepKind(ctx, RewardKindAttestation, "reward_units")
	s.sweepKind(ctx, RewardKindReferral, "referral_reward_units")
}

func (s *RewardService) sweepKind(ctx context.Context, kind, table string) {
	var ids []int64
	if err := s.db.Table(table).Where("reward_unit IS NULL").Pluck("transaction_id", &ids).Error; err != nil {
		logger.Error("reward sweep: query failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	for _, id := range ids {
		s.Disburse(ctx, kind, id)
	}
}
