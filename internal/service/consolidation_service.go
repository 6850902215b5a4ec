package service

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"attestation-core/internal/ledger"
	"attestation-core/internal/model"
	"attestation-core/internal/notification"
	"attestation-core/pkg/logger"
	"attestation-core/pkg/monitor"
)

// maxPayingAddresses bounds the authors of one consolidation unit.
const maxPayingAddresses = 16

// ConsolidationService periodically sweeps the funds collected on the
// per-user receiving addresses to the attestor address, which pays for
// posting attestations.
type ConsolidationService struct {
	db       *gorm.DB
	node     ledger.Client
	notifier notification.AdminNotifier

	attestorAddress string
}

func NewConsolidationService(db *gorm.DB, node ledger.Client, notifier notification.AdminNotifier) *ConsolidationService {
	return &ConsolidationService{
		db:       db,
		node:     node,
		notifier: notifier,
	}
}

func (s *ConsolidationService) SetAttestorAddress(addr string) {
	s.attestorAddress = addr
}

// Sweep moves stable unspent funds off the receiving addresses. Skipped
// while the node is still syncing, balances would be unreliable.
func (s *ConsolidationService) Sweep(ctx context.Context) {
	timer := prometheus.NewTimer(monitor.Business.SweepDuration.WithLabelValues("consolidation"))
	defer timer.ObserveDuration()

	catchingUp, err := s.node.IsCatchingUp(ctx)
	if err != nil {
		logger.Warn("consolidation: catch-up check failed", zap.Error(err))
		return
	}
	if catchingUp {
		return
	}

	var addrs []string
	if err := s.db.Model(&model.ReceivingAddress{}).Distinct().Pluck("receiving_address", &addrs).Error; err != nil {
		logger.Error("consolidation: query addresses failed", zap.Error(err))
		return
	}
	if len(addrs) == 0 {
		return
	}

	funded, err := s.node.AddressesWithUnspent(ctx, addrs)
	if err != nil {
		logger.Error("consolidation: unspent lookup failed", zap.Error(err))
		return
	}
	if len(funded) == 0 {
		return
	}
	if len(funded) > maxPayingAddresses {
		funded = funded[:maxPayingAddresses]
	}

	unit, err := s.node.SendPayment(ctx, ledger.PaymentRequest{
		ToAddress:       s.attestorAddress,
		SendAll:         true,
		PayingAddresses: funded,
	})
	if err != nil {
		balance, _ := s.node.ReadBalance(ctx, funded[0])
		s.notifier.NotifyAdmin("failed to move funds",
			fmt.Sprintf("%v, balance: stable=%d pending=%d", err, balance.Stable, balance.Pending))
		return
	}
	logger.Info("moved funds to attestor address", zap.String("unit", unit), zap.Int("addresses", len(funded)))
}
