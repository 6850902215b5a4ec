package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"attestation-core/internal/ledger"
	"attestation-core/pkg/errno"
	"attestation-core/pkg/logger"
)

// ReferralService walks the payment graph backwards to find which
// already-attested user funded a new user's attestation payment.
type ReferralService struct {
	db              *gorm.DB
	node            ledger.Client
	attestorAddress string
	maxDepth        int
}

func NewReferralService(db *gorm.DB, node ledger.Client, attestorAddress string, maxDepth int) *ReferralService {
	return &ReferralService{
		db:              db,
		node:            node,
		attestorAddress: attestorAddress,
		maxDepth:        maxDepth,
	}
}

// Referrer is an attested user found among the ancestors of a payment.
type Referrer struct {
	UserAddress   string
	DeviceAddress string
	VIUserID      int64
}

// FindReferrer walks back through the transfer inputs of paymentUnit, up
// to maxDepth hops, and picks the attested ancestor whose money entered
// the chain last (highest main chain index). Returns nil when nobody
// qualifies.
func (s *ReferralService) FindReferrer(ctx context.Context, paymentUnit string) (*Referrer, error) {
	mcisByAddress := make(map[string]int64)

	units := []string{paymentUnit}
	for depth := 0; depth < s.maxDepth && len(units) > 0; depth++ {
		inputs, err := s.node.TransferParents(ctx, units)
		if err != nil {
			return nil, fmt.Errorf("walk transfer parents at depth %d: %w", depth, err)
		}
		units = units[:0]
		for _, in := range inputs {
			if in.MainChainIndex > mcisByAddress[in.Address] {
				mcisByAddress[in.Address] = in.MainChainIndex
			}
			units = append(units, in.SrcUnit)
		}
	}

	if len(mcisByAddress) == 0 {
		return nil, nil
	}
	addresses := make([]string, 0, len(mcisByAddress))
	for addr := range mcisByAddress {
		addresses = append(addresses, addr)
	}

	var candidates []struct {
		TransactionID   int64
		AttestationUnit string
		UserAddress     string
		DeviceAddress   string
		VIUserID        *int64
	}
	err := s.db.Table("attestation_units").
		Select("attestation_units.transaction_id, attestation_units.attestation_unit, "+
			"receiving_addresses.user_address, receiving_addresses.device_address, transactions.vi_user_id").
		Joins("JOIN transactions ON transactions.id = attestation_units.transaction_id").
		Joins("JOIN receiving_addresses ON receiving_addresses.receiving_address = transactions.receiving_address").
		Where("attestation_units.attestation_unit IS NOT NULL").
		Where("receiving_addresses.user_address IN ?", addresses).
		Where("transactions.payment_unit <> ?", paymentUnit).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("query attested ancestors: %w", err)
	}
	if len(candidates) == 0 {
		logger.Info("no referrer found", zap.String("payment_unit", paymentUnit))
		return nil, nil
	}

	var best *Referrer
	var bestMci int64
	for _, cand := range candidates {
		// our own records must agree with the ledger; a mismatch means
		// corrupted data and is worth failing loudly over
		info, err := s.node.GetAttestation(ctx, cand.AttestationUnit)
		if err != nil {
			return nil, fmt.Errorf("read attestation %s: %w", cand.AttestationUnit, err)
		}
		if info.App != "attestation" || info.AttestorAddress != s.attestorAddress {
			return nil, fmt.Errorf("%w: unit %s app=%s attestor=%s",
				errno.ErrReferralCorrupt, cand.AttestationUnit, info.App, info.AttestorAddress)
		}
		var payload struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(info.Payload, &payload); err != nil {
			return nil, fmt.Errorf("%w: unit %s payload: %v", errno.ErrReferralCorrupt, cand.AttestationUnit, err)
		}
		if payload.Address != cand.UserAddress {
			return nil, fmt.Errorf("%w: unit %s payload address %s != user address %s",
				errno.ErrReferralCorrupt, cand.AttestationUnit, payload.Address, cand.UserAddress)
		}
		if cand.VIUserID == nil {
			return nil, fmt.Errorf("%w: attested tx %d has no vi_user_id", errno.ErrReferralCorrupt, cand.TransactionID)
		}

		if mci := mcisByAddress[cand.UserAddress]; best == nil || mci > bestMci {
			bestMci = mci
			best = &Referrer{
				UserAddress:   cand.UserAddress,
				DeviceAddress: cand.DeviceAddress,
				VIUserID:      *cand.VIUserID,
			}
		}
	}

	logger.Info("referrer found",
		zap.String("payment_unit", paymentUnit), zap.String("referrer", best.UserAddress), zap.Int64("mci", bestMci))
	return best, nil
}
