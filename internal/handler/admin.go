package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"attestation-core/internal/handler/response"
	"attestation-core/internal/ledger"
	"attestation-core/internal/model"
	"attestation-core/internal/service"
	"attestation-core/pkg/errno"
)

// AdminHandler exposes the operator endpoints used by attctl.
type AdminHandler struct {
	db           *gorm.DB
	node         ledger.Client
	verification *service.VerificationService
	attestations *service.AttestationService
	rewards      *service.RewardService

	AttestorAddress     string
	DistributionAddress string
}

func NewAdminHandler(db *gorm.DB, node ledger.Client, verification *service.VerificationService,
	attestations *service.AttestationService, rewards *service.RewardService) *AdminHandler {
	return &AdminHandler{
		db:           db,
		node:         node,
		verification: verification,
		attestations: attestations,
		rewards:      rewards,
	}
}

// GetTransaction godoc
// @Summary Inspect one transaction
// @Tags admin
// @Produce json
// @Param id path int true "transaction id"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/transactions/{id} [get]
func (h *AdminHandler) GetTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	var tx model.Transaction
	if err := h.db.First(&tx, id).Error; err != nil {
		response.Error(c, errno.ErrTransactionNotFound)
		return
	}

	var attestation model.AttestationUnit
	_ = h.db.Where("transaction_id = ?", id).First(&attestation).Error
	var reward model.RewardUnit
	_ = h.db.Where("transaction_id = ?", id).First(&reward).Error
	var referral model.ReferralRewardUnit
	_ = h.db.Where("transaction_id = ?", id).First(&referral).Error

	response.Success(c, gin.H{
		"transaction":     tx,
		"attestation":     attestation,
		"reward":          reward,
		"referral_reward": referral,
	})
}

// RequeueTransaction godoc
// @Summary Re-drive a stuck transaction
// @Description Runs the sweep step matching the transaction's current state immediately
// @Tags admin
// @Produce json
// @Param id path int true "transaction id"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/transactions/{id}/requeue [post]
func (h *AdminHandler) RequeueTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	var tx model.Transaction
	if err := h.db.First(&tx, id).Error; err != nil {
		response.Error(c, errno.ErrTransactionNotFound)
		return
	}

	ctx := c.Request.Context()
	switch tx.VIStatus {
	case model.StatusInAuthentication:
		h.verification.CheckAuthAndSubmit(ctx, id)
	case model.StatusInVerification:
		h.verification.PollRequest(ctx, id)
	case model.StatusAccredited:
		h.attestations.EnrolAccredited(ctx, id)
		h.rewards.Disburse(ctx, service.RewardKindAttestation, id)
		h.rewards.Disburse(ctx, service.RewardKindReferral, id)
	}

	var fresh model.Transaction
	_ = h.db.First(&fresh, id).Error
	response.Success(c, gin.H{"vi_status": fresh.VIStatus})
}

// GetBalances godoc
// @Summary Read the attestor and distribution fund balances
// @Tags admin
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/admin/balances [get]
func (h *AdminHandler) GetBalances(c *gin.Context) {
	ctx := c.Request.Context()
	attestor, err := h.node.ReadBalance(ctx, h.AttestorAddress)
	if err != nil {
		response.Error(c, err)
		return
	}
	distribution, err := h.node.ReadBalance(ctx, h.DistributionAddress)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"attestor":     gin.H{"address": h.AttestorAddress, "stable": attestor.Stable, "pending": attestor.Pending},
		"distribution": gin.H{"address": h.DistributionAddress, "stable": distribution.Stable, "pending": distribution.Pending},
	})
}
