package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"attestation-core/internal/notification"
	"attestation-core/internal/service"
)

// WebhookHandler receives verification results pushed by the provider.
type WebhookHandler struct {
	verification *service.VerificationService
	notifier     notification.AdminNotifier
}

func NewWebhookHandler(verification *service.VerificationService, notifier notification.AdminNotifier) *WebhookHandler {
	return &WebhookHandler{
		verification: verification,
		notifier:     notifier,
	}
}

// Callback godoc
// @Summary Verification provider callback
// @Description Receives verification_result notifications from the provider
// @Tags webhook
// @Accept x-www-form-urlencoded
// @Produce json
// @Success 200
// @Router /cb [post]
func (h *WebhookHandler) Callback(c *gin.Context) {
	// always 200: the provider retries on anything else and a malformed
	// body will not get better on retry
	defer c.Status(http.StatusOK)

	action := c.PostForm("action")
	requestIDStr := c.PostForm("verification_request_id")
	investorIDStr := c.PostForm("investor_id")
	status := c.PostForm("status")

	if requestIDStr == "" || investorIDStr == "" || action != "verification_result" {
		h.notifier.NotifyAdmin("callback without verification_request_id",
			fmt.Sprintf("action=%q verification_request_id=%q investor_id=%q status=%q",
				action, requestIDStr, investorIDStr, status))
		return
	}

	requestID, err1 := strconv.ParseInt(requestIDStr, 10, 64)
	investorID, err2 := strconv.ParseInt(investorIDStr, 10, 64)
	if err1 != nil || err2 != nil {
		h.notifier.NotifyAdmin("callback with non-numeric ids",
			fmt.Sprintf("verification_request_id=%q investor_id=%q", requestIDStr, investorIDStr))
		return
	}

	// detached from the request context: the resolution must not be cut
	// short by the provider hanging up
	h.verification.ResolveFromCallback(context.Background(), investorID, requestID, status)
}
