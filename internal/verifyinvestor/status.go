package verifyinvestor

// The provider's verification request statuses form a closed vocabulary.
// Anything outside this table is treated as unknown: the operator is
// alerted and the transaction is left untouched, never guessed at.
const (
	StatusAccredited             = "accredited"
	StatusNoVerificationRequest  = "no_verification_request"
	StatusWaitingForAcceptance   = "waiting_for_investor_acceptance"
	StatusAcceptedByInvestor     = "accepted_by_investor"
	StatusWaitingForReview       = "waiting_for_review"
	StatusInReview               = "in_review"
	StatusNotAccredited          = "not_accredited"
	StatusWaitingForInformation  = "waiting_for_information_from_investor"
	StatusAcceptedExpire         = "accepted_expire"
	StatusDeclinedExpire         = "declined_expire"
	StatusDeclinedByInvestor     = "declined_by_investor"
	StatusSelfNotAccredited      = "self_not_accredited"
)

var statusDescriptions = map[string]string{
	StatusAccredited:            "The investor is verified as accredited",
	StatusNoVerificationRequest: "You have no active verification request for this user (investor)",
	StatusWaitingForAcceptance:  "The verification is ready and waiting for the investor to accept it",
	StatusAcceptedByInvestor:    "The investor has accepted the verification request but has not yet completed it",
	StatusWaitingForReview:      "Investor has completed the request, and it is now in the reviewers' queue",
	StatusInReview:              "The verification request has been assigned a reviewer and is under review",
	StatusNotAccredited:         "After review, it appears the investor is not accredited",
	StatusWaitingForInformation: "The reviewer has requested additional information from the investor",
	StatusAcceptedExpire:        "The verification request has expired. The investor accepted but did not complete",
	StatusDeclinedExpire:        "The verification request has expired. The investor never accepted",
	StatusDeclinedByInvestor:    "The investor has declined the verification request",
	StatusSelfNotAccredited:     "The investor has declined the verification request",
}

var neutralStatuses = map[string]bool{
	StatusWaitingForAcceptance:  true,
	StatusAcceptedByInvestor:    true,
	StatusWaitingForReview:      true,
	StatusInReview:              true,
	StatusWaitingForInformation: true,
}

// StatusDescription returns the human description of a request status,
// or "" when the status is not in the known vocabulary.
func StatusDescription(status string) string {
	return statusDescriptions[status]
}

// IsNeutralStatus reports whether the status leaves the request pending:
// neither accredited nor failed, just keep polling.
func IsNeutralStatus(status string) bool {
	return neutralStatuses[status]
}
