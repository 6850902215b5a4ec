// Package event defines the payloads published on the outbox topics.
// Consumers must be idempotent: the relay guarantees at-least-once.
package event

// Topics.
const (
	TopicLifecycle = "attestation_events_lifecycle"
	TopicPayments  = "attestation_events_payments"
	TopicRewards   = "attestation_events_rewards"
)

// PaymentAcceptedEvent is published when a validated payment creates a
// transaction row.
// Topic: attestation_events_payments
type PaymentAcceptedEvent struct {
	TransactionID int64  `json:"transaction_id"`
	DeviceAddress string `json:"device_address"`
	UserAddress   string `json:"user_address"`
	PaymentUnit   string `json:"payment_unit"`
	Amount        int64  `json:"amount"`
}

// PaymentRejectedEvent is published when a payment fails validation.
// Topic: attestation_events_payments
type PaymentRejectedEvent struct {
	ReceivingAddress string `json:"receiving_address"`
	PaymentUnit      string `json:"payment_unit"`
	Amount           int64  `json:"amount"`
	Reason           string `json:"reason"`
}

// StatusChangedEvent is published on every lifecycle transition.
// Topic: attestation_events_lifecycle
type StatusChangedEvent struct {
	TransactionID int64  `json:"transaction_id"`
	UserAddress   string `json:"user_address"`
	FromStatus    string `json:"from_status"`
	ToStatus      string `json:"to_status"`
}

// AttestationPostedEvent is published when the attestation unit lands on
// the ledger.
// Topic: attestation_events_lifecycle
type AttestationPostedEvent struct {
	TransactionID   int64  `json:"transaction_id"`
	UserAddress     string `json:"user_address"`
	AttestationUnit string `json:"attestation_unit"`
}

// RewardSentEvent is published when a direct or referral reward payment
// is broadcast. Kind is "attestation" or "referral".
// Topic: attestation_events_rewards
type RewardSentEvent struct {
	TransactionID int64  `json:"transaction_id"`
	UserAddress   string `json:"user_address"`
	Kind          string `json:"kind"`
	Amount        int64  `json:"amount"`
	RewardUnit    string `json:"reward_unit"`
}
