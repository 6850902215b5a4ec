// Package ledger defines the capability the core consumes from the
// distributed ledger node. Key custody, consensus and broadcast live in
// an external headless wallet; the core only sees this interface.
package ledger

import (
	"context"
	"encoding/json"
)

// Message is one inline message of a unit (attestation, data feed, ...).
type Message struct {
	App             string      `json:"app"`
	PayloadLocation string      `json:"payload_location"`
	PayloadHash     string      `json:"payload_hash"`
	Payload         interface{} `json:"payload"`
}

// PaymentRequest describes an outgoing base-currency payment.
type PaymentRequest struct {
	ToAddress       string   `json:"to_address"`
	Amount          int64    `json:"amount,omitempty"`
	SendAll         bool     `json:"send_all,omitempty"`
	PayingAddresses []string `json:"paying_addresses"`
	ChangeAddress   string   `json:"change_address,omitempty"`
	RecipientDevice string   `json:"recipient_device_address,omitempty"`
}

// Balance of one address in base currency.
type Balance struct {
	Stable  int64 `json:"stable"`
	Pending int64 `json:"pending"`
}

// TransferInput is one base-currency transfer input of a unit, used by
// the referral walk.
type TransferInput struct {
	Address        string `json:"address"`
	SrcUnit        string `json:"src_unit"`
	MainChainIndex int64  `json:"main_chain_index"`
}

// AttestationInfo is a posted attestation message as read back from the
// ledger.
type AttestationInfo struct {
	App             string          `json:"app"`
	AttestorAddress string          `json:"attestor_address"`
	Payload         json.RawMessage `json:"payload"`
}

// Event types delivered on the event channel.
const (
	EventPaired          = "paired"
	EventText            = "text"
	EventPaymentReceived = "payment_received"
	EventPaymentStable   = "payment_stable"
)

// PaymentEvent is one output paid to one of our receiving addresses.
// Asset is empty for the base currency.
type PaymentEvent struct {
	Unit             string   `json:"unit"`
	Asset            string   `json:"asset"`
	ReceivingAddress string   `json:"receiving_address"`
	Amount           int64    `json:"amount"`
	AuthorAddresses  []string `json:"author_addresses"`
	OwnAuthored      bool     `json:"own_authored"` // authored by one of our own addresses
}

// Event is a single notification from the node.
type Event struct {
	Type    string        `json:"type"`
	Device  string        `json:"device,omitempty"`
	Text    string        `json:"text,omitempty"`
	Payment *PaymentEvent `json:"payment,omitempty"`
	Units   []string      `json:"units,omitempty"` // payment_stable
}

// Client is the ledger capability consumed by the state machine.
type Client interface {
	// Broadcast composes, signs and broadcasts a unit carrying msgs,
	// paid for by from, and returns the unit id.
	Broadcast(ctx context.Context, from string, msgs []Message) (string, error)

	// SendPayment sends a base-currency payment and returns the unit id.
	SendPayment(ctx context.Context, req PaymentRequest) (string, error)

	// ReadBalance reads the balance of one of our addresses.
	ReadBalance(ctx context.Context, address string) (Balance, error)

	// IssueOrSelectAddress returns the wallet address at a fixed index,
	// issuing it if needed. Index 0 is the attestor, 1 the distribution
	// fund.
	IssueOrSelectAddress(ctx context.Context, index uint32) (string, error)

	// IssueNextAddress issues a fresh receiving address.
	IssueNextAddress(ctx context.Context) (string, error)

	// SendText delivers a chat message to a paired device.
	SendText(ctx context.Context, device, text string) error

	// TransferParents returns the base-currency transfer inputs of the
	// given units with the main chain index of each source unit.
	TransferParents(ctx context.Context, units []string) ([]TransferInput, error)

	// GetAttestation reads a posted attestation message back.
	GetAttestation(ctx context.Context, unit string) (AttestationInfo, error)

	// AddressesWithUnspent filters addrs down to those holding stable
	// unspent base-currency outputs.
	AddressesWithUnspent(ctx context.Context, addrs []string) ([]string, error)

	// IsCatchingUp reports whether the node is still syncing.
	IsCatchingUp(ctx context.Context) (bool, error)

	// Events delivers node events. The channel is closed on shutdown.
	Events() <-chan Event
}
