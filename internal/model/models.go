package model

import (
	"time"
)

// Verification lifecycle states. Status only moves forward except the
// explicit in_verification -> in_authentication reset when the provider
// loses track of the request.
const (
	StatusPendingConfirmation = "pending_confirmation"
	StatusInAuthentication    = "in_authentication"
	StatusInVerification      = "in_verification"
	StatusAccredited          = "accredited"
	StatusNotAccredited       = "not_accredited"
)

// User is created on first contact from a device. UserAddress is bound
// when the user submits an address (or a real-name profile) and reset to
// NULL when a payment arrives from somewhere else.
type User struct {
	DeviceAddress string    `gorm:"primaryKey;type:varchar(33)" json:"device_address"`
	UserAddress   *string   `gorm:"type:varchar(32)" json:"user_address"`
	CreatedAt     time.Time `json:"created_at"`
}

// PrivateProfile stores the real-name profile a user revealed to us,
// keyed by the attested address. SrcProfile is the raw profile JSON.
type PrivateProfile struct {
	Address         string    `gorm:"primaryKey;type:varchar(32)" json:"address"`
	AttestorAddress string    `gorm:"type:varchar(32);not null" json:"attestor_address"`
	SrcProfile      []byte    `gorm:"type:text;not null" json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// ReceivingAddress is the dedicated payment address for one
// (device, user address) pair, together with the currently quoted price.
type ReceivingAddress struct {
	ReceivingAddress string    `gorm:"primaryKey;type:varchar(32)" json:"receiving_address"`
	DeviceAddress    string    `gorm:"type:varchar(33);not null;uniqueIndex:idx_device_user" json:"device_address"`
	UserAddress      string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_device_user" json:"user_address"`
	Price            int64     `gorm:"not null" json:"price"`
	LastPriceDate    time.Time `gorm:"not null" json:"last_price_date"`
	CreatedAt        time.Time `json:"created_at"`
}

// Transaction is one observed, validated payment and its progress through
// the lifecycle. Rows are never deleted; only status and date fields move.
type Transaction struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ReceivingAddress string     `gorm:"type:varchar(32);not null;index" json:"receiving_address"`
	Price            int64      `gorm:"not null" json:"price"`
	ReceivedAmount   int64      `gorm:"not null" json:"received_amount"`
	PaymentUnit      string     `gorm:"type:varchar(44);not null;uniqueIndex" json:"payment_unit"`
	IsConfirmed      bool       `gorm:"not null;default:false" json:"is_confirmed"`
	ConfirmationDate *time.Time `json:"confirmation_date"`
	VIStatus         string     `gorm:"type:varchar(32);not null;default:'pending_confirmation';index" json:"vi_status"`
	VIUserID         *int64     `json:"vi_user_id"`
	VIRequestID      *int64     `json:"vi_vr_id"`
	VIRequestStatus  *string    `gorm:"type:varchar(64)" json:"vi_vr_status"`
	ResultDate       *time.Time `json:"result_date"`
	CreatedAt        time.Time  `json:"created_at"`
}

// AttestationUnit records the published attestation for a transaction.
// The row is created empty when the transaction turns accredited and the
// unit is filled exactly once.
type AttestationUnit struct {
	TransactionID   int64      `gorm:"primaryKey" json:"transaction_id"`
	AttestationUnit *string    `gorm:"type:varchar(44)" json:"attestation_unit"`
	AttestationDate *time.Time `json:"attestation_date"`
	CreatedAt       time.Time  `json:"created_at"`
}

// RewardUnit is the one-per-user first-time attestation bonus. The
// unique indexes double as the conflict keys for insert-ignore: a user
// who attests twice never gets a second bonus row.
type RewardUnit struct {
	TransactionID int64      `gorm:"primaryKey" json:"transaction_id"`
	UserAddress   string     `gorm:"type:varchar(32);not null;uniqueIndex" json:"user_address"`
	VIUserID      int64      `gorm:"not null;uniqueIndex" json:"vi_user_id"`
	Reward        int64      `gorm:"not null" json:"reward"`
	RewardUnit    *string    `gorm:"type:varchar(44)" json:"reward_unit"`
	RewardDate    *time.Time `json:"reward_date"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ReferralRewardUnit is the bonus for the attested user who referred a
// newly attested one. Uniqueness is keyed on the new user, not the
// referrer: a referrer may earn many rewards, a new user is only ever
// referred once.
type ReferralRewardUnit struct {
	TransactionID  int64      `gorm:"primaryKey" json:"transaction_id"`
	UserAddress    string     `gorm:"type:varchar(32);not null" json:"user_address"`
	VIUserID       int64      `gorm:"not null" json:"vi_user_id"`
	NewUserAddress string     `gorm:"type:varchar(32);not null;uniqueIndex" json:"new_user_address"`
	NewVIUserID    int64      `gorm:"not null;uniqueIndex" json:"new_vi_user_id"`
	Reward         int64      `gorm:"not null" json:"reward"`
	RewardUnit     *string    `gorm:"type:varchar(44)" json:"reward_unit"`
	RewardDate     *time.Time `json:"reward_date"`
	CreatedAt      time.Time  `json:"created_at"`
}

// RejectedPayment is an append-only log of payments that failed
// validation. DelaySec is the quote age at the time of payment.
type RejectedPayment struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ReceivingAddress string    `gorm:"type:varchar(32);not null" json:"receiving_address"`
	Price            int64     `gorm:"not null" json:"price"`
	ReceivedAmount   int64     `gorm:"not null" json:"received_amount"`
	DelaySec         int64     `gorm:"not null" json:"delay"`
	PaymentUnit      string    `gorm:"type:varchar(44);not null;uniqueIndex" json:"payment_unit"`
	Error            string    `gorm:"type:text;not null" json:"error"`
	CreatedAt        time.Time `json:"created_at"`
}

func (User) TableName() string               { return "users" }
func (PrivateProfile) TableName() string     { return "private_profiles" }
func (ReceivingAddress) TableName() string   { return "receiving_addresses" }
func (Transaction) TableName() string        { return "transactions" }
func (AttestationUnit) TableName() string    { return "attestation_units" }
func (RewardUnit) TableName() string         { return "reward_units" }
func (ReferralRewardUnit) TableName() string { return "referral_reward_units" }
func (RejectedPayment) TableName() string    { return "rejected_payments" }
