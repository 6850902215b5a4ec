package model

// AllModels returns every model that needs a table. New tables are added
// here only; main stays untouched.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&PrivateProfile{},
		&ReceivingAddress{},
		&Transaction{},
		&AttestationUnit{},
		&RewardUnit{},
		&ReferralRewardUnit{},
		&RejectedPayment{},
		&OutboxMessage{},
	}
}
