// Package bot implements the chat flow: pairing, collecting the address
// to attest (or the real-name profile), quoting the price and telling
// the user where their attestation stands.
package bot

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"attestation-core/internal/ledger"
	"attestation-core/internal/model"
	"attestation-core/internal/service"
	"attestation-core/internal/service/rates"
	"attestation-core/internal/texts"
	"attestation-core/internal/verifyinvestor"
	"attestation-core/pkg/config"
	"attestation-core/pkg/keylock"
	"attestation-core/pkg/logger"
	"attestation-core/pkg/obyte"
)

type Bot struct {
	db       *gorm.DB
	node     ledger.Client
	vi       *verifyinvestor.Client
	rates    *rates.Provider
	payments *service.PaymentService
	locks    *keylock.KeyedMutex
	fin      config.FinanceConfig
	rn       config.RealNameConfig
}

func New(db *gorm.DB, node ledger.Client, vi *verifyinvestor.Client, rp *rates.Provider,
	payments *service.PaymentService, locks *keylock.KeyedMutex, fin config.FinanceConfig, rn config.RealNameConfig) *Bot {
	return &Bot{
		db:       db,
		node:     node,
		vi:       vi,
		rates:    rp,
		payments: payments,
		locks:    locks,
		fin:      fin,
		rn:       rn,
	}
}

// Run consumes node events until the channel closes.
func (b *Bot) Run(ctx context.Context) {
	for ev := range b.node.Events() {
		switch ev.Type {
		case ledger.EventPaired:
			b.respond(ctx, ev.Device, "", texts.Greeting(b.fin))
		case ledger.EventText:
			b.respond(ctx, ev.Device, strings.TrimSpace(ev.Text), "")
		case ledger.EventPaymentReceived:
			if ev.Payment != nil {
				b.payments.HandlePayment(ctx, ev.Payment)
			}
		case ledger.EventPaymentStable:
			b.payments.HandleStable(ctx, ev.Units)
		default:
			logger.Debug("ignoring node event", zap.String("type", ev.Type))
		}
	}
	logger.Info("node event stream closed")
}

func (b *Bot) send(ctx context.Context, device, response, text string) {
	if response != "" {
		text = response + "\n\n" + text
	}
	if err := b.node.SendText(ctx, device, text); err != nil {
		logger.Error("send chat message failed", zap.String("device", device), zap.Error(err))
	}
}

// respond is the single entry point for chat input. response carries
// text accumulated by earlier steps (e.g. "saved your address") that is
// prepended to whatever the flow answers.
func (b *Bot) respond(ctx context.Context, device, text, response string) {
	user, err := b.readUserInfo(device)
	if err != nil {
		logger.Error("read user failed", zap.String("device", device), zap.Error(err))
		return
	}

	if reply := b.checkUserAddress(ctx, user, text, &response); reply != "" {
		b.send(ctx, device, response, reply)
		return
	}

	receivingAddress, err := b.readOrAssignReceivingAddress(ctx, device, *user.UserAddress)
	if err != nil {
		logger.Error("assign receiving address failed", zap.String("device", device), zap.Error(err))
		return
	}

	price, err := b.rates.PriceInBytes(b.fin.PriceUSD)
	if err != nil {
		b.send(ctx, device, response, texts.RateUnavailable())
		return
	}
	if err := service.UpdateQuote(b.db, receivingAddress, price); err != nil {
		logger.Error("update quote failed", zap.Error(err))
	}

	if text == "again" {
		b.send(ctx, device, response, texts.PleasePay(receivingAddress, price, *user.UserAddress))
		return
	}

	b.send(ctx, device, response, b.statusReply(receivingAddress, price, device, *user.UserAddress))
}

// statusReply renders where the latest transaction on this receiving
// address stands, or asks for payment if there is none.
func (b *Bot) statusReply(receivingAddress string, price int64, device, userAddress string) string {
	var row struct {
		model.Transaction
		AttestationDate *time.Time
	}
	err := b.db.Table("transactions").
		Select("transactions.*, attestation_units.attestation_date").
		Joins("LEFT JOIN attestation_units ON attestation_units.transaction_id = transactions.id").
		Where("transactions.receiving_address = ?", receivingAddress).
		Order("transactions.id DESC").
		Limit(1).
		Take(&row).Error
	if err == gorm.ErrRecordNotFound {
		return texts.PleasePay(receivingAddress, price, userAddress)
	}
	if err != nil {
		logger.Error("read latest transaction failed", zap.Error(err))
		return texts.PleasePay(receivingAddress, price, userAddress)
	}

	if !row.IsConfirmed {
		return texts.ReceivedYourPayment(row.ReceivedAmount)
	}

	switch row.VIStatus {
	case model.StatusInAuthentication:
		authURL := b.vi.AuthURL(service.Identifier(userAddress, device), service.LoadProfileParams(b.db, userAddress, b.rn))
		return texts.ClickInvestorLink(authURL)
	case model.StatusInVerification:
		return texts.WaitingWhileVerificationRequestFinished()
	case model.StatusNotAccredited:
		return texts.PreviousAttestationFailed()
	}

	if row.AttestationDate == nil {
		return texts.InAttestation()
	}
	return texts.AlreadyAttested(*row.AttestationDate)
}

// checkUserAddress handles address or profile submission. Returns a
// non-empty reply when the flow cannot continue (no usable address yet).
func (b *Bot) checkUserAddress(ctx context.Context, user *model.User, text string, response *string) string {
	if obyte.IsValidAddress(text) {
		if b.rn.Required {
			return texts.RequireInsertProfileData()
		}
		if err := b.saveUserAddress(user, text, response); err != nil {
			logger.Error("save user address failed", zap.Error(err))
			return "Failed to save your address, please try again."
		}
		return ""
	}

	if blob, ok := ExtractProfileBlob(text); ok {
		if !b.rn.Required {
			return texts.RequireInsertAddress()
		}
		return b.acceptProfile(ctx, user, blob, response)
	}

	if user.UserAddress == nil {
		return texts.InsertMyAddress(b.rn)
	}
	return ""
}

func (b *Bot) acceptProfile(ctx context.Context, user *model.User, blob string, response *string) string {
	profile, err := ParseProfileBlob(blob)
	if err != nil {
		return "Invalid private profile"
	}

	address, attestorAddress, err := ValidateProfile(ctx, b.node, profile)
	if err != nil {
		return "Failed to parse the private profile: " + err.Error()
	}

	trusted := false
	for _, a := range b.rn.Attestors {
		if a == attestorAddress {
			trusted = true
			break
		}
	}
	if !trusted {
		return texts.WrongRealNameAttestorAddress(attestorAddress, b.rn.Attestors)
	}

	if missing := profile.MissingFields(b.rn.RequiredFields); len(missing) > 0 {
		return texts.MissingProfileFields(missing)
	}

	src, err := json.Marshal(profile.SrcProfile)
	if err != nil {
		return "Invalid private profile"
	}
	saved := model.PrivateProfile{
		Address:         address,
		AttestorAddress: attestorAddress,
		SrcProfile:      src,
	}
	if err := b.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&saved).Error; err != nil {
		logger.Error("save private profile failed", zap.Error(err))
		return "Failed to save your profile, please try again."
	}

	if err := b.saveUserAddress(user, address, response); err != nil {
		logger.Error("save user address failed", zap.Error(err))
		return "Failed to save your address, please try again."
	}
	return ""
}

func (b *Bot) saveUserAddress(user *model.User, address string, response *string) error {
	err := b.db.Model(&model.User{}).
		Where("device_address = ?", user.DeviceAddress).
		Update("user_address", address).Error
	if err != nil {
		return err
	}
	user.UserAddress = &address
	if *response != "" {
		*response += "\n\n"
	}
	*response += texts.GoingToAttestAddress(address, b.rn.Required)
	return nil
}

// readUserInfo loads the user for a device, creating the row on first
// contact.
func (b *Bot) readUserInfo(device string) (*model.User, error) {
	var user model.User
	err := b.db.Where("device_address = ?", device).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		user = model.User{DeviceAddress: device}
		if err := b.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// readOrAssignReceivingAddress returns the dedicated payment address for
// this (device, user address) pair, issuing one on first use. Locked per
// device so a double-tap cannot issue two addresses.
func (b *Bot) readOrAssignReceivingAddress(ctx context.Context, device, userAddress string) (string, error) {
	unlock := b.locks.Lock("device-" + device)
	defer unlock()

	var ra model.ReceivingAddress
	err := b.db.Where("device_address = ? AND user_address = ?", device, userAddress).First(&ra).Error
	if err == nil {
		return ra.ReceivingAddress, nil
	}
	if err != gorm.ErrRecordNotFound {
		return "", err
	}

	addr, err := b.node.IssueNextAddress(ctx)
	if err != nil {
		return "", err
	}

	price, _ := b.rates.PriceInBytes(b.fin.PriceUSD)
	ra = model.ReceivingAddress{
		ReceivingAddress: addr,
		DeviceAddress:    device,
		UserAddress:      userAddress,
		Price:            price,
		LastPriceDate:    time.Now(),
	}
	if err := b.db.Create(&ra).Error; err != nil {
		return "", err
	}
	logger.Info("issued receiving address",
		zap.String("device", device), zap.String("user_address", userAddress), zap.String("receiving_address", addr))
	return addr, nil
}
