package bot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"attestation-core/internal/ledger"
	"attestation-core/internal/model"
	"attestation-core/internal/service"
	"attestation-core/internal/service/rates"
	"attestation-core/internal/verifyinvestor"
	"attestation-core/pkg/config"
	"attestation-core/pkg/keylock"
	"attestation-core/pkg/monitor"

	"github.com/shopspring/decimal"
)

func init() {
	monitor.InitBusinessMetrics()
}

const (
	userAddr     = "I2ADHGP4HL6J37NQAD73J7E5SKFIXJOT"
	attestorAddr = "OHVQ2R5B6TUR5U7WJNYLP3FIOSR7VCED"
	device       = "0TESTDEVICEADDRESS"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	return db
}

type sentText struct {
	Device string
	Text   string
}

// botNode is an in-memory ledger.Client for chat flow tests.
type botNode struct {
	mu           sync.Mutex
	texts        []sentText
	attestations map[string]ledger.AttestationInfo
	addrSeq      int
	events       chan ledger.Event
}

func newBotNode() *botNode {
	return &botNode{
		attestations: make(map[string]ledger.AttestationInfo),
		events:       make(chan ledger.Event, 16),
	}
}

func (n *botNode) Broadcast(ctx context.Context, from string, msgs []ledger.Message) (string, error) {
	return "", errors.New("not supported")
}

func (n *botNode) SendPayment(ctx context.Context, req ledger.PaymentRequest) (string, error) {
	return "", errors.New("not supported")
}

func (n *botNode) ReadBalance(ctx context.Context, address string) (ledger.Balance, error) {
	return ledger.Balance{}, nil
}

func (n *botNode) IssueOrSelectAddress(ctx context.Context, index uint32) (string, error) {
	return fmt.Sprintf("FIXEDADDR%d", index), nil
}

func (n *botNode) IssueNextAddress(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.addrSeq++
	return fmt.Sprintf("RCVADDR%d", n.addrSeq), nil
}

func (n *botNode) SendText(ctx context.Context, device, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, sentText{Device: device, Text: text})
	return nil
}

func (n *botNode) TransferParents(ctx context.Context, units []string) ([]ledger.TransferInput, error) {
	return nil, nil
}

func (n *botNode) GetAttestation(ctx context.Context, unit string) (ledger.AttestationInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	info, ok := n.attestations[unit]
	if !ok {
		return ledger.AttestationInfo{}, errors.New("no such attestation: " + unit)
	}
	return info, nil
}

func (n *botNode) AddressesWithUnspent(ctx context.Context, addrs []string) ([]string, error) {
	return nil, nil
}

func (n *botNode) IsCatchingUp(ctx context.Context) (bool, error) { return false, nil }

func (n *botNode) Events() <-chan ledger.Event { return n.events }

func (n *botNode) sentTexts() []sentText {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]sentText, len(n.texts))
	copy(out, n.texts)
	return out
}

func (n *botNode) lastText(t *testing.T) sentText {
	t.Helper()
	texts := n.sentTexts()
	require.NotEmpty(t, texts)
	return texts[len(texts)-1]
}

func newBotFixture(t *testing.T, rn config.RealNameConfig) (*Bot, *gorm.DB, *botNode) {
	t.Helper()
	db := newTestDB(t)
	node := newBotNode()
	locks := keylock.New()
	rp := rates.NewProvider("", nil)
	rp.Set(decimal.NewFromInt(20)) // 20 USD/GB, so 20 USD = 1 GB
	fin := config.FinanceConfig{
		PriceUSD:          20,
		RewardUSD:         20,
		ReferralRewardUSD: 5,
		PriceTimeoutSec:   86400,
		MaxReferralDepth:  10,
	}
	vi := verifyinvestor.NewClient("http://provider.test", "api-token", "auth-token")
	notifier := noopNotifier{}
	payments := service.NewPaymentService(db, node, rp, vi, notifier, locks, fin, rn)
	return New(db, node, vi, rp, payments, locks, fin, rn), db, node
}

type noopNotifier struct{}

func (noopNotifier) NotifyAdmin(subject, body string) {}

func TestFirstContactAsksForAddress(t *testing.T) {
	b, db, node := newBotFixture(t, config.RealNameConfig{})

	b.respond(context.Background(), device, "hello", "")

	// the user row is created on first contact
	var user model.User
	require.NoError(t, db.Take(&user, "device_address = ?", device).Error)
	require.Nil(t, user.UserAddress)
	require.Contains(t, node.lastText(t).Text, "send me your address")
}

func TestValidAddressGetsPaymentLink(t *testing.T) {
	b, db, node := newBotFixture(t, config.RealNameConfig{})

	b.respond(context.Background(), device, userAddr, "")

	var user model.User
	require.NoError(t, db.Take(&user, "device_address = ?", device).Error)
	require.NotNil(t, user.UserAddress)
	require.Equal(t, userAddr, *user.UserAddress)

	var ra model.ReceivingAddress
	require.NoError(t, db.Take(&ra, "device_address = ?", device).Error)
	require.Equal(t, "RCVADDR1", ra.ReceivingAddress)
	require.Equal(t, int64(1000000000), ra.Price)

	reply := node.lastText(t).Text
	require.Contains(t, reply, "Going to attest your address: "+userAddr)
	require.Contains(t, reply, "byteball:RCVADDR1?amount=1000000000")
}

func TestSameUserKeepsSameReceivingAddress(t *testing.T) {
	b, db, node := newBotFixture(t, config.RealNameConfig{})

	b.respond(context.Background(), device, userAddr, "")
	b.respond(context.Background(), device, "hello again", "")

	var n int64
	require.NoError(t, db.Model(&model.ReceivingAddress{}).Count(&n).Error)
	require.EqualValues(t, 1, n)
	require.Contains(t, node.lastText(t).Text, "byteball:RCVADDR1")
}

func TestAgainResendsPaymentLink(t *testing.T) {
	b, db, node := newBotFixture(t, config.RealNameConfig{})
	b.respond(context.Background(), device, userAddr, "")

	// even an already-attested user can pay for a fresh attestation
	seedConfirmedTx(t, db, "RCVADDR1", "PAY1", model.StatusAccredited)
	b.respond(context.Background(), device, "again", "")

	require.Contains(t, node.lastText(t).Text, "byteball:RCVADDR1?amount=1000000000")
}

func seedConfirmedTx(t *testing.T, db *gorm.DB, receivingAddress, paymentUnit, status string) *model.Transaction {
	t.Helper()
	tx := model.Transaction{
		ReceivingAddress: receivingAddress,
		Price:            1000000000,
		ReceivedAmount:   1000000000,
		PaymentUnit:      paymentUnit,
		IsConfirmed:      true,
		VIStatus:         status,
	}
	require.NoError(t, db.Create(&tx).Error)
	return &tx
}

func TestStatusReplyPerState(t *testing.T) {
	cases := []struct {
		status string
		want   string
	}{
		{model.StatusInAuthentication, "http://provider.test/authorization/auth-token"},
		{model.StatusInVerification, "complete verification request"},
		{model.StatusNotAccredited, "previous attestation failed"},
		{model.StatusAccredited, "You are in attestation"},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			b, db, node := newBotFixture(t, config.RealNameConfig{})
			b.respond(context.Background(), device, userAddr, "")
			seedConfirmedTx(t, db, "RCVADDR1", "PAY1", tc.status)

			b.respond(context.Background(), device, "status", "")
			require.Contains(t, node.lastText(t).Text, tc.want)
		})
	}
}

func TestStatusReplyUnconfirmedPayment(t *testing.T) {
	b, db, node := newBotFixture(t, config.RealNameConfig{})
	b.respond(context.Background(), device, userAddr, "")

	tx := model.Transaction{
		ReceivingAddress: "RCVADDR1",
		Price:            1000000000,
		ReceivedAmount:   1000000000,
		PaymentUnit:      "PAY1",
		VIStatus:         model.StatusPendingConfirmation,
	}
	require.NoError(t, db.Create(&tx).Error)

	b.respond(context.Background(), device, "status", "")
	require.Contains(t, node.lastText(t).Text, "waiting for confirmation")
}

func TestStatusReplyAlreadyAttested(t *testing.T) {
	b, db, node := newBotFixture(t, config.RealNameConfig{})
	b.respond(context.Background(), device, userAddr, "")

	tx := seedConfirmedTx(t, db, "RCVADDR1", "PAY1", model.StatusAccredited)
	unit := "ATTUNIT1"
	now := tx.CreatedAt
	require.NoError(t, db.Create(&model.AttestationUnit{
		TransactionID:   tx.ID,
		AttestationUnit: &unit,
		AttestationDate: &now,
	}).Error)

	b.respond(context.Background(), device, "status", "")
	require.Contains(t, node.lastText(t).Text, "You were already attested")
}

func TestRateUnavailable(t *testing.T) {
	b, _, node := newBotFixture(t, config.RealNameConfig{})
	b.rates = rates.NewProvider("", nil) // no rate yet

	b.respond(context.Background(), device, userAddr, "")
	require.Contains(t, node.lastText(t).Text, "exchange rate")
}

func TestReceivingAddressAssignedOncePerDevice(t *testing.T) {
	b, db, _ := newBotFixture(t, config.RealNameConfig{})

	var wg sync.WaitGroup
	addrs := make([]string, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr, err := b.readOrAssignReceivingAddress(context.Background(), device, userAddr)
			require.NoError(t, err)
			addrs[i] = addr
		}(i)
	}
	wg.Wait()

	var n int64
	require.NoError(t, db.Model(&model.ReceivingAddress{}).Count(&n).Error)
	require.EqualValues(t, 1, n)
	for _, addr := range addrs {
		require.Equal(t, addrs[0], addr)
	}
}

func TestRunGreetsOnPairing(t *testing.T) {
	b, _, node := newBotFixture(t, config.RealNameConfig{})

	node.events <- ledger.Event{Type: ledger.EventPaired, Device: device}
	close(node.events)
	b.Run(context.Background())

	require.Contains(t, node.lastText(t).Text, "attest your addresses as investor")
}

// profileBlob builds the chat message a wallet sends when revealing a
// private profile attested by the given attestor.
func profileBlob(t *testing.T, node *botNode, unit, address, attestor string, fields map[string]interface{}) string {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{"address": address})
	require.NoError(t, err)
	node.attestations[unit] = ledger.AttestationInfo{
		App:             "attestation",
		AttestorAddress: attestor,
		Payload:         payload,
	}

	raw, err := json.Marshal(map[string]interface{}{
		"unit":        unit,
		"src_profile": fields,
	})
	require.NoError(t, err)
	return fmt.Sprintf("(profile:%s)", base64.StdEncoding.EncodeToString(raw))
}

func TestProfileRequiredRejectsBareAddress(t *testing.T) {
	rn := config.RealNameConfig{
		Required:       true,
		Attestors:      []string{attestorAddr},
		RequiredFields: []string{"first_name", "last_name"},
	}
	b, _, node := newBotFixture(t, rn)

	b.respond(context.Background(), device, userAddr, "")
	require.Contains(t, node.lastText(t).Text, "just an address is not enough")
}

func TestProfileFromUntrustedAttestor(t *testing.T) {
	rn := config.RealNameConfig{
		Required:       true,
		Attestors:      []string{attestorAddr},
		RequiredFields: []string{"first_name", "last_name"},
	}
	b, _, node := newBotFixture(t, rn)

	blob := profileBlob(t, node, "PROFUNIT1", userAddr, "UNKNOWNATTESTORADDRESS", map[string]interface{}{
		"first_name": []interface{}{"Jane", "blind1"},
		"last_name":  []interface{}{"Doe", "blind2"},
	})
	b.respond(context.Background(), device, blob, "")
	require.Contains(t, node.lastText(t).Text, "We don't recognize the attestor")
}

func TestProfileMissingFields(t *testing.T) {
	rn := config.RealNameConfig{
		Required:       true,
		Attestors:      []string{attestorAddr},
		RequiredFields: []string{"first_name", "last_name"},
	}
	b, _, node := newBotFixture(t, rn)

	blob := profileBlob(t, node, "PROFUNIT1", userAddr, attestorAddr, map[string]interface{}{
		"first_name": []interface{}{"Jane", "blind1"},
	})
	b.respond(context.Background(), device, blob, "")
	require.Contains(t, node.lastText(t).Text, "fields are missing in your profile: last_name")
}

func TestProfileAccepted(t *testing.T) {
	rn := config.RealNameConfig{
		Required:       true,
		Attestors:      []string{attestorAddr},
		RequiredFields: []string{"first_name", "last_name"},
	}
	b, db, node := newBotFixture(t, rn)

	blob := profileBlob(t, node, "PROFUNIT1", userAddr, attestorAddr, map[string]interface{}{
		"first_name": []interface{}{"Jane", "blind1"},
		"last_name":  []interface{}{"Doe", "blind2"},
	})
	b.respond(context.Background(), device, blob, "")

	var profile model.PrivateProfile
	require.NoError(t, db.Take(&profile, "address = ?", userAddr).Error)
	require.Equal(t, attestorAddr, profile.AttestorAddress)

	var user model.User
	require.NoError(t, db.Take(&user, "device_address = ?", device).Error)
	require.NotNil(t, user.UserAddress)
	require.Equal(t, userAddr, *user.UserAddress)

	reply := node.lastText(t).Text
	require.Contains(t, reply, "Saved your personal data")
	require.Contains(t, reply, "byteball:RCVADDR1")
}

func TestProfileNotRequiredRejectsProfile(t *testing.T) {
	b, _, node := newBotFixture(t, config.RealNameConfig{})

	blob := profileBlob(t, node, "PROFUNIT1", userAddr, attestorAddr, map[string]interface{}{
		"first_name": []interface{}{"Jane", "blind1"},
	})
	b.respond(context.Background(), device, blob, "")
	require.Contains(t, node.lastText(t).Text, "Private profile is not required")
}
