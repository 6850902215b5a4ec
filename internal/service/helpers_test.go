package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"attestation-core/internal/ledger"
	"attestation-core/internal/model"
	"attestation-core/internal/service/rates"
	"attestation-core/pkg/monitor"
)

func init() {
	monitor.InitBusinessMetrics()
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// one connection: sqlite's shared cache does not take concurrent
	// writers the way postgres does
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	return db
}

// newTestRates returns a provider pinned at the given USD/GB rate.
func newTestRates(usdPerGB int64) *rates.Provider {
	p := rates.NewProvider("", nil)
	p.Set(decimal.NewFromInt(usdPerGB))
	return p
}

type sentText struct {
	Device string
	Text   string
}

// fakeNode is an in-memory ledger.Client.
type fakeNode struct {
	mu sync.Mutex

	texts      []sentText
	payments   []ledger.PaymentRequest
	broadcasts [][]ledger.Message

	broadcastErr error
	paymentErr   error

	unitSeq      int
	parents      map[string][]ledger.TransferInput
	attestations map[string]ledger.AttestationInfo
	unspent      map[string]bool
	catchingUp   bool
	events       chan ledger.Event
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		parents:      make(map[string][]ledger.TransferInput),
		attestations: make(map[string]ledger.AttestationInfo),
		unspent:      make(map[string]bool),
		events:       make(chan ledger.Event, 16),
	}
}

func (f *fakeNode) nextUnit(prefix string) string {
	f.unitSeq++
	return fmt.Sprintf("%s%d", prefix, f.unitSeq)
}

func (f *fakeNode) Broadcast(ctx context.Context, from string, msgs []ledger.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broadcastErr != nil {
		return "", f.broadcastErr
	}
	f.broadcasts = append(f.broadcasts, msgs)
	return f.nextUnit("ATTUNIT"), nil
}

func (f *fakeNode) SendPayment(ctx context.Context, req ledger.PaymentRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paymentErr != nil {
		return "", f.paymentErr
	}
	f.payments = append(f.payments, req)
	return f.nextUnit("PAYUNIT"), nil
}

func (f *fakeNode) ReadBalance(ctx context.Context, address string) (ledger.Balance, error) {
	return ledger.Balance{Stable: 1000000}, nil
}

func (f *fakeNode) IssueOrSelectAddress(ctx context.Context, index uint32) (string, error) {
	return fmt.Sprintf("FIXEDADDR%d", index), nil
}

func (f *fakeNode) IssueNextAddress(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextUnit("RCVADDR"), nil
}

func (f *fakeNode) SendText(ctx context.Context, device, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sentText{Device: device, Text: text})
	return nil
}

func (f *fakeNode) TransferParents(ctx context.Context, units []string) ([]ledger.TransferInput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledger.TransferInput
	for _, u := range units {
		out = append(out, f.parents[u]...)
	}
	return out, nil
}

func (f *fakeNode) GetAttestation(ctx context.Context, unit string) (ledger.AttestationInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.attestations[unit]
	if !ok {
		return ledger.AttestationInfo{}, errors.New("no such attestation: " + unit)
	}
	return info, nil
}

func (f *fakeNode) AddressesWithUnspent(ctx context.Context, addrs []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, a := range addrs {
		if f.unspent[a] {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeNode) IsCatchingUp(ctx context.Context) (bool, error) {
	return f.catchingUp, nil
}

func (f *fakeNode) Events() <-chan ledger.Event {
	return f.events
}

// setAttestation registers a well-formed attestation unit on the fake
// ledger.
func (f *fakeNode) setAttestation(unit, userAddress, attestor string) {
	payload, _ := json.Marshal(map[string]string{"address": userAddress})
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attestations[unit] = ledger.AttestationInfo{
		App:             "attestation",
		AttestorAddress: attestor,
		Payload:         payload,
	}
}

func (f *fakeNode) sentTexts() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentText, len(f.texts))
	copy(out, f.texts)
	return out
}

// fakeNotifier records operator alerts.
type fakeNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (n *fakeNotifier) NotifyAdmin(subject, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, subject)
}

func (n *fakeNotifier) subjects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.alerts))
	copy(out, n.alerts)
	return out
}

// seedTx creates a user, receiving address and transaction in the given
// lifecycle state and returns the transaction.
func seedTx(t *testing.T, db *gorm.DB, device, userAddress, paymentUnit, status string) *model.Transaction {
	t.Helper()
	require.NoError(t, db.Save(&model.User{DeviceAddress: device, UserAddress: &userAddress}).Error)

	ra := model.ReceivingAddress{
		ReceivingAddress: "RCV_" + paymentUnit,
		DeviceAddress:    device,
		UserAddress:      userAddress,
		Price:            1000000000,
		LastPriceDate:    time.Now(),
	}
	require.NoError(t, db.Create(&ra).Error)

	confirmed := status != model.StatusPendingConfirmation
	tx := model.Transaction{
		ReceivingAddress: ra.ReceivingAddress,
		Price:            ra.Price,
		ReceivedAmount:   ra.Price,
		PaymentUnit:      paymentUnit,
		IsConfirmed:      confirmed,
		VIStatus:         status,
	}
	if confirmed {
		now := time.Now()
		tx.ConfirmationDate = &now
	}
	require.NoError(t, db.Create(&tx).Error)
	return &tx
}
