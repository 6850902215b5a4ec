package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"attestation-core/internal/event"
	"attestation-core/internal/ledger"
	"attestation-core/internal/model"
	"attestation-core/pkg/config"
	"attestation-core/pkg/keylock"
)

const (
	testAttestor     = "ATTESTORADDRESS"
	testDistribution = "DISTRIBUTIONADDRESS"
)

func newAttestationFixture(t *testing.T, fin config.FinanceConfig) (*AttestationService, *gorm.DB, *fakeNode, *fakeNotifier) {
	t.Helper()
	db := newTestDB(t)
	node := newFakeNode()
	notifier := &fakeNotifier{}
	locks := keylock.New()
	rp := newTestRates(20)

	referral := NewReferralService(db, node, testAttestor, fin.MaxReferralDepth)
	rewards := NewRewardService(db, node, notifier, locks)
	rewards.SetDistributionAddress(testDistribution)

	svc := NewAttestationService(db, node, rp, referral, rewards, notifier, locks, fin)
	svc.SetAttestorAddress(testAttestor)
	return svc, db, node, notifier
}

func seedAccredited(t *testing.T, db *gorm.DB, device, userAddress, paymentUnit string, viUserID int64) *model.Transaction {
	t.Helper()
	tx := seedTx(t, db, device, userAddress, paymentUnit, model.StatusAccredited)
	require.NoError(t, db.Model(&model.Transaction{}).Where("id = ?", tx.ID).
		Update("vi_user_id", viUserID).Error)
	return tx
}

func TestEnrolAccredited(t *testing.T) {
	svc, db, node, notifier := newAttestationFixture(t, testFinance())
	tx := seedAccredited(t, db, "DEVICE1", "USER1ADDRESS", "PAY1", 500)

	svc.EnrolAccredited(context.Background(), tx.ID)

	var slot model.AttestationUnit
	require.NoError(t, db.Take(&slot, "transaction_id = ?", tx.ID).Error)
	require.NotNil(t, slot.AttestationUnit)
	require.NotNil(t, slot.AttestationDate)

	require.Len(t, node.broadcasts, 1)
	msg := node.broadcasts[0][0]
	require.Equal(t, "attestation", msg.App)
	require.Equal(t, "inline", msg.PayloadLocation)
	require.NotEmpty(t, msg.PayloadHash)
	payload := msg.Payload.(map[string]interface{})
	require.Equal(t, "USER1ADDRESS", payload["address"])

	// 20 USD at 20 USD/GB: a 1 GB first-time bonus, paid out immediately
	var reward model.RewardUnit
	require.NoError(t, db.Take(&reward, "transaction_id = ?", tx.ID).Error)
	require.Equal(t, int64(1000000000), reward.Reward)
	require.NotNil(t, reward.RewardUnit)
	require.NotNil(t, reward.RewardDate)

	require.Len(t, node.payments, 1)
	require.Equal(t, "USER1ADDRESS", node.payments[0].ToAddress)
	require.Equal(t, []string{testDistribution}, node.payments[0].PayingAddresses)

	require.EqualValues(t, 1, countOutbox(t, db, event.TopicLifecycle))
	require.EqualValues(t, 1, countOutbox(t, db, event.TopicRewards))
	require.Empty(t, notifier.subjects())

	// attested, bonus announced, reward sent
	require.Len(t, node.sentTexts(), 3)
	require.Contains(t, node.sentTexts()[0].Text, "explorer.obyte.org")
	require.Contains(t, node.sentTexts()[1].Text, "welcome bonus")
}

func TestEnrolAccreditedIsIdempotent(t *testing.T) {
	svc, db, node, _ := newAttestationFixture(t, testFinance())
	tx := seedAccredited(t, db, "DEVICE1", "USER1ADDRESS", "PAY1", 500)

	svc.EnrolAccredited(context.Background(), tx.ID)
	svc.EnrolAccredited(context.Background(), tx.ID)

	var slots, rewardRows int64
	require.NoError(t, db.Model(&model.AttestationUnit{}).Count(&slots).Error)
	require.NoError(t, db.Model(&model.RewardUnit{}).Count(&rewardRows).Error)
	require.EqualValues(t, 1, slots)
	require.EqualValues(t, 1, rewardRows)
	require.Len(t, node.broadcasts, 1)
	require.Len(t, node.payments, 1)
}

func TestEnrolSkipsNonAccredited(t *testing.T) {
	svc, db, node, _ := newAttestationFixture(t, testFinance())
	tx := seedTx(t, db, "DEVICE1", "USER1ADDRESS", "PAY1", model.StatusInVerification)

	svc.EnrolAccredited(context.Background(), tx.ID)

	var slots int64
	require.NoError(t, db.Model(&model.AttestationUnit{}).Count(&slots).Error)
	require.Zero(t, slots)
	require.Empty(t, node.broadcasts)
}

func TestPostAttestationFailureRepairedBySweep(t *testing.T) {
	svc, db, node, notifier := newAttestationFixture(t, testFinance())
	tx := seedAccredited(t, db, "DEVICE1", "USER1ADDRESS", "PAY1", 500)

	node.broadcastErr = errors.New("not enough funds")
	svc.EnrolAccredited(context.Background(), tx.ID)

	var slot model.AttestationUnit
	require.NoError(t, db.Take(&slot, "transaction_id = ?", tx.ID).Error)
	require.Nil(t, slot.AttestationUnit)
	require.Contains(t, notifier.subjects(), "attestation failed")

	node.mu.Lock()
	node.broadcastErr = nil
	node.mu.Unlock()

	svc.SweepAttestations(context.Background())

	require.NoError(t, db.Take(&slot, "transaction_id = ?", tx.ID).Error)
	require.NotNil(t, slot.AttestationUnit)
	require.Len(t, node.broadcasts, 1)
	require.EqualValues(t, 1, countOutbox(t, db, event.TopicLifecycle))
}

func TestPostAttestationConcurrentCallersWriteOneUnit(t *testing.T) {
	svc, db, node, _ := newAttestationFixture(t, testFinance())
	tx := seedAccredited(t, db, "DEVICE1", "USER1ADDRESS", "PAY1", 500)
	require.NoError(t, db.Create(&model.AttestationUnit{TransactionID: tx.ID}).Error)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.PostAttestation(context.Background(), tx.ID)
		}()
	}
	wg.Wait()

	require.Len(t, node.broadcasts, 1)
	var slot model.AttestationUnit
	require.NoError(t, db.Take(&slot, "transaction_id = ?", tx.ID).Error)
	require.NotNil(t, slot.AttestationUnit)
	require.EqualValues(t, 1, countOutbox(t, db, event.TopicLifecycle))
}

func TestPostAttestationWithTimestampFeed(t *testing.T) {
	fin := testFinance()
	fin.PostTimestamp = true
	svc, db, node, _ := newAttestationFixture(t, fin)
	tx := seedAccredited(t, db, "DEVICE1", "USER1ADDRESS", "PAY1", 500)

	svc.EnrolAccredited(context.Background(), tx.ID)

	require.Len(t, node.broadcasts, 1)
	msgs := node.broadcasts[0]
	require.Len(t, msgs, 2)
	require.Equal(t, "attestation", msgs[0].App)
	require.Equal(t, "data_feed", msgs[1].App)
	feed := msgs[1].Payload.(map[string]interface{})
	require.Contains(t, feed, "timestamp")
}

func TestSecondAttestationNoSecondBonus(t *testing.T) {
	svc, db, node, _ := newAttestationFixture(t, testFinance())
	tx1 := seedAccredited(t, db, "DEVICE1", "USER1ADDRESS", "PAY1", 500)
	svc.EnrolAccredited(context.Background(), tx1.ID)

	// the same user pays and verifies again on a fresh receiving address
	tx2 := seedTx(t, db, "DEVICE1", "USER1ADDRESS", "PAY2", model.StatusAccredited)
	require.NoError(t, db.Model(&model.Transaction{}).Where("id = ?", tx2.ID).
		Update("vi_user_id", 500).Error)
	svc.EnrolAccredited(context.Background(), tx2.ID)

	// a second attestation is posted but the bonus stays one-per-user
	require.Len(t, node.broadcasts, 2)
	var rewardRows int64
	require.NoError(t, db.Model(&model.RewardUnit{}).Count(&rewardRows).Error)
	require.EqualValues(t, 1, rewardRows)
	require.Len(t, node.payments, 1)
}

func TestEnrolWithoutRateAlertsAndStillAttests(t *testing.T) {
	svc, db, node, notifier := newAttestationFixture(t, testFinance())
	svc.rates = newTestRates(0) // no rate known yet
	tx := seedAccredited(t, db, "DEVICE1", "USER1ADDRESS", "PAY1", 500)

	svc.EnrolAccredited(context.Background(), tx.ID)

	var slot model.AttestationUnit
	require.NoError(t, db.Take(&slot, "transaction_id = ?", tx.ID).Error)
	require.NotNil(t, slot.AttestationUnit)
	require.Contains(t, notifier.subjects(), "cannot price reward")

	var rewardRows int64
	require.NoError(t, db.Model(&model.RewardUnit{}).Count(&rewardRows).Error)
	require.Zero(t, rewardRows)
	require.Empty(t, node.payments)
}

// seedAttestedReferrer creates a user who already holds a published
// attestation and registers it on the fake ledger.
func seedAttestedReferrer(t *testing.T, db *gorm.DB, node *fakeNode, device, userAddress, paymentUnit, attestationUnit string, viUserID int64) {
	t.Helper()
	tx := seedAccredited(t, db, device, userAddress, paymentUnit, viUserID)
	now := time.Now()
	require.NoError(t, db.Create(&model.AttestationUnit{
		TransactionID:   tx.ID,
		AttestationUnit: &attestationUnit,
		AttestationDate: &now,
	}).Error)
	node.setAttestation(attestationUnit, userAddress, testAttestor)
}

func TestEnrolReferralReward(t *testing.T) {
	svc, db, node, notifier := newAttestationFixture(t, testFinance())
	seedAttestedReferrer(t, db, node, "DEVICEREF", "REFERRERADDRESS", "PAYREF", "ATTREF", 400)

	tx := seedAccredited(t, db, "DEVICE1", "USER1ADDRESS", "PAY1", 500)
	node.parents["PAY1"] = []ledger.TransferInput{
		{Address: "REFERRERADDRESS", SrcUnit: "SRCUNIT1", MainChainIndex: 120},
	}

	svc.EnrolAccredited(context.Background(), tx.ID)

	var referral model.ReferralRewardUnit
	require.NoError(t, db.Take(&referral, "transaction_id = ?", tx.ID).Error)
	require.Equal(t, "REFERRERADDRESS", referral.UserAddress)
	require.EqualValues(t, 400, referral.VIUserID)
	require.Equal(t, "USER1ADDRESS", referral.NewUserAddress)
	// 5 USD at 20 USD/GB
	require.Equal(t, int64(250000000), referral.Reward)
	require.NotNil(t, referral.RewardUnit)
	require.Empty(t, notifier.subjects())

	// direct bonus to the new user, referral bonus to the referrer
	require.Len(t, node.payments, 2)
	require.Equal(t, "REFERRERADDRESS", node.payments[1].ToAddress)
	require.Equal(t, "DEVICEREF", node.payments[1].RecipientDevice)
	require.EqualValues(t, 2, countOutbox(t, db, event.TopicRewards))
}
