package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"attestation-core/internal/ledger"
	"attestation-core/pkg/errno"
)

func TestFindReferrerPicksHighestMainChainIndex(t *testing.T) {
	db := newTestDB(t)
	node := newFakeNode()
	svc := NewReferralService(db, node, testAttestor, 10)

	seedAttestedReferrer(t, db, node, "DEVICEA", "REFERRERAADDRESS", "PAYA", "ATTA", 400)
	seedAttestedReferrer(t, db, node, "DEVICEB", "REFERRERBADDRESS", "PAYB", "ATTB", 401)

	// both referrers funded the chain; B's money entered it later
	node.parents["PAYNEW"] = []ledger.TransferInput{
		{Address: "REFERRERAADDRESS", SrcUnit: "SRCA", MainChainIndex: 100},
		{Address: "REFERRERBADDRESS", SrcUnit: "SRCB", MainChainIndex: 200},
	}

	ref, err := svc.FindReferrer(context.Background(), "PAYNEW")
	require.NoError(t, err)
	require.NotNil(t, ref)
	require.Equal(t, "REFERRERBADDRESS", ref.UserAddress)
	require.Equal(t, "DEVICEB", ref.DeviceAddress)
	require.EqualValues(t, 401, ref.VIUserID)
}

func TestFindReferrerWalksMultipleHops(t *testing.T) {
	db := newTestDB(t)
	node := newFakeNode()
	svc := NewReferralService(db, node, testAttestor, 10)

	seedAttestedReferrer(t, db, node, "DEVICEA", "REFERRERAADDRESS", "PAYA", "ATTA", 400)

	// the attested ancestor sits two transfers behind the payment
	node.parents["PAYNEW"] = []ledger.TransferInput{
		{Address: "MIDDLEMANADDRESS", SrcUnit: "MID1", MainChainIndex: 50},
	}
	node.parents["MID1"] = []ledger.TransferInput{
		{Address: "REFERRERAADDRESS", SrcUnit: "SRCA", MainChainIndex: 40},
	}

	ref, err := svc.FindReferrer(context.Background(), "PAYNEW")
	require.NoError(t, err)
	require.NotNil(t, ref)
	require.Equal(t, "REFERRERAADDRESS", ref.UserAddress)
}

func TestFindReferrerRespectsDepthLimit(t *testing.T) {
	db := newTestDB(t)
	node := newFakeNode()
	svc := NewReferralService(db, node, testAttestor, 1)

	seedAttestedReferrer(t, db, node, "DEVICEA", "REFERRERAADDRESS", "PAYA", "ATTA", 400)
	node.parents["PAYNEW"] = []ledger.TransferInput{
		{Address: "MIDDLEMANADDRESS", SrcUnit: "MID1", MainChainIndex: 50},
	}
	node.parents["MID1"] = []ledger.TransferInput{
		{Address: "REFERRERAADDRESS", SrcUnit: "SRCA", MainChainIndex: 40},
	}

	ref, err := svc.FindReferrer(context.Background(), "PAYNEW")
	require.NoError(t, err)
	require.Nil(t, ref)
}

func TestFindReferrerNoAttestedAncestor(t *testing.T) {
	db := newTestDB(t)
	node := newFakeNode()
	svc := NewReferralService(db, node, testAttestor, 10)

	node.parents["PAYNEW"] = []ledger.TransferInput{
		{Address: "RANDOMADDRESS", SrcUnit: "SRC1", MainChainIndex: 10},
	}

	ref, err := svc.FindReferrer(context.Background(), "PAYNEW")
	require.NoError(t, err)
	require.Nil(t, ref)
}

func TestFindReferrerIgnoresSelfPayment(t *testing.T) {
	db := newTestDB(t)
	node := newFakeNode()
	svc := NewReferralService(db, node, testAttestor, 10)

	// change from the user's own payment must not make them their own referrer
	seedAttestedReferrer(t, db, node, "DEVICE1", "USER1ADDRESS", "PAYNEW", "ATT1", 500)
	node.parents["PAYNEW"] = []ledger.TransferInput{
		{Address: "USER1ADDRESS", SrcUnit: "SRC1", MainChainIndex: 10},
	}

	ref, err := svc.FindReferrer(context.Background(), "PAYNEW")
	require.NoError(t, err)
	require.Nil(t, ref)
}

func TestFindReferrerDetectsCorruptRecords(t *testing.T) {
	db := newTestDB(t)
	node := newFakeNode()
	svc := NewReferralService(db, node, testAttestor, 10)

	seedAttestedReferrer(t, db, node, "DEVICEA", "REFERRERAADDRESS", "PAYA", "ATTA", 400)
	// ledger says the attestation is for somebody else
	payload, _ := json.Marshal(map[string]string{"address": "SOMEBODYELSE"})
	node.mu.Lock()
	node.attestations["ATTA"] = ledger.AttestationInfo{
		App:             "attestation",
		AttestorAddress: testAttestor,
		Payload:         payload,
	}
	node.mu.Unlock()

	node.parents["PAYNEW"] = []ledger.TransferInput{
		{Address: "REFERRERAADDRESS", SrcUnit: "SRCA", MainChainIndex: 100},
	}

	_, err := svc.FindReferrer(context.Background(), "PAYNEW")
	require.ErrorIs(t, err, errno.ErrReferralCorrupt)
}

func TestFindReferrerDetectsForeignAttestor(t *testing.T) {
	db := newTestDB(t)
	node := newFakeNode()
	svc := NewReferralService(db, node, testAttestor, 10)

	seedAttestedReferrer(t, db, node, "DEVICEA", "REFERRERAADDRESS", "PAYA", "ATTA", 400)
	node.setAttestation("ATTA", "REFERRERAADDRESS", "SOMEOTHERATTESTOR")

	node.parents["PAYNEW"] = []ledger.TransferInput{
		{Address: "REFERRERAADDRESS", SrcUnit: "SRCA", MainChainIndex: 100},
	}

	_, err := svc.FindReferrer(context.Background(), "PAYNEW")
	require.ErrorIs(t, err, errno.ErrReferralCorrupt)
}
