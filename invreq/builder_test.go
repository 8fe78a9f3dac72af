package invreq

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/carlakc/boltnd/offer"
	"github.com/carlakc/boltnd/signer"
)

func testOffer() *offer.Offer {
	nodeID := [32]byte{1, 2, 3}

	return &offer.Offer{
		Description: []byte("test offer"),
		NodeID:      &nodeID,
	}
}

func testPayerKey(t *testing.T) *btcec.PublicKey {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return priv.PubKey()
}

func noopSigner() *signer.Gateway {
	return signer.NewGateway(&signer.Config{
		Sign: func(string, string, [32]byte, []byte) ([64]byte, error) {
			return [64]byte{1}, nil
		},
		Shutdown: func(string, ...interface{}) {},
	})
}

// TestBuildAmountRules exercises the amount required/forbidden
// combinations.
func TestBuildAmountRules(t *testing.T) {
	t.Parallel()

	payerKey := testPayerKey(t)
	amount := uint64(1000)

	builder := NewBuilder(&Config{Signer: noopSigner()})

	// Offer has no amount, caller provides none: required.
	o := testOffer()
	_, err := builder.Build(o, &Params{PayerBaseKey: payerKey})
	require.ErrorIs(t, err, ErrAmountRequired)

	// Offer has no amount, caller provides one: accepted.
	req, err := builder.Build(o, &Params{
		Amount:       &amount,
		PayerBaseKey: payerKey,
	})
	require.NoError(t, err)
	require.Equal(t, amount, *req.Amount)
	require.Len(t, req.PayerInfo, 16)

	// Offer has an amount, caller provides none: offer's amount used.
	o.Amount = &amount
	req, err = builder.Build(o, &Params{PayerBaseKey: payerKey})
	require.NoError(t, err)
	require.Equal(t, amount, *req.Amount)

	// Offer has an amount, caller also provides one: forbidden.
	_, err = builder.Build(o, &Params{
		Amount:       &amount,
		PayerBaseKey: payerKey,
	})
	require.ErrorIs(t, err, ErrAmountForbidden)
}

// TestBuildQuantityRules exercises the quantity presence and range rules.
func TestBuildQuantityRules(t *testing.T) {
	t.Parallel()

	payerKey := testPayerKey(t)
	amount := uint64(100)
	min, max := uint64(2), uint64(5)

	o := testOffer()
	o.Amount = &amount
	o.QuantityMin = &min
	o.QuantityMax = &max

	builder := NewBuilder(&Config{Signer: noopSigner()})

	// No quantity provided: required.
	_, err := builder.Build(o, &Params{PayerBaseKey: payerKey})
	require.ErrorIs(t, err, ErrQuantityRequired)

	for _, tc := range []struct {
		quantity uint64
		wantErr  error
	}{
		{quantity: 1, wantErr: ErrQuantityOutOfRange},
		{quantity: 2, wantErr: nil},
		{quantity: 5, wantErr: nil},
		{quantity: 6, wantErr: ErrQuantityOutOfRange},
	} {
		q := tc.quantity

		_, err := builder.Build(o, &Params{
			PayerBaseKey: payerKey,
			Quantity:     &q,
		})
		if tc.wantErr != nil {
			require.ErrorIs(t, err, tc.wantErr)
		} else {
			require.NoError(t, err)
		}
	}

	// No quantity bound on the offer, caller still sends one: forbidden.
	unbounded := testOffer()
	unbounded.Amount = &amount
	q := uint64(3)
	_, err = builder.Build(unbounded, &Params{
		PayerBaseKey: payerKey,
		Quantity:     &q,
	})
	require.ErrorIs(t, err, ErrQuantityForbidden)
}

// TestBuildExpiredOffer checks that an offer past its absolute_expiry is
// rejected.
func TestBuildExpiredOffer(t *testing.T) {
	t.Parallel()

	payerKey := testPayerKey(t)
	amount := uint64(100)
	expiry := uint64(100)

	o := testOffer()
	o.Amount = &amount
	o.AbsoluteExpiry = &expiry

	builder := NewBuilder(&Config{
		Signer: noopSigner(),
		Clock:  clock.NewTestClock(time.Unix(200, 0)),
	})

	_, err := builder.Build(o, &Params{PayerBaseKey: payerKey})
	require.ErrorIs(t, err, ErrOfferExpired)
}

// TestBuildRecurrenceFollowUp exercises the prior-payment lookup and
// payer_info carry-over required for recurrence_counter > 0, as well as
// recurrence_signature production.
func TestBuildRecurrenceFollowUp(t *testing.T) {
	t.Parallel()

	payerKey := testPayerKey(t)
	amount := uint64(100)

	o := testOffer()
	o.Amount = &amount
	o.Recurrence = &offer.Recurrence{TimeUnit: 2, Period: 1}

	priorPayerInfo := [16]byte{9, 9, 9}

	builder := NewBuilder(&Config{
		Signer: noopSigner(),
		PriorPayments: func(label string, offerID [32]byte) ([]PriorPayment,
			error) {

			return []PriorPayment{
				{
					RecurrenceCounter: 0,
					PayerInfo:         priorPayerInfo,
					Status:            StatusComplete,
				},
			}, nil
		},
	})

	counter := uint32(1)
	req, err := builder.Build(o, &Params{
		PayerBaseKey:      payerKey,
		RecurrenceCounter: &counter,
		RecurrenceLabel:   "rent",
	})
	require.NoError(t, err)
	require.Equal(t, priorPayerInfo, req.PayerInfo)
	require.NotNil(t, req.RecurrenceSignature)

	// Counter 0 skips the prior-payment lookup entirely.
	zero := uint32(0)
	req, err = builder.Build(o, &Params{
		PayerBaseKey:      payerKey,
		RecurrenceCounter: &zero,
		RecurrenceLabel:   "rent",
	})
	require.NoError(t, err)
	require.Nil(t, req.RecurrenceSignature)
}

// TestBuildRecurrenceFollowUpNoPriorPayment checks that a counter > 0
// request fails when no prior payment exists for the label/offer.
func TestBuildRecurrenceFollowUpNoPriorPayment(t *testing.T) {
	t.Parallel()

	payerKey := testPayerKey(t)
	amount := uint64(100)

	o := testOffer()
	o.Amount = &amount
	o.Recurrence = &offer.Recurrence{TimeUnit: 2, Period: 1}

	builder := NewBuilder(&Config{
		Signer: noopSigner(),
		PriorPayments: func(string, [32]byte) ([]PriorPayment, error) {
			return nil, nil
		},
	})

	counter := uint32(1)
	_, err := builder.Build(o, &Params{
		PayerBaseKey:      payerKey,
		RecurrenceCounter: &counter,
		RecurrenceLabel:   "rent",
	})
	require.ErrorIs(t, err, ErrPriorPaymentNotFound)
}
