package pending

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) Key {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return KeyFromPubkey(priv.PubKey())
}

// TestInsertLookupRemove exercises the basic insert/lookup/remove
// lifecycle, including the duplicate-blinding-key rejection.
func TestInsertLookupRemove(t *testing.T) {
	t.Parallel()

	table := NewTable(&Config{
		Timeout:      time.Hour,
		TickInterval: time.Hour,
	})

	blinding := testKey(t)
	req := &Request{ID: uuid.New(), Blinding: blinding}

	err := table.Insert(req)
	require.NoError(t, err)

	got, ok := table.Lookup(blinding)
	require.True(t, ok)
	require.Equal(t, req.ID, got.ID)

	// Inserting again under the same blinding key fails.
	err = table.Insert(&Request{ID: uuid.New(), Blinding: blinding})
	require.ErrorIs(t, err, ErrDuplicateBlinding)

	table.Remove(blinding)

	_, ok = table.Lookup(blinding)
	require.False(t, ok)

	// Removing again is a no-op, not an error.
	table.Remove(blinding)
}

// TestCancel checks that a request can be cancelled by its caller-facing
// handle.
func TestCancel(t *testing.T) {
	t.Parallel()

	table := NewTable(&Config{
		Timeout:      time.Hour,
		TickInterval: time.Hour,
	})

	blinding := testKey(t)
	id := uuid.New()

	err := table.Insert(&Request{ID: id, Blinding: blinding})
	require.NoError(t, err)

	err = table.Cancel(id)
	require.NoError(t, err)

	_, ok := table.Lookup(blinding)
	require.False(t, ok)

	err = table.Cancel(id)
	require.ErrorIs(t, err, ErrNotFound)
}

// TestReapOnTimeout checks that the reaper goroutine removes an expired
// request and invokes OnTimeout for it. Expiry is driven by advancing an
// injected test clock rather than waiting on a real timeout to elapse: the
// reaper's tick cadence is real-time (and kept short so the test converges
// quickly), but whether an entry counts as expired is judged entirely
// against the clock we control.
func TestReapOnTimeout(t *testing.T) {
	t.Parallel()

	timedOut := make(chan *Request, 1)

	testClock := clock.NewTestClock(time.Unix(0, 0))

	table := NewTable(&Config{
		Timeout:      time.Hour,
		TickInterval: time.Millisecond,
		Clock:        testClock,
		OnTimeout: func(req *Request) {
			timedOut <- req
		},
	})

	require.NoError(t, table.Start())
	defer table.Stop()

	blinding := testKey(t)
	id := uuid.New()

	err := table.Insert(&Request{ID: id, Blinding: blinding})
	require.NoError(t, err)

	// Jump the clock well past the timeout; the next tick will see the
	// entry as expired regardless of how much real time has elapsed.
	testClock.SetTime(time.Unix(0, 0).Add(2 * time.Hour))

	select {
	case req := <-timedOut:
		require.Equal(t, id, req.ID)
	case <-time.After(time.Second):
		t.Fatal("expected request to be reaped")
	}

	_, ok := table.Lookup(blinding)
	require.False(t, ok)
}
