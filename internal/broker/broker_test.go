package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move the broker's window deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBroker(limit int) (*Broker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(limit, Options{Now: clk.now}), clk
}

func TestLockCommitAccounting(t *testing.T) {
	b, _ := newTestBroker(100)

	res := b.Lock("app", 60)
	require.True(t, res.Allowed)
	require.NotEmpty(t, res.RequestID)

	st := b.Status()
	assert.Equal(t, 60, st.LockedTokens)
	assert.Equal(t, 0, st.UsedTokens)
	assert.Equal(t, 40, st.AvailableTokens)

	// Actual usage, not the estimate, is charged on commit.
	require.True(t, b.Commit("app", res.RequestID, 30, 10))
	st = b.Status()
	assert.Equal(t, 0, st.LockedTokens)
	assert.Equal(t, 40, st.UsedTokens)
	assert.Equal(t, 60, st.AvailableTokens)
}

func TestLockDenialReasons(t *testing.T) {
	b, _ := newTestBroker(100)

	// An estimate that can never fit in a window is a token limit denial.
	res := b.Lock("app", 101)
	require.False(t, res.Allowed)
	assert.Equal(t, ReasonTokenLimit, res.Reason)

	// Fill the window, then deny with the retryable reason.
	first := b.Lock("app", 60)
	require.True(t, first.Allowed)
	second := b.Lock("app", 60)
	require.False(t, second.Allowed)
	assert.Equal(t, ReasonRateLimit, second.Reason)
	assert.GreaterOrEqual(t, second.ResetSeconds, 0.0)
	assert.LessOrEqual(t, second.ResetSeconds, 60.0)
}

func TestReleaseReturnsTokens(t *testing.T) {
	b, _ := newTestBroker(100)

	res := b.Lock("app", 80)
	require.True(t, res.Allowed)
	require.True(t, b.Release("app", res.RequestID))

	st := b.Status()
	assert.Equal(t, 0, st.LockedTokens)
	assert.Equal(t, 100, st.AvailableTokens)

	// Double release must be a no-op.
	assert.False(t, b.Release("app", res.RequestID))
}

func TestCommitRequiresMatchingApp(t *testing.T) {
	b, _ := newTestBroker(100)

	res := b.Lock("app_a", 10)
	require.True(t, res.Allowed)
	assert.False(t, b.Commit("app_b", res.RequestID, 5, 5))

	// The reservation stays intact for the rightful owner.
	assert.True(t, b.Commit("app_a", res.RequestID, 5, 5))
}

func TestCommitUnknownReservation(t *testing.T) {
	b, _ := newTestBroker(100)
	assert.False(t, b.Commit("app", "no-such-id", 1, 1))
	st := b.Status()
	assert.Equal(t, 0, st.UsedTokens)
	assert.Equal(t, 0, st.LockedTokens)
}

func TestWindowReset(t *testing.T) {
	b, clk := newTestBroker(100)

	res := b.Lock("app", 100)
	require.True(t, res.Allowed)
	require.True(t, b.Commit("app", res.RequestID, 50, 50))

	denied := b.Lock("app", 1)
	require.False(t, denied.Allowed)
	assert.Equal(t, ReasonRateLimit, denied.Reason)

	clk.advance(61 * time.Second)

	// Usage resets with the window; admission succeeds again.
	res = b.Lock("app", 100)
	assert.True(t, res.Allowed)
}

func TestLockedReservationsSurviveReset(t *testing.T) {
	b, clk := newTestBroker(100)

	held := b.Lock("app", 70)
	require.True(t, held.Allowed)

	clk.advance(61 * time.Second)

	// The held reservation still counts against the fresh window.
	st := b.Status()
	assert.Equal(t, 70, st.LockedTokens)
	assert.Equal(t, 0, st.UsedTokens)

	denied := b.Lock("app", 50)
	assert.False(t, denied.Allowed)

	require.True(t, b.Release("app", held.RequestID))
	allowed := b.Lock("app", 50)
	assert.True(t, allowed.Allowed)
}

func TestSweepReclaimsOrphans(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := New(100, Options{Now: clk.now, ReservationTTL: 5 * time.Minute})

	orphan := b.Lock("app", 40)
	require.True(t, orphan.Allowed)

	clk.advance(4 * time.Minute)
	assert.Equal(t, 0, b.sweepOnce())

	clk.advance(2 * time.Minute)
	assert.Equal(t, 1, b.sweepOnce())

	st := b.Status()
	assert.Equal(t, 0, st.LockedTokens)

	// Committing a swept reservation is signalled but harmless.
	assert.False(t, b.Commit("app", orphan.RequestID, 10, 10))
	assert.Equal(t, 0, b.Status().UsedTokens)
}

func TestConcurrentAdmissionNeverOversubscribes(t *testing.T) {
	b, _ := newTestBroker(1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := b.Lock("app", 100)
			if res.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, admitted)
	st := b.Status()
	assert.Equal(t, 1000, st.LockedTokens)
	assert.Equal(t, 0, st.AvailableTokens)
}

func TestQuiescenceInvariant(t *testing.T) {
	b, _ := newTestBroker(10000)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := b.Lock("app", 50)
			if !res.Allowed {
				return
			}
			if i%2 == 0 {
				b.Commit("app", res.RequestID, 25, 10)
			} else {
				b.Release("app", res.RequestID)
			}
		}(i)
	}
	wg.Wait()

	st := b.Status()
	assert.Equal(t, 0, st.LockedTokens)
	assert.GreaterOrEqual(t, st.UsedTokens, 0)
}
