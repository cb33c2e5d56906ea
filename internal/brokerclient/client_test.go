package brokerclient

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralnoy/lokutor-workers/internal/broker"
)

// Both implementations must behave identically against the same broker core.
func TestClientImplementations(t *testing.T) {
	run := func(t *testing.T, newClient func(*broker.Broker) Client) {
		ctx := context.Background()
		b := broker.New(100, broker.Options{})
		c := newClient(b)

		res, err := c.Lock(ctx, "app", 60)
		require.NoError(t, err)
		require.True(t, res.Allowed)

		denied, err := c.Lock(ctx, "app", 60)
		require.NoError(t, err)
		require.False(t, denied.Allowed)
		assert.Equal(t, broker.ReasonRateLimit, denied.Reason)

		require.NoError(t, c.Commit(ctx, "app", res.RequestID, 30, 10))

		st, err := c.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, 40, st.UsedTokens)
		assert.Equal(t, 0, st.LockedTokens)

		// Release of an already-committed reservation is an error.
		assert.Error(t, c.Release(ctx, "app", res.RequestID))
	}

	t.Run("embedded", func(t *testing.T) {
		run(t, func(b *broker.Broker) Client { return &Embedded{Broker: b} })
	})

	t.Run("http", func(t *testing.T) {
		var srv *httptest.Server
		t.Cleanup(func() {
			if srv != nil {
				srv.Close()
			}
		})
		run(t, func(b *broker.Broker) Client {
			srv = httptest.NewServer(b.Handler())
			return NewHTTP(srv.URL)
		})
	})
}

func TestDenialError(t *testing.T) {
	admitted := broker.LockResult{Allowed: true, RequestID: "r1"}
	assert.NoError(t, DenialError("app", 10, admitted))

	rate := broker.LockResult{Allowed: false, Reason: broker.ReasonRateLimit, ResetSeconds: 12.5}
	err := DenialError("app", 10, rate)
	require.Error(t, err)
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 12.5, rl.ResetSeconds)
	assert.True(t, IsRateLimit(err))

	oversized := broker.LockResult{Allowed: false, Reason: broker.ReasonTokenLimit}
	err = DenialError("app", 99999, oversized)
	require.Error(t, err)
	var tl *RequestTooLargeError
	require.True(t, errors.As(err, &tl))
	assert.False(t, IsRateLimit(err))
}
