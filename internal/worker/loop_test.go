package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralnoy/lokutor-workers/internal/bus"
)

func runLoopUntil(t *testing.T, l *Loop, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = l.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatal("loop did not reach expected state in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-finished
}

func TestLoopPublishesResults(t *testing.T) {
	in := bus.NewMemoryQueue()
	out := bus.NewMemoryQueue()

	for i := 0; i < 3; i++ {
		require.NoError(t, in.Send(context.Background(), "", []byte(`{"id":"j1"}`)))
	}

	l := &Loop{
		Receiver: in,
		Sender:   out,
		Handler: func(_ context.Context, msg bus.Message) ([]byte, error) {
			var job struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(msg.Value, &job)
			return json.Marshal(map[string]string{"id": job.ID, "message": "SUCCESS"})
		},
		Config: Config{BatchSize: 2, FetchWait: 50 * time.Millisecond, MinSleep: 10 * time.Millisecond},
	}

	runLoopUntil(t, l, func() bool { return out.Len() == 3 })

	received, sent := l.Stats()
	assert.Equal(t, int64(3), received)
	assert.Equal(t, int64(3), sent)
}

func TestLoopPublishesHandlerFailureEnvelope(t *testing.T) {
	in := bus.NewMemoryQueue()
	out := bus.NewMemoryQueue()
	require.NoError(t, in.Send(context.Background(), "", []byte("not json")))

	l := &Loop{
		Receiver: in,
		Sender:   out,
		Handler: func(context.Context, bus.Message) ([]byte, error) {
			// Handlers own their failure envelopes.
			return []byte(`{"id":"unknown","message":"failed"}`), nil
		},
		Config: Config{BatchSize: 1, FetchWait: 50 * time.Millisecond, MinSleep: 10 * time.Millisecond},
	}

	runLoopUntil(t, l, func() bool { return out.Len() == 1 })

	batch, err := out.Fetch(context.Background(), 1, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Contains(t, string(batch[0].Value), `"failed"`)
}

func TestLoopDropsUnpublishableMessages(t *testing.T) {
	in := bus.NewMemoryQueue()
	out := bus.NewMemoryQueue()
	require.NoError(t, in.Send(context.Background(), "", []byte("poison")))
	require.NoError(t, in.Send(context.Background(), "", []byte("fine")))

	l := &Loop{
		Receiver: in,
		Sender:   out,
		Handler: func(_ context.Context, msg bus.Message) ([]byte, error) {
			if string(msg.Value) == "poison" {
				return nil, errors.New("nothing recoverable")
			}
			return []byte(`{"message":"SUCCESS"}`), nil
		},
		Config: Config{BatchSize: 5, FetchWait: 50 * time.Millisecond, MinSleep: 10 * time.Millisecond},
	}

	runLoopUntil(t, l, func() bool { return out.Len() == 1 })

	received, sent := l.Stats()
	assert.Equal(t, int64(2), received)
	assert.Equal(t, int64(1), sent)
}

func TestLoopSurvivesHandlerPanic(t *testing.T) {
	in := bus.NewMemoryQueue()
	out := bus.NewMemoryQueue()
	require.NoError(t, in.Send(context.Background(), "", []byte("boom")))
	require.NoError(t, in.Send(context.Background(), "", []byte("ok")))

	l := &Loop{
		Receiver: in,
		Sender:   out,
		Handler: func(_ context.Context, msg bus.Message) ([]byte, error) {
			if string(msg.Value) == "boom" {
				panic("handler exploded")
			}
			return []byte(`{"message":"SUCCESS"}`), nil
		},
		Config: Config{BatchSize: 1, FetchWait: 50 * time.Millisecond, MinSleep: 10 * time.Millisecond},
	}

	runLoopUntil(t, l, func() bool { return out.Len() == 1 })
}

func TestLoopHandlerTimeout(t *testing.T) {
	in := bus.NewMemoryQueue()
	out := bus.NewMemoryQueue()
	require.NoError(t, in.Send(context.Background(), "", []byte("slow")))

	handled := make(chan struct{})
	l := &Loop{
		Receiver: in,
		Sender:   out,
		Handler: func(ctx context.Context, _ bus.Message) ([]byte, error) {
			defer close(handled)
			<-ctx.Done()
			return nil, ctx.Err()
		},
		Config: Config{
			BatchSize:      1,
			FetchWait:      50 * time.Millisecond,
			HandlerTimeout: 50 * time.Millisecond,
			MinSleep:       10 * time.Millisecond,
		},
	}

	runLoopUntil(t, l, func() bool {
		select {
		case <-handled:
			return true
		default:
			return false
		}
	})
	assert.Equal(t, 0, out.Len())
}
