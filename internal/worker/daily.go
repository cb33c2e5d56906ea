package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/neuralnoy/lokutor-workers/internal/bus"
	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

const markerKind = "log_upload_marker"

type marker struct {
	Kind string `json:"kind"`
	Day  string `json:"day"`
}

// DailyTask schedules one side-task (log upload) per UTC day at a target
// time. The loop enqueues a marker onto a command queue once per day; the
// task runs only when a marker is received after the target time has passed.
// Attempts cap at MaxAttempts per day; the last successful day is remembered
// in the state store so restarts do not repeat the upload.
type DailyTask struct {
	TargetTime  string // "HH:MM:SS", UTC
	Upload      func(ctx context.Context) error
	Commands    bus.Receiver // command queue, marker in
	Markers     bus.Sender   // command queue, marker out
	State       bus.StateStore
	StateKey    string
	MaxAttempts int // default 20

	Now func() time.Time // tests override

	markerSentDay string
	attemptsDay   string
	attempts      int
}

// Tick is called once per worker-loop iteration. It never blocks on the
// upload's behalf for longer than one short command-queue poll, and upload
// failures are isolated from the main loop.
func (d *DailyTask) Tick(ctx context.Context) {
	log := observability.LoggerWithTrace(ctx)

	now := time.Now().UTC()
	if d.Now != nil {
		now = d.Now().UTC()
	}
	target, err := time.Parse("15:04:05", d.TargetTime)
	if err != nil {
		log.Error().Err(err).Str("target_time", d.TargetTime).Msg("invalid daily task target time")
		return
	}
	targetToday := time.Date(now.Year(), now.Month(), now.Day(), target.Hour(), target.Minute(), target.Second(), 0, time.UTC)
	if now.Before(targetToday) {
		return
	}

	today := now.Format("2006-01-02")
	if d.attemptsDay != today {
		d.attemptsDay = today
		d.attempts = 0
	}

	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 20
	}
	if d.attempts >= maxAttempts {
		return
	}

	lastDay, err := d.State.Get(ctx, d.StateKey)
	if err != nil {
		log.Warn().Err(err).Msg("read last upload day")
		return
	}
	if lastDay == today {
		return
	}

	if d.markerSentDay != today {
		body, _ := json.Marshal(marker{Kind: markerKind, Day: today})
		if err := d.Markers.Send(ctx, today, body); err != nil {
			log.Warn().Err(err).Msg("enqueue upload marker")
			return
		}
		d.markerSentDay = today
	}

	msgs, err := d.Commands.Fetch(ctx, 1, 100*time.Millisecond)
	if err != nil {
		log.Warn().Err(err).Msg("poll command queue")
		return
	}
	for _, m := range msgs {
		if err := d.Commands.Ack(ctx, m); err != nil {
			log.Warn().Err(err).Msg("ack marker")
		}
		var mk marker
		if err := json.Unmarshal(m.Value, &mk); err != nil || mk.Kind != markerKind {
			continue
		}

		d.attempts++
		if err := d.Upload(ctx); err != nil {
			log.Error().Err(err).Int("attempt", d.attempts).Int("max_attempts", maxAttempts).Msg("log upload failed")
			if d.attempts < maxAttempts {
				// Re-arm so a later tick enqueues a fresh marker.
				d.markerSentDay = ""
			}
			continue
		}

		if err := d.State.Set(ctx, d.StateKey, today, 48*time.Hour); err != nil {
			log.Warn().Err(err).Msg("record last upload day")
		}
		log.Info().Str("day", today).Int("attempt", d.attempts).Msg("daily log upload complete")
		return
	}
}
