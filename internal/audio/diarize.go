package audio

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

// Diarizer combines per-channel segments into one overlap-resolved,
// merge-consolidated speaker timeline.
type Diarizer struct {
	// MergeThreshold is the max gap in seconds between same-speaker
	// segments that still merge (default 1.0).
	MergeThreshold float64
	// MinSegmentDuration drops shorter segments (default 0.5).
	MinSegmentDuration float64
}

func (d *Diarizer) thresholds() (merge, minDur float64) {
	merge = d.MergeThreshold
	if merge == 0 {
		merge = 1.0
	}
	minDur = d.MinSegmentDuration
	if minDur == 0 {
		minDur = 0.5
	}
	return merge, minDur
}

type overlapWindow struct {
	start, end float64
	speakerA   string
	speakerB   string
}

func (w overlapWindow) duration() float64 { return w.end - w.start }

// Diarize flattens the channel outputs, resolves cross-speaker overlaps by
// dominance, and merges consecutive same-speaker segments.
func (d *Diarizer) Diarize(ctx context.Context, channels []ChannelSegments) []SpeakerSegment {
	mergeThreshold, minDur := d.thresholds()
	log := observability.LoggerWithTrace(ctx)

	var all []SpeakerSegment
	speakers := map[string]bool{}
	for _, ch := range channels {
		for _, s := range ch.Segments {
			if s.Duration() < minDur || strings.TrimSpace(s.Text) == "" {
				continue
			}
			all = append(all, s)
			speakers[s.SpeakerID] = true
		}
	}
	if len(all) == 0 {
		return nil
	}

	sort.Slice(all, func(a, b int) bool { return all[a].StartSec < all[b].StartSec })

	// With a single speaker there is no cross-speaker overlap to resolve.
	if len(speakers) > 1 {
		windows := detectOverlaps(all)
		if len(windows) > 0 {
			all = cleanupOverlaps(all, windows)
			log.Info().Int("overlaps", len(windows)).Int("remaining", len(all)).Msg("overlap cleanup complete")
		}
	}

	merged := mergeConsecutive(all, mergeThreshold)
	final := cleanupSegments(merged, minDur)
	log.Info().
		Int("input_segments", len(all)).
		Int("final_segments", len(final)).
		Msg("diarization complete")
	return final
}

// detectOverlaps finds cross-speaker overlap windows in a start-sorted list.
func detectOverlaps(sorted []SpeakerSegment) []overlapWindow {
	var windows []overlapWindow
	for i := range sorted {
		cur := sorted[i]
		for j := i + 1; j < len(sorted); j++ {
			next := sorted[j]
			if next.StartSec >= cur.EndSec {
				break
			}
			if cur.SpeakerID == next.SpeakerID {
				continue
			}
			start := math.Max(cur.StartSec, next.StartSec)
			end := math.Min(cur.EndSec, next.EndSec)
			if end > start {
				windows = append(windows, overlapWindow{
					start: start, end: end,
					speakerA: cur.SpeakerID, speakerB: next.SpeakerID,
				})
			}
		}
	}
	return windows
}

// cleanupOverlaps removes non-dominant segments that are substantially
// inside an overlap window.
func cleanupOverlaps(sorted []SpeakerSegment, windows []overlapWindow) []SpeakerSegment {
	remove := map[int]bool{}

	for _, w := range windows {
		type participant struct {
			idx int
			seg SpeakerSegment
		}
		var participants []participant
		for i, seg := range sorted {
			if seg.StartSec < w.end && seg.EndSec > w.start &&
				(seg.SpeakerID == w.speakerA || seg.SpeakerID == w.speakerB) {
				participants = append(participants, participant{i, seg})
			}
		}
		if len(participants) < 2 {
			continue
		}

		segs := make([]SpeakerSegment, 0, len(participants))
		for _, p := range participants {
			segs = append(segs, p.seg)
		}
		dominant := dominantSpeaker(w, segs)

		for _, p := range participants {
			if p.seg.SpeakerID == dominant {
				continue
			}
			segOverlap := math.Min(p.seg.EndSec, w.end) - math.Max(p.seg.StartSec, w.start)
			total := p.seg.Duration()
			share := 0.0
			if total > 0 {
				share = segOverlap / total
			}
			fullyInside := p.seg.StartSec >= w.start && p.seg.EndSec <= w.end
			if share >= 0.5 || fullyInside {
				remove[p.idx] = true
			}
		}
	}

	out := make([]SpeakerSegment, 0, len(sorted))
	for i, seg := range sorted {
		if !remove[i] {
			out = append(out, seg)
		}
	}
	return out
}

// dominantSpeaker scores each participating segment by duration coverage
// (70%) and text density (30%), then picks the speaker with the highest
// average score across its segments in this window.
func dominantSpeaker(w overlapWindow, participants []SpeakerSegment) string {
	scores := map[string][]float64{}

	for _, seg := range participants {
		segOverlap := math.Min(seg.EndSec, w.end) - math.Max(seg.StartSec, w.start)
		if segOverlap <= 0 || w.duration() <= 0 {
			continue
		}
		durationScore := segOverlap / w.duration()

		textScore := 0.1
		segDur := seg.Duration()
		words := len(strings.Fields(seg.Text))
		if segDur > 0 && words > 0 {
			estWords := math.Max(1, math.Round(float64(words)*segOverlap/segDur))
			density := estWords / segOverlap
			textScore = math.Min(1.0, density/3.0)
		}

		score := durationScore*0.7 + textScore*0.3
		scores[seg.SpeakerID] = append(scores[seg.SpeakerID], score)
	}

	best, bestAvg := w.speakerA, -1.0
	// Deterministic iteration keeps repeated runs stable when scores tie.
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		list := scores[id]
		sum := 0.0
		for _, s := range list {
			sum += s
		}
		avg := sum / float64(len(list))
		if avg > bestAvg {
			bestAvg = avg
			best = id
		}
	}
	return best
}

// mergeConsecutive joins same-speaker segments whose gap is within the
// threshold: text concatenates with a space, the end extends, confidences
// average.
func mergeConsecutive(sorted []SpeakerSegment, threshold float64) []SpeakerSegment {
	if len(sorted) == 0 {
		return nil
	}
	out := make([]SpeakerSegment, 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		if cur.SpeakerID == next.SpeakerID && next.StartSec-cur.EndSec <= threshold {
			cur = SpeakerSegment{
				StartSec:   cur.StartSec,
				EndSec:     next.EndSec,
				SpeakerID:  cur.SpeakerID,
				Text:       strings.TrimSpace(cur.Text + " " + next.Text),
				Confidence: (cur.Confidence + next.Confidence) / 2,
			}
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}

// cleanupSegments normalizes whitespace and drops anything that fell below
// the validity bar during merging.
func cleanupSegments(segments []SpeakerSegment, minDur float64) []SpeakerSegment {
	out := make([]SpeakerSegment, 0, len(segments))
	for _, seg := range segments {
		text := strings.Join(strings.Fields(seg.Text), " ")
		if seg.EndSec <= seg.StartSec || seg.Duration() < minDur || text == "" {
			continue
		}
		seg.Text = text
		out = append(out, seg)
	}
	return out
}
