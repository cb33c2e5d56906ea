package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

// repeatThreshold is how many consecutive repeats of a phrase count as a
// hallucination: more than this collapses to three copies plus an ellipsis.
const repeatThreshold = 3

// Turn is one entry of the conversation flow.
type Turn struct {
	TurnID          int     `json:"turn_id"`
	SpeakerID       string  `json:"speaker_id"`
	StartSec        float64 `json:"start_time"`
	EndSec          float64 `json:"end_time"`
	DurationSec     float64 `json:"duration"`
	Text            string  `json:"text"`
	Confidence      float64 `json:"confidence"`
	WordCount       int     `json:"word_count"`
	GapFromPrevious float64 `json:"gap_from_previous"`
	SpeakerChanged  bool    `json:"speaker_changed"`
}

// SpeakerStats summarizes one speaker's share of the conversation.
type SpeakerStats struct {
	SegmentCount       int     `json:"segment_count"`
	TotalSpeakingSec   float64 `json:"total_speaking_time"`
	TotalWords         int     `json:"total_words"`
	AvgConfidence      float64 `json:"avg_confidence"`
	LongestSegmentSec  float64 `json:"longest_segment"`
	ShortestSegmentSec float64 `json:"shortest_segment"`
	SpeakingPercentage float64 `json:"speaking_percentage"`
}

// TimingSummary covers the whole conversation's pacing.
type TimingSummary struct {
	TotalDurationSec  float64 `json:"total_duration"`
	TotalSpeakingSec  float64 `json:"total_speaking_time"`
	TotalSilenceSec   float64 `json:"total_silence_time"`
	SpeakingPct       float64 `json:"speaking_percentage"`
	SilencePct        float64 `json:"silence_percentage"`
	AverageGapSec     float64 `json:"average_gap"`
	MaxGapSec         float64 `json:"max_gap"`
	TotalGaps         int     `json:"total_gaps"`
	SpeakerChanges    int     `json:"speaker_changes"`
	SegmentsPerMinute float64 `json:"segments_per_minute"`
}

// FinalTranscript is the post-processor's assembled output; the alternative
// export formats all derive from this one representation.
type FinalTranscript struct {
	Text           string                  `json:"text"`
	Conversation   []Turn                  `json:"conversation_flow"`
	SpeakerSummary map[string]SpeakerStats `json:"speaker_summary"`
	Timing         TimingSummary           `json:"timing_summary"`
	Confidence     float64                 `json:"confidence"`
	Speakers       []string                `json:"speakers"`
}

// PostProcessor assembles final transcripts from diarized segments.
type PostProcessor struct{}

// Assemble condenses hallucinated repetition, folds consecutive same-speaker
// text into speaker-labeled lines, and computes the summary statistics.
func (p *PostProcessor) Assemble(ctx context.Context, segments []SpeakerSegment) FinalTranscript {
	log := observability.LoggerWithTrace(ctx)

	sorted := make([]SpeakerSegment, len(segments))
	copy(sorted, segments)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].StartSec < sorted[b].StartSec })

	for i := range sorted {
		sorted[i].Text = CondenseRepeats(sorted[i].Text)
	}

	out := FinalTranscript{
		Text:           consolidatedTranscript(sorted),
		Conversation:   conversationFlow(sorted),
		SpeakerSummary: speakerSummary(sorted),
		Timing:         timingSummary(sorted),
		Confidence:     overallConfidence(sorted),
		Speakers:       speakerList(sorted),
	}
	log.Info().
		Int("segments", len(sorted)).
		Int("turns", len(out.Conversation)).
		Float64("confidence", out.Confidence).
		Msg("final transcript assembled")
	return out
}

// CondenseRepeats collapses any phrase repeated consecutively more than
// three times into three copies followed by "...". Longer phrases are
// considered before shorter ones; the scan iterates until a full pass
// changes nothing, so the operation is idempotent.
func CondenseRepeats(text string) string {
	tokens := strings.Fields(text)
	for {
		next, changed := condensePass(tokens)
		if !changed {
			return strings.Join(next, " ")
		}
		tokens = next
	}
}

func condensePass(tokens []string) ([]string, bool) {
	n := len(tokens)
	out := make([]string, 0, n)
	changed := false

	for i := 0; i < n; {
		collapsed := false
		maxL := (n - i) / (repeatThreshold + 1)
		for l := maxL; l >= 1; l-- {
			reps := countRepeats(tokens, i, l)
			if reps <= repeatThreshold {
				continue
			}
			// Keep three copies; the ellipsis rides on the last token.
			kept := tokens[i : i+repeatThreshold*l]
			out = append(out, kept[:len(kept)-1]...)
			out = append(out, stripTrailingEllipsis(kept[len(kept)-1])+"...")
			i += reps * l
			collapsed = true
			changed = true
			break
		}
		if !collapsed {
			out = append(out, tokens[i])
			i++
		}
	}
	return out, changed
}

// countRepeats counts consecutive occurrences of the l-token phrase at
// position i (including the first).
func countRepeats(tokens []string, i, l int) int {
	reps := 1
	for {
		start := i + reps*l
		if start+l > len(tokens) {
			return reps
		}
		match := true
		for k := 0; k < l; k++ {
			if !strings.EqualFold(tokens[i+k], tokens[start+k]) {
				match = false
				break
			}
		}
		if !match {
			return reps
		}
		reps++
	}
}

func stripTrailingEllipsis(s string) string {
	return strings.TrimSuffix(s, "...")
}

// consolidatedTranscript emits one "Speaker_N: text" line per run of
// same-speaker segments, lines separated by newlines.
func consolidatedTranscript(sorted []SpeakerSegment) string {
	if len(sorted) == 0 {
		return ""
	}
	var lines []string
	currentSpeaker := ""
	var buffer []string
	flush := func() {
		if currentSpeaker != "" && len(buffer) > 0 {
			lines = append(lines, fmt.Sprintf("%s: %s", currentSpeaker, strings.Join(buffer, " ")))
		}
	}
	for _, seg := range sorted {
		if seg.SpeakerID != currentSpeaker {
			flush()
			currentSpeaker = seg.SpeakerID
			buffer = buffer[:0]
		}
		buffer = append(buffer, seg.Text)
	}
	flush()
	return strings.Join(lines, "\n")
}

func conversationFlow(sorted []SpeakerSegment) []Turn {
	turns := make([]Turn, 0, len(sorted))
	for i, seg := range sorted {
		t := Turn{
			TurnID:         i + 1,
			SpeakerID:      seg.SpeakerID,
			StartSec:       seg.StartSec,
			EndSec:         seg.EndSec,
			DurationSec:    seg.Duration(),
			Text:           seg.Text,
			Confidence:     seg.Confidence,
			WordCount:      len(strings.Fields(seg.Text)),
			SpeakerChanged: true,
		}
		if i > 0 {
			prev := sorted[i-1]
			t.GapFromPrevious = seg.StartSec - prev.EndSec
			t.SpeakerChanged = seg.SpeakerID != prev.SpeakerID
		}
		turns = append(turns, t)
	}
	return turns
}

func speakerSummary(sorted []SpeakerSegment) map[string]SpeakerStats {
	stats := map[string]SpeakerStats{}
	if len(sorted) == 0 {
		return stats
	}

	totalConversation := 0.0
	for _, seg := range sorted {
		if seg.EndSec > totalConversation {
			totalConversation = seg.EndSec
		}
	}

	confSums := map[string]float64{}
	for _, seg := range sorted {
		s := stats[seg.SpeakerID]
		dur := seg.Duration()
		s.SegmentCount++
		s.TotalSpeakingSec += dur
		s.TotalWords += len(strings.Fields(seg.Text))
		if dur > s.LongestSegmentSec {
			s.LongestSegmentSec = dur
		}
		if s.ShortestSegmentSec == 0 || dur < s.ShortestSegmentSec {
			s.ShortestSegmentSec = dur
		}
		confSums[seg.SpeakerID] += seg.Confidence
		stats[seg.SpeakerID] = s
	}

	for id, s := range stats {
		if s.SegmentCount > 0 {
			s.AvgConfidence = confSums[id] / float64(s.SegmentCount)
		}
		if totalConversation > 0 {
			s.SpeakingPercentage = s.TotalSpeakingSec / totalConversation * 100
		}
		stats[id] = s
	}
	return stats
}

func timingSummary(sorted []SpeakerSegment) TimingSummary {
	if len(sorted) == 0 {
		return TimingSummary{}
	}

	start := sorted[0].StartSec
	end := start
	speaking := 0.0
	for _, seg := range sorted {
		speaking += seg.Duration()
		if seg.EndSec > end {
			end = seg.EndSec
		}
	}
	total := end - start
	silence := total - speaking

	var gaps []float64
	changes := 0
	for i := 1; i < len(sorted); i++ {
		if gap := sorted[i].StartSec - sorted[i-1].EndSec; gap > 0 {
			gaps = append(gaps, gap)
		}
		if sorted[i].SpeakerID != sorted[i-1].SpeakerID {
			changes++
		}
	}

	ts := TimingSummary{
		TotalDurationSec: total,
		TotalSpeakingSec: speaking,
		TotalSilenceSec:  silence,
		TotalGaps:        len(gaps),
		SpeakerChanges:   changes,
	}
	if total > 0 {
		ts.SpeakingPct = speaking / total * 100
		ts.SilencePct = silence / total * 100
		ts.SegmentsPerMinute = float64(len(sorted)) / (total / 60)
	}
	for _, g := range gaps {
		ts.AverageGapSec += g
		if g > ts.MaxGapSec {
			ts.MaxGapSec = g
		}
	}
	if len(gaps) > 0 {
		ts.AverageGapSec /= float64(len(gaps))
	}
	return ts
}

// overallConfidence is duration-weighted so long confident stretches matter
// more than short noisy ones.
func overallConfidence(sorted []SpeakerSegment) float64 {
	weighted, total := 0.0, 0.0
	for _, seg := range sorted {
		dur := seg.Duration()
		weighted += seg.Confidence * dur
		total += dur
	}
	if total == 0 {
		return 0
	}
	conf := weighted / total
	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}

func speakerList(sorted []SpeakerSegment) []string {
	seen := map[string]bool{}
	var out []string
	for _, seg := range sorted {
		if !seen[seg.SpeakerID] {
			seen[seg.SpeakerID] = true
			out = append(out, seg.SpeakerID)
		}
	}
	sort.Strings(out)
	return out
}

// ExportJSON renders the transcript for API consumption.
func (t FinalTranscript) ExportJSON() (string, error) {
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal transcript: %w", err)
	}
	return string(b), nil
}

// ExportSRT renders a subtitle track, one cue per turn.
func (t FinalTranscript) ExportSRT() string {
	var sb strings.Builder
	for i, turn := range t.Conversation {
		fmt.Fprintf(&sb, "%d\n%s --> %s\n%s: %s\n\n",
			i+1, srtTime(turn.StartSec), srtTime(turn.EndSec), turn.SpeakerID, turn.Text)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// ExportConversation renders one "speaker: text" line per turn, without
// the same-speaker consolidation of the main transcript.
func (t FinalTranscript) ExportConversation() string {
	lines := make([]string, 0, len(t.Conversation))
	for _, turn := range t.Conversation {
		lines = append(lines, fmt.Sprintf("%s: %s", turn.SpeakerID, turn.Text))
	}
	return strings.Join(lines, "\n")
}

func srtTime(seconds float64) string {
	h := int(seconds) / 3600
	m := (int(seconds) % 3600) / 60
	s := int(seconds) % 60
	ms := int((seconds - float64(int(seconds))) * 1000)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
