// Package captions turns word-timestamped transcripts into short caption
// units and renders them as SRT. Grouping is deterministic: the same
// transcript and group size always yield the same captions.
package captions

import (
	"fmt"
	"strings"

	"clipper/internal/transcribe"
)

// Unit is one on-screen caption with its display span in seconds.
type Unit struct {
	Text  string
	Start float64
	End   float64
}

// Group collects transcript words into caption units of up to wordsPerCaption
// words each. Segments lacking word timestamps fall back to spreading the
// segment span uniformly across its words. Degenerate entries (empty text,
// non-positive span) are dropped.
func Group(transcript *transcribe.Transcript, wordsPerCaption int) []Unit {
	if transcript == nil || wordsPerCaption < 1 {
		return nil
	}

	var units []Unit
	for _, segment := range transcript.Segments {
		words := segment.Words
		if len(words) == 0 {
			words = interpolateWords(segment)
		}
		for i := 0; i < len(words); i += wordsPerCaption {
			end := i + wordsPerCaption
			if end > len(words) {
				end = len(words)
			}
			unit := buildUnit(words[i:end])
			if unit.Text == "" || unit.End <= unit.Start {
				continue
			}
			units = append(units, unit)
		}
	}
	return units
}

// Rewrap re-wraps each caption unit's text to at most wordsPerCaption words
// per visual line. Cue timing is untouched: every output unit keeps its
// input unit's span, and words never migrate across cue boundaries. Used
// for caller-supplied subtitle files that carry cue-level timing only.
func Rewrap(units []Unit, wordsPerCaption int) []Unit {
	if wordsPerCaption < 1 {
		return nil
	}
	var out []Unit
	for _, unit := range units {
		fields := strings.Fields(unit.Text)
		if len(fields) == 0 || unit.End <= unit.Start {
			continue
		}
		lines := make([]string, 0, (len(fields)+wordsPerCaption-1)/wordsPerCaption)
		for i := 0; i < len(fields); i += wordsPerCaption {
			end := i + wordsPerCaption
			if end > len(fields) {
				end = len(fields)
			}
			lines = append(lines, strings.Join(fields[i:end], " "))
		}
		out = append(out, Unit{
			Text:  strings.Join(lines, "\n"),
			Start: unit.Start,
			End:   unit.End,
		})
	}
	return out
}

// FormatSRT renders caption units as an SRT document with 1-based cue
// numbering and comma millisecond separators.
func FormatSRT(units []Unit) string {
	var b strings.Builder
	for i, unit := range units {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1,
			formatTimestamp(unit.Start),
			formatTimestamp(unit.End),
			unit.Text,
		)
	}
	return b.String()
}

func buildUnit(words []transcribe.Word) Unit {
	if len(words) == 0 {
		return Unit{}
	}
	parts := make([]string, 0, len(words))
	for _, word := range words {
		if text := strings.TrimSpace(word.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return Unit{
		Text:  strings.Join(parts, " "),
		Start: words[0].Start,
		End:   words[len(words)-1].End,
	}
}

// interpolateWords spreads a segment's time span uniformly across its
// whitespace-separated words when the engine gave no word timestamps.
func interpolateWords(segment transcribe.Segment) []transcribe.Word {
	fields := strings.Fields(segment.Text)
	if len(fields) == 0 || segment.End <= segment.Start {
		return nil
	}
	step := (segment.End - segment.Start) / float64(len(fields))
	words := make([]transcribe.Word, len(fields))
	for i, field := range fields {
		words[i] = transcribe.Word{
			Text:  field,
			Start: segment.Start + float64(i)*step,
			End:   segment.Start + float64(i+1)*step,
		}
	}
	return words
}

func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	millis := int64(seconds*1000 + 0.5)
	hours := millis / 3_600_000
	millis -= hours * 3_600_000
	minutes := millis / 60_000
	millis -= minutes * 60_000
	secs := millis / 1000
	millis -= secs * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}
