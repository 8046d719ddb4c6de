// Package transcribe produces word-timestamped transcripts from extracted
// audio. Transcripts are cached per source identity so repeated tasks on the
// same video skip the model entirely.
package transcribe

import "context"

// Word is a single recognized word with its time span in seconds.
type Word struct {
	Text  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is one recognized utterance. Words may be empty when the engine
// could not produce word-level timestamps; callers interpolate in that case.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// Transcript is the full recognition result for one audio track.
type Transcript struct {
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Engine converts an audio file into a transcript. Implementations report
// recognition progress through observe as the number of audio seconds
// processed so far; observe may be nil.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string, observe func(processedSeconds float64)) (*Transcript, error)
}

// Duration returns the end time of the last segment in seconds.
func (t *Transcript) Duration() float64 {
	if t == nil || len(t.Segments) == 0 {
		return 0
	}
	return t.Segments[len(t.Segments)-1].End
}

// WordCount returns the total number of word-level entries.
func (t *Transcript) WordCount() int {
	if t == nil {
		return 0
	}
	count := 0
	for _, segment := range t.Segments {
		count += len(segment.Words)
	}
	return count
}
