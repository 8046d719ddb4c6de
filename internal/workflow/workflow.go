// Package workflow owns the task pipeline: one worker per task runs
// acquire, transcribe, compose, and split in sequence, each stage guarded by
// an artifact cache check and reporting into its own progress gauge.
package workflow

import (
	"context"
	"strings"

	"clipper/internal/compose"
	"clipper/internal/fetch"
	"clipper/internal/media"
	"clipper/internal/queue"
	"clipper/internal/services"
	"clipper/internal/split"
	"clipper/internal/suggest"
	"clipper/internal/transcribe"
)

// Request describes one task creation call. Zero-valued parameters fall back
// to the configured defaults.
type Request struct {
	// SourceRef is a downloadable reference (URL). Exactly one of SourceRef
	// and UploadPath must be set.
	SourceRef string
	// UploadPath points at a caller-provided local video file.
	UploadPath string
	// SubtitlePath optionally supplies an external subtitle track (SRT or
	// VTT) used instead of transcription-derived captions.
	SubtitlePath string
	// CutFrom/CutTo optionally pre-cut an uploaded video's raw timeline
	// before the pipeline runs. Seconds; CutTo must exceed CutFrom.
	CutFrom float64
	CutTo   float64

	ZoomFactor      float64
	WordsPerCaption int
	SegmentDuration float64
	VerticalAnchor  string
	VerticalOffset  int
}

// Validate rejects malformed requests before a task record is created.
func (r Request) Validate() error {
	hasRef := strings.TrimSpace(r.SourceRef) != ""
	hasUpload := strings.TrimSpace(r.UploadPath) != ""
	if hasRef == hasUpload {
		return services.Wrap(services.ErrValidation, "workflow", "create",
			"exactly one of source reference and upload path is required", nil)
	}
	if r.ZoomFactor != 0 && r.ZoomFactor < 1.0 {
		return services.Wrap(services.ErrValidation, "workflow", "create",
			"zoom factor must be at least 1.0", nil)
	}
	if r.WordsPerCaption < 0 {
		return services.Wrap(services.ErrValidation, "workflow", "create",
			"words per caption must be positive", nil)
	}
	if r.SegmentDuration < 0 {
		return services.Wrap(services.ErrValidation, "workflow", "create",
			"segment duration must not be negative", nil)
	}
	if r.CutFrom != 0 || r.CutTo != 0 {
		if !hasUpload {
			return services.Wrap(services.ErrValidation, "workflow", "create",
				"timeline cuts apply to uploaded videos only", nil)
		}
		if r.CutFrom < 0 || r.CutTo <= r.CutFrom {
			return services.Wrap(services.ErrValidation, "workflow", "create",
				"cut range must satisfy 0 <= from < to", nil)
		}
	}
	return nil
}

// Prober inspects media files and extracts audio.
type Prober interface {
	Probe(ctx context.Context, path string) (media.Info, error)
	ExtractAudio(ctx context.Context, videoPath, audioPath string) error
}

// Transcriber resolves transcripts, cached or fresh.
type Transcriber interface {
	Transcript(ctx context.Context, sourceID, audioPath string, audioDuration float64, progress func(percent float64)) (*transcribe.Transcript, error)
}

// Renderer composes the captioned vertical video.
type Renderer interface {
	Render(ctx context.Context, req compose.Request) error
}

// Segmenter cuts the rendered output into shorts.
type Segmenter interface {
	Fixed(ctx context.Context, inputPath, outputDir, title string, duration, segmentDuration float64, progress func(percent float64)) ([]string, error)
	Ranges(ctx context.Context, inputPath, outputDir, title string, ranges []split.Range, progress func(percent float64)) ([]string, error)
	Precise(ctx context.Context, inputPath, outputPath string, r split.Range) error
}

// Suggester proposes named clip boundaries from transcript text.
type Suggester interface {
	Suggest(ctx context.Context, transcriptText string) ([]suggest.Suggestion, error)
}

// Uploader registers caller-provided files as sources.
type Uploader interface {
	Register(ctx context.Context, taskID, uploadPath string) (fetch.Source, error)
}

// Progress is the stage-progress port: stages report percentages into it and
// the implementation maps them onto the task's gauges.
type Progress interface {
	Set(ctx context.Context, taskID string, gauge queue.Gauge, percent float64)
}
