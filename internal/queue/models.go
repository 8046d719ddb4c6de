package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// DaemonStopReason is the error message set on tasks orphaned by daemon shutdown.
const DaemonStopReason = "daemon stopped before the task finished"

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Gauge identifies one of a task's three progress gauges.
type Gauge string

const (
	GaugeTranscription Gauge = "transcription"
	GaugeRendering     Gauge = "rendering"
	GaugeSplitting     Gauge = "splitting"
)

// Params holds the caller-requested pipeline parameters, persisted as JSON
// alongside the task so re-reads of the record reproduce the exact request.
type Params struct {
	ZoomFactor      float64 `json:"zoom_factor"`
	WordsPerCaption int     `json:"words_per_caption"`
	SegmentDuration float64 `json:"segment_duration"`
	VerticalAnchor  string  `json:"vertical_anchor"`
	VerticalOffset  int     `json:"vertical_offset"`
}

// Task represents one caller-initiated render request persisted in SQLite.
type Task struct {
	ID                    string
	SourceRef             string
	SourceID              string
	Title                 string
	ParamsJSON            string
	Status                Status
	TranscriptionProgress float64
	RenderingProgress     float64
	SplittingProgress     float64
	RenderedFile          string
	SegmentsJSON          string
	ErrorMessage          string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	LastHeartbeat         *time.Time
}

// HealthSummary describes aggregated task counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Params decodes the persisted request parameters.
func (t *Task) Params() (Params, error) {
	var p Params
	if strings.TrimSpace(t.ParamsJSON) == "" {
		return p, nil
	}
	err := json.Unmarshal([]byte(t.ParamsJSON), &p)
	return p, err
}

// SetParams encodes request parameters onto the record.
func (t *Task) SetParams(p Params) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	t.ParamsJSON = string(data)
	return nil
}

// Segments decodes the list of split-segment output paths.
func (t *Task) Segments() []string {
	if strings.TrimSpace(t.SegmentsJSON) == "" {
		return nil
	}
	var segments []string
	if err := json.Unmarshal([]byte(t.SegmentsJSON), &segments); err != nil {
		return nil
	}
	return segments
}

// SetSegments encodes split-segment output paths onto the record.
func (t *Task) SetSegments(paths []string) error {
	if len(paths) == 0 {
		t.SegmentsJSON = ""
		return nil
	}
	data, err := json.Marshal(paths)
	if err != nil {
		return err
	}
	t.SegmentsJSON = string(data)
	return nil
}

// Progress returns the named gauge's current value.
func (t *Task) Progress(gauge Gauge) float64 {
	switch gauge {
	case GaugeTranscription:
		return t.TranscriptionProgress
	case GaugeRendering:
		return t.RenderingProgress
	case GaugeSplitting:
		return t.SplittingProgress
	default:
		return 0
	}
}

// SetProgress raises the named gauge to percent, clamped to [0,100]. Gauges
// never decrease while a task is processing, so lower values are ignored.
func (t *Task) SetProgress(gauge Gauge, percent float64) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	switch gauge {
	case GaugeTranscription:
		if percent > t.TranscriptionProgress {
			t.TranscriptionProgress = percent
		}
	case GaugeRendering:
		if percent > t.RenderingProgress {
			t.RenderingProgress = percent
		}
	case GaugeSplitting:
		if percent > t.SplittingProgress {
			t.SplittingProgress = percent
		}
	}
}

// SetFailed marks the task as failed with the given cause and clears the heartbeat.
func (t *Task) SetFailed(message string) {
	t.Status = StatusFailed
	t.ErrorMessage = message
	t.LastHeartbeat = nil
}
