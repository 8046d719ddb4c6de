package api

import (
	"path/filepath"

	"clipper/internal/queue"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// CreateTaskRequest carries the POST /tasks body.
type CreateTaskRequest struct {
	URL             string  `json:"url,omitempty"`
	UploadPath      string  `json:"uploadPath,omitempty"`
	SubtitlePath    string  `json:"subtitlePath,omitempty"`
	CutFrom         float64 `json:"cutFrom,omitempty"`
	CutTo           float64 `json:"cutTo,omitempty"`
	ZoomFactor      float64 `json:"zoomFactor,omitempty"`
	WordsPerCaption int     `json:"wordsPerCaption,omitempty"`
	SegmentDuration float64 `json:"segmentDuration,omitempty"`
	VerticalAnchor  string  `json:"verticalAnchor,omitempty"`
	VerticalOffset  int     `json:"verticalOffset,omitempty"`
}

// CreateTaskResponse acknowledges an accepted task.
type CreateTaskResponse struct {
	TaskID string `json:"task_id"`
}

// TaskProgress carries the three stage gauges.
type TaskProgress struct {
	Transcription float64 `json:"transcription"`
	Rendering     float64 `json:"rendering"`
	Splitting     float64 `json:"splitting"`
}

// TaskView describes one task in a transport-friendly format. Output paths
// appear only once the task has completed.
type TaskView struct {
	ID           string       `json:"id"`
	SourceRef    string       `json:"sourceRef"`
	SourceID     string       `json:"sourceId,omitempty"`
	Title        string       `json:"title,omitempty"`
	Status       string       `json:"status"`
	Progress     TaskProgress `json:"progress"`
	VideoURL     string       `json:"videoUrl,omitempty"`
	ShortURLs    []string     `json:"shortUrls,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	CreatedAt    string       `json:"createdAt,omitempty"`
	UpdatedAt    string       `json:"updatedAt,omitempty"`
}

// TaskListResponse wraps a collection of tasks.
type TaskListResponse struct {
	Tasks []TaskView `json:"tasks"`
}

// HealthResponse reports aggregated task counts.
type HealthResponse struct {
	Status     string `json:"status"`
	Total      int    `json:"total"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
}

// FromTask converts a stored task into its API view.
func FromTask(task *queue.Task) TaskView {
	if task == nil {
		return TaskView{}
	}
	view := TaskView{
		ID:        task.ID,
		SourceRef: task.SourceRef,
		SourceID:  task.SourceID,
		Title:     task.Title,
		Status:    string(task.Status),
		Progress: TaskProgress{
			Transcription: task.TranscriptionProgress,
			Rendering:     task.RenderingProgress,
			Splitting:     task.SplittingProgress,
		},
		ErrorMessage: task.ErrorMessage,
	}
	if !task.CreatedAt.IsZero() {
		view.CreatedAt = task.CreatedAt.Format(dateTimeFormat)
	}
	if !task.UpdatedAt.IsZero() {
		view.UpdatedAt = task.UpdatedAt.Format(dateTimeFormat)
	}
	if task.Status == queue.StatusCompleted {
		if task.RenderedFile != "" {
			view.VideoURL = "/videos/" + filepath.Base(task.RenderedFile)
		}
		for _, segment := range task.Segments() {
			view.ShortURLs = append(view.ShortURLs, "/shorts/"+task.ID+"/"+filepath.Base(segment))
		}
	}
	return view
}

// FromTasks converts a task slice into API views.
func FromTasks(tasks []*queue.Task) []TaskView {
	if len(tasks) == 0 {
		return nil
	}
	views := make([]TaskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, FromTask(task))
	}
	return views
}
