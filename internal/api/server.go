// Package api exposes the task pipeline over HTTP: task creation and
// inspection as JSON, plus read-only file serving for rendered outputs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"clipper/internal/artifacts"
	"clipper/internal/logging"
	"clipper/internal/queue"
	"clipper/internal/services"
	"clipper/internal/workflow"
)

// TaskManager abstracts the workflow operations the server drives.
type TaskManager interface {
	CreateTask(ctx context.Context, req workflow.Request) (*queue.Task, error)
	GetTask(ctx context.Context, id string) (*queue.Task, error)
	ListTasks(ctx context.Context, statuses ...queue.Status) ([]*queue.Task, error)
	DeleteTask(ctx context.Context, id string) error
	Health(ctx context.Context) (queue.HealthSummary, error)
}

// Server serves the JSON task API and the rendered output files.
type Server struct {
	bind      string
	logger    *slog.Logger
	manager   TaskManager
	artifacts *artifacts.Store

	listener net.Listener
	server   *http.Server
}

// NewServer builds the HTTP server bound to the given address. The artifact
// store backs the /videos/ and /shorts/ file routes.
func NewServer(bind string, manager TaskManager, store *artifacts.Store, logger *slog.Logger) (*Server, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, errors.New("api: bind address is required")
	}
	if manager == nil {
		return nil, errors.New("api: task manager is required")
	}

	srv := &Server{
		bind:      bind,
		logger:    logging.NewComponentLogger(logger, "api"),
		manager:   manager,
		artifacts: store,
	}
	srv.server = &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

// Handler returns the route table. Exposed separately so tests can drive the
// mux without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/", s.handleTask)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.artifacts != nil {
		mux.Handle("/videos/", http.StripPrefix("/videos/",
			http.FileServer(http.Dir(s.artifacts.EditedRoot()))))
		mux.Handle("/shorts/", http.StripPrefix("/shorts/",
			http.FileServer(http.Dir(s.artifacts.ShortsRoot()))))
	}
	return mux
}

// Start begins serving and shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreate(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body CreateTaskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task, err := s.manager.CreateTask(r.Context(), workflow.Request{
		SourceRef:       body.URL,
		UploadPath:      body.UploadPath,
		SubtitlePath:    body.SubtitlePath,
		CutFrom:         body.CutFrom,
		CutTo:           body.CutTo,
		ZoomFactor:      body.ZoomFactor,
		WordsPerCaption: body.WordsPerCaption,
		SegmentDuration: body.SegmentDuration,
		VerticalAnchor:  body.VerticalAnchor,
		VerticalOffset:  body.VerticalOffset,
	})
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, CreateTaskResponse{TaskID: task.ID})
}

// handleList returns completed tasks by default; ?status= filters override.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	statuses := []queue.Status{queue.StatusCompleted}
	if values := r.URL.Query()["status"]; len(values) > 0 {
		statuses = statuses[:0]
		for _, value := range values {
			status, ok := queue.ParseStatus(value)
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
				return
			}
			statuses = append(statuses, status)
		}
	}

	tasks, err := s.manager.ListTasks(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, TaskListResponse{Tasks: FromTasks(tasks)})
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		task, err := s.manager.GetTask(r.Context(), id)
		if err != nil {
			s.writeTaskError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, FromTask(task))
	case http.MethodDelete:
		if err := s.manager.DeleteTask(r.Context(), id); err != nil {
			s.writeTaskError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	summary, err := s.manager.Health(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Total:      summary.Total,
		Pending:    summary.Pending,
		Processing: summary.Processing,
		Completed:  summary.Completed,
		Failed:     summary.Failed,
	})
}

func (s *Server) writeTaskError(w http.ResponseWriter, err error) {
	if errors.Is(err, services.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
