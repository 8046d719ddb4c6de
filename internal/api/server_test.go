package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clipper/internal/api"
	"clipper/internal/artifacts"
	"clipper/internal/config"
	"clipper/internal/logging"
	"clipper/internal/queue"
	"clipper/internal/services"
	"clipper/internal/workflow"
)

type fakeManager struct {
	tasks   map[string]*queue.Task
	created []workflow.Request
	deleted []string
	health  queue.HealthSummary
}

func newFakeManager() *fakeManager {
	return &fakeManager{tasks: map[string]*queue.Task{}}
}

func (m *fakeManager) CreateTask(ctx context.Context, req workflow.Request) (*queue.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m.created = append(m.created, req)
	task := &queue.Task{
		ID:        "task-1",
		SourceRef: req.SourceRef,
		Status:    queue.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.tasks[task.ID] = task
	return task, nil
}

func (m *fakeManager) GetTask(ctx context.Context, id string) (*queue.Task, error) {
	task, ok := m.tasks[id]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "queue", "get", "task "+id, nil)
	}
	return task, nil
}

func (m *fakeManager) ListTasks(ctx context.Context, statuses ...queue.Status) ([]*queue.Task, error) {
	var out []*queue.Task
	for _, task := range m.tasks {
		if len(statuses) == 0 {
			out = append(out, task)
			continue
		}
		for _, status := range statuses {
			if task.Status == status {
				out = append(out, task)
				break
			}
		}
	}
	return out, nil
}

func (m *fakeManager) DeleteTask(ctx context.Context, id string) error {
	if _, ok := m.tasks[id]; !ok {
		return services.Wrap(services.ErrNotFound, "queue", "delete", "task "+id, nil)
	}
	delete(m.tasks, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *fakeManager) Health(ctx context.Context) (queue.HealthSummary, error) {
	return m.health, nil
}

func newTestServer(t *testing.T, manager api.TaskManager) (*httptest.Server, *artifacts.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	store, err := artifacts.NewStore(&cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}
	srv, err := api.NewServer("127.0.0.1:0", manager, store, logging.NewNop())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var value T
	if err := json.NewDecoder(resp.Body).Decode(&value); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return value
}

func TestCreateTaskAccepted(t *testing.T) {
	manager := newFakeManager()
	ts, _ := newTestServer(t, manager)

	body := strings.NewReader(`{"url":"https://example.com/v/abc","zoomFactor":1.5}`)
	resp, err := http.Post(ts.URL+"/tasks", "application/json", body)
	if err != nil {
		t.Fatalf("POST /tasks: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	created := decode[api.CreateTaskResponse](t, resp)
	if created.TaskID != "task-1" {
		t.Fatalf("task id = %q", created.TaskID)
	}
	if len(manager.created) != 1 || manager.created[0].ZoomFactor != 1.5 {
		t.Fatalf("request not forwarded: %+v", manager.created)
	}
}

func TestCreateTaskValidationError(t *testing.T) {
	ts, _ := newTestServer(t, newFakeManager())

	resp, err := http.Post(ts.URL+"/tasks", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /tasks: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	payload := decode[map[string]string](t, resp)
	if payload["error"] == "" {
		t.Fatal("expected a JSON error body")
	}
}

func TestGetTaskReportsProgressAndOutputs(t *testing.T) {
	manager := newFakeManager()
	task := &queue.Task{
		ID:                    "done-1",
		SourceRef:             "ref",
		Title:                 "Clip",
		Status:                queue.StatusCompleted,
		TranscriptionProgress: 100,
		RenderingProgress:     100,
		SplittingProgress:     100,
		RenderedFile:          "/data/edited/done-1.mp4",
	}
	if err := task.SetSegments([]string{
		"/data/shorts/done-1/Clip - Part 1.mp4",
		"/data/shorts/done-1/Clip - Part 2.mp4",
	}); err != nil {
		t.Fatalf("SetSegments failed: %v", err)
	}
	manager.tasks[task.ID] = task
	ts, _ := newTestServer(t, manager)

	resp, err := http.Get(ts.URL + "/tasks/done-1")
	if err != nil {
		t.Fatalf("GET /tasks/done-1: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	view := decode[api.TaskView](t, resp)
	if view.Status != "completed" {
		t.Fatalf("status = %q", view.Status)
	}
	if view.Progress.Transcription != 100 || view.Progress.Rendering != 100 || view.Progress.Splitting != 100 {
		t.Fatalf("progress = %+v", view.Progress)
	}
	if view.VideoURL != "/videos/done-1.mp4" {
		t.Fatalf("video url = %q", view.VideoURL)
	}
	if len(view.ShortURLs) != 2 || view.ShortURLs[0] != "/shorts/done-1/Clip - Part 1.mp4" {
		t.Fatalf("short urls = %v", view.ShortURLs)
	}
}

func TestGetTaskHidesOutputsUntilCompleted(t *testing.T) {
	manager := newFakeManager()
	manager.tasks["run-1"] = &queue.Task{
		ID:                    "run-1",
		Status:                queue.StatusProcessing,
		TranscriptionProgress: 40,
		RenderedFile:          "/data/edited/run-1.mp4",
	}
	ts, _ := newTestServer(t, manager)

	resp, err := http.Get(ts.URL + "/tasks/run-1")
	if err != nil {
		t.Fatalf("GET /tasks/run-1: %v", err)
	}
	view := decode[api.TaskView](t, resp)
	if view.VideoURL != "" || len(view.ShortURLs) != 0 {
		t.Fatalf("outputs leaked before completion: %+v", view)
	}
}

func TestUnknownTaskReturnsJSONNotFound(t *testing.T) {
	ts, _ := newTestServer(t, newFakeManager())

	resp, err := http.Get(ts.URL + "/tasks/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	payload := decode[map[string]string](t, resp)
	if payload["error"] == "" {
		t.Fatal("expected JSON error body")
	}
}

func TestListDefaultsToCompleted(t *testing.T) {
	manager := newFakeManager()
	manager.tasks["a"] = &queue.Task{ID: "a", Status: queue.StatusCompleted}
	manager.tasks["b"] = &queue.Task{ID: "b", Status: queue.StatusPending}
	ts, _ := newTestServer(t, manager)

	resp, err := http.Get(ts.URL + "/tasks")
	if err != nil {
		t.Fatalf("GET /tasks: %v", err)
	}
	listing := decode[api.TaskListResponse](t, resp)
	if len(listing.Tasks) != 1 || listing.Tasks[0].ID != "a" {
		t.Fatalf("listing = %+v", listing.Tasks)
	}
}

func TestListStatusFilter(t *testing.T) {
	manager := newFakeManager()
	manager.tasks["a"] = &queue.Task{ID: "a", Status: queue.StatusCompleted}
	manager.tasks["b"] = &queue.Task{ID: "b", Status: queue.StatusPending}
	ts, _ := newTestServer(t, manager)

	resp, err := http.Get(ts.URL + "/tasks?status=pending")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	listing := decode[api.TaskListResponse](t, resp)
	if len(listing.Tasks) != 1 || listing.Tasks[0].ID != "b" {
		t.Fatalf("listing = %+v", listing.Tasks)
	}

	resp, err = http.Get(ts.URL + "/tasks?status=bogus")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus status = %d", resp.StatusCode)
	}
}

func TestDeleteTask(t *testing.T) {
	manager := newFakeManager()
	manager.tasks["gone"] = &queue.Task{ID: "gone", Status: queue.StatusCompleted}
	ts, _ := newTestServer(t, manager)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/tasks/gone", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(manager.deleted) != 1 || manager.deleted[0] != "gone" {
		t.Fatalf("deleted = %v", manager.deleted)
	}
}

func TestHealthz(t *testing.T) {
	manager := newFakeManager()
	manager.health = queue.HealthSummary{Total: 3, Pending: 1, Processing: 1, Completed: 1}
	ts, _ := newTestServer(t, manager)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	health := decode[api.HealthResponse](t, resp)
	if health.Status != "ok" || health.Total != 3 || health.Processing != 1 {
		t.Fatalf("health = %+v", health)
	}
}

func TestServesRenderedFiles(t *testing.T) {
	manager := newFakeManager()
	ts, store := newTestServer(t, manager)

	rendered := store.EditedPath("task-9")
	if err := os.WriteFile(rendered, []byte("frames"), 0o644); err != nil {
		t.Fatalf("write rendered file: %v", err)
	}
	shortsDir := store.ShortsDir("task-9")
	if err := os.MkdirAll(shortsDir, 0o755); err != nil {
		t.Fatalf("mkdir shorts: %v", err)
	}
	if err := os.WriteFile(filepath.Join(shortsDir, "Clip - Part 1.mp4"), []byte("short"), 0o644); err != nil {
		t.Fatalf("write short: %v", err)
	}

	resp, err := http.Get(ts.URL + "/videos/task-9.mp4")
	if err != nil {
		t.Fatalf("GET video: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("video status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/shorts/task-9/Clip%20-%20Part%201.mp4")
	if err != nil {
		t.Fatalf("GET short: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("short status = %d", resp.StatusCode)
	}
}
