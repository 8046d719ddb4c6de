package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clipper/internal/artifacts"
	"clipper/internal/compose"
	"clipper/internal/config"
	"clipper/internal/fetch"
	"clipper/internal/logging"
	"clipper/internal/media"
	"clipper/internal/queue"
	"clipper/internal/services"
	"clipper/internal/split"
	"clipper/internal/suggest"
	"clipper/internal/transcribe"
	"clipper/internal/workflow"
)

type fakeFetcher struct {
	store   *artifacts.Store
	id      string
	title   string
	err     error
	fetches atomic.Int32
}

func (f *fakeFetcher) Resolve(ctx context.Context, ref string) (fetch.Source, error) {
	if f.err != nil {
		return fetch.Source{}, f.err
	}
	return fetch.Source{ID: f.id, Title: f.title, Path: f.store.VideoPath(f.id)}, nil
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref string) (fetch.Source, error) {
	if f.err != nil {
		return fetch.Source{}, f.err
	}
	f.fetches.Add(1)
	path := f.store.VideoPath(f.id)
	if err := os.WriteFile(path, []byte("raw video"), 0o644); err != nil {
		return fetch.Source{}, err
	}
	return fetch.Source{ID: f.id, Title: f.title, Path: path}, nil
}

type fakeProber struct {
	info media.Info
	err  error
}

func (f *fakeProber) Probe(ctx context.Context, path string) (media.Info, error) {
	return f.info, f.err
}

func (f *fakeProber) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	return os.WriteFile(audioPath, []byte("pcm"), 0o644)
}

type fakeTranscriber struct {
	store   *artifacts.Store
	reports []float64
	err     error
	calls   atomic.Int32
}

func (f *fakeTranscriber) Transcript(ctx context.Context, sourceID, audioPath string, audioDuration float64, progress func(float64)) (*transcribe.Transcript, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.store.HasTranscript(sourceID) {
		var cached transcribe.Transcript
		if err := f.store.LoadTranscript(sourceID, &cached); err == nil {
			if progress != nil {
				progress(100)
			}
			return &cached, nil
		}
	}
	if progress != nil {
		for _, p := range f.reports {
			progress(p)
		}
	}
	transcript := &transcribe.Transcript{
		Language: "en",
		Segments: []transcribe.Segment{
			{ID: 0, Start: 0, End: 6, Text: "alpha beta gamma delta epsilon zeta"},
		},
	}
	if err := f.store.SaveTranscript(ctx, sourceID, transcript); err != nil {
		return nil, err
	}
	if progress != nil {
		progress(100)
	}
	return transcript, nil
}

type fakeRenderer struct {
	err     error
	renders int
}

func (f *fakeRenderer) Render(ctx context.Context, req compose.Request) error {
	if f.err != nil {
		return f.err
	}
	f.renders++
	if req.Progress != nil {
		req.Progress(50)
		req.Progress(100)
	}
	return os.WriteFile(req.OutputPath, []byte("rendered"), 0o644)
}

type fakeSegmenter struct {
	err    error
	fixed  atomic.Int32
	ranged atomic.Int32
}

func (f *fakeSegmenter) Fixed(ctx context.Context, inputPath, outputDir, title string, duration, segmentDuration float64, progress func(float64)) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.fixed.Add(1)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	count := int(duration / segmentDuration)
	if duration > float64(count)*segmentDuration {
		count++
	}
	var paths []string
	for i := 1; i <= count; i++ {
		path := filepath.Join(outputDir, fmt.Sprintf("%s - Part %d.mp4", title, i))
		if err := os.WriteFile(path, []byte("segment"), 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, path)
		if progress != nil {
			progress(float64(i) / float64(count) * 100)
		}
	}
	return paths, nil
}

func (f *fakeSegmenter) Ranges(ctx context.Context, inputPath, outputDir, title string, ranges []split.Range, progress func(float64)) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.ranged.Add(1)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	for _, r := range ranges {
		path := filepath.Join(outputDir, r.Name+".mp4")
		if err := os.WriteFile(path, []byte("segment"), 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	if progress != nil {
		progress(100)
	}
	return paths, nil
}

func (f *fakeSegmenter) Precise(ctx context.Context, inputPath, outputPath string, r split.Range) error {
	return os.WriteFile(outputPath, []byte("cut"), 0o644)
}

type fakeSuggester struct {
	suggestions []suggest.Suggestion
	err         error
}

func (f *fakeSuggester) Suggest(ctx context.Context, transcriptText string) ([]suggest.Suggestion, error) {
	return f.suggestions, f.err
}

type recordingProgress struct {
	store *queue.Store

	mu      sync.Mutex
	samples map[queue.Gauge][]float64
}

func (p *recordingProgress) Set(ctx context.Context, taskID string, gauge queue.Gauge, percent float64) {
	p.mu.Lock()
	p.samples[gauge] = append(p.samples[gauge], percent)
	p.mu.Unlock()
	_ = p.store.SetStageProgress(ctx, taskID, gauge, percent)
}

func (p *recordingProgress) recorded(gauge queue.Gauge) []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.samples[gauge]...)
}

type harness struct {
	cfg         config.Config
	store       *queue.Store
	artifacts   *artifacts.Store
	fetcher     *fakeFetcher
	prober      *fakeProber
	transcriber *fakeTranscriber
	renderer    *fakeRenderer
	segmenter   *fakeSegmenter
	progress    *recordingProgress
	manager     *workflow.Manager
}

func newHarness(t *testing.T, mutate func(*config.Config, *workflow.Deps)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Workflow.MaxWorkers = 2
	cfg.Shorts.Enabled = true

	store, err := queue.OpenPath(filepath.Join(cfg.Paths.DataDir, "tasks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	artifactStore, err := artifacts.NewStore(&cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}

	h := &harness{
		cfg:       cfg,
		store:     store,
		artifacts: artifactStore,
		fetcher:   &fakeFetcher{store: artifactStore, id: "vid123", title: "Test Video"},
		prober:    &fakeProber{info: media.Info{Duration: 120, Width: 1920, Height: 1080, FPS: 30}},
		renderer:  &fakeRenderer{},
		segmenter: &fakeSegmenter{},
		progress:  &recordingProgress{store: store, samples: map[queue.Gauge][]float64{}},
	}
	h.transcriber = &fakeTranscriber{store: artifactStore, reports: []float64{25, 50, 75}}

	deps := workflow.Deps{
		Store:       store,
		Artifacts:   artifactStore,
		Fetcher:     h.fetcher,
		Uploader:    fetch.NewUpload(artifactStore, logging.NewNop()),
		Prober:      h.prober,
		Transcriber: h.transcriber,
		Renderer:    h.renderer,
		Segmenter:   h.segmenter,
		Progress:    h.progress,
	}
	if mutate != nil {
		mutate(&h.cfg, &deps)
	}
	h.manager = workflow.NewManager(&h.cfg, deps, logging.NewNop())
	return h
}

func (h *harness) runTask(t *testing.T, req workflow.Request) *queue.Task {
	t.Helper()
	task, err := h.manager.CreateTask(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	h.waitTerminal(t, task.ID)
	loaded, err := h.store.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	return loaded
}

func (h *harness) waitTerminal(t *testing.T, id string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		task, err := h.store.GetByID(context.Background(), id)
		if err == nil && task.Status.IsTerminal() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal state")
}

func TestPipelineCompletesEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	task := h.runTask(t, workflow.Request{SourceRef: "https://example.com/v/vid123"})

	if task.Status != queue.StatusCompleted {
		t.Fatalf("status = %v, error = %q", task.Status, task.ErrorMessage)
	}
	if task.SourceID != "vid123" || task.Title != "Test Video" {
		t.Fatalf("source not recorded: %+v", task)
	}
	if task.RenderedFile == "" {
		t.Fatal("rendered file not recorded")
	}
	if info, err := os.Stat(task.RenderedFile); err != nil || info.Size() == 0 {
		t.Fatalf("completed task must have non-empty render: %v", err)
	}
	if len(task.Segments()) != 3 {
		t.Fatalf("120s at 52s should give 3 segments, got %v", task.Segments())
	}
	if task.TranscriptionProgress != 100 || task.RenderingProgress != 100 || task.SplittingProgress != 100 {
		t.Fatalf("gauges not final: %v %v %v",
			task.TranscriptionProgress, task.RenderingProgress, task.SplittingProgress)
	}
}

func TestTranscriptionProgressPassesThroughIntermediateValues(t *testing.T) {
	h := newHarness(t, nil)
	h.runTask(t, workflow.Request{SourceRef: "ref"})

	samples := h.progress.recorded(queue.GaugeTranscription)
	sawIntermediate := false
	last := -1.0
	for _, sample := range samples {
		if sample > 0 && sample < 100 {
			sawIntermediate = true
		}
		if sample < last {
			// Raw reports may repeat but the recorded sequence here is
			// emitted in order by a single worker.
			t.Fatalf("progress regressed: %v", samples)
		}
		last = sample
	}
	if !sawIntermediate {
		t.Fatalf("expected intermediate progress, got %v", samples)
	}
	if last != 100 {
		t.Fatalf("progress did not end at 100: %v", samples)
	}
}

func TestSecondTaskOnSameSourceSkipsRework(t *testing.T) {
	h := newHarness(t, nil)
	first := h.runTask(t, workflow.Request{SourceRef: "ref"})
	if first.Status != queue.StatusCompleted {
		t.Fatalf("first task failed: %q", first.ErrorMessage)
	}
	transcriberCalls := h.transcriber.calls.Load()

	second := h.runTask(t, workflow.Request{SourceRef: "ref"})
	if second.Status != queue.StatusCompleted {
		t.Fatalf("second task failed: %q", second.ErrorMessage)
	}
	// The transcript cache absorbs the second run's transcription work; the
	// fake loads the cached copy instead of regenerating.
	if got := h.transcriber.calls.Load(); got != transcriberCalls+1 {
		t.Fatalf("transcriber calls = %d", got)
	}
	if got := h.fetcher.fetches.Load(); got != 2 {
		t.Fatalf("fetches = %d", got)
	}
	if second.TranscriptionProgress != 100 {
		t.Fatalf("cached transcription gauge = %v", second.TranscriptionProgress)
	}
}

func TestValidationFailsFast(t *testing.T) {
	h := newHarness(t, nil)
	cases := []workflow.Request{
		{},
		{SourceRef: "ref", UploadPath: "/tmp/x.mp4"},
		{SourceRef: "ref", ZoomFactor: 0.5},
		{SourceRef: "ref", SegmentDuration: -1},
		{SourceRef: "ref", CutFrom: 10, CutTo: 5, UploadPath: ""},
	}
	for i, req := range cases {
		if _, err := h.manager.CreateTask(context.Background(), req); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	tasks, err := h.store.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("validation failures must not create tasks: %d records", len(tasks))
	}
}

func TestStageFailureMarksTaskFailedAndCleansUp(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, deps *workflow.Deps) {
		deps.Renderer = &fakeRenderer{err: services.Wrap(services.ErrExternalTool, "compose", "render", "encoder exploded", nil)}
	})
	task := h.runTask(t, workflow.Request{SourceRef: "ref"})

	if task.Status != queue.StatusFailed {
		t.Fatalf("status = %v", task.Status)
	}
	if task.ErrorMessage == "" {
		t.Fatal("failed task must carry a cause")
	}
	if _, err := os.Stat(h.artifacts.EditedPath(task.ID)); !os.IsNotExist(err) {
		t.Fatal("partial render not cleaned up")
	}
	// Source-scoped cache survives the failure.
	if !h.artifacts.HasTranscript("vid123") {
		t.Fatal("transcript cache must survive a compose failure")
	}
}

func TestAcquisitionFailurePreservesTransientDistinction(t *testing.T) {
	transientErr := services.Wrap(services.ErrAcquisition, "fetch", "download", "HTTP Error 503", nil)
	transientErr = errors.Join(services.ErrTransient, transientErr)
	h := newHarness(t, func(cfg *config.Config, deps *workflow.Deps) {
		deps.Fetcher = &fakeFetcher{err: transientErr}
	})
	task := h.runTask(t, workflow.Request{SourceRef: "ref"})
	if task.Status != queue.StatusFailed {
		t.Fatalf("status = %v", task.Status)
	}
	if !strings.Contains(task.ErrorMessage, "transient") {
		t.Fatalf("transient distinction lost: %q", task.ErrorMessage)
	}
}

func TestZeroSegmentDurationSkipsSplitting(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, deps *workflow.Deps) {
		cfg.Shorts.Enabled = false
	})
	task := h.runTask(t, workflow.Request{SourceRef: "ref"})
	if task.Status != queue.StatusCompleted {
		t.Fatalf("status = %v: %q", task.Status, task.ErrorMessage)
	}
	if len(task.Segments()) != 0 {
		t.Fatalf("expected no segments, got %v", task.Segments())
	}
	if task.SplittingProgress != 100 {
		t.Fatalf("splitting gauge should snap to 100, got %v", task.SplittingProgress)
	}
	if h.segmenter.fixed.Load() != 0 {
		t.Fatal("splitter should not run")
	}
}

func TestDeleteTaskPreservesSourceCache(t *testing.T) {
	h := newHarness(t, nil)
	task := h.runTask(t, workflow.Request{SourceRef: "ref"})
	if task.Status != queue.StatusCompleted {
		t.Fatalf("setup task failed: %q", task.ErrorMessage)
	}

	if err := h.manager.DeleteTask(context.Background(), task.ID); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	if _, err := h.store.GetByID(context.Background(), task.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("record not deleted: %v", err)
	}
	if _, err := os.Stat(h.artifacts.EditedPath(task.ID)); !os.IsNotExist(err) {
		t.Fatal("rendered output not deleted")
	}
	if _, err := os.Stat(h.artifacts.ShortsDir(task.ID)); !os.IsNotExist(err) {
		t.Fatal("shorts not deleted")
	}
	// Scenario D: a new task on the same source still finds the transcript.
	if !h.artifacts.HasTranscript("vid123") {
		t.Fatal("shared transcript must survive task deletion")
	}
}

func TestSuggestedRangesPreferredOverFixed(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, deps *workflow.Deps) {
		deps.Suggester = &fakeSuggester{suggestions: []suggest.Suggestion{
			{Name: "Opening Hook", Start: 0, End: 30},
			{Name: "Big Reveal", Start: 60, End: 100},
		}}
	})
	task := h.runTask(t, workflow.Request{SourceRef: "ref"})
	if task.Status != queue.StatusCompleted {
		t.Fatalf("status = %v: %q", task.Status, task.ErrorMessage)
	}
	if h.segmenter.ranged.Load() != 1 || h.segmenter.fixed.Load() != 0 {
		t.Fatalf("expected ranged split, got ranged=%d fixed=%d",
			h.segmenter.ranged.Load(), h.segmenter.fixed.Load())
	}
	if len(task.Segments()) != 2 {
		t.Fatalf("expected 2 suggested segments, got %v", task.Segments())
	}
}

func TestSuggesterFailureFallsBackToFixed(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, deps *workflow.Deps) {
		deps.Suggester = &fakeSuggester{err: errors.New("endpoint down")}
	})
	task := h.runTask(t, workflow.Request{SourceRef: "ref"})
	if task.Status != queue.StatusCompleted {
		t.Fatalf("status = %v: %q", task.Status, task.ErrorMessage)
	}
	if h.segmenter.fixed.Load() != 1 {
		t.Fatal("expected fixed-mode fallback")
	}
}

func TestUploadFlow(t *testing.T) {
	h := newHarness(t, nil)
	dir := t.TempDir()
	uploadPath := filepath.Join(dir, "My Talk.mp4")
	if err := os.WriteFile(uploadPath, []byte("uploaded frames"), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}

	task := h.runTask(t, workflow.Request{UploadPath: uploadPath, CutFrom: 5, CutTo: 25})
	if task.Status != queue.StatusCompleted {
		t.Fatalf("status = %v: %q", task.Status, task.ErrorMessage)
	}
	if task.SourceID != "uploaded_"+task.ID {
		t.Fatalf("upload source id = %q", task.SourceID)
	}
}

func TestRecoverFailsOrphanedTasks(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	task, err := h.store.NewTask(ctx, "ref", "src", queue.Params{})
	if err != nil {
		t.Fatalf("NewTask failed: %v", err)
	}
	task.Status = queue.StatusProcessing
	if err := h.store.Update(ctx, task); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if err := h.manager.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	loaded, err := h.store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if loaded.Status != queue.StatusFailed {
		t.Fatalf("orphaned task status = %v", loaded.Status)
	}
}

func TestStopRejectsNewTasks(t *testing.T) {
	h := newHarness(t, nil)
	h.manager.Stop()
	_, err := h.manager.CreateTask(context.Background(), workflow.Request{SourceRef: "ref"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected rejection after Stop, got %v", err)
	}
}
