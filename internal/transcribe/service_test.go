package transcribe_test

import (
	"context"
	"errors"
	"testing"

	"clipper/internal/artifacts"
	"clipper/internal/config"
	"clipper/internal/logging"
	"clipper/internal/services"
	"clipper/internal/transcribe"
)

type fakeEngine struct {
	transcript *transcribe.Transcript
	err        error
	calls      int
	reports    []float64
}

func (f *fakeEngine) Transcribe(ctx context.Context, audioPath string, observe func(float64)) (*transcribe.Transcript, error) {
	f.calls++
	if observe != nil {
		for _, seconds := range f.reports {
			observe(seconds)
		}
	}
	return f.transcript, f.err
}

func newArtifactStore(t *testing.T) *artifacts.Store {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	store, err := artifacts.NewStore(&cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func sampleTranscript() *transcribe.Transcript {
	return &transcribe.Transcript{
		Language: "en",
		Segments: []transcribe.Segment{
			{
				ID: 0, Start: 0, End: 2.5, Text: "hello brave world",
				Words: []transcribe.Word{
					{Text: "hello", Start: 0, End: 0.8},
					{Text: "brave", Start: 0.8, End: 1.6},
					{Text: "world", Start: 1.6, End: 2.5},
				},
			},
		},
	}
}

func TestTranscriptCachesResult(t *testing.T) {
	store := newArtifactStore(t)
	engine := &fakeEngine{transcript: sampleTranscript()}
	service := transcribe.NewService(engine, store, logging.NewNop())
	ctx := context.Background()

	first, err := service.Transcript(ctx, "vid1", "/audio/vid1.wav", 2.5, nil)
	if err != nil {
		t.Fatalf("first transcript failed: %v", err)
	}
	if engine.calls != 1 {
		t.Fatalf("engine calls = %d", engine.calls)
	}
	if !store.HasTranscript("vid1") {
		t.Fatal("transcript not cached")
	}

	second, err := service.Transcript(ctx, "vid1", "/audio/vid1.wav", 2.5, nil)
	if err != nil {
		t.Fatalf("cached transcript failed: %v", err)
	}
	if engine.calls != 1 {
		t.Fatalf("engine re-invoked on cache hit: %d calls", engine.calls)
	}
	if len(second.Segments) != len(first.Segments) || second.Language != "en" {
		t.Fatalf("cached transcript mismatch: %+v", second)
	}
}

func TestTranscriptCacheHitSnapsProgressTo100(t *testing.T) {
	store := newArtifactStore(t)
	engine := &fakeEngine{transcript: sampleTranscript()}
	service := transcribe.NewService(engine, store, logging.NewNop())
	ctx := context.Background()

	if _, err := service.Transcript(ctx, "vid1", "/audio/vid1.wav", 2.5, nil); err != nil {
		t.Fatalf("seed transcript failed: %v", err)
	}

	var reported []float64
	if _, err := service.Transcript(ctx, "vid1", "/audio/vid1.wav", 2.5, func(p float64) {
		reported = append(reported, p)
	}); err != nil {
		t.Fatalf("cached transcript failed: %v", err)
	}
	if len(reported) != 1 || reported[0] != 100 {
		t.Fatalf("expected single 100%% report, got %v", reported)
	}
}

func TestTranscriptProgressScalesByDuration(t *testing.T) {
	store := newArtifactStore(t)
	engine := &fakeEngine{transcript: sampleTranscript(), reports: []float64{5, 10}}
	service := transcribe.NewService(engine, store, logging.NewNop())

	var reported []float64
	_, err := service.Transcript(context.Background(), "vid1", "/audio/vid1.wav", 20, func(p float64) {
		reported = append(reported, p)
	})
	if err != nil {
		t.Fatalf("transcript failed: %v", err)
	}
	// 5s of 20s is 25%, 10s is 50%, then the final 100 on completion.
	if len(reported) != 3 || reported[0] != 25 || reported[1] != 50 || reported[2] != 100 {
		t.Fatalf("unexpected progress reports: %v", reported)
	}
}

func TestTranscriptEngineErrorPropagates(t *testing.T) {
	store := newArtifactStore(t)
	engine := &fakeEngine{err: services.Wrap(services.ErrExternalTool, "transcribe", "whisper", "model load failed", nil)}
	service := transcribe.NewService(engine, store, logging.NewNop())

	_, err := service.Transcript(context.Background(), "vid1", "/audio/vid1.wav", 10, nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected engine error, got %v", err)
	}
	if store.HasTranscript("vid1") {
		t.Fatal("failed transcription must not populate the cache")
	}
}

func TestTranscriptRejectsEmptyResult(t *testing.T) {
	store := newArtifactStore(t)
	engine := &fakeEngine{transcript: &transcribe.Transcript{}}
	service := transcribe.NewService(engine, store, logging.NewNop())

	_, err := service.Transcript(context.Background(), "vid1", "/audio/vid1.wav", 10, nil)
	if !errors.Is(err, services.ErrTranscription) {
		t.Fatalf("expected transcription error, got %v", err)
	}
}

func TestTranscriptHelpers(t *testing.T) {
	transcript := sampleTranscript()
	if got := transcript.Duration(); got != 2.5 {
		t.Fatalf("Duration = %v", got)
	}
	if got := transcript.WordCount(); got != 3 {
		t.Fatalf("WordCount = %v", got)
	}
	var empty *transcribe.Transcript
	if empty.Duration() != 0 || empty.WordCount() != 0 {
		t.Fatal("nil transcript helpers should return zero")
	}
}
