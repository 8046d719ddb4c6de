package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clipper/internal/captions"
	"clipper/internal/compose"
	"clipper/internal/fetch"
	"clipper/internal/fileutil"
	"clipper/internal/logging"
	"clipper/internal/queue"
	"clipper/internal/services"
	"clipper/internal/split"
	"clipper/internal/transcribe"
)

// run executes the full pipeline for one task. It is the sole writer of the
// task's fields; every stage failure is captured here and converted into a
// terminal failed state.
func (m *Manager) run(ctx context.Context, taskID string, req Request, params queue.Params) {
	ctx = services.WithTaskID(ctx, taskID)
	logger := logging.WithContext(ctx, m.logger)

	task, err := m.deps.Store.GetByID(ctx, taskID)
	if err != nil {
		logger.Error("worker could not load its task", logging.Error(err))
		return
	}

	task.Status = queue.StatusProcessing
	if err := m.deps.Store.Update(ctx, task); err != nil {
		logger.Error("failed to mark task processing", logging.Error(err))
		return
	}

	stopHeartbeat := m.startHeartbeat(ctx, taskID)
	defer stopHeartbeat()

	stage := "acquire"
	fail := func(stageName string, cause error) {
		logger.Error("stage failed",
			logging.String(logging.FieldStage, stageName),
			logging.Error(cause),
		)
		task.SetFailed(services.FailureMessage(stageName, cause))
		if err := m.deps.Store.Update(ctx, task); err != nil {
			logger.Error("failed to persist failure", logging.Error(err))
		}
		// Best effort: a cleanup error never alters the terminal state.
		if err := m.deps.Artifacts.RemoveTaskOutputs(ctx, taskID); err != nil {
			logger.Warn("failure cleanup incomplete", logging.Error(err))
		}
	}

	source, err := m.acquire(ctx, task, req)
	if err != nil {
		fail(stage, err)
		return
	}
	task.SourceID = source.ID
	task.Title = source.Title
	if err := m.deps.Store.Update(ctx, task); err != nil {
		fail(stage, err)
		return
	}
	ctx = services.WithSourceID(ctx, source.ID)
	logger = logging.WithContext(ctx, m.logger)

	stage = "transcribe"
	transcript, info, err := m.transcribeStage(ctx, taskID, source)
	if err != nil {
		fail(stage, err)
		return
	}

	stage = "compose"
	renderedPath, err := m.composeStage(ctx, taskID, req, params, source, transcript, info)
	if err != nil {
		fail(stage, err)
		return
	}
	task.RenderedFile = renderedPath
	if err := m.deps.Store.Update(ctx, task); err != nil {
		fail(stage, err)
		return
	}

	stage = "split"
	segments, err := m.splitStage(ctx, task, params, renderedPath, transcript)
	if err != nil {
		fail(stage, err)
		return
	}
	if err := task.SetSegments(segments); err != nil {
		fail(stage, err)
		return
	}

	task.Status = queue.StatusCompleted
	task.ErrorMessage = ""
	task.LastHeartbeat = nil
	if err := m.deps.Store.Update(ctx, task); err != nil {
		logger.Error("failed to persist completion", logging.Error(err))
		return
	}
	logger.Info("task completed",
		logging.String("rendered_file", renderedPath),
		logging.Int("segments", len(segments)),
	)
}

// startHeartbeat stamps the task periodically until the returned stop
// function is called.
func (m *Manager) startHeartbeat(ctx context.Context, taskID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(m.heartbeatInterval())
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := m.deps.Store.UpdateHeartbeat(ctx, taskID); err != nil {
					m.logger.Warn("heartbeat write failed",
						logging.String(logging.FieldTaskID, taskID),
						logging.Error(err),
					)
				}
			}
		}
	}()
	var once func()
	closed := false
	once = func() {
		if !closed {
			closed = true
			close(done)
		}
	}
	return once
}

// acquire resolves the task's source: download by reference, or register an
// uploaded file, optionally pre-cutting its raw timeline.
func (m *Manager) acquire(ctx context.Context, task *queue.Task, req Request) (fetch.Source, error) {
	if strings.TrimSpace(req.UploadPath) != "" {
		source, err := m.deps.Uploader.Register(ctx, task.ID, req.UploadPath)
		if err != nil {
			return fetch.Source{}, err
		}
		if req.CutTo > req.CutFrom {
			// Cut the raw timeline before anything downstream sees it. The
			// cut replaces the registered copy, so the source identity stays
			// task-unique and cache-consistent.
			cutPath := source.Path + ".cut.mp4"
			err := m.deps.Segmenter.Precise(ctx, source.Path, cutPath, split.Range{From: req.CutFrom, To: req.CutTo})
			if err != nil {
				return fetch.Source{}, err
			}
			if err := os.Rename(cutPath, source.Path); err != nil {
				return fetch.Source{}, services.Wrap(services.ErrAcquisition, "workflow", "cut", "commit cut video", err)
			}
		}
		return source, nil
	}
	return m.deps.Fetcher.Fetch(ctx, req.SourceRef)
}

// transcribeStage probes the source, extracts audio when missing, and
// resolves the transcript through the cache. The per-source claim serializes
// concurrent tasks on the same source so only one producer writes each
// source-scoped artifact.
func (m *Manager) transcribeStage(ctx context.Context, taskID string, source fetch.Source) (*transcribe.Transcript, mediaInfo, error) {
	release, err := m.deps.Artifacts.ClaimSource(ctx, source.ID)
	if err != nil {
		return nil, mediaInfo{}, err
	}
	defer release()

	info, err := m.deps.Prober.Probe(ctx, source.Path)
	if err != nil {
		return nil, mediaInfo{}, err
	}
	if info.Duration <= 0 {
		return nil, mediaInfo{}, services.Wrap(services.ErrTranscription, "workflow", "transcribe",
			"source media has zero duration", nil)
	}

	audioPath := m.deps.Artifacts.AudioPath(source.ID)
	if !m.deps.Artifacts.HasAudio(source.ID) {
		if err := m.deps.Prober.ExtractAudio(ctx, source.Path, audioPath); err != nil {
			return nil, mediaInfo{}, err
		}
	}

	transcript, err := m.deps.Transcriber.Transcript(ctx, source.ID, audioPath, info.Duration, func(percent float64) {
		m.deps.Progress.Set(ctx, taskID, queue.GaugeTranscription, percent)
	})
	if err != nil {
		return nil, mediaInfo{}, err
	}
	return transcript, mediaInfo{duration: info.Duration, width: info.Width, height: info.Height}, nil
}

type mediaInfo struct {
	duration float64
	width    int
	height   int
}

// composeStage renders the captioned vertical video unless this task's
// render already exists, in which case the gauge snaps to 100.
func (m *Manager) composeStage(ctx context.Context, taskID string, req Request, params queue.Params, source fetch.Source, transcript *transcribe.Transcript, info mediaInfo) (string, error) {
	outputPath := m.deps.Artifacts.EditedPath(taskID)
	if fileutil.NonEmptyFile(outputPath) {
		m.deps.Progress.Set(ctx, taskID, queue.GaugeRendering, 100)
		return outputPath, nil
	}

	units, err := m.captionUnits(req, params, transcript)
	if err != nil {
		return "", err
	}

	subtitlePath := ""
	if len(units) > 0 {
		subtitlePath, err = compose.WriteSubtitleFile(outputPath, captions.FormatSRT(units))
		if err != nil {
			return "", err
		}
		defer os.Remove(subtitlePath)
	}

	style := m.cfg.Style
	style.ZoomFactor = params.ZoomFactor
	style.WordsPerCaption = params.WordsPerCaption
	style.VerticalAnchor = params.VerticalAnchor
	style.VerticalOffset = params.VerticalOffset

	err = m.deps.Renderer.Render(ctx, compose.Request{
		InputPath:    source.Path,
		SubtitlePath: subtitlePath,
		OutputPath:   outputPath,
		SourceWidth:  info.width,
		SourceHeight: info.height,
		Duration:     info.duration,
		Style:        style,
		Progress: func(percent float64) {
			m.deps.Progress.Set(ctx, taskID, queue.GaugeRendering, percent)
		},
	})
	if err != nil {
		return "", err
	}
	return outputPath, nil
}

// captionUnits prefers an externally supplied subtitle track over the
// transcript-derived grouping.
func (m *Manager) captionUnits(req Request, params queue.Params, transcript *transcribe.Transcript) ([]captions.Unit, error) {
	if path := strings.TrimSpace(req.SubtitlePath); path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "workflow", "captions", "open subtitle file", err)
		}
		defer file.Close()

		var units []captions.Unit
		if strings.HasSuffix(strings.ToLower(path), ".vtt") {
			units, err = captions.ParseVTT(file)
		} else {
			units, err = captions.ParseSRT(file)
		}
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "workflow", "captions", "parse subtitle file", err)
		}
		return captions.Rewrap(units, params.WordsPerCaption), nil
	}
	return captions.Group(transcript, params.WordsPerCaption), nil
}

// splitStage cuts the render into shorts. Segment duration zero disables
// splitting; suggestion-driven named ranges take precedence over fixed
// windows when the suggester yields usable boundaries.
func (m *Manager) splitStage(ctx context.Context, task *queue.Task, params queue.Params, renderedPath string, transcript *transcribe.Transcript) ([]string, error) {
	if params.SegmentDuration <= 0 {
		m.deps.Progress.Set(ctx, task.ID, queue.GaugeSplitting, 100)
		return nil, nil
	}

	outputDir := m.deps.Artifacts.ShortsDir(task.ID)
	progress := func(percent float64) {
		m.deps.Progress.Set(ctx, task.ID, queue.GaugeSplitting, percent)
	}

	if ranges := m.suggestedRanges(ctx, outputDir, transcript); len(ranges) > 0 {
		paths, err := m.deps.Segmenter.Ranges(ctx, renderedPath, outputDir, task.Title, ranges, progress)
		if err == nil {
			return paths, nil
		}
		m.logger.Warn("suggested ranges failed, falling back to fixed segments",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err),
		)
	}

	info, err := m.deps.Prober.Probe(ctx, renderedPath)
	if err != nil {
		return nil, err
	}
	return m.deps.Segmenter.Fixed(ctx, renderedPath, outputDir, task.Title, info.Duration, params.SegmentDuration, progress)
}

// suggestedRanges asks the suggestion collaborator for named boundaries.
// Malformed or missing suggestions degrade to nil, which selects fixed-mode
// splitting. The configured collision policy decides whether an existing
// same-named segment survives a refresh.
func (m *Manager) suggestedRanges(ctx context.Context, outputDir string, transcript *transcribe.Transcript) []split.Range {
	if m.deps.Suggester == nil || transcript == nil {
		return nil
	}
	var text strings.Builder
	for _, segment := range transcript.Segments {
		text.WriteString(strings.TrimSpace(segment.Text))
		text.WriteString(" ")
	}
	suggestions, err := m.deps.Suggester.Suggest(ctx, strings.TrimSpace(text.String()))
	if err != nil {
		m.logger.Warn("suggestion collaborator unavailable", logging.Error(err))
		return nil
	}

	overwrite := strings.EqualFold(m.cfg.Suggestions.OnCollision, "overwrite")
	var ranges []split.Range
	for _, suggestion := range suggestions {
		name := fileutil.Sanitize(suggestion.Name)
		if name == "" {
			continue
		}
		if existing := findSegmentNamed(outputDir, name); existing != "" {
			if !overwrite {
				continue
			}
			if err := os.Remove(existing); err != nil {
				m.logger.Warn("could not replace colliding segment", logging.Error(err))
				continue
			}
		}
		ranges = append(ranges, split.Range{Name: suggestion.Name, From: suggestion.Start, To: suggestion.End})
	}
	return ranges
}

// findSegmentNamed locates an existing segment whose filename matches the
// suggested name, ignoring case so title-casing does not hide a collision.
func findSegmentNamed(outputDir, name string) string {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return ""
	}
	want := strings.ToLower(name) + ".mp4"
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(entry.Name()) == want {
			return filepath.Join(outputDir, entry.Name())
		}
	}
	return ""
}
