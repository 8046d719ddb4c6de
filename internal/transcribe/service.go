package transcribe

import (
	"context"
	"log/slog"

	"clipper/internal/artifacts"
	"clipper/internal/logging"
	"clipper/internal/services"
)

// Service resolves transcripts through the artifact cache, falling back to
// the recognition engine on a miss.
type Service struct {
	engine Engine
	store  *artifacts.Store
	logger *slog.Logger
}

// NewService builds a caching transcript service.
func NewService(engine Engine, store *artifacts.Store, logger *slog.Logger) *Service {
	return &Service{
		engine: engine,
		store:  store,
		logger: logging.NewComponentLogger(logger, "transcribe"),
	}
}

// Transcript returns the transcript for the source, using the cached copy
// when one exists. audioDuration (seconds) scales engine progress into a
// percentage for the progress callback; progress may be nil. On a cache hit
// the progress snaps straight to 100.
func (s *Service) Transcript(ctx context.Context, sourceID, audioPath string, audioDuration float64, progress func(percent float64)) (*Transcript, error) {
	report := func(percent float64) {
		if progress != nil {
			progress(percent)
		}
	}

	if s.store.HasTranscript(sourceID) {
		var transcript Transcript
		if err := s.store.LoadTranscript(sourceID, &transcript); err == nil {
			s.logger.InfoContext(ctx, "transcript cache hit",
				logging.String(logging.FieldSourceID, sourceID),
				logging.Int("segments", len(transcript.Segments)),
			)
			report(100)
			return &transcript, nil
		}
		// Corrupt cache entry; fall through and regenerate.
		s.logger.Warn("discarding unreadable cached transcript",
			logging.String(logging.FieldSourceID, sourceID),
		)
	}

	observe := func(processedSeconds float64) {
		if audioDuration <= 0 {
			return
		}
		report(processedSeconds / audioDuration * 100)
	}

	transcript, err := s.engine.Transcribe(ctx, audioPath, observe)
	if err != nil {
		return nil, err
	}
	if transcript == nil || len(transcript.Segments) == 0 {
		return nil, services.Wrap(services.ErrTranscription, "transcribe", "run",
			"engine produced no segments", nil)
	}

	if err := s.store.SaveTranscript(ctx, sourceID, transcript); err != nil {
		// A failed cache write is not fatal; the transcript is still usable.
		s.logger.Warn("transcript cache write failed",
			logging.String(logging.FieldSourceID, sourceID),
			logging.Error(err),
		)
	}

	s.logger.InfoContext(ctx, "transcription complete",
		logging.String(logging.FieldSourceID, sourceID),
		logging.Int("segments", len(transcript.Segments)),
		logging.Int("words", transcript.WordCount()),
	)
	report(100)
	return transcript, nil
}
