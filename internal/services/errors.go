package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrAcquisition   = errors.New("acquisition error")
	ErrTranscription = errors.New("transcription error")
	ErrComposition   = errors.New("composition error")
	ErrSplit         = errors.New("split error")
	ErrExternalTool  = errors.New("external tool error")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsTransient reports whether an error is tagged as a retryable failure.
// Transient failures on acquisition keep their distinction in the task's
// failure message so callers know a retry with a new task may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// FailureMessage derives the human-readable cause persisted on a failed task.
func FailureMessage(stage string, err error) string {
	if err == nil {
		if stage != "" {
			return fmt.Sprintf("%s failed without error detail", stage)
		}
		return "pipeline failed without error detail"
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		if stage != "" {
			return fmt.Sprintf("%s failed", stage)
		}
		return "pipeline failed"
	}
	return message
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
