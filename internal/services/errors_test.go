package services_test

import (
	"errors"
	"strings"
	"testing"

	"clipper/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("connection reset")
	err := services.Wrap(services.ErrTransient, "acquire", "download", "fetch failed", base)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected cause preserved, got %v", err)
	}
	if !strings.Contains(err.Error(), "acquire: download: fetch failed") {
		t.Fatalf("unexpected detail: %v", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected default transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected generic detail, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	transient := services.Wrap(services.ErrTransient, "acquire", "download", "timeout", nil)
	permanent := services.Wrap(services.ErrValidation, "create", "validate", "empty source", nil)
	if !services.IsTransient(transient) {
		t.Fatal("expected transient classification")
	}
	if services.IsTransient(permanent) {
		t.Fatal("validation error misclassified as transient")
	}
}

func TestFailureMessage(t *testing.T) {
	if msg := services.FailureMessage("compose", nil); msg != "compose failed without error detail" {
		t.Fatalf("unexpected message: %q", msg)
	}
	err := services.Wrap(services.ErrComposition, "compose", "encode", "ffmpeg exited 1", nil)
	if msg := services.FailureMessage("compose", err); !strings.Contains(msg, "ffmpeg exited 1") {
		t.Fatalf("unexpected message: %q", msg)
	}
}
