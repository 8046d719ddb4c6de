package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"clipper/internal/fileutil"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}
	if err := fileutil.CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile failed: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestSanitize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`My Video: Part 1?`, "My Video- Part 1"},
		{`a/b\c`, "a-b-c"},
		{"  <danger>  ", "danger"},
		{"", ""},
		{"***", ""},
	}
	for _, tc := range cases {
		if got := fileutil.Sanitize(tc.in); got != tc.want {
			t.Fatalf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestUniqueName(t *testing.T) {
	existing := map[string]bool{"clip.mp4": true, "clip-2.mp4": true}
	taken := func(name string) bool { return existing[name] }

	if got := fileutil.UniqueName("fresh.mp4", taken); got != "fresh.mp4" {
		t.Fatalf("unexpected name: %q", got)
	}
	if got := fileutil.UniqueName("clip.mp4", taken); got != "clip-3.mp4" {
		t.Fatalf("unexpected disambiguation: %q", got)
	}
}

func TestNonEmptyFile(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	full := filepath.Join(dir, "full")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
		t.Fatalf("write full: %v", err)
	}
	if fileutil.NonEmptyFile(empty) {
		t.Fatal("empty file reported non-empty")
	}
	if !fileutil.NonEmptyFile(full) {
		t.Fatal("non-empty file reported empty")
	}
	if fileutil.NonEmptyFile(filepath.Join(dir, "missing")) {
		t.Fatal("missing file reported non-empty")
	}
}
