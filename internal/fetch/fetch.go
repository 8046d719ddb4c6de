// Package fetch acquires source videos. URLs resolve through yt-dlp into the
// artifact cache; uploaded files register directly under a synthetic source
// identity.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"clipper/internal/artifacts"
	"clipper/internal/fileutil"
	"clipper/internal/logging"
	"clipper/internal/services"
)

// Source identifies an acquired video in the artifact cache.
type Source struct {
	ID    string
	Title string
	Path  string
}

// Fetcher resolves a source reference into a cached video file.
type Fetcher interface {
	// Resolve returns the source identity and title for a reference without
	// downloading anything.
	Resolve(ctx context.Context, ref string) (Source, error)
	// Fetch downloads the video into the artifact cache when it is not
	// already present.
	Fetch(ctx context.Context, ref string) (Source, error)
}

// YTDLP shells out to yt-dlp for URL-based sources.
type YTDLP struct {
	binary      string
	format      string
	cookiesFile string
	store       *artifacts.Store
	logger      *slog.Logger
}

// NewYTDLP builds a yt-dlp fetcher writing into the given artifact store.
func NewYTDLP(binary, format, cookiesFile string, store *artifacts.Store, logger *slog.Logger) *YTDLP {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if strings.TrimSpace(format) == "" {
		format = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	}
	return &YTDLP{
		binary:      binary,
		format:      format,
		cookiesFile: strings.TrimSpace(cookiesFile),
		store:       store,
		logger:      logging.NewComponentLogger(logger, "fetch"),
	}
}

type videoInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Resolve asks yt-dlp for the video's metadata without downloading it.
func (y *YTDLP) Resolve(ctx context.Context, ref string) (Source, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Source{}, services.Wrap(services.ErrValidation, "fetch", "resolve", "empty source reference", nil)
	}

	args := []string{"--dump-json", "--no-download", "--quiet"}
	args = y.appendCookies(args)
	args = append(args, ref)

	cmd := exec.CommandContext(ctx, y.binary, args...)
	output, err := cmd.Output()
	if err != nil {
		return Source{}, classify("resolve", err)
	}

	var info videoInfo
	if err := json.Unmarshal(output, &info); err != nil {
		return Source{}, services.Wrap(services.ErrAcquisition, "fetch", "resolve", "decode video metadata", err)
	}
	if info.ID == "" {
		return Source{}, services.Wrap(services.ErrAcquisition, "fetch", "resolve", "metadata carries no video id", nil)
	}
	title := fileutil.Sanitize(info.Title)
	if title == "" {
		title = "video"
	}
	return Source{ID: info.ID, Title: title, Path: y.store.VideoPath(info.ID)}, nil
}

// Fetch downloads the video into the cache, reusing an existing copy when
// one is present.
func (y *YTDLP) Fetch(ctx context.Context, ref string) (Source, error) {
	source, err := y.Resolve(ctx, ref)
	if err != nil {
		return Source{}, err
	}

	if y.store.HasVideo(source.ID) {
		y.logger.InfoContext(ctx, "source video cache hit",
			logging.String(logging.FieldSourceID, source.ID),
		)
		return source, nil
	}

	args := []string{
		"--format", y.format,
		"--merge-output-format", "mp4",
		"--quiet",
		"--output", source.Path,
	}
	args = y.appendCookies(args)
	args = append(args, ref)

	cmd := exec.CommandContext(ctx, y.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Source{}, classifyWithDetail("download", strings.TrimSpace(string(output)), err)
	}
	if !fileutil.NonEmptyFile(source.Path) {
		return Source{}, services.Wrap(services.ErrAcquisition, "fetch", "download", "yt-dlp produced no output file", nil)
	}

	y.logger.InfoContext(ctx, "source video downloaded",
		logging.String(logging.FieldSourceID, source.ID),
		logging.String("path", source.Path),
	)
	return source, nil
}

func (y *YTDLP) appendCookies(args []string) []string {
	if y.cookiesFile == "" {
		return args
	}
	if _, err := os.Stat(y.cookiesFile); err != nil {
		return args
	}
	return append(args, "--cookies", y.cookiesFile)
}

// Upload registers a caller-provided file in the artifact cache under a
// synthetic source identity derived from the task.
type Upload struct {
	store  *artifacts.Store
	logger *slog.Logger
}

// NewUpload builds an upload registrar against the artifact store.
func NewUpload(store *artifacts.Store, logger *slog.Logger) *Upload {
	return &Upload{store: store, logger: logging.NewComponentLogger(logger, "fetch")}
}

// Register copies the uploaded file into the cache keyed by the task. The
// source id is unique per task, so uploads never alias each other.
func (u *Upload) Register(ctx context.Context, taskID, uploadPath string) (Source, error) {
	uploadPath = strings.TrimSpace(uploadPath)
	if uploadPath == "" {
		return Source{}, services.Wrap(services.ErrValidation, "fetch", "upload", "empty upload path", nil)
	}
	if !fileutil.NonEmptyFile(uploadPath) {
		return Source{}, services.Wrap(services.ErrValidation, "fetch", "upload",
			fmt.Sprintf("upload %s is missing or empty", uploadPath), nil)
	}

	sourceID := "uploaded_" + taskID
	title := fileutil.Sanitize(strings.TrimSuffix(baseName(uploadPath), extOf(uploadPath)))
	if title == "" {
		title = "upload"
	}

	destination := u.store.VideoPath(sourceID)
	if err := fileutil.CopyFile(uploadPath, destination); err != nil {
		return Source{}, services.Wrap(services.ErrAcquisition, "fetch", "upload", "copy upload into cache", err)
	}
	u.logger.InfoContext(ctx, "upload registered",
		logging.String(logging.FieldSourceID, sourceID),
		logging.String("path", destination),
	)
	return Source{ID: sourceID, Title: title, Path: destination}, nil
}

// transientMarkers are yt-dlp failure fragments that indicate a retry with a
// fresh task may succeed.
var transientMarkers = []string{
	"timed out",
	"timeout",
	"connection reset",
	"connection refused",
	"temporary failure",
	"http error 429",
	"http error 500",
	"http error 502",
	"http error 503",
}

func classify(operation string, err error) error {
	detail := ""
	if exitErr, ok := err.(*exec.ExitError); ok {
		detail = strings.TrimSpace(string(exitErr.Stderr))
	}
	return classifyWithDetail(operation, detail, err)
}

func classifyWithDetail(operation, detail string, err error) error {
	lowered := strings.ToLower(detail)
	for _, marker := range transientMarkers {
		if strings.Contains(lowered, marker) {
			wrapped := services.Wrap(services.ErrAcquisition, "fetch", operation, detail, err)
			return fmt.Errorf("%w: %w", services.ErrTransient, wrapped)
		}
	}
	return services.Wrap(services.ErrAcquisition, "fetch", operation, detail, err)
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func extOf(path string) string {
	name := baseName(path)
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[i:]
	}
	return ""
}
