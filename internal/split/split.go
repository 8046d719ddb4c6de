// Package split cuts a rendered video into shorts-sized segments. Fixed
// splitting stream-copies on segment boundaries; precise cuts re-encode so
// the output starts exactly at the requested time.
package split

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"clipper/internal/fileutil"
	"clipper/internal/logging"
	"clipper/internal/services"
)

// Range is a single cut expressed in seconds. Name is optional; unnamed
// ranges fall back to the video title plus a part number.
type Range struct {
	Name string
	From float64
	To   float64
}

// Splitter produces segment files from a rendered video.
type Splitter struct {
	ffmpeg string
	logger *slog.Logger
	titler cases.Caser
}

// NewSplitter builds a splitter around the given ffmpeg binary.
func NewSplitter(ffmpegBinary string, logger *slog.Logger) *Splitter {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &Splitter{
		ffmpeg: ffmpegBinary,
		logger: logging.NewComponentLogger(logger, "split"),
		titler: cases.Title(language.English),
	}
}

// SegmentCount returns how many fixed segments a video of the given duration
// produces: full segments plus one for any remainder.
func SegmentCount(duration, segmentDuration float64) int {
	if duration <= 0 || segmentDuration <= 0 {
		return 0
	}
	count := int(duration / segmentDuration)
	if math.Mod(duration, segmentDuration) > 0 {
		count++
	}
	return count
}

// SegmentName builds the output filename for one segment, sanitizing the
// human title and title-casing it for display.
func (s *Splitter) SegmentName(title string, part int) string {
	clean := fileutil.Sanitize(title)
	if clean == "" {
		clean = "clip"
	}
	clean = s.titler.String(clean)
	return fmt.Sprintf("%s - Part %d.mp4", clean, part)
}

// Fixed splits inputPath into stream-copied segments of segmentDuration
// seconds under outputDir. Progress reports completed segments over the
// expected total; the returned paths are ordered by part number.
func (s *Splitter) Fixed(ctx context.Context, inputPath, outputDir, title string, duration, segmentDuration float64, progress func(percent float64)) ([]string, error) {
	if segmentDuration <= 0 {
		return nil, services.Wrap(services.ErrValidation, "split", "fixed", "segment duration must be positive", nil)
	}
	expected := SegmentCount(duration, segmentDuration)
	if expected == 0 {
		return nil, services.Wrap(services.ErrValidation, "split", "fixed", "video duration is unknown", nil)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrSplit, "split", "fixed", "create output directory", err)
	}

	pattern := filepath.Join(outputDir, "part_%d.mp4")
	cmd := exec.CommandContext(ctx, s.ffmpeg,
		"-y", "-hide_banner",
		"-i", inputPath,
		"-c", "copy", "-map", "0",
		"-segment_time", fmt.Sprintf("%g", segmentDuration),
		"-f", "segment",
		"-reset_timestamps", "1",
		pattern,
	)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrSplit, "split", "fixed", "attach stderr", err)
	}
	cmd.Stdout = cmd.Stderr

	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "split", "fixed", "start ffmpeg", err)
	}

	// ffmpeg logs "Opening '<file>' for writing" as each segment starts.
	scanner := bufio.NewScanner(stderr)
	opened := 0
	var lastLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) != "" {
			lastLine = line
		}
		if strings.Contains(line, "Opening") && strings.Contains(line, ".mp4") {
			opened++
			if progress != nil {
				percent := float64(opened) / float64(expected) * 100
				if percent > 100 {
					percent = 100
				}
				progress(percent)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "split", "fixed",
			strings.TrimSpace(lastLine), err)
	}

	paths, err := collectSegments(outputDir, title, s)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, services.Wrap(services.ErrSplit, "split", "fixed", "no segments produced", nil)
	}
	if progress != nil {
		progress(100)
	}
	s.logger.InfoContext(ctx, "split complete",
		logging.Int("segments", len(paths)),
		logging.String("output_dir", outputDir),
	)
	return paths, nil
}

// Ranges stream-copies each requested range of an already-encoded file into
// its own segment; no re-encode happens. Failures are per-range: a bad range
// is reported but does not abort the remaining cuts. An error is returned
// only when every range fails.
func (s *Splitter) Ranges(ctx context.Context, inputPath, outputDir, title string, ranges []Range, progress func(percent float64)) ([]string, error) {
	if len(ranges) == 0 {
		return nil, services.Wrap(services.ErrValidation, "split", "ranges", "no ranges requested", nil)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrSplit, "split", "ranges", "create output directory", err)
	}

	var paths []string
	var failures []error
	for i, r := range ranges {
		if r.To <= r.From || r.From < 0 {
			failures = append(failures, fmt.Errorf("range %d: invalid span %.2f-%.2f", i+1, r.From, r.To))
			continue
		}
		name := s.rangeName(r, title, i+1)
		name = fileutil.UniqueName(name, func(candidate string) bool {
			return fileutil.NonEmptyFile(filepath.Join(outputDir, candidate))
		})
		outputPath := filepath.Join(outputDir, name)
		if err := s.copyRange(ctx, inputPath, outputPath, r); err != nil {
			failures = append(failures, fmt.Errorf("range %d: %w", i+1, err))
			continue
		}
		paths = append(paths, outputPath)
		if progress != nil {
			progress(float64(i+1) / float64(len(ranges)) * 100)
		}
	}

	if len(paths) == 0 {
		return nil, services.Wrap(services.ErrSplit, "split", "ranges",
			fmt.Sprintf("all %d ranges failed", len(ranges)), joinErrors(failures))
	}
	for _, failure := range failures {
		s.logger.Warn("range cut skipped", logging.Error(failure))
	}
	if progress != nil {
		progress(100)
	}
	return paths, nil
}

// rangeName prefers the range's own name over the title-derived fallback.
func (s *Splitter) rangeName(r Range, title string, part int) string {
	clean := fileutil.Sanitize(r.Name)
	if clean == "" {
		return s.SegmentName(title, part)
	}
	return s.titler.String(clean) + ".mp4"
}

// copyRange cuts one span of an already-encoded file without re-encoding.
func (s *Splitter) copyRange(ctx context.Context, inputPath, outputPath string, r Range) error {
	cmd := exec.CommandContext(ctx, s.ffmpeg, copyRangeArgs(inputPath, outputPath, r)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "split", "copy",
			strings.TrimSpace(string(output)), err)
	}
	return nil
}

func copyRangeArgs(inputPath, outputPath string, r Range) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", r.From),
		"-to", fmt.Sprintf("%.3f", r.To),
		"-i", inputPath,
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		outputPath,
	}
}

// Precise re-encodes one exact time span of inputPath to outputPath. Used
// when the cut boundary falls on a raw timeline where keyframe-bound
// stream copy would land on the wrong frame.
func (s *Splitter) Precise(ctx context.Context, inputPath, outputPath string, r Range) error {
	cmd := exec.CommandContext(ctx, s.ffmpeg, preciseArgs(inputPath, outputPath, r)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "split", "precise",
			strings.TrimSpace(string(output)), err)
	}
	return nil
}

func preciseArgs(inputPath, outputPath string, r Range) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-ss", fmt.Sprintf("%.3f", r.From),
		"-to", fmt.Sprintf("%.3f", r.To),
		"-map", "0:v:0", "-map", "0:a:0?",
		"-c:v", "libx264",
		"-c:a", "aac",
		outputPath,
	}
}

// collectSegments renames the raw part_N files to titled names and returns
// them ordered by part number.
func collectSegments(outputDir, title string, s *Splitter) ([]string, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, services.Wrap(services.ErrSplit, "split", "collect", "list output directory", err)
	}
	type segment struct {
		part int
		name string
	}
	var segments []segment
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var part int
		if _, err := fmt.Sscanf(entry.Name(), "part_%d.mp4", &part); err != nil {
			continue
		}
		segments = append(segments, segment{part: part, name: entry.Name()})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].part < segments[j].part })

	paths := make([]string, 0, len(segments))
	for _, seg := range segments {
		// ffmpeg numbers segments from zero; parts are 1-based for humans.
		titled := s.SegmentName(title, seg.part+1)
		titled = fileutil.UniqueName(titled, func(candidate string) bool {
			if candidate == seg.name {
				return false
			}
			return fileutil.NonEmptyFile(filepath.Join(outputDir, candidate))
		})
		target := filepath.Join(outputDir, titled)
		if err := os.Rename(filepath.Join(outputDir, seg.name), target); err != nil {
			return nil, services.Wrap(services.ErrSplit, "split", "collect", "rename segment", err)
		}
		paths = append(paths, target)
	}
	return paths, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	messages := make([]string, len(errs))
	for i, err := range errs {
		messages[i] = err.Error()
	}
	return fmt.Errorf("%s", strings.Join(messages, "; "))
}
