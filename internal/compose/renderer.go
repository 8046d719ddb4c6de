package compose

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"clipper/internal/config"
	"clipper/internal/logging"
	"clipper/internal/services"
)

// Request describes one render job.
type Request struct {
	InputPath    string
	SubtitlePath string
	OutputPath   string
	SourceWidth  int
	SourceHeight int
	Duration     float64
	Style        config.Style
	Progress     func(percent float64)
}

// Renderer drives ffmpeg to produce the composed vertical video.
type Renderer struct {
	ffmpeg string
	logger *slog.Logger
}

// NewRenderer builds a renderer around the given ffmpeg binary.
func NewRenderer(ffmpegBinary string, logger *slog.Logger) *Renderer {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &Renderer{
		ffmpeg: ffmpegBinary,
		logger: logging.NewComponentLogger(logger, "compose"),
	}
}

// Render composes the input into req.OutputPath. The output is written to a
// temp file in the destination directory and renamed only after ffmpeg exits
// cleanly, so a partially rendered file never lands at the final path.
func (r *Renderer) Render(ctx context.Context, req Request) error {
	if strings.TrimSpace(req.InputPath) == "" || strings.TrimSpace(req.OutputPath) == "" {
		return services.Wrap(services.ErrValidation, "compose", "render", "input and output paths are required", nil)
	}
	if req.Duration <= 0 {
		return services.Wrap(services.ErrValidation, "compose", "render", "duration must be positive", nil)
	}

	geometry, err := ComputeGeometry(req.SourceWidth, req.SourceHeight,
		req.Style.TargetWidth, req.Style.TargetHeight, req.Style.ZoomFactor)
	if err != nil {
		return err
	}

	filter := BuildFilterGraph(geometry, req.SubtitlePath, req.Style, req.Duration)

	tempPath := req.OutputPath + ".rendering.mp4"
	defer os.Remove(tempPath)

	args := []string{
		"-y", "-hide_banner", "-nostats",
		"-i", req.InputPath,
		"-filter_complex", filter,
		"-map", "[out]",
		"-map", "0:a?",
		"-c:v", "libx264",
		"-preset", "medium",
		"-b:v", "8000k",
		"-c:a", "aac",
		"-progress", "pipe:1",
		"-f", "mp4",
		tempPath,
	}

	cmd := exec.CommandContext(ctx, r.ffmpeg, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return services.Wrap(services.ErrComposition, "compose", "render", "attach progress pipe", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrExternalTool, "compose", "render", "start ffmpeg", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		seconds, ok := ParseProgressLine(scanner.Text())
		if !ok || req.Progress == nil {
			continue
		}
		percent := seconds / req.Duration * 100
		if percent > 100 {
			percent = 100
		}
		req.Progress(percent)
	}

	if err := cmd.Wait(); err != nil {
		detail := lastLines(stderr.String(), 5)
		return services.Wrap(services.ErrExternalTool, "compose", "render", detail, err)
	}

	if err := os.Rename(tempPath, req.OutputPath); err != nil {
		return services.Wrap(services.ErrComposition, "compose", "render", "commit rendered file", err)
	}
	if req.Progress != nil {
		req.Progress(100)
	}
	r.logger.InfoContext(ctx, "render complete",
		logging.String("output", req.OutputPath),
		logging.Int("scaled_width", geometry.ScaledW),
		logging.Int("scaled_height", geometry.ScaledH),
	)
	return nil
}

// BuildFilterGraph assembles the filter_complex string: black canvas, scaled
// and centered source, then subtitles burned in with the configured style.
func BuildFilterGraph(g Geometry, subtitlePath string, style config.Style, duration float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "color=c=black:s=%dx%d:d=%.3f[bg];", g.TargetW, g.TargetH, duration)
	fmt.Fprintf(&b, "[0:v]scale=%d:%d[scaled];", g.ScaledW, g.ScaledH)
	fmt.Fprintf(&b, "[bg][scaled]overlay=%d:%d:shortest=1[framed];", g.OverlayX, g.OverlayY)
	if strings.TrimSpace(subtitlePath) != "" {
		fmt.Fprintf(&b, "[framed]subtitles=%s:force_style='%s'[out]",
			escapeFilterPath(subtitlePath), forceStyle(style))
	} else {
		b.WriteString("[framed]null[out]")
	}
	return b.String()
}

// forceStyle renders the caption style as ASS override fields.
func forceStyle(style config.Style) string {
	fields := []string{
		"FontName=" + style.Font,
		"FontSize=" + strconv.Itoa(style.FontSize),
		"PrimaryColour=" + assColor(style.FontColor),
		"OutlineColour=" + assColor(style.OutlineColor),
		"Outline=" + strconv.Itoa(style.OutlineWidth),
		"BorderStyle=1",
		"Alignment=" + strconv.Itoa(assAlignment(style.VerticalAnchor)),
		"MarginV=" + strconv.Itoa(style.VerticalOffset),
	}
	return strings.Join(fields, ",")
}

func assAlignment(anchor string) int {
	switch strings.ToLower(strings.TrimSpace(anchor)) {
	case "top":
		return 8
	case "center":
		return 5
	default:
		return 2
	}
}

var namedColors = map[string]string{
	"white":  "FFFFFF",
	"black":  "000000",
	"yellow": "FFFF00",
	"red":    "FF0000",
	"green":  "00FF00",
	"blue":   "0000FF",
}

// assColor converts a "#RRGGBB" or named color into ASS &H00BBGGRR form.
func assColor(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	hex, ok := namedColors[value]
	if !ok {
		hex = strings.ToUpper(strings.TrimPrefix(value, "#"))
	}
	if len(hex) != 6 {
		return "&H00FFFFFF"
	}
	rr, gg, bb := hex[0:2], hex[2:4], hex[4:6]
	return "&H00" + bb + gg + rr
}

// escapeFilterPath quotes a path for use inside filter_complex, where colons
// and quotes are syntax.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, `\`, `\\`)
	path = strings.ReplaceAll(path, `'`, `\'`)
	path = strings.ReplaceAll(path, `:`, `\:`)
	return "'" + path + "'"
}

// ParseProgressLine extracts seconds from ffmpeg -progress "out_time=" lines.
func ParseProgressLine(line string) (float64, bool) {
	value, ok := strings.CutPrefix(strings.TrimSpace(line), "out_time=")
	if !ok {
		return 0, false
	}
	return parseClock(strings.TrimSpace(value))
}

// parseClock converts "HH:MM:SS.micro" into seconds.
func parseClock(value string) (float64, bool) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil || seconds < 0 {
		return 0, false
	}
	return float64(hours*3600+minutes*60) + seconds, true
}

func lastLines(text string, n int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " "))
}

// WriteSubtitleFile writes SRT content beside the output path and returns its
// location. Callers remove it after rendering.
func WriteSubtitleFile(outputPath, content string) (string, error) {
	path := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".srt"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", services.Wrap(services.ErrComposition, "compose", "write_subtitles", "write srt file", err)
	}
	return path, nil
}
