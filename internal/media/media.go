// Package media inspects video containers and extracts audio tracks by
// shelling out to ffprobe and ffmpeg.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"clipper/internal/services"
)

// Info summarizes the properties of a video file that the pipeline needs.
type Info struct {
	Duration float64
	Width    int
	Height   int
	FPS      float64
}

type probeResult struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

// Inspector probes and transforms media files using external tools.
type Inspector struct {
	ffprobe string
	ffmpeg  string
}

// NewInspector builds an Inspector around the given tool binaries. Empty
// names fall back to the binaries on PATH.
func NewInspector(ffprobeBinary, ffmpegBinary string) *Inspector {
	if strings.TrimSpace(ffprobeBinary) == "" {
		ffprobeBinary = "ffprobe"
	}
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &Inspector{ffprobe: ffprobeBinary, ffmpeg: ffmpegBinary}
}

// Probe runs ffprobe against path and returns duration, dimensions, and frame
// rate of the first video stream.
func (i *Inspector) Probe(ctx context.Context, path string) (Info, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Info{}, services.Wrap(services.ErrValidation, "media", "probe", "empty path", nil)
	}

	cmd := exec.CommandContext(ctx, i.ffprobe,
		"-v", "error", "-hide_banner",
		"-show_format", "-show_streams",
		"-of", "json", "--", path,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Info{}, services.Wrap(services.ErrExternalTool, "media", "probe",
			strings.TrimSpace(string(output)), err)
	}

	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return Info{}, services.Wrap(services.ErrExternalTool, "media", "probe", "parse ffprobe output", err)
	}

	info := Info{Duration: parseFloat(result.Format.Duration)}
	for _, stream := range result.Streams {
		if !strings.EqualFold(stream.CodecType, "video") {
			continue
		}
		info.Width = stream.Width
		info.Height = stream.Height
		info.FPS = parseFrameRate(stream.AvgFrameRate)
		if info.Duration == 0 {
			info.Duration = parseFloat(stream.Duration)
		}
		break
	}

	if info.Width <= 0 || info.Height <= 0 {
		return Info{}, services.Wrap(services.ErrValidation, "media", "probe",
			fmt.Sprintf("no usable video stream in %s", path), nil)
	}
	if info.Duration <= 0 {
		return Info{}, services.Wrap(services.ErrValidation, "media", "probe",
			fmt.Sprintf("could not determine duration of %s", path), nil)
	}
	return info, nil
}

// ExtractAudio writes the first audio track of videoPath to audioPath as
// 16 kHz mono PCM, the layout speech models expect.
func (i *Inspector) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	if strings.TrimSpace(videoPath) == "" || strings.TrimSpace(audioPath) == "" {
		return services.Wrap(services.ErrValidation, "media", "extract_audio", "empty path", nil)
	}
	cmd := exec.CommandContext(ctx, i.ffmpeg,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		audioPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "media", "extract_audio",
			strings.TrimSpace(string(output)), err)
	}
	return nil
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(parsed) || parsed < 0 {
		return 0
	}
	return parsed
}

// parseFrameRate handles ffprobe's rational frame rates such as "30000/1001".
func parseFrameRate(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" || value == "0/0" {
		return 0
	}
	if num, den, ok := strings.Cut(value, "/"); ok {
		n := parseFloat(num)
		d := parseFloat(den)
		if d == 0 {
			return 0
		}
		return n / d
	}
	return parseFloat(value)
}

// LookPath reports whether the named binary resolves on PATH.
func LookPath(binary string) error {
	if strings.TrimSpace(binary) == "" {
		return errors.New("media: empty binary name")
	}
	_, err := exec.LookPath(binary)
	return err
}
