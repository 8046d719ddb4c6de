package transcribe

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"clipper/internal/services"
)

// WhisperEngine runs the whisper CLI with word timestamps enabled and parses
// its JSON output file.
type WhisperEngine struct {
	binary string
	model  string
}

// NewWhisperEngine builds an engine around the given binary and model name.
func NewWhisperEngine(binary, model string) *WhisperEngine {
	if strings.TrimSpace(binary) == "" {
		binary = "whisper"
	}
	if strings.TrimSpace(model) == "" {
		model = "small"
	}
	return &WhisperEngine{binary: binary, model: model}
}

// segmentTimestamp matches whisper's per-segment console lines, e.g.
// "[00:12.340 --> 00:15.000]  some words". The end timestamp drives progress.
var segmentTimestamp = regexp.MustCompile(`-->\s*(\d+):(\d+)(?:\.|,)(\d+)\]`)

// Transcribe runs the whisper CLI against audioPath and decodes the JSON
// transcript it writes next to the audio file.
func (e *WhisperEngine) Transcribe(ctx context.Context, audioPath string, observe func(processedSeconds float64)) (*Transcript, error) {
	audioPath = strings.TrimSpace(audioPath)
	if audioPath == "" {
		return nil, services.Wrap(services.ErrValidation, "transcribe", "whisper", "empty audio path", nil)
	}

	outputDir, err := os.MkdirTemp("", "clipper-whisper-*")
	if err != nil {
		return nil, services.Wrap(services.ErrTranscription, "transcribe", "whisper", "create output directory", err)
	}
	defer os.RemoveAll(outputDir)

	cmd := exec.CommandContext(ctx, e.binary,
		audioPath,
		"--model", e.model,
		"--word_timestamps", "True",
		"--output_format", "json",
		"--output_dir", outputDir,
	)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrTranscription, "transcribe", "whisper", "attach stderr", err)
	}
	cmd.Stdout = cmd.Stderr

	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "transcribe", "whisper", "start whisper", err)
	}

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lastLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) != "" {
			lastLine = line
		}
		if observe == nil {
			continue
		}
		if seconds, ok := parseSegmentEnd(line); ok {
			observe(seconds)
		}
	}

	if err := cmd.Wait(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "transcribe", "whisper",
			strings.TrimSpace(lastLine), err)
	}

	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	transcriptPath := filepath.Join(outputDir, stem+".json")
	data, err := os.ReadFile(transcriptPath)
	if err != nil {
		return nil, services.Wrap(services.ErrTranscription, "transcribe", "whisper", "read transcript output", err)
	}

	var transcript Transcript
	if err := json.Unmarshal(data, &transcript); err != nil {
		return nil, services.Wrap(services.ErrTranscription, "transcribe", "whisper", "decode transcript output", err)
	}
	return &transcript, nil
}

func parseSegmentEnd(line string) (float64, bool) {
	match := segmentTimestamp.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	minutes, err1 := strconv.Atoi(match[1])
	seconds, err2 := strconv.Atoi(match[2])
	millis, err3 := strconv.Atoi(match[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return float64(minutes)*60 + float64(seconds) + float64(millis)/1000, true
}
