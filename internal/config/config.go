package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Style contains caption rendering and framing parameters. These were global
// mutable settings in earlier incarnations of the pipeline; they are now
// explicit per-stage inputs.
type Style struct {
	Font            string  `toml:"font"`
	FontSize        int     `toml:"font_size"`
	FontColor       string  `toml:"font_color"`
	OutlineColor    string  `toml:"outline_color"`
	OutlineWidth    int     `toml:"outline_width"`
	VerticalAnchor  string  `toml:"vertical_anchor"`
	VerticalOffset  int     `toml:"vertical_offset"`
	ZoomFactor      float64 `toml:"zoom_factor"`
	WordsPerCaption int     `toml:"words_per_caption"`
	TargetWidth     int     `toml:"target_width"`
	TargetHeight    int     `toml:"target_height"`
}

// Shorts contains configuration for the split stage.
type Shorts struct {
	Enabled         bool    `toml:"enabled"`
	SegmentDuration float64 `toml:"segment_duration"`
}

// Fetch contains configuration for source acquisition.
type Fetch struct {
	CookiesFile string `toml:"cookies_file"`
	Format      string `toml:"format"`
}

// Transcription contains configuration for the speech-to-text engine.
type Transcription struct {
	Model string `toml:"model"`
}

// Suggestions contains configuration for LLM-suggested clip boundaries.
type Suggestions struct {
	Enabled bool `toml:"enabled"`
	// OnCollision selects what happens when a refreshed suggestion reuses an
	// existing segment name: "skip" keeps the old segment, "overwrite"
	// replaces it.
	OnCollision string `toml:"on_collision"`
}

// LLM contains connection settings for the suggestion collaborator.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Workflow contains daemon timing and concurrency settings.
type Workflow struct {
	MaxWorkers        int `toml:"max_workers"`
	HeartbeatInterval int `toml:"heartbeat_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for clipperd.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Style         Style         `toml:"style"`
	Shorts        Shorts        `toml:"shorts"`
	Fetch         Fetch         `toml:"fetch"`
	Transcription Transcription `toml:"transcription"`
	Suggestions   Suggestions   `toml:"suggestions"`
	LLM           LLM           `toml:"llm"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/clipper/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The boolean reports
// whether a config file was found.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("clipper.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable name.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media probing.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// WhisperBinary returns the speech-to-text executable name.
func (c *Config) WhisperBinary() string {
	return "whisper"
}

// YTDLPBinary returns the downloader executable name.
func (c *Config) YTDLPBinary() string {
	return "yt-dlp"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
