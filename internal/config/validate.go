package config

import (
	"errors"
	"fmt"
	"strings"
)

var validAnchors = map[string]struct{}{
	"top":    {},
	"center": {},
	"bottom": {},
}

var validCollisionPolicies = map[string]struct{}{
	"skip":      {},
	"overwrite": {},
}

// Validate checks configuration values for consistency.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		problems = append(problems, "paths.api_bind must not be empty")
	}

	if c.Style.ZoomFactor < 1.0 {
		problems = append(problems, fmt.Sprintf("style.zoom_factor must be >= 1.0, got %.2f", c.Style.ZoomFactor))
	}
	if c.Style.WordsPerCaption < 1 {
		problems = append(problems, fmt.Sprintf("style.words_per_caption must be >= 1, got %d", c.Style.WordsPerCaption))
	}
	if c.Style.TargetWidth <= 0 || c.Style.TargetHeight <= 0 {
		problems = append(problems, fmt.Sprintf("style target frame must be positive, got %dx%d", c.Style.TargetWidth, c.Style.TargetHeight))
	}
	if _, ok := validAnchors[c.Style.VerticalAnchor]; !ok {
		problems = append(problems, fmt.Sprintf("style.vertical_anchor must be top, center, or bottom, got %q", c.Style.VerticalAnchor))
	}
	if c.Style.FontSize <= 0 {
		problems = append(problems, fmt.Sprintf("style.font_size must be positive, got %d", c.Style.FontSize))
	}

	if c.Shorts.SegmentDuration < 0 {
		problems = append(problems, fmt.Sprintf("shorts.segment_duration must be >= 0, got %.2f", c.Shorts.SegmentDuration))
	}

	if _, ok := validCollisionPolicies[c.Suggestions.OnCollision]; !ok {
		problems = append(problems, fmt.Sprintf("suggestions.on_collision must be skip or overwrite, got %q", c.Suggestions.OnCollision))
	}
	if c.Suggestions.Enabled && c.LLM.APIKey == "" {
		problems = append(problems, "suggestions.enabled requires llm.api_key")
	}

	if c.Workflow.MaxWorkers < 1 {
		problems = append(problems, fmt.Sprintf("workflow.max_workers must be >= 1, got %d", c.Workflow.MaxWorkers))
	}
	if c.Workflow.HeartbeatInterval < 1 {
		problems = append(problems, fmt.Sprintf("workflow.heartbeat_interval must be >= 1, got %d", c.Workflow.HeartbeatInterval))
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format must be console or json, got %q", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
