// Package suggest asks a chat-completion endpoint for interesting clip
// boundaries in a transcript. Model output is untrusted text: responses are
// schema-validated strictly, and anything malformed degrades to no
// suggestions instead of failing the task.
package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"clipper/internal/config"
	"clipper/internal/logging"
	"clipper/internal/services"
)

// Suggestion is one proposed clip with its span in seconds.
type Suggestion struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
}

const systemPrompt = "You identify self-contained, engaging moments in video transcripts. " +
	"Reply with a JSON array only. Each element: " +
	`{"name": string, "description": string, "start": seconds, "end": seconds}.`

// Service calls the configured chat-completion endpoint.
type Service struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

// NewService builds a suggestion service from config; returns nil when
// suggestions are disabled so callers can skip the stage entirely.
func NewService(cfg *config.Config, logger *slog.Logger) *Service {
	if cfg == nil || !cfg.Suggestions.Enabled {
		return nil
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.LLM.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{
		apiKey:  cfg.LLM.APIKey,
		baseURL: baseURL,
		model:   cfg.LLM.Model,
		client:  &http.Client{Timeout: timeout},
		logger:  logging.NewComponentLogger(logger, "suggest"),
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Suggest returns validated clip suggestions for the transcript text, or nil
// when the model's reply cannot be trusted. Transport failures return an
// error so the caller can distinguish "no ideas" from "endpoint down"; both
// are non-fatal to the pipeline.
func (s *Service) Suggest(ctx context.Context, transcriptText string) ([]Suggestion, error) {
	if s == nil {
		return nil, nil
	}
	transcriptText = strings.TrimSpace(transcriptText)
	if transcriptText == "" {
		return nil, nil
	}

	payload, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: transcriptText},
		},
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "suggest", "request", "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "suggest", "request", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "suggest", "request", "call completion endpoint", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "suggest", "request", "read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, services.Wrap(services.ErrTransient, "suggest", "request",
			fmt.Sprintf("endpoint returned %d", resp.StatusCode), nil)
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil || len(chat.Choices) == 0 {
		s.logger.Warn("unusable completion response", logging.Error(err))
		return nil, nil
	}

	suggestions := ParseSuggestions(chat.Choices[0].Message.Content)
	s.logger.InfoContext(ctx, "suggestions received", logging.Int("count", len(suggestions)))
	return suggestions, nil
}

// ParseSuggestions extracts and validates the first JSON array found in the
// model's reply. Invalid entries are dropped; a reply with no valid entries
// yields nil.
func ParseSuggestions(reply string) []Suggestion {
	raw := extractJSONArray(reply)
	if raw == "" {
		return nil
	}
	var candidates []Suggestion
	if err := json.Unmarshal([]byte(raw), &candidates); err != nil {
		return nil
	}

	var valid []Suggestion
	for _, candidate := range candidates {
		candidate.Name = strings.TrimSpace(candidate.Name)
		candidate.Description = strings.TrimSpace(candidate.Description)
		if candidate.Name == "" {
			continue
		}
		if candidate.Start < 0 || candidate.End <= candidate.Start {
			continue
		}
		valid = append(valid, candidate)
	}
	return valid
}

// extractJSONArray returns the first balanced top-level JSON array in text.
// Models often wrap their answer in prose or code fences.
func extractJSONArray(text string) string {
	start := strings.Index(text, "[")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
