package config

import "strings"

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(strings.TrimSpace(c.Paths.DataDir)); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return err
	}
	if c.Fetch.CookiesFile, err = expandPath(strings.TrimSpace(c.Fetch.CookiesFile)); err != nil {
		return err
	}

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Style.VerticalAnchor = strings.ToLower(strings.TrimSpace(c.Style.VerticalAnchor))
	c.Suggestions.OnCollision = strings.ToLower(strings.TrimSpace(c.Suggestions.OnCollision))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Transcription.Model = strings.TrimSpace(c.Transcription.Model)
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)

	if c.Suggestions.OnCollision == "" {
		c.Suggestions.OnCollision = "skip"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}
