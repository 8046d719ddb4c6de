package config

const (
	defaultDataDir           = "~/.local/share/clipper/data"
	defaultLogDir            = "~/.local/share/clipper/logs"
	defaultAPIBind           = "127.0.0.1:8572"
	defaultFont              = "Calibri-Bold"
	defaultFontSize          = 70
	defaultFontColor         = "#FFFFFF"
	defaultOutlineColor      = "#000000"
	defaultOutlineWidth      = 4
	defaultVerticalAnchor    = "bottom"
	defaultVerticalOffset    = 550
	defaultZoomFactor        = 1.5
	defaultWordsPerCaption   = 3
	defaultTargetWidth       = 1080
	defaultTargetHeight      = 1920
	defaultSegmentDuration   = 52
	defaultFetchFormat       = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	defaultWhisperModel      = "base"
	defaultLLMBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMTimeoutSeconds = 60
	defaultMaxWorkers        = 2
	defaultHeartbeatInterval = 15
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Style: Style{
			Font:            defaultFont,
			FontSize:        defaultFontSize,
			FontColor:       defaultFontColor,
			OutlineColor:    defaultOutlineColor,
			OutlineWidth:    defaultOutlineWidth,
			VerticalAnchor:  defaultVerticalAnchor,
			VerticalOffset:  defaultVerticalOffset,
			ZoomFactor:      defaultZoomFactor,
			WordsPerCaption: defaultWordsPerCaption,
			TargetWidth:     defaultTargetWidth,
			TargetHeight:    defaultTargetHeight,
		},
		Shorts: Shorts{
			Enabled:         true,
			SegmentDuration: defaultSegmentDuration,
		},
		Fetch: Fetch{
			Format: defaultFetchFormat,
		},
		Transcription: Transcription{
			Model: defaultWhisperModel,
		},
		Suggestions: Suggestions{
			OnCollision: "skip",
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Workflow: Workflow{
			MaxWorkers:        defaultMaxWorkers,
			HeartbeatInterval: defaultHeartbeatInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
