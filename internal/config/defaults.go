package config

import (
	"llmrelay/internal/provider"
	"llmrelay/internal/reply"
	"llmrelay/internal/trigger"
)

// DefaultSystemPrompt steers tone and length for chat-sized answers.
const DefaultSystemPrompt = `You are an AI Specialist for a homelab environment.

Style:
- Helpful and clear.
- Technical but friendly.
- Detailed when useful, but avoid overly long answers.
- Prefer short paragraphs.
- Use bullets for steps.
- Keep responses suitable for Telegram chat.
- Default to concise unless the user asks for deep detail.`

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			LogFormat:             "text",
			MaxConcurrentMessages: 5,
			ShutdownGraceSeconds:  10,
		},
		Telegram: TelegramConfig{
			ParseMode:     "Markdown",
			MaxMessageLen: reply.DefaultMaxMessageLen,
		},
		Ollama: OllamaConfig{
			SystemPrompt:   DefaultSystemPrompt,
			TimeoutSeconds: int(provider.DefaultTimeout.Seconds()),
			NoResponse:     provider.DefaultNoResponse,
		},
		Trigger: TriggerConfig{
			Prefixes: append([]string(nil), trigger.DefaultPrefixes...),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
			Path:    "/metrics",
		},
	}
}
