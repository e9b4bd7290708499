package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// NewProvider builds the provider named in cfg. Calls go through retries
// first and are recorded per attempt, so a retried reply shows up as
// several rows in `crosstask llm list`.
func NewProvider(ctx context.Context, cfg Config, sink RequestSink, logger *slog.Logger) (Provider, error) {
	var (
		base Provider
		err  error
	)
	switch cfg.Provider {
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	case "openrouter":
		base, err = NewOpenRouterProvider(cfg.OpenRouter)
	case "mock":
		base = NewStub()
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}
	return WithRetry(WithRecording(base, cfg.Provider, sink, logger), cfg.Retry, logger), nil
}
