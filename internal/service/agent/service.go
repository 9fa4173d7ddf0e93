package agent

import (
	"context"
	"fmt"
	"time"

	"documind/internal/config"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// Service wraps the chat model behind the three pipeline roles:
// structuring documents, describing images, answering questions.
type Service struct {
	chatModel model.ToolCallingChatModel
	timeout   time.Duration
	retries   int
}

// newChatModel is swappable in tests.
var newChatModel = func(ctx context.Context, provider string, provCfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	switch provider {
	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	provider := cfg.Pipeline.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	chatModel, err := newChatModel(ctx, provider, provCfg)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	return &Service{
		chatModel: chatModel,
		timeout:   time.Duration(cfg.Pipeline.CallTimeout) * time.Second,
		retries:   cfg.Pipeline.Retries,
	}, nil
}

// withRetry runs fn up to retries+1 times with a per-attempt timeout.
func (s *Service) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := s.retries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if s.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		}
		lastErr = fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}
