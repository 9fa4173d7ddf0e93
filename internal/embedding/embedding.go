package embedding

import (
	"context"
	"fmt"
	"log"
	"time"

	"documind/internal/config"

	openaiembed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
)

// Service turns text into vectors via an OpenAI-compatible endpoint.
type Service struct {
	embedder embedding.Embedder
	timeout  time.Duration
	retries  int
}

// newEmbedder is swappable in tests.
var newEmbedder = func(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	conf := &openaiembed.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
	}
	if cfg.Dim > 0 {
		dim := cfg.Dim
		conf.Dimensions = &dim
	}
	return openaiembed.NewEmbedder(ctx, conf)
}

func NewService(ctx context.Context, cfg config.EmbeddingConfig, callTimeout time.Duration, retries int) (*Service, error) {
	emb, err := newEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &Service{embedder: emb, timeout: callTimeout, retries: retries}, nil
}

// Embed produces the embedding for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vectors))
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in order. One call per batch, retried with a
// fresh per-attempt timeout on transient failures.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	attempts := s.retries + 1
	var raw [][]float64
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err = s.embedOnce(ctx, texts)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < attempts {
			log.Printf("embed attempt %d/%d failed: %v", attempt, attempts, err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(raw))
	}

	out := make([][]float32, len(raw))
	for i, vec := range raw {
		conv := make([]float32, len(vec))
		for j, v := range vec {
			conv[j] = float32(v)
		}
		out[i] = conv
	}
	return out, nil
}

func (s *Service) embedOnce(ctx context.Context, texts []string) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.embedder.EmbedStrings(ctx, texts)
}
