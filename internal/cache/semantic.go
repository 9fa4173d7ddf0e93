package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"documind/internal/redis"
)

const (
	responsePrefix  = "rag:response:"
	embeddingPrefix = "rag:embedding:"
)

// Embedder provides query embeddings for the semantic tier.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticCache caches answers per session in two tiers: an exact
// tier keyed by the normalized query hash, and a semantic tier that
// compares the query embedding against cached query embeddings.
type SemanticCache struct {
	client    *redis.Client
	embedder  Embedder
	threshold float64
	respTTL   time.Duration
	embTTL    time.Duration
}

type cachedEntry struct {
	Query        string    `json:"query"`
	Response     string    `json:"response"`
	Sources      []string  `json:"sources,omitempty"`
	ContextFound bool      `json:"context_found,omitempty"`
	Embedding    []float32 `json:"embedding,omitempty"`
}

// CachedAnswer is a previously completed answer with its attribution,
// so a cache hit serves the same payload as the original response.
type CachedAnswer struct {
	Response     string
	Sources      []string
	ContextFound bool
}

func (e *cachedEntry) answer() *CachedAnswer {
	return &CachedAnswer{
		Response:     e.Response,
		Sources:      e.Sources,
		ContextFound: e.ContextFound,
	}
}

// Stats reports cache occupancy per tier.
type Stats struct {
	ResponseKeys  int `json:"response_keys"`
	EmbeddingKeys int `json:"embedding_keys"`
}

func NewSemanticCache(client *redis.Client, embedder Embedder, threshold float64, respTTL, embTTL time.Duration) *SemanticCache {
	return &SemanticCache{
		client:    client,
		embedder:  embedder,
		threshold: threshold,
		respTTL:   respTTL,
		embTTL:    embTTL,
	}
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func queryHash(query string) string {
	sum := sha256.Sum256([]byte(normalizeQuery(query)))
	return hex.EncodeToString(sum[:])
}

func responseKey(sessionID, hash string) string {
	return responsePrefix + sessionID + ":" + hash
}

func embeddingKey(sessionID, hash string) string {
	return embeddingPrefix + sessionID + ":" + hash
}

// Lookup checks the exact tier first, then the semantic tier. A miss
// returns a nil answer and no error; an error means the cache itself
// failed. The returned embedding, when non-nil, is the freshly
// computed query embedding so the caller can reuse it for retrieval.
func (c *SemanticCache) Lookup(ctx context.Context, sessionID, query string) (*CachedAnswer, []float32, error) {
	if c == nil || c.client == nil {
		return nil, nil, nil
	}
	hash := queryHash(query)

	raw, err := c.client.Get(ctx, responseKey(sessionID, hash))
	if err == nil {
		var entry cachedEntry
		if jsonErr := json.Unmarshal([]byte(raw), &entry); jsonErr == nil && entry.Response != "" {
			return entry.answer(), nil, nil
		}
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		return nil, nil, fmt.Errorf("cache lookup: %w", err)
	}

	if c.embedder == nil {
		return nil, nil, nil
	}
	queryEmb, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("embed query for cache: %w", err)
	}

	keys, err := c.client.Keys(ctx, embeddingPrefix+sessionID+":*")
	if err != nil {
		return nil, queryEmb, fmt.Errorf("scan embedding keys: %w", err)
	}

	bestScore := -1.0
	bestHash := ""
	for _, key := range keys {
		raw, err := c.client.Get(ctx, key)
		if err != nil {
			continue
		}
		var entry cachedEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		score := cosineSimilarity(queryEmb, entry.Embedding)
		if score > bestScore {
			bestScore = score
			bestHash = strings.TrimPrefix(key, embeddingPrefix+sessionID+":")
		}
	}

	if bestHash != "" && bestScore >= c.threshold {
		raw, err := c.client.Get(ctx, responseKey(sessionID, bestHash))
		if err == nil {
			var entry cachedEntry
			if jsonErr := json.Unmarshal([]byte(raw), &entry); jsonErr == nil && entry.Response != "" {
				log.Printf("semantic cache hit for session %s (similarity %.3f)", sessionID, bestScore)
				return entry.answer(), queryEmb, nil
			}
		}
	}
	return nil, queryEmb, nil
}

// Store writes both tiers for a completed answer. queryEmb may be nil
// when the caller never embedded the query; only the exact tier is
// written in that case.
func (c *SemanticCache) Store(ctx context.Context, sessionID, query string, ans *CachedAnswer, queryEmb []float32) error {
	if c == nil || c.client == nil || ans == nil {
		return nil
	}
	hash := queryHash(query)

	respEntry, err := json.Marshal(cachedEntry{
		Query:        query,
		Response:     ans.Response,
		Sources:      ans.Sources,
		ContextFound: ans.ContextFound,
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, responseKey(sessionID, hash), respEntry, c.respTTL); err != nil {
		return fmt.Errorf("store response: %w", err)
	}

	if len(queryEmb) > 0 {
		embEntry, err := json.Marshal(cachedEntry{Query: query, Embedding: queryEmb})
		if err != nil {
			return fmt.Errorf("encode embedding entry: %w", err)
		}
		if err := c.client.Set(ctx, embeddingKey(sessionID, hash), embEntry, c.embTTL); err != nil {
			return fmt.Errorf("store embedding: %w", err)
		}
	}
	return nil
}

// InvalidateSession drops every cached entry for one session. Other
// sessions' entries are untouched. Returns keys removed.
func (c *SemanticCache) InvalidateSession(ctx context.Context, sessionID string) (int, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	var all []string
	for _, pattern := range []string{
		responsePrefix + sessionID + ":*",
		embeddingPrefix + sessionID + ":*",
	} {
		keys, err := c.client.Keys(ctx, pattern)
		if err != nil {
			return 0, fmt.Errorf("scan cache keys: %w", err)
		}
		all = append(all, keys...)
	}
	if len(all) == 0 {
		return 0, nil
	}
	if err := c.client.Del(ctx, all...); err != nil {
		return 0, fmt.Errorf("delete cache keys: %w", err)
	}
	return len(all), nil
}

// SessionStats counts cached keys for one session.
func (c *SemanticCache) SessionStats(ctx context.Context, sessionID string) (*Stats, error) {
	if c == nil || c.client == nil {
		return &Stats{}, nil
	}
	respKeys, err := c.client.Keys(ctx, responsePrefix+sessionID+":*")
	if err != nil {
		return nil, fmt.Errorf("scan response keys: %w", err)
	}
	embKeys, err := c.client.Keys(ctx, embeddingPrefix+sessionID+":*")
	if err != nil {
		return nil, fmt.Errorf("scan embedding keys: %w", err)
	}
	return &Stats{ResponseKeys: len(respKeys), EmbeddingKeys: len(embKeys)}, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
