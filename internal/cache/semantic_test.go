package cache

import (
	"context"
	"math"
	"testing"
)

func TestNormalizeQuery(t *testing.T) {
	cases := []struct{ in, want string }{
		{"What is revenue?", "what is revenue?"},
		{"  What   is\trevenue? ", "what is revenue?"},
		{"WHAT IS REVENUE?", "what is revenue?"},
	}
	for _, tc := range cases {
		if got := normalizeQuery(tc.in); got != tc.want {
			t.Errorf("normalizeQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestQueryHashStableAcrossFormatting(t *testing.T) {
	a := queryHash("What is revenue?")
	b := queryHash("  what   IS revenue? ")
	if a != b {
		t.Errorf("equivalent queries hash differently: %s vs %s", a, b)
	}
	if a == queryHash("what is profit?") {
		t.Error("distinct queries collided")
	}
	if len(a) != 64 {
		t.Errorf("hash length %d", len(a))
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 0}, []float32{-1, 0}, -1},
	}
	for _, tc := range cases {
		if got := cosineSimilarity(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("cosineSimilarity(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}

	// degenerate inputs never score as a match
	if got := cosineSimilarity(nil, []float32{1}); got != -1 {
		t.Errorf("empty vector scored %v", got)
	}
	if got := cosineSimilarity([]float32{1, 2}, []float32{1}); got != -1 {
		t.Errorf("mismatched lengths scored %v", got)
	}
	if got := cosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != -1 {
		t.Errorf("zero vector scored %v", got)
	}
}

func TestKeysAreSessionScoped(t *testing.T) {
	hash := queryHash("q")
	r1 := responseKey("s1", hash)
	r2 := responseKey("s2", hash)
	if r1 == r2 {
		t.Error("response keys collide across sessions")
	}
	if embeddingKey("s1", hash) == r1 {
		t.Error("tiers share a key")
	}
}

func TestNilCacheIsInert(t *testing.T) {
	var c *SemanticCache
	if ans, _, err := c.Lookup(context.Background(), "s1", "q"); err != nil || ans != nil {
		t.Errorf("nil cache lookup: %v, %v", ans, err)
	}
	if err := c.Store(context.Background(), "s1", "q", &CachedAnswer{Response: "a"}, nil); err != nil {
		t.Errorf("nil cache store: %v", err)
	}
	if n, err := c.InvalidateSession(context.Background(), "s1"); err != nil || n != 0 {
		t.Errorf("nil cache invalidate: %d, %v", n, err)
	}
}
