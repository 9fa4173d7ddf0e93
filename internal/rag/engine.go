package rag

import (
	"context"
	"fmt"
	"log"
	"strings"

	"documind/internal/cache"
	"documind/internal/models"

	"github.com/cloudwego/eino/schema"
)

const defaultSearchLimit = 5

const answerSystemPrompt = `You are a document assistant. Answer the user's question using ONLY the provided document excerpts. If the excerpts do not contain the answer, say so plainly. Be concise and cite facts from the excerpts rather than outside knowledge.

Document excerpts:
%s`

// Searcher finds a session's most similar chunks. sourceID, when
// non-empty, restricts results to one document.
type Searcher interface {
	Search(ctx context.Context, sessionID string, queryEmbedding []float32, limit int, sourceID string) ([]*models.ScoredChunk, error)
}

// Embedder produces the query embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// AnswerCache is the two-tier semantic cache. Lookup reports a miss
// as a nil answer with no error; an error means the cache itself
// failed.
type AnswerCache interface {
	Lookup(ctx context.Context, sessionID, query string) (*cache.CachedAnswer, []float32, error)
	Store(ctx context.Context, sessionID, query string, ans *cache.CachedAnswer, queryEmb []float32) error
}

// HistoryStore reads and appends conversation turns.
type HistoryStore interface {
	History(ctx context.Context, sessionID string, limit int) ([]*models.ChatMessage, error)
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
}

// DocumentLookup maps chunk source ids back to their documents for
// source attribution.
type DocumentLookup interface {
	GetDocument(ctx context.Context, sessionID, sourceID string) (*models.Document, error)
}

// Answerer streams the grounded answer.
type Answerer interface {
	StreamAnswer(ctx context.Context, systemPrompt string, history []*models.ChatMessage, question string) (*schema.StreamReader[*schema.Message], error)
}

// Engine answers questions over one session's documents: semantic
// cache, vector search, history-aware prompt, streaming answer.
type Engine struct {
	searcher    Searcher
	embedder    Embedder
	cache       AnswerCache
	history     HistoryStore
	documents   DocumentLookup
	answerer    Answerer
	maxHistory  int
	searchLimit int
}

// Options tunes one query. The zero value means: default result
// count, no source filter, history included.
type Options struct {
	SourceID    string
	Limit       int
	SkipHistory bool
}

// Answer is the completed result of one query.
type Answer struct {
	Response     string   `json:"response"`
	Sources      []string `json:"sources"`
	Cached       bool     `json:"cached"`
	ContextFound bool     `json:"context_found"`
}

func NewEngine(searcher Searcher, embedder Embedder, cache AnswerCache, history HistoryStore, documents DocumentLookup, answerer Answerer, maxHistory int) *Engine {
	if maxHistory <= 0 {
		maxHistory = 10
	}
	return &Engine{
		searcher:    searcher,
		embedder:    embedder,
		cache:       cache,
		history:     history,
		documents:   documents,
		answerer:    answerer,
		maxHistory:  maxHistory,
		searchLimit: defaultSearchLimit,
	}
}

// Query answers the question, streaming deltas through onDelta when it
// is non-nil. Cancellation mid-stream suppresses the cache write and
// the history append.
func (e *Engine) Query(ctx context.Context, sessionID, question string, opts Options, onDelta func(string) error) (*Answer, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id required")
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = e.searchLimit
	}

	// Source-filtered queries bypass the cache: cached answers are
	// keyed by query alone and could cross the filter boundary.
	useCache := opts.SourceID == ""

	var queryEmb []float32
	if useCache && e.cache != nil {
		hit, emb, cacheErr := e.cache.Lookup(ctx, sessionID, question)
		queryEmb = emb
		if cacheErr != nil {
			log.Printf("cache lookup failed for session %s, answering uncached: %v", sessionID, cacheErr)
		} else if hit != nil {
			if onDelta != nil {
				if cbErr := onDelta(hit.Response); cbErr != nil {
					return nil, cbErr
				}
			}
			return &Answer{
				Response:     hit.Response,
				Sources:      hit.Sources,
				Cached:       true,
				ContextFound: hit.ContextFound,
			}, nil
		}
	}

	if queryEmb == nil {
		var err error
		queryEmb, err = e.embedder.Embed(ctx, question)
		if err != nil {
			return nil, fmt.Errorf("embed question: %w", err)
		}
	}

	chunks, err := e.searcher.Search(ctx, sessionID, queryEmb, limit, opts.SourceID)
	if err != nil {
		return nil, fmt.Errorf("search session %s: %w", sessionID, err)
	}

	systemPrompt := fmt.Sprintf(answerSystemPrompt, renderContext(chunks))
	sources, err := e.collectSources(ctx, sessionID, chunks)
	if err != nil {
		return nil, err
	}

	var history []*models.ChatMessage
	if !opts.SkipHistory {
		history, err = e.history.History(ctx, sessionID, e.maxHistory*2)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
	}

	reader, err := e.answerer.StreamAnswer(ctx, systemPrompt, history, question)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var full strings.Builder
	for {
		chunk, recvErr := reader.Recv()
		if recvErr != nil {
			break
		}
		full.WriteString(chunk.Content)
		if onDelta != nil {
			if cbErr := onDelta(chunk.Content); cbErr != nil {
				return nil, cbErr
			}
		}
	}

	if ctx.Err() != nil {
		// Canceled mid-stream: drop the partial answer.
		return nil, ctx.Err()
	}

	response := full.String()
	answer := &Answer{Response: response, Sources: sources, ContextFound: len(chunks) > 0}
	e.recordTurn(ctx, sessionID, question, response)
	if useCache && e.cache != nil {
		entry := &cache.CachedAnswer{
			Response:     response,
			Sources:      sources,
			ContextFound: answer.ContextFound,
		}
		if err := e.cache.Store(ctx, sessionID, question, entry, queryEmb); err != nil {
			log.Printf("cache store failed for session %s: %v", sessionID, err)
		}
	}
	return answer, nil
}

func (e *Engine) recordTurn(ctx context.Context, sessionID, question, response string) {
	userMsg := &models.ChatMessage{SessionID: sessionID, Role: models.RoleUser, Content: question}
	if err := e.history.AppendMessage(ctx, userMsg); err != nil {
		log.Printf("append user message for session %s: %v", sessionID, err)
		return
	}
	botMsg := &models.ChatMessage{SessionID: sessionID, Role: models.RoleAssistant, Content: response}
	if err := e.history.AppendMessage(ctx, botMsg); err != nil {
		log.Printf("append assistant message for session %s: %v", sessionID, err)
	}
}

func renderContext(chunks []*models.ScoredChunk) string {
	if len(chunks) == 0 {
		return "(no documents indexed for this session)"
	}
	var b strings.Builder
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, chunk.Text)
	}
	return strings.TrimSpace(b.String())
}

// collectSources renders deduplicated attribution labels in result
// order.
func (e *Engine) collectSources(ctx context.Context, sessionID string, chunks []*models.ScoredChunk) ([]string, error) {
	docs := make(map[string]*models.Document)
	seen := make(map[string]bool)
	var sources []string
	for _, chunk := range chunks {
		doc, ok := docs[chunk.SourceID]
		if !ok {
			var err error
			doc, err = e.documents.GetDocument(ctx, sessionID, chunk.SourceID)
			if err != nil {
				return nil, fmt.Errorf("resolve source %s: %w", chunk.SourceID, err)
			}
			docs[chunk.SourceID] = doc
		}
		if doc == nil {
			continue
		}
		label := sourceLabel(doc.Filename, chunk.Metadata)
		if seen[label] {
			continue
		}
		seen[label] = true
		sources = append(sources, label)
	}
	return sources, nil
}

func sourceLabel(filename string, meta models.ChunkMetadata) string {
	switch {
	case meta.Sheet != "":
		return fmt.Sprintf("%s (Sheet: %s)", filename, meta.Sheet)
	case meta.Page > 0:
		return fmt.Sprintf("%s (Page %d)", filename, meta.Page)
	default:
		return filename
	}
}
