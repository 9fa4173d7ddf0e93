package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"documind/internal/chunker"
	"documind/internal/extract"
	"documind/internal/models"
	"documind/internal/service/agent"

	"github.com/google/uuid"
)

// DocumentStore is the relational side of ingestion: documents plus
// the global hash index.
type DocumentStore interface {
	GetDocumentByHash(ctx context.Context, sessionID, fileHash string) (*models.Document, error)
	LookupHash(ctx context.Context, fileHash string) (*models.HashIndexEntry, error)
	InsertHashEntry(ctx context.Context, entry *models.HashIndexEntry) (*models.HashIndexEntry, bool, error)
	PutDocument(ctx context.Context, doc *models.Document) error
}

// ChunkIndex receives the session's embedded chunks.
type ChunkIndex interface {
	InsertChunks(ctx context.Context, chunks []*models.Chunk) error
}

// Embedder is the embedding collaborator.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Structurer organizes raw extracted content.
type Structurer interface {
	StructureDocument(ctx context.Context, filename, rawContent string) (*agent.StructureResult, error)
}

// Extractor dispatches raw extraction by file type.
type Extractor interface {
	Extract(ctx context.Context, fileType models.FileType, input extract.Input) (*models.RawExtraction, error)
}

// VisionResolver turns embedded images into text.
type VisionResolver interface {
	Resolve(ctx context.Context, images []models.EmbeddedImage) ([]models.VisionResult, error)
}

// Invalidator drops a session's cached answers after its corpus changes.
type Invalidator interface {
	InvalidateSession(ctx context.Context, sessionID string) (int, error)
}

// Request is one source to ingest into a session.
type Request struct {
	SessionID string
	SourceID  string
	Path      string
	URL       string
	Filename  string
	FileType  models.FileType
}

// Result is the per-file ingestion outcome.
type Result struct {
	SourceID    string `json:"source_id"`
	Filename    string `json:"filename"`
	FileHash    string `json:"file_hash"`
	FastTracked bool   `json:"fast_tracked"`
	Degraded    bool   `json:"degraded"`
	ChunkCount  int    `json:"chunk_count"`
	Duplicate   bool   `json:"duplicate"`
}

// Pipeline runs the full ingestion flow for one source: dedup gate,
// extraction, vision resolution, structuring, chunking, embedding and
// session-scoped indexing.
type Pipeline struct {
	store      DocumentStore
	index      ChunkIndex
	embedder   Embedder
	extractor  Extractor
	resolver   VisionResolver
	structurer Structurer
	chunks     *chunker.Chunker
	cache      Invalidator
}

func New(store DocumentStore, index ChunkIndex, embedder Embedder, extractor Extractor, resolver VisionResolver, structurer Structurer, chunks *chunker.Chunker, cache Invalidator) *Pipeline {
	return &Pipeline{
		store:      store,
		index:      index,
		embedder:   embedder,
		extractor:  extractor,
		resolver:   resolver,
		structurer: structurer,
		chunks:     chunks,
		cache:      cache,
	}
}

// HashBytes is the content identity for file uploads.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashURL is the content identity for URL sources.
func HashURL(url string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(sum[:])
}

// Ingest processes one source into the request's session.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("session id required")
	}
	if req.SourceID == "" {
		req.SourceID = uuid.NewString()
	}

	fileHash, err := p.contentHash(req)
	if err != nil {
		return nil, err
	}

	// Same-session duplicate is a no-op.
	if existing, err := p.store.GetDocumentByHash(ctx, req.SessionID, fileHash); err != nil {
		return nil, fmt.Errorf("check session duplicate: %w", err)
	} else if existing != nil {
		return &Result{
			SourceID:    existing.SourceID,
			Filename:    existing.Filename,
			FileHash:    fileHash,
			FastTracked: true,
			Duplicate:   true,
		}, nil
	}

	// Cross-session duplicate fast-tracks from the canonical entry.
	entry, err := p.store.LookupHash(ctx, fileHash)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		return p.fastTrack(ctx, req, entry)
	}

	result, err := p.process(ctx, req, fileHash)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Pipeline) contentHash(req Request) (string, error) {
	if req.URL != "" {
		return HashURL(req.URL), nil
	}
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	return HashBytes(data), nil
}

// process is the full path for content never seen before.
func (p *Pipeline) process(ctx context.Context, req Request, fileHash string) (*Result, error) {
	raw, err := p.extractor.Extract(ctx, req.FileType, extract.Input{
		Path:     req.Path,
		URL:      req.URL,
		Filename: req.Filename,
	})
	if err != nil {
		return nil, err
	}

	visionResults, err := p.resolver.Resolve(ctx, raw.Images)
	if err != nil {
		return nil, err
	}

	var (
		pieces       []chunker.Piece
		cleanContent string
		structured   = json.RawMessage("{}")
		degraded     bool
	)

	switch {
	case req.FileType.Tabular() && len(raw.Tables) > 0:
		pieces = p.chunks.Tabular(raw.Tables)
		pieces = append(pieces, blockPieces(raw.Blocks, len(pieces))...)
		pieces = append(pieces, visionPieces(visionResults, len(pieces))...)
		cleanContent = chunker.CleanContent(pieces)
		structured, err = tabularStructure(raw.Tables)
		if err != nil {
			return nil, err
		}
	case len(raw.Blocks) == 0 && len(raw.Tables) == 0 && len(visionResults) == 0:
		// Nothing extracted: record a degraded document, skip the model.
		degraded = true
	default:
		rawContent := mergeContent(raw.Blocks, visionResults)
		res, err := p.structurer.StructureDocument(ctx, req.Filename, rawContent)
		if err != nil {
			return nil, err
		}
		structured = res.StructuredData
		cleanContent = res.CleanContent
		degraded = res.Degraded
		pieces = p.chunks.Narrative(cleanContent)
	}

	// Publish the canonical form. A racing loser adopts the winner's.
	canonical, won, err := p.store.InsertHashEntry(ctx, &models.HashIndexEntry{
		FileHash:       fileHash,
		SourceID:       req.SourceID,
		SessionID:      req.SessionID,
		Filename:       req.Filename,
		FileType:       req.FileType,
		StructuredData: structured,
		CleanContent:   cleanContent,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		log.Printf("lost hash race for %s, adopting canonical entry", fileHash)
		return p.fastTrack(ctx, req, canonical)
	}

	doc := &models.Document{
		SourceID:            req.SourceID,
		SessionID:           req.SessionID,
		FileHash:            fileHash,
		Filename:            req.Filename,
		FileType:            req.FileType,
		StructuredData:      structured,
		CleanContent:        cleanContent,
		StructuringDegraded: degraded,
	}
	count, err := p.persist(ctx, doc, pieces)
	if err != nil {
		return nil, err
	}
	return &Result{
		SourceID:   req.SourceID,
		Filename:   req.Filename,
		FileHash:   fileHash,
		Degraded:   degraded,
		ChunkCount: count,
	}, nil
}

// fastTrack reuses the canonical processed form but still chunks,
// embeds and indexes into the requesting session. Chunks are copied,
// never shared across sessions.
func (p *Pipeline) fastTrack(ctx context.Context, req Request, entry *models.HashIndexEntry) (*Result, error) {
	var pieces []chunker.Piece
	if entry.FileType.Tabular() {
		pieces = p.chunks.TabularFromContent(entry.CleanContent)
	} else {
		pieces = p.chunks.Narrative(entry.CleanContent)
	}

	doc := &models.Document{
		SourceID:       req.SourceID,
		SessionID:      req.SessionID,
		FileHash:       entry.FileHash,
		Filename:       req.Filename,
		FileType:       entry.FileType,
		StructuredData: entry.StructuredData,
		CleanContent:   entry.CleanContent,
		FastTracked:    true,
	}
	count, err := p.persist(ctx, doc, pieces)
	if err != nil {
		return nil, err
	}
	return &Result{
		SourceID:    req.SourceID,
		Filename:    req.Filename,
		FileHash:    entry.FileHash,
		FastTracked: true,
		ChunkCount:  count,
	}, nil
}

// persist writes the document record, embeds and indexes its chunks,
// then invalidates the session's answer cache.
func (p *Pipeline) persist(ctx context.Context, doc *models.Document, pieces []chunker.Piece) (int, error) {
	if err := p.store.PutDocument(ctx, doc); err != nil {
		return 0, err
	}

	if len(pieces) > 0 {
		texts := make([]string, len(pieces))
		for i, piece := range pieces {
			texts[i] = piece.Text
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed chunks: %w", err)
		}
		chunks := make([]*models.Chunk, len(pieces))
		for i, piece := range pieces {
			chunks[i] = &models.Chunk{
				ID:        uuid.NewString(),
				SessionID: doc.SessionID,
				SourceID:  doc.SourceID,
				FileHash:  doc.FileHash,
				Text:      piece.Text,
				Embedding: vectors[i],
				Metadata:  piece.Metadata,
			}
		}
		if err := p.index.InsertChunks(ctx, chunks); err != nil {
			return 0, err
		}
	}

	if p.cache != nil {
		if _, err := p.cache.InvalidateSession(ctx, doc.SessionID); err != nil {
			log.Printf("cache invalidation failed for session %s: %v", doc.SessionID, err)
		}
	}
	return len(pieces), nil
}

// mergeContent interleaves text blocks and resolved image text in
// document order.
func mergeContent(blocks []models.TextBlock, vision []models.VisionResult) string {
	type located struct {
		page int
		seq  int
		text string
	}
	var parts []located
	for i, block := range blocks {
		parts = append(parts, located{page: block.Page, seq: i, text: block.Text})
	}
	for i, res := range vision {
		parts = append(parts, located{
			page: res.Image.Page,
			seq:  len(blocks) + i,
			text: fmt.Sprintf("[Image: %s] %s", res.Image.Name, res.Text),
		})
	}
	sort.SliceStable(parts, func(a, b int) bool {
		if parts[a].page != parts[b].page {
			return parts[a].page < parts[b].page
		}
		return parts[a].seq < parts[b].seq
	})

	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		texts = append(texts, part.text)
	}
	return strings.Join(texts, "\n\n")
}

// blockPieces renders text found alongside tables as single-line
// pieces so it survives in tabular clean content next to the row
// lines.
func blockPieces(blocks []models.TextBlock, startOrdinal int) []chunker.Piece {
	var pieces []chunker.Piece
	for _, block := range blocks {
		text := strings.Join(strings.Fields(block.Text), " ")
		if text == "" {
			continue
		}
		pieces = append(pieces, chunker.Piece{
			Text: text,
			Metadata: models.ChunkMetadata{
				Sheet:   block.Sheet,
				Page:    block.Page,
				Ordinal: startOrdinal + len(pieces),
			},
		})
	}
	return pieces
}

// visionPieces renders resolved image text as single-line pieces so
// tabular clean content stays line-addressable.
func visionPieces(results []models.VisionResult, startOrdinal int) []chunker.Piece {
	var pieces []chunker.Piece
	for i, res := range results {
		text := strings.Join(strings.Fields(res.Text), " ")
		if text == "" {
			continue
		}
		pieces = append(pieces, chunker.Piece{
			Text: fmt.Sprintf("[Image: %s] %s", res.Image.Name, text),
			Metadata: models.ChunkMetadata{
				Sheet:   res.Image.Sheet,
				Ordinal: startOrdinal + i,
			},
		})
	}
	return pieces
}

func tabularStructure(tables []models.TableData) (json.RawMessage, error) {
	type sheetInfo struct {
		Sheet   string   `json:"sheet"`
		Columns []string `json:"columns"`
		Rows    int      `json:"rows"`
	}
	infos := make([]sheetInfo, 0, len(tables))
	for _, table := range tables {
		infos = append(infos, sheetInfo{
			Sheet:   table.Sheet,
			Columns: table.Headers,
			Rows:    len(table.Rows),
		})
	}
	data, err := json.Marshal(map[string]interface{}{"sheets": infos})
	if err != nil {
		return nil, fmt.Errorf("encode tabular structure: %w", err)
	}
	return data, nil
}
