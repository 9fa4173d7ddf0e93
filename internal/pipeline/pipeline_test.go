package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"documind/internal/chunker"
	"documind/internal/config"
	"documind/internal/extract"
	"documind/internal/models"
	"documind/internal/service/agent"
)

type memStore struct {
	mu      sync.Mutex
	docs    map[string]*models.Document // session|source
	byHash  map[string]*models.Document // session|hash
	entries map[string]*models.HashIndexEntry
}

func newMemStore() *memStore {
	return &memStore{
		docs:    make(map[string]*models.Document),
		byHash:  make(map[string]*models.Document),
		entries: make(map[string]*models.HashIndexEntry),
	}
}

func (s *memStore) GetDocumentByHash(ctx context.Context, sessionID, fileHash string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byHash[sessionID+"|"+fileHash], nil
}

func (s *memStore) LookupHash(ctx context.Context, fileHash string) (*models.HashIndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[fileHash], nil
}

func (s *memStore) InsertHashEntry(ctx context.Context, entry *models.HashIndexEntry) (*models.HashIndexEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[entry.FileHash]; ok {
		return existing, false, nil
	}
	s.entries[entry.FileHash] = entry
	return entry, true, nil
}

func (s *memStore) PutDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.SessionID+"|"+doc.SourceID] = doc
	s.byHash[doc.SessionID+"|"+doc.FileHash] = doc
	return nil
}

func (s *memStore) entryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type memIndex struct {
	mu     sync.Mutex
	chunks []*models.Chunk
}

func (m *memIndex) InsertChunks(ctx context.Context, chunks []*models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memIndex) bySession(sessionID string) []*models.Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Chunk
	for _, c := range m.chunks {
		if c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	return out
}

type fakeEmbedder struct{ calls int32 }

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

type fakeExtractor struct {
	raw   *models.RawExtraction
	calls int32
}

func (f *fakeExtractor) Extract(ctx context.Context, fileType models.FileType, input extract.Input) (*models.RawExtraction, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.raw == nil {
		return &models.RawExtraction{}, nil
	}
	return f.raw, nil
}

type fakeResolver struct {
	results []models.VisionResult
	calls   int32
}

func (f *fakeResolver) Resolve(ctx context.Context, images []models.EmbeddedImage) ([]models.VisionResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.results, nil
}

type fakeStructurer struct{ calls int32 }

func (f *fakeStructurer) StructureDocument(ctx context.Context, filename, rawContent string) (*agent.StructureResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return &agent.StructureResult{
		StructuredData: json.RawMessage(`{"title":"t"}`),
		CleanContent:   rawContent,
	}, nil
}

type fakeInvalidator struct {
	mu       sync.Mutex
	sessions []string
}

func (f *fakeInvalidator) InvalidateSession(ctx context.Context, sessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sessionID)
	return 1, nil
}

type testRig struct {
	pipe       *Pipeline
	store      *memStore
	index      *memIndex
	embedder   *fakeEmbedder
	extractor  *fakeExtractor
	resolver   *fakeResolver
	structurer *fakeStructurer
	cache      *fakeInvalidator
}

func newRig(raw *models.RawExtraction) *testRig {
	rig := &testRig{
		store:      newMemStore(),
		index:      &memIndex{},
		embedder:   &fakeEmbedder{},
		extractor:  &fakeExtractor{raw: raw},
		resolver:   &fakeResolver{},
		structurer: &fakeStructurer{},
		cache:      &fakeInvalidator{},
	}
	chunks := chunker.New(config.ChunkerConfig{ChunkSize: 512, ChunkOverlap: 64, MaxChunkChars: 6000, RowGroupSize: 1})
	rig.pipe = New(rig.store, rig.index, rig.embedder, rig.extractor, rig.resolver, rig.structurer, chunks, rig.cache)
	return rig
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func textExtraction(text string) *models.RawExtraction {
	return &models.RawExtraction{Blocks: []models.TextBlock{{Text: text}}}
}

func TestFullProcessingIndexesSessionChunks(t *testing.T) {
	rig := newRig(textExtraction("the annual report covers revenue and growth"))
	path := writeTempFile(t, "raw bytes one")

	res, err := rig.pipe.Ingest(context.Background(), Request{
		SessionID: "s1", Path: path, Filename: "doc.txt", FileType: models.FileTypeText,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.FastTracked || res.Duplicate {
		t.Errorf("first ingest should not be fast tracked: %+v", res)
	}
	if rig.structurer.calls != 1 {
		t.Errorf("structurer called %d times", rig.structurer.calls)
	}
	chunks := rig.index.bySession("s1")
	if len(chunks) == 0 {
		t.Fatal("no chunks indexed")
	}
	for _, c := range chunks {
		if c.SessionID != "s1" {
			t.Errorf("chunk indexed under wrong session %q", c.SessionID)
		}
		if len(c.Embedding) == 0 {
			t.Errorf("chunk %s has no embedding", c.ID)
		}
	}
	if len(rig.cache.sessions) != 1 || rig.cache.sessions[0] != "s1" {
		t.Errorf("cache invalidation sessions: %v", rig.cache.sessions)
	}
}

func TestFastTrackSkipsExpensiveStages(t *testing.T) {
	rig := newRig(textExtraction("shared content for two sessions"))
	path := writeTempFile(t, "same bytes")

	first, err := rig.pipe.Ingest(context.Background(), Request{
		SessionID: "s1", Path: path, Filename: "doc.txt", FileType: models.FileTypeText,
	})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	extractCalls := rig.extractor.calls
	structureCalls := rig.structurer.calls
	resolveCalls := rig.resolver.calls

	second, err := rig.pipe.Ingest(context.Background(), Request{
		SessionID: "s2", Path: path, Filename: "doc.txt", FileType: models.FileTypeText,
	})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !second.FastTracked {
		t.Fatal("second session ingest should fast track")
	}
	if rig.extractor.calls != extractCalls || rig.structurer.calls != structureCalls || rig.resolver.calls != resolveCalls {
		t.Errorf("fast track re-ran expensive stages: extract %d->%d structure %d->%d resolve %d->%d",
			extractCalls, rig.extractor.calls, structureCalls, rig.structurer.calls, resolveCalls, rig.resolver.calls)
	}

	// chunks are copied per session, never shared
	s1Chunks := rig.index.bySession("s1")
	s2Chunks := rig.index.bySession("s2")
	if len(s1Chunks) != len(s2Chunks) {
		t.Fatalf("fast track produced different chunk counts: %d vs %d", len(s1Chunks), len(s2Chunks))
	}
	for i := range s1Chunks {
		if s1Chunks[i].Text != s2Chunks[i].Text {
			t.Errorf("chunk %d text differs between sessions", i)
		}
		if s1Chunks[i].ID == s2Chunks[i].ID {
			t.Errorf("chunk %d shares an id across sessions", i)
		}
	}
	if second.ChunkCount != first.ChunkCount {
		t.Errorf("chunk counts differ: %d vs %d", second.ChunkCount, first.ChunkCount)
	}
}

func TestSameSessionDuplicateIsNoOp(t *testing.T) {
	rig := newRig(textExtraction("something to ingest"))
	path := writeTempFile(t, "dup bytes")

	first, err := rig.pipe.Ingest(context.Background(), Request{
		SessionID: "s1", Path: path, Filename: "doc.txt", FileType: models.FileTypeText,
	})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	before := len(rig.index.bySession("s1"))

	res, err := rig.pipe.Ingest(context.Background(), Request{
		SessionID: "s1", Path: path, Filename: "doc.txt", FileType: models.FileTypeText,
	})
	if err != nil {
		t.Fatalf("duplicate ingest: %v", err)
	}
	if !res.Duplicate || !res.FastTracked {
		t.Errorf("expected duplicate no-op, got %+v", res)
	}
	if res.SourceID != first.SourceID {
		t.Errorf("duplicate should report the existing source id")
	}
	if after := len(rig.index.bySession("s1")); after != before {
		t.Errorf("duplicate added chunks: %d -> %d", before, after)
	}
}

func TestConcurrentIngestsProduceOneHashEntry(t *testing.T) {
	rig := newRig(textExtraction("contended content"))
	path := writeTempFile(t, "contended bytes")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = rig.pipe.Ingest(context.Background(), Request{
				SessionID: fmt.Sprintf("s%d", i),
				Path:      path,
				Filename:  "doc.txt",
				FileType:  models.FileTypeText,
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
	if got := rig.store.entryCount(); got != 1 {
		t.Fatalf("expected exactly one hash entry, got %d", got)
	}
	for i := 0; i < n; i++ {
		if len(rig.index.bySession(fmt.Sprintf("s%d", i))) == 0 {
			t.Errorf("session s%d got no chunks", i)
		}
	}
}

func TestNoContentSkipsStructuring(t *testing.T) {
	rig := newRig(&models.RawExtraction{})
	path := writeTempFile(t, "bytes with nothing extractable")

	res, err := rig.pipe.Ingest(context.Background(), Request{
		SessionID: "s1", Path: path, Filename: "scan.txt", FileType: models.FileTypeText,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Degraded {
		t.Error("empty extraction should yield a degraded record")
	}
	if rig.structurer.calls != 0 {
		t.Errorf("structurer called %d times on empty extraction", rig.structurer.calls)
	}
	if res.ChunkCount != 0 {
		t.Errorf("expected no chunks, got %d", res.ChunkCount)
	}
}

func TestTabularSkipsStructuringAndChunksRows(t *testing.T) {
	rig := newRig(&models.RawExtraction{Tables: []models.TableData{{
		Sheet:   "Sheet1",
		Headers: []string{"Name", "Score"},
		Rows:    [][]string{{"ada", "10"}, {"bob", "7"}},
	}}})
	path := writeTempFile(t, "csv bytes")

	res, err := rig.pipe.Ingest(context.Background(), Request{
		SessionID: "s1", Path: path, Filename: "scores.csv", FileType: models.FileTypeCSV,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if rig.structurer.calls != 0 {
		t.Errorf("tabular ingest called structurer %d times", rig.structurer.calls)
	}
	chunks := rig.index.bySession("s1")
	if len(chunks) != 3 {
		t.Fatalf("expected 2 row chunks + summary, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "[Sheet1 - Row 1]") {
		t.Errorf("first chunk is not a row chunk: %q", chunks[0].Text)
	}
	if !strings.Contains(chunks[2].Text, "contains 2 rows") {
		t.Errorf("last chunk is not the summary: %q", chunks[2].Text)
	}
	if res.ChunkCount != 3 {
		t.Errorf("result chunk count %d", res.ChunkCount)
	}
}

func TestTabularKeepsAccompanyingText(t *testing.T) {
	rig := newRig(&models.RawExtraction{
		Blocks: []models.TextBlock{{Text: "Exported from the Q3\nfinance workbook."}},
		Tables: []models.TableData{{
			Sheet:   "Sheet1",
			Headers: []string{"Name", "Score"},
			Rows:    [][]string{{"ada", "10"}},
		}},
	})
	path := writeTempFile(t, "csv with notes")

	_, err := rig.pipe.Ingest(context.Background(), Request{
		SessionID: "s1", Path: path, Filename: "scores.csv", FileType: models.FileTypeCSV,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	chunks := rig.index.bySession("s1")
	if len(chunks) != 3 {
		t.Fatalf("expected row + summary + text chunks, got %d", len(chunks))
	}
	var found bool
	for _, c := range chunks {
		if c.Text == "Exported from the Q3 finance workbook." {
			found = true
		}
	}
	if !found {
		t.Error("narrative text alongside tables was dropped")
	}

	// the text must also survive the fast-track rebuild
	second, err := rig.pipe.Ingest(context.Background(), Request{
		SessionID: "s2", Path: path, Filename: "scores.csv", FileType: models.FileTypeCSV,
	})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !second.FastTracked {
		t.Fatal("second session ingest should fast track")
	}
	found = false
	for _, c := range rig.index.bySession("s2") {
		if c.Text == "Exported from the Q3 finance workbook." {
			found = true
		}
	}
	if !found {
		t.Error("narrative text lost on the fast-track path")
	}
}

func TestURLHashingIsStable(t *testing.T) {
	a := HashURL("https://example.com/page")
	b := HashURL("  https://example.com/page ")
	if a != b {
		t.Error("url hash should ignore surrounding whitespace")
	}
	if a == HashURL("https://example.com/other") {
		t.Error("different urls must hash differently")
	}
}
