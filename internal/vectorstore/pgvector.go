package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"documind/internal/config"
	"documind/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Index is the session-scoped chunk index backed by pgvector. Every
// read and write carries a session id; there is no unscoped path.
type Index struct {
	pool      *pgxpool.Pool
	tableName string
	vectorDim int
}

// New connects to postgres and ensures the chunk table and vector
// index exist.
func New(ctx context.Context, cfg config.VectorConfig) (*Index, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("vector conn_string required")
	}
	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("connect vector database: %w", err)
	}

	idx := &Index{
		pool:      pool,
		tableName: cfg.TableName,
		vectorDim: cfg.VectorDim,
	}
	if err := idx.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) initialize(ctx context.Context) error {
	if _, err := idx.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			file_hash TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			metadata JSONB
		)`, idx.tableName, idx.vectorDim)
	if _, err := idx.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("create chunk table: %w", err)
	}

	createSessionIdx := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_session_idx ON %s (session_id)`,
		idx.tableName, idx.tableName)
	if _, err := idx.pool.Exec(ctx, createSessionIdx); err != nil {
		return fmt.Errorf("create session index: %w", err)
	}

	createVecIdx := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		idx.tableName, idx.tableName)
	if _, err := idx.pool.Exec(ctx, createVecIdx); err != nil {
		return fmt.Errorf("create embedding index: %w", err)
	}
	return nil
}

// InsertChunks stores embedded chunks in one transaction. Each chunk
// must already carry its owning session id.
func (idx *Index) InsertChunks(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := idx.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin chunk insert: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, session_id, source_id, file_hash, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		idx.tableName)

	for _, chunk := range chunks {
		if chunk.SessionID == "" {
			return fmt.Errorf("chunk %s missing session id", chunk.ID)
		}
		meta, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("encode chunk metadata: %w", err)
		}
		_, err = tx.Exec(ctx, stmt,
			chunk.ID,
			chunk.SessionID,
			chunk.SourceID,
			chunk.FileHash,
			chunk.Text,
			pgvector.NewVector(chunk.Embedding),
			meta,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", chunk.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunk insert: %w", err)
	}
	return nil
}

// Search returns the session's top-k chunks by cosine distance to the
// query embedding, optionally restricted to one source. Chunks from
// other sessions are never visible.
func (idx *Index) Search(ctx context.Context, sessionID string, queryEmbedding []float32, limit int, sourceID string) ([]*models.ScoredChunk, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id required for search")
	}
	if limit <= 0 {
		limit = 5
	}

	filter := ""
	args := []interface{}{pgvector.NewVector(queryEmbedding), sessionID, limit}
	if sourceID != "" {
		filter = " AND source_id = $4"
		args = append(args, sourceID)
	}
	query := fmt.Sprintf(`
		SELECT id, session_id, source_id, file_hash, content, metadata,
			(1 - (embedding <=> $1))::float4 AS score
		FROM %s
		WHERE session_id = $2%s
		ORDER BY embedding <=> $1
		LIMIT $3`,
		idx.tableName, filter)

	rows, err := idx.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var out []*models.ScoredChunk
	for rows.Next() {
		var sc models.ScoredChunk
		var meta []byte
		err := rows.Scan(
			&sc.ID, &sc.SessionID, &sc.SourceID, &sc.FileHash,
			&sc.Text, &meta, &sc.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &sc.Metadata); err != nil {
				return nil, fmt.Errorf("decode chunk metadata: %w", err)
			}
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}

// DeleteBySource removes one document's chunks from a session.
// Returns the number of chunks deleted.
func (idx *Index) DeleteBySource(ctx context.Context, sessionID, sourceID string) (int64, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("session id required for delete")
	}
	tag, err := idx.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1 AND source_id = $2`, idx.tableName),
		sessionID, sourceID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete source chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteSession removes every chunk owned by the session.
func (idx *Index) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("session id required for delete")
	}
	tag, err := idx.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, idx.tableName),
		sessionID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete session chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountBySession returns chunk counts per session for summaries.
func (idx *Index) CountBySession(ctx context.Context) (map[string]int, error) {
	rows, err := idx.pool.Query(ctx,
		fmt.Sprintf(`SELECT session_id, COUNT(*) FROM %s GROUP BY session_id`, idx.tableName),
	)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var sessionID string
		var count int
		if err := rows.Scan(&sessionID, &count); err != nil {
			return nil, fmt.Errorf("scan chunk count: %w", err)
		}
		counts[sessionID] = count
	}
	return counts, rows.Err()
}

// Close releases the connection pool.
func (idx *Index) Close() {
	if idx.pool != nil {
		idx.pool.Close()
	}
}
