package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"documind/internal/models"
)

// Store provides session-scoped access to documents, chat history and
// the global hash index over a single sql.DB.
type Store struct {
	db     *sql.DB
	driver string
}

func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: strings.ToLower(driver)}
}

// PutDocument inserts a processed document. (session_id, source_id)
// uniqueness is enforced by the primary key.
func (s *Store) PutDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return fmt.Errorf("document required")
	}
	if doc.SessionID == "" || doc.SourceID == "" {
		return fmt.Errorf("session_id and source_id required")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	structured := string(doc.StructuredData)
	if structured == "" {
		structured = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents
			(source_id, session_id, file_hash, filename, file_type, structured_data, clean_content, fast_tracked, structuring_degraded, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.SourceID, doc.SessionID, doc.FileHash, doc.Filename, string(doc.FileType),
		structured, doc.CleanContent, doc.FastTracked, doc.StructuringDegraded, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument fetches one document scoped by session.
func (s *Store) GetDocument(ctx context.Context, sessionID, sourceID string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source_id, session_id, file_hash, filename, file_type, structured_data, clean_content, fast_tracked, structuring_degraded, created_at
		 FROM documents WHERE session_id = ? AND source_id = ?`,
		sessionID, sourceID,
	)
	return scanDocument(row)
}

// GetDocumentByHash finds a document within one session by content hash.
func (s *Store) GetDocumentByHash(ctx context.Context, sessionID, fileHash string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source_id, session_id, file_hash, filename, file_type, structured_data, clean_content, fast_tracked, structuring_degraded, created_at
		 FROM documents WHERE session_id = ? AND file_hash = ? LIMIT 1`,
		sessionID, fileHash,
	)
	return scanDocument(row)
}

// ListDocuments returns every document owned by the session.
func (s *Store) ListDocuments(ctx context.Context, sessionID string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, session_id, file_hash, filename, file_type, structured_data, clean_content, fast_tracked, structuring_degraded, created_at
		 FROM documents WHERE session_id = ? ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a single document. Returns rows deleted.
func (s *Store) DeleteDocument(ctx context.Context, sessionID, sourceID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE session_id = ? AND source_id = ?`,
		sessionID, sourceID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete document: %w", err)
	}
	return res.RowsAffected()
}

// DeleteSession removes the session's entire document collection.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE session_id = ?`,
		sessionID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete session documents: %w", err)
	}
	return res.RowsAffected()
}

// SessionSummaries aggregates document and message counts per session.
// Chunk counts live in the vector index and are merged in by the caller.
func (s *Store) SessionSummaries(ctx context.Context) ([]*models.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, COUNT(*), MIN(created_at), MAX(created_at)
		 FROM documents GROUP BY session_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("session summaries: %w", err)
	}
	defer rows.Close()

	summaries := make(map[string]*models.SessionSummary)
	var order []string
	for rows.Next() {
		var sm models.SessionSummary
		if err := rows.Scan(&sm.SessionID, &sm.DocumentCount, &sm.CreatedAt, &sm.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries[sm.SessionID] = &sm
		order = append(order, sm.SessionID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgRows, err := s.db.QueryContext(ctx,
		`SELECT session_id, COUNT(*) FROM chat_messages GROUP BY session_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("message counts: %w", err)
	}
	defer msgRows.Close()
	for msgRows.Next() {
		var sessionID string
		var count int
		if err := msgRows.Scan(&sessionID, &count); err != nil {
			return nil, fmt.Errorf("scan message count: %w", err)
		}
		if sm, ok := summaries[sessionID]; ok {
			sm.MessageCount = count
		} else {
			summaries[sessionID] = &models.SessionSummary{SessionID: sessionID, MessageCount: count}
			order = append(order, sessionID)
		}
	}
	if err := msgRows.Err(); err != nil {
		return nil, err
	}

	out := make([]*models.SessionSummary, 0, len(order))
	for _, id := range order {
		out = append(out, summaries[id])
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanDocument maps a row to a Document; no rows means (nil, nil).
func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var fileType, structured string
	err := row.Scan(
		&doc.SourceID, &doc.SessionID, &doc.FileHash, &doc.Filename, &fileType,
		&structured, &doc.CleanContent, &doc.FastTracked, &doc.StructuringDegraded, &doc.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc.FileType = models.FileType(fileType)
	doc.StructuredData = []byte(structured)
	return &doc, nil
}
