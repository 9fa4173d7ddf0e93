package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"documind/internal/models"
)

// LookupHash returns the canonical entry for a content hash, or nil
// when the hash has never been processed.
func (s *Store) LookupHash(ctx context.Context, fileHash string) (*models.HashIndexEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT file_hash, source_id, session_id, filename, file_type, structured_data, clean_content, created_at
		 FROM hash_index WHERE file_hash = ?`,
		fileHash,
	)
	var entry models.HashIndexEntry
	var fileType, structured string
	err := row.Scan(
		&entry.FileHash, &entry.SourceID, &entry.SessionID, &entry.Filename,
		&fileType, &structured, &entry.CleanContent, &entry.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup hash: %w", err)
	}
	entry.FileType = models.FileType(fileType)
	entry.StructuredData = []byte(structured)
	return &entry, nil
}

// InsertHashEntry attempts the compare-and-swap insert for a freshly
// processed hash. It returns the canonical entry and whether this
// caller won the race. A loser gets the winner's row back so it can
// fast-track instead.
func (s *Store) InsertHashEntry(ctx context.Context, entry *models.HashIndexEntry) (*models.HashIndexEntry, bool, error) {
	if entry == nil || entry.FileHash == "" {
		return nil, false, fmt.Errorf("hash entry with file_hash required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	structured := string(entry.StructuredData)
	if structured == "" {
		structured = "{}"
	}

	stmt := `INSERT OR IGNORE INTO hash_index
		(file_hash, source_id, session_id, filename, file_type, structured_data, clean_content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if s.driver == "mysql" {
		stmt = `INSERT IGNORE INTO hash_index
		(file_hash, source_id, session_id, filename, file_type, structured_data, clean_content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	}

	res, err := s.db.ExecContext(ctx, stmt,
		entry.FileHash, entry.SourceID, entry.SessionID, entry.Filename,
		string(entry.FileType), structured, entry.CleanContent, entry.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert hash entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert hash entry result: %w", err)
	}
	if affected > 0 {
		return entry, true, nil
	}

	// Lost the race: read the winner's canonical record.
	winner, err := s.LookupHash(ctx, entry.FileHash)
	if err != nil {
		return nil, false, err
	}
	if winner == nil {
		return nil, false, fmt.Errorf("hash entry for %s vanished after conflicting insert", entry.FileHash)
	}
	return winner, false, nil
}
