package models

import (
	"encoding/json"
	"time"
)

// FileType is the closed set of supported source formats. Extraction
// dispatch switches exhaustively over these values.
type FileType string

const (
	FileTypePDF   FileType = "pdf"
	FileTypeWord  FileType = "docx"
	FileTypeExcel FileType = "xlsx"
	FileTypeCSV   FileType = "csv"
	FileTypePPT   FileType = "pptx"
	FileTypeImage FileType = "image"
	FileTypeText  FileType = "text"
	FileTypeURL   FileType = "url"
)

// Tabular reports whether sources of this type are chunked row by row.
func (t FileType) Tabular() bool {
	return t == FileTypeExcel || t == FileTypeCSV
}

// Document is one processed source file or URL, owned by exactly one
// session. Immutable after ingestion except for deletion.
type Document struct {
	SourceID           string          `json:"source_id"`
	SessionID          string          `json:"session_id"`
	FileHash           string          `json:"file_hash"`
	Filename           string          `json:"filename"`
	FileType           FileType        `json:"file_type"`
	StructuredData     json.RawMessage `json:"structured_data"`
	CleanContent       string          `json:"clean_content"`
	FastTracked        bool            `json:"fast_tracked"`
	StructuringDegraded bool           `json:"structuring_degraded"`
	CreatedAt          time.Time       `json:"created_at"`
}

// ChunkMetadata locates a chunk inside its source document.
type ChunkMetadata struct {
	Page    int    `json:"page,omitempty"`
	Sheet   string `json:"sheet,omitempty"`
	Row     int    `json:"row,omitempty"`
	Ordinal int    `json:"ordinal"`
}

// Chunk is the minimal retrievable unit. Chunks are always duplicated
// per session, never shared, even when content was fast-tracked.
type Chunk struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	SourceID  string        `json:"source_id"`
	FileHash  string        `json:"file_hash"`
	Text      string        `json:"text"`
	Embedding []float32     `json:"embedding"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// ScoredChunk is a search result with its similarity to the query.
type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}

// HashIndexEntry maps a content hash to the canonical processed form
// produced the first time that content was seen. Written once, never
// mutated. Chunks referenced here live in the winning session's index
// and are copied, not shared, on fast-track.
type HashIndexEntry struct {
	FileHash       string          `json:"file_hash"`
	SourceID       string          `json:"source_id"`
	SessionID      string          `json:"session_id"`
	Filename       string          `json:"filename"`
	FileType       FileType        `json:"file_type"`
	StructuredData json.RawMessage `json:"structured_data"`
	CleanContent   string          `json:"clean_content"`
	CreatedAt      time.Time       `json:"created_at"`
}
