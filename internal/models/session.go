package models

import "time"

// SessionSummary aggregates a session's holdings for the read-only
// listing surface. Not a retrieval query path.
type SessionSummary struct {
	SessionID     string    `json:"session_id"`
	DocumentCount int       `json:"document_count"`
	ChunkCount    int       `json:"chunk_count"`
	MessageCount  int       `json:"message_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
