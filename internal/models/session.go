package models

import (
	"time"
)

// Session statuses. Transitions are one-directional: active -> completed
// on explicit close or graceful disconnect, active -> error on a mid-stream
// failure. Nothing leaves completed/error.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// AudioParams holds the negotiated stream parameters for a session.
type AudioParams struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Format     string `json:"format"` // wav|mp3|flac|aac
}

// Session represents one continuous audio stream from connection open to close.
type Session struct {
	SessionID string `json:"session_id"` // uuid v4, immutable
	UserID    string `json:"user_id,omitempty"`

	Status          string      `json:"status"`
	TotalChunks     int64       `json:"total_chunks"`
	DurationSeconds float64     `json:"duration_seconds"`
	Params          AudioParams `json:"params"`

	StartTime    time.Time `json:"start_time"`
	LastActivity time.Time `json:"last_activity"`
}

// SessionInfo is the external snapshot of a session, including the location
// of the assembled artifact.
type SessionInfo struct {
	SessionID       string      `json:"session_id"`
	UserID          string      `json:"user_id,omitempty"`
	Status          string      `json:"status"`
	FilePath        string      `json:"file_path"`
	TotalChunks     int64       `json:"total_chunks"`
	DurationSeconds float64     `json:"duration_seconds"`
	Params          AudioParams `json:"params"`
	StartTime       time.Time   `json:"start_time"`
}

// StreamResponse is the JSON reply sent to the client after every processed
// WebSocket frame.
type StreamResponse struct {
	Message    string `json:"message"`
	SessionID  string `json:"session_id"`
	ChunkCount int64  `json:"chunk_count"`
	Status     string `json:"status"`
}
