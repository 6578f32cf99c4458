package cache

import (
	"context"
	"time"
)

// TranscriptEntry is one transcribed chunk as stored for later retrieval.
type TranscriptEntry struct {
	ChunkSeq   int64     `json:"chunk_index"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

// TranscriptStore keeps per-session transcript entries so clients can fetch
// the running transcript without subscribing to the live channel.
type TranscriptStore interface {
	Append(ctx context.Context, sessionID string, entry TranscriptEntry) error
	List(ctx context.Context, sessionID string) ([]TranscriptEntry, error)
	Del(ctx context.Context, sessionID string) error
}
