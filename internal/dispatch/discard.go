package dispatch

import "github.com/sercuelabs/sercuescribe/internal/models"

// Discard accepts and drops every chunk reference. Used when no transcription
// backend is configured so ingestion keeps its contract.
type Discard struct{}

func (Discard) Enqueue(string, int64, string, models.AudioParams) bool { return true }
