package stream

import (
	"github.com/sirupsen/logrus"

	"github.com/sercuelabs/sercuescribe/internal/metrics"
	"github.com/sercuelabs/sercuescribe/internal/models"
	"github.com/sercuelabs/sercuescribe/internal/utils"
)

// TranscriptionDispatcher hands persisted chunks to an external transcription
// backend without blocking ingestion. Enqueue must never block; it reports
// whether the chunk was accepted for dispatch.
type TranscriptionDispatcher interface {
	Enqueue(sessionID string, seq int64, chunkPath string, params models.AudioParams) bool
}

// Ingestor accepts one chunk at a time for a named session. The caller
// (the owning connection) is the session's single writer: sequence numbers
// are assigned by the connection's counter, never taken from the client body.
type Ingestor struct {
	store      *Store
	pipeline   *Pipeline
	dispatcher TranscriptionDispatcher
	maxChunk   int64
	log        *logrus.Logger
	metrics    *metrics.Metrics
}

func NewIngestor(store *Store, pipeline *Pipeline, dispatcher TranscriptionDispatcher, maxChunkSize int64, log *logrus.Logger, m *metrics.Metrics) *Ingestor {
	return &Ingestor{
		store:      store,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		maxChunk:   maxChunkSize,
		log:        log,
		metrics:    m,
	}
}

// Ingest validates and persists one chunk, updating session bookkeeping.
//
// Accounting is count-then-fail: statistics advance as soon as the chunk
// passes validation, before the assembly step, so a concurrent status query
// after a successful response always sees the updated count. If assembly then
// fails the chunk stays counted and the failure is surfaced to the caller as
// a per-chunk error, never by terminating the connection.
func (i *Ingestor) Ingest(sessionID string, data []byte, seq int64) (models.Session, error) {
	const op = "Ingestor.Ingest"

	sess, ok := i.store.Snapshot(sessionID)
	if !ok {
		return models.Session{}, utils.E(utils.CodeNotFound, op, "session not found", nil)
	}
	if sess.Status != models.StatusActive {
		return sess, utils.E(utils.CodeConflict, op, "session is not active", nil)
	}

	if i.maxChunk > 0 && int64(len(data)) > i.maxChunk {
		i.countFailure("payload_too_large")
		return sess, utils.E(utils.CodePayloadTooLarge, op, "chunk exceeds maximum size", nil)
	}

	pcm, seconds, err := i.pipeline.Decode(data, sess.Params)
	if err != nil {
		i.countFailure("unsupported_format")
		return sess, utils.E(utils.CodeUnsupportedFormat, op, "chunk format not supported", err)
	}

	sess, err = i.store.AddChunk(sessionID, seconds)
	if err != nil {
		return sess, err
	}
	if i.metrics != nil {
		i.metrics.ChunksIngested.Inc()
		i.metrics.ChunkBytes.Add(float64(len(data)))
	}

	chunkPath, err := i.pipeline.Persist(sessionID, seq, pcm, sess.Params)
	if err != nil {
		i.countFailure("assembly_failed")
		i.log.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"chunk_seq":  seq,
		}).Error("chunk assembly failed")
		return sess, utils.E(utils.CodeInternal, op, "failed to assemble chunk", err)
	}

	if !i.dispatcher.Enqueue(sessionID, seq, chunkPath, sess.Params) {
		// Dispatch is fire-and-forget; a full queue never fails ingestion.
		i.log.WithFields(logrus.Fields{
			"session_id": sessionID,
			"chunk_seq":  seq,
		}).Warn("transcription queue full, chunk skipped")
	}

	return sess, nil
}

func (i *Ingestor) countFailure(reason string) {
	if i.metrics != nil {
		i.metrics.IngestFailures.WithLabelValues(reason).Inc()
	}
}
