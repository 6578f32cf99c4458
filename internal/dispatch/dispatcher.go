package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/sercuelabs/sercuescribe/internal/cache"
	"github.com/sercuelabs/sercuescribe/internal/metrics"
	"github.com/sercuelabs/sercuescribe/internal/models"
	"github.com/sercuelabs/sercuescribe/internal/providers/stt"
)

// Job references one persisted chunk awaiting transcription.
type Job struct {
	SessionID string
	ChunkSeq  int64
	Path      string
	Params    models.AudioParams
}

// Dispatcher feeds persisted chunks to the transcription backend on a fixed
// worker pool behind a bounded FIFO queue. It is fully decoupled from the
// ingestion path: a backend outage fills the queue and drops chunks, it never
// blocks or fails ingestion, and failures never touch session status.
type Dispatcher struct {
	STT         stt.Provider
	Redis       *redis.Client         // optional transcript publisher
	Transcripts cache.TranscriptStore // optional transcript retention
	Logger      *logrus.Logger
	Metrics     *metrics.Metrics
	Language    string
	NumWorkers  int
	QueueSize   int

	queue chan Job
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Start spawns the worker pool. Must be called before Enqueue.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.STT == nil {
		return errors.New("Dispatcher missing dependency: STT must be set")
	}
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	if d.NumWorkers <= 0 {
		d.NumWorkers = 3
	}
	if d.QueueSize <= 0 {
		d.QueueSize = 256
	}

	d.queue = make(chan Job, d.QueueSize)
	for i := 0; i < d.NumWorkers; i++ {
		d.wg.Add(1)
		go d.runWorker(ctx, i+1)
	}
	return nil
}

// Enqueue implements stream.TranscriptionDispatcher. Never blocks: when the
// queue is full or the dispatcher is shut down the chunk is skipped and false
// is returned.
func (d *Dispatcher) Enqueue(sessionID string, seq int64, chunkPath string, params models.AudioParams) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.queue == nil {
		return false
	}

	select {
	case d.queue <- Job{SessionID: sessionID, ChunkSeq: seq, Path: chunkPath, Params: params}:
		if d.Metrics != nil {
			d.Metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		}
		return true
	default:
		if d.Metrics != nil {
			d.Metrics.DispatchDropped.Inc()
		}
		return false
	}
}

// Shutdown stops intake and drains queued work, waiting up to the context
// deadline for in-flight transcriptions to finish.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.mu.Lock()
	if d.closed || d.queue == nil {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.Logger.Warn("dispatcher shutdown timed out, abandoning queued chunks")
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, id int) {
	defer d.wg.Done()
	for job := range d.queue {
		if d.Metrics != nil {
			d.Metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		}
		d.handle(ctx, id, job)
	}
}

func (d *Dispatcher) handle(ctx context.Context, worker int, job Job) {
	log := d.Logger.WithFields(logrus.Fields{
		"worker":     worker,
		"session_id": job.SessionID,
		"chunk_seq":  job.ChunkSeq,
	})

	audioBytes, err := os.ReadFile(job.Path)
	if err != nil {
		// Session may have closed and released its working directory before
		// this chunk reached the front of the queue.
		log.WithError(err).Warn("chunk file unavailable, skipping transcription")
		d.countFailure()
		return
	}

	start := time.Now()
	text, confidence, err := d.STT.Transcribe(ctx, audioBytes, d.Language)
	if err != nil {
		log.WithError(err).Warn("transcription failed")
		d.countFailure()
		return
	}

	if d.Metrics != nil {
		d.Metrics.TranscriptionSuccess.Inc()
	}
	log.WithFields(logrus.Fields{
		"transcript": text,
		"confidence": confidence,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Info("chunk transcribed")

	d.publish(ctx, job, text, confidence)
}

func (d *Dispatcher) publish(ctx context.Context, job Job, text string, confidence float64) {
	if d.Transcripts != nil {
		entry := cache.TranscriptEntry{
			ChunkSeq:   job.ChunkSeq,
			Text:       text,
			Confidence: confidence,
			At:         time.Now().UTC(),
		}
		if err := d.Transcripts.Append(ctx, job.SessionID, entry); err != nil {
			d.Logger.WithError(err).WithField("session_id", job.SessionID).Warn("transcript store append failed")
		}
	}

	if d.Redis == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"type":        "transcript",
		"session_id":  job.SessionID,
		"chunk_index": job.ChunkSeq,
		"text":        text,
		"confidence":  confidence,
	})
	if err != nil {
		return
	}

	ch := "session:" + job.SessionID + ":transcript"
	if err := d.Redis.Publish(ctx, ch, string(payload)).Err(); err != nil {
		d.Logger.WithError(err).WithFields(logrus.Fields{
			"session_id":  job.SessionID,
			"chunk_index": strconv.FormatInt(job.ChunkSeq, 10),
		}).Warn("transcript publish failed")
	}
}

func (d *Dispatcher) countFailure() {
	if d.Metrics != nil {
		d.Metrics.TranscriptionFailures.Inc()
	}
}
