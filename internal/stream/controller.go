package stream

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sercuelabs/sercuescribe/internal/metrics"
	"github.com/sercuelabs/sercuescribe/internal/models"
	"github.com/sercuelabs/sercuescribe/internal/storage"
	"github.com/sercuelabs/sercuescribe/internal/utils"
)

var (
	validSampleRates = map[int]bool{8000: true, 16000: true, 22050: true, 44100: true, 48000: true, 96000: true}
	validFormats     = map[string]bool{"wav": true, "mp3": true, "flac": true, "aac": true}
)

// ControllerConfig holds lifecycle policy knobs.
type ControllerConfig struct {
	Defaults        models.AudioParams
	MaxSessionAge   time.Duration // forced close past this age, 0 disables
	IdleTimeout     time.Duration // forced close past this inactivity, 0 disables
	AutoCleanup     bool
	CleanupInterval time.Duration
}

// Controller orchestrates session lifecycle: create -> stream -> close, with
// cleanup guaranteed on every exit path (explicit close, disconnect, error,
// idle timeout).
type Controller struct {
	store    *Store
	pipeline *Pipeline
	cfg      ControllerConfig
	uploader storage.Uploader // optional; artifact handed off here on close
	log      *logrus.Logger
	metrics  *metrics.Metrics
}

func NewController(store *Store, pipeline *Pipeline, cfg ControllerConfig, uploader storage.Uploader, log *logrus.Logger, m *metrics.Metrics) *Controller {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	return &Controller{
		store:    store,
		pipeline: pipeline,
		cfg:      cfg,
		uploader: uploader,
		log:      log,
		metrics:  m,
	}
}

// ValidateParams checks requested audio parameters against the supported
// sets, applying configured defaults for zero values. Invalid parameters are
// rejected before any session exists.
func (c *Controller) ValidateParams(sampleRate, channels int, format string) (models.AudioParams, error) {
	const op = "Controller.ValidateParams"

	if sampleRate == 0 {
		sampleRate = c.cfg.Defaults.SampleRate
	}
	if channels == 0 {
		channels = c.cfg.Defaults.Channels
	}
	if format == "" {
		format = c.cfg.Defaults.Format
	}

	if !validSampleRates[sampleRate] {
		return models.AudioParams{}, utils.E(utils.CodeInvalidArgument, op, "invalid sample rate", nil)
	}
	if channels != 1 && channels != 2 {
		return models.AudioParams{}, utils.E(utils.CodeInvalidArgument, op, "channel count must be 1 or 2", nil)
	}
	if !validFormats[format] {
		return models.AudioParams{}, utils.E(utils.CodeInvalidArgument, op, "invalid audio format", nil)
	}

	return models.AudioParams{SampleRate: sampleRate, Channels: channels, Format: format}, nil
}

// Create validates parameters and registers a new active session.
func (c *Controller) Create(userID string, sampleRate, channels int, format string) (models.Session, error) {
	params, err := c.ValidateParams(sampleRate, channels, format)
	if err != nil {
		return models.Session{}, err
	}

	sess, err := c.store.Create(userID, params)
	if err != nil {
		return models.Session{}, err
	}

	if c.metrics != nil {
		c.metrics.SessionsCreated.Inc()
		c.metrics.ActiveSessions.Inc()
	}
	c.log.WithFields(logrus.Fields{
		"session_id":  sess.SessionID,
		"user_id":     sess.UserID,
		"sample_rate": params.SampleRate,
		"channels":    params.Channels,
		"format":      params.Format,
	}).Info("audio session created")

	return sess, nil
}

// Resume validates an existing session for a reconnecting client.
func (c *Controller) Resume(sessionID string) (models.Session, error) {
	const op = "Controller.Resume"

	sess, ok := c.store.Snapshot(sessionID)
	if !ok {
		return models.Session{}, utils.E(utils.CodeNotFound, op, "session not found", nil)
	}
	return sess, nil
}

// Info returns the external snapshot of a session. Sessions are retained
// after close until the cleanup sweep evicts them, so a completed session
// keeps answering queries with its final state.
func (c *Controller) Info(sessionID string) (models.SessionInfo, error) {
	const op = "Controller.Info"

	sess, ok := c.store.Snapshot(sessionID)
	if !ok {
		return models.SessionInfo{}, utils.E(utils.CodeNotFound, op, "session not found", nil)
	}
	return c.infoOf(sess), nil
}

// Close finalizes a session: status -> completed, working directory released,
// artifact handed off to the configured uploader. Idempotent: closing an
// already-closed session returns the same final snapshot without error.
func (c *Controller) Close(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return c.finalize(ctx, sessionID, models.StatusCompleted)
}

// Abort finalizes a session after a mid-stream failure: same cleanup path as
// Close but with terminal status error.
func (c *Controller) Abort(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return c.finalize(ctx, sessionID, models.StatusError)
}

func (c *Controller) finalize(ctx context.Context, sessionID, status string) (models.SessionInfo, error) {
	const op = "Controller.Close"

	snap, changed, ok := c.store.SetStatus(sessionID, status)
	if !ok {
		return models.SessionInfo{}, utils.E(utils.CodeNotFound, op, "session not found", nil)
	}
	if !changed {
		// Already terminal; cleanup ran on the first transition.
		return c.infoOf(snap), nil
	}

	c.pipeline.Release(sessionID)
	if c.metrics != nil {
		c.metrics.ActiveSessions.Dec()
	}

	c.log.WithFields(logrus.Fields{
		"session_id":   sessionID,
		"status":       snap.Status,
		"total_chunks": snap.TotalChunks,
		"duration_s":   snap.DurationSeconds,
	}).Info("audio session closed")

	if c.uploader != nil && snap.TotalChunks > 0 {
		c.uploadArtifact(ctx, sessionID)
	}

	return c.infoOf(snap), nil
}

func (c *Controller) uploadArtifact(ctx context.Context, sessionID string) {
	path := c.store.ArtifactPath(sessionID)
	f, err := os.Open(path)
	if err != nil {
		c.log.WithError(err).WithField("session_id", sessionID).Error("artifact missing, skipping upload")
		return
	}
	defer f.Close()

	url, err := c.uploader.Upload(ctx, sessionID+".wav", "audio/wav", f)
	if err != nil {
		c.log.WithError(err).WithField("session_id", sessionID).Error("artifact upload failed")
		return
	}
	c.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"url":        url,
	}).Info("artifact uploaded")
}

// Run drives the periodic cleanup sweep until ctx is cancelled. Active
// sessions past the idle timeout or maximum age are force-closed through the
// same path as an explicit close; terminal sessions past the idle timeout are
// evicted from the registry.
func (c *Controller) Run(ctx context.Context) {
	if !c.cfg.AutoCleanup {
		return
	}

	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Controller) sweep(ctx context.Context) {
	now := time.Now().UTC()

	for _, sess := range c.store.Snapshots() {
		if sess.Status == models.StatusActive {
			expired := (c.cfg.IdleTimeout > 0 && now.Sub(sess.LastActivity) > c.cfg.IdleTimeout) ||
				(c.cfg.MaxSessionAge > 0 && now.Sub(sess.StartTime) > c.cfg.MaxSessionAge)
			if expired {
				c.log.WithField("session_id", sess.SessionID).Warn("forcing close of expired session")
				if _, err := c.Close(ctx, sess.SessionID); err != nil {
					c.log.WithError(err).WithField("session_id", sess.SessionID).Error("forced close failed")
				}
			}
			continue
		}

		if c.cfg.IdleTimeout > 0 && now.Sub(sess.LastActivity) > c.cfg.IdleTimeout {
			c.store.Remove(sess.SessionID)
		}
	}
}

func (c *Controller) infoOf(sess models.Session) models.SessionInfo {
	return models.SessionInfo{
		SessionID:       sess.SessionID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		FilePath:        c.store.ArtifactPath(sess.SessionID),
		TotalChunks:     sess.TotalChunks,
		DurationSeconds: sess.DurationSeconds,
		Params:          sess.Params,
		StartTime:       sess.StartTime,
	}
}
