package stream

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sercuelabs/sercuescribe/internal/models"
	"github.com/sercuelabs/sercuescribe/internal/utils"
)

// session is the store-internal record. The entry mutex guards field updates
// so that HTTP snapshot reads never race the owning connection's writes; the
// store mutex guards only registry structure (insert/lookup/remove) and is
// never held across chunk processing.
type session struct {
	mu      sync.Mutex
	data    models.Session
	workDir string
}

// Store is the in-memory session registry. Sessions are ephemeral: they do
// not survive a process restart.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session

	storagePath string
	maxSessions int
	log         *logrus.Logger
}

// NewStore creates a session registry rooted at storagePath. If the path
// cannot be created it falls back to a directory under os.TempDir().
func NewStore(storagePath string, maxSessions int, log *logrus.Logger) (*Store, error) {
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		fallback := filepath.Join(os.TempDir(), "audio_sessions")
		if ferr := os.MkdirAll(fallback, 0o755); ferr != nil {
			return nil, fmt.Errorf("failed to create storage path %s: %w", storagePath, err)
		}
		log.WithFields(logrus.Fields{
			"requested": storagePath,
			"fallback":  fallback,
		}).Warn("storage path not writable, using fallback")
		storagePath = fallback
	}

	return &Store{
		sessions:    make(map[string]*session),
		storagePath: storagePath,
		maxSessions: maxSessions,
		log:         log,
	}, nil
}

// StoragePath returns the root directory for session artifacts.
func (s *Store) StoragePath() string { return s.storagePath }

// ArtifactPath returns the location of the assembled WAV for a session. The
// file exists only after the first chunk has been appended.
func (s *Store) ArtifactPath(sessionID string) string {
	return filepath.Join(s.storagePath, sessionID+".wav")
}

// Create registers a new active session and allocates its working directory.
// On working-directory failure nothing is registered.
func (s *Store) Create(userID string, params models.AudioParams) (models.Session, error) {
	const op = "Store.Create"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		return models.Session{}, utils.E(utils.CodeUnavailable, op, "maximum concurrent sessions reached", nil)
	}

	sessionID := uuid.NewString()
	workDir := filepath.Join(s.storagePath, "session_"+sessionID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return models.Session{}, utils.E(utils.CodeInternal, op, "failed to create session working directory", err)
	}

	now := time.Now().UTC()
	entry := &session{
		data: models.Session{
			SessionID:    sessionID,
			UserID:       userID,
			Status:       models.StatusActive,
			Params:       params,
			StartTime:    now,
			LastActivity: now,
		},
		workDir: workDir,
	}
	s.sessions[sessionID] = entry

	return entry.data, nil
}

// Snapshot returns a copy of the session state. Pure lookup, no side effects.
func (s *Store) Snapshot(sessionID string) (models.Session, bool) {
	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return models.Session{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.data, true
}

// WorkDir returns the session's working directory.
func (s *Store) WorkDir(sessionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return "", false
	}
	return entry.workDir, true
}

// AddChunk records one accepted chunk: increments the chunk count, adds the
// estimated duration, and refreshes activity. Fails if the session is absent
// or no longer active.
func (s *Store) AddChunk(sessionID string, seconds float64) (models.Session, error) {
	const op = "Store.AddChunk"

	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return models.Session{}, utils.E(utils.CodeNotFound, op, "session not found", nil)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.data.Status != models.StatusActive {
		return models.Session{}, utils.E(utils.CodeConflict, op, "session is not active", nil)
	}
	entry.data.TotalChunks++
	entry.data.DurationSeconds += seconds
	entry.data.LastActivity = time.Now().UTC()
	return entry.data, nil
}

// SetStatus transitions a session out of active. Transitions are
// one-directional: a completed or error session keeps its terminal status and
// the call reports the unchanged snapshot with changed=false.
func (s *Store) SetStatus(sessionID, status string) (snap models.Session, changed, ok bool) {
	s.mu.RLock()
	entry, found := s.sessions[sessionID]
	s.mu.RUnlock()
	if !found {
		return models.Session{}, false, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.data.Status == models.StatusActive {
		entry.data.Status = status
		entry.data.LastActivity = time.Now().UTC()
		changed = true
	}
	return entry.data, changed, true
}

// Remove deregisters a session. Idempotent: returns false if already absent.
// Releasing the working directory and artifact is the caller's concern.
func (s *Store) Remove(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return false
	}
	delete(s.sessions, sessionID)
	return true
}

// Snapshots returns copies of every registered session, for sweeps and
// monitoring.
func (s *Store) Snapshots() []models.Session {
	s.mu.RLock()
	entries := make([]*session, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]models.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.data)
		e.mu.Unlock()
	}
	return out
}

// Len reports the number of registered sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
