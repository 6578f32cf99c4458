package stream

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/sercuelabs/sercuescribe/internal/models"
	"github.com/sercuelabs/sercuescribe/internal/utils"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testParams() models.AudioParams {
	return models.AudioParams{SampleRate: 44100, Channels: 1, Format: "wav"}
}

func newTestStore(t *testing.T, maxSessions int) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), maxSessions, testLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestStoreCreateAndSnapshot(t *testing.T) {
	s := newTestStore(t, 0)

	sess, err := s.Create("user-1", testParams())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sess.SessionID == "" {
		t.Fatal("expected non-empty session id")
	}
	if sess.Status != models.StatusActive {
		t.Errorf("status = %q, want active", sess.Status)
	}
	if sess.TotalChunks != 0 || sess.DurationSeconds != 0 {
		t.Error("new session should have zero chunks and duration")
	}

	got, ok := s.Snapshot(sess.SessionID)
	if !ok {
		t.Fatal("Snapshot did not find the session")
	}
	if got.SessionID != sess.SessionID || got.UserID != "user-1" {
		t.Error("snapshot does not match created session")
	}

	workDir, ok := s.WorkDir(sess.SessionID)
	if !ok {
		t.Fatal("WorkDir did not find the session")
	}
	if _, err := os.Stat(workDir); err != nil {
		t.Errorf("working directory was not created: %v", err)
	}
}

func TestStoreMaxSessions(t *testing.T) {
	s := newTestStore(t, 2)

	for i := 0; i < 2; i++ {
		if _, err := s.Create("", testParams()); err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
	}
	if _, err := s.Create("", testParams()); !utils.IsCode(err, utils.CodeUnavailable) {
		t.Errorf("expected UNAVAILABLE beyond the session cap, got %v", err)
	}
}

func TestStoreRemoveIdempotent(t *testing.T) {
	s := newTestStore(t, 0)
	sess, err := s.Create("", testParams())
	if err != nil {
		t.Fatal(err)
	}

	if !s.Remove(sess.SessionID) {
		t.Error("first Remove should return true")
	}
	if s.Remove(sess.SessionID) {
		t.Error("second Remove should return false")
	}
	if _, ok := s.Snapshot(sess.SessionID); ok {
		t.Error("removed session should not resolve")
	}
}

func TestStoreConcurrentCreateUniqueIDs(t *testing.T) {
	s := newTestStore(t, 0)

	const n = 50
	var wg sync.WaitGroup
	ids := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := s.Create("", testParams())
			if err != nil {
				t.Errorf("concurrent Create failed: %v", err)
				return
			}
			ids <- sess.SessionID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate session id %s", id)
		}
		seen[id] = true
	}
	if s.Len() != n {
		t.Errorf("Len = %d, want %d", s.Len(), n)
	}
}

func TestStoreAddChunk(t *testing.T) {
	s := newTestStore(t, 0)
	sess, _ := s.Create("", testParams())

	for i := 1; i <= 3; i++ {
		got, err := s.AddChunk(sess.SessionID, 0.5)
		if err != nil {
			t.Fatalf("AddChunk %d failed: %v", i, err)
		}
		if got.TotalChunks != int64(i) {
			t.Errorf("TotalChunks = %d, want %d", got.TotalChunks, i)
		}
	}

	snap, _ := s.Snapshot(sess.SessionID)
	if snap.DurationSeconds != 1.5 {
		t.Errorf("DurationSeconds = %f, want 1.5", snap.DurationSeconds)
	}

	if _, err := s.AddChunk("missing", 1); !utils.IsCode(err, utils.CodeNotFound) {
		t.Errorf("expected NOT_FOUND for unknown session, got %v", err)
	}

	s.SetStatus(sess.SessionID, models.StatusCompleted)
	if _, err := s.AddChunk(sess.SessionID, 1); !utils.IsCode(err, utils.CodeConflict) {
		t.Errorf("expected CONFLICT for completed session, got %v", err)
	}
}

func TestStoreStatusOneDirectional(t *testing.T) {
	s := newTestStore(t, 0)
	sess, _ := s.Create("", testParams())

	snap, changed, ok := s.SetStatus(sess.SessionID, models.StatusCompleted)
	if !ok || !changed || snap.Status != models.StatusCompleted {
		t.Fatalf("first transition: changed=%v ok=%v status=%q", changed, ok, snap.Status)
	}

	snap, changed, ok = s.SetStatus(sess.SessionID, models.StatusError)
	if !ok {
		t.Fatal("session disappeared")
	}
	if changed {
		t.Error("terminal status must not change again")
	}
	if snap.Status != models.StatusCompleted {
		t.Errorf("status = %q, want completed", snap.Status)
	}
}

func TestStoreFallbackPath(t *testing.T) {
	// A file in place of the requested directory forces the fallback.
	base := t.TempDir()
	blocked := filepath.Join(base, "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(filepath.Join(blocked, "nested"), 0, testLogger())
	if err != nil {
		t.Fatalf("expected fallback, got error: %v", err)
	}
	if s.StoragePath() == filepath.Join(blocked, "nested") {
		t.Error("expected storage path to move to the fallback directory")
	}
}
