package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sercuelabs/sercuescribe/internal/cache"
	"github.com/sercuelabs/sercuescribe/internal/dispatch"
	"github.com/sercuelabs/sercuescribe/internal/models"
	"github.com/sercuelabs/sercuescribe/internal/stream"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// memTranscripts is an in-memory TranscriptStore for handler tests.
type memTranscripts struct {
	mu      sync.Mutex
	entries map[string][]cache.TranscriptEntry
}

func newMemTranscripts() *memTranscripts {
	return &memTranscripts{entries: make(map[string][]cache.TranscriptEntry)}
}

func (m *memTranscripts) Append(_ context.Context, sessionID string, entry cache.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sessionID] = append(m.entries[sessionID], entry)
	return nil
}

func (m *memTranscripts) List(_ context.Context, sessionID string) ([]cache.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]cache.TranscriptEntry(nil), m.entries[sessionID]...), nil
}

func (m *memTranscripts) Del(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}

type testEnv struct {
	srv         *httptest.Server
	store       *stream.Store
	transcripts *memTranscripts
}

func newTestEnv(t *testing.T, maxChunk int64) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := testLogger()

	store, err := stream.NewStore(t.TempDir(), 0, log)
	if err != nil {
		t.Fatal(err)
	}
	pipeline := stream.NewPipeline(store, log)
	controller := stream.NewController(store, pipeline, stream.ControllerConfig{
		Defaults: models.AudioParams{SampleRate: 44100, Channels: 1, Format: "wav"},
	}, nil, log, nil)
	ingestor := stream.NewIngestor(store, pipeline, dispatch.Discard{}, maxChunk, log, nil)

	ws := NewWSHandler(controller, ingestor, WSConfig{
		IdleTimeout:        time.Minute,
		MaxChunkSize:       maxChunk,
		MaxConnsPerSession: 1,
	}, log)
	transcripts := newMemTranscripts()
	sh := NewStreamHandler(controller, transcripts)

	r := gin.New()
	r.POST("/audio/sessions", sh.Create)
	r.GET("/audio/sessions/:session_id", sh.Info)
	r.POST("/audio/sessions/:session_id/close", sh.Close)
	r.GET("/audio/sessions/:session_id/transcript", sh.Transcript)
	r.GET("/ws/audio", ws.StreamNew)
	r.GET("/ws/audio/:session_id", ws.StreamExisting)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, transcripts: transcripts}
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(path), nil)
	if err != nil {
		t.Fatalf("dial %s failed: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readResponse(t *testing.T, conn *websocket.Conn) models.StreamResponse {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var resp models.StreamResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	return resp
}

func TestStreamNewFullScenario(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	conn := env.dial(t, "/ws/audio")

	// Initial hello with the fresh session.
	hello := readResponse(t, conn)
	if hello.Message != "Audio session created" || hello.ChunkCount != 0 || hello.Status != models.StatusActive {
		t.Fatalf("unexpected hello: %+v", hello)
	}
	sessionID := hello.SessionID

	// Defaults were applied.
	snap, ok := env.store.Snapshot(sessionID)
	if !ok {
		t.Fatal("session not registered")
	}
	if snap.Params.SampleRate != 44100 || snap.Params.Channels != 1 || snap.Params.Format != "wav" {
		t.Errorf("defaults not applied: %+v", snap.Params)
	}

	// One silent chunk.
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 1024)); err != nil {
		t.Fatal(err)
	}
	resp := readResponse(t, conn)
	if resp.Status != models.StatusActive || resp.ChunkCount != 1 {
		t.Fatalf("chunk response = %+v", resp)
	}

	// Malformed JSON gets a notice, not a disconnect.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("connection died on invalid JSON: %v", err)
	}
	if !strings.Contains(string(data), "Invalid JSON format") {
		t.Errorf("unexpected invalid-JSON reply: %s", data)
	}

	// Unknown message type likewise.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}
	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("connection died on unknown message: %v", err)
	}
	if !strings.Contains(string(data), "Unknown message type") {
		t.Errorf("unexpected unknown-type reply: %s", data)
	}

	// Explicit close.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"control","action":"close_session"}`)); err != nil {
		t.Fatal(err)
	}
	final := readResponse(t, conn)
	if final.Status != models.StatusCompleted || final.ChunkCount != 1 {
		t.Fatalf("close response = %+v", final)
	}

	// Session is retained with its final state.
	snap, ok = env.store.Snapshot(sessionID)
	if !ok || snap.Status != models.StatusCompleted || snap.TotalChunks != 1 {
		t.Errorf("post-close snapshot = %+v (ok=%v)", snap, ok)
	}
}

func TestStreamNewInvalidParamsPolicyViolation(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	conn := env.dial(t, "/ws/audio?sample_rate=12345")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !asCloseError(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected policy-violation close, got %v", err)
	}

	// No orphan session was created for the rejected attempt.
	if env.store.Len() != 0 {
		t.Errorf("rejected connection left %d sessions", env.store.Len())
	}
}

func TestStreamExistingUnknownSession(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	conn := env.dial(t, "/ws/audio/does-not-exist")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !asCloseError(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected policy-violation close, got %v", err)
	}
}

func TestStreamExistingResumesChunkCounter(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	// Create and stream two chunks, then say a proper goodbye with a close
	// frame. Use a second connection to resume afterwards.
	conn := env.dial(t, "/ws/audio")
	hello := readResponse(t, conn)

	for i := 0; i < 2; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 512)); err != nil {
			t.Fatal(err)
		}
		readResponse(t, conn)
	}
	sendCloseFrame(t, conn)

	// Graceful disconnect finalizes the session as completed.
	waitFor(t, func() bool {
		snap, ok := env.store.Snapshot(hello.SessionID)
		return ok && snap.Status == models.StatusCompleted
	})

	// Resuming a completed session still attaches; chunks are then rejected
	// per-message because the session is terminal.
	conn2 := env.dial(t, "/ws/audio/"+hello.SessionID)
	if err := conn2.WriteMessage(websocket.BinaryMessage, make([]byte, 512)); err != nil {
		t.Fatal(err)
	}
	resp := readResponse(t, conn2)
	if resp.Message != "Failed to process chunk" {
		t.Fatalf("expected per-chunk rejection, got %+v", resp)
	}

	snap, _ := env.store.Snapshot(hello.SessionID)
	if snap.TotalChunks != 2 {
		t.Errorf("TotalChunks = %d, want 2", snap.TotalChunks)
	}
}

func TestAbruptDisconnectMarksSessionError(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	conn := env.dial(t, "/ws/audio")
	hello := readResponse(t, conn)

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 512)); err != nil {
		t.Fatal(err)
	}
	readResponse(t, conn)

	// Drop the TCP connection without a close handshake.
	conn.UnderlyingConn().Close()

	waitFor(t, func() bool {
		snap, ok := env.store.Snapshot(hello.SessionID)
		return ok && snap.Status == models.StatusError
	})

	// Cleanup still ran: working directory gone, chunk count preserved.
	snap, _ := env.store.Snapshot(hello.SessionID)
	if snap.TotalChunks != 1 {
		t.Errorf("TotalChunks = %d, want 1", snap.TotalChunks)
	}
	workDir, _ := env.store.WorkDir(hello.SessionID)
	waitFor(t, func() bool {
		_, err := os.Stat(workDir)
		return os.IsNotExist(err)
	})
}

func sendCloseFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	conn.Close()
}

func TestOversizedChunkRejectedInBand(t *testing.T) {
	env := newTestEnv(t, 2048)
	conn := env.dial(t, "/ws/audio")
	readResponse(t, conn) // hello

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 4096)); err != nil {
		t.Fatal(err)
	}
	resp := readResponse(t, conn)
	if resp.Message != "Failed to process chunk" || resp.ChunkCount != 0 {
		t.Fatalf("oversized chunk response = %+v", resp)
	}

	// The connection survives and a valid chunk is accepted.
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 2048)); err != nil {
		t.Fatal(err)
	}
	resp = readResponse(t, conn)
	if resp.Status != models.StatusActive || resp.ChunkCount != 1 {
		t.Fatalf("follow-up chunk response = %+v", resp)
	}
}

func TestSecondConnectionRejectedAtLimit(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	conn := env.dial(t, "/ws/audio")
	hello := readResponse(t, conn)

	conn2 := env.dial(t, "/ws/audio/"+hello.SessionID)
	conn2.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn2.ReadMessage()
	var ce *websocket.CloseError
	if !asCloseError(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected policy-violation close for second connection, got %v", err)
	}
}

func asCloseError(err error, target **websocket.CloseError) bool {
	ce, ok := err.(*websocket.CloseError)
	if ok {
		*target = ce
	}
	return ok
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
