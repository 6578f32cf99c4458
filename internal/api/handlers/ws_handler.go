package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sercuelabs/sercuescribe/internal/models"
	"github.com/sercuelabs/sercuescribe/internal/stream"
)

// WSConfig holds connection policy for the streaming endpoints.
type WSConfig struct {
	IdleTimeout        time.Duration
	MaxChunkSize       int64
	MaxConnsPerSession int
}

type WSHandler struct {
	controller *stream.Controller
	ingestor   *stream.Ingestor
	cfg        WSConfig
	log        *logrus.Logger
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	conns map[string]int // attached connections per session
}

func NewWSHandler(controller *stream.Controller, ingestor *stream.Ingestor, cfg WSConfig, log *logrus.Logger) *WSHandler {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.MaxConnsPerSession <= 0 {
		cfg.MaxConnsPerSession = 1
	}
	return &WSHandler{
		controller: controller,
		ingestor:   ingestor,
		cfg:        cfg,
		log:        log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
		conns: make(map[string]int),
	}
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

// frameKind tags an incoming frame once at the boundary; the pump dispatches
// on the tag instead of re-probing message shape.
type frameKind int

const (
	frameChunk frameKind = iota
	frameControl
	frameUnknown
	frameInvalid
)

type inboundFrame struct {
	kind   frameKind
	chunk  []byte
	action string
	raw    json.RawMessage
}

func decodeFrame(messageType int, data []byte) inboundFrame {
	if messageType == websocket.BinaryMessage {
		return inboundFrame{kind: frameChunk, chunk: data}
	}

	var msg struct {
		Type   string `json:"type"`
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return inboundFrame{kind: frameInvalid}
	}
	if msg.Type == "control" && msg.Action == "close_session" {
		return inboundFrame{kind: frameControl, action: msg.Action}
	}
	return inboundFrame{kind: frameUnknown, raw: json.RawMessage(data)}
}

// StreamNew creates a session from query parameters and streams into it.
// Invalid parameters close the socket with a policy-violation code before
// any session exists.
func (h *WSHandler) StreamNew(c *gin.Context) {
	sampleRate, _ := strconv.Atoi(c.Query("sample_rate"))
	channels, _ := strconv.Atoi(c.Query("channels"))
	format := c.Query("format")
	userID := optionalUserID(c)
	if userID == "" {
		userID = c.Query("user_id")
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if _, err := h.controller.ValidateParams(sampleRate, channels, format); err != nil {
		h.closeWith(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}

	sess, err := h.controller.Create(userID, sampleRate, channels, format)
	if err != nil {
		h.log.WithError(err).Error("failed to create audio session")
		h.closeWith(conn, websocket.CloseInternalServerErr, "Session creation failed")
		return
	}

	if !h.acquire(sess.SessionID) {
		h.closeWith(conn, websocket.ClosePolicyViolation, "Too many connections for session")
		return
	}
	defer h.release(sess.SessionID)

	wc := &wsConn{c: conn}
	_ = wc.writeJSON(models.StreamResponse{
		Message:    "Audio session created",
		SessionID:  sess.SessionID,
		ChunkCount: 0,
		Status:     sess.Status,
	})

	h.stream(conn, wc, sess.SessionID, 0)
}

// StreamExisting attaches to a session created earlier; the chunk counter
// resumes from the session's current total.
func (h *WSHandler) StreamExisting(c *gin.Context) {
	sessionID := c.Param("session_id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess, err := h.controller.Resume(sessionID)
	if err != nil {
		h.closeWith(conn, websocket.ClosePolicyViolation, "Session not found")
		return
	}

	if !h.acquire(sessionID) {
		h.closeWith(conn, websocket.ClosePolicyViolation, "Too many connections for session")
		return
	}
	defer h.release(sessionID)

	h.stream(conn, &wsConn{c: conn}, sessionID, sess.TotalChunks)
}

// stream is the per-connection pump. The connection is the session's single
// writer: it assigns sequence numbers as it accepts frames, one at a time.
// Per-chunk failures are answered in-band and never terminate the connection;
// cleanup runs on every exit path. Graceful disconnects and explicit closes
// finalize the session as completed; a stream that dies mid-flight is marked
// error.
func (h *WSHandler) stream(conn *websocket.Conn, wc *wsConn, sessionID string, startCount int64) {
	log := h.log.WithField("session_id", sessionID)
	log.Info("websocket attached to audio session")

	var abnormal bool
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("unexpected error in audio stream")
			if _, err := h.controller.Abort(context.Background(), sessionID); err != nil {
				log.WithError(err).Error("error-path cleanup failed")
			}
			return
		}
		if abnormal {
			if _, err := h.controller.Abort(context.Background(), sessionID); err != nil {
				log.WithError(err).Error("error-path cleanup failed")
			}
			return
		}
		// Close is idempotent, so the explicit-close path lands here harmlessly.
		if _, err := h.controller.Close(context.Background(), sessionID); err != nil {
			log.WithError(err).Error("disconnect cleanup failed")
		}
	}()

	if h.cfg.MaxChunkSize > 0 {
		// Transport cap above the per-chunk limit so oversized chunks get a
		// structured rejection instead of a dropped connection.
		conn.SetReadLimit(h.cfg.MaxChunkSize*2 + 1024)
	}
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))
	})

	chunkCounter := startCount

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if isGracefulDisconnect(err) {
				log.WithError(err).Info("websocket detached from audio session")
			} else {
				abnormal = true
				log.WithError(err).Warn("websocket stream died mid-flight")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))

		switch f := decodeFrame(messageType, data); f.kind {
		case frameChunk:
			chunkCounter++
			sess, ierr := h.ingestor.Ingest(sessionID, f.chunk, chunkCounter)
			if ierr != nil {
				log.WithError(ierr).WithField("chunk_seq", chunkCounter).Warn("chunk rejected")
				_ = wc.writeJSON(models.StreamResponse{
					Message:    "Failed to process chunk",
					SessionID:  sessionID,
					ChunkCount: sess.TotalChunks,
					Status:     models.StatusError,
				})
				continue
			}
			_ = wc.writeJSON(models.StreamResponse{
				Message:    "Chunk processed successfully",
				SessionID:  sessionID,
				ChunkCount: sess.TotalChunks,
				Status:     sess.Status,
			})

		case frameControl:
			info, cerr := h.controller.Close(context.Background(), sessionID)
			if cerr != nil {
				_ = wc.writeJSON(gin.H{"error": "Failed to close session"})
				continue
			}
			_ = wc.writeJSON(models.StreamResponse{
				Message:    "Session closed successfully",
				SessionID:  sessionID,
				ChunkCount: info.TotalChunks,
				Status:     info.Status,
			})
			return

		case frameUnknown:
			_ = wc.writeJSON(gin.H{"error": "Unknown message type", "received": f.raw})

		case frameInvalid:
			_ = wc.writeJSON(gin.H{"error": "Invalid JSON format"})
		}
	}
}

// isGracefulDisconnect reports whether a read error is a clean goodbye.
// Close-handshake codes count, as does an idle read deadline expiring: the
// sweep treats idleness as a completed session, so the in-connection timeout
// does too. Everything else (dropped TCP, protocol violation, oversized
// frame) is a stream dying mid-flight.
func isGracefulDisconnect(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (h *WSHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
}

func (h *WSHandler) acquire(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[sessionID] >= h.cfg.MaxConnsPerSession {
		return false
	}
	h.conns[sessionID]++
	return true
}

func (h *WSHandler) release(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[sessionID] <= 1 {
		delete(h.conns, sessionID)
	} else {
		h.conns[sessionID]--
	}
}
