package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// WhisperHTTP talks to a whisper-style ASR endpoint: multipart POST with the
// audio file, JSON response carrying the transcript.
type WhisperHTTP struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewWhisperHTTP(endpoint, apiKey string, timeout time.Duration) *WhisperHTTP {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &WhisperHTTP{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (w *WhisperHTTP) Close() error { return nil }

type whisperResp struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func (w *WhisperHTTP) Transcribe(ctx context.Context, audio []byte, language string) (string, float64, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", 0, err
		}
	}
	fw, err := mw.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return "", 0, err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", 0, err
	}
	if err := mw.Close(); err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, &body)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", 0, fmt.Errorf("asr endpoint http %d: %s", resp.StatusCode, string(b))
	}

	var out whisperResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, err
	}
	return out.Text, out.Confidence, nil
}
