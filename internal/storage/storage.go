package storage

import (
	"context"
	"io"
	"time"
)

// Uploader receives ownership of a session's finalized artifact.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

// Signer produces time-limited download URLs for stored artifacts.
type Signer interface {
	SignedGetURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)
}
