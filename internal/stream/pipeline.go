package stream

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sercuelabs/sercuescribe/internal/audio"
	"github.com/sercuelabs/sercuescribe/internal/models"
)

// Pipeline incrementally assembles a session's chunks into a single canonical
// 16-bit PCM WAV artifact. Every merge writes a temp file in the session's
// working directory and renames it over the artifact, so a concurrent reader
// never observes a partially-written file and a failed merge leaves the
// previous valid artifact intact.
type Pipeline struct {
	store *Store
	log   *logrus.Logger

	mu        sync.Mutex
	dataSizes map[string]int64 // assembled PCM bytes per session
}

func NewPipeline(store *Store, log *logrus.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		log:       log,
		dataSizes: make(map[string]int64),
	}
}

// Decode normalizes one chunk to raw PCM and estimates its duration. The
// artifact has a single fixed codec, so chunks carrying a RIFF header must
// declare the session's negotiated rate and channel count; anything else
// would be misdescribed by the artifact header. Headerless payloads are
// treated as raw 16-bit PCM at the negotiated parameters. Compressed
// containers are not decodable here and are rejected per chunk.
func (p *Pipeline) Decode(chunk []byte, params models.AudioParams) (pcm []byte, seconds float64, err error) {
	switch sub := audio.DetectFormat(chunk); sub {
	case audio.SubtypeWAV:
		pcm, rate, channels, perr := audio.ParseWAV(chunk)
		if perr != nil {
			return nil, 0, perr
		}
		if rate != params.SampleRate || channels != params.Channels {
			return nil, 0, fmt.Errorf("WAV chunk declares %dHz/%dch, session negotiated %dHz/%dch",
				rate, channels, params.SampleRate, params.Channels)
		}
		return pcm, audio.PCMDuration(len(pcm), rate, channels), nil
	case audio.SubtypePCM:
		return chunk, audio.PCMDuration(len(chunk), params.SampleRate, params.Channels), nil
	default:
		return nil, 0, fmt.Errorf("compressed container %q cannot be assembled", sub)
	}
}

// Persist writes the chunk to the session's working directory and appends its
// PCM to the artifact. It returns the path of the per-chunk file, which
// outlives the call until the session closes.
func (p *Pipeline) Persist(sessionID string, seq int64, pcm []byte, params models.AudioParams) (chunkPath string, err error) {
	workDir, ok := p.store.WorkDir(sessionID)
	if !ok {
		return "", fmt.Errorf("no working directory for session %s", sessionID)
	}

	chunkPath = filepath.Join(workDir, fmt.Sprintf("chunk_%06d.wav", seq))
	header, err := audio.EncodeHeader(uint32(len(pcm)), params.SampleRate, params.Channels)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(chunkPath, append(header, pcm...), 0o644); err != nil {
		return "", fmt.Errorf("failed to write chunk file: %w", err)
	}

	if err := p.appendArtifact(sessionID, workDir, pcm, params); err != nil {
		return "", err
	}
	return chunkPath, nil
}

// appendArtifact rebuilds the artifact as header + previous data + new PCM
// and atomically replaces the old file.
func (p *Pipeline) appendArtifact(sessionID, workDir string, pcm []byte, params models.AudioParams) error {
	p.mu.Lock()
	prevSize := p.dataSizes[sessionID]
	p.mu.Unlock()

	artifact := p.store.ArtifactPath(sessionID)
	newSize := prevSize + int64(len(pcm))

	header, err := audio.EncodeHeader(uint32(newSize), params.SampleRate, params.Channels)
	if err != nil {
		return err
	}

	tmpPath := filepath.Join(workDir, "concat.tmp")
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}

	err = func() error {
		if _, werr := tmp.Write(header); werr != nil {
			return werr
		}
		if prevSize > 0 {
			prev, oerr := os.Open(artifact)
			if oerr != nil {
				return fmt.Errorf("failed to open existing artifact: %w", oerr)
			}
			defer prev.Close()
			if _, serr := prev.Seek(audio.HeaderSize, io.SeekStart); serr != nil {
				return serr
			}
			if _, cerr := io.Copy(tmp, prev); cerr != nil {
				return cerr
			}
		}
		_, werr := tmp.Write(pcm)
		return werr
	}()
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("artifact merge failed: %w", err)
	}

	if err := os.Rename(tmpPath, artifact); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("artifact replace failed: %w", err)
	}

	p.mu.Lock()
	p.dataSizes[sessionID] = newSize
	p.mu.Unlock()
	return nil
}

// Release removes the session's working directory with all per-chunk
// intermediates and drops assembly state. The artifact itself is kept.
func (p *Pipeline) Release(sessionID string) {
	if workDir, ok := p.store.WorkDir(sessionID); ok {
		if err := os.RemoveAll(workDir); err != nil {
			p.log.WithError(err).WithField("session_id", sessionID).Error("failed to remove working directory")
		}
	}

	p.mu.Lock()
	delete(p.dataSizes, sessionID)
	p.mu.Unlock()
}
