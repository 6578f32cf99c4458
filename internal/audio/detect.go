package audio

import "bytes"

// Subtype is a detected media container subtype.
type Subtype string

const (
	SubtypeWAV  Subtype = "wav"
	SubtypeMP3  Subtype = "mp3"
	SubtypeFLAC Subtype = "flac"
	SubtypeAAC  Subtype = "aac"
	SubtypeOgg  Subtype = "ogg"
	SubtypePCM  Subtype = "pcm" // no container header, treated as raw 16-bit PCM
)

// DetectFormat probes container magic bytes. Clients may send heterogeneous
// containers within one session, so detection is per chunk. Payloads with no
// recognizable header are treated as raw PCM at the session's negotiated
// parameters.
func DetectFormat(data []byte) Subtype {
	switch {
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return SubtypeWAV
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("fLaC")):
		return SubtypeFLAC
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("OggS")):
		return SubtypeOgg
	case len(data) >= 3 && bytes.Equal(data[:3], []byte("ID3")):
		return SubtypeMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xF6 == 0xF0:
		// ADTS sync word (AAC)
		return SubtypeAAC
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG audio frame sync (headerless MP3)
		return SubtypeMP3
	default:
		return SubtypePCM
	}
}
