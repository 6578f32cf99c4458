package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// bytesPerSample is fixed: the canonical artifact codec is 16-bit PCM.
const bytesPerSample = 2

// WAVHeader represents the 44-byte canonical header of a PCM WAV file.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // number of bytes in the data section
}

// HeaderSize is the length of the canonical PCM WAV header.
const HeaderSize = 44

// EncodeHeader builds a canonical PCM WAV header for a data section of
// dataSize bytes.
func EncodeHeader(dataSize uint32, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("channel count must be 1 or 2, got %d", channels)
	}

	bitsPerSample := uint16(bytesPerSample * 8)
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(channels) * uint32(bitsPerSample) / 8,
		BlockAlign:    uint16(channels) * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseWAV extracts the PCM data section and declared parameters from a WAV
// payload. Only 16-bit PCM is accepted; compressed WAV variants are rejected.
func ParseWAV(data []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(data) < HeaderSize {
		return nil, 0, 0, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", HeaderSize, len(data))
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &header); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("not a RIFF/WAVE payload")
	}
	// Only the canonical 44-byte layout is accepted. An extended fmt chunk or
	// a LIST/INFO chunk ahead of the data section would shift every later
	// field, so metadata bytes would be returned as PCM.
	if string(header.Subchunk1ID[:]) != "fmt " || header.Subchunk1Size != 16 {
		return nil, 0, 0, fmt.Errorf("non-canonical WAV layout: fmt chunk %q size %d", header.Subchunk1ID, header.Subchunk1Size)
	}
	if string(header.Subchunk2ID[:]) != "data" {
		return nil, 0, 0, fmt.Errorf("non-canonical WAV layout: expected data chunk, got %q", header.Subchunk2ID)
	}
	if header.AudioFormat != 1 {
		return nil, 0, 0, fmt.Errorf("unsupported WAV audio format %d (only PCM)", header.AudioFormat)
	}
	if header.BitsPerSample != 16 {
		return nil, 0, 0, fmt.Errorf("unsupported sample width %d bits (only 16)", header.BitsPerSample)
	}

	body := data[HeaderSize:]
	size := int(header.Subchunk2Size)
	if size > len(body) {
		size = len(body)
	}
	return body[:size], int(header.SampleRate), int(header.NumChannels), nil
}

// PCMDuration returns the play time in seconds of n bytes of 16-bit PCM.
func PCMDuration(n, sampleRate, channels int) float64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return float64(n) / float64(sampleRate*channels*bytesPerSample)
}
