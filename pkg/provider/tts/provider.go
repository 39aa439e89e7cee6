// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis server (a local XTTS v2 instance by
// default) and turns one script section into one complete WAV file. Voiceover
// generation is batch work, not realtime playback, so the interface is a
// single blocking call per section; the voice agent loops over script
// sections and saves each result under the session output directory.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"encoding/binary"
	"errors"
	"time"
)

// Request describes one synthesis call.
//
// Speaker and ReferenceAudio are mutually exclusive ways to pick the voice:
// Speaker names a preset studio speaker, ReferenceAudio carries a WAV sample
// for one-shot voice cloning. When both are set the reference wins.
type Request struct {
	// Text is the sentence or section to speak.
	Text string

	// Language is the synthesis language code (e.g., "ko", "en"). Empty uses
	// the provider default.
	Language string

	// Speaker is the preset speaker name, as returned by ListSpeakers.
	Speaker string

	// ReferenceAudio is a WAV sample of the target voice for cloning.
	ReferenceAudio []byte

	// ReferenceText optionally transcribes ReferenceAudio; some servers use
	// it to improve the clone.
	ReferenceText string
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use and must return promptly
// once ctx is cancelled.
type Provider interface {
	// Synthesize speaks req.Text and returns a complete WAV file.
	Synthesize(ctx context.Context, req Request) ([]byte, error)

	// ListSpeakers returns the preset speaker names the server offers.
	ListSpeakers(ctx context.Context) ([]string, error)
}

// WAVInfo holds the format metadata extracted from a RIFF/WAVE container.
type WAVInfo struct {
	// DataOffset is the byte offset of the first PCM sample.
	DataOffset int

	// DataSize is the size of the PCM payload in bytes.
	DataSize int

	// SampleRate is samples per second (e.g., 22050, 24000, 44100).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int

	// BitsPerSample is the sample width, typically 16.
	BitsPerSample int
}

// Duration returns the play time of the PCM payload. Zero when the format
// fields are incomplete.
func (w WAVInfo) Duration() time.Duration {
	bytesPerSecond := w.SampleRate * w.Channels * w.BitsPerSample / 8
	if bytesPerSecond <= 0 || w.DataSize <= 0 {
		return 0
	}
	return time.Duration(float64(w.DataSize) / float64(bytesPerSecond) * float64(time.Second))
}

// ParseWAV scans the RIFF/WAVE container in wav and returns the format from
// the "fmt " sub-chunk plus the location of the "data" chunk. Walking the
// chunks is more robust than hardcoding a 44-byte offset because the fmt
// chunk size varies between encoders.
//
// Returns an error if wav is not a valid RIFF/WAVE container or the fmt or
// data chunk cannot be located.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("tts: WAV too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("tts: WAV missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("tts: WAV missing WAVE identifier")
	}

	var info WAVInfo
	foundFmt := false

	// Walk RIFF chunks starting immediately after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				info.BitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
				foundFmt = true
			}
		case "data":
			info.DataOffset = offset + 8
			info.DataSize = chunkSize
			if info.DataOffset+info.DataSize > len(wav) {
				info.DataSize = len(wav) - info.DataOffset
			}
			if !foundFmt {
				// fmt chunk should appear before data, but be defensive.
				info.SampleRate = 22050
				info.Channels = 1
				info.BitsPerSample = 16
			}
			return info, nil
		}

		// Advance past this chunk (chunks are word-aligned: pad by 1 if odd size).
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("tts: WAV missing data chunk")
}
