package tts

import (
	"encoding/binary"
	"testing"
	"time"
)

// buildTestWAV constructs a minimal valid RIFF/WAVE byte slice containing the
// supplied raw PCM samples: a 12-byte RIFF descriptor, a 16-byte fmt chunk and
// the data chunk.
func buildTestWAV(pcm []byte, sampleRate int) []byte {
	fmtSize := uint32(16)
	dataSize := uint32(len(pcm))
	fileSize := 4 + (8 + fmtSize) + (8 + dataSize)

	buf := make([]byte, 0, 12+8+fmtSize+8+dataSize)
	le := binary.LittleEndian

	putU32 := func(v uint32) {
		var b [4]byte
		le.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	putU16 := func(v uint16) {
		var b [2]byte
		le.PutUint16(b[:], v)
		buf = append(buf, b[:]...)
	}

	buf = append(buf, []byte("RIFF")...)
	putU32(fileSize)
	buf = append(buf, []byte("WAVE")...)

	buf = append(buf, []byte("fmt ")...)
	putU32(fmtSize)
	putU16(1) // PCM format
	putU16(1) // mono
	putU32(uint32(sampleRate))
	putU32(uint32(sampleRate * 2)) // byte rate
	putU16(2)                      // block align
	putU16(16)                     // bits per sample

	buf = append(buf, []byte("data")...)
	putU32(dataSize)
	buf = append(buf, pcm...)

	return buf
}

func TestParseWAV_StandardHeader(t *testing.T) {
	pcm := make([]byte, 320)
	wav := buildTestWAV(pcm, 16000)

	info, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.DataOffset != 44 {
		t.Errorf("DataOffset = %d, want 44", info.DataOffset)
	}
	if info.DataSize != 320 {
		t.Errorf("DataSize = %d, want 320", info.DataSize)
	}
	if info.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Channels = %d, want 1", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("BitsPerSample = %d, want 16", info.BitsPerSample)
	}
}

func TestParseWAV_ExtraChunkBeforeData(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	wav := buildTestWAV(pcm, 22050)

	// Splice an odd-sized LIST chunk between fmt and data to exercise the
	// chunk walk and word alignment.
	list := append([]byte("LIST"), 5, 0, 0, 0)
	list = append(list, []byte("INFOx")...)
	list = append(list, 0) // alignment pad for the odd size

	spliced := append([]byte{}, wav[:36]...) // RIFF header + fmt chunk
	spliced = append(spliced, list...)
	spliced = append(spliced, wav[36:]...) // data chunk

	info, err := ParseWAV(spliced)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	wantOffset := 36 + len(list) + 8
	if info.DataOffset != wantOffset {
		t.Errorf("DataOffset = %d, want %d", info.DataOffset, wantOffset)
	}
	if got := spliced[info.DataOffset : info.DataOffset+info.DataSize]; string(got) != string(pcm) {
		t.Errorf("payload = %v, want %v", got, pcm)
	}
	if info.SampleRate != 22050 {
		t.Errorf("SampleRate = %d, want 22050", info.SampleRate)
	}
}

func TestParseWAV_Errors(t *testing.T) {
	cases := map[string][]byte{
		"too short":    []byte("RIFF"),
		"not riff":     append([]byte("JUNK\x00\x00\x00\x00WAVE"), make([]byte, 32)...),
		"not wave":     append([]byte("RIFF\x00\x00\x00\x00JUNK"), make([]byte, 32)...),
		"missing data": buildTestWAV(nil, 16000)[:36],
	}
	for name, wav := range cases {
		if _, err := ParseWAV(wav); err == nil {
			t.Errorf("%s: expected error, got nil", name)
		}
	}
}

func TestParseWAV_ClampsTruncatedData(t *testing.T) {
	wav := buildTestWAV(make([]byte, 100), 16000)
	truncated := wav[:len(wav)-40]

	info, err := ParseWAV(truncated)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.DataSize != 60 {
		t.Errorf("DataSize = %d, want clamped 60", info.DataSize)
	}
}

func TestWAVInfo_Duration(t *testing.T) {
	// 16 kHz mono 16-bit: 32000 bytes per second.
	info := WAVInfo{DataSize: 32000, SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	if got := info.Duration(); got != time.Second {
		t.Errorf("Duration = %v, want 1s", got)
	}

	info.DataSize = 16000
	if got := info.Duration(); got != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", got)
	}

	if got := (WAVInfo{}).Duration(); got != 0 {
		t.Errorf("zero value Duration = %v, want 0", got)
	}
}

func TestParseWAV_RoundTripDuration(t *testing.T) {
	pcm := make([]byte, 44100*2) // one second at 22.05 kHz mono 16-bit
	wav := buildTestWAV(pcm, 44100)

	info, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if got := info.Duration(); got != time.Second {
		t.Errorf("Duration = %v, want 1s", got)
	}
}
