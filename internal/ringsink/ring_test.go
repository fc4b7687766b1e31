package ringsink

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/mewkiz/flac"
	"github.com/stretchr/testify/require"

	"github.com/rbright/hotcap/internal/capture"
)

func smallConfig(bitDepth uint8, channels uint8) capture.Config {
	return capture.Config{
		Destination: "test",
		SampleRate:  8,
		Channels:    channels,
		BitDepth:    bitDepth,
		RingSeconds: 2,
	}
}

func sequence(n int, offset int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i + offset)
	}
	return out
}

func TestRingAppendWrapsAndKeepsNewestBytes(t *testing.T) {
	cfg := smallConfig(8, 1) // 16-byte ring
	ring, err := New(cfg, FormatWAV, nil)
	require.NoError(t, err)

	ring.Append(sequence(10, 0))
	ring.Append(sequence(10, 10))
	require.Equal(t, 16, ring.Buffered())

	ring.mu.Lock()
	tail := ring.tailLocked(16)
	ring.mu.Unlock()
	require.Equal(t, sequence(16, 4), tail)
}

func TestRingAppendOversizedChunkKeepsTail(t *testing.T) {
	ring, err := New(smallConfig(8, 1), FormatWAV, nil)
	require.NoError(t, err)

	ring.Append(sequence(40, 0))

	ring.mu.Lock()
	tail := ring.tailLocked(16)
	ring.mu.Unlock()
	require.Equal(t, sequence(16, 24), tail)
}

func TestRingFlushWritesPCM16WAV(t *testing.T) {
	cfg := smallConfig(16, 1) // 16 bytes/sec, 32-byte ring
	ring, err := New(cfg, FormatWAV, nil)
	require.NoError(t, err)
	ring.Append(sequence(40, 0))

	path := filepath.Join(t.TempDir(), "out", "capture.wav")
	require.NoError(t, ring.Flush(context.Background(), 1, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "RIFF", string(raw[0:4]))
	require.Equal(t, "WAVE", string(raw[8:12]))
	require.Equal(t, uint16(wavFormatPCM), binary.LittleEndian.Uint16(raw[20:22]))
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(raw[22:24]))
	require.Equal(t, uint32(8), binary.LittleEndian.Uint32(raw[24:28]))
	require.Equal(t, uint16(16), binary.LittleEndian.Uint16(raw[34:36]))
	require.Equal(t, sequence(16, 24), raw[len(raw)-16:])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must be renamed into place")
}

func TestRingFlushTagsFloatFormatFor32Bit(t *testing.T) {
	cfg := smallConfig(32, 2)
	ring, err := New(cfg, FormatWAV, nil)
	require.NoError(t, err)
	ring.Append(sequence(64, 0))

	path := filepath.Join(t.TempDir(), "capture.wav")
	require.NoError(t, ring.Flush(context.Background(), 2, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, uint16(wavFormatFloat), binary.LittleEndian.Uint16(raw[20:22]))
	require.Equal(t, uint16(2), binary.LittleEndian.Uint16(raw[22:24]))
	require.Equal(t, uint16(32), binary.LittleEndian.Uint16(raw[34:36]))
	require.Equal(t, sequence(64, 0), raw[len(raw)-64:])
}

func TestRingFlushClampsToBufferedAndAlignsFrames(t *testing.T) {
	cfg := smallConfig(16, 2) // 4-byte frames
	ring, err := New(cfg, FormatWAV, nil)
	require.NoError(t, err)
	ring.Append(sequence(7, 0))

	path := filepath.Join(t.TempDir(), "capture.wav")
	require.NoError(t, ring.Flush(context.Background(), 2, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	dataSize := binary.LittleEndian.Uint32(raw[len(raw)-4-4 : len(raw)-4])
	require.Equal(t, uint32(4), dataSize)
	require.Equal(t, sequence(4, 3), raw[len(raw)-4:])
}

func TestRingFlushEmptyWindow(t *testing.T) {
	ring, err := New(smallConfig(16, 1), FormatWAV, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "capture.wav")
	require.ErrorIs(t, ring.Flush(context.Background(), 1, path), ErrEmptyWindow)
	_, statErr := os.Stat(path)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRingFlushFLACRoundTrip(t *testing.T) {
	cfg := smallConfig(16, 1)
	ring, err := New(cfg, FormatFLAC, nil)
	require.NoError(t, err)

	pcm := make([]byte, 32)
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i*100-800)))
	}
	ring.Append(pcm)

	path := filepath.Join(t.TempDir(), "capture.flac")
	require.NoError(t, ring.Flush(context.Background(), 2, path))

	stream, err := flac.ParseFile(path)
	require.NoError(t, err)
	defer stream.Close()

	require.Equal(t, uint32(8), stream.Info.SampleRate)
	require.Equal(t, uint8(1), stream.Info.NChannels)
	require.Equal(t, uint8(16), stream.Info.BitsPerSample)

	f, err := stream.ParseNext()
	require.NoError(t, err)
	require.Len(t, f.Subframes, 1)
	for i, sample := range f.Subframes[0].Samples {
		require.Equal(t, int32(i*100-800), sample)
	}
}

func TestNewRejectsUnsupportedCombinations(t *testing.T) {
	_, err := New(smallConfig(32, 1), FormatFLAC, nil)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = New(smallConfig(16, 1), Format("ogg"), nil)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	cfg := smallConfig(16, 1)
	cfg.SampleRate = 0
	_, err = New(cfg, FormatWAV, nil)
	require.Error(t, err)
}

func TestRingCloseStopsAppendAndFlush(t *testing.T) {
	ring, err := New(smallConfig(8, 1), FormatWAV, nil)
	require.NoError(t, err)

	require.NoError(t, ring.Close())
	ring.Append([]byte{1, 2, 3})
	require.Zero(t, ring.Buffered())
	require.ErrorIs(t, ring.Flush(context.Background(), 1, filepath.Join(t.TempDir(), "x.wav")), ErrClosed)
	require.NoError(t, ring.Close())
}

func TestOpenerImplementsSinkOpener(t *testing.T) {
	var opener capture.SinkOpener = Opener{Format: FormatWAV}
	sink, err := opener.Open(smallConfig(16, 1))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatWAV, format)

	format, err = ParseFormat(" FLAC ")
	require.NoError(t, err)
	require.Equal(t, FormatFLAC, format)

	_, err = ParseFormat("mp3")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}
