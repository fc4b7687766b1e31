package ringsink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"

	"github.com/rbright/hotcap/internal/capture"
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3

	flacBlockSize = 4096
)

// writeArtifact encodes pcm into a temp file beside path and renames it into
// place so readers never observe a partial export.
func writeArtifact(path string, format Format, cfg capture.Config, pcm []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create export temp file: %w", err)
	}
	tmpPath := file.Name()
	defer func() {
		if err != nil {
			_ = file.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	switch format {
	case FormatFLAC:
		err = encodeFLAC(file, cfg, pcm)
	default:
		err = encodeWAV(file, cfg, pcm)
	}
	if err != nil {
		return err
	}

	// The flac encoder closes writers that implement io.Closer.
	if closeErr := file.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return fmt.Errorf("close export file: %w", closeErr)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("move export into place: %w", err)
	}
	return nil
}

// encodeWAV writes pcm with a RIFF header; 32-bit samples are tagged as IEEE float.
func encodeWAV(w io.WriteSeeker, cfg capture.Config, pcm []byte) error {
	audioFormat := wavFormatPCM
	if cfg.BitDepth == 32 {
		audioFormat = wavFormatFloat
	}

	enc := wav.NewEncoder(w, int(cfg.SampleRate), int(cfg.BitDepth), int(cfg.Channels), audioFormat)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: int(cfg.Channels),
			SampleRate:  int(cfg.SampleRate),
		},
		Data:           decodeSamples(pcm, cfg.BitDepth),
		SourceBitDepth: int(cfg.BitDepth),
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav header: %w", err)
	}
	return nil
}

// encodeFLAC writes pcm as verbatim FLAC frames of flacBlockSize samples.
func encodeFLAC(w io.Writer, cfg capture.Config, pcm []byte) error {
	channels := int(cfg.Channels)
	samples := decodeSamples(pcm, cfg.BitDepth)
	if cfg.BitDepth == 8 {
		// WAV stores 8-bit audio unsigned; FLAC expects signed samples.
		for i := range samples {
			samples[i] -= 128
		}
	}
	frames := len(samples) / channels

	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    cfg.SampleRate,
		NChannels:     cfg.Channels,
		BitsPerSample: cfg.BitDepth,
		NSamples:      uint64(frames),
	}
	enc, err := flac.NewEncoder(w, info)
	if err != nil {
		return fmt.Errorf("creating flac encoder: %w", err)
	}

	layout := frame.ChannelsMono
	if channels == 2 {
		layout = frame.ChannelsLR
	}

	var num uint64
	for start := 0; start < frames; start += flacBlockSize {
		n := min(flacBlockSize, frames-start)
		subframes := make([]*frame.Subframe, channels)
		for c := 0; c < channels; c++ {
			block := make([]int32, n)
			for i := 0; i < n; i++ {
				block[i] = int32(samples[(start+i)*channels+c])
			}
			subframes[c] = &frame.Subframe{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   block,
				NSamples:  n,
			}
		}

		f := &frame.Frame{
			Header: frame.Header{
				HasFixedBlockSize: true,
				BlockSize:         uint16(n),
				SampleRate:        cfg.SampleRate,
				Channels:          layout,
				BitsPerSample:     cfg.BitDepth,
				Num:               num,
			},
			Subframes: subframes,
		}
		if err := enc.WriteFrame(f); err != nil {
			return fmt.Errorf("writing flac frame: %w", err)
		}
		num++
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing flac encoder: %w", err)
	}
	return nil
}

// decodeSamples splits little-endian PCM into per-sample integers. 32-bit
// samples keep their raw bit pattern so float data round-trips unchanged.
func decodeSamples(pcm []byte, bitDepth uint8) []int {
	width := int(bitDepth / 8)
	out := make([]int, 0, len(pcm)/width)
	for i := 0; i+width <= len(pcm); i += width {
		switch bitDepth {
		case 8:
			out = append(out, int(pcm[i]))
		case 16:
			out = append(out, int(int16(uint16(pcm[i])|uint16(pcm[i+1])<<8)))
		case 24:
			v := int32(pcm[i]) | int32(pcm[i+1])<<8 | int32(pcm[i+2])<<16
			if v&0x800000 != 0 {
				v |= ^0xffffff
			}
			out = append(out, int(v))
		case 32:
			out = append(out, int(int32(uint32(pcm[i])|uint32(pcm[i+1])<<8|uint32(pcm[i+2])<<16|uint32(pcm[i+3])<<24)))
		}
	}
	return out
}
