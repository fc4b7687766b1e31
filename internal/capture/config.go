package capture

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the immutable recording configuration for one session epoch.
type Config struct {
	Destination string
	SampleRate  uint32
	Channels    uint8
	BitDepth    uint8
	RingSeconds uint16
}

// Validate enforces the ring/format invariants a session relies on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Destination) == "" {
		return errors.New("destination must not be empty")
	}
	if c.SampleRate == 0 {
		return errors.New("sample rate must be > 0")
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channel count must be 1 or 2, got %d", c.Channels)
	}
	switch c.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("bit depth must be one of 8, 16, 24, 32, got %d", c.BitDepth)
	}
	if c.RingSeconds == 0 {
		return errors.New("ring duration must be > 0")
	}
	return nil
}

// FrameSize is the byte width of one interleaved sample frame.
func (c Config) FrameSize() int {
	return int(c.Channels) * int(c.BitDepth/8)
}

// BytesPerSecond is the raw PCM data rate for this config.
func (c Config) BytesPerSecond() int64 {
	return int64(c.SampleRate) * int64(c.FrameSize())
}

// RingBytes is the capacity needed to hold RingSeconds of audio.
func (c Config) RingBytes() int64 {
	return c.BytesPerSecond() * int64(c.RingSeconds)
}

// ClampWindow bounds an export window to (0, RingSeconds]; zero selects the whole ring.
func (c Config) ClampWindow(seconds uint16) uint16 {
	if seconds == 0 || seconds > c.RingSeconds {
		return c.RingSeconds
	}
	return seconds
}
