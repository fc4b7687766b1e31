package config

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/rbright/hotcap/internal/capture"
)

// CaptureSettings projects the capture section onto a session config.
func (c Config) CaptureSettings() capture.Config {
	return capture.Config{
		Destination: c.Capture.Destination,
		SampleRate:  c.Capture.SampleRate,
		Channels:    c.Capture.Channels,
		BitDepth:    c.Capture.BitDepth,
		RingSeconds: c.Capture.RingSeconds,
	}
}

func (c Config) StopGrace() time.Duration {
	return time.Duration(c.Capture.StopGraceMS) * time.Millisecond
}

func (c Config) ChatShutdownTimeout() time.Duration {
	return time.Duration(c.Chat.ShutdownTimeoutMS) * time.Millisecond
}

// OutputDir returns output.dir with ~ expanded.
func (c Config) OutputDir() (string, error) {
	return ExpandHome(c.Output.Dir)
}

// ArtifactPaths returns the audio and screenshot targets inside OutputDir.
func (c Config) ArtifactPaths() (audioPath string, screenshotPath string, err error) {
	dir, err := c.OutputDir()
	if err != nil {
		return "", "", err
	}
	return filepath.Join(dir, c.Output.AudioFile), filepath.Join(dir, c.Output.ScreenshotFile), nil
}

// LogLevel maps log.level onto slog levels, defaulting to info.
func (c Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
