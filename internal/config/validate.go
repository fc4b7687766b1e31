package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rbright/hotcap/internal/ringsink"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if err := cfg.CaptureSettings().Validate(); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	format, err := ringsink.ParseFormat(cfg.Capture.Format)
	if err != nil {
		return nil, fmt.Errorf("capture.format: %w", err)
	}
	if format == ringsink.FormatFLAC && cfg.Capture.BitDepth == 32 {
		return nil, fmt.Errorf("capture.format flac requires capture.bit_depth 8, 16, or 24")
	}
	if cfg.Capture.QueueSize <= 0 {
		return nil, fmt.Errorf("capture.queue_size must be > 0")
	}
	if cfg.Capture.StopGraceMS < 0 {
		return nil, fmt.Errorf("capture.stop_grace_ms must be >= 0")
	}
	if cfg.Capture.ExportSeconds > cfg.Capture.RingSeconds {
		warnings = append(warnings, Warning{
			Key:     "capture.export_seconds",
			Message: fmt.Sprintf("capture.export_seconds=%d exceeds ring_seconds=%d; exports are clamped", cfg.Capture.ExportSeconds, cfg.Capture.RingSeconds),
		})
	}

	if strings.TrimSpace(cfg.Output.Dir) == "" {
		return nil, fmt.Errorf("output.dir must not be empty")
	}
	if err := checkFileName("output.audio_file", cfg.Output.AudioFile); err != nil {
		return nil, err
	}
	if err := checkFileName("output.screenshot_file", cfg.Output.ScreenshotFile); err != nil {
		return nil, err
	}
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(cfg.Output.AudioFile)), "."); ext != string(format) {
		warnings = append(warnings, Warning{
			Key:     "output.audio_file",
			Message: fmt.Sprintf("output.audio_file %q does not match capture.format %q", cfg.Output.AudioFile, format),
		})
	}

	if len(cfg.Screenshot.Command.Argv) == 0 {
		return nil, fmt.Errorf("screenshot.command must not be empty")
	}
	if len(cfg.Chat.Command.Argv) == 0 {
		return nil, fmt.Errorf("chat.command must not be empty")
	}
	if cfg.Chat.ShutdownTimeoutMS <= 0 {
		return nil, fmt.Errorf("chat.shutdown_timeout_ms must be > 0")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	return warnings, nil
}

func checkFileName(key string, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%s must not be empty", key)
	}
	if name != filepath.Base(name) {
		return fmt.Errorf("%s must be a file name, got %q", key, name)
	}
	return nil
}
