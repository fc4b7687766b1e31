package config

import "path/filepath"

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	screenshot := "grim"
	chat := "python3 chat.py"

	return Config{
		Capture: CaptureConfig{
			Destination:   "audio_buffer",
			SampleRate:    48000,
			Channels:      1,
			BitDepth:      16,
			RingSeconds:   90,
			ExportSeconds: 60,
			Format:        "wav",
			QueueSize:     256,
			StopGraceMS:   100,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Output: OutputConfig{
			Dir:            filepath.Join("~", "Documents", "hotcap"),
			AudioFile:      "capture.wav",
			ScreenshotFile: "capture.png",
		},
		Screenshot: ScreenshotConfig{
			Command: CommandConfig{Raw: screenshot, Argv: mustSplitCommand(screenshot)},
		},
		Chat: ChatConfig{
			Command:           CommandConfig{Raw: chat, Argv: mustSplitCommand(chat)},
			ShutdownTimeoutMS: 5000,
		},
		Hotkey:    HotkeyConfig{Enable: true},
		Indicator: IndicatorConfig{Enable: true, SoundEnable: true},
		Log:       LogConfig{Level: "info"},
	}
}

// defaultValues flattens Default into viper keys.
func defaultValues() map[string]any {
	cfg := Default()
	return map[string]any{
		"capture.destination":       cfg.Capture.Destination,
		"capture.sample_rate":       int(cfg.Capture.SampleRate),
		"capture.channels":          int(cfg.Capture.Channels),
		"capture.bit_depth":         int(cfg.Capture.BitDepth),
		"capture.ring_seconds":      int(cfg.Capture.RingSeconds),
		"capture.export_seconds":    int(cfg.Capture.ExportSeconds),
		"capture.format":            cfg.Capture.Format,
		"capture.queue_size":        cfg.Capture.QueueSize,
		"capture.stop_grace_ms":     cfg.Capture.StopGraceMS,
		"audio.input":               cfg.Audio.Input,
		"audio.fallback":            cfg.Audio.Fallback,
		"output.dir":                cfg.Output.Dir,
		"output.audio_file":         cfg.Output.AudioFile,
		"output.screenshot_file":    cfg.Output.ScreenshotFile,
		"screenshot.command":        cfg.Screenshot.Command.Raw,
		"screenshot.focused_output": cfg.Screenshot.FocusedOutput,
		"chat.command":              cfg.Chat.Command.Raw,
		"chat.workdir":              cfg.Chat.Workdir,
		"chat.shutdown_timeout_ms":  cfg.Chat.ShutdownTimeoutMS,
		"hotkey.enable":             cfg.Hotkey.Enable,
		"indicator.enable":          cfg.Indicator.Enable,
		"indicator.sound_enable":    cfg.Indicator.SoundEnable,
		"log.level":                 cfg.Log.Level,
	}
}
