// Package config resolves, loads, validates, and defaults hotcap configuration.
package config

// Config is the fully materialized runtime configuration used by hotcap.
type Config struct {
	Capture    CaptureConfig
	Audio      AudioConfig
	Output     OutputConfig
	Screenshot ScreenshotConfig
	Chat       ChatConfig
	Hotkey     HotkeyConfig
	Indicator  IndicatorConfig
	Log        LogConfig
}

// CaptureConfig describes the PCM layout and ring retention of a recording.
type CaptureConfig struct {
	Destination   string
	SampleRate    uint32
	Channels      uint8
	BitDepth      uint8
	RingSeconds   uint16
	ExportSeconds uint16
	Format        string
	QueueSize     int
	StopGraceMS   int
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// OutputConfig names where trigger artifacts land.
type OutputConfig struct {
	Dir            string
	AudioFile      string
	ScreenshotFile string
}

// ScreenshotConfig is the helper invoked with the target path appended.
// FocusedOutput limits the shot to the focused Hyprland monitor by passing
// "-o <name>" ahead of the path.
type ScreenshotConfig struct {
	Command       CommandConfig
	FocusedOutput bool
}

// ChatConfig controls the interactive subprocess launched after each trigger.
type ChatConfig struct {
	Command           CommandConfig
	Workdir           string
	ShutdownTimeoutMS int
}

type HotkeyConfig struct {
	Enable bool
}

// IndicatorConfig controls desktop notification and audio cue behavior.
type IndicatorConfig struct {
	Enable      bool
	SoundEnable bool
}

type LogConfig struct {
	Level string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal load/validation message.
type Warning struct {
	Key     string
	Message string
}
