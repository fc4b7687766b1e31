package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "HOTCAP"

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, decodes, and validates the runtime configuration.
// HOTCAP_<SECTION>_<KEY> environment variables override file values.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	v := newViper()
	warnings := make([]Warning, 0)
	exists := true

	if _, err := os.Stat(resolvedPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
		}
		exists = false
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		})
	}

	if exists {
		v.SetConfigFile(resolvedPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
		}
		warnings = append(warnings, unknownKeys(v)...)
	}

	cfg, err := decode(v)
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
	}

	validated, err := Validate(cfg)
	if err != nil {
		return Loaded{}, fmt.Errorf("invalid config %q: %w", resolvedPath, err)
	}
	warnings = append(warnings, validated...)

	return Loaded{
		Path:     resolvedPath,
		Config:   cfg,
		Warnings: warnings,
		Exists:   exists,
	}, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaultValues() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unknownKeys(v *viper.Viper) []Warning {
	known := defaultValues()
	unknown := make([]string, 0)
	for _, key := range v.AllKeys() {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	warnings := make([]Warning, 0, len(unknown))
	for _, key := range unknown {
		warnings = append(warnings, Warning{Key: key, Message: fmt.Sprintf("unknown key %q ignored", key)})
	}
	return warnings
}

func decode(v *viper.Viper) (Config, error) {
	var (
		cfg  Config
		errs []error
	)
	unsigned := func(key string, limit int) int {
		n := v.GetInt(key)
		if n < 0 || n > limit {
			errs = append(errs, fmt.Errorf("%s must be between 0 and %d, got %d", key, limit, n))
			return 0
		}
		return n
	}

	cfg.Capture = CaptureConfig{
		Destination:   v.GetString("capture.destination"),
		SampleRate:    uint32(unsigned("capture.sample_rate", 1<<22)),
		Channels:      uint8(unsigned("capture.channels", 255)),
		BitDepth:      uint8(unsigned("capture.bit_depth", 255)),
		RingSeconds:   uint16(unsigned("capture.ring_seconds", 65535)),
		ExportSeconds: uint16(unsigned("capture.export_seconds", 65535)),
		Format:        strings.ToLower(strings.TrimSpace(v.GetString("capture.format"))),
		QueueSize:     v.GetInt("capture.queue_size"),
		StopGraceMS:   v.GetInt("capture.stop_grace_ms"),
	}
	cfg.Audio = AudioConfig{
		Input:    v.GetString("audio.input"),
		Fallback: v.GetString("audio.fallback"),
	}
	cfg.Output = OutputConfig{
		Dir:            v.GetString("output.dir"),
		AudioFile:      v.GetString("output.audio_file"),
		ScreenshotFile: v.GetString("output.screenshot_file"),
	}

	screenshot, err := decodeCommand("screenshot.command", v.Get("screenshot.command"))
	errs = append(errs, err)
	cfg.Screenshot = ScreenshotConfig{
		Command:       screenshot,
		FocusedOutput: v.GetBool("screenshot.focused_output"),
	}

	chat, err := decodeCommand("chat.command", v.Get("chat.command"))
	errs = append(errs, err)
	cfg.Chat = ChatConfig{
		Command:           chat,
		Workdir:           v.GetString("chat.workdir"),
		ShutdownTimeoutMS: v.GetInt("chat.shutdown_timeout_ms"),
	}

	cfg.Hotkey = HotkeyConfig{Enable: v.GetBool("hotkey.enable")}
	cfg.Indicator = IndicatorConfig{
		Enable:      v.GetBool("indicator.enable"),
		SoundEnable: v.GetBool("indicator.sound_enable"),
	}
	cfg.Log = LogConfig{Level: strings.ToLower(strings.TrimSpace(v.GetString("log.level")))}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeCommand accepts either a shell-like string or a YAML list of argv entries.
func decodeCommand(key string, value any) (CommandConfig, error) {
	switch typed := value.(type) {
	case nil:
		return CommandConfig{}, nil
	case string:
		argv, err := splitCommand(typed)
		if err != nil {
			return CommandConfig{}, fmt.Errorf("%s: %w", key, err)
		}
		return CommandConfig{Raw: typed, Argv: argv}, nil
	case []string:
		return CommandConfig{Raw: strings.Join(typed, " "), Argv: append([]string(nil), typed...)}, nil
	case []any:
		argv := make([]string, 0, len(typed))
		for _, item := range typed {
			s, ok := item.(string)
			if !ok {
				return CommandConfig{}, fmt.Errorf("%s: list entries must be strings, got %T", key, item)
			}
			argv = append(argv, s)
		}
		return CommandConfig{Raw: strings.Join(argv, " "), Argv: argv}, nil
	default:
		return CommandConfig{}, fmt.Errorf("%s: expected string or list, got %T", key, value)
	}
}
