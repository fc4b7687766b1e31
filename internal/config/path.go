package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appDir = "hotcap"

// ResolvePath returns the config file to load: the --config value with ~
// expanded, else config.yaml under the user config dir.
func ResolvePath(explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return ExpandHome(explicit)
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, appDir, "config.yaml"), nil
}

// ExpandHome expands "~" and "~/..." only; "~user" forms are left alone.
func ExpandHome(path string) (string, error) {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok || (rest != "" && rest[0] != '/') {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", path, err)
	}
	return filepath.Join(home, rest), nil
}
