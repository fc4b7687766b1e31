// Package hypr queries the Hyprland compositor through hyprctl.
package hypr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Binary is the hyprctl executable looked up on PATH.
const Binary = "hyprctl"

type monitor struct {
	Name    string `json:"name"`
	Focused bool   `json:"focused"`
}

// FocusedOutput returns the name of the focused monitor, or the first monitor
// when none reports focus.
func FocusedOutput(ctx context.Context) (string, error) {
	out, err := hyprctl(ctx, "-j", "monitors")
	if err != nil {
		return "", err
	}

	var monitors []monitor
	if err := json.Unmarshal(out, &monitors); err != nil {
		return "", fmt.Errorf("decode hyprctl monitors: %w", err)
	}
	if len(monitors) == 0 {
		return "", errors.New("hyprctl reported no monitors")
	}
	for _, m := range monitors {
		if m.Focused {
			return strings.TrimSpace(m.Name), nil
		}
	}
	return strings.TrimSpace(monitors[0].Name), nil
}

func hyprctl(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, Binary, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return nil, fmt.Errorf("hyprctl %s: %w (%s)", strings.Join(args, " "), err, detail)
		}
		return nil, fmt.Errorf("hyprctl %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}
