package paths

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// StateBaseDir resolves the default base directory for host-side state.
// Preference order:
// 1. $XDG_STATE_HOME/outpost
// 2. ~/.local/state/outpost
// 3. $XDG_RUNTIME_DIR/outpost
func StateBaseDir() (string, error) {
	if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
		return filepath.Join(stateHome, "outpost"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		if runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); runtimeDir != "" {
			return filepath.Join(runtimeDir, "outpost"), nil
		}
		return "", err
	}
	if home != "" {
		return filepath.Join(home, ".local", "state", "outpost"), nil
	}
	if runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); runtimeDir != "" {
		return filepath.Join(runtimeDir, "outpost"), nil
	}
	return "", errors.New("unable to resolve state directory from XDG state/runtime or home")
}

// RunHistoryDBPath returns the default path of the supervised-run history
// database.
func RunHistoryDBPath() (string, error) {
	base, err := StateBaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "runs.db"), nil
}
