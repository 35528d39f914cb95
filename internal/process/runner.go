package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrRunnerNotFound is returned when neither PATH nor any fallback location
// yields the runner executable.
var ErrRunnerNotFound = errors.New("runner executable not found")

// FindRunner resolves name through PATH and then through fallbacks in order.
// Fallback entries starting with "~/" are relative to the user's home.
func FindRunner(name string, fallbacks []string) (string, error) {
	if name != "" {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	for _, fb := range fallbacks {
		p := expandHome(fb)
		if p == "" {
			continue
		}
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrRunnerNotFound, name)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
