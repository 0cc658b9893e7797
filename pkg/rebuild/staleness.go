package rebuild

import (
	"fmt"
	"os"
)

// IsNewerThan reports whether a was modified strictly after b. A missing b
// counts as older than anything.
func IsNewerThan(a, b string) (bool, error) {
	aInfo, err := os.Stat(a)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", a, err)
	}
	bInfo, err := os.Stat(b)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", b, err)
	}
	return aInfo.ModTime().After(bInfo.ModTime()), nil
}

// IsStale reports whether target must be rebuilt from sources: it is
// missing, or at least one source is strictly newer.
func IsStale(sources []string, target string) (bool, error) {
	for _, src := range sources {
		newer, err := IsNewerThan(src, target)
		if err != nil {
			return false, err
		}
		if newer {
			return true, nil
		}
	}
	return false, nil
}
