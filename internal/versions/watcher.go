package versions

import (
	"os"
	"sort"
	"strings"
	"time"
)

// pollInterval is how often the engines/ directory is rescanned. No
// library in the retrieval pack provides filesystem change
// notification (fsnotify is absent), so inventory tracking falls back
// to the stdlib polling idiom: os.ReadDir on a ticker (spec §4.5
// Inventory, DESIGN.md stdlib-substitution note).
const pollInterval = 2 * time.Second

// scanVersions lists engines/<name> subdirectories, skipping
// dot-prefixed names (spec §4.5 Inventory: the `.downloads` and
// `.tmp-install-*` working directories must never surface as
// versions).
func scanVersions(enginesDir string) ([]string, error) {
	entries, err := os.ReadDir(enginesDir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

func sameVersionSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// watch polls enginesDir and calls onChange with the full sorted
// version list every time it differs from the last observed scan,
// including the very first scan (spec §4.5: "a single versions event
// is emitted when the watcher reports ready"). It runs until stop is
// closed.
func watch(enginesDir string, stop <-chan struct{}, onChange func([]string)) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last []string
	if v, err := scanVersions(enginesDir); err == nil {
		last = v
	}
	onChange(last)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			v, err := scanVersions(enginesDir)
			if err != nil {
				continue
			}
			if !sameVersionSet(last, v) {
				last = v
				onChange(last)
			}
		}
	}
}
