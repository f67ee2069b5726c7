// Package state persists the small bits of cross-run bookkeeping: a run
// lock and a flat key=value file of resumption hints. Hints are never
// authoritative; the live host query always wins.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const hintsFile = "last_run"

// Hints records the last run's identifiers so a follow-up invocation can
// default to resuming the same VM.
type Hints struct {
	dir    string
	values map[string]string
}

// LoadHints reads the hint file, returning empty hints when none exists.
func LoadHints(dir string) (*Hints, error) {
	h := &Hints{dir: dir, values: make(map[string]string)}

	data, err := os.ReadFile(filepath.Join(dir, hintsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return h, nil
		}
		return nil, fmt.Errorf("read hints: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			h.values[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return h, nil
}

// Set records one hint in memory. Call Save to persist.
func (h *Hints) Set(key, value string) {
	h.values[key] = value
}

// Get returns a hint value, empty when unset.
func (h *Hints) Get(key string) string {
	return h.values[key]
}

// GetInt returns a numeric hint, 0 when unset or malformed.
func (h *Hints) GetInt(key string) int {
	n, err := strconv.Atoi(h.values[key])
	if err != nil {
		return 0
	}
	return n
}

// Save writes the hint file atomically via a rename.
func (h *Hints) Save() error {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	keys := make([]string, 0, len(h.values))
	for k := range h.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, h.values[k])
	}

	path := filepath.Join(h.dir, hintsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write hints: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write hints: %w", err)
	}
	return nil
}
