// Package discovery walks the input root and selects the NetCDF profile files
// to ingest. Only files following the Argo naming convention are returned:
// a "D" (delayed-mode) or "R" (real-time) prefix and a ".nc" extension.
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrNoInputRoot means the configured root directory does not exist.
	ErrNoInputRoot = errors.New("discovery: input root does not exist")

	// ErrNoMatchingFiles means the walk finished without a single candidate.
	ErrNoMatchingFiles = errors.New("discovery: no NetCDF profile files found")
)

// ProfileFile is one discovered input file. It is created here and consumed
// exactly once by the pipeline.
type ProfileFile struct {
	// Path is the full filesystem path.
	Path string

	// FloatID is the float identifier inferred from the filename's digit run,
	// or 0 when the name carries no digits (rejected at processing time).
	FloatID int64

	// Delayed is true for delayed-mode files ("D" prefix), false for
	// real-time ("R" prefix).
	Delayed bool
}

// Collect returns the profile files under root in lexicographic path order.
// When limit > 0, the walk stops after limit matches. Non-matching files are
// skipped silently.
func Collect(root string, limit int) ([]ProfileFile, error) {
	var out []ProfileFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("%w: %q", ErrNoInputRoot, root)
			}
			// Unreadable subtrees are skipped, not fatal.
			return nil
		}
		if d.IsDir() || !matches(d.Name()) {
			return nil
		}
		out = append(out, ProfileFile{
			Path:    path,
			FloatID: floatIDFromName(d.Name()),
			Delayed: strings.HasPrefix(d.Name(), "D"),
		})
		if limit > 0 && len(out) >= limit {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w under %q", ErrNoMatchingFiles, root)
	}
	return out, nil
}

// matches applies the Argo profile naming convention.
func matches(name string) bool {
	if !strings.HasSuffix(name, ".nc") {
		return false
	}
	return strings.HasPrefix(name, "D") || strings.HasPrefix(name, "R")
}

// floatIDFromName extracts the float identifier from a profile filename by
// collecting the digits of the stem before the first underscore, e.g.
// "D5905612_001.nc" -> 5905612. Returns 0 when no digits are present.
func floatIDFromName(name string) int64 {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if i := strings.Index(stem, "_"); i >= 0 {
		stem = stem[:i]
	}
	var digits strings.Builder
	for _, r := range stem {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	id, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
