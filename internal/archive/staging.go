package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// StagingPath returns a hidden sibling of destination that a backend writes
// into before the finished archive is renamed into place. The ".zip" suffix
// keeps external compressors from appending their own extension.
func StagingPath(destination string) string {
	dir, base := filepath.Split(destination)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, fmt.Sprintf(".%s.%s.partial.zip", base, uuid.NewString()[:8]))
}

// Commit moves a finished staging file onto destination, replacing any
// previous archive there.
func Commit(staging, destination string) error {
	if err := os.Rename(staging, destination); err != nil {
		os.Remove(staging)
		return fmt.Errorf("move archive into place: %w", err)
	}
	return nil
}

// Discard removes a staging file. Missing files are not an error.
func Discard(staging string) error {
	if err := os.Remove(staging); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove partial archive %s: %w", staging, err)
	}
	return nil
}
