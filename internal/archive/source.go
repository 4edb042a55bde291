package archive

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// SourceFile is one regular file that will be written into an archive.
type SourceFile struct {
	Path    string // absolute path on disk
	Name    string // slash-separated entry name inside the archive
	Size    int64
	ModTime time.Time
	Mode    fs.FileMode
}

// SourceStats is the enumeration of a source path taken before a backend runs.
type SourceStats struct {
	Root       string
	IsDir      bool
	Files      []SourceFile
	TotalBytes int64
}

// FileCount returns the number of regular files in the source.
func (s SourceStats) FileCount() int {
	return len(s.Files)
}

// ScanSource walks root and collects every regular file below it. A root that
// is itself a regular file yields a single entry named by its base name.
// Symlinks to regular files are followed and archived under the link's name,
// matching 7-Zip's default. Symlinked directories are not descended into.
// Devices, sockets and broken links are skipped.
func ScanSource(root string) (SourceStats, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return SourceStats{}, fmt.Errorf("resolve source %s: %w", root, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return SourceStats{}, fmt.Errorf("stat source %s: %w", abs, err)
	}

	stats := SourceStats{Root: abs, IsDir: info.IsDir()}
	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return SourceStats{}, fmt.Errorf("source %s is not a regular file", abs)
		}
		stats.Files = []SourceFile{{
			Path:    abs,
			Name:    filepath.Base(abs),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Mode:    info.Mode(),
		}}
		stats.TotalBytes = info.Size()
		return stats, nil
	}

	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		var fi fs.FileInfo
		switch {
		case d.Type().IsRegular():
			fi, err = d.Info()
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Stat(path)
			if err != nil || !target.Mode().IsRegular() {
				return nil
			}
			fi = target
		default:
			return nil
		}

		relPath, err := filepath.Rel(abs, path)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", path, err)
		}

		stats.Files = append(stats.Files, SourceFile{
			Path:    path,
			Name:    filepath.ToSlash(relPath),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
			Mode:    fi.Mode(),
		})
		stats.TotalBytes += fi.Size()
		return nil
	})
	if err != nil {
		return SourceStats{}, fmt.Errorf("walk source %s: %w", abs, err)
	}

	return stats, nil
}
