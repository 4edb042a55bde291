package archive

import (
	"os"
	"path/filepath"
	"strings"
)

// Normalize returns a copy of the job with absolute paths, a default backend
// and an ID.
func (j Job) Normalize() (Job, error) {
	if strings.TrimSpace(j.SourcePath) == "" {
		return j, &Error{Kind: KindInvalidInput, Op: "validate", Msg: "source path is required"}
	}
	if strings.TrimSpace(j.DestinationPath) == "" {
		return j, &Error{Kind: KindInvalidInput, Op: "validate", Msg: "destination path is required"}
	}

	src, err := filepath.Abs(j.SourcePath)
	if err != nil {
		return j, &Error{Kind: KindInvalidInput, Op: "validate", Msg: "resolve source path", Err: err}
	}
	dst, err := filepath.Abs(j.DestinationPath)
	if err != nil {
		return j, &Error{Kind: KindInvalidInput, Op: "validate", Msg: "resolve destination path", Err: err}
	}

	j.SourcePath = filepath.Clean(src)
	j.DestinationPath = filepath.Clean(dst)
	if j.Backend == "" {
		j.Backend = BackendAuto
	}
	if j.ID == "" {
		j = NewJob(j.SourcePath, j.DestinationPath, j.Profile, j.Backend)
	}
	return j, nil
}

// Validate checks everything that can be known before a backend runs. All
// failures are KindInvalidInput. The job is expected to be normalized.
func (j Job) Validate() error {
	invalid := func(msg string, err error) error {
		return &Error{Kind: KindInvalidInput, Op: "validate", Msg: msg, Err: err}
	}

	if !j.Backend.Valid() {
		return invalid("unknown backend "+string(j.Backend), nil)
	}
	if err := j.Profile.Validate(); err != nil {
		return invalid("bad compression profile: "+err.Error(), err)
	}

	srcInfo, err := os.Stat(j.SourcePath)
	if err != nil {
		return invalid("source path does not exist: "+j.SourcePath, err)
	}
	if srcInfo.IsDir() {
		f, err := os.Open(j.SourcePath)
		if err != nil {
			return invalid("source directory is not readable: "+j.SourcePath, err)
		}
		f.Close()

		rel, err := filepath.Rel(j.SourcePath, j.DestinationPath)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return invalid("destination must not be inside the source directory", nil)
		}
	} else if !srcInfo.Mode().IsRegular() {
		return invalid("source is neither a directory nor a regular file: "+j.SourcePath, nil)
	} else if j.SourcePath == j.DestinationPath {
		return invalid("destination must differ from the source file", nil)
	}

	if dstInfo, err := os.Stat(j.DestinationPath); err == nil && dstInfo.IsDir() {
		return invalid("destination is a directory: "+j.DestinationPath, nil)
	}

	parent := filepath.Dir(j.DestinationPath)
	parentInfo, err := os.Stat(parent)
	if err != nil {
		return invalid("destination directory does not exist: "+parent, err)
	}
	if !parentInfo.IsDir() {
		return invalid("destination parent is not a directory: "+parent, nil)
	}

	probe, err := os.CreateTemp(parent, ".write-test-*")
	if err != nil {
		return invalid("cannot write to destination directory: "+parent, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return nil
}
