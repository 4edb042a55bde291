// Package buffered implements the in-process zip backend used when the
// native compressor is unavailable or fails.
package buffered

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"time"

	"archiver/internal/archive"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
)

const (
	DefaultBufferSize         = 1 << 20
	DefaultLargeFileThreshold = 100 << 20
)

var errCancelled = &archive.Error{Kind: archive.KindCancelled, Op: "buffered", Msg: "archive cancelled"}

type Config struct {
	// BufferSize sizes both the output write buffer and the reusable read
	// buffer.
	BufferSize int `mapstructure:"buffer_size"`
	// Files larger than LargeFileThreshold report progress per chunk rather
	// than per file.
	LargeFileThreshold int64 `mapstructure:"large_file_threshold"`
}

type Archiver struct {
	cfg    Config
	logger zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Archiver {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.LargeFileThreshold <= 0 {
		cfg.LargeFileThreshold = DefaultLargeFileThreshold
	}
	return &Archiver{
		cfg:    cfg,
		logger: logger.With().Str("component", "buffered").Logger(),
	}
}

func (a *Archiver) Kind() archive.BackendKind {
	return archive.BackendBuffered
}

// run carries the state of one archive write.
type run struct {
	ctx    context.Context
	sink   archive.ProgressSink
	buf    []byte
	start  time.Time
	total  int64
	files  int
	done   int64
	copied int
}

// Run writes job.SourcePath into a zip at job.DestinationPath. Entries are
// stored or deflated at the profile's level. The first unreadable file aborts
// the job.
func (a *Archiver) Run(ctx context.Context, job archive.Job, sink archive.ProgressSink) archive.Outcome {
	start := time.Now()
	if sink == nil {
		sink = func(archive.ProgressEvent) {}
	}
	logger := a.logger.With().Str("job_id", job.ID).Logger()

	fail := func(err error) archive.Outcome {
		out := archive.Failed(job, archive.BackendBuffered, archive.KindIOFailure, err)
		out.Elapsed = time.Since(start)
		logger.Error().Err(err).Str("error_kind", string(out.ErrorKind)).Msg("Buffered archive failed")
		return out
	}

	if ctx.Err() != nil {
		return fail(&archive.Error{Kind: archive.KindCancelled, Op: "buffered", Msg: "cancelled before start"})
	}

	stats, err := archive.ScanSource(job.SourcePath)
	if err != nil {
		return fail(archive.Errorf(archive.KindIOFailure, "scan source: %w", err))
	}

	logger.Info().
		Int("files", stats.FileCount()).
		Int64("bytes", stats.TotalBytes).
		Str("profile", job.Profile.String()).
		Msg("Buffered archive started")

	staging := archive.StagingPath(job.DestinationPath)
	r := &run{
		ctx:   ctx,
		sink:  sink,
		buf:   make([]byte, a.cfg.BufferSize),
		start: start,
		total: stats.TotalBytes,
		files: stats.FileCount(),
	}
	err = a.write(r, staging, stats, job.Profile)
	if err == nil && ctx.Err() != nil {
		err = errCancelled
	}
	if err != nil {
		if dErr := archive.Discard(staging); dErr != nil {
			logger.Warn().Err(dErr).Msg("Failed to remove partial archive")
		}
		return fail(err)
	}

	if err := archive.Commit(staging, job.DestinationPath); err != nil {
		return fail(archive.Errorf(archive.KindIOFailure, "%w", err))
	}
	if ctx.Err() == nil {
		sink(archive.ProgressEvent{Percent: 100, BytesPerSecond: r.rate()})
	}

	out := archive.Outcome{
		JobID:          job.ID,
		Success:        true,
		FilesProcessed: r.copied,
		BytesProcessed: r.done,
		Elapsed:        time.Since(start),
		BackendUsed:    archive.BackendBuffered,
		Destination:    job.DestinationPath,
	}
	logger.Info().
		Int("files", out.FilesProcessed).
		Dur("elapsed", out.Elapsed).
		Msg("Buffered archive finished")
	return out
}

func (a *Archiver) write(r *run, path string, stats archive.SourceStats, profile archive.CompressionProfile) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return archive.Errorf(archive.KindIOFailure, "create archive %s: %w", path, err)
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = archive.Errorf(archive.KindIOFailure, "close archive: %w", cErr)
		}
	}()

	bw := bufio.NewWriterSize(f, a.cfg.BufferSize)
	zw := zip.NewWriter(bw)

	method := zip.Store
	if level := profile.EffectiveLevel(); level > 0 {
		method = zip.Deflate
		zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(w, level)
		})
	}

	for _, file := range stats.Files {
		if r.ctx.Err() != nil {
			return errCancelled
		}
		if err := a.addFile(r, zw, file, method); err != nil {
			return err
		}
		r.copied++
		r.emit(file.Name)
	}

	if r.ctx.Err() != nil {
		return errCancelled
	}
	if err := zw.Close(); err != nil {
		return archive.Errorf(archive.KindIOFailure, "finish zip: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return archive.Errorf(archive.KindIOFailure, "flush archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		return archive.Errorf(archive.KindIOFailure, "sync archive: %w", err)
	}
	if r.ctx.Err() != nil {
		return errCancelled
	}
	return nil
}

func (a *Archiver) addFile(r *run, zw *zip.Writer, file archive.SourceFile, method uint16) error {
	src, err := os.Open(file.Path)
	if err != nil {
		return archive.Errorf(archive.KindIOFailure, "open %s: %w", file.Name, err)
	}
	defer src.Close()

	header := &zip.FileHeader{
		Name:     file.Name,
		Method:   method,
		Modified: file.ModTime,
	}
	header.SetMode(file.Mode)

	w, err := zw.CreateHeader(header)
	if err != nil {
		return archive.Errorf(archive.KindIOFailure, "create entry %s: %w", file.Name, err)
	}

	large := file.Size > a.cfg.LargeFileThreshold
	for {
		if r.ctx.Err() != nil {
			return errCancelled
		}
		n, rErr := src.Read(r.buf)
		if n > 0 {
			if _, err := w.Write(r.buf[:n]); err != nil {
				return archive.Errorf(archive.KindIOFailure, "write entry %s: %w", file.Name, err)
			}
			r.done += int64(n)
			if large {
				r.emit(file.Name)
			}
		}
		if errors.Is(rErr, io.EOF) {
			return nil
		}
		if rErr != nil {
			return archive.Errorf(archive.KindIOFailure, "read %s: %w", file.Name, rErr)
		}
	}
}

func (r *run) emit(name string) {
	if r.ctx.Err() != nil {
		return
	}
	r.sink(archive.ProgressEvent{
		Percent:        r.percent(),
		CurrentFile:    name,
		BytesPerSecond: r.rate(),
	})
}

// percent is byte based, falling back to a file count when every file is
// empty.
func (r *run) percent() float64 {
	if r.total > 0 {
		return min(100, float64(r.done)*100/float64(r.total))
	}
	if r.files > 0 {
		return float64(r.copied) * 100 / float64(r.files)
	}
	return 100
}

func (r *run) rate() float64 {
	elapsed := time.Since(r.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(r.done) / elapsed
}
