package buffered

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"archiver/internal/archive"
	"archiver/internal/archive/archivetest"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(t *testing.T, src string, profile archive.CompressionProfile) archive.Job {
	t.Helper()
	return archive.NewJob(src, filepath.Join(t.TempDir(), "out.zip"), profile, archive.BackendBuffered)
}

func assertNoPartials(t *testing.T, dest string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(dest), ".*.partial.zip"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestArchiver_RoundTrip(t *testing.T) {
	files := map[string][]byte{
		"readme.txt":           []byte("hello"),
		"logs/2024/app.log":    archivetest.Pattern(200_000, 1),
		"logs/2024/empty.log":  {},
		"images/raw/photo.bin": archivetest.Pattern(50_000, 9),
	}

	for _, profile := range []archive.CompressionProfile{archive.StoreProfile(), {Level: 6}, {Level: 9}} {
		t.Run(profile.String(), func(t *testing.T) {
			src := t.TempDir()
			archivetest.WriteTree(t, src, files)

			job := newJob(t, src, profile)
			out := New(Config{}, zerolog.Nop()).Run(context.Background(), job, nil)

			require.True(t, out.Success, out.ErrorMessage)
			assert.Equal(t, archive.BackendBuffered, out.BackendUsed)
			assert.Equal(t, 4, out.FilesProcessed)
			assert.Equal(t, int64(250_005), out.BytesProcessed)
			assert.Equal(t, files, archivetest.ReadZip(t, job.DestinationPath))
			assertNoPartials(t, job.DestinationPath)
		})
	}
}

func TestArchiver_EntryMetadata(t *testing.T) {
	src := t.TempDir()
	archivetest.WriteTree(t, src, map[string][]byte{"sub/data.csv": []byte("a,b\n1,2\n")})
	mtime := time.Date(2020, 1, 2, 3, 4, 6, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(src, "sub", "data.csv"), mtime, mtime))

	job := newJob(t, src, archive.CompressionProfile{Level: 5})
	out := New(Config{}, zerolog.Nop()).Run(context.Background(), job, nil)
	require.True(t, out.Success, out.ErrorMessage)

	r, err := zip.OpenReader(job.DestinationPath)
	require.NoError(t, err)
	defer r.Close()

	require.Len(t, r.File, 1)
	entry := r.File[0]
	assert.Equal(t, "sub/data.csv", entry.Name)
	assert.Equal(t, zip.Deflate, entry.Method)
	assert.WithinDuration(t, mtime, entry.Modified, 2*time.Second)
}

func TestArchiver_SingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.sql")
	require.NoError(t, os.WriteFile(path, []byte("select 1;"), 0644))

	job := newJob(t, path, archive.StoreProfile())
	out := New(Config{}, zerolog.Nop()).Run(context.Background(), job, nil)

	require.True(t, out.Success, out.ErrorMessage)
	assert.Equal(t, map[string][]byte{"dump.sql": []byte("select 1;")}, archivetest.ReadZip(t, job.DestinationPath))
}

func TestArchiver_EmptyDirectory(t *testing.T) {
	var events []archive.ProgressEvent
	job := newJob(t, t.TempDir(), archive.StoreProfile())
	out := New(Config{}, zerolog.Nop()).Run(context.Background(), job, func(ev archive.ProgressEvent) {
		events = append(events, ev)
	})

	require.True(t, out.Success, out.ErrorMessage)
	assert.Equal(t, 0, out.FilesProcessed)
	assert.Empty(t, archivetest.ReadZip(t, job.DestinationPath))
	require.NotEmpty(t, events)
	assert.Equal(t, float64(100), events[len(events)-1].Percent)
}

func TestArchiver_ProgressIsMonotonic(t *testing.T) {
	src := t.TempDir()
	archivetest.WriteTree(t, src, map[string][]byte{
		"a.bin": archivetest.Pattern(10_000, 1),
		"b.bin": archivetest.Pattern(30_000, 2),
		"c.bin": archivetest.Pattern(5_000, 3),
	})

	var percents []float64
	a := New(Config{BufferSize: 4096, LargeFileThreshold: 8192}, zerolog.Nop())
	out := a.Run(context.Background(), newJob(t, src, archive.StoreProfile()), func(ev archive.ProgressEvent) {
		percents = append(percents, ev.Percent)
	})
	require.True(t, out.Success, out.ErrorMessage)

	require.Greater(t, len(percents), 3, "large files report per chunk")
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1])
	}
	assert.Equal(t, float64(100), percents[len(percents)-1])
}

func TestArchiver_CancelledBeforeStart(t *testing.T) {
	src := t.TempDir()
	archivetest.WriteTree(t, src, map[string][]byte{"a.txt": []byte("a")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := newJob(t, src, archive.StoreProfile())
	out := New(Config{}, zerolog.Nop()).Run(ctx, job, nil)

	assert.False(t, out.Success)
	assert.Equal(t, archive.KindCancelled, out.ErrorKind)
	assert.NoFileExists(t, job.DestinationPath)
}

func TestArchiver_CancelDuringLargeFile(t *testing.T) {
	src := t.TempDir()
	archivetest.WriteTree(t, src, map[string][]byte{"big.img": archivetest.Pattern(1<<20, 4)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := 0
	job := newJob(t, src, archive.StoreProfile())
	a := New(Config{BufferSize: 8192, LargeFileThreshold: 64 << 10}, zerolog.Nop())
	out := a.Run(ctx, job, func(ev archive.ProgressEvent) {
		events++
		if ev.Percent > 10 {
			cancel()
		}
	})

	assert.False(t, out.Success)
	assert.Equal(t, archive.KindCancelled, out.ErrorKind)
	assert.True(t, errors.Is(out.Err(), archive.ErrCancelled))
	assert.Less(t, events, 100)
	assert.NoFileExists(t, job.DestinationPath)
	assertNoPartials(t, job.DestinationPath)
}

func TestArchiver_CancelOnLastFile(t *testing.T) {
	cases := map[string]map[string][]byte{
		"single file": {
			"disk.img": archivetest.Pattern(4<<20, 2),
		},
		"last of many": {
			"a.txt": []byte("alpha"),
			"b.txt": []byte("bravo"),
			"c.txt": []byte("charlie"),
		},
	}

	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			src := t.TempDir()
			archivetest.WriteTree(t, src, files)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			job := newJob(t, src, archive.StoreProfile())
			out := New(Config{}, zerolog.Nop()).Run(ctx, job, func(ev archive.ProgressEvent) {
				if ev.Percent >= 100 {
					cancel()
				}
			})

			assert.False(t, out.Success)
			assert.Equal(t, archive.KindCancelled, out.ErrorKind)
			assert.NoFileExists(t, job.DestinationPath)
			assertNoPartials(t, job.DestinationPath)
		})
	}
}

func TestArchiver_CancelSmallFileMidCopy(t *testing.T) {
	src := t.TempDir()
	archivetest.WriteTree(t, src, map[string][]byte{"data.bin": archivetest.Pattern(4<<20, 3)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := newJob(t, src, archive.StoreProfile())
	// The first event arrives only once the file is fully copied.
	out := New(Config{BufferSize: 4096}, zerolog.Nop()).Run(ctx, job, func(archive.ProgressEvent) {
		cancel()
	})

	assert.False(t, out.Success)
	assert.Equal(t, archive.KindCancelled, out.ErrorKind)
	assert.NoFileExists(t, job.DestinationPath)
}

func TestArchiver_UnreadableFileAborts(t *testing.T) {
	src := t.TempDir()
	archivetest.WriteTree(t, src, map[string][]byte{
		"a.txt": []byte("first"),
		"b.txt": []byte("second"),
	})

	job := newJob(t, src, archive.StoreProfile())
	out := New(Config{}, zerolog.Nop()).Run(context.Background(), job, func(ev archive.ProgressEvent) {
		// b.txt disappears after the source was scanned.
		os.Remove(filepath.Join(src, "b.txt"))
	})

	assert.False(t, out.Success)
	assert.Equal(t, archive.KindIOFailure, out.ErrorKind)
	assert.Contains(t, out.ErrorMessage, "b.txt")
	assert.NoFileExists(t, job.DestinationPath)
	assertNoPartials(t, job.DestinationPath)
}
