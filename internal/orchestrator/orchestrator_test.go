package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"archiver/internal/archive"
	"archiver/internal/archive/archivetest"
	"archiver/internal/buffered"
	"archiver/internal/metrics"
	"archiver/internal/sevenzip"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	archivetest.MaybeRunFakeSevenZip()
	os.Exit(m.Run())
}

type stubBackend struct {
	kind        archive.BackendKind
	unavailable bool
	run         func(ctx context.Context, job archive.Job, sink archive.ProgressSink) archive.Outcome
	calls       atomic.Int32
}

func (s *stubBackend) Kind() archive.BackendKind { return s.kind }

func (s *stubBackend) Available(context.Context) bool { return !s.unavailable }

func (s *stubBackend) Run(ctx context.Context, job archive.Job, sink archive.ProgressSink) archive.Outcome {
	s.calls.Add(1)
	return s.run(ctx, job, sink)
}

func failing(kind archive.BackendKind, errKind archive.ErrorKind) *stubBackend {
	return &stubBackend{kind: kind, run: func(_ context.Context, job archive.Job, _ archive.ProgressSink) archive.Outcome {
		return archive.Failed(job, kind, errKind, &archive.Error{Kind: errKind, Msg: string(kind) + " failed"})
	}}
}

func succeeding(kind archive.BackendKind) *stubBackend {
	return &stubBackend{kind: kind, run: func(_ context.Context, job archive.Job, _ archive.ProgressSink) archive.Outcome {
		return archive.Outcome{JobID: job.ID, Success: true, BackendUsed: kind, Destination: job.DestinationPath}
	}}
}

type fixture struct {
	src  string
	dest string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	src := t.TempDir()
	archivetest.WriteTree(t, src, map[string][]byte{
		"one.txt":         []byte("1"),
		"two/two.txt":     []byte("22"),
		"two/three/3.txt": []byte("333"),
	})
	return fixture{src: src, dest: filepath.Join(t.TempDir(), "result.zip")}
}

func (f fixture) job(kind archive.BackendKind) archive.Job {
	return archive.NewJob(f.src, f.dest, archive.StoreProfile(), kind)
}

// realBackends wires the actual native and buffered backends. The fake
// compressor is installed in binDir unless binDir is empty.
func realBackends(t *testing.T, binDir string) (*sevenzip.Supervisor, *buffered.Archiver) {
	t.Helper()
	bundled := t.TempDir()
	if binDir != "" {
		bundled = binDir
	}
	loc := sevenzip.NewLocator(sevenzip.LocatorConfig{BundledDir: bundled, WorkDir: bundled, SkipPath: true}, zerolog.Nop(), nil)
	builder := &sevenzip.CommandBuilder{Policy: sevenzip.DefaultThreadPolicy(), CPUCount: 2}
	sup := sevenzip.NewSupervisor(loc, builder, sevenzip.SupervisorConfig{GracePeriod: 500 * time.Millisecond}, zerolog.Nop())
	return sup, buffered.New(buffered.Config{}, zerolog.Nop())
}

func TestRun_AutoPrefersNative(t *testing.T) {
	f := newFixture(t)
	binDir := t.TempDir()
	archivetest.InstallFakeSevenZip(t, binDir, "7zz")
	native, buf := realBackends(t, binDir)

	var last archive.ProgressEvent
	out := New(native, buf, zerolog.Nop(), nil).Run(context.Background(), f.job(archive.BackendAuto), func(ev archive.ProgressEvent) {
		last = ev
	})

	require.True(t, out.Success, out.ErrorMessage)
	assert.Equal(t, archive.BackendNative, out.BackendUsed)
	assert.Equal(t, 3, out.FilesProcessed)
	assert.False(t, out.Fallback)
	assert.Equal(t, float64(100), last.Percent)
	assert.Len(t, archivetest.ReadZip(t, f.dest), 3)
}

func TestRun_AutoWithoutBinaryUsesBuffered(t *testing.T) {
	f := newFixture(t)
	binDir := t.TempDir()
	path := archivetest.InstallFakeSevenZip(t, binDir, "7zz")
	native, buf := realBackends(t, binDir)
	require.NoError(t, os.Remove(path))

	out := New(native, buf, zerolog.Nop(), nil).Run(context.Background(), f.job(archive.BackendAuto), nil)

	require.True(t, out.Success, out.ErrorMessage)
	assert.Equal(t, archive.BackendBuffered, out.BackendUsed)
	assert.False(t, out.Fallback)
	assert.Equal(t, map[string][]byte{
		"one.txt":         []byte("1"),
		"two/two.txt":     []byte("22"),
		"two/three/3.txt": []byte("333"),
	}, archivetest.ReadZip(t, f.dest))
}

func TestRun_NativeRequestedWithoutBinaryFallsBack(t *testing.T) {
	f := newFixture(t)
	native, buf := realBackends(t, "")
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	out := New(native, buf, zerolog.Nop(), m).Run(context.Background(), f.job(archive.BackendNative), nil)

	require.True(t, out.Success, out.ErrorMessage)
	assert.Equal(t, archive.BackendBuffered, out.BackendUsed)
	assert.True(t, out.Fallback)
	assert.NotEmpty(t, out.PrimaryError)
	assert.FileExists(t, f.dest)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FallbacksTotal.WithLabelValues(string(archive.KindBinaryUnavailable))))
}

func TestRun_NativeFatalExitFallsBack(t *testing.T) {
	f := newFixture(t)
	binDir := t.TempDir()
	archivetest.InstallFakeSevenZip(t, binDir, "7zz")
	t.Setenv(archivetest.EnvExitCode, "2")
	native, buf := realBackends(t, binDir)

	out := New(native, buf, zerolog.Nop(), nil).Run(context.Background(), f.job(archive.BackendAuto), nil)

	require.True(t, out.Success, out.ErrorMessage)
	assert.Equal(t, archive.BackendBuffered, out.BackendUsed)
	assert.True(t, out.Fallback)
	assert.Contains(t, out.PrimaryError, "fatal error")
	assert.Len(t, archivetest.ReadZip(t, f.dest), 3)
}

func TestStart_CancelImmediately(t *testing.T) {
	f := newFixture(t)
	binDir := t.TempDir()
	archivetest.InstallFakeSevenZip(t, binDir, "7zz")
	t.Setenv(archivetest.EnvDelay, "2s")
	native, buf := realBackends(t, binDir)

	h := New(native, buf, zerolog.Nop(), nil).Start(context.Background(), f.job(archive.BackendAuto), nil)
	h.Cancel()

	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish after cancel")
	}
	out := h.Wait()
	assert.False(t, out.Success)
	assert.Equal(t, archive.KindCancelled, out.ErrorKind)
	assert.False(t, out.Fallback)
	assert.Equal(t, StateCancelled, h.State())
	assert.NoFileExists(t, f.dest)
}

func TestStart_CancelWhileRunningStopsProgress(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	native := &stubBackend{kind: archive.BackendNative, run: func(ctx context.Context, job archive.Job, sink archive.ProgressSink) archive.Outcome {
		sink(archive.ProgressEvent{Percent: 30})
		close(started)
		<-ctx.Done()
		sink(archive.ProgressEvent{Percent: 60})
		return archive.Failed(job, archive.BackendNative, archive.KindCancelled, &archive.Error{Kind: archive.KindCancelled})
	}}
	buf := succeeding(archive.BackendBuffered)

	var mu sync.Mutex
	var seen []float64
	h := New(native, buf, zerolog.Nop(), nil).Start(context.Background(), f.job(archive.BackendAuto), func(ev archive.ProgressEvent) {
		mu.Lock()
		seen = append(seen, ev.Percent)
		mu.Unlock()
	})
	<-started
	h.Cancel()
	out := h.Wait()

	assert.Equal(t, archive.KindCancelled, out.ErrorKind)
	assert.Equal(t, int32(0), buf.calls.Load(), "cancellation never falls back")
	mu.Lock()
	assert.Equal(t, []float64{30}, seen)
	mu.Unlock()
}

func TestRun_DoubleFailureStopsAfterFallback(t *testing.T) {
	f := newFixture(t)
	native := failing(archive.BackendNative, archive.KindSubprocessFatal)
	buf := failing(archive.BackendBuffered, archive.KindIOFailure)

	h := New(native, buf, zerolog.Nop(), nil).Start(context.Background(), f.job(archive.BackendAuto), nil)
	out := h.Wait()

	assert.False(t, out.Success)
	assert.Equal(t, archive.BackendBuffered, out.BackendUsed)
	assert.Equal(t, archive.KindIOFailure, out.ErrorKind)
	assert.True(t, out.Fallback)
	assert.Equal(t, "native failed", out.PrimaryError)
	assert.Equal(t, int32(1), native.calls.Load())
	assert.Equal(t, int32(1), buf.calls.Load())
	assert.Equal(t, []State{StatePending, StateBackendSelected, StateRunning, StateFailedFallback, StateRunning, StateFailed}, h.History())
}

func TestRun_NoFallbackFromBuffered(t *testing.T) {
	f := newFixture(t)
	native := succeeding(archive.BackendNative)
	buf := failing(archive.BackendBuffered, archive.KindIOFailure)

	out := New(native, buf, zerolog.Nop(), nil).Run(context.Background(), f.job(archive.BackendBuffered), nil)

	assert.Equal(t, archive.KindIOFailure, out.ErrorKind)
	assert.False(t, out.Fallback)
	assert.Equal(t, int32(0), native.calls.Load())
}

func TestRun_InvalidInputNeverRunsBackends(t *testing.T) {
	native := succeeding(archive.BackendNative)
	buf := succeeding(archive.BackendBuffered)
	o := New(native, buf, zerolog.Nop(), nil)

	cases := map[string]archive.Job{
		"missing source": archive.NewJob(filepath.Join(t.TempDir(), "nope"), filepath.Join(t.TempDir(), "a.zip"), archive.StoreProfile(), archive.BackendAuto),
		"bad level":      archive.NewJob(t.TempDir(), filepath.Join(t.TempDir(), "a.zip"), archive.CompressionProfile{Level: 11}, archive.BackendAuto),
		"empty dest":     archive.NewJob(t.TempDir(), "", archive.StoreProfile(), archive.BackendNative),
	}
	for name, job := range cases {
		t.Run(name, func(t *testing.T) {
			h := o.Start(context.Background(), job, nil)
			out := h.Wait()
			assert.False(t, out.Success)
			assert.Equal(t, archive.KindInvalidInput, out.ErrorKind)
			assert.Equal(t, StateFailed, h.State())
		})
	}
	assert.Equal(t, int32(0), native.calls.Load())
	assert.Equal(t, int32(0), buf.calls.Load())
}

func TestRun_NativeInvalidInputDoesNotFallBack(t *testing.T) {
	f := newFixture(t)
	native := failing(archive.BackendNative, archive.KindInvalidInput)
	buf := succeeding(archive.BackendBuffered)

	out := New(native, buf, zerolog.Nop(), nil).Run(context.Background(), f.job(archive.BackendNative), nil)

	assert.Equal(t, archive.KindInvalidInput, out.ErrorKind)
	assert.Equal(t, int32(0), buf.calls.Load())
}

func TestStart_DestinationIsExclusive(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	started := make(chan struct{})
	native := &stubBackend{kind: archive.BackendNative, run: func(_ context.Context, job archive.Job, _ archive.ProgressSink) archive.Outcome {
		close(started)
		<-release
		return archive.Outcome{JobID: job.ID, Success: true, BackendUsed: archive.BackendNative}
	}}
	o := New(native, succeeding(archive.BackendBuffered), zerolog.Nop(), nil)

	first := o.Start(context.Background(), f.job(archive.BackendNative), nil)
	<-started

	second := o.Run(context.Background(), f.job(archive.BackendNative), nil)
	assert.Equal(t, archive.KindInvalidInput, second.ErrorKind)
	assert.Contains(t, second.ErrorMessage, "in use")

	close(release)
	assert.True(t, first.Wait().Success)

	third := o.Run(context.Background(), f.job(archive.BackendBuffered), nil)
	assert.True(t, third.Success, third.ErrorMessage)
	o.Wait()
}

func TestRun_ProgressNeverRewindsAcrossFallback(t *testing.T) {
	f := newFixture(t)
	native := &stubBackend{kind: archive.BackendNative, run: func(_ context.Context, job archive.Job, sink archive.ProgressSink) archive.Outcome {
		sink(archive.ProgressEvent{Percent: 20})
		sink(archive.ProgressEvent{Percent: 55})
		return archive.Failed(job, archive.BackendNative, archive.KindOutOfMemory, &archive.Error{Kind: archive.KindOutOfMemory})
	}}
	buf := &stubBackend{kind: archive.BackendBuffered, run: func(_ context.Context, job archive.Job, sink archive.ProgressSink) archive.Outcome {
		for _, p := range []float64{10, 40, 70} {
			sink(archive.ProgressEvent{Percent: p})
		}
		return archive.Outcome{JobID: job.ID, Success: true, BackendUsed: archive.BackendBuffered}
	}}

	var seen []float64
	out := New(native, buf, zerolog.Nop(), nil).Run(context.Background(), f.job(archive.BackendAuto), func(ev archive.ProgressEvent) {
		seen = append(seen, ev.Percent)
	})

	require.True(t, out.Success)
	assert.Equal(t, []float64{20, 55, 55, 55, 70, 100}, seen)
}

func TestRun_AutoSkipsUnavailableNative(t *testing.T) {
	f := newFixture(t)
	native := succeeding(archive.BackendNative)
	native.unavailable = true
	buf := succeeding(archive.BackendBuffered)

	h := New(native, buf, zerolog.Nop(), nil).Start(context.Background(), f.job(archive.BackendAuto), nil)
	out := h.Wait()

	assert.Equal(t, archive.BackendBuffered, out.BackendUsed)
	assert.False(t, out.Fallback)
	assert.Equal(t, int32(0), native.calls.Load())
	assert.Equal(t, []State{StatePending, StateBackendSelected, StateRunning, StateSucceeded}, h.History())
}

func TestRun_NilNativeUsesBuffered(t *testing.T) {
	f := newFixture(t)
	buf := succeeding(archive.BackendBuffered)

	out := New(nil, buf, zerolog.Nop(), nil).Run(context.Background(), f.job(archive.BackendNative), nil)
	assert.True(t, out.Success)
	assert.Equal(t, archive.BackendBuffered, out.BackendUsed)
}

func TestState_Transitions(t *testing.T) {
	assert.True(t, StatePending.CanTransition(StateBackendSelected))
	assert.True(t, StateRunning.CanTransition(StateFailedFallback))
	assert.True(t, StateFailedFallback.CanTransition(StateRunning))
	assert.False(t, StateSucceeded.CanTransition(StateRunning))
	assert.False(t, StateFailedFallback.CanTransition(StateFailedFallback))
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateFailedFallback.Terminal())
}
