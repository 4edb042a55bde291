package sevenzip

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"archiver/internal/archive"

	"github.com/rs/zerolog"
)

// DefaultGracePeriod is how long a cancelled compressor gets to exit after
// SIGTERM before it is killed.
const DefaultGracePeriod = 5 * time.Second

// SupervisorConfig tunes a Supervisor.
type SupervisorConfig struct {
	GracePeriod time.Duration
	// StrictWarnings fails jobs on exit code 1 instead of annotating them.
	StrictWarnings bool
	// TestAfterArchive runs "7z t" on the staged archive before committing it.
	TestAfterArchive bool
	DiagnosticLines  int
}

// Supervisor runs one compressor subprocess per job: it builds the command,
// streams progress, forwards cancellation and classifies the exit status.
type Supervisor struct {
	locator *Locator
	builder *CommandBuilder
	cfg     SupervisorConfig
	logger  zerolog.Logger
}

func NewSupervisor(locator *Locator, builder *CommandBuilder, cfg SupervisorConfig, logger zerolog.Logger) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Supervisor{
		locator: locator,
		builder: builder,
		cfg:     cfg,
		logger:  logger.With().Str("component", "native").Logger(),
	}
}

func (s *Supervisor) Kind() archive.BackendKind {
	return archive.BackendNative
}

// Available reports whether the compressor can be located.
func (s *Supervisor) Available(ctx context.Context) bool {
	return s.locator.Available(ctx)
}

// Run archives job.SourcePath into job.DestinationPath. The archive is written
// to a staging file and renamed into place only on success; every failure
// path removes it.
func (s *Supervisor) Run(ctx context.Context, job archive.Job, sink archive.ProgressSink) archive.Outcome {
	start := time.Now()
	if sink == nil {
		sink = func(archive.ProgressEvent) {}
	}
	logger := s.logger.With().Str("job_id", job.ID).Logger()

	fail := func(err error, fallback archive.ErrorKind) archive.Outcome {
		out := archive.Failed(job, archive.BackendNative, fallback, err)
		out.Elapsed = time.Since(start)
		logger.Error().Err(err).Str("error_kind", string(out.ErrorKind)).Msg("Native archive failed")
		return out
	}

	if ctx.Err() != nil {
		return fail(&archive.Error{Kind: archive.KindCancelled, Op: "native", Msg: "cancelled before start"}, "")
	}

	binary, err := s.locator.Locate(ctx)
	if err != nil {
		return fail(err, archive.KindBinaryUnavailable)
	}

	stats, err := archive.ScanSource(job.SourcePath)
	if err != nil {
		return fail(archive.Errorf(archive.KindIOFailure, "scan source: %w", err), "")
	}

	staging := archive.StagingPath(job.DestinationPath)
	staged := job
	staged.DestinationPath = staging
	cmd := s.builder.Build(binary, staged, stats)

	logger.Info().
		Str("binary", binary.Path).
		Str("version", binary.Version).
		Strs("args", cmd.Args).
		Int("files", stats.FileCount()).
		Int64("bytes", stats.TotalBytes).
		Msg("Executing 7-Zip")

	res := s.execute(ctx, cmd, stats.TotalBytes, sink)

	warning, err := s.interpret(res)
	if err == nil && s.cfg.TestAfterArchive {
		err = s.test(ctx, binary, staging)
	}
	if err != nil {
		if dErr := archive.Discard(staging); dErr != nil {
			logger.Warn().Err(dErr).Msg("Failed to remove partial archive")
		}
		return fail(err, archive.KindSubprocessFatal)
	}

	if err := archive.Commit(staging, job.DestinationPath); err != nil {
		return fail(archive.Errorf(archive.KindIOFailure, "%w", err), "")
	}
	if ctx.Err() == nil {
		sink(archive.ProgressEvent{Percent: 100})
	}

	out := archive.Outcome{
		JobID:          job.ID,
		Success:        true,
		FilesProcessed: stats.FileCount(),
		BytesProcessed: stats.TotalBytes,
		Elapsed:        time.Since(start),
		BackendUsed:    archive.BackendNative,
		Warning:        warning,
		Destination:    job.DestinationPath,
	}
	logger.Info().
		Int("files", out.FilesProcessed).
		Dur("elapsed", out.Elapsed).
		Str("warning", warning).
		Msg("Native archive finished")
	return out
}

type execResult struct {
	launchErr   error
	waitErr     error
	cancelled   bool
	stderr      string
	diagnostics []string
}

// execute starts cmd and waits for it, translating a done ctx into SIGTERM,
// then Kill once the grace period has passed.
func (s *Supervisor) execute(ctx context.Context, cmd Command, totalBytes int64, sink archive.ProgressSink) execResult {
	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	stderr := &tailBuffer{max: maxStderrBytes}
	c.Stderr = stderr

	stdout, err := c.StdoutPipe()
	if err != nil {
		return execResult{launchErr: err}
	}
	if err := c.Start(); err != nil {
		return execResult{launchErr: err}
	}

	monitor := newOutputMonitor(ctx, sink, totalBytes, s.cfg.DiagnosticLines)
	waitCh := make(chan error, 1)
	go func() {
		monitor.consume(stdout)
		waitCh <- c.Wait()
	}()

	res := execResult{}
	select {
	case res.waitErr = <-waitCh:
	case <-ctx.Done():
		res.cancelled = true
		s.logger.Info().Int("pid", c.Process.Pid).Msg("Cancellation requested, terminating 7-Zip")
		terminate(c.Process)

		timer := time.NewTimer(s.cfg.GracePeriod)
		select {
		case res.waitErr = <-waitCh:
			timer.Stop()
		case <-timer.C:
			s.logger.Warn().Int("pid", c.Process.Pid).Dur("grace", s.cfg.GracePeriod).Msg("7-Zip ignored termination, killing")
			c.Process.Kill()
			stdout.Close()
			res.waitErr = <-waitCh
		}
	}

	res.stderr = stderr.String()
	res.diagnostics = monitor.Diagnostics()
	return res
}

func terminate(p *os.Process) {
	if err := p.Signal(syscall.SIGTERM); err != nil {
		p.Kill()
	}
}

// interpret turns an execution result into a warning or a classified error.
func (s *Supervisor) interpret(res execResult) (string, error) {
	if res.launchErr != nil {
		return "", &archive.Error{Kind: archive.KindSubprocessLaunchFailed, Op: "launch", Msg: "failed to start 7-Zip", Err: res.launchErr}
	}
	if res.cancelled {
		return "", &archive.Error{Kind: archive.KindCancelled, Op: "native", Msg: "archive cancelled"}
	}

	code := ExitSuccess
	if res.waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(res.waitErr, &exitErr) {
			return "", &archive.Error{Kind: archive.KindSubprocessFatal, Op: "wait", Msg: "7-Zip did not exit cleanly", Err: res.waitErr}
		}
		code = exitErr.ExitCode()
	}

	detail := res.stderr
	if detail == "" && len(res.diagnostics) > 0 {
		tail := res.diagnostics[max(0, len(res.diagnostics)-5):]
		detail = strings.Join(tail, "; ")
	}

	if code == ExitWarning {
		warning := "7-Zip reported warnings"
		if detail != "" {
			warning += ": " + detail
		}
		if s.cfg.StrictWarnings {
			return "", &archive.Error{Kind: archive.KindSubprocessFatal, Op: "native", Msg: warning}
		}
		return warning, nil
	}

	kind := ClassifyExit(code)
	if kind == "" {
		return "", nil
	}
	msg := fmt.Sprintf("7-Zip exited with code %d (%s)", code, ExitMeaning(code))
	if detail != "" {
		msg += ": " + detail
	}
	return "", &archive.Error{Kind: kind, Op: "native", Msg: msg}
}

// test runs the compressor's integrity check against archivePath.
func (s *Supervisor) test(ctx context.Context, binary BinaryDescriptor, archivePath string) error {
	cmd := s.builder.BuildTest(binary, archivePath)
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.WaitDelay = s.cfg.GracePeriod
	out, err := c.CombinedOutput()
	if ctx.Err() != nil {
		return &archive.Error{Kind: archive.KindCancelled, Op: "test", Msg: "archive test cancelled"}
	}
	if err != nil {
		return &archive.Error{
			Kind: archive.KindIntegrityCheckFailed,
			Op:   "test",
			Msg:  "archive test failed: " + strings.TrimSpace(string(out)),
			Err:  err,
		}
	}
	return nil
}
