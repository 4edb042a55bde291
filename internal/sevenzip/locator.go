package sevenzip

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"archiver/internal/archive"
	"archiver/internal/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultNames are the executable names tried in each search directory.
var DefaultNames = []string{"7zz", "7za", "7z"}

const DefaultProbeTimeout = 5 * time.Second

var versionRe = regexp.MustCompile(`7-Zip(?:\s+\([a-z]+\))?\s+(\d+\.\d+)`)

// BinaryDescriptor identifies a validated compressor executable.
type BinaryDescriptor struct {
	Path      string `json:"path"`
	Version   string `json:"version"`
	Validated bool   `json:"validated"`
	Digest    string `json:"digest"`
	// Warning is set when the binary passed validation but failed the
	// known-digest check under a lenient policy.
	Warning string `json:"warning,omitempty"`
}

// LocatorConfig controls where and how the compressor is searched for.
type LocatorConfig struct {
	Names        []string
	BundledDir   string // directory shipped with the application; defaults to the executable's directory
	WorkDir      string // defaults to the current working directory
	SkipPath     bool   // do not consult PATH
	ProbeTimeout time.Duration
	// KnownDigests are hex SHA-256 digests of trusted builds.
	KnownDigests  []string
	RejectUnknown bool
}

type probeFunc func(ctx context.Context, path string) (string, error)

// Locator finds the compressor and caches the first successful detection for
// its own lifetime. Pass one Locator to everything that needs the binary;
// tests create fresh instances.
type Locator struct {
	cfg     LocatorConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics
	probe   probeFunc

	mu     sync.RWMutex
	cached *BinaryDescriptor
	group  singleflight.Group
}

// NewLocator creates a Locator. m may be nil.
func NewLocator(cfg LocatorConfig, logger zerolog.Logger, m *metrics.Metrics) *Locator {
	if len(cfg.Names) == 0 {
		cfg.Names = DefaultNames
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.BundledDir == "" {
		if exe, err := os.Executable(); err == nil {
			cfg.BundledDir = filepath.Dir(exe)
		}
	}
	if cfg.WorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.WorkDir = wd
		}
	}
	return &Locator{
		cfg:     cfg,
		logger:  logger.With().Str("component", "locator").Logger(),
		metrics: m,
		probe:   runBanner,
	}
}

// Locate returns the cached descriptor or searches for one. A failed search
// is not cached. The shared search is detached from any single caller's
// cancellation; each validation run is still bounded by ProbeTimeout.
func (l *Locator) Locate(ctx context.Context) (BinaryDescriptor, error) {
	if d, ok := l.Cached(); ok {
		return d, nil
	}

	ch := l.group.DoChan("locate", func() (any, error) {
		if d, ok := l.Cached(); ok {
			return d, nil
		}
		return l.search(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return BinaryDescriptor{}, res.Err
		}
		return res.Val.(BinaryDescriptor), nil
	case <-ctx.Done():
		return BinaryDescriptor{}, &archive.Error{Kind: archive.KindCancelled, Op: "locate", Msg: "locate cancelled", Err: ctx.Err()}
	}
}

// Reprobe drops the cached descriptor and searches again.
func (l *Locator) Reprobe(ctx context.Context) (BinaryDescriptor, error) {
	l.Invalidate()
	return l.Locate(ctx)
}

// Invalidate drops the cached descriptor.
func (l *Locator) Invalidate() {
	l.mu.Lock()
	l.cached = nil
	l.mu.Unlock()
}

// Cached returns the cached descriptor, if any.
func (l *Locator) Cached() (BinaryDescriptor, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.cached == nil {
		return BinaryDescriptor{}, false
	}
	return *l.cached, true
}

// Available reports whether a valid compressor can be used.
func (l *Locator) Available(ctx context.Context) bool {
	_, err := l.Locate(ctx)
	return err == nil
}

func (l *Locator) search(ctx context.Context) (BinaryDescriptor, error) {
	start := time.Now()
	candidates := l.candidates()

	var integrityErr error
	for _, path := range candidates {
		d, err := l.validate(ctx, path)
		if err != nil {
			if errors.Is(err, archive.ErrIntegrityCheckFailed) {
				integrityErr = err
			}
			l.logger.Warn().Err(err).Str("path", path).Msg("Rejected compressor candidate")
			continue
		}

		l.mu.Lock()
		l.cached = &d
		l.mu.Unlock()

		l.metrics.ObserveProbe(true, time.Since(start))
		l.logger.Info().Str("path", d.Path).Str("version", d.Version).Msg("Found 7-Zip")
		if d.Warning != "" {
			l.logger.Warn().Str("path", d.Path).Str("digest", d.Digest).Msg(d.Warning)
		}
		return d, nil
	}

	l.metrics.ObserveProbe(false, time.Since(start))
	l.logger.Warn().Strs("checked", candidates).Msg("7-Zip not found in any expected location")
	if integrityErr != nil {
		return BinaryDescriptor{}, integrityErr
	}
	return BinaryDescriptor{}, &archive.Error{
		Kind: archive.KindBinaryUnavailable,
		Op:   "locate",
		Msg:  fmt.Sprintf("no valid 7-Zip executable among %d candidates", len(candidates)),
	}
}

// candidates lists possible executables in search order: bundled directory,
// working directory, then PATH.
func (l *Locator) candidates() []string {
	var dirs []string
	for _, base := range []string{l.cfg.BundledDir, l.cfg.WorkDir} {
		if base == "" {
			continue
		}
		dirs = append(dirs, filepath.Join(base, "bin"), base)
	}

	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, dir := range dirs {
		for _, name := range l.names() {
			p := filepath.Join(dir, name)
			if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
				add(p)
			}
		}
	}
	if !l.cfg.SkipPath {
		for _, name := range l.names() {
			if p, err := exec.LookPath(name); err == nil {
				add(p)
			}
		}
	}
	return out
}

func (l *Locator) names() []string {
	if runtime.GOOS != "windows" {
		return l.cfg.Names
	}
	names := make([]string, 0, len(l.cfg.Names))
	for _, n := range l.cfg.Names {
		if !strings.HasSuffix(strings.ToLower(n), ".exe") {
			n += ".exe"
		}
		names = append(names, n)
	}
	return names
}

func (l *Locator) validate(ctx context.Context, path string) (BinaryDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ProbeTimeout)
	defer cancel()

	out, err := l.probe(ctx, path)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return BinaryDescriptor{}, fmt.Errorf("validation timed out after %s", l.cfg.ProbeTimeout)
		}
		return BinaryDescriptor{}, fmt.Errorf("validation run failed: %w", err)
	}
	if !strings.Contains(out, "7-Zip") {
		return BinaryDescriptor{}, fmt.Errorf("output does not identify 7-Zip")
	}

	d := BinaryDescriptor{Path: path, Validated: true}
	if m := versionRe.FindStringSubmatch(out); m != nil {
		d.Version = m[1]
	}

	digest, err := FileDigest(path)
	if err != nil {
		return BinaryDescriptor{}, fmt.Errorf("digest: %w", err)
	}
	d.Digest = digest

	if !l.known(digest) {
		if l.cfg.RejectUnknown {
			return BinaryDescriptor{}, &archive.Error{
				Kind: archive.KindIntegrityCheckFailed,
				Op:   "locate",
				Msg:  fmt.Sprintf("binary %s has unknown digest %s", path, digest),
			}
		}
		if len(l.cfg.KnownDigests) > 0 {
			d.Warning = "7-Zip binary digest is not in the known-good set"
		}
	}
	return d, nil
}

func (l *Locator) known(digest string) bool {
	for _, k := range l.cfg.KnownDigests {
		if strings.EqualFold(strings.TrimSpace(k), digest) {
			return true
		}
	}
	return false
}

// FileDigest returns the hex SHA-256 of the file at path.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// runBanner runs the executable without arguments; 7-Zip prints its banner
// and usage and exits 0.
func runBanner(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = filepath.Dir(path)
	cmd.WaitDelay = time.Second
	out, err := cmd.Output()
	return string(out), err
}
