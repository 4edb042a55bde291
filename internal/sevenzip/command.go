package sevenzip

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"archiver/internal/archive"

	"github.com/shirou/gopsutil/v4/cpu"
)

// ThreadPolicy maps the host core count and a job's thread hint to the
// -mmt value passed to the compressor.
type ThreadPolicy struct {
	Ceiling  int `mapstructure:"ceiling"`
	HighCore int `mapstructure:"high_core"`
	LowCore  int `mapstructure:"low_core"`
}

func DefaultThreadPolicy() ThreadPolicy {
	return ThreadPolicy{Ceiling: 16, HighCore: 8, LowCore: 4}
}

// Threads returns the thread count for cpuCount logical cores. Above the
// high-core tier the job's hint is honoured, clamped to [1, Ceiling]; a zero
// hint means "all cores". The mid tier oversubscribes by two, the low tier
// uses every core.
func (p ThreadPolicy) Threads(cpuCount, hint int) int {
	p = p.withDefaults()
	if cpuCount < 1 {
		cpuCount = 1
	}

	switch {
	case cpuCount > p.HighCore:
		if hint <= 0 {
			hint = cpuCount
		}
		return clamp(hint, 1, p.Ceiling)
	case cpuCount > p.LowCore:
		return min(cpuCount*2, p.Ceiling)
	default:
		return cpuCount
	}
}

func (p ThreadPolicy) withDefaults() ThreadPolicy {
	d := DefaultThreadPolicy()
	if p.Ceiling < 1 {
		p.Ceiling = d.Ceiling
	}
	if p.HighCore < 1 {
		p.HighCore = d.HighCore
	}
	if p.LowCore < 1 {
		p.LowCore = d.LowCore
	}
	return p
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// CPUCount returns the number of logical cores, preferring gopsutil's view of
// the host over the Go runtime's.
func CPUCount() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Switches that only apply to the 7z container, or that the builder sets
// itself. Matched by prefix against caller-supplied extra arguments.
var droppedSwitches = []string{
	"-mmemuse", "-m0=", "-m1=", "-mf=", "-mhc", "-mhe", "-ms=", "-mqs", "-md=", "-myx",
	"-t", "-v", "-sfx",
	"-mx", "-mmt", "-y", "-bb", "-bsp", "-bso", "-bse",
}

// FilterExtraArgs drops arguments incompatible with zip output. Anything not
// shaped like a switch is dropped too, so extra arguments cannot add files.
func FilterExtraArgs(args []string) (kept, dropped []string) {
	for _, a := range args {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if !strings.HasPrefix(a, "-") || incompatible(a) {
			dropped = append(dropped, a)
			continue
		}
		kept = append(kept, a)
	}
	return kept, dropped
}

func incompatible(arg string) bool {
	lower := strings.ToLower(arg)
	for _, p := range droppedSwitches {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// Command is a fully built compressor invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
}

func (c Command) String() string {
	return fmt.Sprintf("%s %s", c.Path, strings.Join(c.Args, " "))
}

// CommandBuilder turns jobs into compressor invocations.
type CommandBuilder struct {
	Policy    ThreadPolicy
	CPUCount  int
	ExtraArgs []string
}

// NewCommandBuilder creates a builder for this host's core count.
func NewCommandBuilder(policy ThreadPolicy, extraArgs []string) *CommandBuilder {
	kept, _ := FilterExtraArgs(extraArgs)
	return &CommandBuilder{
		Policy:    policy,
		CPUCount:  CPUCount(),
		ExtraArgs: kept,
	}
}

// Threads returns the -mmt value for profile.
func (b *CommandBuilder) Threads(profile archive.CompressionProfile) int {
	return b.Policy.Threads(b.CPUCount, profile.ThreadHint)
}

// Build returns the "add" invocation writing job.DestinationPath. Directory
// sources run from inside the directory with a "*" pattern so entry names are
// relative; a file source runs from its parent and names only itself.
func (b *CommandBuilder) Build(binary BinaryDescriptor, job archive.Job, stats archive.SourceStats) Command {
	args := []string{
		"a",
		"-tzip",
		fmt.Sprintf("-mx%d", job.Profile.EffectiveLevel()),
		fmt.Sprintf("-mmt%d", b.Threads(job.Profile)),
		"-y",
		"-bb1",
		"-bsp1",
	}
	kept, _ := FilterExtraArgs(b.ExtraArgs)
	args = append(args, kept...)

	dir, pattern := job.SourcePath, "*"
	if !stats.IsDir {
		dir, pattern = filepath.Split(job.SourcePath)
		dir = filepath.Clean(dir)
	}
	args = append(args, job.DestinationPath, pattern)

	return Command{Path: binary.Path, Args: args, Dir: dir}
}

// BuildTest returns the integrity test invocation for archivePath.
func (b *CommandBuilder) BuildTest(binary BinaryDescriptor, archivePath string) Command {
	return Command{
		Path: binary.Path,
		Args: []string{"t", "-bb1", archivePath},
		Dir:  filepath.Dir(archivePath),
	}
}
