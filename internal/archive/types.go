package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BackendKind selects which archiving implementation serves a job.
type BackendKind string

const (
	BackendNative   BackendKind = "native"
	BackendBuffered BackendKind = "buffered"
	BackendAuto     BackendKind = "auto"
)

func (k BackendKind) String() string { return string(k) }

// Valid reports whether k is one of the known backend kinds.
func (k BackendKind) Valid() bool {
	switch k {
	case BackendNative, BackendBuffered, BackendAuto:
		return true
	}
	return false
}

// ParseBackendKind converts a configuration string into a BackendKind.
// An empty string selects BackendAuto.
func ParseBackendKind(s string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return BackendAuto, nil
	case "native", "7zip", "native_7zip":
		return BackendNative, nil
	case "buffered", "zip":
		return BackendBuffered, nil
	}
	return "", fmt.Errorf("unknown backend %q", s)
}

// MaxCompressionLevel is the highest level accepted by a CompressionProfile.
const MaxCompressionLevel = 9

// CompressionProfile is the compression configuration applied to one job.
type CompressionProfile struct {
	// Store disables compression entirely; Level is ignored when set.
	Store bool `json:"store" mapstructure:"store"`
	// Level is the compression level, 0..9.
	Level int `json:"level" mapstructure:"level"`
	// ThreadHint is the requested compressor thread count. Zero means "unset".
	ThreadHint int `json:"threads" mapstructure:"threads"`
}

// StoreProfile returns the default profile: no compression, unset thread hint.
func StoreProfile() CompressionProfile {
	return CompressionProfile{Store: true}
}

// Validate checks the profile ranges.
func (p CompressionProfile) Validate() error {
	if p.Level < 0 || p.Level > MaxCompressionLevel {
		return fmt.Errorf("compression level %d out of range 0..%d", p.Level, MaxCompressionLevel)
	}
	if p.ThreadHint < 0 {
		return fmt.Errorf("thread hint %d must not be negative", p.ThreadHint)
	}
	return nil
}

// EffectiveLevel is the level handed to a compressor: 0 for store-only profiles.
func (p CompressionProfile) EffectiveLevel() int {
	if p.Store {
		return 0
	}
	return p.Level
}

func (p CompressionProfile) String() string {
	if p.Store || p.Level == 0 {
		return "store"
	}
	return fmt.Sprintf("level-%d", p.Level)
}

// Job describes one archive invocation. It is passed by value and never
// mutated once handed to the orchestrator.
type Job struct {
	ID              string             `json:"id"`
	SourcePath      string             `json:"source_path"`
	DestinationPath string             `json:"destination_path"`
	Profile         CompressionProfile `json:"profile"`
	Backend         BackendKind        `json:"backend"`
}

// NewJob creates a job with a fresh ID.
func NewJob(source, destination string, profile CompressionProfile, backend BackendKind) Job {
	return Job{
		ID:              uuid.NewString(),
		SourcePath:      source,
		DestinationPath: destination,
		Profile:         profile,
		Backend:         backend,
	}
}

// WithBackend returns a copy of the job targeting another backend kind.
func (j Job) WithBackend(kind BackendKind) Job {
	j.Backend = kind
	return j
}

// ProgressEvent reports the state of a running job.
type ProgressEvent struct {
	Percent        float64 `json:"percent"`
	CurrentFile    string  `json:"current_file,omitempty"`
	BytesPerSecond float64 `json:"bytes_per_second,omitempty"`
}

// ProgressSink receives progress events. It may be called from a goroutine
// other than the caller's and must never block indefinitely.
type ProgressSink func(ProgressEvent)

// Outcome is the single terminal result of a job.
type Outcome struct {
	JobID          string        `json:"job_id"`
	Success        bool          `json:"success"`
	FilesProcessed int           `json:"files_processed"`
	BytesProcessed int64         `json:"bytes_processed"`
	Elapsed        time.Duration `json:"elapsed"`
	BackendUsed    BackendKind   `json:"backend_used"`
	ErrorKind      ErrorKind     `json:"error_kind,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	// Warning annotates a successful outcome with non-fatal issues, such as
	// files the compressor skipped.
	Warning     string `json:"warning,omitempty"`
	Destination string `json:"destination"`
	// Fallback is set when this outcome came from the second backend attempt.
	Fallback     bool   `json:"fallback,omitempty"`
	PrimaryError string `json:"primary_error,omitempty"`
}

// ElapsedSeconds returns the wall clock duration of the job in seconds.
func (o Outcome) ElapsedSeconds() float64 {
	return o.Elapsed.Seconds()
}

// Err returns the outcome's failure as an *Error, or nil on success.
func (o Outcome) Err() error {
	if o.Success {
		return nil
	}
	return &Error{Kind: o.ErrorKind, Msg: o.ErrorMessage}
}

// Failed builds a failed outcome for job from err. Errors that are not an
// *Error are classified with fallbackKind.
func Failed(job Job, backend BackendKind, fallbackKind ErrorKind, err error) Outcome {
	return Outcome{
		JobID:        job.ID,
		BackendUsed:  backend,
		ErrorKind:    KindOf(err, fallbackKind),
		ErrorMessage: err.Error(),
		Destination:  job.DestinationPath,
	}
}
