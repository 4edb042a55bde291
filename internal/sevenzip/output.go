package sevenzip

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"archiver/internal/archive"
)

var (
	percentRe = regexp.MustCompile(`(\d{1,3})%`)
	fileRe    = regexp.MustCompile(`\+\s+(.+)$`)
)

// DefaultDiagnosticLines is how many non-progress stdout lines are kept.
const DefaultDiagnosticLines = 50

// maxStderrBytes caps the retained stderr of one run.
const maxStderrBytes = 64 << 10

// splitProgress is a bufio.SplitFunc that breaks on newlines, carriage
// returns and backspaces. 7-Zip redraws its progress line in place with the
// latter two.
func splitProgress(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n\b"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// ParseProgressLine extracts a progress event from one line of output.
func ParseProgressLine(line string) (archive.ProgressEvent, bool) {
	m := percentRe.FindStringSubmatch(line)
	if m == nil {
		return archive.ProgressEvent{}, false
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil {
		return archive.ProgressEvent{}, false
	}
	ev := archive.ProgressEvent{Percent: float64(min(pct, 100))}
	if f := fileRe.FindStringSubmatch(line); f != nil {
		ev.CurrentFile = strings.TrimSpace(f[1])
	}
	return ev, true
}

// outputMonitor consumes compressor stdout, turning progress lines into events
// and keeping the tail of everything else for error reports.
type outputMonitor struct {
	ctx        context.Context
	sink       archive.ProgressSink
	totalBytes int64
	start      time.Time

	maxLines    int
	diagnostics []string
}

func newOutputMonitor(ctx context.Context, sink archive.ProgressSink, totalBytes int64, maxLines int) *outputMonitor {
	if maxLines <= 0 {
		maxLines = DefaultDiagnosticLines
	}
	return &outputMonitor{
		ctx:        ctx,
		sink:       sink,
		totalBytes: totalBytes,
		start:      time.Now(),
		maxLines:   maxLines,
	}
}

// consume reads r until EOF or a read error.
func (m *outputMonitor) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(splitProgress)
	for scanner.Scan() {
		m.handle(scanner.Text())
	}
	// Drain whatever is left so the child never blocks on a full pipe.
	io.Copy(io.Discard, r)
}

func (m *outputMonitor) handle(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	ev, ok := ParseProgressLine(line)
	if !ok {
		m.diagnostics = append(m.diagnostics, line)
		if len(m.diagnostics) > m.maxLines {
			m.diagnostics = m.diagnostics[len(m.diagnostics)-m.maxLines:]
		}
		return
	}

	if m.ctx.Err() != nil {
		return
	}
	if elapsed := time.Since(m.start).Seconds(); elapsed > 0 && m.totalBytes > 0 {
		ev.BytesPerSecond = float64(m.totalBytes) * ev.Percent / 100 / elapsed
	}
	m.sink(ev)
}

// Diagnostics returns the retained non-progress lines, oldest first.
func (m *outputMonitor) Diagnostics() []string {
	return m.diagnostics
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}
