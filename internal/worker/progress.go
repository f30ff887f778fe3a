package worker

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Progress tracks source loading and renders a one-line status.
type Progress struct {
	startTime time.Time
	output    io.Writer
	total     int
	completed int
	failed    int
	failures  map[string]string
	mu        sync.RWMutex
	enabled   bool
}

// NewProgress creates a new progress tracker writing to stderr.
func NewProgress(total int, enabled bool) *Progress {
	return &Progress{
		total:     total,
		startTime: time.Now(),
		output:    os.Stderr,
		enabled:   enabled,
		failures:  make(map[string]string),
	}
}

// Update records the completion counts.
func (p *Progress) Update(completed, total, failed int) {
	p.mu.Lock()
	p.completed = completed
	p.total = total
	p.failed = failed
	p.mu.Unlock()

	if p.enabled {
		p.Print()
	}
}

// Record notes the error of a failed result for the summary.
func (p *Progress) Record(r Result) {
	if r.Err == nil {
		return
	}
	p.mu.Lock()
	p.failures[r.Task.SourceID] = r.Err.Error()
	p.mu.Unlock()
}

// Callback returns a ProgressFunc suitable for use with Pool.Config.
func (p *Progress) Callback() ProgressFunc {
	return p.Update
}

// Line renders the status line without writing it.
func (p *Progress) Line() string {
	p.mu.RLock()
	completed, total, failed := p.completed, p.total, p.failed
	p.mu.RUnlock()

	const barWidth = 20
	filled := 0
	if total > 0 {
		filled = completed * barWidth / total
	}
	line := fmt.Sprintf("[%s%s] %d/%d sources", strings.Repeat("=", filled), strings.Repeat(" ", barWidth-filled), completed, total)
	if failed > 0 {
		line += fmt.Sprintf(" (%d failed)", failed)
	}
	if completed == total {
		line += " - done in " + formatDuration(time.Since(p.startTime))
	}
	return line
}

// Print writes the status line, overwriting the previous one.
func (p *Progress) Print() {
	fmt.Fprint(p.output, "\r"+p.Line()+"    ")
}

// Done prints the final status and a newline.
func (p *Progress) Done() {
	if p.enabled {
		p.Print()
		fmt.Fprintln(p.output)
	}
}

// Summary returns a multi-line report: the totals followed by one line per
// failed source, sorted by id.
func (p *Progress) Summary() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Loaded %d/%d sources (%d failed) in %s",
		p.completed-p.failed, p.total, p.failed, formatDuration(time.Since(p.startTime)))
	ids := make([]string, 0, len(p.failures))
	for id := range p.failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "\n  %s: %s", id, p.failures[id])
	}
	return b.String()
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", mins, secs)
}
