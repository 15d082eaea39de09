package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressReporter renders the progress of one export job.
type ProgressReporter interface {
	Update(percent int, message string)
	Finish(status string)
}

// BarProgress draws a single-line progress bar, redrawn in place.
type BarProgress struct {
	mu      sync.Mutex
	writer  io.Writer
	width   int
	started time.Time
	percent int
	message string
}

// NewProgressReporter creates a progress bar writing to w. If w is nil, it
// defaults to os.Stderr.
func NewProgressReporter(w io.Writer) *BarProgress {
	if w == nil {
		w = os.Stderr
	}
	return &BarProgress{
		writer:  w,
		width:   40,
		started: time.Now(),
	}
}

// Update redraws the bar. Percentages outside 0..100 are clamped.
func (p *BarProgress) Update(percent int, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.percent = min(max(percent, 0), 100)
	p.message = message
	p.render()
}

// Finish ends the line with the terminal status.
func (p *BarProgress) Finish(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.render()
	fmt.Fprintf(p.writer, " %s\n", status)
}

func (p *BarProgress) render() {
	filled := p.width * p.percent / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", p.width-filled)
	elapsed := time.Since(p.started).Truncate(time.Second)

	fmt.Fprintf(p.writer, "\r[%s] %3d%% %s (%s)", bar, p.percent, p.message, elapsed)
}
