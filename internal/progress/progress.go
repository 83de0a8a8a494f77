// Package progress reports how far the deployment phase has got, one line per
// finished host.
package progress

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const barWidth = 20

// Printer is where progress lines go
type Printer interface {
	Printf(format string, args ...any)
}

// Tracker counts finished hosts and prints a progress line after each one
type Tracker struct {
	mu        sync.Mutex
	total     int
	succeeded int
	failed    int
	startTime time.Time
	now       func() time.Time
	out       Printer
	enabled   bool
}

// NewTracker creates a tracker for total hosts. A disabled tracker still
// counts but prints nothing.
func NewTracker(total int, out Printer, enabled bool) *Tracker {
	return newTrackerWithClock(total, out, enabled, time.Now)
}

func newTrackerWithClock(total int, out Printer, enabled bool, now func() time.Time) *Tracker {
	return &Tracker{
		total:     total,
		startTime: now(),
		now:       now,
		out:       out,
		enabled:   enabled && out != nil,
	}
}

// Update records one finished host
func (p *Tracker) Update(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if success {
		p.succeeded++
	} else {
		p.failed++
	}
	if p.enabled {
		p.out.Printf("%s", p.line())
	}
}

// line renders e.g. [██████████░░░░░░░░░░] 50.0% (5/10) ✓4 ✗1 [3s] ETA: 3s
func (p *Tracker) line() string {
	done := p.succeeded + p.failed
	if p.total <= 0 {
		return fmt.Sprintf("(%d) ✓%d ✗%d", done, p.succeeded, p.failed)
	}

	percentage := float64(done) / float64(p.total) * 100
	elapsed := p.now().Sub(p.startTime)

	eta := "ETA: calculating..."
	if done > 0 {
		perHost := elapsed / time.Duration(done)
		eta = fmt.Sprintf("ETA: %v", (perHost * time.Duration(p.total-done)).Round(time.Second))
	}

	filled := min(int(float64(barWidth)*percentage/100), barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	return fmt.Sprintf("[%s] %.1f%% (%d/%d) ✓%d ✗%d [%v] %s",
		bar, percentage, done, p.total, p.succeeded, p.failed,
		elapsed.Round(time.Second), eta)
}

// Counts returns the hosts finished so far
func (p *Tracker) Counts() (succeeded, failed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.succeeded, p.failed, p.total
}
