// Package stats counts per-host outcomes for the end-of-run summary.
package stats

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Statistics is a snapshot of the counters
type Statistics struct {
	StartTime        time.Time
	TotalHosts       int
	SucceededHosts   int
	FailedHosts      int
	ActiveHosts      int
	FilesCopied      int
	FilesDeleted     int
	BytesTransferred int64
}

// Completed returns the number of hosts that finished either way
func (s Statistics) Completed() int {
	return s.SucceededHosts + s.FailedHosts
}

// Tracker accumulates run statistics. It is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	stats Statistics
	now   func() time.Time
}

// NewTracker starts a tracker for totalHosts hosts
func NewTracker(totalHosts int) *Tracker {
	return newTrackerWithClock(totalHosts, time.Now)
}

func newTrackerWithClock(totalHosts int, now func() time.Time) *Tracker {
	return &Tracker{
		stats: Statistics{StartTime: now(), TotalHosts: totalHosts},
		now:   now,
	}
}

// HostStarted marks one workflow as in flight
func (t *Tracker) HostStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.ActiveHosts++
}

// HostCompleted records the outcome of one workflow
func (t *Tracker) HostCompleted(success bool, copied, deleted int, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stats.ActiveHosts > 0 {
		t.stats.ActiveHosts--
	}
	t.stats.FilesCopied += copied
	t.stats.FilesDeleted += deleted
	t.stats.BytesTransferred += bytes

	if success {
		t.stats.SucceededHosts++
	} else {
		t.stats.FailedHosts++
	}
}

// Snapshot returns a copy of the current counters
func (t *Tracker) Snapshot() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Elapsed returns the time since the tracker started
func (t *Tracker) Elapsed() time.Duration {
	return t.now().Sub(t.Snapshot().StartTime)
}

// Display writes the final statistics block
func (t *Tracker) Display(w io.Writer) {
	s := t.Snapshot()
	elapsed := t.now().Sub(s.StartTime)

	fmt.Fprintf(w, "\nFinal Statistics:\n")
	fmt.Fprintf(w, "   Total Hosts: %d\n", s.TotalHosts)
	fmt.Fprintf(w, "   Successful: %d (%.1f%%)\n", s.SucceededHosts, percent(s.SucceededHosts, s.TotalHosts))
	fmt.Fprintf(w, "   Failed: %d (%.1f%%)\n", s.FailedHosts, percent(s.FailedHosts, s.TotalHosts))
	fmt.Fprintf(w, "   Files Copied: %d\n", s.FilesCopied)
	fmt.Fprintf(w, "   Files Deleted: %d\n", s.FilesDeleted)
	fmt.Fprintf(w, "   Data Transferred: %s\n", FormatBytes(s.BytesTransferred))
	fmt.Fprintf(w, "   Execution Time: %.2fs\n", elapsed.Seconds())
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// FormatBytes formats a byte count in human readable form
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
