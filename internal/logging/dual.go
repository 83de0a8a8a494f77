package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Severity selects which journal a record is appended to.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityError
)

const (
	// InfoLogName is the informational journal file name
	InfoLogName = "detailed_log.txt"
	// ErrorLogName is the error journal file name
	ErrorLogName = "error_log.txt"

	timestampLayout = "2006-01-02 15:04:05"
)

// Journal is the append-only record sink used by the deployment workflow.
type Journal interface {
	Info(msg string)
	Error(msg string)
}

// DualLogger appends timestamped lines to two append-only files, one for
// informational records and one for errors. A record goes to exactly one of
// them. It is safe for concurrent use.
type DualLogger struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	files map[Severity]*os.File
}

// OpenDual prepares a DualLogger rooted at dir, creating dir if needed.
func OpenDual(dir string) (*DualLogger, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("log directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	return &DualLogger{
		dir:   dir,
		now:   time.Now,
		files: make(map[Severity]*os.File, 2),
	}, nil
}

// SetClock replaces the timestamp source
func (d *DualLogger) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Dir returns the journal directory
func (d *DualLogger) Dir() string {
	return d.dir
}

// Path returns the file path backing the journal for severity
func (d *DualLogger) Path(severity Severity) string {
	if severity == SeverityError {
		return filepath.Join(d.dir, ErrorLogName)
	}
	return filepath.Join(d.dir, InfoLogName)
}

// Info appends msg to the informational journal
func (d *DualLogger) Info(msg string) {
	_ = d.Log(msg, SeverityInfo)
}

// Error appends msg to the error journal
func (d *DualLogger) Error(msg string) {
	_ = d.Log(msg, SeverityError)
}

// Log appends one line "[YYYY-MM-DD HH:MM:SS] msg" to the journal selected by
// severity. The directory is (re)created before every append.
func (d *DualLogger) Log(msg string, severity Severity) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", d.dir, err)
	}

	f, err := d.file(severity)
	if err != nil {
		return err
	}

	line := fmt.Sprintf("[%s] %s\n", d.now().Format(timestampLayout), msg)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to append to %s: %w", f.Name(), err)
	}
	return nil
}

// file returns the open handle for severity. Caller holds d.mu.
func (d *DualLogger) file(severity Severity) (*os.File, error) {
	if f, ok := d.files[severity]; ok {
		if _, err := os.Stat(f.Name()); err == nil {
			return f, nil
		}
		// Removed underneath us; reopen so the record lands in the visible file.
		_ = f.Close()
		delete(d.files, severity)
	}

	path := d.Path(severity)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	d.files[severity] = f
	return f, nil
}

// Close releases both journal handles
func (d *DualLogger) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for severity, f := range d.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.files, severity)
	}
	return firstErr
}
