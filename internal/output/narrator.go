package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

const rule = "------------------------------------------------------------"

// Narrator writes the human-readable progress narrative. Lines from
// concurrent workflows are written whole and never interleave.
type Narrator struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewNarrator creates a narrator on writer, defaulting to stdout
func NewNarrator(writer io.Writer) *Narrator {
	if writer == nil {
		writer = os.Stdout
	}
	return &Narrator{writer: writer}
}

// Discard returns a narrator that prints nothing
func Discard() *Narrator {
	return NewNarrator(io.Discard)
}

// Printf writes one line; a trailing newline is added when missing
func (n *Narrator) Printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = io.WriteString(n.writer, line)
}

// Host writes one line prefixed with a status marker and the host
func (n *Narrator) Host(marker, host, format string, args ...any) {
	n.Printf("[%s] %s: %s", marker, host, fmt.Sprintf(format, args...))
}

// Banner writes a framed block with aligned "Label: value" rows
func (n *Narrator) Banner(title string, rows [][2]string) {
	width := 0
	for _, r := range rows {
		if len(r[0]) > width {
			width = len(r[0])
		}
	}

	var b strings.Builder
	b.WriteString(rule + "\n")
	b.WriteString(title + "\n")
	b.WriteString(rule + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-*s %s\n", width+1, r[0]+":", r[1])
	}
	b.WriteString(rule + "\n")

	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = io.WriteString(n.writer, b.String())
}

// HostList writes a count line followed by one indented host per line
func (n *Narrator) HostList(summary string, hosts []string) {
	var b strings.Builder
	b.WriteString(summary + "\n")
	for _, h := range hosts {
		fmt.Fprintf(&b, " - %s\n", h)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = io.WriteString(n.writer, b.String())
}

// Markers used in host lines
const (
	MarkConnect = "→"
	MarkOK      = "✓"
	MarkFail    = "✗"
	MarkWarn    = "!"
	MarkClean   = "~"
	MarkInfo    = "*"
)
