package progress

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lines []string

func (l *lines) Printf(format string, args ...any) {
	*l = append(*l, fmt.Sprintf(format, args...))
}

func TestTracker_PrintsOneLinePerHost(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	var out lines
	p := newTrackerWithClock(4, &out, true, func() time.Time { return now })

	now = start.Add(2 * time.Second)
	p.Update(true)
	now = start.Add(4 * time.Second)
	p.Update(false)

	require.Len(t, out, 2)
	assert.Equal(t, "[█████░░░░░░░░░░░░░░░] 25.0% (1/4) ✓1 ✗0 [2s] ETA: 6s", out[0])
	assert.Equal(t, "[██████████░░░░░░░░░░] 50.0% (2/4) ✓1 ✗1 [4s] ETA: 4s", out[1])

	succeeded, failed, total := p.Counts()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 4, total)
}

func TestTracker_Disabled(t *testing.T) {
	var out lines
	p := NewTracker(2, &out, false)
	p.Update(true)
	p.Update(true)

	assert.Empty(t, out)
	succeeded, _, _ := p.Counts()
	assert.Equal(t, 2, succeeded)
}

func TestTracker_NilPrinter(t *testing.T) {
	p := NewTracker(1, nil, true)
	assert.NotPanics(t, func() { p.Update(true) })
}
