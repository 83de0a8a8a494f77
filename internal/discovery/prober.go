package discovery

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	deployerrors "fleetdeploy/internal/errors"
	"fleetdeploy/internal/executor"
	"fleetdeploy/internal/logging"
)

// DefaultProbeTimeout is the liveness probe budget
const DefaultProbeTimeout = time.Second

// ErrNoReply is recorded for candidates that did not answer their probe
var ErrNoReply = errors.New("no reply")

// Prober decides whether an address is live. Implementations never fail;
// anything short of a reply is "not live".
type Prober interface {
	Probe(ctx context.Context, addr string) bool
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context, addr string) bool

func (f ProberFunc) Probe(ctx context.Context, addr string) bool { return f(ctx, addr) }

// PingProber sends a single echo request with the system ping tool
type PingProber struct {
	Timeout time.Duration
	GOOS    string

	// run executes the command; nil means a zero exit status
	run func(ctx context.Context, name string, args ...string) error
}

// NewPingProber creates a prober for the current platform
func NewPingProber(timeout time.Duration) *PingProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &PingProber{
		Timeout: timeout,
		GOOS:    runtime.GOOS,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

// Args returns the ping arguments for addr
func (p *PingProber) Args(addr string) []string {
	ms := strconv.FormatInt(p.Timeout.Milliseconds(), 10)
	switch p.GOOS {
	case "windows":
		return []string{"-n", "1", "-w", ms, addr}
	case "darwin", "freebsd":
		// -W is in milliseconds here
		return []string{"-c", "1", "-W", ms, addr}
	}
	secs := int(p.Timeout.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return []string{"-c", "1", "-W", strconv.Itoa(secs), addr}
}

func (p *PingProber) Probe(ctx context.Context, addr string) bool {
	// Hard stop a little past the tool's own timeout in case it ignores -W
	ctx, cancel := context.WithTimeout(ctx, p.Timeout+2*time.Second)
	defer cancel()
	return p.run(ctx, "ping", p.Args(addr)...) == nil
}

// Scan probes every candidate with at most ceiling probes in flight and
// returns the live ones in completion order. A ceiling of zero probes all
// candidates at once.
func Scan(ctx context.Context, candidates []string, prober Prober, ceiling int, logger *logging.Logger) []string {
	if logger == nil {
		logger = logging.Discard()
	}
	type probe struct {
		addr string
		live bool
	}

	startTime := time.Now()
	logger.LogPoolStart("discovery", len(candidates), executor.CalculateConcurrency(ceiling, len(candidates)))

	live := make([]string, 0)
	results := executor.Stream(ctx, candidates, ceiling, func(ctx context.Context, addr string) probe {
		return probe{addr: addr, live: prober.Probe(ctx, addr)}
	})
	for r := range results {
		if r.live {
			live = append(live, r.addr)
			continue
		}
		logger.Debug("host not live", "error", deployerrors.NewDiscoveryError(r.addr, "probe", ErrNoReply).Error())
	}

	logger.LogPoolComplete("discovery", len(candidates), len(candidates)-len(live), time.Since(startTime))
	return live
}
