package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"fleetdeploy/internal/config"
	"fleetdeploy/internal/discovery"
	deployerrors "fleetdeploy/internal/errors"
	"fleetdeploy/internal/executor"
	"fleetdeploy/internal/filter"
	"fleetdeploy/internal/inventory"
	"fleetdeploy/internal/logging"
	"fleetdeploy/internal/output"
	"fleetdeploy/internal/progress"
	"fleetdeploy/internal/stats"
)

// ErrNoHosts ends a run early when nothing is left to deploy to
var ErrNoHosts = errors.New("no active devices found")

// Report is everything one run found and did
type Report struct {
	LocalAddress string
	Gateway      string // empty when no default route was found
	Candidates   []string
	Live         []string
	Eligible     []string
	Excluded     map[string]string // host -> rule that removed it
	Results      map[string]Result
	Stats        stats.Statistics
	Elapsed      time.Duration
}

// Failed returns the hosts whose workflow did not succeed, sorted
func (r *Report) Failed() []string {
	var out []string
	for host, res := range r.Results {
		if !res.OK() {
			out = append(out, host)
		}
	}
	sortAddresses(out)
	return out
}

// Dependencies are the collaborators a Coordinator drives
type Dependencies struct {
	Runner       Runner
	Prober       discovery.Prober
	Routes       discovery.RouteLookup
	ResolveLocal func(override string) (netip.Addr, error)
	Journal      logging.Journal
	Narrator     *output.Narrator
	Logger       *logging.Logger
	Now          func() time.Time
}

// Coordinator runs discovery, filtering and the per-host workflows
type Coordinator struct {
	cfg  *config.Config
	deps Dependencies
}

// NewCoordinator creates a coordinator for one validated configuration
func NewCoordinator(cfg *config.Config, deps Dependencies) *Coordinator {
	if deps.ResolveLocal == nil {
		deps.ResolveLocal = discovery.ResolveLocalAddress
	}
	if deps.Routes == nil {
		deps.Routes = discovery.NewIPRouteLookup()
	}
	if deps.Prober == nil {
		deps.Prober = discovery.NewPingProber(cfg.ProbeTimeout)
	}
	if deps.Narrator == nil {
		deps.Narrator = output.Discard()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Coordinator{cfg: cfg, deps: deps}
}

// Run performs one full pass. Host failures are reported in the Report and
// never returned; the error is non-nil only for setup failures or ErrNoHosts.
// Cancelling ctx does not abort a run: once started, every probe and every
// workflow runs to completion.
func (c *Coordinator) Run(ctx context.Context) (*Report, error) {
	ctx = context.WithoutCancel(ctx)
	startTime := c.deps.Now()
	report := &Report{
		Excluded: make(map[string]string),
		Results:  make(map[string]Result),
	}
	log := c.deps.Logger
	say := c.deps.Narrator

	local, err := c.deps.ResolveLocal(c.cfg.LocalAddress)
	if err != nil {
		return report, deployerrors.NewSetupError("resolve local address", err)
	}
	report.LocalAddress = local.String()

	gateway, err := c.deps.Routes.DefaultGateway(ctx)
	if err != nil {
		log.Info("no default gateway, gateway exclusion disabled", "error", err)
		gateway = ""
	}
	report.Gateway = gateway

	say.Banner("Fleet Deployment (Dual Logging + Auto Cleanup)", [][2]string{
		{"Local IP", report.LocalAddress},
		{"Gateway IP", orNone(gateway)},
		{"Threads", strconv.Itoa(c.cfg.Concurrency)},
		{"Logs Folder", c.cfg.LogDir},
	})
	c.deps.Journal.Info(fmt.Sprintf("==== Deployment Started at %s ====", startTime.Format(time.ANSIC)))
	c.deps.Journal.Info(fmt.Sprintf("Local IP: %s, Gateway: %s", report.LocalAddress, orNone(gateway)))

	candidates, err := c.candidates(local)
	if err != nil {
		return report, err
	}
	report.Candidates = candidates

	say.Printf("[%s] Scanning network for active devices...", output.MarkInfo)
	live := discovery.Scan(ctx, candidates, c.deps.Prober, c.cfg.ProbeConcurrency, log)
	sortAddresses(live)
	report.Live = live

	eligible, removed := filter.Apply(live, filter.Rules(report.LocalAddress, gateway, c.cfg.Exclude)...)
	for host, rule := range removed {
		report.Excluded[host] = rule.String()
		log.Debug("host excluded", "host", host, "rule", rule.String())
	}
	report.Eligible = eligible

	say.HostList(fmt.Sprintf("[+] Found %d active devices.", len(eligible)), eligible)

	if len(eligible) == 0 {
		say.Printf("[%s] No active devices found.", output.MarkFail)
		c.deps.Journal.Error("No active devices found.")
		report.Elapsed = c.deps.Now().Sub(startTime)
		return report, ErrNoHosts
	}

	if c.cfg.DryRun {
		say.Printf("[%s] Dry run: would copy %s to %s and run %s %s on %d devices.",
			output.MarkInfo, c.cfg.LocalDir, c.cfg.RemoteDir, c.cfg.Shell, c.cfg.Target, len(eligible))
		report.Elapsed = c.deps.Now().Sub(startTime)
		return report, nil
	}

	say.Printf("\n[>] Starting full parallel deployment...\n")

	c.deploy(ctx, eligible, report)

	report.Elapsed = c.deps.Now().Sub(startTime)
	secs := report.Elapsed.Seconds()
	say.Printf("\n[%s] Deployment completed for %d devices in %.2fs.", output.MarkOK, len(eligible), secs)
	c.deps.Journal.Info(fmt.Sprintf("==== Deployment Finished (%.2fs) ====", secs))

	return report, nil
}

// deploy fans the workflows out through the pool and aggregates results as
// they complete
func (c *Coordinator) deploy(ctx context.Context, hosts []string, report *Report) {
	log := c.deps.Logger
	tracker := stats.NewTracker(len(hosts))
	bar := progress.NewTracker(len(hosts), c.deps.Narrator, c.cfg.Progress)
	collector := deployerrors.NewErrorCollector()

	startTime := time.Now()
	log.LogPoolStart("deploy", len(hosts), executor.CalculateConcurrency(c.cfg.Concurrency, len(hosts)))

	results := executor.Stream(ctx, hosts, c.cfg.Concurrency, func(ctx context.Context, host string) Result {
		tracker.HostStarted()
		return c.runGuarded(ctx, host)
	})

	for res := range results {
		report.Results[res.Host] = res
		tracker.HostCompleted(res.OK(), len(res.Outcome.Transferred), len(res.Outcome.Deleted), res.Outcome.BytesSent)
		collector.Add(res.Err)
		bar.Update(res.OK())
		if res.Err != nil {
			log.Info("host failed", "host", res.Host, "error_type", deployerrors.TypeOf(res.Err).String())
		}
	}

	log.LogPoolComplete("deploy", len(hosts), collector.Count(), time.Since(startTime))
	if collector.HasErrors() {
		log.Info("deployment summary",
			"errors", collector.Summary(),
			"unreachable", collector.CountByType(deployerrors.ConnectionErrorType),
		)
	}

	report.Stats = tracker.Snapshot()
	var b strings.Builder
	tracker.Display(&b)
	c.deps.Narrator.Printf("%s", b.String())
}

// runGuarded is the outer boundary: whatever the runner does, one host never
// takes down the pool.
func (c *Coordinator) runGuarded(ctx context.Context, host string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("uncaught error: %v", r)
			c.deps.Narrator.Host(output.MarkFail, host, "Uncaught error: %v", r)
			c.deps.Journal.Error(fmt.Sprintf("Uncaught error on %s: %v", host, r))
			res = Result{Host: host, Outcome: Outcome{Host: host, ExitStatus: -1}, Err: deployerrors.NewWorkflowError(host, err)}
		}
	}()
	return c.deps.Runner.Run(ctx, c.job(host))
}

func (c *Coordinator) job(host string) Job {
	return Job{
		Host:      host,
		SourceDir: c.cfg.LocalDir,
		RemoteDir: c.cfg.RemoteDir,
		Target:    c.cfg.Target,
		Shell:     c.cfg.Shell,
	}
}

// candidates returns the inventory hosts when an inventory is configured and
// the local subnet otherwise
func (c *Coordinator) candidates(local netip.Addr) ([]string, error) {
	if c.cfg.Inventory != "" {
		inv, err := inventory.Load(c.cfg.Inventory)
		if err != nil {
			return nil, deployerrors.NewSetupError("load inventory", err)
		}
		addrs, err := inv.Addresses(c.cfg.InventoryGroup)
		if err != nil {
			return nil, deployerrors.NewSetupError("load inventory", err)
		}
		c.deps.Logger.Info("candidates from inventory", "path", c.cfg.Inventory, "count", len(addrs))
		return addrs, nil
	}

	addrs, err := discovery.Candidates(local, c.cfg.PrefixLength)
	if err != nil {
		return nil, deployerrors.NewSetupError("enumerate subnet", err)
	}
	c.deps.Logger.Info("candidates from subnet", "local", local.String(), "prefix", c.cfg.PrefixLength, "count", len(addrs))
	return discovery.Strings(addrs), nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// sortAddresses orders IPv4 addresses numerically; anything unparseable sorts
// after them by text
func sortAddresses(hosts []string) {
	sort.SliceStable(hosts, func(i, j int) bool {
		a, errA := netip.ParseAddr(hosts[i])
		b, errB := netip.ParseAddr(hosts[j])
		switch {
		case errA == nil && errB == nil:
			return a.Less(b)
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return hosts[i] < hosts[j]
		}
	})
}
