package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"fleetdeploy/internal/config"
	"fleetdeploy/internal/deploy"
	"fleetdeploy/internal/discovery"
	"fleetdeploy/internal/logging"
	"fleetdeploy/internal/output"
	"fleetdeploy/internal/ssh"
)

var (
	// Build-time variables (set via -ldflags)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	// Global configuration
	cfg           *config.Config
	configManager *config.Manager

	configFile string
	flags      cliFlags
)

// cliFlags mirrors every configuration key that can be set on the command line
type cliFlags struct {
	user             string
	password         string
	useKey           bool
	keyFile          string
	port             int
	remoteDir        string
	localDir         string
	target           string
	shell            string
	exclude          []string
	prefixLength     int
	localAddress     string
	inventory        string
	inventoryGroup   string
	concurrency      int
	probeConcurrency int
	probeTimeout     time.Duration
	connectTimeout   time.Duration
	bannerTimeout    time.Duration
	authTimeout      time.Duration
	logDir           string
	logLevel         string
	logFormat        string
	quiet            bool
	progress         bool
	dryRun           bool
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(getExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetdeploy [flags]",
	Short: "Push a directory to every live host on the subnet and run an update there",
	Long: `fleetdeploy discovers live hosts on the local IPv4 subnet, skips this machine,
the default gateway and any excluded address, then on every remaining host copies
the files of a local directory, makes the target executable, runs it and removes
the copied files if the run wrote nothing to its error stream.

Every step is recorded in detailed_log.txt and error_log.txt under the log
directory.

Examples:
  # Deploy ./files to every device on the /24 with the default pi account
  fleetdeploy --password raspberry

  # Run a different target, skipping two devices
  fleetdeploy --target update-ilitek --exclude 10.0.0.7,10.0.0.8

  # Authenticate with a key and only look at one inventory group
  fleetdeploy --use-key --key-file ~/.ssh/fleet --inventory hosts.yaml --inventory-group line1

  # Show what would be deployed to without connecting
  fleetdeploy --dry-run`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		// The config is not known yet, so errors are reported with the flag settings
		bootLogger := logging.NewLoggerFromConfig(flags.logLevel, flags.logFormat, flags.quiet)

		configManager = config.NewManager(configFile)
		loadedCfg, err := configManager.Load()
		if err != nil {
			bootLogger.LogConfigError(configSource(configManager), err)
			return &SetupError{Message: fmt.Sprintf("failed to load configuration: %v", err)}
		}
		cfg = loadedCfg

		overrideConfigWithFlags(cmd.Flags(), &flags, cfg)
		cfg.KeyFile = config.ExpandHome(cfg.KeyFile)

		if err := configManager.Validate(cfg); err != nil {
			bootLogger.LogConfigError(configSource(configManager), err)
			return &SetupError{Message: fmt.Sprintf("configuration validation failed: %v", err)}
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDeployment(cmd.Context(), os.Stdout)
	},
}

func init() {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fleetdeploy %s\n", version)
			fmt.Printf("Commit: %s\n", commit)
			fmt.Printf("Built: %s\n", buildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: fleetdeploy.yaml in ., ~/.config/fleetdeploy, /etc/fleetdeploy)")
	registerFlags(rootCmd.Flags(), &flags)

	rootCmd.Long += "\n\nEnvironment variables:\n  " + strings.Join(config.GetEnvVarNames(), "\n  ")
}

// configSource names where the configuration came from, for diagnostics
func configSource(m *config.Manager) string {
	if m == nil {
		return "defaults"
	}
	if used := m.ConfigFileUsed(); used != "" {
		return used
	}
	if configFile != "" {
		return configFile
	}
	return "defaults and environment"
}

func registerFlags(fs *pflag.FlagSet, f *cliFlags) {
	fs.StringVar(&f.user, "user", "pi", "Remote username")
	fs.StringVar(&f.password, "password", "", "Remote password (prefer FLEETDEPLOY_PASSWORD)")
	fs.BoolVar(&f.useKey, "use-key", false, "Authenticate with --key-file instead of a password")
	fs.StringVar(&f.keyFile, "key-file", "~/.ssh/id_rsa", "Private key file")
	fs.IntVar(&f.port, "port", 22, "SSH port")

	fs.StringVar(&f.remoteDir, "remote-dir", "/home/pi/", "Remote directory the files are copied into")
	fs.StringVar(&f.localDir, "local-dir", "./files", "Local directory whose files are pushed")
	fs.StringVar(&f.target, "target", "update.sh", "File name of the executable to run after the copy")
	fs.StringVar(&f.shell, "shell", "bash", "Remote interpreter used to run the target")

	fs.StringSliceVar(&f.exclude, "exclude", nil, "Addresses never deployed to (comma-separated)")
	fs.IntVar(&f.prefixLength, "prefix-length", 24, "Subnet mask width used for discovery")
	fs.StringVar(&f.localAddress, "local-address", "", "Local IPv4 address (default: detected)")
	fs.StringVar(&f.inventory, "inventory", "", "Ansible-style inventory file replacing the subnet scan")
	fs.StringVar(&f.inventoryGroup, "inventory-group", "", "Only use hosts of this inventory group")

	fs.IntVar(&f.concurrency, "concurrency", 250, "Maximum concurrent deployments")
	fs.IntVar(&f.probeConcurrency, "probe-concurrency", 0, "Maximum concurrent probes (0: one per candidate)")
	fs.DurationVar(&f.probeTimeout, "probe-timeout", time.Second, "Liveness probe timeout")
	fs.DurationVar(&f.connectTimeout, "connect-timeout", ssh.DefaultPhaseTimeout, "TCP connect timeout")
	fs.DurationVar(&f.bannerTimeout, "banner-timeout", ssh.DefaultPhaseTimeout, "SSH banner and key exchange timeout")
	fs.DurationVar(&f.authTimeout, "auth-timeout", ssh.DefaultPhaseTimeout, "SSH authentication timeout")

	fs.StringVar(&f.logDir, "log-dir", "./logs", "Directory for detailed_log.txt and error_log.txt")
	fs.StringVar(&f.logLevel, "log-level", "error", "Diagnostic log level (debug, info, error)")
	fs.StringVar(&f.logFormat, "log-format", "text", "Diagnostic log format (json, text)")
	fs.BoolVar(&f.quiet, "quiet", false, "Suppress non-error diagnostics")
	fs.BoolVar(&f.progress, "progress", false, "Print a progress line after each host finishes")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Discover and filter hosts without deploying")
}

// overrideConfigWithFlags applies only the flags that were explicitly set
func overrideConfigWithFlags(fs *pflag.FlagSet, f *cliFlags, c *config.Config) {
	if fs.Changed("user") {
		c.User = f.user
	}
	if fs.Changed("password") {
		c.Password = f.password
	}
	if fs.Changed("use-key") {
		c.UseKey = f.useKey
	}
	if fs.Changed("key-file") {
		c.KeyFile = f.keyFile
	}
	if fs.Changed("port") {
		c.Port = f.port
	}
	if fs.Changed("remote-dir") {
		c.RemoteDir = f.remoteDir
	}
	if fs.Changed("local-dir") {
		c.LocalDir = f.localDir
	}
	if fs.Changed("target") {
		c.Target = f.target
	}
	if fs.Changed("shell") {
		c.Shell = f.shell
	}
	if fs.Changed("exclude") {
		c.Exclude = f.exclude
	}
	if fs.Changed("prefix-length") {
		c.PrefixLength = f.prefixLength
	}
	if fs.Changed("local-address") {
		c.LocalAddress = f.localAddress
	}
	if fs.Changed("inventory") {
		c.Inventory = f.inventory
	}
	if fs.Changed("inventory-group") {
		c.InventoryGroup = f.inventoryGroup
	}
	if fs.Changed("concurrency") {
		c.Concurrency = f.concurrency
	}
	if fs.Changed("probe-concurrency") {
		c.ProbeConcurrency = f.probeConcurrency
	}
	if fs.Changed("probe-timeout") {
		c.ProbeTimeout = f.probeTimeout
	}
	if fs.Changed("connect-timeout") {
		c.ConnectTimeout = f.connectTimeout
	}
	if fs.Changed("banner-timeout") {
		c.BannerTimeout = f.bannerTimeout
	}
	if fs.Changed("auth-timeout") {
		c.AuthTimeout = f.authTimeout
	}
	if fs.Changed("log-dir") {
		c.LogDir = f.logDir
	}
	if fs.Changed("log-level") {
		c.LogLevel = f.logLevel
	}
	if fs.Changed("log-format") {
		c.LogFormat = f.logFormat
	}
	if fs.Changed("quiet") {
		c.Quiet = f.quiet
	}
	if fs.Changed("progress") {
		c.Progress = f.progress
	}
	if fs.Changed("dry-run") {
		c.DryRun = f.dryRun
	}
}

func runDeployment(ctx context.Context, writer io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := logging.NewLoggerFromConfig(cfg.LogLevel, cfg.LogFormat, cfg.Quiet)
	logger.LogConfigLoad(configSource(configManager))

	journal, err := logging.OpenDual(cfg.LogDir)
	if err != nil {
		return &SetupError{Message: fmt.Sprintf("failed to open journals: %v", err)}
	}
	defer journal.Close()

	narrator := output.NewNarrator(writer)
	creds := ssh.NewCredentials(cfg.UseKey, cfg.Password, cfg.KeyFile, cfg.KeyPassphrase)
	dialer := ssh.NewDialer(cfg.User, cfg.Port, creds, ssh.Timeouts{
		Connect: cfg.ConnectTimeout,
		Banner:  cfg.BannerTimeout,
		Auth:    cfg.AuthTimeout,
	}, logger)

	coordinator := deploy.NewCoordinator(cfg, deploy.Dependencies{
		Runner:       deploy.NewWorkflow(dialer, journal, narrator, logger),
		Prober:       discovery.NewPingProber(cfg.ProbeTimeout),
		Routes:       discovery.NewIPRouteLookup(),
		ResolveLocal: discovery.ResolveLocalAddress,
		Journal:      journal,
		Narrator:     narrator,
		Logger:       logger,
	})

	report, err := coordinator.Run(ctx)
	switch {
	case errors.Is(err, deploy.ErrNoHosts):
		return nil
	case err != nil:
		return &SetupError{Message: err.Error()}
	}

	logger.Info("run finished",
		"eligible", len(report.Eligible),
		"failed", len(report.Failed()),
		"duration", report.Elapsed.String(),
	)
	return nil
}

// SetupError represents a failure before any host was deployed to
type SetupError struct {
	Message string
}

func (e *SetupError) Error() string {
	return e.Message
}

// getExitCode determines the process exit code. Host failures never reach
// here; they are reported in the journals and the run still exits 0.
func getExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
