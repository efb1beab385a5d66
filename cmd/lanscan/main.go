// Lanscan finds live hosts on the local /24 and reports which discovery and
// debugging services they expose.
//
// Usage:
//
//	lanscan scan quick|deep [--json] [--save]
//	lanscan scan custom --ports 80,1900 [--hosts a,b] [--timeout N] [--json]
//	lanscan devices list|add <ip>
//	lanscan browse [--service _googlecast._tcp] [--timeout 3s]
//	lanscan config init [path]
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lanscan/internal/config"
	"lanscan/internal/discovery"
	"lanscan/internal/logging"
	"lanscan/internal/registry"
	"lanscan/internal/scan"
	"lanscan/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	return newApp(os.Stdout, os.Stderr).execute(ctx, args)
}

// app carries what the commands share: output streams, loaded configuration
// and hooks that tests use to replace network access.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath   string
	logLevel     string
	registryPath string

	cfg *config.Config

	engineOptions []scan.Option
	tableHook     func(*scan.Table)
	browseHook    func(*discovery.Browser)
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr}
}

func (a *app) execute(ctx context.Context, args []string) error {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lanscan",
		Short: "Local network discovery and service classification",
		Long: `Lanscan sweeps the local /24 for hosts that answer ICMP echo, then probes
each live host for SSDP, mDNS and Android Debug Bridge services.

Custom scans classify arbitrary ports using the built-in port table, which can
be extended from the services section of the config file. Hosts found with a
debug bridge are remembered in a device registry.`,
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: lanscan.yaml in . or the user config dir)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (default: $"+logging.LogLevelEnvVar+")")
	root.PersistentFlags().StringVar(&a.registryPath, "registry", "", "device registry file (overrides registry_path)")

	root.AddCommand(
		a.scanCmd(),
		a.devicesCmd(),
		a.browseCmd(),
		a.configCmd(),
		a.versionCmd(),
	)
	return root
}

// setup loads configuration and logging before any command runs. Logging is
// first configured from --log-level or the environment so config loading can
// report where it read from; a log_level from the file applies afterwards.
func (a *app) setup(cmd *cobra.Command) error {
	if err := logging.Initialize(a.logLevel); err != nil {
		return err
	}
	skipConfig := map[string]bool{
		"init":    true,
		"help":    true,
		"version": true,
	}
	if skipConfig[cmd.Name()] {
		return nil
	}

	cfg, err := config.Load(a.configPath, logging.Named("config"))
	if err != nil {
		return err
	}
	if a.registryPath != "" {
		cfg.RegistryPath = a.registryPath
	}
	a.cfg = cfg

	if a.logLevel == "" && cfg.LogLevel != "" {
		if err := logging.Initialize(cfg.LogLevel); err != nil {
			return err
		}
	}
	logging.Debug("Configuration ready",
		zap.String("command", cmd.CommandPath()),
		zap.String("registry", cfg.RegistryPath),
		zap.Int("concurrency", cfg.Scan.Concurrency),
	)
	return nil
}

func (a *app) engine() (*scan.Engine, error) {
	table, err := a.cfg.Table()
	if err != nil {
		return nil, err
	}
	if a.tableHook != nil {
		a.tableHook(table)
	}
	logger := logging.Named("scan")
	opts := append([]scan.Option{
		scan.WithLogger(logger),
		scan.WithObserver(phaseLogger(logger)),
	}, a.engineOptions...)
	return scan.NewEngine(a.cfg.EngineOptions(), table, opts...), nil
}

// phaseLogger reports each scan phase transition at debug level.
func phaseLogger(logger *zap.Logger) func(scan.Progress) {
	return func(p scan.Progress) {
		logger.Debug("Scan phase",
			zap.Stringer("phase", p.Phase),
			zap.Int("targets", p.Targets),
			zap.Int("live", p.Live),
		)
	}
}

func (a *app) registry() *registry.Store {
	return registry.NewStore(a.cfg.RegistryPath, logging.Named("registry"))
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(a.stdout, "lanscan %s\n", version.Full())
			return err
		},
	}
}
