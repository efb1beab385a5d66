package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lanscan/internal/logging"
	"lanscan/internal/report"
	"lanscan/internal/scan"
)

func (a *app) scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the local network",
		Long: `Scan the local /24 for live hosts and classify their services.

Examples:
  lanscan scan quick
  lanscan scan deep --json
  lanscan scan custom --ports 80,554,1883 --timeout 3
  lanscan scan custom --ports 5555 --hosts 192.168.1.10,192.168.1.22`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			_, err := scan.ParseMode(args[0])
			return err
		},
	}
	cmd.AddCommand(
		a.defaultScanCmd(scan.ModeQuick, "Probe live hosts for SSDP, mDNS and ADB"),
		a.defaultScanCmd(scan.ModeDeep, "Same probes as quick"),
		a.customScanCmd(),
	)
	return cmd
}

func (a *app) defaultScanCmd(mode scan.Mode, short string) *cobra.Command {
	var (
		asJSON bool
		save   bool
	)
	cmd := &cobra.Command{
		Use:   string(mode),
		Short: short,
		Long: short + `.

Each live host is printed on one tab separated line, with lowercase Go booleans:

  192.168.1.10	SSDP=false	mDNS=true	ADB=true

Use --json for {"address","ssdp","mdns","adb"} objects instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.engine()
			if err != nil {
				return err
			}
			results, err := engine.Scan(cmd.Context(), mode)
			if err != nil && len(results) == 0 {
				return fmt.Errorf("scan failed: %w", err)
			}
			if err != nil {
				logging.Warn("Scan interrupted, reporting partial results", zap.Error(err))
			}

			if asJSON {
				err = report.WriteResultsJSON(a.stdout, results)
			} else {
				err = report.WriteResults(a.stdout, results)
				if err == nil && len(results) == 0 {
					fmt.Fprintln(a.stderr, "No live hosts found.")
				}
			}
			if err != nil {
				return err
			}

			if !save {
				return nil
			}
			endpoints := scan.DebugBridgeEndpoints(results)
			if len(endpoints) == 0 {
				return nil
			}
			if err := a.registry().Save(cmd.Context(), endpoints); err != nil {
				return fmt.Errorf("failed to save ADB devices: %w", err)
			}
			logging.Info("Saved ADB devices", zap.Strings("endpoints", endpoints))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	cmd.Flags().BoolVar(&save, "save", true, "save discovered ADB devices to the registry")
	return cmd
}

func (a *app) customScanCmd() *cobra.Command {
	var (
		portsFlag string
		hostsFlag string
		timeout   float64
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "custom",
		Short: "Classify chosen ports on live or listed hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := scan.ParsePorts(portsFlag)
			if err != nil {
				return err
			}
			hosts, err := scan.ParseHosts(hostsFlag)
			if err != nil {
				return err
			}
			if timeout < 0 {
				return fmt.Errorf("%w: timeout must not be negative", scan.ErrInvalidArgument)
			}

			engine, err := a.engine()
			if err != nil {
				return err
			}
			perProbe := time.Duration(timeout * float64(time.Second))
			results, err := engine.CustomScan(cmd.Context(), hosts, ports, perProbe)
			if err != nil && len(results) == 0 {
				return fmt.Errorf("scan failed: %w", err)
			}
			if err != nil {
				logging.Warn("Scan interrupted, reporting partial results", zap.Error(err))
			}

			if asJSON {
				return report.WriteCustomJSON(a.stdout, results)
			}
			if len(results) == 0 {
				fmt.Fprintln(a.stderr, "No live hosts found.")
			}
			return report.WriteCustom(a.stdout, ports, engine.Table().Name, results)
		},
	}
	cmd.Flags().StringVar(&portsFlag, "ports", "", "comma separated ports to probe (required)")
	cmd.Flags().StringVar(&hostsFlag, "hosts", "", "comma separated IPv4 hosts (default: sweep the local /24)")
	cmd.Flags().Float64Var(&timeout, "timeout", 0, "per-probe timeout in seconds (default: per-port timeout)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	_ = cmd.MarkFlagRequired("ports")
	return cmd
}
