package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lanscan/internal/report"
	"lanscan/internal/scan"
)

func (a *app) devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Manage the ADB device registry",
	}
	cmd.AddCommand(a.devicesListCmd(), a.devicesAddCmd())
	return cmd
}

func (a *app) devicesListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved ADB endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoints, err := a.registry().Load()
			if err != nil {
				return err
			}
			if asJSON {
				if endpoints == nil {
					endpoints = []string{}
				}
				return report.WriteJSON(a.stdout, endpoints)
			}
			if len(endpoints) == 0 {
				fmt.Fprintln(a.stderr, "No ADB devices saved.")
				return nil
			}
			return report.WriteDevices(a.stdout, endpoints)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print endpoints as JSON")
	return cmd
}

func (a *app) devicesAddCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "add <ip>",
		Short: "Check one host for ADB and save it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts, err := scan.ParseHosts(args[0])
			if err != nil {
				return err
			}
			if len(hosts) != 1 {
				return fmt.Errorf("%w: expected one IPv4 address", scan.ErrInvalidArgument)
			}
			host := hosts[0]

			if !force {
				engine, err := a.engine()
				if err != nil {
					return err
				}
				if !engine.DebugBridgeActive(cmd.Context(), host) {
					return fmt.Errorf("no ADB service answering on %s", host)
				}
			}

			endpoint := scan.DebugBridgeEndpoint(host)
			added, err := a.registry().Add(cmd.Context(), endpoint)
			if err != nil {
				return fmt.Errorf("failed to save ADB device: %w", err)
			}
			if added {
				fmt.Fprintf(a.stdout, "Saved %s\n", endpoint)
			} else {
				fmt.Fprintf(a.stdout, "%s already saved\n", endpoint)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "save without probing the host")
	return cmd
}
