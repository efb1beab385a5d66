package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lanscan/internal/discovery"
	"lanscan/internal/logging"
	"lanscan/internal/report"
	"lanscan/internal/scan"
)

func (a *app) browseCmd() *cobra.Command {
	var (
		services []string
		timeout  time.Duration
		asJSON   bool
		save     bool
	)
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "List DNS-SD service announcements",
		Long: `Listen for multicast DNS service announcements and list each instance.

By default the service types from the browse section of the config are used.
With --save, hosts announcing wireless debugging (_adb*) that also answer ADB
on port 5555 are added to the device registry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(services) == 0 {
				services = a.cfg.Browse.Services
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = a.cfg.Browse.Timeout
			}

			browser := discovery.NewBrowser(services, timeout, logging.Named("discovery"))
			if a.browseHook != nil {
				a.browseHook(browser)
			}
			anns, err := browser.Browse(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				if anns == nil {
					anns = []discovery.Announcement{}
				}
				err = report.WriteJSON(a.stdout, anns)
			} else if len(anns) == 0 {
				fmt.Fprintln(a.stderr, "No announcements received.")
			} else {
				err = report.WriteAnnouncements(a.stdout, anns)
			}
			if err != nil || !save {
				return err
			}
			return a.saveAnnouncedBridges(cmd.Context(), anns)
		},
	}
	cmd.Flags().StringSliceVar(&services, "service", nil, "service type to browse, repeatable (e.g. _googlecast._tcp)")
	cmd.Flags().DurationVar(&timeout, "timeout", discovery.DefaultBrowseTimeout, "how long to listen")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print announcements as JSON")
	cmd.Flags().BoolVar(&save, "save", false, "save announced debug bridges that answer on 5555 to the registry")
	return cmd
}

// saveAnnouncedBridges registers hosts that announce wireless debugging and
// accept a debug bridge connection on the standard port.
func (a *app) saveAnnouncedBridges(ctx context.Context, anns []discovery.Announcement) error {
	hosts := discovery.DebugBridgeHosts(anns)
	if len(hosts) == 0 {
		return nil
	}
	engine, err := a.engine()
	if err != nil {
		return err
	}
	store := a.registry()
	for _, host := range hosts {
		if !engine.DebugBridgeActive(ctx, host) {
			logging.Info("Announced host has no ADB on the standard port", zap.String("host", host))
			continue
		}
		endpoint := scan.DebugBridgeEndpoint(host)
		added, err := store.Add(ctx, endpoint)
		if err != nil {
			return fmt.Errorf("failed to save ADB device: %w", err)
		}
		if added {
			fmt.Fprintf(a.stderr, "Saved %s\n", endpoint)
		}
	}
	return nil
}
