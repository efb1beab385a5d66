package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lanscan/internal/config"
)

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(a.configInitCmd(), a.configPortsCmd())
	return cmd
}

func (a *app) configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "lanscan.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists at %s. Use --force to overwrite", path)
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Created %s with default configuration\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func (a *app) configPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List the port table used by custom scans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := a.cfg.Table()
			if err != nil {
				return err
			}
			for _, port := range table.Ports() {
				spec, _ := table.Lookup(port)
				fmt.Fprintf(a.stdout, "%d\t%s\t%s\t%s\n", port, spec.Name, spec.Family, spec.Timeout)
			}
			return nil
		},
	}
}
