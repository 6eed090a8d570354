package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/devhost/internal/binaries"
)

func binaryCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "binary",
		Aliases: []string{"bin"},
		Short:   "Install and remove service versions",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}
	cmd.AddCommand(
		binaryInstallCmd(c),
		binaryListCmd(c),
		binaryAvailableCmd(c),
		binaryDeleteCmd(c),
	)
	return cmd
}

func binaryInstallCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "install SERVICE VERSION",
		Short: "Download and install a version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.ErrOrStderr()
			last := ""
			progress := func(p binaries.Progress) {
				if p.Phase != binaries.PhaseDownloading {
					if p.Phase != last {
						fmt.Fprintf(out, "%s...\n", p.Phase)
					}
					last = p.Phase
					return
				}
				last = p.Phase
				if p.Total > 0 {
					fmt.Fprintf(out, "\r%s / %s (%.0f%%)",
						humanize.Bytes(uint64(p.Downloaded)), humanize.Bytes(uint64(p.Total)), p.Percentage)
				} else {
					fmt.Fprintf(out, "\r%s", humanize.Bytes(uint64(p.Downloaded)))
				}
			}

			info, err := c.core.Orch.InstallBinary(cmd.Context(), args[0], args[1], progress)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "installed %s %s at %s\n", args[0], info.Version, info.Path)
			return nil
		},
	}
}

func binaryListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list SERVICE",
		Short: "List installed versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			versions, err := c.core.Orch.InstalledVersions(args[0])
			if err != nil {
				return err
			}
			for _, v := range versions {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
}

func binaryAvailableCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "available SERVICE",
		Short: "List versions that can be installed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.core.Orch.AvailableVersions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tLATEST\tINSTALLED\tLABEL")
			for _, v := range list {
				fmt.Fprintf(tw, "%s\t%t\t%t\t%s\n", v.Version, v.IsLatest, v.Installed, v.Label)
			}
			return tw.Flush()
		},
	}
}

func binaryDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete SERVICE VERSION",
		Short: "Remove an installed version no instance uses",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.core.Orch.DeleteBinary(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	}
}
