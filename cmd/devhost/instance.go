package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/orchestrator"
	"github.com/MrSnakeDoc/devhost/internal/store"
)

func instanceCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instance",
		Aliases: []string{"i"},
		Short:   "Manage service instances",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadRoutes(cmd.Context())
		},
	}
	cmd.AddCommand(
		instanceCreateCmd(c),
		instanceListCmd(c),
		instanceStatusCmd(c),
		instanceStartCmd(c),
		instanceStopCmd(c),
		instanceRestartCmd(c),
		instanceDeleteCmd(c),
	)
	return cmd
}

func instanceCreateCmd(c *cli) *cobra.Command {
	var in store.NewInstance
	var service, config string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Register a new instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			in.ServiceType = domain.ServiceType(service)
			if config != "" {
				if !json.Valid([]byte(config)) {
					return fmt.Errorf("--config is not valid JSON")
				}
				in.Config = json.RawMessage(config)
			}
			inst, err := c.core.Orch.CreateInstance(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s %s on port %d) id=%s\n",
				inst.Name, inst.ServiceType, inst.Version, inst.Port, inst.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&service, "service", "s", "", "service type (php, mariadb, postgresql, redis, ...)")
	f.StringVarP(&in.Version, "version", "v", "", "installed version to run")
	f.IntVarP(&in.Port, "port", "p", 0, "listening port (default: the service's usual port)")
	f.StringVar(&in.Domain, "domain", "", "custom subdomain slug")
	f.StringVar(&in.AdminKey, "admin-key", "", "admin or master key passed to the service")
	f.StringVar(&in.StackID, "stack", "", "parent stack id")
	f.StringVar(&config, "config", "", "service-specific JSON config")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func instanceListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List instances with their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.core.Orch.ListInstances(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSERVICE\tVERSION\tPORT\tSTATE\tHEALTHY\tURL\tCREATED")
			for _, st := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%t\t%s\t%s\n",
					st.Instance.ID, st.Instance.Name, st.Instance.ServiceType, st.Instance.Version,
					st.Instance.Port, st.Status.State, st.Healthy, st.URL, ago(st.Instance.CreatedAt))
			}
			return tw.Flush()
		},
	}
}

func instanceStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status ID",
		Short: "Show one instance as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.core.Orch.InstanceStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
}

func instanceStartCmd(c *cli) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "start ID",
		Short: "Start an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.core.Orch.StartInstance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			c.notify(cmd.Context())
			printStarted(cmd, st)
			if wait > 0 {
				return c.core.Orch.WaitHealthy(cmd.Context(), args[0], wait)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait this long for the service to answer health checks")
	return cmd
}

func instanceStopCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stop ID",
		Short: "Stop an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.core.Orch.StopInstance(cmd.Context(), args[0]); err != nil {
				return err
			}
			c.notify(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "stopped")
			return nil
		},
	}
}

func instanceRestartCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "restart ID",
		Short: "Stop then start an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.core.Orch.RestartInstance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			c.notify(cmd.Context())
			printStarted(cmd, st)
			return nil
		},
	}
}

func instanceDeleteCmd(c *cli) *cobra.Command {
	var keepData bool
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Stop and remove an instance with its domains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := c.core.Orch.DeleteInstance(cmd.Context(), args[0], keepData)
			c.notify(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepData, "keep-data", false, "keep the instance data directory")
	return cmd
}

func printStarted(cmd *cobra.Command, st *orchestrator.InstanceStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s running (pid %d)\n", st.Instance.Name, st.Status.PID)
	if st.URL != "" {
		fmt.Fprintln(out, st.URL)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
