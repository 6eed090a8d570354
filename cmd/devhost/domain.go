package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/store"
)

func domainCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "domain",
		Aliases: []string{"d"},
		Short:   "Manage hostnames routed under the local TLD",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadRoutes(cmd.Context())
		},
	}
	cmd.AddCommand(
		domainCreateCmd(c),
		domainListCmd(c),
		domainSSLCmd(c),
		domainDeleteCmd(c),
	)
	return cmd
}

func domainCreateCmd(c *cli) *cobra.Command {
	var (
		instanceID string
		port       int
		static     string
		browse     bool
		ssl        bool
	)
	cmd := &cobra.Command{
		Use:   "create SUBDOMAIN",
		Short: "Route a subdomain to an instance, a port or a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target domain.DomainTarget
			switch {
			case instanceID != "":
				target = domain.DomainTarget{Type: domain.TargetInstance, InstanceID: instanceID}
			case port != 0:
				target = domain.DomainTarget{Type: domain.TargetPort, Port: port}
			case static != "":
				target = domain.DomainTarget{Type: domain.TargetStatic, Path: static, Browse: browse}
			default:
				return fmt.Errorf("one of --instance, --port or --static is required")
			}

			d, err := c.core.Orch.CreateDomain(cmd.Context(), store.NewDomain{
				Subdomain: args[0],
				SSL:       ssl,
				Target:    target,
			})
			if err != nil {
				return err
			}
			c.notify(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "created %s id=%s\n", d.Subdomain, d.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&instanceID, "instance", "", "target instance id")
	f.IntVar(&port, "port", 0, "target local port")
	f.StringVar(&static, "static", "", "directory served as static files")
	f.BoolVar(&browse, "browse", false, "enable directory listings for --static")
	f.BoolVar(&ssl, "ssl", false, "also serve over https")
	cmd.MarkFlagsMutuallyExclusive("instance", "port", "static")
	return cmd
}

func domainListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.core.Orch.ListDomains()
			if err != nil {
				return err
			}
			settings, err := c.core.Orch.Settings()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tHOST\tTARGET\tSSL\tSOURCE")
			for _, d := range list {
				fmt.Fprintf(tw, "%s\t%s.%s\t%s\t%t\t%s\n",
					d.ID, d.Subdomain, settings.TLD, describeTarget(d.Target), d.SSL, d.Source)
			}
			return tw.Flush()
		},
	}
}

func domainSSLCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ssl ID on|off",
		Short: "Toggle https for a domain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch args[1] {
			case "on":
				enabled = true
			case "off":
			default:
				return fmt.Errorf("expected on or off, got %q", args[1])
			}
			if _, err := c.core.Orch.SetDomainSSL(cmd.Context(), args[0], enabled); err != nil {
				return err
			}
			c.notify(cmd.Context())
			return nil
		},
	}
}

func domainDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Remove a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.core.Orch.DeleteDomain(cmd.Context(), args[0]); err != nil {
				return err
			}
			c.notify(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	}
}

func describeTarget(t domain.DomainTarget) string {
	switch t.Type {
	case domain.TargetInstance:
		return "instance " + t.InstanceID
	case domain.TargetPort:
		return "port " + strconv.Itoa(t.Port)
	case domain.TargetStatic:
		if t.Browse {
			return t.Path + " (browse)"
		}
		return t.Path
	}
	return string(t.Type)
}
