package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/dnsrest/pkg/client"
	"github.com/cuemby/dnsrest/pkg/events"
	"github.com/spf13/cobra"
)

// Mapping commands
var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Manage container to domain mappings",
}

var mappingGetCmd = &cobra.Command{
	Use:   "get <name|id> <arg>",
	Short: "Show the domains mapped to a container",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		domains, err := c.GetMapping(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		printList(domains)
		return nil
	},
}

var mappingPutCmd = &cobra.Command{
	Use:   "put <name|id> <arg> <domain>...",
	Short: "Map a container to one or more domains",
	Long: `Map a container, by name or id, to one or more domains. The new list
replaces any previous mapping for the same container.

Examples:
  dnsrest mapping put name web app.example.com www.example.com
  dnsrest mapping put id 3f2a9c "*.api.example.com"`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		if err := c.PutMapping(ctx, args[0], args[1], args[2:]); err != nil {
			return err
		}
		fmt.Printf("✓ Mapped %s %s to %s\n", args[0], args[1], strings.Join(args[2:], ", "))
		return nil
	},
}

var mappingDeleteCmd = &cobra.Command{
	Use:   "delete <name|id> <arg>",
	Short: "Remove a container mapping",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		if err := c.DeleteMapping(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("✓ Removed mapping for %s %s\n", args[0], args[1])
		return nil
	},
}

// Static domain commands
var staticCmd = &cobra.Command{
	Use:   "static",
	Short: "Manage static domain addresses",
}

var staticGetCmd = &cobra.Command{
	Use:   "get <domain>",
	Short: "Show the static addresses of a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		ips, err := c.GetStatic(ctx, args[0])
		if err != nil {
			return err
		}
		printList(ips)
		return nil
	},
}

var staticPutCmd = &cobra.Command{
	Use:   "put <domain> <ip>...",
	Short: "Add static addresses to a domain",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		if err := c.PutStatic(ctx, args[0], args[1:]); err != nil {
			return err
		}
		fmt.Printf("✓ Added %s to %s\n", strings.Join(args[1:], ", "), args[0])
		return nil
	},
}

var staticDeleteCmd = &cobra.Command{
	Use:   "delete <domain>",
	Short: "Remove every static address of a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		if err := c.DeleteStatic(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Removed static addresses of %s\n", args[0])
		return nil
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the domain tree for debugging",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		data, err := c.Dump(ctx)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		fmt.Println()
		return err
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream container lifecycle events as they are applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		enc := json.NewEncoder(os.Stdout)
		return client.NewClient(addr).Watch(ctx, func(e *events.Event) {
			if asJSON {
				_ = enc.Encode(e)
				return
			}
			fmt.Printf("%s  %-16s %s  %s\n",
				e.Timestamp.Format(time.RFC3339), e.Type, e.Container.String(), e.Container.Addr)
		})
	},
}

func init() {
	eventsCmd.Flags().Bool("json", false, "Print events as JSON lines")

	mappingCmd.AddCommand(mappingGetCmd, mappingPutCmd, mappingDeleteCmd)
	staticCmd.AddCommand(staticGetCmd, staticPutCmd, staticDeleteCmd)
	rootCmd.AddCommand(mappingCmd, staticCmd, dumpCmd, eventsCmd)
}

func newClient(cmd *cobra.Command) (*client.Client, context.Context, context.CancelFunc) {
	addr, _ := cmd.Flags().GetString("addr")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	return client.NewClient(addr), ctx, cancel
}

func printList(items []string) {
	if len(items) == 0 {
		fmt.Println("(none)")
		return
	}
	for _, item := range items {
		fmt.Println(item)
	}
}
