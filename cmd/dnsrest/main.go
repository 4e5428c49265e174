package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dnsrest",
	Short: "dnsrest - DNS for containers, managed over REST",
	Long: `dnsrest answers DNS queries for container and static names.

Containers are mapped to domain names by name or id through the admin API.
While a mapped container runs, its address is served for every mapped name;
when it stops, the names disappear. Unknown names can be forwarded to an
upstream resolver.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"dnsrest version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("addr", "http://127.0.0.1:8053", "Admin API address used by client commands")
}
