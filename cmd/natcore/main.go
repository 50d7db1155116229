package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
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
	Use:   "natcore",
	Short: "natcore - NAT traversal core for peer-to-peer networking",
	Long: `natcore implements NAT behavior discovery, AutoNATv2 reachability
verification, DCUtR hole punching, and multistream-select protocol
negotiation: the core pieces a libp2p-equivalent stack needs to get two
peers behind arbitrary NATs onto a direct, authenticated connection.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"natcore version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}
