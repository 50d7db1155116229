package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/natcore/pkg/config"
	"github.com/cuemby/natcore/pkg/log"
	"github.com/cuemby/natcore/pkg/natdiscovery"
	"github.com/cuemby/natcore/pkg/storage"
)

var behaviorCmd = &cobra.Command{
	Use:   "behavior",
	Short: "Discover this node's NAT mapping and filtering behavior",
	Long: `behavior runs the mapping and filtering probes against a rendezvous
service (spec.md §4.2) and prints the classified NAT behavior. With
--watch it keeps a Tracker running, persisting history to a local BoltDB
file and printing every subsequent behavior change.

Examples:
  natcore behavior --primary 203.0.113.1:3478 --alternate 203.0.113.2:3479
  natcore behavior --primary 203.0.113.1:3478 --alternate 203.0.113.2:3479 --watch`,
	RunE: runBehavior,
}

func init() {
	behaviorCmd.Flags().String("primary", "", "primary rendezvous server address (host:port, required)")
	behaviorCmd.Flags().String("alternate", "", "alternate rendezvous server address (host:port, required)")
	behaviorCmd.Flags().Bool("watch", false, "keep a Tracker running and print every behavior change")
	behaviorCmd.Flags().String("data-dir", "./data", "directory for the persisted behavior history")
	_ = behaviorCmd.MarkFlagRequired("primary")
	_ = behaviorCmd.MarkFlagRequired("alternate")

	rootCmd.AddCommand(behaviorCmd)
}

func runBehavior(cmd *cobra.Command, args []string) error {
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: false})

	primaryFlag, _ := cmd.Flags().GetString("primary")
	alternateFlag, _ := cmd.Flags().GetString("alternate")
	watch, _ := cmd.Flags().GetBool("watch")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	primary, err := resolveEndpoint(primaryFlag)
	if err != nil {
		return fmt.Errorf("--primary: %w", err)
	}
	alternate, err := resolveEndpoint(alternateFlag)
	if err != nil {
		return fmt.Errorf("--alternate: %w", err)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir

	client := natdiscovery.UDPProbeClient{Timeout: cfg.NATDiscovery.ProbeTimeout}
	servers := natdiscovery.Servers{Primary: primary, Alternate: alternate}
	discover := natdiscovery.NewRecordDiscoverer(client, servers)

	if !watch {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		record, err := discover(ctx)
		if err != nil {
			return fmt.Errorf("behavior discovery: %w", err)
		}
		printRecord(record)
		return nil
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	tracker := natdiscovery.NewTracker(discover, store, natdiscovery.Config{
		CheckInterval:  cfg.NATDiscovery.CheckInterval,
		MaxHistorySize: cfg.NATDiscovery.MaxHistorySize,
	})

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	changes := tracker.Subscribe()
	go tracker.Start(ctx)

	fmt.Println("watching for NAT behavior changes, press ctrl-c to stop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case record := <-changes:
			printRecord(record)
		}
	}
}

func resolveEndpoint(hostport string) (natdiscovery.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return natdiscovery.Endpoint{}, err
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return natdiscovery.Endpoint{}, err
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return natdiscovery.Endpoint{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return natdiscovery.Endpoint{IP: ips[0], Port: port}, nil
}

func printRecord(record natdiscovery.Record) {
	strategy := natdiscovery.SelectStrategy(record)
	fmt.Printf("mapping=%s filtering=%s -> strategy=%s (observed %s)\n",
		record.Mapping, record.Filtering, strategy, record.ObservedAt.Format(time.RFC3339))
}
