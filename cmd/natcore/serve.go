package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/natcore/pkg/config"
	"github.com/cuemby/natcore/pkg/log"
	"github.com/cuemby/natcore/pkg/metrics"
	"github.com/cuemby/natcore/pkg/natdiscovery"
	"github.com/cuemby/natcore/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a long-lived NAT behavior tracker with a metrics endpoint",
	Long: `serve keeps a natdiscovery.Tracker running against a rendezvous
service, persisting behavior history through a BoltDB store and exposing
the Prometheus metrics the rest of the core records (autonatv2 request
counts, dcutr attempt outcomes, nat behavior changes) over HTTP, alongside
/healthz, /readyz, and /livez endpoints reporting the storage and
natdiscovery component status.

Example:
  natcore serve --primary 203.0.113.1:3478 --alternate 203.0.113.2:3479 --metrics-addr :9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("primary", "", "primary rendezvous server address (host:port, required)")
	serveCmd.Flags().String("alternate", "", "alternate rendezvous server address (host:port, required)")
	serveCmd.Flags().String("data-dir", "./data", "directory for the persisted behavior history")
	serveCmd.Flags().String("metrics-addr", ":9090", "address to serve /metrics on")
	_ = serveCmd.MarkFlagRequired("primary")
	_ = serveCmd.MarkFlagRequired("alternate")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	metrics.SetVersion(Version)

	primaryFlag, _ := cmd.Flags().GetString("primary")
	alternateFlag, _ := cmd.Flags().GetString("alternate")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

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

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		metrics.RegisterComponent("storage", false, err.Error())
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("storage", true, "")
	metrics.RegisterComponent("natdiscovery", false, "awaiting first discovery cycle")

	client := natdiscovery.UDPProbeClient{Timeout: cfg.NATDiscovery.ProbeTimeout}
	servers := natdiscovery.Servers{Primary: primary, Alternate: alternate}
	discover := natdiscovery.NewRecordDiscoverer(client, servers)

	tracker := natdiscovery.NewTracker(discover, store, natdiscovery.Config{
		CheckInterval:  cfg.NATDiscovery.CheckInterval,
		MaxHistorySize: cfg.NATDiscovery.MaxHistorySize,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.HealthHandler())
	mux.Handle("/readyz", metrics.ReadyHandler())
	mux.Handle("/livez", metrics.LivenessHandler())
	metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		log.WithComponent("serve").Info().Str("addr", metricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithComponent("serve").Error().Err(err).Msg("metrics server stopped")
		}
	}()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	changes := tracker.Subscribe()
	go func() {
		var previous natdiscovery.Record
		for record := range changes {
			if record.Mapping != previous.Mapping {
				metrics.NATBehaviorChangesTotal.WithLabelValues("mapping").Inc()
			}
			if record.Filtering != previous.Filtering {
				metrics.NATBehaviorChangesTotal.WithLabelValues("filtering").Inc()
			}
			metrics.NATBehaviorCurrent.WithLabelValues(string(previous.Mapping), string(previous.Filtering)).Set(0)
			metrics.NATBehaviorCurrent.WithLabelValues(string(record.Mapping), string(record.Filtering)).Set(1)
			previous = record
			metrics.UpdateComponent("natdiscovery", true, string(record.Mapping))
			log.WithComponent("serve").Info().
				Str("mapping", string(record.Mapping)).
				Str("filtering", string(record.Filtering)).
				Msg("nat behavior changed")
		}
	}()

	tracker.Start(ctx)
	_ = metricsServer.Close()
	return nil
}
