package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/cuemby/dnsrest/pkg/api"
	"github.com/cuemby/dnsrest/pkg/config"
	"github.com/cuemby/dnsrest/pkg/dns"
	"github.com/cuemby/dnsrest/pkg/events"
	"github.com/cuemby/dnsrest/pkg/log"
	"github.com/cuemby/dnsrest/pkg/metrics"
	"github.com/cuemby/dnsrest/pkg/monitor"
	"github.com/cuemby/dnsrest/pkg/registry"
	"github.com/cuemby/dnsrest/pkg/runtime"
	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the DNS responder and admin API",
	Long: `Run the DNS responder, the admin API and the containerd monitor.

Settings come from built-in defaults, then the --config file, then any flag
given explicitly on the command line.

Examples:
  # Serve on the default ports, forwarding unknown names to 8.8.8.8
  dnsrest serve --upstream 8.8.8.8

  # Unprivileged ports, no containerd
  dnsrest serve --dns-addr 127.0.0.1:5353 --http-addr 127.0.0.1:8053 --no-monitor`,
	RunE: runServe,
}

func init() {
	defaults := config.Default()

	serveCmd.Flags().String("config", "", "YAML configuration file")
	serveCmd.Flags().String("dns-addr", defaults.DNSAddr, "DNS listen address (UDP)")
	serveCmd.Flags().String("http-addr", defaults.HTTPAddr, "Admin API listen address")
	serveCmd.Flags().StringSlice("upstream", nil, "Upstream DNS server for unknown names (repeatable)")
	serveCmd.Flags().Uint32("ttl", defaults.TTL, "TTL of answer records in seconds")
	serveCmd.Flags().Duration("upstream-cache-ttl", 0, "Cache upstream answers for this long (0 disables)")
	serveCmd.Flags().String("containerd-socket", defaults.Containerd.Socket, "containerd socket path")
	serveCmd.Flags().String("containerd-namespace", defaults.Containerd.Namespace, "containerd namespace to watch")
	serveCmd.Flags().String("name-label", defaults.Containerd.NameLabel, "Container label holding the container name")
	serveCmd.Flags().String("address-label", defaults.Containerd.AddressLabel, "Container label holding the container address")
	serveCmd.Flags().Bool("no-monitor", false, "Do not watch containerd for container lifecycle events")
	serveCmd.Flags().String("log-level", defaults.Log.Level, "Log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New()
	cfg.Apply(reg)

	critical := []string{metrics.ComponentDNS, metrics.ComponentAPI}
	health := metrics.NewHealthChecker(Version, critical...)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	dnsConfig := &dns.Config{ListenAddr: cfg.DNSAddr, TTL: cfg.TTL}
	if len(cfg.Upstream) > 0 {
		dnsConfig.Upstream = dns.NewUpstream(cfg.Upstream, dns.DefaultUpstreamTimeout, cfg.UpstreamCacheTTL)
	}
	dnsServer := dns.NewServer(reg, dnsConfig)
	apiServer := api.NewServer(reg, &api.Config{
		ListenAddr: cfg.HTTPAddr,
		Broker:     broker,
		Health:     health,
	})

	// Bind both sockets up front so a bad address fails the command instead
	// of looping in the supervisor
	if err := dnsServer.Listen(); err != nil {
		return err
	}
	if err := apiServer.Listen(); err != nil {
		return err
	}

	supervisor := suture.New("dnsrest", suture.Spec{
		EventHook: func(ev suture.Event) {
			log.Logger.Warn().
				Str("component", "supervisor").
				Str("event", ev.String()).
				Msg("supervisor event")
		},
	})
	supervisor.Add(&dnsService{server: dnsServer, health: health})
	supervisor.Add(apiServer)
	supervisor.Add(metrics.NewCollector(reg, 0))

	if !cfg.NoMonitor {
		source, err := runtime.NewContainerdSource(&runtime.Config{
			SocketPath:   cfg.Containerd.Socket,
			Namespace:    cfg.Containerd.Namespace,
			NameLabel:    cfg.Containerd.NameLabel,
			AddressLabel: cfg.Containerd.AddressLabel,
		})
		if err != nil {
			return fmt.Errorf("%w (use --no-monitor to run without containerd)", err)
		}
		defer source.Close()

		supervisor.Add(monitor.NewMonitor(source, reg, &monitor.Config{
			Broker: broker,
			Health: health,
		}))
	}

	log.Logger.Info().
		Str("version", Version).
		Str("dns_addr", dnsServer.Addr().String()).
		Str("http_addr", apiServer.Addr().String()).
		Strs("upstream", cfg.Upstream).
		Bool("monitor", !cfg.NoMonitor).
		Msg("dnsrest started")

	err = supervisor.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor stopped: %w", err)
	}

	log.Logger.Info().Msg("dnsrest stopped")
	return nil
}

// loadServeConfig layers explicitly set flags over the config file
func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	cfg := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if flags.Changed("dns-addr") {
		cfg.DNSAddr, _ = flags.GetString("dns-addr")
	}
	if flags.Changed("http-addr") {
		cfg.HTTPAddr, _ = flags.GetString("http-addr")
	}
	if flags.Changed("upstream") {
		cfg.Upstream, _ = flags.GetStringSlice("upstream")
	}
	if flags.Changed("ttl") {
		cfg.TTL, _ = flags.GetUint32("ttl")
	}
	if flags.Changed("upstream-cache-ttl") {
		cfg.UpstreamCacheTTL, _ = flags.GetDuration("upstream-cache-ttl")
	}
	if flags.Changed("containerd-socket") {
		cfg.Containerd.Socket, _ = flags.GetString("containerd-socket")
	}
	if flags.Changed("containerd-namespace") {
		cfg.Containerd.Namespace, _ = flags.GetString("containerd-namespace")
	}
	if flags.Changed("name-label") {
		cfg.Containerd.NameLabel, _ = flags.GetString("name-label")
	}
	if flags.Changed("address-label") {
		cfg.Containerd.AddressLabel, _ = flags.GetString("address-label")
	}
	if flags.Changed("no-monitor") {
		cfg.NoMonitor, _ = flags.GetBool("no-monitor")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// dnsService reports DNS server health around Serve for the supervisor
type dnsService struct {
	server *dns.Server
	health *metrics.HealthChecker
}

func (s *dnsService) Serve(ctx context.Context) error {
	s.health.UpdateComponent(metrics.ComponentDNS, true, "")
	err := s.server.Serve(ctx)
	if err != nil {
		s.health.UpdateComponent(metrics.ComponentDNS, false, err.Error())
	}
	return err
}

func (s *dnsService) String() string {
	return "dns"
}
