package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dnsvigil/dnsvigil/internal/config"
	"github.com/dnsvigil/dnsvigil/internal/logging"
	"github.com/dnsvigil/dnsvigil/internal/monitor"
	"github.com/dnsvigil/dnsvigil/internal/notify"
	"github.com/dnsvigil/dnsvigil/internal/resolver"
	"github.com/dnsvigil/dnsvigil/internal/state"
	"github.com/dnsvigil/dnsvigil/internal/store"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "dnsvigil",
	Short:   "dnsvigil - DNS change monitoring with intelligent analysis",
	Long:    `dnsvigil watches the A records and SOA serials of a set of domains and raises dampened, analyzed notifications when they change`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dnsvigil %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <domain>",
	Short: "Resolve a domain once and print the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(domainsCmd)
	rootCmd.AddCommand(dampeningCmd)
	rootCmd.AddCommand(statusCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring loop",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	cfg := config.Load()
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel})

	log.Info().Str("version", Version).Msg("Starting dnsvigil")

	st := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer st.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := st.Ping(pingCtx); err != nil {
		pingCancel()
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis is unreachable")
	}
	pingCancel()

	repo := state.NewRepo(st)
	res := resolver.New(resolver.WithEndpoint(cfg.ResolverEndpoint))

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.WebhookURL)
		log.Info().Msg("Webhook notifier enabled")
	} else {
		log.Warn().Msg("No webhook configured, notifications go to the log only")
	}

	reg := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(reg)
	observer := monitor.NewObserver(repo, res, notifier, metrics)

	domains := config.NewDomainSource(cfg.Domains, cfg.DomainsFile)
	if err := domains.Watch(); err != nil {
		log.Warn().Err(err).Msg("Domains file watcher unavailable, edits require a restart")
	}
	defer domains.Stop()

	scheduler := monitor.NewScheduler(repo, observer, notifier, metrics,
		domains.Domains, cfg.DeploymentID, cfg.Concurrency)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := startHTTPServer(cfg.ListenAddr, reg, st)

	go runLoop(ctx, scheduler, cfg.CheckInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Stopped")
}

func runLoop(ctx context.Context, scheduler *monitor.Scheduler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := scheduler.Tick(ctx); err != nil {
		log.Error().Err(err).Msg("Tick failed")
	}
	for {
		select {
		case <-ticker.C:
			if err := scheduler.Tick(ctx); err != nil {
				log.Error().Err(err).Msg("Tick failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func startHTTPServer(addr string, reg *prometheus.Registry, st store.Store) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")
		if err := st.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": Version})
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("Metrics and health listener started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP listener")
		}
	}()
	return srv
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: "warn"})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res := resolver.New(resolver.WithEndpoint(cfg.ResolverEndpoint))
	result, err := res.Resolve(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Domain:  %s\n", args[0])
	fmt.Printf("Status:  %d\n", result.Status)
	if result.NoAuthority {
		fmt.Println("Warning: no reachable authority")
	}
	for _, rec := range result.ARecords {
		fmt.Printf("A:       %s (ttl %ds)\n", rec.IP, rec.TTL)
	}
	if result.SOA != nil {
		fmt.Printf("SOA:     %s serial=%s admin=%s\n",
			result.SOA.PrimaryNS, result.SOA.Serial, result.SOA.AdminEmail)
	}

	// Show stored monitoring state when Redis is available.
	st := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer st.Close()
	if err := st.Ping(ctx); err == nil {
		repo := state.NewRepo(st)
		ms, err := repo.MonitoredState(ctx, args[0])
		if err == nil && ms.State != state.StateUnseen {
			fmt.Printf("Stored:  state=%s ips=%s serial=%s\n",
				ms.State, state.Signature(ms.LastIPs), ms.LastSerial)
		}
	}
	return nil
}
