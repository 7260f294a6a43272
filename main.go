// AirGuard — WiFi jamming & deauth detection monitor (relay or node).
// Author: vesaa | License: MIT | https://github.com/vesaa/airguard
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/spf13/cobra"
	"github.com/vesaa/airguard/internal/agent"
	"github.com/vesaa/airguard/internal/collector"
	"github.com/vesaa/airguard/internal/config"
	"github.com/vesaa/airguard/internal/scheduler"
	"github.com/vesaa/airguard/internal/server"
	"github.com/vesaa/airguard/internal/store"
)

const asciiLogo = `
  █████╗ ██╗██████╗  ██████╗ ██╗   ██╗ █████╗ ██████╗ ██████╗
 ██╔══██╗██║██╔══██╗██╔════╝ ██║   ██║██╔══██╗██╔══██╗██╔══██╗
 ███████║██║██████╔╝██║  ███╗██║   ██║███████║██████╔╝██║  ██║
 ██╔══██║██║██╔══██╗██║   ██║██║   ██║██╔══██║██╔══██╗██║  ██║
 ██║  ██║██║██║  ██║╚██████╔╝╚██████╔╝██║  ██║██║  ██║██████╔╝
 ╚═╝  ╚═╝╚═╝╚═╝  ╚═╝ ╚═════╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═════╝
`

const version = "v0.1.0"

func printBanner(mode string) {
	fmt.Print(asciiLogo + "\n")
	fmt.Printf("  ► AirGuard %s  |  Author: vesaa  |  Mode: %s\n\n", version, mode)
}

// detailedOS returns a descriptive OS string, or runtime.GOOS as fallback.
func detailedOS() string {
	info, err := host.Info()
	if err == nil && info.Platform != "" {
		if info.PlatformVersion != "" {
			return fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
		}
		return info.Platform
	}
	return runtime.GOOS
}

// buildCollector returns the local Wi-Fi collector, or nil when acquisition
// is disabled in config.
func buildCollector(cfg *config.Config) collector.Collector {
	if !cfg.WifiEnabled {
		return nil
	}
	return collector.NewLocalWiFi(cfg)
}

func main() {
	root := &cobra.Command{
		Use:   "airguard",
		Short: "AirGuard — WiFi jamming & deauth detection monitor",
		Long: `AirGuard ingests periodic radio-environment measurements from one or more
sensing nodes, stores them centrally on a relay, and flags deauth bursts and
RF jamming for operator review.`,
		SilenceUsage: true,
	}

	// ── relay subcommand ──────────────────────────────────────────────────────
	relayCmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the relay: durable store, ingestion API, local collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("RELAY")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cfg.Role = string(config.RoleRelay)
			applyRelayFlags(cmd, cfg)

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("initializing storage: %w", err)
			}

			sched := scheduler.New(cfg, buildCollector(cfg), st, nil)
			sched.Start()
			defer sched.Stop()

			gin.SetMode(gin.ReleaseMode)
			engine := gin.New()
			engine.Use(gin.Recovery())
			server.New(cfg, st).Register(engine)

			addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
			fmt.Printf("  ✓ Ingestion + operator API → http://%s\n", addr)
			if cfg.RelayAPIKey == "" {
				fmt.Printf("  ✓ Ingest auth: open mode (any non-empty API key)\n\n")
			} else {
				fmt.Printf("  ✓ Ingest auth: fixed API key\n\n")
			}

			srv := &http.Server{Addr: addr, Handler: engine}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt)

			select {
			case err := <-errCh:
				return err
			case <-quit:
				fmt.Println("\n  → Shutting down gracefully…")
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
				return nil
			}
		},
	}
	relayCmd.Flags().String("host", "", "Listen address (overrides config)")
	relayCmd.Flags().Int("port", 0, "Listen port (overrides config)")
	relayCmd.Flags().String("db", "", "SQLite database path (overrides config)")

	// ── node subcommand ───────────────────────────────────────────────────────
	nodeCmd := &cobra.Command{
		Use:   "node",
		Short: "Run a sensing node: collect locally, push to a relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("NODE")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cfg.Role = string(config.RoleNode)
			applyNodeFlags(cmd, cfg)

			if cfg.RelayURL == "" || cfg.RelayAPIKey == "" {
				return fmt.Errorf("node role requires relay_url and relay_api_key (or --relay / --key)")
			}

			// Nodes keep a local store too: channel sweeps are stored here
			// even when the push to the relay fails.
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("initializing storage: %w", err)
			}

			client := agent.NewClient(cfg)
			if mirrored, err := client.FetchConfig(); err != nil {
				fmt.Printf("  ! Could not fetch relay config: %v\n", err)
			} else if len(mirrored) > 0 {
				fmt.Printf("  ✓ Relay config mirrored\n")
			}
			fmt.Printf("  ✓ Pushing to relay: %s\n\n", cfg.RelayURL)

			sched := scheduler.New(cfg, buildCollector(cfg), st, client)
			sched.Start()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt)
			<-quit

			fmt.Println("\n  → Shutting down gracefully…")
			sched.Stop()
			return nil
		},
	}
	nodeCmd.Flags().String("relay", "", "Relay base URL, e.g. http://192.168.1.10:8051 (overrides config)")
	nodeCmd.Flags().String("key", "", "API key for relay authentication (overrides config)")
	nodeCmd.Flags().String("name", "", "Node display name (overrides config)")
	nodeCmd.Flags().Float64("latitude", 0, "Node latitude for the relay map")
	nodeCmd.Flags().Float64("longitude", 0, "Node longitude for the relay map")

	// ── once subcommand ───────────────────────────────────────────────────────
	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run exactly one collection cycle, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("ONCE")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("initializing storage: %w", err)
			}

			var client *agent.Client
			if cfg.IsNode() {
				client = agent.NewClient(cfg)
			}
			scheduler.New(cfg, buildCollector(cfg), st, client).RunOnce()
			return nil
		},
	}

	// ── version subcommand ────────────────────────────────────────────────────
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print AirGuard version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("AirGuard %s  |  Author: vesaa  |  OS: %s\n", version, detailedOS())
		},
	}

	root.AddCommand(relayCmd, nodeCmd, onceCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyRelayFlags lets CLI flags override config values.
func applyRelayFlags(cmd *cobra.Command, cfg *config.Config) {
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.ServerHost = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.ServerPort = port
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.DBPath = db
	}
}

func applyNodeFlags(cmd *cobra.Command, cfg *config.Config) {
	if relay, _ := cmd.Flags().GetString("relay"); relay != "" {
		cfg.RelayURL = relay
	}
	if key, _ := cmd.Flags().GetString("key"); key != "" {
		cfg.RelayAPIKey = key
	}
	if name, _ := cmd.Flags().GetString("name"); name != "" {
		cfg.NodeName = name
	}
	if cmd.Flags().Changed("latitude") {
		lat, _ := cmd.Flags().GetFloat64("latitude")
		cfg.NodeLatitude = &lat
	}
	if cmd.Flags().Changed("longitude") {
		lon, _ := cmd.Flags().GetFloat64("longitude")
		cfg.NodeLongitude = &lon
	}
}
