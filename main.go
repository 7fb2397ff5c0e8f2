// NetGaze — host reachability, latency and resource monitor with alerting.
// Author: vesaa | License: MIT | https://github.com/vesaa/netgaze
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/vesaa/netgaze/internal/agent"
	"github.com/vesaa/netgaze/internal/config"
	"github.com/vesaa/netgaze/internal/live"
	"github.com/vesaa/netgaze/internal/monitor"
	"github.com/vesaa/netgaze/internal/notify"
	"github.com/vesaa/netgaze/internal/probe"
	"github.com/vesaa/netgaze/internal/server"
	"github.com/vesaa/netgaze/internal/store"
)

const asciiLogo = `
 ███╗   ██╗███████╗████████╗ ██████╗  █████╗ ███████╗███████╗
 ████╗  ██║██╔════╝╚══██╔══╝██╔════╝ ██╔══██╗╚══███╔╝██╔════╝
 ██╔██╗ ██║█████╗     ██║   ██║  ███╗███████║  ███╔╝ █████╗
 ██║╚██╗██║██╔══╝     ██║   ██║   ██║██╔══██║ ███╔╝  ██╔══╝
 ██║ ╚████║███████╗   ██║   ╚██████╔╝██║  ██║███████╗███████╗
 ╚═╝  ╚═══╝╚══════╝   ╚═╝    ╚═════╝ ╚═╝  ╚═╝╚══════╝╚══════╝
`

const version = "v0.1.0"

func printBanner(mode string) {
	fmt.Print(asciiLogo, "\n")
	fmt.Printf("  ► NetGaze %s  |  Author: vesaa  |  Mode: %s\n\n", version, mode)
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	root := &cobra.Command{
		Use:   "netgaze",
		Short: "NetGaze — host monitoring with live dashboard feed and Telegram alerts",
		Long: `NetGaze probes remote devices (ICMP echo or TCP connect), samples the local
host's CPU, RAM and disks, alerts on state changes and threshold breaches, and
streams live status to connected viewers.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")

	// ── server subcommand ─────────────────────────────────────────────────────
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the NetGaze monitor (control plane + data plane)",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("SERVER")
			debug, _ := cmd.Flags().GetBool("debug")
			log := newLogger(debug)

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runServer(cfg, log)
		},
	}

	// ── agent subcommand ──────────────────────────────────────────────────────
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Start a reporting agent on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("AGENT")
			debug, _ := cmd.Flags().GetBool("debug")
			log := newLogger(debug)

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			// CLI flags override config values.
			if join, _ := cmd.Flags().GetString("join"); join != "" {
				if !containsPort(join) {
					join = fmt.Sprintf("%s:%d", join, cfg.DataPort)
				}
				cfg.AgentJoinAddr = join
			}
			if token, _ := cmd.Flags().GetString("token"); token != "" {
				cfg.AgentOutboundToken = token
			}
			if name, _ := cmd.Flags().GetString("name"); name != "" {
				cfg.AgentName = name
			}
			return runAgent(cfg, log)
		},
	}
	agentCmd.Flags().String("join", "", "Data-plane address, e.g. 192.168.1.1 or 192.168.1.1:5050")
	agentCmd.Flags().String("token", "", "Pre-shared token for server authentication (overrides config)")
	agentCmd.Flags().String("name", "", "Agent name shown on the dashboard (default agent-<hostname>)")

	// ── version subcommand ────────────────────────────────────────────────────
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print NetGaze version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("NetGaze %s  |  Author: vesaa\n", version)
		},
	}

	root.AddCommand(serverCmd, agentCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cfg *config.Config, log *slog.Logger) error {
	st, err := store.Open(cfg.DBPath, log.With("module", "store"))
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if created, err := st.EnsureUser(ctx, cfg.AdminUser, cfg.AdminPass); err != nil {
		return fmt.Errorf("seeding admin user: %w", err)
	} else if created {
		fmt.Printf("  ✓ Default login: %s / %s\n", cfg.AdminUser, cfg.AdminPass)
	}

	telegram := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
	if !telegram.Enabled() {
		log.Warn("telegram credentials not set, notifications disabled")
	}
	notifier := notify.NewAsync(telegram, log.With("module", "notify"), 64)
	defer notifier.Close()

	hub := live.NewHub(log.With("module", "live"), 16)
	mon := monitor.New(monitor.Deps{
		Store:     st,
		Prober:    probe.NewProber(cfg.ProbeTimeout(), cfg.ICMPPrivileged),
		Sampler:   probe.NewLocalSampler(time.Second),
		Notifier:  notifier,
		Publisher: hub,
	}, monitor.Options{
		DevicePeriod: cfg.DevicePeriod(),
		LocalPeriod:  cfg.LocalPeriod(),
		Concurrency:  cfg.ProbeConcurrency,
		Thresholds: monitor.Thresholds{
			CPU:  cfg.CPUThreshold,
			RAM:  cfg.RAMThreshold,
			Disk: cfg.DiskThreshold,
		},
		LocalCooldown:         time.Duration(cfg.LocalAlertCooldown) * time.Second,
		DeviceCooldown:        time.Duration(cfg.DeviceAlertCooldown) * time.Second,
		CollapseErrorIntoDown: cfg.CollapseErrorDown,
	}, log.With("module", "monitor"))

	api := server.New(st, mon, hub, server.Options{
		JWTSecret:    cfg.JWTSecret,
		AgentToken:   cfg.AgentToken,
		HistoryLimit: cfg.HistoryLimit,
	}, log.With("module", "api"))

	gin.SetMode(gin.ReleaseMode)
	corsMiddleware := func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}

	// ── Control-plane engine ───────────────────────────────────────────────
	ctrlEngine := gin.New()
	ctrlEngine.Use(gin.Recovery(), corsMiddleware)
	api.RegisterControlRoutes(ctrlEngine)

	// ── Data-plane engine ──────────────────────────────────────────────────
	dataEngine := gin.New()
	dataEngine.Use(gin.Recovery())
	api.RegisterDataRoutes(dataEngine)

	ctrlAddr := net.JoinHostPort(cfg.ServerHost, fmt.Sprint(cfg.ControlPort))
	dataAddr := net.JoinHostPort(cfg.ServerHost, fmt.Sprint(cfg.DataPort))

	fmt.Printf("  ✓ Control plane (JWT API + stream) → http://%s\n", ctrlAddr)
	fmt.Printf("  ✓ Data    plane (agent reports)    → http://%s\n", dataAddr)
	if cfg.AgentToken == "" {
		fmt.Printf("  ✓ Agent token:   (none, data plane open)\n\n")
	} else {
		fmt.Printf("  ✓ Agent token:   set\n\n")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.Run(ctx)
	}()

	// Run both servers concurrently; shut down gracefully on SIGINT/SIGTERM.
	ctrlSrv := &http.Server{Addr: ctrlAddr, Handler: ctrlEngine}
	dataSrv := &http.Server{Addr: dataAddr, Handler: dataEngine}

	errCh := make(chan error, 2)
	go func() { errCh <- ctrlSrv.ListenAndServe() }()
	go func() { errCh <- dataSrv.ListenAndServe() }()

	var runErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
		stop()
	case <-ctx.Done():
		fmt.Println("\n  → Shutting down gracefully…")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ctrlSrv.Shutdown(shutdownCtx)
	_ = dataSrv.Shutdown(shutdownCtx)
	wg.Wait()
	return runErr
}

func runAgent(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name := cfg.AgentName
	if name == "" {
		name = agent.DefaultName(ctx)
	}

	fmt.Printf("  ✓ Joining server:  %s\n", cfg.AgentJoinAddr)
	fmt.Printf("  ✓ Agent name:      %s\n", name)
	fmt.Printf("  ✓ Report interval: %ds\n\n", cfg.AgentInterval)

	r := agent.NewReporter(agent.Options{
		JoinAddr: cfg.AgentJoinAddr,
		Name:     name,
		Token:    cfg.AgentOutboundToken,
		Interval: time.Duration(cfg.AgentInterval) * time.Second,
	}, agent.NewCollector(time.Second), log.With("module", "agent"))
	return r.Run(ctx)
}

// containsPort checks whether addr already has a port suffix.
func containsPort(addr string) bool {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return true
		}
		if addr[i] == '/' {
			break
		}
	}
	return false
}
