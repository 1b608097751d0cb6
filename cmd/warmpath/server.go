package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/intronet/warmpath/internal/api"
	"github.com/intronet/warmpath/internal/bridge"
	"github.com/intronet/warmpath/internal/config"
	"github.com/intronet/warmpath/internal/enrich"
	"github.com/intronet/warmpath/internal/outreach"
	"github.com/intronet/warmpath/internal/rank"
	"github.com/intronet/warmpath/internal/readiness"
	"github.com/intronet/warmpath/internal/storage"
	"github.com/intronet/warmpath/internal/sweep"
	"github.com/intronet/warmpath/internal/warmth"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the warmpath server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running warmpath server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show warmpath system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "warmpath.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "warmpath version %s\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to double-start. The health endpoint is the liveness check;
	// the PID file is only there so stop knows who to signal.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://%s/health", cfg.Server.Addr)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("warmpath is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("warmpath is already running on %s", cfg.Server.Addr)
		return fmt.Errorf("server already running on %s", cfg.Server.Addr)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	warmthCfg := warmth.DefaultConfig()
	if d := cfg.Warmth.MinOverlapDays; d > 0 {
		warmthCfg.MinOverlap = time.Duration(d) * 24 * time.Hour
	}
	if d := cfg.Warmth.RecencyHalfLifeDays; d > 0 {
		warmthCfg.RecencyHalfLife = time.Duration(d) * 24 * time.Hour
	}
	if d := cfg.Warmth.OverlapCapDays; d > 0 {
		warmthCfg.OverlapCap = time.Duration(d) * 24 * time.Hour
	}
	engine := warmth.NewEngine(store, warmthCfg)
	recomputer := readiness.NewRecomputer(store, readiness.DefaultWeights())
	ranker := rank.NewRanker(store)

	handler := api.NewAppHandler(api.AppDeps{
		Store:     store,
		Warmth:    engine,
		Readiness: recomputer,
		Ranker:    ranker,
		Token:     cfg.Server.Token,
		Tenants:   cfg.Server.TenantMap(),
	})

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Background workers only run with a bridge configured. Scoring and
	// the approval gate work either way.
	if cfg.Bridge.BaseURL != "" {
		bridgeClient := bridge.NewClient(cfg.Bridge.BaseURL, cfg.Bridge.Token)

		enrichWorker := enrich.NewWorker(store, bridgeClient, enrich.Config{
			PollInterval:  cfg.Enrich.PollInterval,
			BackoffBase:   cfg.Enrich.BackoffBase,
			BackoffCap:    cfg.Enrich.BackoffCap,
			WarnThreshold: cfg.Enrich.WarnThreshold,
			BanThreshold:  cfg.Enrich.BanThreshold,
		})
		g.Go(func() error { return ignoreCancel(enrichWorker.Run(gctx)) })

		sendWorker := outreach.NewWorker(store, bridgeClient, outreach.Config{
			PollInterval: cfg.Send.PollInterval,
			SendInterval: cfg.Send.SendInterval,
		})
		g.Go(func() error { return ignoreCancel(sendWorker.Run(gctx)) })

		poller := outreach.NewResponsePoller(store, bridgeClient, engine, cfg.Send.ResponseInterval)
		g.Go(func() error { return ignoreCancel(poller.Run(gctx)) })
	} else {
		slog.Warn("no automation bridge configured, queue workers disabled")
	}

	janitor := sweep.NewJanitor(store, sweep.Config{
		Interval:            cfg.Sweep.Interval,
		EnrichmentStaleness: cfg.Sweep.EnrichmentStaleness,
		OutreachStaleness:   cfg.Sweep.OutreachStaleness,
		AccountAgingPeriod:  cfg.Sweep.AccountAgingPeriod,
		SessionRecovery:     cfg.Sweep.SessionRecovery,
	})
	g.Go(func() error { return ignoreCancel(janitor.Run(gctx)) })

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "warmpath listening on %s\n", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func stopServer() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("warmpath is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop warmpath (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to warmpath (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := "http://" + cfg.Server.Addr
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on %s", cfg.Server.Addr)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.Bridge.BaseURL != "" {
		printStatus("Bridge", "%s", cfg.Bridge.BaseURL)
	} else {
		printStatus("Bridge", "not configured (workers disabled)")
	}

	if running {
		apiC := newAPIClient(cfg)
		poolResp, err := apiC.get(context.Background(), "/pool/health")
		if err == nil {
			var pool map[string]int
			if decodeJSON(poolResp, &pool) == nil {
				printStatus("Pool", "active=%d warned=%d aging=%d banned=%d retired=%d",
					pool["active"], pool["warned"], pool["aging"], pool["banned"], pool["retired"])
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
