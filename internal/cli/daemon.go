package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hoptrail/hoptrail/internal/chain"
	"github.com/hoptrail/hoptrail/internal/config"
	"github.com/hoptrail/hoptrail/internal/daemon"
	"github.com/hoptrail/hoptrail/internal/history"
	"github.com/hoptrail/hoptrail/internal/logger"
)

var (
	backgroundFlag      bool
	backgroundChildFlag bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the hoptrail capture daemon",
	Long: `Manage the hoptrail capture daemon.

The daemon receives navigation events from the browser extension, assembles
redirect chains per tab, scores them, persists completed chains to history,
and serves a live dashboard.

Enable the daemon in your config:
  settings:
    daemon:
      enabled: true
      port: 8764
      auto_start: true

Commands:
  start  - Start the daemon (foreground or background)
  stop   - Stop the running daemon
  status - Check if the daemon is running`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the capture daemon",
	Long: `Start the hoptrail capture daemon.

By default, runs in the foreground. Use --background to run as a background process.

Example:
  hoptrail daemon start              # Run in foreground
  hoptrail daemon start --background # Run in background`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Long: `Stop the hoptrail capture daemon if it is running.

Example:
  hoptrail daemon stop`,
	RunE: runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	Long: `Check if the hoptrail capture daemon is running.

Example:
  hoptrail daemon status`,
	RunE: runDaemonStatus,
}

func init() {
	daemonStartCmd.Flags().BoolVarP(&backgroundFlag, "background", "b", false, "Run daemon in background")
	daemonStartCmd.Flags().BoolVar(&backgroundChildFlag, "background-child", false, "Internal flag for background process")
	_ = daemonStartCmd.Flags().MarkHidden("background-child")

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

// loadGlobalConfig loads configuration for daemon commands. The daemon only
// uses global config to avoid project-specific conflicts.
func loadGlobalConfig() *config.Config {
	loader, err := config.NewLoader("")
	if err != nil {
		return config.DefaultConfig()
	}

	var cfg *config.Config
	if configFile != "" {
		cfg, err = loader.LoadFromFile(configFile)
	} else {
		cfg, err = loader.LoadGlobalOnly()
	}
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	cfg := loadGlobalConfig()

	if verbose {
		_ = logger.Init("debug", cfg.Settings.LogFile)
	} else if cfg.Settings.LogLevel != "" {
		_ = logger.Init(cfg.Settings.LogLevel, cfg.Settings.LogFile)
	} else {
		_ = logger.Init("info", cfg.Settings.LogFile)
	}

	lifecycle := daemon.NewLifecycle(cfg.Settings.Daemon)

	// If --background flag is set, start in background and exit
	if backgroundFlag && !backgroundChildFlag {
		if lifecycle.IsRunning() {
			fmt.Println("Daemon is already running")
			return nil
		}

		if err := lifecycle.StartInBackground(); err != nil {
			return fmt.Errorf("failed to start daemon in background: %w", err)
		}

		fmt.Printf("Daemon started on http://127.0.0.1:%d\n", lifecycle.Port())
		return nil
	}

	// Check if already running (for foreground mode)
	if !backgroundChildFlag && lifecycle.IsRunning() {
		return fmt.Errorf("daemon is already running (PID file: %s)", lifecycle.PIDFile())
	}

	store, storeErr := history.NewSQLiteStore(cfg.Settings.History.StoragePath)
	if storeErr != nil {
		return fmt.Errorf("failed to open history store: %w", storeErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wire the pipeline: events flow through the assembler, which pushes
	// updates to SSE clients and hands completed chains to the store.
	tracker := chain.NewTracker()
	tracker.Start(ctx)

	broadcaster := daemon.NewSSEBroadcaster()

	saver := chain.SaverFunc(func(hops []chain.Hop) error {
		if _, err := store.Save(hops); err != nil {
			return err
		}
		history.MaybeRunCleanup(store, cfg.Settings.History)
		return nil
	})
	autoSave := func() bool { return cfg.Settings.History.AutoSave }

	asm := chain.NewAssembler(tracker, broadcaster, saver, autoSave)

	server := daemon.NewServer(cfg, store, asm, broadcaster, Version)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if !backgroundChildFlag {
		fmt.Printf("Capture daemon running at http://127.0.0.1:%d\n", server.Port())
		fmt.Println("Press Ctrl+C to stop")
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}

	tracker.Stop()
	_ = store.Close()

	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	cfg := loadGlobalConfig()
	lifecycle := daemon.NewLifecycle(cfg.Settings.Daemon)

	if !lifecycle.IsRunning() {
		fmt.Println("Daemon is not running")
		return nil
	}

	pid, _ := lifecycle.GetPID()
	if err := lifecycle.Stop(); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	fmt.Printf("Daemon stopped (was PID %d)\n", pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	cfg := loadGlobalConfig()
	lifecycle := daemon.NewLifecycle(cfg.Settings.Daemon)

	if lifecycle.IsRunning() {
		pid, _ := lifecycle.GetPID()
		fmt.Printf("Daemon is running (PID %d)\n", pid)
		fmt.Printf("Dashboard: http://127.0.0.1:%d\n", lifecycle.Port())
	} else {
		fmt.Println("Daemon is not running")
	}

	return nil
}
