// Command protorecd records from a multi-camera rig and serves the
// recording control API. The install subcommand puts the daemon under
// systemd management.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-proto-recorder/internal/config"
	"github.com/e7canasta/orion-proto-recorder/internal/control"
	"github.com/e7canasta/orion-proto-recorder/internal/enginemock"
	"github.com/e7canasta/orion-proto-recorder/internal/gstcam"
	"github.com/e7canasta/orion-proto-recorder/internal/install"
	"github.com/e7canasta/orion-proto-recorder/internal/recorder"
)

const (
	defaultAddr     = "0.0.0.0:5000"
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "protorecd",
		Short:         "Multi-camera prototype recorder",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), installCmd())
	return root
}

// defaultHome anchors the flag defaults. The installer resolves the
// service user's home separately since it runs under sudo.
func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func defaultConfigPath(home string) string {
	return filepath.Join(home, "cameras_config.json")
}

func defaultRecDir(home string) string {
	return filepath.Join(home, "POWER_Data", "SDCard", "DataSink", "prototype_recordings")
}

func serveCmd() *cobra.Command {
	var (
		configPath string
		recdir     string
		addr       string
		mock       bool
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Record from the configured cameras and serve the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, recdir, addr, mock, debug)
		},
	}

	home := defaultHome()
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(home), "Path to camera configuration file")
	cmd.Flags().StringVar(&recdir, "recdir", defaultRecDir(home), "Path to recording directory")
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "HTTP listen address")
	cmd.Flags().BoolVar(&mock, "mock", false, "Use synthetic capture engines instead of GStreamer")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

func runServe(configPath, recdir, addr string, mock, debug bool) error {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting protorec daemon",
		"config", configPath,
		"recdir", recdir,
		"addr", addr,
		"mock", mock,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(recdir, 0o755); err != nil {
		return fmt.Errorf("create recording directory: %w", err)
	}

	factory := gstcam.Factory()
	if mock {
		factory = enginemock.Factory(enginemock.Options{})
	}

	mgr, err := recorder.NewManager(recorder.ManagerConfig{
		Root:    recdir,
		Streams: cfg.Streams(),
	}, factory)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := control.New(control.Config{Addr: addr, RecordingsDir: recdir}, mgr)
	errCh := srv.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("control server failed: %w", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop an active session first so the muxers finalize their files.
	if status, err := mgr.StopRecording(shutdownCtx); err != nil {
		slog.Error("stopping session during shutdown failed", "error", err)
	} else if status == recorder.StatusStopped {
		slog.Info("active session stopped")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	slog.Info("protorec daemon stopped")
	return nil
}

func installCmd() *cobra.Command {
	var (
		configPath  string
		recdir      string
		addr        string
		serviceUser string
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the recorder as a systemd service (run with sudo)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd.Context(), configPath, recdir, addr, serviceUser)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to camera configuration file (default: <service user home>/cameras_config.json)")
	cmd.Flags().StringVar(&recdir, "recdir", "", "Path to recording directory (default: <service user home>/POWER_Data/SDCard/DataSink/prototype_recordings)")
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "HTTP listen address for the service")
	cmd.Flags().StringVar(&serviceUser, "user", "", "Account the service runs as (default: the sudo invoker)")
	return cmd
}

func runInstall(ctx context.Context, configPath, recdir, addr, serviceUser string) error {
	if err := install.RequireRoot(); err != nil {
		return err
	}

	if serviceUser == "" {
		u, err := install.ResolveUser()
		if err != nil {
			return err
		}
		serviceUser = u
	}

	home, err := install.UserHome(serviceUser)
	if err != nil {
		return err
	}
	if configPath == "" {
		configPath = defaultConfigPath(home)
	}
	if recdir == "" {
		recdir = defaultRecDir(home)
	}

	bin, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve binary path: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	return install.New().Install(ctx, install.Options{
		User:          serviceUser,
		BinaryPath:    bin,
		ConfigPath:    configPath,
		RecordingsDir: recdir,
		Addr:          addr,
	})
}
