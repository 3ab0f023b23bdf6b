package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"iecdrive/bus"
	"iecdrive/config"
	"iecdrive/core"
	"iecdrive/iec"
	"iecdrive/metrics"
	"iecdrive/vfs"
)

func serveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the drive on the bus adapter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	fs, err := core.NewFileSystem(cfg.Backend)
	if err != nil {
		return err
	}
	defer fs.Close()
	storage := vfs.NewStorage(fs, cfg.LocalLabel)

	history := core.NewHistoryManager(cfg.HistoryPath)
	if err := history.Load(); err != nil {
		log.WithError(err).Warn("failed to load mount history")
	}

	port, err := bus.Open(cfg.Bus.Port, cfg.Bus.Baud)
	if err != nil {
		return err
	}
	defer port.Close()
	adapter := bus.NewAdapter(port)

	collector := metrics.NewDriveCollector("")
	d := iec.NewDrive(adapter,
		iec.WithSettings(iec.Settings{
			DeviceID:   cfg.DeviceID,
			Title:      cfg.Title,
			LocalLabel: cfg.LocalLabel,
		}),
		iec.WithMetrics(collector),
	)
	root := storage.Root()
	session := d.Mount(root)
	history.Mounted(session, root.URL())

	runner := core.NewRunner(cfg, configPath, d, fs, history)
	if err := runner.Start(); err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server failed")
			}
		}()
		defer srv.Close()
		log.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithField("device", cfg.DeviceID).Info("iecdrive started")
	err = adapter.Serve(ctx, d)

	log.Info("shutting down")
	d.Unmount()
	history.Unmounted(session)
	runner.Stop()
	return err
}
