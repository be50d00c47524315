package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hootrhino/rtubuffered/internal/config"
	"github.com/hootrhino/rtubuffered/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logLevel string
	log      = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "rtubuffered",
	Short: "Modbus RTU over TCP with buffered frame reassembly",
	Long: `rtubuffered sends Modbus RTU requests through a TCP gateway that wraps
every frame in a 6-byte envelope, and reassembles the responses no matter how
the gateway splits them. It can also act as that gateway in front of a serial
line or a Modbus TCP device.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logger.New(logLevel, os.Stderr)
		if err != nil {
			return err
		}
		log = l
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// loadConfig reads path and applies its log level unless --log-level was given.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.ReadConfigFile(path)
	if err != nil {
		return nil, err
	}
	if !cmd.Flags().Changed("log-level") {
		l, err := logger.New(cfg.Log.Level, os.Stderr)
		if err != nil {
			return nil, err
		}
		log = l
	}
	return cfg, nil
}

// newRegistry returns a registry with the Go and process collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// serveMetrics exposes reg until ctx is done.
func serveMetrics(ctx context.Context, cfg *config.MetricsConfig, reg *prometheus.Registry) {
	if cfg == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: cfg.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info("serving metrics", zap.String("listen", cfg.Listen), zap.String("path", cfg.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
}

func printFrame(frame []byte) {
	fmt.Printf("% X\n", frame)
}
