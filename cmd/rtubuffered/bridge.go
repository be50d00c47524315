package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	goserial "github.com/hootrhino/goserial"
	modbus "github.com/hootrhino/rtubuffered"
	"github.com/hootrhino/rtubuffered/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var bridgeConfigPath string

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Serve envelope-wrapped RTU requests from a serial line or Modbus TCP device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, bridgeConfigPath)
		if err != nil {
			return err
		}
		if cfg.Bridge == nil {
			return fmt.Errorf("%s: bridge section missing", bridgeConfigPath)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		device, closer, err := openDevice(ctx, cfg.Bridge)
		if err != nil {
			return err
		}
		defer closer.Close()

		reg := newRegistry()
		serveMetrics(ctx, cfg.Metrics, reg)

		bridge := modbus.NewBridge(modbus.BridgeConfig{
			Listen:         cfg.Bridge.Listen,
			RequestTimeout: cfg.Bridge.RequestTimeout,
			Logger:         log,
			Metrics:        modbus.NewBridgeMetrics(reg),
		}, device)
		if err := bridge.ListenAndServe(ctx); err != nil && !errors.Is(err, modbus.ErrBridgeClosed) {
			return err
		}
		return nil
	},
}

func openDevice(ctx context.Context, cfg *config.BridgeConfig) (modbus.Device, io.Closer, error) {
	if s := cfg.Serial; s != nil {
		port, err := goserial.Open(&goserial.Config{
			Address:  s.Device,
			BaudRate: s.BaudRate,
			DataBits: s.DataBits,
			StopBits: s.StopBits,
			Parity:   s.Parity,
			Timeout:  s.Timeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open serial port %s: %w", s.Device, err)
		}
		log.Info("serial port opened", zap.String("device", s.Device), zap.Int("baud_rate", s.BaudRate))
		return modbus.NewSerialDevice(port, cfg.RequestTimeout, log), port, nil
	}

	m := cfg.ModbusTCP
	dialer := net.Dialer{Timeout: m.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.Address)
	if err != nil {
		return nil, nil, &modbus.ConnectionError{Addr: m.Address, Err: err}
	}
	log.Info("connected to Modbus TCP device", zap.String("address", m.Address))
	return modbus.NewMBAPDevice(conn, cfg.RequestTimeout, log), conn, nil
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().StringVarP(&bridgeConfigPath, "config", "c", "rtubuffered.yml", "configuration file")
}
