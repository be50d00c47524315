package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	modbus "github.com/hootrhino/rtubuffered"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var pollConfigPath string

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Send the configured request on an interval and log every response",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, pollConfigPath)
		if err != nil {
			return err
		}
		if cfg.Port == nil || cfg.Poll == nil {
			return fmt.Errorf("%s: poll needs port and poll sections", pollConfigPath)
		}
		request, err := cfg.Poll.RequestBytes()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := newRegistry()
		serveMetrics(ctx, cfg.Metrics, reg)

		portCfg := modbus.DefaultPortConfig()
		portCfg.Address = cfg.Port.Address
		portCfg.DialTimeout = cfg.Port.DialTimeout
		portCfg.WriteTimeout = cfg.Port.WriteTimeout
		portCfg.InitialSequence = cfg.Port.InitialSequence
		portCfg.VerifyCRC = cfg.Port.VerifyCRC
		portCfg.Logger = log
		portCfg.Metrics = modbus.NewPortMetrics(reg, cfg.Port.Address)
		port := modbus.NewTCPPort(portCfg)

		closed := make(chan error, 1)
		port.OnClose(func(err error) { closed <- err })
		if err := port.Open(ctx); err != nil {
			return err
		}
		defer port.Close()

		poller, err := modbus.NewPoller(port, append(request, 0x00, 0x00), cfg.Poll.Interval, cfg.Poll.Timeout)
		if err != nil {
			return err
		}
		poller.SetOnData(func(frame []byte) {
			frame = frame[:len(frame)-modbus.FramePaddingSize]
			if err := modbus.FrameException(frame); err != nil {
				log.Warn("exception response", zap.Error(err))
				return
			}
			log.Info("response", zap.String("frame", fmt.Sprintf("% X", frame)))
		})
		poller.SetOnError(func(err error) {
			log.Warn("poll failed", zap.Error(err))
		})
		poller.Start(ctx)
		defer poller.Stop()

		select {
		case <-ctx.Done():
			return nil
		case err := <-closed:
			if err == nil {
				return fmt.Errorf("gateway %s closed the connection", cfg.Port.Address)
			}
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().StringVarP(&pollConfigPath, "config", "c", "rtubuffered.yml", "configuration file")
}
