package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	modbus "github.com/hootrhino/rtubuffered"
	"github.com/spf13/cobra"
)

var (
	sendAddr      string
	sendHex       string
	sendTimeout   time.Duration
	sendVerifyCRC bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one RTU request and print the response frame",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		request, err := hex.DecodeString(strings.ReplaceAll(sendHex, " ", ""))
		if err != nil {
			return fmt.Errorf("invalid --hex: %w", err)
		}

		cfg := modbus.DefaultPortConfig()
		cfg.Address = sendAddr
		cfg.VerifyCRC = sendVerifyCRC
		cfg.Logger = log
		port := modbus.NewTCPPort(cfg)

		frames := make(chan []byte, 1)
		closed := make(chan error, 1)
		port.OnFrame(func(frame []byte) {
			select {
			case frames <- frame:
			default:
			}
		})
		port.OnClose(func(err error) { closed <- err })

		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()
		if err := port.Open(ctx); err != nil {
			return err
		}
		defer port.Close()

		// The port expects two reserved bytes after the frame.
		if err := port.Write(append(request, 0x00, 0x00)); err != nil {
			return err
		}

		select {
		case frame := <-frames:
			frame = frame[:len(frame)-modbus.FramePaddingSize]
			printFrame(frame)
			if err := modbus.FrameException(frame); err != nil {
				return err
			}
			return nil
		case err := <-closed:
			if err == nil {
				return fmt.Errorf("connection closed before a response arrived")
			}
			return err
		case <-ctx.Done():
			return fmt.Errorf("%w after %v", modbus.ErrResponseTimeout, sendTimeout)
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendAddr, "addr", "a", "127.0.0.1:502", "gateway address")
	sendCmd.Flags().StringVarP(&sendHex, "hex", "x", "", "RTU request in hex, CRC included")
	sendCmd.Flags().DurationVarP(&sendTimeout, "timeout", "t", time.Second, "time to wait for the response")
	sendCmd.Flags().BoolVar(&sendVerifyCRC, "verify-crc", false, "drop responses with a bad CRC")
	sendCmd.MarkFlagRequired("hex")
}
