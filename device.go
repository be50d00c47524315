package modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Device executes one RTU request against a Modbus slave and returns the RTU
// response frame (CRC included, no padding).
type Device interface {
	Exchange(ctx context.Context, request []byte) ([]byte, error)
}

// idleReadDelay is how long SerialDevice waits after a read that returned
// no data, so ports without a read timeout are not spun on.
const idleReadDelay = 5 * time.Millisecond

// SerialDevice talks RTU on a serial line. The port should be opened with a
// read timeout so that Exchange can observe its own deadline.
type SerialDevice struct {
	mu      sync.Mutex
	port    io.ReadWriter
	timeout time.Duration
	logger  *zap.Logger
	buf     []byte
}

// NewSerialDevice creates a serial device. timeout bounds each exchange.
func NewSerialDevice(port io.ReadWriter, timeout time.Duration, logger *zap.Logger) *SerialDevice {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SerialDevice{
		port:    port,
		timeout: timeout,
		logger:  logger.Named("serial"),
		buf:     make([]byte, MaxRTUFrameSize),
	}
}

// Exchange writes request and reassembles the response from whatever chunk
// sizes the line delivers. Noise ahead of the response is skipped.
func (d *SerialDevice) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(request) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(request))
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	written := 0
	for written < len(request) {
		n, err := d.port.Write(request[written:])
		if err != nil {
			return nil, fmt.Errorf("write failed after %d bytes: %w", written, err)
		}
		written += n
	}
	d.logger.Debug("request written", zap.String("frame", formatPrintHEX(request)))

	r := NewReassembler()
	r.SetContext(ContextFromRequest(request))
	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %d bytes pending", ErrResponseTimeout, r.Pending())
			}
			return nil, err
		}

		n, err := d.port.Read(d.buf)
		if n > 0 {
			if frames := r.Feed(d.buf[:n]); len(frames) > 0 {
				frame := frames[0]
				frame = frame[:len(frame)-FramePaddingSize]
				d.logger.Debug("response read", zap.String("frame", formatPrintHEX(frame)))
				return frame, nil
			}
		}
		switch {
		case err == nil && n > 0:
		case err == nil || errors.Is(err, io.EOF):
			time.Sleep(idleReadDelay)
		default:
			return nil, fmt.Errorf("read failed: %w", err)
		}
	}
}

// MBAPDevice forwards RTU requests to a Modbus TCP server, converting between
// RTU and MBAP framing.
type MBAPDevice struct {
	conn          net.Conn
	timeout       time.Duration
	packager      *TCPPackager
	logger        *zap.Logger
	mu            sync.Mutex
	transactionID uint16
}

// NewMBAPDevice creates a device on an established Modbus TCP connection.
func NewMBAPDevice(conn net.Conn, timeout time.Duration, logger *zap.Logger) *MBAPDevice {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MBAPDevice{
		conn:     conn,
		timeout:  timeout,
		packager: NewTCPPackager(),
		logger:   logger.Named("mbap"),
	}
}

// Exchange converts request to MBAP, sends it and converts the reply back to RTU.
func (d *MBAPDevice) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.transactionID++
	frame, err := d.packager.FromRTU(d.transactionID, request)
	if err != nil {
		return nil, fmt.Errorf("failed to convert request: %w", err)
	}

	deadline := time.Time{}
	if d.timeout > 0 {
		deadline = time.Now().Add(d.timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	if err := d.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	defer d.conn.SetDeadline(time.Time{})

	if _, err := d.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	for {
		header := make([]byte, TCPHeaderLength)
		if _, err := io.ReadFull(d.conn, header); err != nil {
			return nil, fmt.Errorf("failed to read MBAP header: %w", err)
		}
		length := int(header[4])<<8 | int(header[5])
		if length == 0 || length > MaxPDULength+1 {
			return nil, fmt.Errorf("invalid MBAP length field: %d", length)
		}
		response := make([]byte, TCPHeaderLength-1+length)
		copy(response, header)
		if _, err := io.ReadFull(d.conn, response[TCPHeaderLength:]); err != nil {
			return nil, fmt.Errorf("failed to read PDU (%d bytes): %w", length-1, err)
		}

		tid, rtu, err := d.packager.ToRTU(response)
		if err != nil {
			return nil, fmt.Errorf("failed to convert response: %w", err)
		}
		if tid != d.transactionID {
			d.logger.Debug("ignoring stale response", zap.Uint16("tid", tid), zap.Uint16("want", d.transactionID))
			continue
		}
		return rtu, nil
	}
}
