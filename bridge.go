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

// ExceptionGatewayTargetFailed is the exception code sent back when the
// device behind the bridge fails to answer.
const ExceptionGatewayTargetFailed = 0x0B

// BridgeConfig holds configuration parameters for a Bridge.
type BridgeConfig struct {
	Listen         string
	RequestTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *BridgeMetrics
}

// Bridge is the device side of a buffered RTU-over-TCP link. It accepts
// envelope-wrapped RTU requests, runs them against a Device and writes the
// RTU response back under the request's sequence id.
type Bridge struct {
	config   BridgeConfig
	device   Device
	packager *RTUPackager
	logger   *zap.Logger

	deviceMu sync.Mutex // one request on the bus at a time

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewBridge creates a bridge in front of device.
func NewBridge(config BridgeConfig, device Device) *Bridge {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = time.Second
	}
	return &Bridge{
		config:   config,
		device:   device,
		packager: NewRTUPackager(),
		logger:   logger.Named("bridge"),
		conns:    make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on config.Listen and serves until ctx is done or
// Close is called.
func (b *Bridge) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", b.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.config.Listen, err)
	}
	stop := context.AfterFunc(ctx, func() { b.Close() })
	defer stop()
	return b.Serve(ln)
}

// Serve accepts connections on ln until Close is called, then returns
// ErrBridgeClosed.
func (b *Bridge) Serve(ln net.Listener) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ln.Close()
		return ErrBridgeClosed
	}
	b.listener = ln
	b.mu.Unlock()

	b.logger.Info("serving", zap.String("listen", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if b.isClosed() {
				b.wg.Wait()
				return ErrBridgeClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				b.logger.Warn("accept failed", zap.Error(err))
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		if !b.track(conn) {
			conn.Close()
			continue
		}
		b.wg.Add(1)
		go b.handleConnection(conn)
	}
}

// Addr returns the listening address, or nil before Serve.
func (b *Bridge) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Close stops accepting and drops every client connection.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for conn := range b.conns {
		conn.Close()
	}
	if b.listener != nil {
		return b.listener.Close()
	}
	return nil
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bridge) track(conn net.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.conns[conn] = struct{}{}
	return true
}

func (b *Bridge) untrack(conn net.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, conn)
}

func (b *Bridge) handleConnection(conn net.Conn) {
	defer b.wg.Done()
	defer b.untrack(conn)
	defer conn.Close()

	logger := b.logger.With(zap.String("client", conn.RemoteAddr().String()))
	b.config.Metrics.connectionOpened()
	defer b.config.Metrics.connectionClosed()
	logger.Debug("client connected")

	for {
		delivery, err := ReadEnvelope(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || b.isClosed() {
				logger.Debug("client disconnected")
			} else {
				logger.Warn("read request failed", zap.Error(err))
			}
			return
		}
		env, _ := ParseEnvelopeHeader(delivery)
		request := delivery[EnvelopeHeaderLength:]
		if len(request) < 2 {
			logger.Warn("request too short", zap.Int("bytes", len(request)))
			return
		}

		response := b.exchange(logger, request)
		if _, err := conn.Write(PackEnvelope(env.SequenceID, response)); err != nil {
			logger.Warn("write response failed", zap.Error(err))
			return
		}
	}
}

// exchange runs request on the device. A device failure is answered with a
// gateway exception so the client is never left waiting.
func (b *Bridge) exchange(logger *zap.Logger, request []byte) []byte {
	b.deviceMu.Lock()
	defer b.deviceMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.config.RequestTimeout)
	defer cancel()

	response, err := b.device.Exchange(ctx, request)
	if err != nil {
		b.config.Metrics.exchange("error")
		logger.Warn("device exchange failed",
			zap.String("request", formatPrintHEX(request)), zap.Error(err))
		return b.packager.Exception(request, ExceptionGatewayTargetFailed)
	}
	if IsException(response) {
		b.config.Metrics.exchange("exception")
	} else {
		b.config.Metrics.exchange("ok")
	}
	if ce := logger.Check(zap.DebugLevel, "exchange done"); ce != nil {
		ce.Write(zap.String("request", formatPrintHEX(request)), zap.String("response", formatPrintHEX(response)))
	}
	return response
}
