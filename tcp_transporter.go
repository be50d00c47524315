package modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TCPTransporter carries envelopes over a TCP connection. A reader goroutine
// reassembles envelope boundaries from the stream so that every OnData call
// holds one header and its declared payload.
type TCPTransporter struct {
	address      string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	session *tcpSession
}

type tcpSession struct {
	conn   net.Conn
	closed atomic.Bool
}

// NewTCPTransporter creates a transporter for address. A nil logger disables logging.
func NewTCPTransporter(address string, dialTimeout, writeTimeout time.Duration, logger *zap.Logger) *TCPTransporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPTransporter{
		address:      address,
		dialTimeout:  dialTimeout,
		writeTimeout: writeTimeout,
		logger:       logger.Named("tcp"),
	}
}

// Connect dials the remote end and starts delivering envelopes to events.
func (t *TCPTransporter) Connect(ctx context.Context, events TransportEvents) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session != nil {
		return fmt.Errorf("transporter already connected to %s", t.address)
	}

	dialer := net.Dialer{Timeout: t.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.address)
	if err != nil {
		return &ConnectionError{Addr: t.address, Err: err}
	}

	s := &tcpSession{conn: conn}
	t.session = s
	t.logger.Debug("connected", zap.String("remote", conn.RemoteAddr().String()))
	go t.readLoop(s, events)
	return nil
}

func (t *TCPTransporter) readLoop(s *tcpSession, events TransportEvents) {
	for {
		delivery, err := ReadEnvelope(s.conn)
		if err != nil {
			t.finish(s, events, err)
			return
		}
		if s.closed.Load() {
			return
		}
		t.logger.Debug("received envelope", zap.Int("bytes", len(delivery)))
		if events.OnData != nil {
			events.OnData(delivery)
		}
	}
}

// finish reports the end of a session unless Destroy already ended it.
func (t *TCPTransporter) finish(s *tcpSession, events TransportEvents, err error) {
	if s.closed.Swap(true) {
		return
	}
	t.mu.Lock()
	if t.session == s {
		t.session = nil
	}
	t.mu.Unlock()
	s.conn.Close()

	if errors.Is(err, io.EOF) {
		t.logger.Debug("connection closed by peer")
		if events.OnClose != nil {
			events.OnClose()
		}
		return
	}
	t.logger.Warn("connection failed", zap.Error(err))
	if events.OnError != nil {
		events.OnError(err)
	}
}

// Send writes data to the connection.
func (t *TCPTransporter) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session == nil {
		return ErrNotConnected
	}
	if len(data) == 0 {
		return fmt.Errorf("no data to write")
	}
	conn := t.session.conn

	if t.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
		defer conn.SetWriteDeadline(time.Time{})
	}

	written := 0
	for written < len(data) {
		n, err := conn.Write(data[written:])
		if err != nil {
			return fmt.Errorf("write failed after %d bytes: %w", written, err)
		}
		written += n
	}
	t.logger.Debug("sent", zap.Int("bytes", written))
	return nil
}

// Destroy closes the connection. No events are raised for a destroyed
// session. It is safe to call more than once.
func (t *TCPTransporter) Destroy() error {
	t.mu.Lock()
	s := t.session
	t.session = nil
	t.mu.Unlock()

	if s == nil || s.closed.Swap(true) {
		return nil
	}
	t.logger.Debug("closing connection")
	return s.conn.Close()
}

// RemoteAddr returns the configured remote address.
func (t *TCPTransporter) RemoteAddr() string {
	return t.address
}

// ReadEnvelope reads one envelope header and the payload length it declares
// from r, and returns them as a single delivery.
func ReadEnvelope(r io.Reader) ([]byte, error) {
	header := make([]byte, EnvelopeHeaderLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	env, err := ParseEnvelopeHeader(header)
	if err != nil {
		return nil, err
	}
	if env.DeclaredLength > MaxEnvelopePayload {
		return nil, fmt.Errorf("declared length %d exceeds maximum %d", env.DeclaredLength, MaxEnvelopePayload)
	}
	delivery := make([]byte, EnvelopeHeaderLength+int(env.DeclaredLength))
	copy(delivery, header)
	if _, err := io.ReadFull(r, delivery[EnvelopeHeaderLength:]); err != nil {
		return nil, fmt.Errorf("failed to read payload (%d bytes): %w", env.DeclaredLength, err)
	}
	return delivery, nil
}
