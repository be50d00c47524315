// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package modbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// FrameHandler receives every completed response frame. The slice ends with
// FramePaddingSize zero bytes and is owned by the handler.
type FrameHandler func(frame []byte)

// CloseHandler is called when the transport ends underneath an open port.
// err is nil when the peer closed the connection cleanly.
type CloseHandler func(err error)

// PortConfig holds configuration parameters for a Port.
type PortConfig struct {
	Address         string
	DialTimeout     time.Duration
	WriteTimeout    time.Duration
	InitialSequence uint16 // the first Write uses InitialSequence+1
	VerifyCRC       bool   // drop completed frames whose CRC does not match
	Logger          *zap.Logger
	Metrics         *PortMetrics
}

// DefaultPortConfig returns default configuration.
func DefaultPortConfig() PortConfig {
	return PortConfig{
		DialTimeout:  5 * time.Second,
		WriteTimeout: 1 * time.Second,
	}
}

// Port sends Modbus RTU requests through a Transporter and turns the
// envelope-wrapped response stream back into RTU frames.
//
// Writes and deliveries are serialized by one mutex. Frame handlers run on
// the transporter's delivery goroutine after the mutex is released, so they
// may call Write or Close.
type Port struct {
	mu          sync.Mutex
	transporter Transporter
	codec       *EnvelopeCodec
	reassembler *Reassembler
	open        bool
	generation  uint64 // bumped on every Open and Close; stale events are ignored

	verifyCRC bool
	logger    *zap.Logger
	metrics   *PortMetrics

	onFrame atomic.Value // FrameHandler
	onClose atomic.Value // CloseHandler
}

// NewPort creates a closed port on top of transporter.
func NewPort(transporter Transporter, config PortConfig) *Port {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Port{
		transporter: transporter,
		codec:       NewEnvelopeCodec(config.InitialSequence),
		reassembler: NewReassembler(),
		verifyCRC:   config.VerifyCRC,
		logger:      logger.With(zap.String("remote", transporter.RemoteAddr())),
		metrics:     config.Metrics,
	}
}

// NewTCPPort creates a closed port that connects to config.Address over TCP.
func NewTCPPort(config PortConfig) *Port {
	return NewPort(NewTCPTransporter(config.Address, config.DialTimeout, config.WriteTimeout, config.Logger), config)
}

// SetLogger replaces the port logger.
func (p *Port) SetLogger(logger *zap.Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if logger == nil {
		logger = zap.NewNop()
	}
	p.logger = logger
}

// OnFrame sets the handler for completed frames.
func (p *Port) OnFrame(fn FrameHandler) {
	p.onFrame.Store(fn)
}

// OnClose sets the handler for transport shutdowns the caller did not request.
func (p *Port) OnClose(fn CloseHandler) {
	p.onClose.Store(fn)
}

// Open connects the transporter. Opening an open port does nothing. A failed
// connection is returned as *ConnectionError and is not retried.
func (p *Port) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open {
		return nil
	}
	p.generation++
	gen := p.generation
	p.reassembler.SetContext(ResponseContext{})

	err := p.transporter.Connect(ctx, TransportEvents{
		OnData:  func(delivery []byte) { p.handleData(gen, delivery) },
		OnClose: func() { p.handleClose(gen, nil) },
		OnError: func(err error) { p.handleClose(gen, err) },
	})
	if err != nil {
		p.logger.Warn("open failed", zap.Error(err))
		return err
	}
	p.open = true
	p.logger.Info("port opened")
	return nil
}

// IsOpen reports whether the port is open.
func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Write sends one request. The final two bytes of frame are a reserved
// placeholder and are not transmitted. Writing resets reassembly and makes
// frame's SlaveID and FuncCode the expected response context.
func (p *Port) Write(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return ErrNotOpen
	}
	if len(frame) < 2+FramePaddingSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(frame))
	}

	request := frame[:len(frame)-FramePaddingSize]
	p.reassembler.SetContext(ContextFromRequest(request))
	data := p.codec.Wrap(request)

	if err := p.transporter.Send(data); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	p.metrics.sent(len(data))
	if ce := p.logger.Check(zap.DebugLevel, "request sent"); ce != nil {
		ce.Write(zap.Uint16("seq", p.codec.LastSequenceID()), zap.String("frame", formatPrintHEX(request)))
	}
	return nil
}

// Close tears down the transport and discards any partial frame. Closing a
// closed port does nothing.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return nil
	}
	p.open = false
	p.generation++
	p.reassembler.SetContext(ResponseContext{})
	p.logger.Info("port closed")
	return p.transporter.Destroy()
}

func (p *Port) handleData(gen uint64, delivery []byte) {
	p.mu.Lock()
	if !p.open || gen != p.generation {
		p.mu.Unlock()
		return
	}
	env, payload, err := p.codec.Unwrap(delivery)
	if err != nil {
		p.metrics.envelopeError()
		p.logger.Debug("delivery dropped", zap.Error(err))
		p.mu.Unlock()
		return
	}
	p.metrics.received(len(payload))
	frames := p.reassembler.Feed(payload)
	if p.verifyCRC {
		frames = p.dropBadCRC(frames)
	}
	logger := p.logger
	p.mu.Unlock()

	if len(frames) == 0 {
		return
	}
	handler, _ := p.onFrame.Load().(FrameHandler)
	for _, frame := range frames {
		p.metrics.frame(frame)
		if ce := logger.Check(zap.DebugLevel, "frame ready"); ce != nil {
			ce.Write(zap.Uint16("seq", env.SequenceID), zap.String("frame", formatPrintHEX(frame)))
		}
		if handler != nil {
			handler(frame)
		}
	}
}

func (p *Port) dropBadCRC(frames [][]byte) [][]byte {
	kept := frames[:0]
	for _, frame := range frames {
		if CheckCRC(frame[:len(frame)-FramePaddingSize]) {
			kept = append(kept, frame)
			continue
		}
		p.metrics.crcFailure()
		p.logger.Warn("frame dropped: CRC mismatch", zap.String("frame", formatPrintHEX(frame)))
	}
	return kept
}

func (p *Port) handleClose(gen uint64, err error) {
	p.mu.Lock()
	if !p.open || gen != p.generation {
		p.mu.Unlock()
		return
	}
	p.open = false
	p.generation++
	p.reassembler.SetContext(ResponseContext{})
	destroyErr := p.transporter.Destroy()
	logger := p.logger
	p.mu.Unlock()

	if destroyErr != nil {
		logger.Warn("failed to release transport", zap.Error(destroyErr))
	}
	if err != nil {
		p.metrics.closed("error")
		logger.Warn("transport failed", zap.Error(err))
	} else {
		p.metrics.closed("closed")
		logger.Info("transport closed by peer")
	}
	if handler, _ := p.onClose.Load().(CloseHandler); handler != nil {
		handler(err)
	}
}
