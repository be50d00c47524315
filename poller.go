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
)

// OnDataFunc is a callback type for pushing response frames
type OnDataFunc func(frame []byte)

// OnErrorFunc is a callback type for error reporting
type OnErrorFunc func(error)

// Poller repeatedly writes one request on a Port and waits for its response.
// It owns the request timeout: a request with no frame after timeout is
// reported as ErrResponseTimeout.
type Poller struct {
	port     *Port
	request  []byte
	interval time.Duration
	timeout  time.Duration

	frames  chan []byte
	onData  atomic.Value // Stores OnDataFunc callback
	onError atomic.Value // Stores OnErrorFunc callback

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewPoller creates a poller for request, which must end with the two reserved
// bytes expected by Port.Write. The poller takes over the port's frame handler.
func NewPoller(port *Port, request []byte, interval, timeout time.Duration) (*Poller, error) {
	if len(request) < 2+FramePaddingSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(request))
	}
	if interval <= 0 {
		return nil, fmt.Errorf("invalid poll interval: %v", interval)
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	p := &Poller{
		port:     port,
		request:  append([]byte(nil), request...),
		interval: interval,
		timeout:  timeout,
		frames:   make(chan []byte, 1),
		stopCh:   make(chan struct{}),
	}
	port.OnFrame(p.push)
	return p, nil
}

// SetOnData sets the callback for response frames
func (p *Poller) SetOnData(fn OnDataFunc) {
	p.onData.Store(fn)
}

// SetOnError sets the callback for error events
func (p *Poller) SetOnError(fn OnErrorFunc) {
	p.onError.Store(fn)
}

// push keeps only the newest frame; a frame nobody waits for is stale.
func (p *Poller) push(frame []byte) {
	select {
	case p.frames <- frame:
	default:
		select {
		case <-p.frames:
		default:
		}
		select {
		case p.frames <- frame:
		default:
		}
	}
}

// Start polls immediately and then on every interval until ctx is done or
// Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			p.pollOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends polling and waits for the polling goroutine to exit.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Poller) pollOnce(ctx context.Context) {
	// Drop anything that arrived between polls.
	select {
	case <-p.frames:
	default:
	}

	if err := p.port.Write(p.request); err != nil {
		p.reportError(err)
		return
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case frame := <-p.frames:
		if cb, _ := p.onData.Load().(OnDataFunc); cb != nil {
			cb(frame)
		}
	case <-timer.C:
		p.reportError(fmt.Errorf("%w after %v", ErrResponseTimeout, p.timeout))
	case <-ctx.Done():
	case <-p.stopCh:
	}
}

func (p *Poller) reportError(err error) {
	if cb, _ := p.onError.Load().(OnErrorFunc); cb != nil {
		cb(err)
	}
}
