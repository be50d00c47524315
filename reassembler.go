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

// Reassembler rebuilds RTU response frames out of arbitrarily split byte
// fragments. Leading bytes that do not match the expected slave address are
// dropped one at a time until the stream is aligned on a frame start.
//
// A Reassembler is not safe for concurrent use; the owning Port serializes
// access to it.
type Reassembler struct {
	ctx          ResponseContext
	accumulated  []byte
	expected     int // 0 until the frame length is known
	synchronized bool
}

// NewReassembler creates a Reassembler with no response context. Until
// SetContext is called every byte is discarded.
func NewReassembler() *Reassembler {
	return &Reassembler{
		accumulated: make([]byte, 0, MaxRTUFrameSize),
	}
}

// SetContext records the response expected for the request just written and
// discards any partial frame.
func (r *Reassembler) SetContext(ctx ResponseContext) {
	r.ctx = ctx
	r.Reset()
}

// Context returns the current response context.
func (r *Reassembler) Context() ResponseContext {
	return r.ctx
}

// Reset discards the frame in progress. The response context is kept.
func (r *Reassembler) Reset() {
	r.accumulated = r.accumulated[:0]
	r.expected = 0
	r.synchronized = false
}

// Pending returns the number of bytes held for the frame in progress.
func (r *Reassembler) Pending() int {
	return len(r.accumulated)
}

// Feed consumes one fragment and returns every frame it completed, in order.
// Each returned frame is the wire frame followed by FramePaddingSize zero bytes.
func (r *Reassembler) Feed(fragment []byte) [][]byte {
	var frames [][]byte
	for _, b := range fragment {
		frames = r.push(b, frames)
	}
	return frames
}

func (r *Reassembler) push(b byte, frames [][]byte) [][]byte {
	if !r.synchronized {
		if !r.ctx.Valid || b != r.ctx.SlaveAddress {
			return frames
		}
		r.synchronized = true
	}
	r.accumulated = append(r.accumulated, b)

	if r.expected == 0 {
		n, status := ExpectedResponseLength(r.ctx, r.accumulated)
		switch status {
		case LengthKnown:
			r.expected = n
		case LengthUnsupported:
			// Drop the false start and rescan whatever followed it.
			rest := append([]byte(nil), r.accumulated[1:]...)
			r.Reset()
			for _, c := range rest {
				frames = r.push(c, frames)
			}
			return frames
		case LengthNeedMore:
			return frames
		}
	}

	if len(r.accumulated) >= r.expected {
		frames = append(frames, r.finalize())
	}
	return frames
}

func (r *Reassembler) finalize() []byte {
	frame := make([]byte, r.expected+FramePaddingSize)
	copy(frame, r.accumulated[:r.expected])
	r.Reset()
	return frame
}
