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
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
)

// EnvelopeHeaderLength is the size of the header placed in front of every
// frame sent over the stream: SequenceID (2) + Marker (2) + Length (2).
const EnvelopeHeaderLength = 6

// MaxEnvelopePayload bounds the declared length accepted by readers.
const MaxEnvelopePayload = MaxRTUFrameSize

// ErrShortEnvelope is returned when a delivery is too short to hold a header.
var ErrShortEnvelope = errors.New("envelope shorter than header")

// Envelope is the decoded header of one delivery.
type Envelope struct {
	SequenceID     uint16
	Marker         uint16
	DeclaredLength uint16
}

// PackEnvelope prefixes payload with an envelope header carrying sequenceID.
func PackEnvelope(sequenceID uint16, payload []byte) []byte {
	buf := make([]byte, EnvelopeHeaderLength+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], sequenceID)
	binary.BigEndian.PutUint16(buf[2:4], ProtocolIdentifierTCP)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(payload)))
	copy(buf[EnvelopeHeaderLength:], payload)
	return buf
}

// ParseEnvelopeHeader decodes the first EnvelopeHeaderLength bytes of b.
func ParseEnvelopeHeader(b []byte) (Envelope, error) {
	if len(b) < EnvelopeHeaderLength {
		return Envelope{}, fmt.Errorf("%w: %d bytes", ErrShortEnvelope, len(b))
	}
	return Envelope{
		SequenceID:     binary.BigEndian.Uint16(b[0:2]),
		Marker:         binary.BigEndian.Uint16(b[2:4]),
		DeclaredLength: binary.BigEndian.Uint16(b[4:6]),
	}, nil
}

// EnvelopeCodec wraps outbound frames and unwraps inbound deliveries. Each
// codec owns its own sequence counter.
type EnvelopeCodec struct {
	sequence atomic.Uint32
}

// NewEnvelopeCodec creates a codec whose first Wrap uses start+1.
func NewEnvelopeCodec(start uint16) *EnvelopeCodec {
	c := &EnvelopeCodec{}
	c.sequence.Store(uint32(start))
	return c
}

// NextSequenceID advances the counter, wrapping at 65535.
func (c *EnvelopeCodec) NextSequenceID() uint16 {
	id := c.sequence.Add(1)
	return uint16(id & 0xFFFF)
}

// LastSequenceID returns the id used by the most recent Wrap.
func (c *EnvelopeCodec) LastSequenceID() uint16 {
	return uint16(c.sequence.Load() & 0xFFFF)
}

// Wrap prefixes payload with a header carrying the next sequence id.
func (c *EnvelopeCodec) Wrap(payload []byte) []byte {
	return PackEnvelope(c.NextSequenceID(), payload)
}

// Unwrap strips the header from one delivery. The declared length is
// reported but never used to truncate: the payload is everything after the
// header.
func (c *EnvelopeCodec) Unwrap(delivery []byte) (Envelope, []byte, error) {
	env, err := ParseEnvelopeHeader(delivery)
	if err != nil {
		return Envelope{}, nil, err
	}
	return env, delivery[EnvelopeHeaderLength:], nil
}
