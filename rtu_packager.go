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
	"fmt"
)

// RTUPackager builds and splits RTU frames (SlaveID + PDU + CRC).
type RTUPackager struct{}

// NewRTUPackager creates a new RTU packager.
func NewRTUPackager() *RTUPackager {
	return &RTUPackager{}
}

// Pack creates an RTU frame with slave ID, PDU, and CRC. Slave ID 0 is the
// broadcast address and is accepted.
func (p *RTUPackager) Pack(slaveID uint8, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("PDU cannot be empty")
	}
	if len(pdu) > MaxPDULength {
		return nil, fmt.Errorf("PDU too long: %d bytes (max %d)", len(pdu), MaxPDULength)
	}
	if slaveID > 247 {
		return nil, fmt.Errorf("invalid slave ID: %d (must be 0-247)", slaveID)
	}

	frame := make([]byte, 0, 1+len(pdu)+CRCSize)
	frame = append(frame, slaveID)
	frame = append(frame, pdu...)
	return AppendCRC(frame), nil
}

// Unpack extracts slave ID and PDU from RTU frame with CRC validation
func (p *RTUPackager) Unpack(frame []byte) (uint8, []byte, error) {
	if err := p.ValidateFrame(frame); err != nil {
		return 0, nil, err
	}
	return frame[0], frame[1 : len(frame)-CRCSize], nil
}

// ValidateFrame checks the frame size and CRC.
func (p *RTUPackager) ValidateFrame(frame []byte) error {
	if len(frame) < 4 {
		return fmt.Errorf("frame too short: %d bytes (min 4)", len(frame))
	}
	if len(frame) > MaxRTUFrameSize {
		return fmt.Errorf("frame too long: %d bytes (max %d)", len(frame), MaxRTUFrameSize)
	}
	if !CheckCRC(frame) {
		n := len(frame)
		received := uint16(frame[n-2]) | uint16(frame[n-1])<<8
		return fmt.Errorf("CRC mismatch: received %#04x, calculated %#04x", received, CRC16(frame[:n-CRCSize]))
	}
	return nil
}

// Exception builds the exception response to request with the given code.
func (p *RTUPackager) Exception(request []byte, code uint8) []byte {
	return AppendCRC([]byte{request[0], request[1] | ExceptionFlag, code})
}
