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

// Function codes whose responses can be sized by the reassembly engine.
const (
	FuncCodeReadCoils                  = 0x01
	FuncCodeReadDiscreteInputs         = 0x02
	FuncCodeReadHoldingRegisters       = 0x03
	FuncCodeReadInputRegisters         = 0x04
	FuncCodeWriteSingleCoil            = 0x05
	FuncCodeWriteSingleRegister        = 0x06
	FuncCodeReadExceptionStatus        = 0x07
	FuncCodeGetCommEventCounter        = 0x0B
	FuncCodeGetCommEventLog            = 0x0C
	FuncCodeWriteMultipleCoils         = 0x0F
	FuncCodeWriteMultipleRegisters     = 0x10
	FuncCodeReportServerID             = 0x11
	FuncCodeReadFileRecord             = 0x14
	FuncCodeWriteFileRecord            = 0x15
	FuncCodeMaskWriteRegister          = 0x16
	FuncCodeReadWriteMultipleRegisters = 0x17
	FuncCodeReadFIFOQueue              = 0x18
)

const (
	// ExceptionFlag is the high bit of the function code in an exception response.
	ExceptionFlag = 0x80

	// ProtocolIdentifierTCP is the MBAP protocol id, also the envelope marker.
	ProtocolIdentifierTCP = 0x0000

	CRCSize          = 2
	ExceptionLength  = 5   // SlaveID + FuncCode + ExceptionCode + CRC
	MaxRTUFrameSize  = 256 // SlaveID + PDU(253) + CRC
	FramePaddingSize = 2   // zero bytes appended to every emitted frame
)

// ResponseContext is what the reassembler knows about the response it is
// waiting for. It is captured from the most recently written request.
type ResponseContext struct {
	SlaveAddress byte
	FunctionCode byte
	Valid        bool
}

// ContextFromRequest builds the response context for an RTU request frame.
func ContextFromRequest(frame []byte) ResponseContext {
	if len(frame) < 2 {
		return ResponseContext{}
	}
	return ResponseContext{
		SlaveAddress: frame[0],
		FunctionCode: frame[1],
		Valid:        true,
	}
}
