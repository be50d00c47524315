package modbus

import (
	"encoding/binary"
	"fmt"
)

// Modbus TCP Protocol Constants
const (
	TCPHeaderLength   = 7                              // MBAP header length in bytes
	MaxPDULength      = 253                            // Maximum PDU length according to Modbus spec
	MaxTCPFrameLength = TCPHeaderLength + MaxPDULength // Maximum complete frame length
)

// TCPPackager handles Modbus TCP (MBAP) packet packing and unpacking. The
// bridge uses it to talk to devices that speak Modbus TCP natively.
type TCPPackager struct {
	rtu *RTUPackager
}

// NewTCPPackager creates a new TCPPackager.
func NewTCPPackager() *TCPPackager {
	return &TCPPackager{rtu: NewRTUPackager()}
}

// Pack packs a Modbus PDU into a complete TCP frame.
// MBAP format: Transaction Identifier (2 bytes) + Protocol Identifier (2 bytes) + Length (2 bytes) + Unit Identifier (1 byte).
func (p *TCPPackager) Pack(transactionID uint16, unitID uint8, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("PDU cannot be empty")
	}
	if len(pdu) > MaxPDULength {
		return nil, fmt.Errorf("PDU length %d exceeds maximum %d bytes", len(pdu), MaxPDULength)
	}

	frame := make([]byte, TCPHeaderLength+len(pdu))
	binary.BigEndian.PutUint16(frame[0:2], transactionID)
	binary.BigEndian.PutUint16(frame[2:4], ProtocolIdentifierTCP)
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(pdu)+1)) // Unit Identifier + PDU
	frame[6] = unitID
	copy(frame[7:], pdu)
	return frame, nil
}

// Unpack unpacks a Modbus TCP frame into a Transaction Identifier, Unit Identifier, and PDU.
func (p *TCPPackager) Unpack(frame []byte) (transactionID uint16, unitID uint8, pdu []byte, err error) {
	if len(frame) < TCPHeaderLength {
		err = fmt.Errorf("invalid TCP frame length: %d bytes, minimum required: %d bytes", len(frame), TCPHeaderLength)
		return
	}
	if len(frame) > MaxTCPFrameLength {
		err = fmt.Errorf("TCP frame length %d exceeds maximum %d bytes", len(frame), MaxTCPFrameLength)
		return
	}

	transactionID = binary.BigEndian.Uint16(frame[0:2])
	protocolID := binary.BigEndian.Uint16(frame[2:4])
	length := binary.BigEndian.Uint16(frame[4:6])
	unitID = frame[6]
	pdu = frame[7:]

	if protocolID != ProtocolIdentifierTCP {
		err = fmt.Errorf("invalid protocol identifier: 0x%04X, expected 0x%04X", protocolID, ProtocolIdentifierTCP)
		return
	}
	if expected := uint16(len(pdu) + 1); length != expected {
		err = fmt.Errorf("length field mismatch: header indicates %d, actual frame has %d", length, expected)
		return
	}
	return
}

// FromRTU converts an RTU frame (SlaveID + PDU + CRC) into an MBAP frame.
// The CRC must be valid.
func (p *TCPPackager) FromRTU(transactionID uint16, rtu []byte) ([]byte, error) {
	unitID, pdu, err := p.rtu.Unpack(rtu)
	if err != nil {
		return nil, err
	}
	return p.Pack(transactionID, unitID, pdu)
}

// ToRTU converts an MBAP frame into an RTU frame with a fresh CRC.
func (p *TCPPackager) ToRTU(frame []byte) (transactionID uint16, rtu []byte, err error) {
	transactionID, unitID, pdu, err := p.Unpack(frame)
	if err != nil {
		return 0, nil, err
	}
	rtu, err = p.rtu.Pack(unitID, pdu)
	return transactionID, rtu, err
}
