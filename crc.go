package modbus

import "github.com/sigurn/crc16"

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRC16 calculates the Modbus CRC16 checksum. On the wire the low byte is
// sent first.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// AppendCRC appends the little-endian CRC of frame to frame.
func AppendCRC(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc&0xFF), byte(crc>>8))
}

// CheckCRC verifies the trailing CRC of a complete RTU frame.
func CheckCRC(frame []byte) bool {
	if len(frame) < 4 {
		return false
	}
	dataLen := len(frame) - CRCSize
	received := uint16(frame[dataLen]) | uint16(frame[dataLen+1])<<8
	return CRC16(frame[:dataLen]) == received
}
