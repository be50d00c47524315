package modbus

import (
	"fmt"
	"strings"
)

// getExceptionMessage returns a human-readable message for a Modbus exception code.
func getExceptionMessage(exceptionCode uint8) string {
	switch exceptionCode {
	case 0x01:
		return "Illegal function"
	case 0x02:
		return "Illegal data address"
	case 0x03:
		return "Illegal data value"
	case 0x04:
		return "Slave device failure"
	case 0x05:
		return "Acknowledge"
	case 0x06:
		return "Slave device busy"
	case 0x08:
		return "Memory parity error"
	case 0x0A:
		return "Gateway path unavailable"
	case 0x0B:
		return "Gateway target device failed to respond"
	default:
		return "Unknown exception code"
	}
}

// ExceptionError describes an exception response frame.
type ExceptionError struct {
	SlaveID      uint8
	FunctionCode uint8
	Code         uint8
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception: slave %d, function 0x%02X, code 0x%02X (%s)",
		e.SlaveID, e.FunctionCode, e.Code, getExceptionMessage(e.Code))
}

// IsException reports whether frame is an exception response.
func IsException(frame []byte) bool {
	return len(frame) >= 3 && frame[1]&ExceptionFlag != 0
}

// FrameException returns an *ExceptionError for exception frames and nil otherwise.
func FrameException(frame []byte) error {
	if !IsException(frame) {
		return nil
	}
	return &ExceptionError{
		SlaveID:      frame[0],
		FunctionCode: frame[1] &^ ExceptionFlag,
		Code:         frame[2],
	}
}

// formatPrintHEX formats a byte slice into a hex dump with byte indices.
func formatPrintHEX(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, b := range data {
		if i > 0 {
			builder.WriteByte(' ')
		}
		fmt.Fprintf(&builder, "%02X[%02d]", b, i)
	}
	return builder.String()
}
