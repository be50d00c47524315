package modbus

import (
	"errors"
	"testing"
)

func TestGetExceptionMessage(t *testing.T) {
	testCases := []struct {
		code    uint8
		message string
	}{
		{code: 0x01, message: "Illegal function"},
		{code: 0x02, message: "Illegal data address"},
		{code: 0x03, message: "Illegal data value"},
		{code: 0x04, message: "Slave device failure"},
		{code: 0x05, message: "Acknowledge"},
		{code: 0x06, message: "Slave device busy"},
		{code: 0x08, message: "Memory parity error"},
		{code: 0x0A, message: "Gateway path unavailable"},
		{code: 0x0B, message: "Gateway target device failed to respond"},
		{code: 0xFF, message: "Unknown exception code"},
	}

	for _, tc := range testCases {
		message := getExceptionMessage(tc.code)
		if message != tc.message {
			t.Errorf("GetExceptionMessage(%#02x) returned incorrect message: got %q, expected %q", tc.code, message, tc.message)
		}
	}
}

func TestFrameException(t *testing.T) {
	err := FrameException([]byte{0x11, 0x83, 0x04, 0x41, 0x36, 0x00, 0x00})
	var exc *ExceptionError
	if !errors.As(err, &exc) {
		t.Fatalf("expected *ExceptionError, got %v", err)
	}
	if exc.SlaveID != 0x11 || exc.FunctionCode != 0x03 || exc.Code != 0x04 {
		t.Errorf("unexpected exception fields: %+v", exc)
	}
	if exc.Error() != "modbus exception: slave 17, function 0x03, code 0x04 (Slave device failure)" {
		t.Errorf("unexpected message: %q", exc.Error())
	}

	if err := FrameException([]byte{0x11, 0x03, 0x02, 0x00, 0x01, 0x00, 0x00}); err != nil {
		t.Errorf("normal response reported as exception: %v", err)
	}
}

func TestFormatPrintHEX(t *testing.T) {
	if got := formatPrintHEX([]byte{0x11, 0x03}); got != "11[00] 03[01]" {
		t.Errorf("formatPrintHEX = %q", got)
	}
	if got := formatPrintHEX(nil); got != "" {
		t.Errorf("formatPrintHEX(nil) = %q", got)
	}
}
