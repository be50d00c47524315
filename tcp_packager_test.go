package modbus

import (
	"bytes"
	"testing"
)

func TestTCPPackager_PackUnpack(t *testing.T) {
	p := NewTCPPackager()
	transactionID := uint16(0x1234)
	unitID := uint8(0x01)
	pdu := []byte{0x03, 0x00, 0x00, 0x00, 0x01}

	frame, err := p.Pack(transactionID, unitID, pdu)
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}

	gotTID, gotUID, gotPDU, err := p.Unpack(frame)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if gotTID != transactionID {
		t.Errorf("transactionID mismatch: got %04x, want %04x", gotTID, transactionID)
	}
	if gotUID != unitID {
		t.Errorf("unitID mismatch: got %02x, want %02x", gotUID, unitID)
	}
	if !bytes.Equal(gotPDU, pdu) {
		t.Errorf("PDU mismatch: got %v, want %v", gotPDU, pdu)
	}
}

func TestTCPPackager_Pack_Invalid(t *testing.T) {
	p := NewTCPPackager()
	_, err := p.Pack(1, 1, nil)
	if err == nil {
		t.Error("Pack should fail for empty PDU")
	}
	_, err = p.Pack(1, 1, make([]byte, MaxPDULength+1))
	if err == nil {
		t.Error("Pack should fail for PDU exceeding max length")
	}
}

func TestTCPPackager_Unpack_Invalid(t *testing.T) {
	p := NewTCPPackager()
	testCases := []struct {
		name  string
		frame []byte
	}{
		{"short", []byte{0x00, 0x01, 0x00, 0x00, 0x00}},
		{"protocol", []byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x02, 0x01, 0x03}},
		{"length", []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x05, 0x01, 0x03}},
	}
	for _, tc := range testCases {
		if _, _, _, err := p.Unpack(tc.frame); err == nil {
			t.Errorf("%s: Unpack should fail for % X", tc.name, tc.frame)
		}
	}
}

func TestTCPPackager_RTUConversion(t *testing.T) {
	p := NewTCPPackager()
	request := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x76, 0x87}

	mbap, err := p.FromRTU(7, request)
	if err != nil {
		t.Fatalf("FromRTU failed: %v", err)
	}
	want := []byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x06, 0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}
	if !bytes.Equal(mbap, want) {
		t.Fatalf("FromRTU = % X, want % X", mbap, want)
	}

	tid, rtu, err := p.ToRTU(mbap)
	if err != nil {
		t.Fatalf("ToRTU failed: %v", err)
	}
	if tid != 7 || !bytes.Equal(rtu, request) {
		t.Errorf("ToRTU = %d % X, want 7 % X", tid, rtu, request)
	}

	bad := append([]byte(nil), request...)
	bad[len(bad)-1] ^= 0xFF
	if _, err := p.FromRTU(1, bad); err == nil {
		t.Error("FromRTU should reject a frame with a bad CRC")
	}
}
