package modbus

import (
	"bytes"
	"errors"
	"testing"
)

func TestEnvelopeCodec_Wrap(t *testing.T) {
	c := NewEnvelopeCodec(3)
	got := c.Wrap(mustHex(t, readHoldingRequest))
	want := mustHex(t, "00 04 00 00 00 08 11 03 00 6B 00 03 76 87")
	if !bytes.Equal(got, want) {
		t.Errorf("Wrap = % X, want % X", got, want)
	}
	if c.LastSequenceID() != 4 {
		t.Errorf("LastSequenceID() = %d, want 4", c.LastSequenceID())
	}
}

func TestEnvelopeCodec_SequenceIncrements(t *testing.T) {
	c := NewEnvelopeCodec(0)
	for want := uint16(1); want <= 5; want++ {
		env, err := ParseEnvelopeHeader(c.Wrap([]byte{0x01}))
		if err != nil {
			t.Fatalf("ParseEnvelopeHeader failed: %v", err)
		}
		if env.SequenceID != want {
			t.Errorf("SequenceID = %d, want %d", env.SequenceID, want)
		}
	}
}

func TestEnvelopeCodec_SequenceWraps(t *testing.T) {
	c := NewEnvelopeCodec(0xFFFE)
	if id := c.NextSequenceID(); id != 0xFFFF {
		t.Errorf("NextSequenceID() = %#04x, want 0xffff", id)
	}
	if id := c.NextSequenceID(); id != 0 {
		t.Errorf("NextSequenceID() = %#04x, want 0", id)
	}
	if id := c.NextSequenceID(); id != 1 {
		t.Errorf("NextSequenceID() = %#04x, want 1", id)
	}
}

func TestEnvelopeCodec_SeparateCounters(t *testing.T) {
	a, b := NewEnvelopeCodec(0), NewEnvelopeCodec(0)
	a.Wrap([]byte{0x01})
	a.Wrap([]byte{0x01})
	if id := b.NextSequenceID(); id != 1 {
		t.Errorf("second codec NextSequenceID() = %d, want 1", id)
	}
}

func TestEnvelopeCodec_Unwrap(t *testing.T) {
	c := NewEnvelopeCodec(0)
	testCases := []struct {
		name     string
		delivery string
		seq      uint16
		declared uint16
		payload  string
	}{
		{"single byte, declared six", "00 00 00 00 00 06 11", 0, 6, "11"},
		{"declared matches", "00 2A 00 00 00 05 11 83 04 41 36", 42, 5, "11 83 04 41 36"},
		{"header only", "00 01 00 00 00 00", 1, 0, ""},
		{"declared shorter than payload", "00 01 00 00 00 01 11 03 06", 1, 1, "11 03 06"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env, payload, err := c.Unwrap(mustHex(t, tc.delivery))
			if err != nil {
				t.Fatalf("Unwrap failed: %v", err)
			}
			if env.SequenceID != tc.seq || env.DeclaredLength != tc.declared || env.Marker != 0 {
				t.Errorf("envelope = %+v", env)
			}
			if !bytes.Equal(payload, mustHex(t, tc.payload)) {
				t.Errorf("payload = % X, want %s", payload, tc.payload)
			}
		})
	}
}

func TestEnvelopeCodec_UnwrapShort(t *testing.T) {
	c := NewEnvelopeCodec(0)
	for _, delivery := range [][]byte{nil, {0x00}, {0x00, 0x01, 0x00, 0x00, 0x00}} {
		if _, _, err := c.Unwrap(delivery); !errors.Is(err, ErrShortEnvelope) {
			t.Errorf("Unwrap(% X) error = %v, want ErrShortEnvelope", delivery, err)
		}
	}
}

func TestPackEnvelope(t *testing.T) {
	got := PackEnvelope(0x1234, []byte{0x11, 0x83, 0x04, 0x41, 0x36})
	want := mustHex(t, "12 34 00 00 00 05 11 83 04 41 36")
	if !bytes.Equal(got, want) {
		t.Errorf("PackEnvelope = % X, want % X", got, want)
	}
}
