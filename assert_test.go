package modbus

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

// mustHex decodes a hex string, ignoring spaces.
func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

// assertFramesEqual checks emitted frames against the expected list.
func assertFramesEqual(t *testing.T, expected [][]byte, actual [][]byte) {
	t.Helper()
	if len(expected) != len(actual) {
		t.Fatalf("Expected %d frames, but got %d: % X", len(expected), len(actual), actual)
	}
	for i := range expected {
		if !bytes.Equal(expected[i], actual[i]) {
			t.Errorf("frame %d: expected % X, but got % X", i, expected[i], actual[i])
		}
	}
}
