package modbus

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

// startEnvelopeServer accepts one connection and hands it to serve.
func startEnvelopeServer(t *testing.T, serve func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}()
	return ln.Addr().String()
}

func TestTCPTransporter_Deliveries(t *testing.T) {
	received := make(chan []byte, 1)
	addr := startEnvelopeServer(t, func(conn net.Conn) {
		request, err := ReadEnvelope(conn)
		if err != nil {
			return
		}
		received <- request
		// Three envelopes in one write, the last split across two writes.
		stream := append(PackEnvelope(1, []byte{0x11}), PackEnvelope(1, []byte{0x03, 0x06})...)
		last := PackEnvelope(1, []byte{0xAE, 0x41, 0x56})
		conn.Write(append(stream, last[:4]...))
		time.Sleep(20 * time.Millisecond)
		conn.Write(last[4:])
		time.Sleep(50 * time.Millisecond)
	})

	tr := NewTCPTransporter(addr, time.Second, time.Second, nil)
	deliveries := make(chan []byte, 8)
	closed := make(chan struct{})
	err := tr.Connect(context.Background(), TransportEvents{
		OnData:  func(b []byte) { deliveries <- b },
		OnClose: func() { close(closed) },
		OnError: func(err error) { t.Errorf("unexpected error: %v", err) },
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer tr.Destroy()

	if err := tr.Send(PackEnvelope(1, mustHex(t, readHoldingRequest))); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case got := <-received:
		if want := PackEnvelope(1, mustHex(t, readHoldingRequest)); !bytes.Equal(got, want) {
			t.Errorf("server got % X, want % X", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("server did not receive the request")
	}

	want := [][]byte{
		PackEnvelope(1, []byte{0x11}),
		PackEnvelope(1, []byte{0x03, 0x06}),
		PackEnvelope(1, []byte{0xAE, 0x41, 0x56}),
	}
	for i, w := range want {
		select {
		case got := <-deliveries:
			if !bytes.Equal(got, w) {
				t.Errorf("delivery %d = % X, want % X", i, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("delivery %d not received", i)
		}
	}

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("OnClose not called after the peer closed")
	}
}

func TestTCPTransporter_ConnectError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	tr := NewTCPTransporter(addr, time.Second, time.Second, nil)
	err = tr.Connect(context.Background(), TransportEvents{})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect error = %v, want *ConnectionError", err)
	}
	if connErr.Addr != addr {
		t.Errorf("ConnectionError.Addr = %q, want %q", connErr.Addr, addr)
	}
}

func TestTCPTransporter_SendNotConnected(t *testing.T) {
	tr := NewTCPTransporter("127.0.0.1:1", time.Second, time.Second, nil)
	if err := tr.Send([]byte{0x01}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send error = %v, want ErrNotConnected", err)
	}
	if err := tr.Destroy(); err != nil {
		t.Errorf("Destroy on idle transporter failed: %v", err)
	}
}

func TestTCPTransporter_DestroyRaisesNoEvents(t *testing.T) {
	addr := startEnvelopeServer(t, func(conn net.Conn) {
		io.Copy(io.Discard, conn)
	})

	tr := NewTCPTransporter(addr, time.Second, time.Second, nil)
	events := make(chan string, 2)
	err := tr.Connect(context.Background(), TransportEvents{
		OnData:  func([]byte) {},
		OnClose: func() { events <- "close" },
		OnError: func(error) { events <- "error" },
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := tr.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if err := tr.Destroy(); err != nil {
		t.Fatalf("second Destroy failed: %v", err)
	}

	select {
	case e := <-events:
		t.Errorf("unexpected %s event after Destroy", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReadEnvelope(t *testing.T) {
	r := bytes.NewReader(append(mustHex(t, "00 07 00 00 00 02 11 03"), mustHex(t, "00 08 00 00")...))
	got, err := ReadEnvelope(r)
	if err != nil {
		t.Fatalf("ReadEnvelope failed: %v", err)
	}
	if want := mustHex(t, "00 07 00 00 00 02 11 03"); !bytes.Equal(got, want) {
		t.Errorf("ReadEnvelope = % X, want % X", got, want)
	}
	if _, err := ReadEnvelope(r); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("truncated header error = %v, want io.ErrUnexpectedEOF", err)
	}

	if _, err := ReadEnvelope(bytes.NewReader(mustHex(t, "00 01 00 00 01 01"))); err == nil {
		t.Error("ReadEnvelope should reject an oversized declared length")
	}
	if _, err := ReadEnvelope(bytes.NewReader(mustHex(t, "00 01 00 00 00 04 11 03"))); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("truncated payload error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestTCPPort_EndToEnd(t *testing.T) {
	response := mustHex(t, readHoldingResponse)
	addr := startEnvelopeServer(t, func(conn net.Conn) {
		request, err := ReadEnvelope(conn)
		if err != nil {
			return
		}
		env, _ := ParseEnvelopeHeader(request)
		for _, b := range response {
			conn.Write(PackEnvelope(env.SequenceID, []byte{b}))
		}
		io.Copy(io.Discard, conn)
	})

	config := DefaultPortConfig()
	config.Address = addr
	port := NewTCPPort(config)
	frames := make(chan []byte, 1)
	port.OnFrame(func(frame []byte) { frames <- frame })
	if err := port.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer port.Close()

	if err := port.Write(mustHex(t, readHoldingRequest+"00 00")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	select {
	case frame := <-frames:
		if want := mustHex(t, readHoldingFrame); !bytes.Equal(frame, want) {
			t.Errorf("frame = % X, want % X", frame, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
}
