package knxtunnel

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

// newLoopbackTransport opens a Transport pointed at another Transport's
// local port on 127.0.0.1, so the pair can exchange real UDP datagrams.
func newLoopbackTransport(t *testing.T, peerPort int) *Transport {
	t.Helper()
	tr, err := NewTransport("127.0.0.1", peerPort, noopLogger{})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func localPort(t *testing.T, tr *Transport) int {
	t.Helper()
	return int(tr.LocalHPAI().Port)
}

func TestTransportSendControlReceivedByPeer(t *testing.T) {
	a, err := NewTransport("127.0.0.1", 0, noopLogger{})
	if err != nil {
		t.Fatalf("NewTransport a: %v", err)
	}
	defer a.Close()

	b := newLoopbackTransport(t, localPort(t, a))

	received := make(chan []byte, 1)
	a.OnFrame(func(src *net.UDPAddr, data []byte) {
		received <- data
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Run(ctx)
	}()

	payload := []byte{0x06, 0x10, 0x02, 0x05, 0x00, 0x0A}
	if err := b.SendControl(payload); err != nil {
		t.Fatalf("SendControl: %v", err)
	}

	select {
	case got := <-received:
		if len(got) != len(payload) {
			t.Errorf("received %d bytes, want %d", len(got), len(payload))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	cancel()
	wg.Wait()
}

func TestTransportSendDataUsesDataEndpoint(t *testing.T) {
	a, err := NewTransport("127.0.0.1", 0, noopLogger{})
	if err != nil {
		t.Fatalf("NewTransport a: %v", err)
	}
	defer a.Close()
	aPort := localPort(t, a)

	// b initially points its "gateway" at a bogus port, then SetDataEndpoint
	// redirects its data traffic to a's real port.
	b, err := NewTransport("127.0.0.1", 1, noopLogger{})
	if err != nil {
		t.Fatalf("NewTransport b: %v", err)
	}
	defer b.Close()
	b.SetDataEndpoint(net.ParseIP("127.0.0.1"), uint16(aPort))

	received := make(chan []byte, 1)
	a.OnFrame(func(src *net.UDPAddr, data []byte) { received <- data })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	if err := b.SendData([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data-endpoint frame")
	}
}

func TestTransportSetDataEndpointIgnoresUnspecified(t *testing.T) {
	tr, err := NewTransport("127.0.0.1", 3671, noopLogger{})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Close()

	before := tr.gatewayData
	tr.SetDataEndpoint(net.IPv4zero, 1234)
	if tr.gatewayData != before {
		t.Error("SetDataEndpoint should ignore an unspecified IP")
	}
	tr.SetDataEndpoint(nil, 1234)
	if tr.gatewayData != before {
		t.Error("SetDataEndpoint should ignore a nil IP")
	}
}

func TestTransportStatsCountFrames(t *testing.T) {
	a, err := NewTransport("127.0.0.1", 0, noopLogger{})
	if err != nil {
		t.Fatalf("NewTransport a: %v", err)
	}
	defer a.Close()
	b := newLoopbackTransport(t, localPort(t, a))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.OnFrame(func(*net.UDPAddr, []byte) {})
	go a.Run(ctx)

	if err := b.SendControl([]byte{0x01}); err != nil {
		t.Fatalf("SendControl: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.Stats().FramesRx >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := a.Stats().FramesRx; got < 1 {
		t.Errorf("FramesRx = %d, want >= 1", got)
	}
	if got := b.Stats().FramesTx; got < 1 {
		t.Errorf("FramesTx = %d, want >= 1", got)
	}
}

func TestTransportLocalHPAIReflectsListenPort(t *testing.T) {
	tr, err := NewTransport("127.0.0.1", 3671, noopLogger{})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Close()

	hpai := tr.LocalHPAI()
	if hpai.Port == 0 {
		t.Error("LocalHPAI().Port = 0, want an ephemeral port")
	}
	if _, err := strconv.Atoi(strconv.Itoa(int(hpai.Port))); err != nil {
		t.Errorf("unexpected port value: %v", err)
	}
}

func TestTransportCloseIsIdempotent(t *testing.T) {
	tr, err := NewTransport("127.0.0.1", 3671, noopLogger{})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	// A second close on an already-closed net.UDPConn returns an error from
	// the OS; Transport doesn't swallow it, so just make sure it doesn't panic.
	_ = tr.Close()
}

func TestTransportRunStopsOnContextCancel(t *testing.T) {
	tr, err := NewTransport("127.0.0.1", 3671, noopLogger{})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
