package knxtunnel

import (
	"context"
	"net"
	"testing"
	"time"
)

// fakeGateway is a minimal UDP peer standing in for a KNXnet/IP gateway: it
// listens on its own socket and invokes handle for every received datagram.
// Tests register a handler that decodes the service type and replies.
type fakeGateway struct {
	conn *net.UDPConn
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &fakeGateway{conn: conn}
}

func (g *fakeGateway) port() int {
	return g.conn.LocalAddr().(*net.UDPAddr).Port
}

func (g *fakeGateway) serve(t *testing.T, handle func(src *net.UDPAddr, data []byte) []byte) {
	t.Helper()
	go func() {
		buf := make([]byte, readBufferSize)
		for {
			n, src, err := g.conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			frame := make([]byte, n)
			copy(frame, buf[:n])
			if reply := handle(src, frame); reply != nil {
				g.conn.WriteToUDP(reply, src)
			}
		}
	}()
}

func newTestConnection(t *testing.T, gatewayPort int, sched Scheduler) (*Connection, *Transport) {
	t.Helper()
	tr, err := NewTransport("127.0.0.1", gatewayPort, noopLogger{})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	t.Cleanup(func() { tr.Close() })

	cfg := DefaultConnectionConfig("127.0.0.1")
	cfg.GatewayPort = gatewayPort
	cfg.AckTimeout = 50 * time.Millisecond
	cfg.AckRetries = 1
	cfg.ConnectTimeout = 100 * time.Millisecond
	cfg.ConnectAttempts = 2
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.HeartbeatAckTimeout = 50 * time.Millisecond
	cfg.HeartbeatMaxFailures = 2
	cfg.ReconnectBackoffMin = 10 * time.Millisecond
	cfg.ReconnectBackoffMax = 20 * time.Millisecond

	conn, err := NewConnection(cfg, tr, sched, noopLogger{})
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go tr.Run(ctx)

	return conn, tr
}

// acceptConnectRequests replies to every CONNECT_REQUEST with a success
// response carrying channelID, echoing the requester's own address back as
// the data endpoint.
func acceptConnectRequests(channelID byte) func(src *net.UDPAddr, data []byte) []byte {
	return func(src *net.UDPAddr, data []byte) []byte {
		hdr, err := DecodeHeader(data)
		if err != nil || hdr.Service != SvcConnectRequest {
			return nil
		}
		resp := ConnectResponse{
			ChannelID:    channelID,
			Status:       StatusNoError,
			DataEndpoint: HPAI{IP: src.IP, Port: uint16(src.Port)},
		}
		return resp.Encode()
	}
}

func TestConnectionConnectSuccess(t *testing.T) {
	gw := newFakeGateway(t)
	gw.serve(t, acceptConnectRequests(0x01))

	conn, _ := newTestConnection(t, gw.port(), NewRealScheduler())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if conn.State() != StateConnected {
		t.Errorf("State() = %s, want connected", conn.State())
	}
}

func TestConnectionConnectFailureStatus(t *testing.T) {
	gw := newFakeGateway(t)
	gw.serve(t, func(src *net.UDPAddr, data []byte) []byte {
		hdr, err := DecodeHeader(data)
		if err != nil || hdr.Service != SvcConnectRequest {
			return nil
		}
		resp := ConnectResponse{Status: StatusNoMoreConnections}
		return resp.Encode()
	})

	conn, _ := newTestConnection(t, gw.port(), NewRealScheduler())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := conn.Connect(ctx)
	if err == nil {
		t.Fatal("expected Connect to fail")
	}
	if conn.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", conn.State())
	}
}

func TestConnectionConnectTimeoutExhaustsAttempts(t *testing.T) {
	gw := newFakeGateway(t)
	// No handler registered: every CONNECT_REQUEST goes unanswered.
	gw.serve(t, func(src *net.UDPAddr, data []byte) []byte { return nil })

	sched := NewVirtualScheduler(time.Now())
	conn, _ := newTestConnection(t, gw.port(), sched)

	result := make(chan error, 1)
	go func() { result <- conn.Connect(context.Background()) }()

	// Let the first attempt's send and timer registration happen.
	deadline := time.Now().Add(2 * time.Second)
	for conn.State() != StateConnecting && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if conn.State() != StateConnecting {
		t.Fatal("connection never entered connecting state")
	}

	for i := 0; i < 2; i++ {
		sched.Advance(200 * time.Millisecond)
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case err := <-result:
		if err == nil {
			t.Fatal("expected a timeout error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect never returned")
	}
}

func TestConnectionWriteSendsAndWaitsForAck(t *testing.T) {
	gw := newFakeGateway(t)
	var gwSeq byte
	gw.serve(t, func(src *net.UDPAddr, data []byte) []byte {
		hdr, err := DecodeHeader(data)
		if err != nil {
			return nil
		}
		switch hdr.Service {
		case SvcConnectRequest:
			resp := ConnectResponse{ChannelID: 0x01, Status: StatusNoError, DataEndpoint: HPAI{IP: src.IP, Port: uint16(src.Port)}}
			return resp.Encode()
		case SvcTunnelingRequest:
			req, err := DecodeTunnelingRequest(data[headerSize:])
			if err != nil {
				return nil
			}
			ack := TunnelingAck{ChannelID: req.ChannelID, SequenceNo: req.SequenceNo, Status: StatusNoError}

			written, err := DecodeTelegram(req.CEMI)
			if err == nil && written.MessageCode == LDataReq {
				con := Telegram{
					MessageCode: LDataCon,
					Destination: written.Destination,
					APCI:        written.APCI,
					Data:        written.Data,
					Control1:    control1Default,
					Control2:    control2GroupHop6,
				}
				conReq := TunnelingRequest{ChannelID: req.ChannelID, SequenceNo: gwSeq, CEMI: con.Encode()}
				gwSeq++
				go gw.conn.WriteToUDP(conReq.Encode(), src)
			}
			return ack.Encode()
		}
		return nil
	})

	conn, _ := newTestConnection(t, gw.port(), NewRealScheduler())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ga, err := ParseGroupAddress("1/2/3")
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, ga, []byte{0x01}); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestConnectionWriteFailsWhenNotConnected(t *testing.T) {
	gw := newFakeGateway(t)
	gw.serve(t, func(src *net.UDPAddr, data []byte) []byte { return nil })
	conn, _ := newTestConnection(t, gw.port(), NewRealScheduler())

	ga, _ := ParseGroupAddress("1/2/3")
	err := conn.Write(context.Background(), ga, []byte{0x01})
	if err != ErrNotConnected {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

func TestConnectionWriteStallsAfterAckRetriesExhausted(t *testing.T) {
	gw := newFakeGateway(t)
	gw.serve(t, func(src *net.UDPAddr, data []byte) []byte {
		hdr, err := DecodeHeader(data)
		if err != nil || hdr.Service != SvcConnectRequest {
			return nil // never ack tunneling requests
		}
		resp := ConnectResponse{ChannelID: 0x01, Status: StatusNoError, DataEndpoint: HPAI{IP: src.IP, Port: uint16(src.Port)}}
		return resp.Encode()
	})

	sched := NewVirtualScheduler(time.Now())
	conn, _ := newTestConnection(t, gw.port(), sched)

	var states []ConnState
	conn.OnStateChange(func(s ConnState) { states = append(states, s) })

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ga, _ := ParseGroupAddress("1/2/3")
	result := make(chan error, 1)
	go func() { result <- conn.Write(context.Background(), ga, []byte{0x01}) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(result) == 0 && time.Now().Before(deadline) {
		sched.Advance(60 * time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case err := <-result:
		if err != ErrTunnelStalled {
			t.Errorf("error = %v, want ErrTunnelStalled", err)
		}
	default:
		t.Fatal("write never completed")
	}
}

func TestConnectionHandleTunnelingRequestDeliversTelegramOnce(t *testing.T) {
	gw := newFakeGateway(t)
	gw.serve(t, acceptConnectRequests(0x01))

	conn, tr := newTestConnection(t, gw.port(), NewRealScheduler())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	received := make(chan Telegram, 2)
	conn.OnTelegram(func(tg Telegram) { received <- tg })

	ga, _ := ParseGroupAddress("1/2/3")
	tg := NewWriteTelegram(ga, []byte{0x01})
	req := TunnelingRequest{ChannelID: 0x01, SequenceNo: 0x00, CEMI: tg.Encode()}

	local := tr.LocalHPAI()
	dst := &net.UDPAddr{IP: local.IP, Port: int(local.Port)}
	gw.conn.WriteToUDP(req.Encode(), dst)
	gw.conn.WriteToUDP(req.Encode(), dst) // duplicate sequence number

	select {
	case got := <-received:
		if got.Destination != ga {
			t.Errorf("Destination = %s, want %s", got.Destination, ga)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("telegram never delivered")
	}

	select {
	case <-received:
		t.Error("duplicate TUNNELING_REQUEST delivered a second telegram")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConnectionDisconnect(t *testing.T) {
	gw := newFakeGateway(t)
	gw.serve(t, acceptConnectRequests(0x01))

	sched := NewVirtualScheduler(time.Now())
	conn, _ := newTestConnection(t, gw.port(), sched)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	result := make(chan error, 1)
	go func() { result <- conn.Disconnect(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for conn.State() != StateDisconnecting && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	sched.Advance(200 * time.Millisecond)

	select {
	case err := <-result:
		if err != nil {
			t.Errorf("Disconnect: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect never returned")
	}
	if conn.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", conn.State())
	}
}

func TestConnectionConfigValidate(t *testing.T) {
	good := DefaultConnectionConfig("192.168.1.50")
	if err := good.Validate(); err != nil {
		t.Errorf("Validate() on default config: %v", err)
	}

	missingHost := good
	missingHost.GatewayHost = ""
	if err := missingHost.Validate(); err == nil {
		t.Error("expected an error for a missing gateway host")
	}

	badTimeout := good
	badTimeout.AckTimeout = 0
	if err := badTimeout.Validate(); err == nil {
		t.Error("expected an error for a zero ack timeout")
	}

	badAttempts := good
	badAttempts.ConnectAttempts = 0
	if err := badAttempts.Validate(); err == nil {
		t.Error("expected an error for zero connect attempts")
	}

	badBackoff := good
	badBackoff.ReconnectBackoffMax = good.ReconnectBackoffMin - time.Second
	if err := badBackoff.Validate(); err == nil {
		t.Error("expected an error for an inverted backoff range")
	}
}

func TestConnStateString(t *testing.T) {
	tests := map[ConnState]string{
		StateDisconnected:  "disconnected",
		StateConnecting:    "connecting",
		StateConnected:     "connected",
		StateDisconnecting: "disconnecting",
		ConnState(99):      "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("ConnState(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
