package knxtunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const (
	// defaultGatewayPort is the standard KNXnet/IP control port.
	defaultGatewayPort = 3671

	readBufferSize = 512
)

// TransportStats holds wire-level counters, read with atomic loads so the
// event loop and any monitoring caller can read them without a lock.
type TransportStats struct {
	FramesTx uint64
	FramesRx uint64
	Errors   uint64
}

// Transport owns the UDP socket(s) used to talk to a KNXnet/IP gateway: one
// local endpoint serves as both the control and data endpoint, which is
// sufficient whenever no NAT separates the two roles (the common case;
// see spec discussion of HPAI in frame.go).
type Transport struct {
	log Logger

	conn       *net.UDPConn
	gatewayCtrl *net.UDPAddr
	gatewayData *net.UDPAddr

	onFrame func(src *net.UDPAddr, data []byte)

	framesTx atomic.Uint64
	framesRx atomic.Uint64
	errors   atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// NewTransport opens a local UDP socket and resolves the gateway's control
// endpoint address. The data endpoint defaults to the control endpoint until
// a CONNECT_RESPONSE supplies a different one.
func NewTransport(gatewayHost string, gatewayPort int, log Logger) (*Transport, error) {
	if gatewayPort == 0 {
		gatewayPort = defaultGatewayPort
	}
	gwAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", gatewayHost, gatewayPort))
	if err != nil {
		return nil, fmt.Errorf("%w: resolving gateway address: %v", ErrConfig, err)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: opening local UDP socket: %v", ErrConfig, err)
	}
	if log == nil {
		log = noopLogger{}
	}
	return &Transport{
		log:         log,
		conn:        conn,
		gatewayCtrl: gwAddr,
		gatewayData: gwAddr,
	}, nil
}

// SetDataEndpoint updates the gateway endpoint tunnelling requests are sent
// to, once a CONNECT_RESPONSE names a distinct one.
func (t *Transport) SetDataEndpoint(ip net.IP, port uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ip == nil || ip.IsUnspecified() {
		return
	}
	t.gatewayData = &net.UDPAddr{IP: ip, Port: int(port)}
}

// LocalHPAI returns this transport's local endpoint in HPAI form, suitable
// for embedding in CONNECT_REQUEST/CONNECTIONSTATE_REQUEST/DISCONNECT_REQUEST.
func (t *Transport) LocalHPAI() HPAI {
	local := t.conn.LocalAddr().(*net.UDPAddr)
	ip := local.IP
	if ip == nil || ip.IsUnspecified() {
		ip = localOutboundIP(t.gatewayCtrl.IP)
	}
	return HPAI{IP: ip, Port: uint16(local.Port)} //nolint:gosec // UDP ports fit uint16
}

func localOutboundIP(toward net.IP) net.IP {
	conn, err := net.Dial("udp4", fmt.Sprintf("%s:%d", toward.String(), defaultGatewayPort))
	if err != nil {
		return net.IPv4zero
	}
	defer conn.Close() //nolint:errcheck // best-effort probe socket
	return conn.LocalAddr().(*net.UDPAddr).IP
}

// SendControl sends a frame to the gateway's control endpoint (CONNECT_*,
// CONNECTIONSTATE_*, DISCONNECT_*).
func (t *Transport) SendControl(data []byte) error {
	return t.send(t.gatewayCtrl, data)
}

// SendData sends a frame to the gateway's data endpoint (TUNNELING_REQUEST/ACK).
func (t *Transport) SendData(data []byte) error {
	t.mu.Lock()
	dst := t.gatewayData
	t.mu.Unlock()
	return t.send(dst, data)
}

func (t *Transport) send(dst *net.UDPAddr, data []byte) error {
	_, err := t.conn.WriteToUDP(data, dst)
	if err != nil {
		t.errors.Add(1)
		return fmt.Errorf("%w: sending UDP frame: %v", ErrProtocol, err)
	}
	t.framesTx.Add(1)
	return nil
}

// OnFrame registers the callback invoked for every received datagram. Must
// be set before Run.
func (t *Transport) OnFrame(f func(src *net.UDPAddr, data []byte)) {
	t.onFrame = f
}

// Run drives the receive loop until ctx is cancelled, then closes the
// socket. It blocks; call it from its own goroutine.
func (t *Transport) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		return t.conn.Close()
	})

	g.Go(func() error {
		buf := make([]byte, readBufferSize)
		for {
			n, src, err := t.conn.ReadFromUDP(buf)
			if err != nil {
				t.mu.Lock()
				closed := t.closed
				t.mu.Unlock()
				if closed {
					return nil
				}
				t.errors.Add(1)
				return fmt.Errorf("%w: reading UDP frame: %v", ErrProtocol, err)
			}
			t.framesRx.Add(1)
			if t.onFrame != nil {
				frame := make([]byte, n)
				copy(frame, buf[:n])
				t.onFrame(src, frame)
			}
		}
	})

	return g.Wait()
}

// Stats returns a snapshot of wire-level counters.
func (t *Transport) Stats() TransportStats {
	return TransportStats{
		FramesTx: t.framesTx.Load(),
		FramesRx: t.framesRx.Load(),
		Errors:   t.errors.Load(),
	}
}

// Close shuts down the local socket. Safe to call even if Run was never
// started.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}

// Logger is the minimal structured logging surface this package depends on;
// satisfied by *internal/infrastructure/logging.Logger in production and a no-op in tests.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
