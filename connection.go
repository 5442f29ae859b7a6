package knxtunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// ConnState is one of the four states a tunnelling Connection moves
// through: Disconnected, Connecting, Connected, Disconnecting.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

// String renders the state name for logging.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// ConnectionConfig controls every timing parameter of the connection state
// machine. DefaultConnectionConfig returns a fully populated one; zero-value
// fields are not filled in, and Validate rejects zero timeouts.
type ConnectionConfig struct {
	GatewayHost string
	GatewayPort int

	AckTimeout time.Duration
	AckRetries int

	// ConfirmTimeout bounds how long a write waits for the gateway's
	// L_Data.con after the TUNNELING_ACK has already arrived. Expiry is
	// reported as ErrTunnelStalled.
	ConfirmTimeout time.Duration

	ConnectTimeout  time.Duration
	ConnectAttempts int

	HeartbeatInterval     time.Duration
	HeartbeatAckTimeout   time.Duration
	HeartbeatMaxFailures  int

	ReconnectBackoffMin time.Duration
	ReconnectBackoffMax time.Duration

	MaxQueueAge time.Duration
}

// DefaultConnectionConfig returns the timing parameters used throughout
// the KNXnet/IP tunnelling specification.
func DefaultConnectionConfig(gatewayHost string) ConnectionConfig {
	return ConnectionConfig{
		GatewayHost:          gatewayHost,
		GatewayPort:          defaultGatewayPort,
		AckTimeout:           1000 * time.Millisecond,
		AckRetries:           1,
		ConfirmTimeout:       3 * time.Second,
		ConnectTimeout:       10 * time.Second,
		ConnectAttempts:      3,
		HeartbeatInterval:    60 * time.Second,
		HeartbeatAckTimeout:  10 * time.Second,
		HeartbeatMaxFailures: 3,
		ReconnectBackoffMin:  1 * time.Second,
		ReconnectBackoffMax:  60 * time.Second,
		MaxQueueAge:          30 * time.Second,
	}
}

// Validate checks the config for obviously broken values.
func (c ConnectionConfig) Validate() error {
	if c.GatewayHost == "" {
		return fmt.Errorf("%w: gateway host is required", ErrConfig)
	}
	if c.AckTimeout <= 0 || c.ConfirmTimeout <= 0 || c.ConnectTimeout <= 0 || c.HeartbeatInterval <= 0 || c.HeartbeatAckTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrConfig)
	}
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("%w: connect attempts must be at least 1", ErrConfig)
	}
	if c.ReconnectBackoffMin <= 0 || c.ReconnectBackoffMax < c.ReconnectBackoffMin {
		return fmt.Errorf("%w: reconnect backoff bounds are invalid", ErrConfig)
	}
	return nil
}

// queuedWrite is an outbound tunnelling request waiting for the single
// in-flight slot to free up.
type queuedWrite struct {
	telegram Telegram
	queuedAt time.Time
	result   chan error
}

// pendingRequest tracks the one TUNNELING_REQUEST the connection may have in
// flight at a time (spec invariant: a second request never goes out before
// the first is acknowledged or times out). Reaching StatusNoError on the
// TUNNELING_ACK only confirms the gateway accepted the frame; the request
// stays pending, now waiting on the bus-level L_Data.con, until that arrives
// or confirmTimer expires.
type pendingRequest struct {
	seq      byte
	telegram Telegram
	result   chan error
	attempt  int

	acked        bool
	confirmTimer Timer
}

// Connection is a client-side KNXnet/IP tunnelling connection: it owns the
// CONNECT/heartbeat/TUNNELING/DISCONNECT state machine over a Transport.
// All state is guarded by a single mutex; the machine is a cooperative event
// loop, not a pool of independently-locked fields (see DESIGN.md).
type Connection struct {
	cfg   ConnectionConfig
	tr    *Transport
	sched Scheduler
	log   Logger

	mu    sync.Mutex
	state ConnState

	channelID byte
	outSeq    byte
	inSeq     byte
	haveInSeq bool

	pending *pendingRequest
	queue   []*queuedWrite

	connectAttempt    int
	heartbeatFailures int
	reconnectDelay    time.Duration

	ackTimer       Timer
	heartbeatTimer Timer
	hbAckTimer     Timer
	connectTimer   Timer
	connectResult  chan error

	onTelegram    func(Telegram)
	onStateChange func(ConnState)

	stopped bool
}

// NewConnection builds a Connection over an already-opened Transport.
func NewConnection(cfg ConnectionConfig, tr *Transport, sched Scheduler, log Logger) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = noopLogger{}
	}
	if sched == nil {
		sched = NewRealScheduler()
	}
	c := &Connection{cfg: cfg, tr: tr, sched: sched, log: log, state: StateDisconnected}
	tr.OnFrame(c.handleFrame)
	return c, nil
}

// OnTelegram registers the callback invoked for every inbound group
// telegram (L_Data.ind forwarded by the gateway). Not safe to change once
// Connect has been called.
func (c *Connection) OnTelegram(f func(Telegram)) { c.onTelegram = f }

// OnStateChange registers the callback invoked whenever the connection
// moves between states.
func (c *Connection) OnStateChange(f func(ConnState)) { c.onStateChange = f }

// State returns the current connection state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s ConnState) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onStateChange != nil {
		cb := c.onStateChange
		go cb(s)
	}
}

// Connect performs the CONNECT_REQUEST handshake, retrying up to
// cfg.ConnectAttempts times with cfg.ConnectTimeout between attempts. On
// success the connection enters StateConnected and the heartbeat begins.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("%w: connect called in state %s", ErrProtocol, c.state)
	}
	c.setState(StateConnecting)
	c.connectAttempt = 0
	result := make(chan error, 1)
	c.connectResult = result
	c.mu.Unlock()

	c.attemptConnect()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) attemptConnect() {
	c.mu.Lock()
	c.connectAttempt++
	attempt := c.connectAttempt
	local := c.tr.LocalHPAI()
	req := ConnectRequest{ControlEndpoint: local, DataEndpoint: local}
	result := c.connectResult
	c.mu.Unlock()

	if err := c.tr.SendControl(req.Encode()); err != nil {
		if result != nil {
			result <- err
		}
		return
	}

	c.mu.Lock()
	c.connectTimer = c.sched.AfterFunc(c.cfg.ConnectTimeout, func() {
		c.onConnectTimeout(attempt)
	})
	c.mu.Unlock()
}

func (c *Connection) onConnectTimeout(attempt int) {
	c.mu.Lock()
	if c.state != StateConnecting || attempt != c.connectAttempt {
		c.mu.Unlock()
		return
	}
	if c.connectAttempt >= c.cfg.ConnectAttempts {
		c.setState(StateDisconnected)
		result := c.connectResult
		c.connectResult = nil
		attempts := c.connectAttempt
		c.mu.Unlock()
		if result != nil {
			result <- fmt.Errorf("%w: after %d attempts", ErrConnectTimeout, attempts)
		}
		return
	}
	c.mu.Unlock()
	c.attemptConnect()
}

// handleConnectResponse processes a CONNECT_RESPONSE body.
func (c *Connection) handleConnectResponse(body []byte) {
	resp, err := DecodeConnectResponse(body)
	if err != nil {
		c.log.Warn("malformed CONNECT_RESPONSE", "error", err)
		return
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	if c.connectTimer != nil {
		c.connectTimer.Stop()
	}
	connectResult := c.connectResult
	if resp.Status != StatusNoError {
		c.setState(StateDisconnected)
		c.connectResult = nil
		c.mu.Unlock()
		if connectResult != nil {
			connectResult <- fmt.Errorf("%w: gateway status 0x%02X", ErrConnectFailed, resp.Status)
		}
		return
	}
	c.channelID = resp.ChannelID
	c.outSeq = 0
	c.haveInSeq = false
	c.heartbeatFailures = 0
	c.reconnectDelay = c.cfg.ReconnectBackoffMin
	c.connectResult = nil
	if resp.DataEndpoint.Port != 0 {
		c.tr.SetDataEndpoint(resp.DataEndpoint.IP, resp.DataEndpoint.Port)
	}
	c.setState(StateConnected)
	c.scheduleHeartbeatLocked()
	c.mu.Unlock()

	if connectResult != nil {
		connectResult <- nil
	}
}

func (c *Connection) scheduleHeartbeatLocked() {
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
	}
	c.heartbeatTimer = c.sched.AfterFunc(c.cfg.HeartbeatInterval, c.sendHeartbeat)
}

func (c *Connection) sendHeartbeat() {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	req := ConnectionStateRequest{ChannelID: c.channelID, ControlEndpoint: c.tr.LocalHPAI()}
	c.mu.Unlock()

	if err := c.tr.SendControl(req.Encode()); err != nil {
		c.log.Warn("heartbeat send failed", "error", err)
	}

	c.mu.Lock()
	c.hbAckTimer = c.sched.AfterFunc(c.cfg.HeartbeatAckTimeout, c.onHeartbeatTimeout)
	c.mu.Unlock()
}

func (c *Connection) onHeartbeatTimeout() {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.heartbeatFailures++
	if c.heartbeatFailures >= c.cfg.HeartbeatMaxFailures {
		c.log.Error("heartbeat stalled, reconnecting", "failures", c.heartbeatFailures)
		c.mu.Unlock()
		c.stallAndReconnect()
		return
	}
	c.scheduleHeartbeatLocked()
	c.mu.Unlock()
}

func (c *Connection) handleConnectionStateResponse(body []byte) {
	resp, err := DecodeConnectionStateResponse(body)
	if err != nil {
		c.log.Warn("malformed CONNECTIONSTATE_RESPONSE", "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || resp.ChannelID != c.channelID {
		return
	}
	if c.hbAckTimer != nil {
		c.hbAckTimer.Stop()
	}
	if resp.Status != StatusNoError {
		c.heartbeatFailures++
	} else {
		c.heartbeatFailures = 0
	}
	c.scheduleHeartbeatLocked()
}

// stallAndReconnect tears down the current connection state and begins
// reconnecting with exponential backoff.
func (c *Connection) stallAndReconnect() {
	c.mu.Lock()
	c.failPendingLocked(ErrTunnelStalled)
	c.setState(StateDisconnected)
	delay := c.reconnectDelay
	if delay <= 0 {
		delay = c.cfg.ReconnectBackoffMin
	}
	c.mu.Unlock()

	c.sched.AfterFunc(delay, c.reconnectAttempt)

	c.mu.Lock()
	next := delay * 2
	if next > c.cfg.ReconnectBackoffMax {
		next = c.cfg.ReconnectBackoffMax
	}
	c.reconnectDelay = next
	c.mu.Unlock()
}

func (c *Connection) reconnectAttempt() {
	c.mu.Lock()
	if c.state != StateDisconnected || c.stopped {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.Connect(context.Background()); err != nil {
		c.log.Warn("reconnect attempt failed", "error", err)
		c.mu.Lock()
		delay := c.reconnectDelay
		c.mu.Unlock()
		c.sched.AfterFunc(delay, c.reconnectAttempt)
	}
}

// Write sends a GroupValueWrite, queuing it behind any in-flight request.
// The returned error reflects the outcome of the gateway's acknowledgment
// (or ErrCancelled/ErrExpired/ErrTunnelStalled for queue-lifecycle failures).
func (c *Connection) Write(ctx context.Context, ga GroupAddress, data []byte) error {
	return c.send(ctx, NewWriteTelegram(ga, data))
}

// ReadRequest sends a GroupValueRead for ga.
func (c *Connection) ReadRequest(ctx context.Context, ga GroupAddress) error {
	return c.send(ctx, NewReadTelegram(ga))
}

func (c *Connection) send(ctx context.Context, t Telegram) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	qw := &queuedWrite{telegram: t, queuedAt: c.sched.Now(), result: make(chan error, 1)}
	c.queue = append(c.queue, qw)
	c.pumpQueueLocked()
	c.mu.Unlock()

	select {
	case err := <-qw.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pumpQueueLocked sends the next queued write if no request is in flight.
// Caller must hold c.mu.
func (c *Connection) pumpQueueLocked() {
	if c.pending != nil || len(c.queue) == 0 {
		return
	}
	qw := c.queue[0]
	c.queue = c.queue[1:]

	if c.sched.Now().Sub(qw.queuedAt) > c.cfg.MaxQueueAge {
		qw.result <- ErrExpired
		c.pumpQueueLocked()
		return
	}

	seq := c.outSeq
	qw.telegram.Source = 0
	cemi := qw.telegram.Encode()
	req := TunnelingRequest{ChannelID: c.channelID, SequenceNo: seq, CEMI: cemi}

	c.pending = &pendingRequest{seq: seq, telegram: qw.telegram, result: qw.result, attempt: 1}

	if err := c.tr.SendData(req.Encode()); err != nil {
		c.pending = nil
		qw.result <- err
		c.pumpQueueLocked()
		return
	}
	c.ackTimer = c.sched.AfterFunc(c.cfg.AckTimeout, c.onAckTimeout)
}

func (c *Connection) onAckTimeout() {
	c.mu.Lock()
	p := c.pending
	if p == nil {
		c.mu.Unlock()
		return
	}
	if p.attempt > c.cfg.AckRetries {
		c.pending = nil
		c.mu.Unlock()
		p.result <- ErrTunnelStalled
		c.stallAndReconnect()
		return
	}
	p.attempt++
	req := TunnelingRequest{ChannelID: c.channelID, SequenceNo: p.seq, CEMI: p.telegram.Encode()}
	c.mu.Unlock()

	if err := c.tr.SendData(req.Encode()); err != nil {
		c.log.Warn("tunneling retransmit failed", "error", err)
	}

	c.mu.Lock()
	c.ackTimer = c.sched.AfterFunc(c.cfg.AckTimeout, c.onAckTimeout)
	c.mu.Unlock()
}

// handleTunnelingAck processes the gateway's transport-level acknowledgment
// of an outbound TUNNELING_REQUEST. A positive status only confirms the
// frame reached the gateway; the write itself isn't resolved until the
// matching L_Data.con arrives (see handleLDataConfirmation) or confirmTimer
// expires.
func (c *Connection) handleTunnelingAck(body []byte) {
	ack, err := DecodeTunnelingAck(body)
	if err != nil {
		c.log.Warn("malformed TUNNELING_ACK", "error", err)
		return
	}
	c.mu.Lock()
	p := c.pending
	if p == nil || ack.ChannelID != c.channelID || ack.SequenceNo != p.seq {
		c.mu.Unlock()
		return
	}
	if c.ackTimer != nil {
		c.ackTimer.Stop()
	}
	c.outSeq++

	if ack.Status != StatusNoError {
		c.pending = nil
		c.pumpQueueLocked()
		c.mu.Unlock()
		p.result <- fmt.Errorf("%w: status 0x%02X", ErrWriteRejected, ack.Status)
		return
	}

	p.acked = true
	p.confirmTimer = c.sched.AfterFunc(c.cfg.ConfirmTimeout, c.onConfirmTimeout)
	c.mu.Unlock()
}

// onConfirmTimeout fires when a write's TUNNELING_ACK arrived but no
// L_Data.con followed within ConfirmTimeout.
func (c *Connection) onConfirmTimeout() {
	c.mu.Lock()
	p := c.pending
	if p == nil || !p.acked {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.pumpQueueLocked()
	c.mu.Unlock()
	p.result <- fmt.Errorf("%w: no L_Data.con received", ErrTunnelStalled)
}

// handleLDataConfirmation resolves the pending write once the gateway's
// L_Data.con for it arrives, per its confirm bit in Control1 (bit 0: 0 = no
// error, 1 = error). cc is matched to the pending write by destination
// group address; only one write is ever in flight, so no sequence
// correlation beyond that is needed.
func (c *Connection) handleLDataConfirmation(cc Telegram) {
	c.mu.Lock()
	p := c.pending
	if p == nil || !p.acked || cc.Destination != p.telegram.Destination {
		c.mu.Unlock()
		return
	}
	if p.confirmTimer != nil {
		p.confirmTimer.Stop()
	}
	c.pending = nil
	c.pumpQueueLocked()
	c.mu.Unlock()

	if cc.Control1&control1ConfirmError != 0 {
		p.result <- fmt.Errorf("%w: negative L_Data.con", ErrWriteRejected)
	} else {
		p.result <- nil
	}
}

func (c *Connection) handleTunnelingRequest(src *net.UDPAddr, body []byte) {
	req, err := DecodeTunnelingRequest(body)
	if err != nil {
		c.log.Warn("malformed TUNNELING_REQUEST", "error", err)
		return
	}

	c.mu.Lock()
	if req.ChannelID != c.channelID {
		c.mu.Unlock()
		return
	}
	// expected: the next telegram in sequence (or the very first one ever
	// received on this channel). retransmit: the gateway didn't see our ack
	// for the last one we processed and is resending it; re-ack, don't
	// redeliver. Anything else falls outside that two-value window and is
	// dropped with no ack at all.
	expected := !c.haveInSeq || req.SequenceNo == c.inSeq
	retransmit := c.haveInSeq && req.SequenceNo == c.inSeq-1
	if !expected && !retransmit {
		c.mu.Unlock()
		return
	}
	ack := TunnelingAck{ChannelID: c.channelID, SequenceNo: req.SequenceNo, Status: StatusNoError}
	c.mu.Unlock()

	if err := c.tr.SendData(ack.Encode()); err != nil {
		c.log.Warn("tunneling ack send failed", "error", err)
	}
	if retransmit {
		return
	}

	c.mu.Lock()
	c.inSeq = req.SequenceNo + 1
	c.haveInSeq = true
	onTelegram := c.onTelegram
	c.mu.Unlock()

	t, err := DecodeTelegram(req.CEMI)
	if err != nil {
		c.log.Warn("malformed cEMI in TUNNELING_REQUEST", "error", err)
		return
	}

	if t.MessageCode == LDataCon {
		c.handleLDataConfirmation(t)
		return
	}
	if onTelegram != nil {
		onTelegram(t)
	}
}

func (c *Connection) handleDisconnectRequest(body []byte) {
	dreq, err := DecodeDisconnectRequest(body)
	if err != nil {
		c.log.Warn("malformed DISCONNECT_REQUEST", "error", err)
		return
	}
	c.mu.Lock()
	if dreq.ChannelID != c.channelID {
		c.mu.Unlock()
		return
	}
	c.failPendingLocked(ErrCancelled)
	c.setState(StateDisconnected)
	c.mu.Unlock()

	resp := DisconnectResponse{ChannelID: dreq.ChannelID, Status: StatusNoError}
	if err := c.tr.SendControl(resp.Encode()); err != nil {
		c.log.Warn("disconnect response send failed", "error", err)
	}
}

// failPendingLocked releases the in-flight request and every queued write
// with the given error. Caller must hold c.mu.
func (c *Connection) failPendingLocked(err error) {
	if c.pending != nil {
		if c.pending.confirmTimer != nil {
			c.pending.confirmTimer.Stop()
		}
		c.pending.result <- err
		c.pending = nil
	}
	for _, qw := range c.queue {
		qw.result <- err
	}
	c.queue = nil
}

// Disconnect sends DISCONNECT_REQUEST, then waits out cfg.ConnectTimeout
// (reused here as the disconnect deadline) before entering
// StateDisconnected. The gateway's DISCONNECT_RESPONSE does not end the
// wait early.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.setState(StateDisconnecting)
	c.failPendingLocked(ErrCancelled)
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
	}
	if c.hbAckTimer != nil {
		c.hbAckTimer.Stop()
	}
	if c.ackTimer != nil {
		c.ackTimer.Stop()
	}
	req := DisconnectRequest{ChannelID: c.channelID, ControlEndpoint: c.tr.LocalHPAI()}
	c.mu.Unlock()

	if err := c.tr.SendControl(req.Encode()); err != nil {
		return err
	}

	done := make(chan struct{})
	c.sched.AfterFunc(c.cfg.ConnectTimeout, func() { close(done) })

	select {
	case <-done:
		c.mu.Lock()
		c.setState(StateDisconnected)
		c.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleFrame is wired as the Transport's OnFrame callback: it demultiplexes
// by KNXnet/IP service type.
func (c *Connection) handleFrame(src *net.UDPAddr, data []byte) {
	hdr, err := DecodeHeader(data)
	if err != nil {
		c.log.Warn("malformed frame", "error", err)
		return
	}
	body := data[headerSize:]

	switch hdr.Service {
	case SvcConnectResponse:
		c.handleConnectResponse(body)
	case SvcConnectionStateResponse:
		c.handleConnectionStateResponse(body)
	case SvcTunnelingRequest:
		c.handleTunnelingRequest(src, body)
	case SvcTunnelingAck:
		c.handleTunnelingAck(body)
	case SvcDisconnectRequest:
		c.handleDisconnectRequest(body)
	case SvcDisconnectResponse:
		// Reply to our DISCONNECT_REQUEST; ignored, Disconnect waits out
		// its deadline instead.
	default:
		c.log.Debug("unhandled service type", "service", fmt.Sprintf("0x%04X", hdr.Service))
	}
}
