package knxtunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ChangeEvent is delivered to an on-change listener: the previous and new
// decoded value for a Datapoint's group address.
type ChangeEvent struct {
	GroupAddress GroupAddress
	Old          Value
	New          Value
}

// TelegramEvent is delivered to an on-event listener for every telegram
// addressed to the Datapoint's group address, including reads.
type TelegramEvent struct {
	GroupAddress GroupAddress
	Telegram     Telegram
}

// Datapoint binds a group address to a DPT codec, giving the application a
// typed read/write surface plus change and raw-event notifications. A
// Datapoint does not own a connection; it is driven by whatever Connection
// or set of connections route matching telegrams to it via Deliver.
type Datapoint struct {
	ga  GroupAddress
	dpt DPT

	conn *Connection

	mu           sync.RWMutex
	last         Value
	haveLast     bool
	onChange     []func(ChangeEvent)
	onEvent      []func(TelegramEvent)
}

// NewDatapoint binds ga to dpt, sending and receiving through conn.
func NewDatapoint(conn *Connection, ga GroupAddress, dpt DPT) (*Datapoint, error) {
	if _, err := Lookup(dpt); err != nil {
		return nil, err
	}
	return &Datapoint{ga: ga, dpt: dpt, conn: conn}, nil
}

// GroupAddress returns the bound group address.
func (d *Datapoint) GroupAddress() GroupAddress { return d.ga }

// DPT returns the bound datapoint type.
func (d *Datapoint) DPT() DPT { return d.dpt }

// Write encodes value per the bound DPT and sends a GroupValueWrite. A
// truncation warning from the codec (ErrValueTruncated) doesn't block the
// write: the truncated form is sent and the warning is returned to the
// caller after the send succeeds.
func (d *Datapoint) Write(ctx context.Context, value Value) error {
	codec, err := Lookup(d.dpt)
	if err != nil {
		return err
	}
	data, encodeErr := codec.Encode(value)
	if encodeErr != nil && !errors.Is(encodeErr, ErrValueTruncated) {
		return encodeErr
	}
	if err := d.conn.Write(ctx, d.ga, data); err != nil {
		return err
	}
	d.updateLast(value)
	return encodeErr
}

// Read sends a GroupValueRead and returns once the gateway has acknowledged
// the request. The resulting GroupValueResponse arrives asynchronously via
// Deliver/on-change/on-event, exactly as an unsolicited value would.
func (d *Datapoint) Read(ctx context.Context) error {
	return d.conn.ReadRequest(ctx, d.ga)
}

// Last returns the most recently observed value and whether one has been
// observed yet.
func (d *Datapoint) Last() (Value, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last, d.haveLast
}

// OnChange registers a listener invoked whenever a decoded value differs
// from the previously observed one (or is the first value ever observed).
func (d *Datapoint) OnChange(f func(ChangeEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = append(d.onChange, f)
}

// OnEvent registers a listener invoked for every telegram addressed to this
// datapoint's group address, including reads and duplicate writes.
func (d *Datapoint) OnEvent(f func(TelegramEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onEvent = append(d.onEvent, f)
}

// Deliver feeds a telegram addressed to this datapoint's group address into
// it, decoding the payload (for writes/responses) and firing listeners. The
// caller (typically a Binder routing inbound telegrams by group address) is
// responsible for matching t.Destination == d.GroupAddress() beforehand.
func (d *Datapoint) Deliver(t Telegram) {
	d.mu.RLock()
	eventListeners := append([]func(TelegramEvent){}, d.onEvent...)
	d.mu.RUnlock()
	for _, f := range eventListeners {
		f(TelegramEvent{GroupAddress: d.ga, Telegram: t})
	}

	if !t.IsWrite() && !t.IsResponse() {
		return
	}
	codec, err := Lookup(d.dpt)
	if err != nil {
		return
	}
	value, err := codec.Decode(t.Data)
	if err != nil {
		return
	}
	d.updateLast(value)
}

func (d *Datapoint) updateLast(value Value) {
	d.mu.Lock()
	old := d.last
	hadLast := d.haveLast
	d.last = value
	d.haveLast = true
	changeListeners := append([]func(ChangeEvent){}, d.onChange...)
	d.mu.Unlock()

	if hadLast && valuesEqual(old, value) {
		return
	}
	ev := ChangeEvent{GroupAddress: d.ga, Old: old, New: value}
	for _, f := range changeListeners {
		f(ev)
	}
}

func valuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindBool:
		return a.Bool == b.Bool
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Float == b.Float
	case KindString:
		return a.Str == b.Str
	case KindRGB:
		return a.RGB == b.RGB
	case KindTimeOfDay:
		return a.TimeOfDay == b.TimeOfDay
	case KindDate:
		return a.Date == b.Date
	case KindDateTime:
		return a.DateTime == b.DateTime
	case KindScene:
		return a.Scene == b.Scene
	case KindAccess:
		return a.Access == b.Access
	default:
		return false
	}
}

// Binder fans inbound telegrams out to the Datapoints registered for their
// destination group address. A Connection's OnTelegram callback is the
// usual source of events.
type Binder struct {
	mu    sync.RWMutex
	byGA  map[GroupAddress][]*Datapoint
}

// NewBinder returns an empty Binder.
func NewBinder() *Binder {
	return &Binder{byGA: make(map[GroupAddress][]*Datapoint)}
}

// Register adds dp to the set of datapoints reached by telegrams addressed
// to dp.GroupAddress(). Multiple datapoints (even with different DPTs) may
// share a group address.
func (b *Binder) Register(dp *Datapoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byGA[dp.ga] = append(b.byGA[dp.ga], dp)
}

// Unregister removes dp from the binder.
func (b *Binder) Unregister(dp *Datapoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.byGA[dp.ga]
	for i, existing := range list {
		if existing == dp {
			b.byGA[dp.ga] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// Dispatch routes t to every Datapoint registered for t.Destination. It is
// intended to be passed directly to Connection.OnTelegram.
func (b *Binder) Dispatch(t Telegram) {
	b.mu.RLock()
	list := append([]*Datapoint{}, b.byGA[t.Destination]...)
	b.mu.RUnlock()
	for _, dp := range list {
		dp.Deliver(t)
	}
}

// errUnknownGroupAddress is returned when a Binder has no datapoint
// registered for a requested group address.
var errUnknownGroupAddress = fmt.Errorf("%w: no datapoint registered", ErrProtocol)

// Lookup returns the first datapoint registered for ga.
func (b *Binder) Lookup(ga GroupAddress) (*Datapoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	list := b.byGA[ga]
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: %s", errUnknownGroupAddress, ga)
	}
	return list[0], nil
}
