package knxtunnel

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestNewDatapointRejectsUnknownDPT(t *testing.T) {
	if _, err := NewDatapoint(nil, mustGA(t, "1/2/3"), DPT("99.999")); !errors.Is(err, ErrInvalidDPT) {
		t.Errorf("error = %v, want ErrInvalidDPT", err)
	}
}

func TestDatapointAccessors(t *testing.T) {
	ga := mustGA(t, "1/2/3")
	dp, err := NewDatapoint(nil, ga, DPT1Switch)
	if err != nil {
		t.Fatal(err)
	}
	if dp.GroupAddress() != ga {
		t.Errorf("GroupAddress() = %s, want %s", dp.GroupAddress(), ga)
	}
	if dp.DPT() != DPT1Switch {
		t.Errorf("DPT() = %s, want %s", dp.DPT(), DPT1Switch)
	}
	if _, ok := dp.Last(); ok {
		t.Error("Last() should report no value before any delivery")
	}
}

func TestDatapointDeliverDecodesWritesAndResponses(t *testing.T) {
	ga := mustGA(t, "1/2/3")
	dp, err := NewDatapoint(nil, ga, DPT1Switch)
	if err != nil {
		t.Fatal(err)
	}

	tg := NewWriteTelegram(ga, []byte{0x01})
	dp.Deliver(tg)

	v, ok := dp.Last()
	if !ok {
		t.Fatal("Last() reports no value after a write delivery")
	}
	if v.Kind != KindBool || v.Bool != true {
		t.Errorf("Last() = %+v, want true", v)
	}
}

func TestDatapointDeliverIgnoresReads(t *testing.T) {
	ga := mustGA(t, "1/2/3")
	dp, err := NewDatapoint(nil, ga, DPT1Switch)
	if err != nil {
		t.Fatal(err)
	}
	dp.Deliver(NewReadTelegram(ga))
	if _, ok := dp.Last(); ok {
		t.Error("a read telegram should not update Last()")
	}
}

func TestDatapointOnChangeFiresOnlyOnDifference(t *testing.T) {
	ga := mustGA(t, "1/2/3")
	dp, err := NewDatapoint(nil, ga, DPT1Switch)
	if err != nil {
		t.Fatal(err)
	}

	var events []ChangeEvent
	dp.OnChange(func(ev ChangeEvent) { events = append(events, ev) })

	dp.Deliver(NewWriteTelegram(ga, []byte{0x01})) // first observation: fires
	dp.Deliver(NewWriteTelegram(ga, []byte{0x01})) // same value: no fire
	dp.Deliver(NewWriteTelegram(ga, []byte{0x00})) // changed: fires

	if len(events) != 2 {
		t.Fatalf("fired %d change events, want 2: %+v", len(events), events)
	}
	if events[0].New.Bool != true || events[1].New.Bool != false {
		t.Errorf("events = %+v", events)
	}
}

func TestDatapointOnEventFiresForEveryTelegram(t *testing.T) {
	ga := mustGA(t, "1/2/3")
	dp, err := NewDatapoint(nil, ga, DPT1Switch)
	if err != nil {
		t.Fatal(err)
	}

	var count int
	dp.OnEvent(func(TelegramEvent) { count++ })

	dp.Deliver(NewReadTelegram(ga))
	dp.Deliver(NewWriteTelegram(ga, []byte{0x01}))
	dp.Deliver(NewWriteTelegram(ga, []byte{0x01}))

	if count != 3 {
		t.Errorf("OnEvent fired %d times, want 3", count)
	}
}

func TestBinderRegisterDispatchLookupUnregister(t *testing.T) {
	ga := mustGA(t, "1/2/3")
	dp, err := NewDatapoint(nil, ga, DPT1Switch)
	if err != nil {
		t.Fatal(err)
	}
	b := NewBinder()
	b.Register(dp)

	got, err := b.Lookup(ga)
	if err != nil {
		t.Fatal(err)
	}
	if got != dp {
		t.Error("Lookup returned a different datapoint")
	}

	b.Dispatch(NewWriteTelegram(ga, []byte{0x01}))
	if v, ok := dp.Last(); !ok || !v.Bool {
		t.Error("Dispatch did not deliver the telegram to the registered datapoint")
	}

	b.Unregister(dp)
	if _, err := b.Lookup(ga); !errors.Is(err, ErrProtocol) {
		t.Errorf("Lookup after Unregister error = %v, want wrapped ErrProtocol", err)
	}
}

func TestBinderLookupUnknownGroupAddress(t *testing.T) {
	b := NewBinder()
	if _, err := b.Lookup(mustGA(t, "1/2/3")); !errors.Is(err, ErrProtocol) {
		t.Errorf("error = %v, want wrapped ErrProtocol", err)
	}
}

func TestBinderDispatchFansOutToMultipleDatapoints(t *testing.T) {
	ga := mustGA(t, "4/5/6")
	dpA, _ := NewDatapoint(nil, ga, DPT1Switch)
	dpB, _ := NewDatapoint(nil, ga, DPT1Switch)
	b := NewBinder()
	b.Register(dpA)
	b.Register(dpB)

	b.Dispatch(NewWriteTelegram(ga, []byte{0x01}))

	if _, ok := dpA.Last(); !ok {
		t.Error("first datapoint did not receive the dispatched telegram")
	}
	if _, ok := dpB.Last(); !ok {
		t.Error("second datapoint did not receive the dispatched telegram")
	}
}

func TestDatapointWriteAndReadOverLiveConnection(t *testing.T) {
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

			reqT, err := DecodeTelegram(req.CEMI)
			if err == nil && reqT.MessageCode == LDataReq {
				con := Telegram{
					MessageCode: LDataCon,
					Destination: reqT.Destination,
					APCI:        reqT.APCI,
					Data:        reqT.Data,
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

	ga := mustGA(t, "1/2/3")
	dp, err := NewDatapoint(conn, ga, DPT1Switch)
	if err != nil {
		t.Fatal(err)
	}

	if err := dp.Write(ctx, BoolValue(true)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	v, ok := dp.Last()
	if !ok || !v.Bool {
		t.Errorf("Last() = %+v, %v, want true, true", v, ok)
	}

	if err := dp.Read(ctx); err != nil {
		t.Fatalf("Read: %v", err)
	}
}
