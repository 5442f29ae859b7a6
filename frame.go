package knxtunnel

import (
	"encoding/binary"
	"fmt"
	"net"
)

// ServiceType identifies the body of a KNXnet/IP frame.
type ServiceType uint16

// KNXnet/IP service type identifiers this package exchanges in tunnelling
// mode (ISO 22510 / KNX Association KNXnet/IP specification).
const (
	SvcConnectRequest           ServiceType = 0x0205
	SvcConnectResponse          ServiceType = 0x0206
	SvcConnectionStateRequest   ServiceType = 0x0207
	SvcConnectionStateResponse  ServiceType = 0x0208
	SvcDisconnectRequest        ServiceType = 0x0209
	SvcDisconnectResponse       ServiceType = 0x020A
	SvcTunnelingRequest         ServiceType = 0x0420
	SvcTunnelingAck             ServiceType = 0x0421
	SvcRoutingIndication        ServiceType = 0x0530
)

// Status codes carried in CONNECT_RESPONSE / CONNECTIONSTATE_RESPONSE /
// DISCONNECT_RESPONSE / TUNNELING_ACK bodies. 0x00 is always success.
const (
	StatusNoError          byte = 0x00
	StatusConnectionTypeErr byte = 0x22
	StatusConnectionOptErr byte = 0x23
	StatusNoMoreConnections byte = 0x24
)

const (
	headerSize       = 6
	headerVersion    = 0x10
	hpaiSize         = 8
	hpaiProtoUDP     byte = 0x01
	connectReqMinLen = headerSize + hpaiSize + hpaiSize + 4 // +CRI (length 0x04, connection type 0x04, knx layer 0x02, 1 reserved)
	criTunnelConn     = 0x04
	criTunnelLayer    = 0x02
)

// Header is the 6-byte KNXnet/IP frame header common to every service.
type Header struct {
	Service       ServiceType
	TotalLength   uint16
}

// EncodeHeader writes the 6-byte header for a frame whose body is bodyLen
// bytes long.
func EncodeHeader(service ServiceType, bodyLen int) []byte {
	buf := make([]byte, headerSize)
	buf[0] = headerSize
	buf[1] = headerVersion
	binary.BigEndian.PutUint16(buf[2:4], uint16(service))
	binary.BigEndian.PutUint16(buf[4:6], uint16(headerSize+bodyLen))
	return buf
}

// DecodeHeader parses and validates the frame header, returning the
// service type and the total declared frame length.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < headerSize {
		return Header{}, fmt.Errorf("%w: frame shorter than header (%d bytes)", ErrMalformedFrame, len(data))
	}
	if data[0] != headerSize {
		return Header{}, fmt.Errorf("%w: unexpected header length %d", ErrMalformedFrame, data[0])
	}
	if data[1] != headerVersion {
		return Header{}, fmt.Errorf("%w: unsupported protocol version 0x%02X", ErrMalformedFrame, data[1])
	}
	service := ServiceType(binary.BigEndian.Uint16(data[2:4]))
	switch service {
	case SvcConnectRequest, SvcConnectResponse, SvcConnectionStateRequest, SvcConnectionStateResponse,
		SvcDisconnectRequest, SvcDisconnectResponse, SvcTunnelingRequest, SvcTunnelingAck, SvcRoutingIndication:
	default:
		return Header{}, fmt.Errorf("%w: unknown service type 0x%04X", ErrMalformedFrame, uint16(service))
	}
	total := binary.BigEndian.Uint16(data[4:6])
	if int(total) != len(data) {
		return Header{}, fmt.Errorf("%w: declared length %d does not match frame length %d", ErrMalformedFrame, total, len(data))
	}
	return Header{Service: service, TotalLength: total}, nil
}

// HPAI is a Host Protocol Address Information block: an IPv4 endpoint.
type HPAI struct {
	IP   net.IP
	Port uint16
}

// Encode writes h as an 8-byte HPAI block (UDP over IPv4 only).
func (h HPAI) Encode() []byte {
	buf := make([]byte, hpaiSize)
	buf[0] = hpaiSize
	buf[1] = hpaiProtoUDP
	ip4 := h.IP.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	copy(buf[2:6], ip4)
	binary.BigEndian.PutUint16(buf[6:8], h.Port)
	return buf
}

// DecodeHPAI parses an 8-byte HPAI block from the start of data.
func DecodeHPAI(data []byte) (HPAI, int, error) {
	if len(data) < hpaiSize {
		return HPAI{}, 0, fmt.Errorf("%w: HPAI block truncated", ErrMalformedFrame)
	}
	if data[0] != hpaiSize {
		return HPAI{}, 0, fmt.Errorf("%w: unexpected HPAI length %d", ErrMalformedFrame, data[0])
	}
	ip := net.IPv4(data[2], data[3], data[4], data[5])
	port := binary.BigEndian.Uint16(data[6:8])
	return HPAI{IP: ip, Port: port}, hpaiSize, nil
}

// ConnectRequest is the CONNECT_REQUEST body: the client's control and data
// endpoints plus a Connection Request Information block selecting tunnelling
// on the link layer.
type ConnectRequest struct {
	ControlEndpoint HPAI
	DataEndpoint    HPAI
}

// Encode serialises a full CONNECT_REQUEST frame (header + body).
func (r ConnectRequest) Encode() []byte {
	body := make([]byte, 0, hpaiSize*2+4)
	body = append(body, r.ControlEndpoint.Encode()...)
	body = append(body, r.DataEndpoint.Encode()...)
	body = append(body, 0x04, criTunnelConn, criTunnelLayer, 0x00)
	return append(EncodeHeader(SvcConnectRequest, len(body)), body...)
}

// ConnectResponse is the CONNECT_RESPONSE body.
type ConnectResponse struct {
	ChannelID    byte
	Status       byte
	DataEndpoint HPAI
}

// DecodeConnectResponse parses a CONNECT_RESPONSE body (the part after the
// 6-byte header).
func DecodeConnectResponse(body []byte) (ConnectResponse, error) {
	if len(body) < 2 {
		return ConnectResponse{}, fmt.Errorf("%w: CONNECT_RESPONSE body too short", ErrMalformedFrame)
	}
	resp := ConnectResponse{ChannelID: body[0], Status: body[1]}
	if resp.Status != StatusNoError {
		return resp, nil
	}
	if len(body) < 2+hpaiSize {
		return ConnectResponse{}, fmt.Errorf("%w: CONNECT_RESPONSE missing data endpoint", ErrMalformedFrame)
	}
	hpai, _, err := DecodeHPAI(body[2:])
	if err != nil {
		return ConnectResponse{}, err
	}
	resp.DataEndpoint = hpai
	return resp, nil
}

// ConnectionStateRequest is the CONNECTIONSTATE_REQUEST body (heartbeat).
type ConnectionStateRequest struct {
	ChannelID       byte
	ControlEndpoint HPAI
}

// Encode serialises a full CONNECTIONSTATE_REQUEST frame.
func (r ConnectionStateRequest) Encode() []byte {
	body := append([]byte{r.ChannelID, 0x00}, r.ControlEndpoint.Encode()...)
	return append(EncodeHeader(SvcConnectionStateRequest, len(body)), body...)
}

// ConnectionStateResponse is the CONNECTIONSTATE_RESPONSE body.
type ConnectionStateResponse struct {
	ChannelID byte
	Status    byte
}

// DecodeConnectionStateResponse parses a CONNECTIONSTATE_RESPONSE body.
func DecodeConnectionStateResponse(body []byte) (ConnectionStateResponse, error) {
	if len(body) < 2 {
		return ConnectionStateResponse{}, fmt.Errorf("%w: CONNECTIONSTATE_RESPONSE body too short", ErrMalformedFrame)
	}
	return ConnectionStateResponse{ChannelID: body[0], Status: body[1]}, nil
}

// DisconnectRequest is the DISCONNECT_REQUEST body.
type DisconnectRequest struct {
	ChannelID       byte
	ControlEndpoint HPAI
}

// Encode serialises a full DISCONNECT_REQUEST frame.
func (r DisconnectRequest) Encode() []byte {
	body := append([]byte{r.ChannelID, 0x00}, r.ControlEndpoint.Encode()...)
	return append(EncodeHeader(SvcDisconnectRequest, len(body)), body...)
}

// DisconnectResponse is the DISCONNECT_RESPONSE body.
type DisconnectResponse struct {
	ChannelID byte
	Status    byte
}

// Encode serialises a full DISCONNECT_RESPONSE frame (sent only by a
// gateway, kept here for symmetry and test fixtures).
func (r DisconnectResponse) Encode() []byte {
	body := []byte{r.ChannelID, r.Status}
	return append(EncodeHeader(SvcDisconnectResponse, len(body)), body...)
}

// DecodeDisconnectRequest parses a DISCONNECT_REQUEST body (needed when the
// gateway initiates the disconnect).
func DecodeDisconnectRequest(body []byte) (DisconnectRequest, error) {
	if len(body) < 2+hpaiSize {
		return DisconnectRequest{}, fmt.Errorf("%w: DISCONNECT_REQUEST body too short", ErrMalformedFrame)
	}
	hpai, _, err := DecodeHPAI(body[2:])
	if err != nil {
		return DisconnectRequest{}, err
	}
	return DisconnectRequest{ChannelID: body[0], ControlEndpoint: hpai}, nil
}

// DecodeDisconnectResponse parses a DISCONNECT_RESPONSE body.
func DecodeDisconnectResponse(body []byte) (DisconnectResponse, error) {
	if len(body) < 2 {
		return DisconnectResponse{}, fmt.Errorf("%w: DISCONNECT_RESPONSE body too short", ErrMalformedFrame)
	}
	return DisconnectResponse{ChannelID: body[0], Status: body[1]}, nil
}

// TunnelingRequest is the TUNNELING_REQUEST body: a cEMI frame addressed to
// a specific channel and sequence counter.
type TunnelingRequest struct {
	ChannelID    byte
	SequenceNo   byte
	CEMI         []byte
}

const connectionHeaderSize = 4

// Encode serialises a full TUNNELING_REQUEST frame.
func (r TunnelingRequest) Encode() []byte {
	body := make([]byte, 0, connectionHeaderSize+len(r.CEMI))
	body = append(body, connectionHeaderSize, r.ChannelID, r.SequenceNo, StatusNoError)
	body = append(body, r.CEMI...)
	return append(EncodeHeader(SvcTunnelingRequest, len(body)), body...)
}

// DecodeTunnelingRequest parses a TUNNELING_REQUEST body.
func DecodeTunnelingRequest(body []byte) (TunnelingRequest, error) {
	if len(body) < connectionHeaderSize {
		return TunnelingRequest{}, fmt.Errorf("%w: TUNNELING_REQUEST body too short", ErrMalformedFrame)
	}
	if body[0] != connectionHeaderSize {
		return TunnelingRequest{}, fmt.Errorf("%w: unexpected connection header length %d", ErrMalformedFrame, body[0])
	}
	return TunnelingRequest{
		ChannelID:  body[1],
		SequenceNo: body[2],
		CEMI:       append([]byte(nil), body[4:]...),
	}, nil
}

// TunnelingAck is the TUNNELING_ACK body.
type TunnelingAck struct {
	ChannelID  byte
	SequenceNo byte
	Status     byte
}

// Encode serialises a full TUNNELING_ACK frame.
func (a TunnelingAck) Encode() []byte {
	body := []byte{connectionHeaderSize, a.ChannelID, a.SequenceNo, a.Status}
	return append(EncodeHeader(SvcTunnelingAck, len(body)), body...)
}

// DecodeTunnelingAck parses a TUNNELING_ACK body.
func DecodeTunnelingAck(body []byte) (TunnelingAck, error) {
	if len(body) < connectionHeaderSize {
		return TunnelingAck{}, fmt.Errorf("%w: TUNNELING_ACK body too short", ErrMalformedFrame)
	}
	return TunnelingAck{ChannelID: body[1], SequenceNo: body[2], Status: body[3]}, nil
}

// RoutingIndication wraps a cEMI frame for IP multicast routing mode
// (224.0.23.12:3671). Unlike tunnelling it carries no channel or sequence
// counter; delivery is unconfirmed.
type RoutingIndication struct {
	CEMI []byte
}

// Encode serialises a full ROUTING_INDICATION frame.
func (r RoutingIndication) Encode() []byte {
	return append(EncodeHeader(SvcRoutingIndication, len(r.CEMI)), r.CEMI...)
}

// DecodeRoutingIndication parses a ROUTING_INDICATION body.
func DecodeRoutingIndication(body []byte) (RoutingIndication, error) {
	if len(body) == 0 {
		return RoutingIndication{}, fmt.Errorf("%w: ROUTING_INDICATION has no cEMI payload", ErrMalformedFrame)
	}
	return RoutingIndication{CEMI: append([]byte(nil), body...)}, nil
}

// RoutingMulticastAddr is the standard KNXnet/IP routing multicast group.
const RoutingMulticastAddr = "224.0.23.12:3671"
