package knxtunnel

import "errors"

// Domain errors for the knxtunnel package. These are sentinels: wrap them
// with fmt.Errorf("%w: detail", ErrX) at the call site rather than defining
// a new error type per failure.
var (
	// ErrInvalidGroupAddress is returned when a group address string cannot
	// be parsed or a numeric value is out of range.
	ErrInvalidGroupAddress = errors.New("knxtunnel: invalid group address")

	// ErrInvalidIndividualAddress is returned when an individual address
	// string cannot be parsed.
	ErrInvalidIndividualAddress = errors.New("knxtunnel: invalid individual address")

	// ErrInvalidDPT is returned when a datapoint type identifier is unknown
	// or malformed.
	ErrInvalidDPT = errors.New("knxtunnel: invalid datapoint type")

	// ErrEncodingFailed is returned when encoding a value to KNX wire
	// format fails (see also ErrDptRange for the specific out-of-range case).
	ErrEncodingFailed = errors.New("knxtunnel: encoding failed")

	// ErrDecodingFailed is returned when decoding KNX wire data fails (see
	// also ErrDptLength for the specific length-mismatch case).
	ErrDecodingFailed = errors.New("knxtunnel: decoding failed")

	// ErrDptRange is returned when a value to encode falls outside the
	// DPT's valid range.
	ErrDptRange = errors.New("knxtunnel: value out of range for datapoint type")

	// ErrDptLength is returned when a buffer to decode has the wrong length
	// for the DPT's declared width.
	ErrDptLength = errors.New("knxtunnel: buffer length mismatch for datapoint type")

	// ErrValueTruncated is a non-fatal encoding warning: the value was too
	// large for the DPT's fixed width and was truncated to fit. Encode
	// still returns the truncated wire bytes alongside this error; callers
	// that don't care about the warning can check errors.Is against it
	// before treating a non-nil Encode error as fatal.
	ErrValueTruncated = errors.New("knxtunnel: value truncated to fit datapoint type")

	// ErrInvalidTelegram is returned when a received cEMI telegram is
	// malformed or truncated.
	ErrInvalidTelegram = errors.New("knxtunnel: invalid cEMI telegram")

	// ErrMalformedFrame is returned when a received KNXnet/IP frame fails
	// header validation, is truncated, or names an unknown service type.
	ErrMalformedFrame = errors.New("knxtunnel: malformed KNXnet/IP frame")

	// ErrProtocol is returned when a structurally valid frame carries an
	// unexpected service type or status for the connection's current state.
	ErrProtocol = errors.New("knxtunnel: protocol error")

	// ErrNotConnected is returned when an operation requires an active
	// tunnel connection but the connection is not in the Connected state.
	ErrNotConnected = errors.New("knxtunnel: not connected")

	// ErrConnectFailed is returned when the gateway rejects a CONNECT_REQUEST
	// with a non-zero status.
	ErrConnectFailed = errors.New("knxtunnel: connect request rejected")

	// ErrConnectTimeout is returned when no CONNECT_RESPONSE arrives after
	// all connect attempts are exhausted.
	ErrConnectTimeout = errors.New("knxtunnel: connect timed out")

	// ErrTunnelStalled is returned when a tunneling request or heartbeat
	// exhausts its retry budget without acknowledgment.
	ErrTunnelStalled = errors.New("knxtunnel: tunnel stalled")

	// ErrWriteRejected is returned when the gateway sends a negative
	// L_Data.con for an outbound write.
	ErrWriteRejected = errors.New("knxtunnel: write rejected by gateway")

	// ErrCancelled is returned for queued writes released by disconnect().
	ErrCancelled = errors.New("knxtunnel: operation cancelled")

	// ErrExpired is returned for queued writes older than the configured
	// maximum queue age.
	ErrExpired = errors.New("knxtunnel: operation expired in queue")

	// ErrConfig is returned when a Config value fails validation at
	// construction time.
	ErrConfig = errors.New("knxtunnel: invalid configuration")
)
