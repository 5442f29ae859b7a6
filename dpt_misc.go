package knxtunnel

import "fmt"

// ---- DPT 15: entry access -----------------------------------------------------

const DPT15Access DPT = "15.000"

// AccessData is the value carried by DPT15: a six-digit BCD access code plus
// a status/index byte.
type AccessData struct {
	Code          uint32 // six decimal digits, 0-999999
	DetectionError bool
	Permission    bool
	ReadDirection bool
	Encryption    bool
	Index         uint8 // 0-15
}

func registerDPT15() {
	register(DPT15Access, Codec{Bits: 32, Encode: encodeDPT15, Decode: decodeDPT15})
}

func encodeDPT15(v Value) ([]byte, error) {
	if v.Kind != KindAccess {
		return nil, fmt.Errorf("%w: DPT15 expects an AccessData value", ErrEncodingFailed)
	}
	a := v.Access
	if a.Code > 999999 || a.Index > 15 {
		return nil, fmt.Errorf("%w: DPT15 code/index out of range", ErrDptRange)
	}
	bcd, err := encodeBCD6(a.Code)
	if err != nil {
		return nil, err
	}
	flags := a.Index & 0x0F
	if a.DetectionError {
		flags |= 0x80
	}
	if a.Permission {
		flags |= 0x40
	}
	if a.ReadDirection {
		flags |= 0x20
	}
	if a.Encryption {
		flags |= 0x10
	}
	return []byte{bcd[0], bcd[1], bcd[2], flags}, nil
}

func decodeDPT15(data []byte) (Value, error) {
	if len(data) < 4 {
		return Value{}, fmt.Errorf("%w: DPT15 requires 4 bytes, got %d", ErrDptLength, len(data))
	}
	code, err := decodeBCD6([3]byte{data[0], data[1], data[2]})
	if err != nil {
		return Value{}, err
	}
	a := AccessData{
		Code:           code,
		DetectionError: data[3]&0x80 != 0,
		Permission:     data[3]&0x40 != 0,
		ReadDirection:  data[3]&0x20 != 0,
		Encryption:     data[3]&0x10 != 0,
		Index:          data[3] & 0x0F,
	}
	return Value{Kind: KindAccess, Access: a}, nil
}

func encodeBCD6(code uint32) ([3]byte, error) {
	var out [3]byte
	digits := [6]byte{}
	n := code
	for i := 5; i >= 0; i-- {
		digits[i] = byte(n % 10)
		n /= 10
	}
	if n != 0 {
		return out, fmt.Errorf("%w: DPT15 code must fit 6 decimal digits", ErrDptRange)
	}
	out[0] = digits[0]<<4 | digits[1]
	out[1] = digits[2]<<4 | digits[3]
	out[2] = digits[4]<<4 | digits[5]
	return out, nil
}

func decodeBCD6(raw [3]byte) (uint32, error) {
	digits := [6]byte{raw[0] >> 4, raw[0] & 0x0F, raw[1] >> 4, raw[1] & 0x0F, raw[2] >> 4, raw[2] & 0x0F}
	var n uint32
	for _, d := range digits {
		if d > 9 {
			return 0, fmt.Errorf("%w: DPT15 contains a non-BCD nibble", ErrDecodingFailed)
		}
		n = n*10 + uint32(d)
	}
	return n, nil
}

// ---- DPT 18: scene control ----------------------------------------------------

const DPT18SceneControl DPT = "18.001"

// SceneControl is the value carried by DPT18.
type SceneControl struct {
	Learn bool // false = activate, true = learn
	Scene uint8 // 0-63
}

func registerDPT18() {
	register(DPT18SceneControl, Codec{Bits: 8, Encode: encodeDPT18, Decode: decodeDPT18})
}

func encodeDPT18(v Value) ([]byte, error) {
	if v.Kind != KindScene {
		return nil, fmt.Errorf("%w: DPT18 expects a SceneControl value", ErrEncodingFailed)
	}
	if v.Scene.Scene > 63 {
		return nil, fmt.Errorf("%w: DPT18 scene number must be 0-63, got %d", ErrDptRange, v.Scene.Scene)
	}
	b := v.Scene.Scene & 0x3F
	if v.Scene.Learn {
		b |= 0x80
	}
	return []byte{b}, nil
}

func decodeDPT18(data []byte) (Value, error) {
	if len(data) < 1 {
		return Value{}, fmt.Errorf("%w: DPT18 requires 1 byte, got %d", ErrDptLength, len(data))
	}
	sc := SceneControl{Learn: data[0]&0x80 != 0, Scene: data[0] & 0x3F}
	return Value{Kind: KindScene, Scene: sc}, nil
}
