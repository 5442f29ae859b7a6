package knxtunnel

import (
	"fmt"
	"math"
)

// DPT identifies a KNX Datapoint Type as "major.subtype", e.g. "1.001",
// "9.001", "14.056". Subtype keys are always normalised to three digits.
type DPT string

// ValueKind tags the concrete shape carried by a Value.
type ValueKind int

// Value kinds, one per DPT value shape the registry can produce.
const (
	KindBool ValueKind = iota
	KindInt
	KindFloat
	KindString
	KindTimeOfDay
	KindDate
	KindDateTime
	KindRGB
	KindRaw
	KindAccess
	KindScene
)

// Value is the tagged sum type datapoints exchange with the application.
// Exactly one field is meaningful, selected by Kind.
type Value struct {
	Kind ValueKind

	Bool     bool
	Int      int64 // integer kinds (DPT2/3/5.004/5.010/6/7/8/12/13/20) widened to int64
	Float    float64
	Str      string
	TimeOfDay TimeOfDay
	Date     Date
	DateTime DateTime
	RGB      RGB
	Raw      []byte
	Access   AccessData
	Scene    SceneControl
}

// BoolValue wraps a boolean as a Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// IntValue wraps an integer as a Value.
func IntValue(n int64) Value { return Value{Kind: KindInt, Int: n} }

// FloatValue wraps a float as a Value.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// StringValue wraps a string as a Value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// RGBValue wraps an RGB colour as a Value.
func RGBValue(c RGB) Value { return Value{Kind: KindRGB, RGB: c} }

// RawValue wraps an opaque byte slice as a Value.
func RawValue(b []byte) Value { return Value{Kind: KindRaw, Raw: b} }

// Codec is the registry entry for one DPT: its bit width and its
// encode/decode pair between Value and the raw APDU bytes.
type Codec struct {
	// Bits is the wire bit width (used to decide short vs. long APDU framing
	// in the cEMI codec: widths of 1-6 bits pack into the TPCI/APCI byte).
	Bits int

	Encode func(Value) ([]byte, error)
	Decode func([]byte) (Value, error)
}

// Registry maps a DPT identifier to its Codec. Populated in init() for
// every DPT major/subtype this package supports.
var Registry = map[DPT]Codec{}

func register(id DPT, c Codec) { Registry[id] = c }

// Lookup returns the Codec for a DPT identifier, or ErrInvalidDPT if the
// identifier is not registered.
func Lookup(id DPT) (Codec, error) {
	c, ok := Registry[id]
	if !ok {
		return Codec{}, fmt.Errorf("%w: %q", ErrInvalidDPT, id)
	}
	return c, nil
}

func init() {
	registerDPT1()
	registerDPT2()
	registerDPT3()
	registerDPT5()
	registerDPT6()
	registerDPT7()
	registerDPT8()
	registerDPT9()
	registerDPT10()
	registerDPT11()
	registerDPT12()
	registerDPT13()
	registerDPT14()
	registerDPT15()
	registerDPT16()
	registerDPT18()
	registerDPT19()
	registerDPT20()
	registerDPT232()
}

// ---- DPT 1: 1-bit boolean -------------------------------------------------

// DPT1 subtype identifiers. The wire encoding is identical for every
// subtype; only the application-facing naming of 0/1 differs.
const (
	DPT1Switch    DPT = "1.001" // Off/On
	DPT1Bool      DPT = "1.002" // False/True
	DPT1Enable    DPT = "1.003" // Disable/Enable
	DPT1Step      DPT = "1.007" // Decrease/Increase
	DPT1UpDown    DPT = "1.008" // Up/Down
	DPT1OpenClose DPT = "1.009" // Open/Close
	DPT1StartStop DPT = "1.010" // Stop/Start
	DPT1Alarm     DPT = "1.005" // No alarm/Alarm
	DPT1Trigger   DPT = "1.017" // Trigger
)

func registerDPT1() {
	codec := Codec{Bits: 1, Encode: encodeDPT1, Decode: decodeDPT1}
	for _, id := range []DPT{DPT1Switch, DPT1Bool, DPT1Enable, DPT1Step, DPT1UpDown, DPT1OpenClose, DPT1StartStop, DPT1Alarm, DPT1Trigger} {
		register(id, codec)
	}
}

func encodeDPT1(v Value) ([]byte, error) {
	if v.Kind != KindBool {
		return nil, fmt.Errorf("%w: DPT1 expects a bool value", ErrEncodingFailed)
	}
	if v.Bool {
		return []byte{0x01}, nil
	}
	return []byte{0x00}, nil
}

func decodeDPT1(data []byte) (Value, error) {
	if len(data) < 1 {
		return Value{}, fmt.Errorf("%w: DPT1 requires 1 byte, got %d", ErrDptLength, len(data))
	}
	return BoolValue(data[0]&0x01 != 0), nil
}

// ---- DPT 2: 1-bit + priority control --------------------------------------

const DPT2Switch DPT = "2.001" // bit1=control (priority), bit0=value

func registerDPT2() {
	register(DPT2Switch, Codec{Bits: 2, Encode: encodeDPT2, Decode: decodeDPT2})
}

// encodeDPT2 expects the control (priority) bit and the value bit packed into
// Value.Int as (control<<1 | value), since DPT2 has no bool-only shape.
func encodeDPT2(v Value) ([]byte, error) {
	if v.Kind != KindInt {
		return nil, fmt.Errorf("%w: DPT2 expects a packed control|value int", ErrEncodingFailed)
	}
	if v.Int < 0 || v.Int > 0x03 {
		return nil, fmt.Errorf("%w: DPT2 value must be 0-3, got %d", ErrDptRange, v.Int)
	}
	return []byte{byte(v.Int)}, nil
}

func decodeDPT2(data []byte) (Value, error) {
	if len(data) < 1 {
		return Value{}, fmt.Errorf("%w: DPT2 requires 1 byte, got %d", ErrDptLength, len(data))
	}
	return IntValue(int64(data[0] & 0x03)), nil
}

// ---- DPT 3: 4-bit dimming/blind control ------------------------------------

const (
	DPT3DimmingControl DPT = "3.007"
	DPT3BlindControl   DPT = "3.008"
)

func registerDPT3() {
	codec := Codec{Bits: 4, Encode: encodeDPT3, Decode: decodeDPT3}
	register(DPT3DimmingControl, codec)
	register(DPT3BlindControl, codec)
}

// EncodeDPT3Control packs a direction/step-code pair: (control<<3)|stepCode.
func EncodeDPT3Control(increase bool, stepCode uint8) Value {
	v := int64(stepCode & 0x07)
	if increase {
		v |= 0x08
	}
	return IntValue(v)
}

// DecodeDPT3Control unpacks the Value produced by decodeDPT3.
func DecodeDPT3Control(v Value) (increase bool, stepCode uint8) {
	increase = v.Int&0x08 != 0
	stepCode = uint8(v.Int & 0x07) //nolint:gosec // masked to 3 bits
	return increase, stepCode
}

func encodeDPT3(v Value) ([]byte, error) {
	if v.Kind != KindInt || v.Int < 0 || v.Int > 0x0F {
		return nil, fmt.Errorf("%w: DPT3 packed control value must be 0-15", ErrDptRange)
	}
	return []byte{byte(v.Int)}, nil
}

func decodeDPT3(data []byte) (Value, error) {
	if len(data) < 1 {
		return Value{}, fmt.Errorf("%w: DPT3 requires 1 byte, got %d", ErrDptLength, len(data))
	}
	return IntValue(int64(data[0] & 0x0F)), nil
}

// ---- DPT 5: 8-bit unsigned -------------------------------------------------

const (
	DPT5Percentage DPT = "5.001" // 0-100%, scaled 0-255
	DPT5Angle      DPT = "5.003" // 0-360°, scaled 0-255
	DPT5RawU8      DPT = "5.004" // 0-255 raw
	DPT5DecF8      DPT = "5.010" // 0-255 raw (counter/percentU8)
)

const (
	dpt5Max     = 255
	dpt5PctMax  = 100
	dpt5AngMax  = 360
)

func registerDPT5() {
	register(DPT5Percentage, Codec{Bits: 8, Encode: dpt5ScaledEncoder(dpt5PctMax), Decode: dpt5ScaledDecoder(dpt5PctMax)})
	register(DPT5Angle, Codec{Bits: 8, Encode: dpt5ScaledEncoder(dpt5AngMax), Decode: dpt5ScaledDecoder(dpt5AngMax)})
	raw := Codec{Bits: 8, Encode: encodeDPT5Raw, Decode: decodeDPT5Raw}
	register(DPT5RawU8, raw)
	register(DPT5DecF8, raw)
}

func dpt5ScaledEncoder(scaleMax float64) func(Value) ([]byte, error) {
	return func(v Value) ([]byte, error) {
		f, err := dpt5FloatOf(v)
		if err != nil {
			return nil, err
		}
		if f < 0 || f > scaleMax {
			return nil, fmt.Errorf("%w: value must be 0-%g, got %g", ErrDptRange, scaleMax, f)
		}
		return []byte{byte(math.Round(f * dpt5Max / scaleMax))}, nil
	}
}

func dpt5ScaledDecoder(scaleMax float64) func([]byte) (Value, error) {
	return func(data []byte) (Value, error) {
		if len(data) < 1 {
			return Value{}, fmt.Errorf("%w: DPT5 requires 1 byte, got %d", ErrDptLength, len(data))
		}
		f := float64(data[0]) * scaleMax / dpt5Max
		return FloatValue(math.Round(f*100) / 100), nil
	}
}

func dpt5FloatOf(v Value) (float64, error) {
	switch v.Kind {
	case KindFloat:
		return v.Float, nil
	case KindInt:
		return float64(v.Int), nil
	default:
		return 0, fmt.Errorf("%w: DPT5 expects a numeric value", ErrEncodingFailed)
	}
}

func encodeDPT5Raw(v Value) ([]byte, error) {
	f, err := dpt5FloatOf(v)
	if err != nil {
		return nil, err
	}
	if f < 0 || f > dpt5Max {
		return nil, fmt.Errorf("%w: DPT5 raw value must be 0-255, got %g", ErrDptRange, f)
	}
	return []byte{byte(f)}, nil
}

func decodeDPT5Raw(data []byte) (Value, error) {
	if len(data) < 1 {
		return Value{}, fmt.Errorf("%w: DPT5 requires 1 byte, got %d", ErrDptLength, len(data))
	}
	return IntValue(int64(data[0])), nil
}

// ---- DPT 6: 8-bit signed ---------------------------------------------------

const DPT6Percent DPT = "6.001" // -128..127

func registerDPT6() {
	register(DPT6Percent, Codec{Bits: 8, Encode: encodeDPT6, Decode: decodeDPT6})
}

func encodeDPT6(v Value) ([]byte, error) {
	if v.Kind != KindInt || v.Int < -128 || v.Int > 127 {
		return nil, fmt.Errorf("%w: DPT6 value must be -128..127", ErrDptRange)
	}
	return []byte{byte(int8(v.Int))}, nil
}

func decodeDPT6(data []byte) (Value, error) {
	if len(data) < 1 {
		return Value{}, fmt.Errorf("%w: DPT6 requires 1 byte, got %d", ErrDptLength, len(data))
	}
	return IntValue(int64(int8(data[0]))), nil
}

// ---- DPT 7: 16-bit unsigned -------------------------------------------------

const DPT7Value DPT = "7.001" // 0..65535

func registerDPT7() {
	register(DPT7Value, Codec{Bits: 16, Encode: encodeDPT7, Decode: decodeDPT7})
}

func encodeDPT7(v Value) ([]byte, error) {
	if v.Kind != KindInt || v.Int < 0 || v.Int > 0xFFFF {
		return nil, fmt.Errorf("%w: DPT7 value must be 0-65535", ErrDptRange)
	}
	n := uint16(v.Int) //nolint:gosec // range-checked above
	return []byte{byte(n >> 8), byte(n)}, nil
}

func decodeDPT7(data []byte) (Value, error) {
	if len(data) < 2 {
		return Value{}, fmt.Errorf("%w: DPT7 requires 2 bytes, got %d", ErrDptLength, len(data))
	}
	return IntValue(int64(uint16(data[0])<<8 | uint16(data[1]))), nil
}

// ---- DPT 8: 16-bit signed ----------------------------------------------------

const DPT8Value DPT = "8.001" // -32768..32767

func registerDPT8() {
	register(DPT8Value, Codec{Bits: 16, Encode: encodeDPT8, Decode: decodeDPT8})
}

func encodeDPT8(v Value) ([]byte, error) {
	if v.Kind != KindInt || v.Int < -32768 || v.Int > 32767 {
		return nil, fmt.Errorf("%w: DPT8 value must be -32768..32767", ErrDptRange)
	}
	n := uint16(int16(v.Int))
	return []byte{byte(n >> 8), byte(n)}, nil
}

func decodeDPT8(data []byte) (Value, error) {
	if len(data) < 2 {
		return Value{}, fmt.Errorf("%w: DPT8 requires 2 bytes, got %d", ErrDptLength, len(data))
	}
	raw := uint16(data[0])<<8 | uint16(data[1])
	return IntValue(int64(int16(raw))), nil
}

// ---- DPT 12: 32-bit unsigned -------------------------------------------------

const DPT12Value DPT = "12.001"

func registerDPT12() {
	register(DPT12Value, Codec{Bits: 32, Encode: encodeDPT12, Decode: decodeDPT12})
}

func encodeDPT12(v Value) ([]byte, error) {
	if v.Kind != KindInt || v.Int < 0 || v.Int > math.MaxUint32 {
		return nil, fmt.Errorf("%w: DPT12 value must be 0-%d", ErrDptRange, uint32(math.MaxUint32))
	}
	n := uint32(v.Int) //nolint:gosec // range-checked above
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}, nil
}

func decodeDPT12(data []byte) (Value, error) {
	if len(data) < 4 {
		return Value{}, fmt.Errorf("%w: DPT12 requires 4 bytes, got %d", ErrDptLength, len(data))
	}
	n := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	return IntValue(int64(n)), nil
}

// ---- DPT 13: 32-bit signed ----------------------------------------------------

const DPT13Value DPT = "13.001"

func registerDPT13() {
	register(DPT13Value, Codec{Bits: 32, Encode: encodeDPT13, Decode: decodeDPT13})
}

func encodeDPT13(v Value) ([]byte, error) {
	if v.Kind != KindInt || v.Int < math.MinInt32 || v.Int > math.MaxInt32 {
		return nil, fmt.Errorf("%w: DPT13 value must fit in int32", ErrDptRange)
	}
	n := uint32(int32(v.Int))
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}, nil
}

func decodeDPT13(data []byte) (Value, error) {
	if len(data) < 4 {
		return Value{}, fmt.Errorf("%w: DPT13 requires 4 bytes, got %d", ErrDptLength, len(data))
	}
	n := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	return IntValue(int64(int32(n))), nil
}

// ---- DPT 20: 1-byte enum ------------------------------------------------------

const DPT20HVACMode DPT = "20.102"

func registerDPT20() {
	register(DPT20HVACMode, Codec{Bits: 8, Encode: encodeDPT20, Decode: decodeDPT20})
}

func encodeDPT20(v Value) ([]byte, error) {
	if v.Kind != KindInt || v.Int < 0 || v.Int > 255 {
		return nil, fmt.Errorf("%w: DPT20 enum value must be 0-255", ErrDptRange)
	}
	return []byte{byte(v.Int)}, nil
}

func decodeDPT20(data []byte) (Value, error) {
	if len(data) < 1 {
		return Value{}, fmt.Errorf("%w: DPT20 requires 1 byte, got %d", ErrDptLength, len(data))
	}
	return IntValue(int64(data[0])), nil
}

// ---- DPT 232: 3-byte RGB --------------------------------------------------

const DPT232ColourRGB DPT = "232.600"

// RGB is an RGB colour value.
type RGB struct {
	R uint8
	G uint8
	B uint8
}

func registerDPT232() {
	register(DPT232ColourRGB, Codec{Bits: 24, Encode: encodeDPT232, Decode: decodeDPT232})
}

func encodeDPT232(v Value) ([]byte, error) {
	if v.Kind != KindRGB {
		return nil, fmt.Errorf("%w: DPT232 expects an RGB value", ErrEncodingFailed)
	}
	return []byte{v.RGB.R, v.RGB.G, v.RGB.B}, nil
}

func decodeDPT232(data []byte) (Value, error) {
	if len(data) < 3 {
		return Value{}, fmt.Errorf("%w: DPT232 requires 3 bytes, got %d", ErrDptLength, len(data))
	}
	return RGBValue(RGB{R: data[0], G: data[1], B: data[2]}), nil
}
