package knxtunnel

import (
	"encoding/json"
	"fmt"
)

// jsonValue is the wire shape used to carry a Value over MQTT. Only the
// field matching the Value's Kind is populated; the rest are omitted.
type jsonValue struct {
	Bool      *bool      `json:"bool,omitempty"`
	Int       *int64     `json:"int,omitempty"`
	Float     *float64   `json:"float,omitempty"`
	Str       *string    `json:"str,omitempty"`
	TimeOfDay *TimeOfDay `json:"time_of_day,omitempty"`
	Date      *Date      `json:"date,omitempty"`
	DateTime  *DateTime  `json:"date_time,omitempty"`
	RGB       *RGB       `json:"rgb,omitempty"`
	Raw       []byte     `json:"raw,omitempty"`
	Access    *AccessData `json:"access,omitempty"`
	Scene     *SceneControl `json:"scene,omitempty"`
}

// MarshalValueJSON encodes a Value to the MQTT state-topic payload shape.
func MarshalValueJSON(v Value) ([]byte, error) {
	jv := jsonValue{}
	switch v.Kind {
	case KindBool:
		jv.Bool = &v.Bool
	case KindInt:
		jv.Int = &v.Int
	case KindFloat:
		jv.Float = &v.Float
	case KindString:
		jv.Str = &v.Str
	case KindTimeOfDay:
		jv.TimeOfDay = &v.TimeOfDay
	case KindDate:
		jv.Date = &v.Date
	case KindDateTime:
		jv.DateTime = &v.DateTime
	case KindRGB:
		jv.RGB = &v.RGB
	case KindRaw:
		jv.Raw = v.Raw
	case KindAccess:
		jv.Access = &v.Access
	case KindScene:
		jv.Scene = &v.Scene
	default:
		return nil, fmt.Errorf("%w: unhandled value kind %d", ErrEncodingFailed, v.Kind)
	}
	return json.Marshal(jv)
}

// UnmarshalValueJSON decodes an MQTT command-topic payload into a Value of
// the kind the target DPT expects. A payload may omit the kind-matching
// field only if it supplies one of the alternate scalar shapes (a bare
// JSON bool, number, or string) for simple DPTs.
func UnmarshalValueJSON(dpt DPT, data []byte) (Value, error) {
	kind, err := kindForDPT(dpt)
	if err != nil {
		return Value{}, err
	}

	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err == nil && hasField(jv, kind) {
		return valueFromFields(kind, jv)
	}

	// fall back to a bare scalar payload for the common DPT kinds.
	switch kind {
	case KindBool:
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrDecodingFailed, err)
		}
		return BoolValue(b), nil
	case KindInt:
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrDecodingFailed, err)
		}
		return IntValue(n), nil
	case KindFloat:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrDecodingFailed, err)
		}
		return FloatValue(f), nil
	case KindString:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrDecodingFailed, err)
		}
		return StringValue(s), nil
	default:
		return Value{}, fmt.Errorf("%w: command payload for %s must name its field explicitly", ErrDecodingFailed, dpt)
	}
}

func hasField(jv jsonValue, kind ValueKind) bool {
	switch kind {
	case KindBool:
		return jv.Bool != nil
	case KindInt:
		return jv.Int != nil
	case KindFloat:
		return jv.Float != nil
	case KindString:
		return jv.Str != nil
	case KindTimeOfDay:
		return jv.TimeOfDay != nil
	case KindDate:
		return jv.Date != nil
	case KindDateTime:
		return jv.DateTime != nil
	case KindRGB:
		return jv.RGB != nil
	case KindRaw:
		return jv.Raw != nil
	case KindAccess:
		return jv.Access != nil
	case KindScene:
		return jv.Scene != nil
	default:
		return false
	}
}

func valueFromFields(kind ValueKind, jv jsonValue) (Value, error) {
	switch kind {
	case KindBool:
		return BoolValue(*jv.Bool), nil
	case KindInt:
		return IntValue(*jv.Int), nil
	case KindFloat:
		return FloatValue(*jv.Float), nil
	case KindString:
		return StringValue(*jv.Str), nil
	case KindTimeOfDay:
		return Value{Kind: KindTimeOfDay, TimeOfDay: *jv.TimeOfDay}, nil
	case KindDate:
		return Value{Kind: KindDate, Date: *jv.Date}, nil
	case KindDateTime:
		return Value{Kind: KindDateTime, DateTime: *jv.DateTime}, nil
	case KindRGB:
		return RGBValue(*jv.RGB), nil
	case KindRaw:
		return RawValue(jv.Raw), nil
	case KindAccess:
		return Value{Kind: KindAccess, Access: *jv.Access}, nil
	case KindScene:
		return Value{Kind: KindScene, Scene: *jv.Scene}, nil
	default:
		return Value{}, fmt.Errorf("%w: unhandled value kind %d", ErrDecodingFailed, kind)
	}
}

// dptMajorKind maps a DPT major number to the ValueKind its codecs produce.
// kindForDPT overrides it for the scaled DPT5 subtypes (5.001, 5.003), which
// decode to floats.
var dptMajorKind = map[string]ValueKind{
	"1":   KindBool,
	"2":   KindInt,
	"3":   KindInt,
	"5":   KindInt,
	"6":   KindInt,
	"7":   KindInt,
	"8":   KindInt,
	"9":   KindFloat,
	"10":  KindTimeOfDay,
	"11":  KindDate,
	"12":  KindInt,
	"13":  KindInt,
	"14":  KindFloat,
	"15":  KindAccess,
	"16":  KindString,
	"18":  KindScene,
	"19":  KindDateTime,
	"20":  KindInt,
	"232": KindRGB,
}

// majorOf returns the major number of a "major.subtype" DPT identifier.
func majorOf(dpt DPT) string {
	s := string(dpt)
	for i, r := range s {
		if r == '.' {
			return s[:i]
		}
	}
	return s
}

// kindForDPT returns the ValueKind a DPT's codec produces.
func kindForDPT(dpt DPT) (ValueKind, error) {
	if _, err := Lookup(dpt); err != nil {
		return 0, err
	}
	if dpt == DPT5Percentage || dpt == DPT5Angle {
		return KindFloat, nil
	}
	kind, ok := dptMajorKind[majorOf(dpt)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidDPT, dpt)
	}
	return kind, nil
}
