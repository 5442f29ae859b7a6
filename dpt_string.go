package knxtunnel

import "fmt"

// ---- DPT 16: 14-character string -----------------------------------------------

const (
	DPT16ASCII  DPT = "16.000"
	DPT16Latin1 DPT = "16.001"

	dpt16Length = 14
)

func registerDPT16() {
	codec := Codec{Bits: dpt16Length * 8, Encode: encodeDPT16, Decode: decodeDPT16}
	register(DPT16ASCII, codec)
	register(DPT16Latin1, codec)
}

// encodeDPT16 writes the string byte-for-byte (the caller is responsible for
// supplying ASCII or Latin-1 encoded text), NUL-padded to 14 bytes. A string
// longer than 14 bytes is truncated rather than rejected; the truncated,
// zero-padded bytes are still returned alongside the warning.
func encodeDPT16(v Value) ([]byte, error) {
	if v.Kind != KindString {
		return nil, fmt.Errorf("%w: DPT16 expects a string value", ErrEncodingFailed)
	}
	raw := []byte(v.Str)
	for _, b := range raw {
		if b > 0xFF {
			return nil, fmt.Errorf("%w: DPT16 requires single-byte characters", ErrEncodingFailed)
		}
	}
	var truncated bool
	if len(raw) > dpt16Length {
		raw = raw[:dpt16Length]
		truncated = true
	}
	out := make([]byte, dpt16Length)
	copy(out, raw)
	if truncated {
		return out, fmt.Errorf("%w: DPT16 string truncated to %d bytes", ErrValueTruncated, dpt16Length)
	}
	return out, nil
}

func decodeDPT16(data []byte) (Value, error) {
	if len(data) < dpt16Length {
		return Value{}, fmt.Errorf("%w: DPT16 requires %d bytes, got %d", ErrDptLength, dpt16Length, len(data))
	}
	end := dpt16Length
	for end > 0 && data[end-1] == 0 {
		end--
	}
	return StringValue(string(data[:end])), nil
}
