package knxtunnel

import "testing"

// ─── DPT1 (Boolean — switch) ────────────────────────────────────────

func BenchmarkEncodeDPT1(b *testing.B) {
	codec, _ := Lookup(DPT1Switch)
	v := BoolValue(true)
	for i := 0; i < b.N; i++ {
		codec.Encode(v) //nolint:errcheck // benchmark
	}
}

func BenchmarkDecodeDPT1(b *testing.B) {
	codec, _ := Lookup(DPT1Switch)
	data := []byte{0x01}
	for i := 0; i < b.N; i++ {
		codec.Decode(data) //nolint:errcheck // benchmark
	}
}

// ─── DPT5 (8-bit unsigned — percentage) ─────────────────────────────

func BenchmarkEncodeDPT5(b *testing.B) {
	codec, _ := Lookup(DPT5Percentage)
	v := IntValue(75)
	for i := 0; i < b.N; i++ {
		codec.Encode(v) //nolint:errcheck // benchmark
	}
}

func BenchmarkDecodeDPT5(b *testing.B) {
	codec, _ := Lookup(DPT5Percentage)
	data := []byte{0xBF}
	for i := 0; i < b.N; i++ {
		codec.Decode(data) //nolint:errcheck // benchmark
	}
}

// ─── DPT9 (2-byte float — temperature) ──────────────────────────────

func BenchmarkEncodeDPT9(b *testing.B) {
	codec, _ := Lookup(DPT9Temperature)
	v := FloatValue(21.5)
	for i := 0; i < b.N; i++ {
		codec.Encode(v) //nolint:errcheck // benchmark
	}
}

func BenchmarkDecodeDPT9(b *testing.B) {
	codec, _ := Lookup(DPT9Temperature)
	data := []byte{0x0C, 0x66}
	for i := 0; i < b.N; i++ {
		codec.Decode(data) //nolint:errcheck // benchmark
	}
}

// ─── DPT232 (RGB colour) ─────────────────────────────────────────────

func BenchmarkEncodeDPT232(b *testing.B) {
	codec, _ := Lookup(DPT232ColourRGB)
	v := RGBValue(RGB{R: 255, G: 128, B: 0})
	for i := 0; i < b.N; i++ {
		codec.Encode(v) //nolint:errcheck // benchmark
	}
}

func BenchmarkDecodeDPT232(b *testing.B) {
	codec, _ := Lookup(DPT232ColourRGB)
	data := []byte{0xFF, 0x80, 0x00}
	for i := 0; i < b.N; i++ {
		codec.Decode(data) //nolint:errcheck // benchmark
	}
}
