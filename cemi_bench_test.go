package knxtunnel

import "testing"

func BenchmarkTelegramEncode(b *testing.B) {
	ga, _ := ParseGroupAddress("1/2/3")
	tg := NewWriteTelegram(ga, []byte{0x01})
	for i := 0; i < b.N; i++ {
		tg.Encode()
	}
}

func BenchmarkTelegramDecode(b *testing.B) {
	ga, _ := ParseGroupAddress("1/2/3")
	data := NewWriteTelegram(ga, []byte{0x01}).Encode()
	for i := 0; i < b.N; i++ {
		DecodeTelegram(data) //nolint:errcheck // benchmark
	}
}

func BenchmarkTelegramEncodeLongAPDU(b *testing.B) {
	ga, _ := ParseGroupAddress("1/2/3")
	tg := NewWriteTelegram(ga, []byte{0x00, 0x01, 0x02, 0x03})
	for i := 0; i < b.N; i++ {
		tg.Encode()
	}
}
