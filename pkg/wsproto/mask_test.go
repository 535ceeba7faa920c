package wsproto

import "testing"

func TestMaskBytesRoundTrip(t *testing.T) {
	key := [4]byte{0x37, 0xfa, 0x21, 0x3d}
	sizes := []int{0, 1, 3, 4, 7, 8, 9, 16, 17, 125, 256}

	for _, n := range sizes {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i * 7)
		}
		original := append([]byte(nil), data...)

		maskBytes(data, key)
		if n > 0 && string(data) == string(original) {
			t.Errorf("size %d: masking did not change data", n)
		}
		maskBytes(data, key)
		if string(data) != string(original) {
			t.Errorf("size %d: double mask did not recover original: got %v want %v", n, data, original)
		}
	}
}

func TestMaskBytesKnownVector(t *testing.T) {
	// RFC 6455 §5.7 example framing, masked "Hello" with key 0x37 0xfa 0x21 0x3d.
	key := [4]byte{0x37, 0xfa, 0x21, 0x3d}
	plain := []byte("Hello")
	want := []byte{0x7f, 0x9f, 0x4d, 0x51, 0x58}

	got := append([]byte(nil), plain...)
	maskBytes(got, key)
	if string(got) != string(want) {
		t.Fatalf("maskBytes(%q) = %x, want %x", plain, got, want)
	}
}
