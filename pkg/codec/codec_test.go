package codec

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for n := 0; n <= 257; n++ {
		data := make([]byte, n)
		rng.Read(data)

		text := Encode(data)
		if len(text)%4 != 0 {
			t.Fatalf("len(Encode) = %d is not padded to a multiple of 4", len(text))
		}

		got, err := Decode(text)
		if err != nil {
			t.Fatalf("Decode failed for n=%d: %v", n, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("round trip mismatch for n=%d", n)
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	if Encode([]byte("hello")) != "aGVsbG8=" {
		t.Fatalf("unexpected encoding %q", Encode([]byte("hello")))
	}
	if Encode([]byte("hello")) != Encode([]byte("hello")) {
		t.Fatalf("encoding must be deterministic")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode("not base64!"); err == nil {
		t.Fatalf("expected error for invalid input")
	}
}
