package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	value := []byte("hello world")
	blob := Encode(7, 1234, 0xdeadbeef, value)

	flags, exptime, hash, got, err := Decode(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if flags != 7 || exptime != 1234 || hash != 0xdeadbeef {
		t.Fatalf("header: flags=%d exptime=%d hash=%#x", flags, exptime, hash)
	}
	if !bytes.Equal(got, value) {
		t.Fatalf("value: got %q, want %q", got, value)
	}
}

func TestRoundTripEmptyValue(t *testing.T) {
	blob := Encode(0, 0, 0, nil)
	if len(blob) != header {
		t.Fatalf("empty envelope length %d, want %d", len(blob), header)
	}
	_, _, _, value, err := Decode(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(value) != 0 {
		t.Fatalf("value: got %q, want empty", value)
	}
}

func TestDecodeRejectsCorrupt(t *testing.T) {
	good := Encode(1, 2, 3, []byte("v"))

	cases := map[string][]byte{
		"empty":           nil,
		"short":           good[:header-1],
		"bad magic":       append([]byte("XXXX"), good[4:]...),
		"bad version":     append(append([]byte{}, good[:4]...), append([]byte{99}, good[5:]...)...),
		"truncated value": good[:len(good)-1],
		"trailing junk":   append(append([]byte{}, good...), 0),
	}
	for name, blob := range cases {
		if _, _, _, _, err := Decode(blob); !errors.Is(err, ErrCorrupt) {
			t.Errorf("%s: got %v, want ErrCorrupt", name, err)
		}
	}
}
