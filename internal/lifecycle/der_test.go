package lifecycle

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestDecodeDERItemShortForm(t *testing.T) {
	buf := []byte("\x04\x0dx . go@ gone@")
	payload, consumed, err := DecodeDERItem(buf)
	if err != nil {
		t.Fatalf("DecodeDERItem: %v", err)
	}
	if string(payload) != "x . go@ gone@" {
		t.Fatalf("payload = %q", payload)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed = %d, want %d", consumed, len(buf))
	}
}

func TestDecodeDERItemLongForm(t *testing.T) {
	text := strings.Repeat("a", 300)
	buf := append([]byte{0x04, 0x82, 0x01, 0x2c}, text...)
	payload, _, err := DecodeDERItem(buf)
	if err != nil {
		t.Fatalf("DecodeDERItem: %v", err)
	}
	if string(payload) != text {
		t.Fatalf("payload length = %d, want 300", len(payload))
	}
}

func TestDecodeDERItemRejectsBadLengthOctets(t *testing.T) {
	buf := append([]byte{0x04, 0x83, 0x00, 0x00, 0x05}, "hello"...)
	if _, _, err := DecodeDERItem(buf); !errors.Is(err, ErrDERLengthOctets) {
		t.Fatalf("err = %v, want ErrDERLengthOctets", err)
	}
}

func TestDecodeDERItemRejectsTruncation(t *testing.T) {
	cases := [][]byte{
		{},
		{0x04},
		{0x04, 0x05, 'a', 'b'},
		{0x04, 0x82, 0x01},
	}
	for _, buf := range cases {
		if _, _, err := DecodeDERItem(buf); !errors.Is(err, ErrDERTruncated) {
			t.Fatalf("DecodeDERItem(% x) err = %v, want ErrDERTruncated", buf, err)
		}
	}
}

func TestDecodeDERItemRejectsEmbeddedNUL(t *testing.T) {
	buf := []byte{0x04, 0x03, 'a', 0x00, 'b'}
	if _, _, err := DecodeDERItem(buf); !errors.Is(err, ErrDEREmbeddedNUL) {
		t.Fatalf("err = %v, want ErrDEREmbeddedNUL", err)
	}
}

func TestDERRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"x . go@ gone@",
		"uid=bakker,dc=orvelte,dc=nep",
		strings.Repeat("m", 0x7f),
		strings.Repeat("m", 0x80),
		strings.Repeat("m", 0xff),
		strings.Repeat("m", 0x100),
		strings.Repeat("m", 0xffff),
	}
	for _, s := range cases {
		enc, err := EncodeDERItem(0x04, []byte(s))
		if err != nil {
			t.Fatalf("EncodeDERItem(len %d): %v", len(s), err)
		}
		dec, consumed, err := DecodeDERItem(enc)
		if err != nil {
			t.Fatalf("DecodeDERItem(len %d): %v", len(s), err)
		}
		if !bytes.Equal(dec, []byte(s)) {
			t.Fatalf("round trip mismatch at len %d", len(s))
		}
		if consumed != len(enc) {
			t.Fatalf("consumed = %d, want %d", consumed, len(enc))
		}
	}
}

func TestEncodeDERItemRejectsOversizeAndNUL(t *testing.T) {
	if _, err := EncodeDERItem(0x04, make([]byte, 0x10000)); err == nil {
		t.Fatalf("expected error for 65536-byte payload")
	}
	if _, err := EncodeDERItem(0x04, []byte{'a', 0x00}); !errors.Is(err, ErrDEREmbeddedNUL) {
		t.Fatalf("expected ErrDEREmbeddedNUL")
	}
}
