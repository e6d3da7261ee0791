package util

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestHKDF(t *testing.T) {
	seed := []byte("seed")
	salt := []byte("salt")
	info := []byte("info")

	key1, err := HKDF(seed, salt, info)
	if err != nil {
		t.Fatalf("HKDF failed: %v", err)
	}
	if len(key1) != HKDFKeyLength {
		t.Errorf("expected key length %d, got %d", HKDFKeyLength, len(key1))
	}

	key2, _ := HKDF(seed, salt, info)
	if !bytes.Equal(key1, key2) {
		t.Error("HKDF should be deterministic")
	}

	key3, _ := HKDF(seed, salt, []byte("different info"))
	if bytes.Equal(key1, key3) {
		t.Error("HKDF should produce different output with different info")
	}
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	WipeBytes(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Errorf("expected zeroed slice, got %v", b)
	}
	WipeBytes(nil)
}

func TestEncoding(t *testing.T) {
	s := "test string"
	decoded, err := HexDecode(HexEncode([]byte(s)))
	if err != nil {
		t.Fatalf("HexDecode failed: %v", err)
	}
	if string(decoded) != s {
		t.Errorf("expected %s, got %s", s, string(decoded))
	}
	if _, err := HexDecode("zz"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestRandomBytes(t *testing.T) {
	b1, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	b2, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	if len(b1) != 32 {
		t.Errorf("expected 32 bytes, got %d", len(b1))
	}
	if bytes.Equal(b1, b2) {
		t.Error("RandomBytes should produce different outputs")
	}
}

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "/echo/a?b=c", "/echo/a?b=c"},
		{"newline", "x\r\nlevel=ERROR msg=forged", "x__level=ERROR msg=forged"},
		{"tab and nul", "a\tb\x00c", "a_b_c"},
		{"compatibility form", "ｆｕｌｌ", "full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeForLog(tt.in); got != tt.want {
				t.Errorf("SanitizeForLog(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	t.Run("truncates", func(t *testing.T) {
		got := SanitizeForLog(strings.Repeat("é", MaxLogValueLength+10))
		if !strings.HasSuffix(got, "...") {
			t.Errorf("expected truncation marker, got %q", got)
		}
		if n := utf8.RuneCountInString(got); n != MaxLogValueLength+3 {
			t.Errorf("expected %d runes, got %d", MaxLogValueLength+3, n)
		}
	})
}
