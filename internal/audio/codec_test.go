package audio

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

func TestDecode_DataURL(t *testing.T) {
	raw := []byte{0x1a, 0x45, 0xdf, 0xa3, 0x00, 0xff}
	in := "data:audio/webm;base64," + base64.StdEncoding.EncodeToString(raw)

	got, err := Decode(in)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("decoded = %x, want %x", got, raw)
	}
}

func TestDecode_BareBase64(t *testing.T) {
	raw := []byte("plain payload")
	got, err := Decode(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("decoded = %q, want %q", got, raw)
	}
}

func TestDecode_MalformedDataURL(t *testing.T) {
	if _, err := Decode("data:audio/webm;base64"); err == nil {
		t.Error("expected error for data URL without comma")
	}
}

func TestDecode_InvalidBase64(t *testing.T) {
	if _, err := Decode("!!not base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestDecode_Empty(t *testing.T) {
	got, err := Decode("")
	if err != nil {
		t.Fatalf("Decode(\"\"): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("decoded %d bytes from empty input, want 0", len(got))
	}
}

func TestEncodeMP3(t *testing.T) {
	raw := []byte{0xff, 0xfb, 0x90, 0x00}
	got := EncodeMP3(raw)

	if !strings.HasPrefix(got, "data:audio/mp3;base64,") {
		t.Fatalf("missing data URL prefix: %q", got)
	}
	back, err := Decode(got)
	if err != nil {
		t.Fatalf("round trip decode: %v", err)
	}
	if !bytes.Equal(back, raw) {
		t.Errorf("round trip = %x, want %x", back, raw)
	}
}
