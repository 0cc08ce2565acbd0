// Package audio converts between the browser's data-URL audio encoding and
// raw bytes.
//
// Browsers deliver recorded audio as a base64 data URL
// ("data:audio/webm;base64,...") and expect synthesized replies in the same
// shape. The payloads stay opaque: no decoding or resampling happens
// server-side; the speech services accept the container formats browsers
// produce.
package audio

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Decode converts a data-URL or bare base64 string into raw audio bytes.
// A "data:<mime>;base64," prefix is stripped when present.
func Decode(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		_, payload, found := strings.Cut(s, ",")
		if !found {
			return nil, fmt.Errorf("audio: data URL missing comma separator")
		}
		s = payload
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	return raw, nil
}

// EncodeMP3 wraps MP3 bytes in the data-URL form the browser client plays
// directly.
func EncodeMP3(raw []byte) string {
	return "data:audio/mp3;base64," + base64.StdEncoding.EncodeToString(raw)
}
