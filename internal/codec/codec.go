// Package codec holds the byte transforms shared by the vault layers:
// standard base64 for anything persisted as text, and UTF-8 for text payloads.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrInvalidUTF8 is returned when decoded bytes are not valid UTF-8 text.
var ErrInvalidUTF8 = errors.New("invalid UTF-8 text")

// EncodeBase64 encodes b with the padded standard alphabet.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 decodes s strictly; stray newlines or bad padding are rejected.
func DecodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	return b, nil
}

// EncodeText returns the UTF-8 bytes of s.
func EncodeText(s string) []byte {
	return []byte(s)
}

// DecodeText converts b back to a string, rejecting invalid UTF-8.
func DecodeText(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}
