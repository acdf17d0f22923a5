// Package wire implements the security primitives of the frame grammar:
// component Base64 encoding, CHK/SIG trailers, pluggable signature schemes
// and identifier validation.
//
// Every helper here is normative for the bytes on the wire; changing an
// alphabet or a hex case breaks interoperability with existing peers.
package wire

import (
	"encoding/base64"
	"strings"

	"github.com/marmos91/tcprest/internal/fault"
)

// componentEncoding is padded URL-safe Base64. The alphabet never produces
// '|', '/', '+' or ',', so encoded components can be embedded between frame
// and array separators without escaping.
var componentEncoding = base64.URLEncoding

// EncodeComponent encodes arbitrary text as a frame-safe token.
// DecodeComponent(EncodeComponent(x)) == x for any byte sequence.
func EncodeComponent(text string) string {
	return componentEncoding.EncodeToString([]byte(text))
}

// EncodeComponentBytes encodes raw bytes as a frame-safe token.
func EncodeComponentBytes(b []byte) string {
	return componentEncoding.EncodeToString(b)
}

// DecodeComponent decodes a token produced by EncodeComponent, accepting
// both alphabets and missing padding: peers normalize URL-safe tokens to
// the standard alphabet before decoding, so replies may carry either form.
// Any other malformed input fails with a security fault: tokens are the
// only channel through which client-controlled text enters the parser, so a
// broken one is treated as hostile rather than sloppy.
func DecodeComponent(token string) (string, error) {
	b, err := DecodeComponentBytes(token)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeComponentBytes decodes a token to raw bytes.
func DecodeComponentBytes(token string) ([]byte, error) {
	normalized := strings.NewReplacer("-", "+", "_", "/").Replace(token)
	normalized = strings.TrimRight(normalized, "=")
	b, err := base64.RawStdEncoding.DecodeString(normalized)
	if err != nil {
		return nil, fault.SecurityWrap(err, "malformed base64 component")
	}
	return b, nil
}

// StdBase64 encodes bytes with the standard padded alphabet. Used for
// signature bytes and the opaque auto-serializer payload, which only ever
// appear inside already frame-safe segments.
func StdBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeStdBase64 decodes standard padded Base64.
func DecodeStdBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fault.SecurityWrap(err, "malformed base64 payload")
	}
	return b, nil
}
