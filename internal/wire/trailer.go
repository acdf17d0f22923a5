package wire

import (
	"strings"

	"github.com/marmos91/tcprest/internal/fault"
)

// Trailers is the result of splitting a frame into its content and the
// optional trailing CHK/SIG segments.
type Trailers struct {
	// Content is the frame without trailers.
	Content string

	// Checksum is the "CHK:…" segment, or "".
	Checksum string

	// Signature is the "SIG:…" segment, or "".
	Signature string
}

// SignedPayload is the byte range a SIG trailer covers: the content plus the
// CHK segment when present. SIG is always the last segment.
func (t Trailers) SignedPayload() string {
	if t.Checksum != "" {
		return t.Content + "|" + t.Checksum
	}
	return t.Content
}

// SplitTrailing peels at most one trailing CHK and one trailing SIG segment
// off a frame, in that order (SIG last). Segments that are absent come back
// empty; everything before them is the content.
func SplitTrailing(frame string) Trailers {
	t := Trailers{Content: frame}

	if head, seg, ok := cutLastSegment(t.Content, SignaturePrefix); ok {
		t.Content = head
		t.Signature = seg
	}
	if head, seg, ok := cutLastSegment(t.Content, ChecksumPrefix); ok {
		t.Content = head
		t.Checksum = seg
	}
	return t
}

// cutLastSegment splits off the final "|"-separated segment when it starts
// with the given prefix.
func cutLastSegment(s, prefix string) (head, segment string, ok bool) {
	idx := strings.LastIndexByte(s, '|')
	if idx < 0 {
		return s, "", false
	}
	seg := s[idx+1:]
	if !strings.HasPrefix(seg, prefix) {
		return s, "", false
	}
	return s[:idx], seg, true
}

// AppendTrailers attaches the configured CHK and SIG segments to content.
// The checksum covers the content; the signature covers content plus the
// checksum segment.
func AppendTrailers(content string, cfg *SecurityConfig) (string, error) {
	if cfg == nil {
		return content, nil
	}

	frame := content
	if chk := ChecksumSegment(content, cfg); chk != "" {
		frame += "|" + chk
	}

	sig, err := SignatureSegment(frame, cfg)
	if err != nil {
		return "", err
	}
	if sig != "" {
		frame += "|" + sig
	}
	return frame, nil
}

// VerifyTrailers validates the CHK and SIG segments of a split frame
// against the config. Signature first: it covers the checksum segment, so a
// forged CHK fails here before the cheaper check runs.
func VerifyTrailers(t Trailers, cfg *SecurityConfig) error {
	if cfg == nil {
		cfg = DefaultSecurityConfig()
	}

	if err := VerifySignatureSegment(t.SignedPayload(), t.Signature, cfg); err != nil {
		return err
	}

	switch {
	case t.Checksum == "" && cfg.ChecksumEnabled() && !cfg.RequireChecksum:
		// Peer sent no checksum and we do not mandate one.
		return nil
	case t.Checksum != "" && !cfg.ChecksumEnabled():
		// Peer volunteered a checksum while we have none configured.
		// CRC32 is keyless, so verify it as such rather than ignoring it.
		crcCfg := &SecurityConfig{Checksum: ChecksumCRC32}
		if !VerifyChecksum(t.Content, t.Checksum, crcCfg) {
			return fault.Security("checksum verification failed")
		}
		return nil
	default:
		if !VerifyChecksum(t.Content, t.Checksum, cfg) {
			return fault.Security("checksum verification failed")
		}
		return nil
	}
}
