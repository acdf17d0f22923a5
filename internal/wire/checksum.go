package wire

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash/crc32"
	"strconv"
)

// ChecksumPrefix starts every integrity trailer segment.
const ChecksumPrefix = "CHK:"

// ChecksumSegment computes the CHK trailer for a payload, or "" when the
// checksum is disabled.
//
// CRC32 renders as unpadded lowercase hex of the 32-bit value; HMAC-SHA256
// renders as lowercase hex of the full MAC.
func ChecksumSegment(payload string, cfg *SecurityConfig) string {
	if cfg == nil {
		return ""
	}
	switch cfg.Checksum {
	case ChecksumCRC32:
		sum := crc32.ChecksumIEEE([]byte(payload))
		return ChecksumPrefix + strconv.FormatUint(uint64(sum), 16)
	case ChecksumHMAC:
		mac := hmac.New(sha256.New, cfg.HMACKey)
		mac.Write([]byte(payload))
		return ChecksumPrefix + hex.EncodeToString(mac.Sum(nil))
	default:
		return ""
	}
}

// VerifyChecksum reports whether the supplied CHK segment matches a freshly
// computed one. With the checksum disabled only an empty segment passes;
// with it enabled the segments must be equal. Tampering with any content
// byte outside the CHK segment itself therefore flips the result.
//
// Acceptance of absent segments when the server does not mandate checksums
// is policy, handled by VerifyTrailers, not here.
func VerifyChecksum(payload, segment string, cfg *SecurityConfig) bool {
	expected := ChecksumSegment(payload, cfg)
	if expected == "" {
		return segment == ""
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(segment)) == 1
}
