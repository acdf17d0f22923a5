package wire

import (
	"crypto"
	"fmt"
)

// ChecksumMode selects the integrity trailer algorithm.
type ChecksumMode int

const (
	ChecksumNone ChecksumMode = iota
	ChecksumCRC32
	ChecksumHMAC
)

func (m ChecksumMode) String() string {
	switch m {
	case ChecksumNone:
		return "none"
	case ChecksumCRC32:
		return "crc32"
	case ChecksumHMAC:
		return "hmac"
	default:
		return "unknown"
	}
}

// SecurityConfig gathers every security-relevant knob for one server or
// client: the checksum trailer, the signature trailer, the resource
// whitelist and the decompression cap.
//
// A SecurityConfig is treated as immutable once installed; the dispatcher
// and both codecs read it concurrently without locking.
type SecurityConfig struct {
	// Checksum selects the CHK trailer algorithm.
	Checksum ChecksumMode

	// HMACKey is the shared key for ChecksumHMAC. Required when Checksum
	// is ChecksumHMAC, ignored otherwise.
	HMACKey []byte

	// RequireChecksum rejects inbound frames without a CHK trailer even
	// when the local checksum mode could verify nothing. When false, a
	// frame without a trailer passes and a frame with one is verified.
	RequireChecksum bool

	// SignatureScheme names the scheme in the registry used for the SIG
	// trailer. Empty disables signing and signature verification.
	SignatureScheme string

	// PrivateKey signs outgoing frames. Must match the scheme.
	PrivateKey crypto.PrivateKey

	// PublicKey verifies incoming frames. Must match the scheme.
	PublicKey crypto.PublicKey

	// Schemes is the signature scheme registry. Nil falls back to the
	// package-default registry with the built-in schemes.
	Schemes *SchemeRegistry

	// Whitelist restricts the resource classes a frame may target. Nil
	// disables the check; an empty non-nil set rejects everything.
	Whitelist map[string]struct{}

	// MaxDecompressedBytes caps the inflated size of a compressed payload.
	// 0 disables the limit.
	MaxDecompressedBytes int64
}

// DefaultSecurityConfig returns a config with every check disabled.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{}
}

// ChecksumEnabled reports whether a CHK trailer is produced and required.
func (c *SecurityConfig) ChecksumEnabled() bool {
	return c != nil && c.Checksum != ChecksumNone
}

// SigningEnabled reports whether a SIG trailer is produced and required.
func (c *SecurityConfig) SigningEnabled() bool {
	return c != nil && c.SignatureScheme != ""
}

// WhitelistAllows reports whether the class name may be targeted.
func (c *SecurityConfig) WhitelistAllows(className string) bool {
	if c == nil || c.Whitelist == nil {
		return true
	}
	_, ok := c.Whitelist[className]
	return ok
}

// schemeRegistry resolves the effective scheme registry.
func (c *SecurityConfig) schemeRegistry() *SchemeRegistry {
	if c != nil && c.Schemes != nil {
		return c.Schemes
	}
	return DefaultSchemes()
}

// Validate checks internal consistency. Called once at install time.
func (c *SecurityConfig) Validate() error {
	if c == nil {
		return nil
	}
	if c.Checksum == ChecksumHMAC && len(c.HMACKey) == 0 {
		return fmt.Errorf("hmac checksum requires a key")
	}
	if c.MaxDecompressedBytes < 0 {
		return fmt.Errorf("max decompressed bytes must be >= 0")
	}
	if c.SigningEnabled() {
		if _, err := c.schemeRegistry().Lookup(c.SignatureScheme); err != nil {
			return err
		}
		if c.PrivateKey == nil && c.PublicKey == nil {
			return fmt.Errorf("signature scheme %s configured without keys", c.SignatureScheme)
		}
	}
	return nil
}
