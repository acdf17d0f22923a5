package wire

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"

	"github.com/marmos91/tcprest/internal/fault"
)

// SignaturePrefix starts every origin-authentication trailer segment.
const SignaturePrefix = "SIG:"

// Scheme is a pluggable signature algorithm. Implementations must be
// stateless and safe for concurrent use.
type Scheme interface {
	// Name is the wire token between "SIG:" and the signature bytes.
	Name() string

	// Sign produces a signature over payload with the private key.
	Sign(payload []byte, priv crypto.PrivateKey) ([]byte, error)

	// Verify checks a signature over payload with the public key.
	Verify(payload, sig []byte, pub crypto.PublicKey) error
}

// SchemeRegistry maps scheme names to handlers. The zero value is unusable;
// use NewSchemeRegistry, which seeds the built-in schemes.
type SchemeRegistry struct {
	mu      sync.RWMutex
	schemes map[string]Scheme
}

// NewSchemeRegistry creates a registry seeded with the RSA and ED25519
// schemes.
func NewSchemeRegistry() *SchemeRegistry {
	r := &SchemeRegistry{schemes: make(map[string]Scheme)}
	r.Register(rsaScheme{})
	r.Register(ed25519Scheme{})
	return r
}

// Register adds or replaces a scheme under its name (upper-cased).
func (r *SchemeRegistry) Register(s Scheme) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemes[strings.ToUpper(s.Name())] = s
}

// Lookup resolves a scheme by name, case-insensitively.
func (r *SchemeRegistry) Lookup(name string) (Scheme, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemes[strings.ToUpper(name)]
	if !ok {
		return nil, fault.Security("unknown signature scheme %q", name)
	}
	return s, nil
}

var (
	defaultSchemes     *SchemeRegistry
	defaultSchemesOnce sync.Once
)

// DefaultSchemes returns the process-default registry with the built-in
// schemes. Configs that carry no registry of their own fall back to it.
func DefaultSchemes() *SchemeRegistry {
	defaultSchemesOnce.Do(func() {
		defaultSchemes = NewSchemeRegistry()
	})
	return defaultSchemes
}

// rsaScheme is SHA-256 + RSA PKCS#1 v1.5. Always present.
type rsaScheme struct{}

func (rsaScheme) Name() string { return "RSA" }

func (rsaScheme) Sign(payload []byte, priv crypto.PrivateKey) ([]byte, error) {
	key, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("RSA scheme requires *rsa.PrivateKey, got %T", priv)
	}
	digest := sha256.Sum256(payload)
	return rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
}

func (rsaScheme) Verify(payload, sig []byte, pub crypto.PublicKey) error {
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("RSA scheme requires *rsa.PublicKey, got %T", pub)
	}
	digest := sha256.Sum256(payload)
	return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig)
}

// ed25519Scheme is a built-in alternative for deployments with Ed25519 keys.
type ed25519Scheme struct{}

func (ed25519Scheme) Name() string { return "ED25519" }

func (ed25519Scheme) Sign(payload []byte, priv crypto.PrivateKey) ([]byte, error) {
	key, ok := priv.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("ED25519 scheme requires ed25519.PrivateKey, got %T", priv)
	}
	return ed25519.Sign(key, payload), nil
}

func (ed25519Scheme) Verify(payload, sig []byte, pub crypto.PublicKey) error {
	key, ok := pub.(ed25519.PublicKey)
	if !ok {
		return fmt.Errorf("ED25519 scheme requires ed25519.PublicKey, got %T", pub)
	}
	if !ed25519.Verify(key, payload, sig) {
		return fmt.Errorf("ed25519 signature mismatch")
	}
	return nil
}

// SignatureSegment computes the SIG trailer over the signed payload, which
// is the frame content plus "|CHK:…" when a checksum trailer is present.
// Returns "" when signing is disabled.
func SignatureSegment(signedPayload string, cfg *SecurityConfig) (string, error) {
	if !cfg.SigningEnabled() {
		return "", nil
	}
	scheme, err := cfg.schemeRegistry().Lookup(cfg.SignatureScheme)
	if err != nil {
		return "", err
	}
	if cfg.PrivateKey == nil {
		return "", fault.Security("signature scheme %s has no private key", cfg.SignatureScheme)
	}
	sig, err := scheme.Sign([]byte(signedPayload), cfg.PrivateKey)
	if err != nil {
		return "", fault.SecurityWrap(err, "sign with %s", scheme.Name())
	}
	return SignaturePrefix + scheme.Name() + ":" + StdBase64(sig), nil
}

// VerifySignatureSegment checks a SIG trailer against the signed payload.
// It fails with a security fault when signing is enabled and the segment is
// missing, when the scheme is unknown, or on cryptographic failure. With
// signing disabled an absent segment is accepted and a present one rejected,
// so a peer cannot smuggle an unverified trailer past a permissive config.
func VerifySignatureSegment(signedPayload, segment string, cfg *SecurityConfig) error {
	if !cfg.SigningEnabled() {
		if segment != "" {
			return fault.Security("unexpected signature trailer")
		}
		return nil
	}
	if segment == "" {
		return fault.Security("missing signature trailer")
	}

	rest, ok := strings.CutPrefix(segment, SignaturePrefix)
	if !ok {
		return fault.Security("malformed signature trailer")
	}
	schemeName, sigB64, ok := strings.Cut(rest, ":")
	if !ok {
		return fault.Security("malformed signature trailer")
	}

	scheme, err := cfg.schemeRegistry().Lookup(schemeName)
	if err != nil {
		return err
	}
	if !strings.EqualFold(schemeName, cfg.SignatureScheme) {
		return fault.Security("signature scheme %q does not match configured %q", schemeName, cfg.SignatureScheme)
	}
	if cfg.PublicKey == nil {
		return fault.Security("signature scheme %s has no public key", cfg.SignatureScheme)
	}

	sig, err := DecodeStdBase64(sigB64)
	if err != nil {
		return err
	}
	if err := scheme.Verify([]byte(signedPayload), sig, cfg.PublicKey); err != nil {
		return fault.SecurityWrap(err, "verify %s signature", scheme.Name())
	}
	return nil
}
