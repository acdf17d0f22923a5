package config

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/marmos91/tcprest/internal/envelope"
	"github.com/marmos91/tcprest/internal/wire"
	"github.com/marmos91/tcprest/pkg/adapter/tcp"
	"github.com/marmos91/tcprest/pkg/adapter/udp"
)

// BuildSecurity materializes the file-level security section into the
// runtime config, loading key material from disk.
func (c *SecurityConfig) BuildSecurity() (*wire.SecurityConfig, error) {
	out := wire.DefaultSecurityConfig()

	switch strings.ToLower(c.Checksum) {
	case "", "none":
		out.Checksum = wire.ChecksumNone
	case "crc32":
		out.Checksum = wire.ChecksumCRC32
	case "hmac":
		out.Checksum = wire.ChecksumHMAC
		key, err := base64.StdEncoding.DecodeString(c.HMACKey)
		if err != nil {
			return nil, fmt.Errorf("security.hmac_key is not valid base64: %w", err)
		}
		out.HMACKey = key
	default:
		return nil, fmt.Errorf("unknown checksum mode %q", c.Checksum)
	}
	out.RequireChecksum = c.RequireChecksum
	out.MaxDecompressedBytes = int64(c.MaxDecompressedBytes)

	if len(c.Whitelist) > 0 {
		out.Whitelist = make(map[string]struct{}, len(c.Whitelist))
		for _, name := range c.Whitelist {
			out.Whitelist[name] = struct{}{}
		}
	}

	if c.SignatureScheme != "" {
		out.SignatureScheme = strings.ToUpper(c.SignatureScheme)
		if c.PrivateKeyFile != "" {
			priv, err := loadPrivateKey(c.PrivateKeyFile)
			if err != nil {
				return nil, err
			}
			out.PrivateKey = priv
		}
		if c.PublicKeyFile != "" {
			pub, err := loadPublicKey(c.PublicKeyFile)
			if err != nil {
				return nil, err
			}
			out.PublicKey = pub
		}
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// BuildCompression materializes the compression section.
func (c *CompressionConfig) BuildCompression() *envelope.Config {
	return &envelope.Config{
		Enabled:   c.Enabled,
		Threshold: int(c.Threshold),
		Level:     c.Level,
	}
}

// BuildTCP materializes the stream transport section.
func (c *ServerConfig) BuildTCP() tcp.Config {
	return tcp.Config{
		Host:           c.Host,
		Port:           c.Port,
		MaxConnections: c.MaxConnections,
		MaxLineBytes:   int(c.MaxLineBytes),
		Timeouts: tcp.TimeoutsConfig{
			Read:     c.ReadTimeout,
			Write:    c.WriteTimeout,
			Idle:     c.IdleTimeout,
			Shutdown: c.ShutdownTimeout,
		},
		TLS: tcp.TLSConfig{
			Enabled:  c.TLS.Enabled,
			CertFile: c.TLS.CertFile,
			KeyFile:  c.TLS.KeyFile,
		},
	}
}

// BuildUDP materializes the datagram transport section, nil when disabled.
func (c *UDPConfig) BuildUDP() *udp.Config {
	if !c.Enabled {
		return nil
	}
	return &udp.Config{
		Host:             c.Host,
		Port:             c.Port,
		MaxDatagramBytes: int(c.MaxDatagramBytes),
	}
}

// loadPrivateKey reads a PEM-encoded private key. PKCS#8 is preferred;
// PKCS#1 RSA keys are accepted for compatibility.
func loadPrivateKey(path string) (crypto.PrivateKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unsupported private key format in %s", path)
}

// loadPublicKey reads a PEM-encoded public key. PKIX is preferred; PKCS#1
// RSA keys are accepted for compatibility.
func loadPublicKey(path string) (crypto.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unsupported public key format in %s", path)
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	return block, nil
}
