// Package envelope implements the compression wrapper applied to frame
// payloads: a one-character prefix selecting raw or Base64-gzip transport.
package envelope

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/marmos91/tcprest/internal/fault"
	"github.com/marmos91/tcprest/internal/wire"
)

const (
	// PrefixRaw marks a payload carried verbatim.
	PrefixRaw = "0|"

	// PrefixGzip marks a payload carried as Base64-encoded gzip.
	PrefixGzip = "1|"
)

// DefaultThreshold is the payload size below which compression is skipped:
// gzip overhead dominates on short lines.
const DefaultThreshold = 1024

// effectivenessNumerator/Denominator gate compression on outcome: output
// must be under 90% of the input or the raw form is kept.
const (
	effectivenessNumerator   = 9
	effectivenessDenominator = 10
)

// Config controls the encode side of the envelope.
type Config struct {
	// Enabled turns compression on. Decoding always understands both
	// prefixes regardless.
	Enabled bool

	// Threshold is the minimum payload size in bytes worth compressing.
	// 0 means DefaultThreshold.
	Threshold int

	// Level is the gzip compression level, 1 (fastest) to 9 (smallest).
	// 0 selects gzip's default level.
	Level int
}

// DefaultConfig returns an envelope config with compression off.
func DefaultConfig() *Config {
	return &Config{Threshold: DefaultThreshold}
}

func (c *Config) threshold() int {
	if c == nil || c.Threshold <= 0 {
		return DefaultThreshold
	}
	return c.Threshold
}

func (c *Config) level() int {
	if c == nil || c.Level == 0 {
		return gzip.DefaultCompression
	}
	return c.Level
}

// Validate checks the config. Called once at install time.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Level < 0 || c.Level > gzip.BestCompression {
		return fmt.Errorf("compression level %d out of range [0,9]", c.Level)
	}
	if c.Threshold < 0 {
		return fmt.Errorf("compression threshold must be >= 0")
	}
	return nil
}

// Encode wraps a payload in the envelope. The gzip form is only used when
// compression is enabled, the payload meets the threshold, and the
// compressed output is actually smaller; otherwise the raw form is emitted.
func Encode(payload string, cfg *Config) (string, error) {
	if cfg == nil || !cfg.Enabled || len(payload) < cfg.threshold() {
		return PrefixRaw + payload, nil
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, cfg.level())
	if err != nil {
		return "", fault.Wrap(fault.KindServer, err, "compress payload")
	}
	if _, err := zw.Write([]byte(payload)); err != nil {
		return "", fault.Wrap(fault.KindServer, err, "compress payload")
	}
	if err := zw.Close(); err != nil {
		return "", fault.Wrap(fault.KindServer, err, "compress payload")
	}

	encoded := wire.StdBase64(buf.Bytes())
	if len(encoded)*effectivenessDenominator >= len(payload)*effectivenessNumerator {
		return PrefixRaw + payload, nil
	}
	return PrefixGzip + encoded, nil
}

// Decode unwraps an envelope. maxDecompressed caps the inflated size of a
// gzip payload; 0 disables the cap. A payload with no recognized prefix is
// legacy raw and comes back unchanged.
func Decode(framed string, maxDecompressed int64) (string, error) {
	switch {
	case strings.HasPrefix(framed, PrefixRaw):
		return framed[len(PrefixRaw):], nil
	case strings.HasPrefix(framed, PrefixGzip):
		return inflate(framed[len(PrefixGzip):], maxDecompressed)
	default:
		// Peers predating the envelope send bare payloads.
		return framed, nil
	}
}

// inflate Base64-decodes and gunzips a payload, enforcing the size cap.
func inflate(encoded string, maxDecompressed int64) (string, error) {
	raw, err := wire.DecodeStdBase64(encoded)
	if err != nil {
		return "", err
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", fault.SecurityWrap(err, "malformed gzip payload")
	}
	defer zr.Close()

	var out bytes.Buffer
	if maxDecompressed > 0 {
		// Read one byte past the cap so hitting it is distinguishable from
		// landing exactly on it.
		n, err := io.Copy(&out, io.LimitReader(zr, maxDecompressed+1))
		if err != nil {
			return "", fault.SecurityWrap(err, "inflate payload")
		}
		if n > maxDecompressed {
			return "", fault.Security("decompressed size exceeds limit of %d bytes", maxDecompressed)
		}
	} else {
		if _, err := io.Copy(&out, zr); err != nil {
			return "", fault.SecurityWrap(err, "inflate payload")
		}
	}
	return out.String(), nil
}
