// Package bytesize provides a byte-count type with human-readable formatting
// and parsing, used in transport configuration and logging.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize represents a size in bytes that can be unmarshaled from
// human-readable strings like "1Gi", "500Mi", "100MB", or plain numbers.
//
// Supported formats:
//   - Plain numbers: 1024, 1472
//   - Binary units (×1024): Ki/KiB, Mi/MiB, Gi/GiB, Ti/TiB
//   - Decimal units (×1000): K/KB, M/MB, G/GB, T/TB
//   - Bytes: B
type ByteSize uint64

// Common byte size constants
const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

// byteSizePattern matches a number followed by an optional unit suffix
var byteSizePattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)\s*$`)

// unitMultipliers maps unit suffixes to their byte multipliers
var unitMultipliers = map[string]ByteSize{
	"":    B,
	"b":   B,
	"k":   KB,
	"kb":  KB,
	"m":   MB,
	"mb":  MB,
	"g":   GB,
	"gb":  GB,
	"t":   TB,
	"tb":  TB,
	"ki":  KiB,
	"kib": KiB,
	"mi":  MiB,
	"mib": MiB,
	"gi":  GiB,
	"gib": GiB,
	"ti":  TiB,
	"tib": TiB,
}

// Parse converts a human-readable size string into a ByteSize.
func Parse(s string) (ByteSize, error) {
	matches := byteSizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}

	mult, ok := unitMultipliers[strings.ToLower(matches[2])]
	if !ok {
		return 0, fmt.Errorf("invalid byte size unit %q", matches[2])
	}

	return ByteSize(value * float64(mult)), nil
}

// String renders the size with the largest binary unit that divides cleanly,
// falling back to a decimal rendering of bytes.
func (b ByteSize) String() string {
	switch {
	case b >= TiB:
		return formatUnit(b, TiB, "TiB")
	case b >= GiB:
		return formatUnit(b, GiB, "GiB")
	case b >= MiB:
		return formatUnit(b, MiB, "MiB")
	case b >= KiB:
		return formatUnit(b, KiB, "KiB")
	default:
		return fmt.Sprintf("%dB", uint64(b))
	}
}

func formatUnit(b, unit ByteSize, suffix string) string {
	v := float64(b) / float64(unit)
	if v == float64(uint64(v)) {
		return fmt.Sprintf("%d%s", uint64(v), suffix)
	}
	return fmt.Sprintf("%.1f%s", v, suffix)
}

// UnmarshalText implements encoding.TextUnmarshaler so ByteSize fields can be
// decoded from configuration files.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}
