package wire

import (
	"regexp"
	"strings"
)

// Identifier validation rejects injection-shaped class and method names
// before any registry lookup, even though the text arrived through Base64:
// decoding launders transport framing, not intent.

var (
	methodNameRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
	classNameRe  = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)
)

// IsValidClassName reports whether name is a dot-separated identifier chain.
// Empty names, path separators, angle brackets and ".." are rejected.
func IsValidClassName(name string) bool {
	if name == "" || strings.Contains(name, "..") {
		return false
	}
	if strings.ContainsAny(name, "/<>") {
		return false
	}
	return classNameRe.MatchString(name)
}

// IsValidMethodName reports whether name is a single identifier.
func IsValidMethodName(name string) bool {
	return name != "" && methodNameRe.MatchString(name)
}
