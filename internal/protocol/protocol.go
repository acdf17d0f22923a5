// Package protocol implements the frame grammar: the request parsers and
// response codecs for both protocol versions, and the dispatcher that ties
// parsing, invocation and encoding to a transport line.
//
// A request line goes through the same stations in both versions:
//
//	trailers (CHK/SIG) → version peek → compression envelope →
//	metadata → resource/method resolution → parameter decode →
//	invoke → encode reply → envelope → trailers
//
// The current version (V2) carries a method descriptor for overload-exact
// dispatch and a status code on every reply. The legacy version (V1)
// resolves methods by bare name and reports failures by closing the
// connection.
package protocol

import (
	"context"
	"reflect"
	"strings"

	"github.com/marmos91/tcprest/internal/fault"
	"github.com/marmos91/tcprest/internal/wire"
	"github.com/marmos91/tcprest/pkg/registry"
)

// Version labels for logs and metrics.
const (
	VersionV1 = "V1"
	VersionV2 = "V2"
)

// V2Prefix starts every current-format frame.
const V2Prefix = "V2|"

// Mode restricts which protocol versions a server accepts.
type Mode int

const (
	ModeAuto Mode = iota
	ModeV1
	ModeV2
)

func (m Mode) String() string {
	switch m {
	case ModeV1:
		return "v1"
	case ModeV2:
		return "v2"
	default:
		return "auto"
	}
}

// ParseMode reads a mode from its config spelling.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return ModeAuto, nil
	case "v1":
		return ModeV1, nil
	case "v2":
		return ModeV2, nil
	default:
		return ModeAuto, fault.Protocol("unknown protocol mode %q", s)
	}
}

// Meta is the decoded request metadata: which method on which resource.
type Meta struct {
	Class      string
	Method     string
	Descriptor string // "(...)" or "" when the frame carries none
}

// splitMeta cuts decoded metadata text into its parts. The separator is the
// last '/' before any descriptor: class names are dotted, descriptors may
// contain slashes of their own.
func splitMeta(text string) (Meta, error) {
	head := text
	desc := ""
	if open := strings.IndexByte(text, '('); open >= 0 {
		if !strings.HasSuffix(text, ")") {
			return Meta{}, fault.Protocol("unterminated descriptor in metadata %q", text)
		}
		head = text[:open]
		desc = text[open:]
	}

	slash := strings.LastIndexByte(head, '/')
	if slash <= 0 || slash == len(head)-1 {
		return Meta{}, fault.Protocol("metadata %q is not class/method", text)
	}

	// "()" is the zero-argument descriptor, not an absent one.
	return Meta{
		Class:      head[:slash],
		Method:     head[slash+1:],
		Descriptor: desc,
	}, nil
}

// validateTarget runs the fixed validation order on a parsed target:
// class-name shape, whitelist, method-name shape.
func validateTarget(m Meta, sec *wire.SecurityConfig) error {
	if !wire.IsValidClassName(m.Class) {
		return fault.Security("invalid class name %q", m.Class)
	}
	if !sec.WhitelistAllows(m.Class) {
		return fault.Security("class %q is not whitelisted", m.Class)
	}
	if !wire.IsValidMethodName(m.Method) {
		return fault.Security("invalid method name %q", m.Method)
	}
	return nil
}

// Request is a fully resolved invocation ready for the invoker.
type Request struct {
	Version  string
	Meta     Meta
	Resource *registry.Resource
	Method   reflect.Method
	Args     []any
}

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

// paramTypes lists a method's wire-visible parameter types, skipping the
// receiver and an optional leading context.
func paramTypes(m reflect.Method) []reflect.Type {
	start := 1
	if m.Type.NumIn() > start && m.Type.In(start) == contextType {
		start++
	}
	out := make([]reflect.Type, 0, m.Type.NumIn()-start)
	for i := start; i < m.Type.NumIn(); i++ {
		out = append(out, m.Type.In(i))
	}
	return out
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// ReturnType picks a method's wire-visible return type: the first output
// that is not the trailing error, or nil for void methods.
func ReturnType(fn reflect.Type) reflect.Type {
	for i := 0; i < fn.NumOut(); i++ {
		t := fn.Out(i)
		if i == fn.NumOut()-1 && t == errType {
			continue
		}
		return t
	}
	return nil
}
