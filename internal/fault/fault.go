// Package fault defines the error taxonomy shared by the parsers, the
// invoker, the codecs and the dispatcher.
//
// Five kinds are distinguished:
//
//   - Protocol: malformed frame, wrong arity, bad descriptor. Never retryable.
//   - Security: checksum/signature failure, injection-shaped identifier,
//     whitelist miss, decompression cap. Never retryable, never cached.
//   - MapperMissing: no registered mapper and the type is not auto-serializable.
//   - Business: user code raised a business-marked error. Part of the API
//     contract; forwarded verbatim (type name + message).
//   - Server: any other user-code failure.
//
// On the V2 wire these map to the response status codes: business errors are
// status 1, security/mapper/server errors are status 2, protocol errors are
// status 3.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a fault.
type Kind int

const (
	KindProtocol Kind = iota
	KindSecurity
	KindMapperMissing
	KindBusiness
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindSecurity:
		return "security"
	case KindMapperMissing:
		return "mapper_missing"
	case KindBusiness:
		return "business"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Status is the wire status code attached to every V2 response.
type Status int

const (
	StatusSuccess           Status = 0
	StatusBusinessException Status = 1
	StatusServerError       Status = 2
	StatusProtocolError     Status = 3
)

// StatusFor maps a fault kind to its wire status.
func StatusFor(k Kind) Status {
	switch k {
	case KindBusiness:
		return StatusBusinessException
	case KindProtocol:
		return StatusProtocolError
	default:
		// Security, mapper-missing and server faults all surface as a
		// server error on the wire; the distinction stays in the logs.
		return StatusServerError
	}
}

// Error is a classified fault raised anywhere in the request pipeline.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s fault: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s fault: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Protocol creates a protocol fault.
func Protocol(format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Message: fmt.Sprintf(format, args...)}
}

// Security creates a security fault.
func Security(format string, args ...any) *Error {
	return &Error{Kind: KindSecurity, Message: fmt.Sprintf(format, args...)}
}

// SecurityWrap creates a security fault wrapping a cause.
func SecurityWrap(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindSecurity, Message: fmt.Sprintf(format, args...), cause: cause}
}

// MapperMissing creates a mapper-missing fault for the given type name.
func MapperMissing(typeName string) *Error {
	return &Error{Kind: KindMapperMissing, Message: fmt.Sprintf("no mapper registered for type %s", typeName)}
}

// Wrap attaches a kind to an arbitrary cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the fault kind from an error chain. Errors carrying no
// classification default to KindServer: anything a resource method returns
// that is not business-marked is a server error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if IsBusiness(err) {
		return KindBusiness
	}
	return KindServer
}

// businessMarker is the opt-in hook for user error types: any error whose
// type implements it is classified as a business exception.
type businessMarker interface {
	BusinessError() bool
}

// Business is an expected application-level failure raised by resource code.
// It crosses the wire as status 1 with the remote type name preserved.
type Business struct {
	// Type is the simple remote type name written to the wire. Empty means
	// the dynamic Go type name of the wrapped cause (or "BusinessException").
	Type    string
	Message string
}

func (b *Business) Error() string {
	if b.Type != "" {
		return fmt.Sprintf("%s: %s", b.Type, b.Message)
	}
	return b.Message
}

// BusinessError marks the type for classification.
func (b *Business) BusinessError() bool { return true }

// NewBusiness creates a business error with an explicit remote type name.
func NewBusiness(typeName, message string) *Business {
	return &Business{Type: typeName, Message: message}
}

// IsBusiness reports whether err is marked as a business exception anywhere
// in its chain.
func IsBusiness(err error) bool {
	for err != nil {
		if m, ok := err.(businessMarker); ok && m.BusinessError() {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Remote is the client-side surrogate for an exception whose original type
// could not be reconstructed locally. It preserves the business-vs-server
// distinction plus the remote type name and message.
type Remote struct {
	Kind       Kind
	RemoteType string
	Message    string
}

func (r *Remote) Error() string {
	return fmt.Sprintf("remote %s exception %s: %s", r.Kind, r.RemoteType, r.Message)
}

// BusinessError marks business-kind remotes for classification, so that a
// re-sent remote error keeps its status.
func (r *Remote) BusinessError() bool { return r.Kind == KindBusiness }

// MessageCap bounds exception messages on the wire so a reply always fits a
// single line.
const MessageCap = 500

// Sanitize strips CR/LF and the frame separator from a message and truncates
// it at MessageCap. The codecs never write stack traces; only this bounded
// string crosses the wire.
func Sanitize(msg string) string {
	msg = strings.NewReplacer("\r", " ", "\n", " ", "|", "/").Replace(msg)
	if len(msg) > MessageCap {
		msg = msg[:MessageCap]
	}
	return msg
}
