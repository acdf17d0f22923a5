package protocol

import (
	"reflect"
	"strings"

	"github.com/marmos91/tcprest/internal/envelope"
	"github.com/marmos91/tcprest/internal/fault"
	"github.com/marmos91/tcprest/internal/mapper"
	"github.com/marmos91/tcprest/internal/wire"
)

// NullBody is the literal written instead of a brace-wrapped token when a
// successful call returns null or void.
const NullBody = "null"

// CodecV2 renders and decodes current-format reply frames:
// "V2|<comp>|<status>|{{body-b64}}" plus optional trailers. The compression
// flag is the envelope prefix applied to "<status>|{{body}}".
type CodecV2 struct {
	Mappers     *mapper.Registry
	Compression *envelope.Config
	Security    *wire.SecurityConfig
}

// EncodeResult renders a successful outcome as a complete reply line
// (without the trailing newline).
func (c *CodecV2) EncodeResult(v any) (string, error) {
	v = mapper.Indirect(v)
	body := NullBody
	if v != nil {
		text, err := c.Mappers.EncodeValue(v)
		if err != nil {
			return "", err
		}
		body = braceWrap(text)
	}
	return c.frame(int(fault.StatusSuccess), body)
}

// EncodeError renders a failed outcome. The status code comes from the
// fault kind; the body is "Type: message" for business and server errors
// and a bare diagnostic for protocol errors. Stack traces never cross the
// wire.
func (c *CodecV2) EncodeError(err error) (string, error) {
	kind := fault.KindOf(err)
	status := int(fault.StatusFor(kind))

	var text string
	if kind == fault.KindProtocol {
		text = fault.Sanitize(err.Error())
	} else {
		encoded, encErr := (mapper.ExceptionMapper{}).Encode(err)
		if encErr != nil {
			encoded = "Exception: " + fault.Sanitize(err.Error())
		}
		text = encoded
	}
	return c.frame(status, braceWrap(text))
}

// frame assembles status and body into the enveloped, trailed reply line.
func (c *CodecV2) frame(status int, body string) (string, error) {
	inner := statusByte(status) + "|" + body
	framed, err := envelope.Encode(inner, c.Compression)
	if err != nil {
		return "", err
	}
	return wire.AppendTrailers(V2Prefix+framed, c.Security)
}

func statusByte(status int) string {
	return string(rune('0' + status))
}

func braceWrap(text string) string {
	return "{{" + wire.EncodeComponent(text) + "}}"
}

// Response is a decoded reply: the status code plus either the result value
// or the reconstructed error.
type Response struct {
	Status int
	Value  any
	Err    error
}

// DecodeResponse parses a reply line on the consumer side: verify trailers,
// strip the envelope, read the status, decode the body against the declared
// return type. Business and server errors come back as remote surrogates
// preserving the original type name; protocol errors carry the diagnostic.
func (c *CodecV2) DecodeResponse(line string, returns reflect.Type) (*Response, error) {
	t := wire.SplitTrailing(strings.TrimRight(line, "\r\n"))
	if err := wire.VerifyTrailers(t, c.Security); err != nil {
		return nil, err
	}
	content, ok := strings.CutPrefix(t.Content, V2Prefix)
	if !ok {
		return nil, fault.Protocol("reply %q is not a V2 frame", t.Content)
	}

	var maxInflate int64
	if c.Security != nil {
		maxInflate = c.Security.MaxDecompressedBytes
	}
	inner, err := envelope.Decode(content, maxInflate)
	if err != nil {
		return nil, err
	}

	statusStr, body, found := strings.Cut(inner, "|")
	if !found || len(statusStr) != 1 || statusStr[0] < '0' || statusStr[0] > '3' {
		return nil, fault.Protocol("malformed reply status in %q", inner)
	}
	status := int(statusStr[0] - '0')

	text, isNull, err := unwrapBody(body)
	if err != nil {
		return nil, err
	}

	switch fault.Status(status) {
	case fault.StatusSuccess:
		if isNull {
			return &Response{Status: status}, nil
		}
		v, err := c.Mappers.DecodeValue(text, returns)
		if err != nil {
			return nil, err
		}
		return &Response{Status: status, Value: v}, nil

	case fault.StatusBusinessException, fault.StatusServerError:
		remote, err := (mapper.ExceptionMapper{}).Decode(text, nil)
		if err != nil {
			return nil, err
		}
		r := remote.(*fault.Remote)
		if fault.Status(status) == fault.StatusBusinessException {
			r.Kind = fault.KindBusiness
		} else {
			r.Kind = fault.KindServer
		}
		return &Response{Status: status, Err: r}, nil

	default:
		return &Response{Status: status, Err: fault.Protocol("%s", text)}, nil
	}
}

// unwrapBody extracts the reply body text: the null literal, or the
// Base64 inside the braces.
func unwrapBody(body string) (text string, isNull bool, err error) {
	if body == NullBody || body == "" {
		return "", true, nil
	}
	if !strings.HasPrefix(body, "{{") || !strings.HasSuffix(body, "}}") {
		return "", false, fault.Protocol("malformed reply body %q", body)
	}
	text, err = wire.DecodeComponent(body[2 : len(body)-2])
	return text, false, err
}
