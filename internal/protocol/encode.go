package protocol

import (
	"strings"

	"github.com/marmos91/tcprest/internal/envelope"
	"github.com/marmos91/tcprest/internal/mapper"
	"github.com/marmos91/tcprest/internal/wire"
)

// RequestEncoder renders outgoing request frames on the consumer side.
type RequestEncoder struct {
	Mappers     *mapper.Registry
	Compression *envelope.Config
	Security    *wire.SecurityConfig
}

// EncodeV2 renders a current-format request line for class/method+desc with
// the given arguments. Null arguments become the "~" token; empty strings
// stay empty between the commas.
func (e *RequestEncoder) EncodeV2(class, method, desc string, args []any) (string, error) {
	metaToken := "{{" + wire.EncodeComponent(class+"/"+method+desc) + "}}"

	elems := make([]string, len(args))
	for i, arg := range args {
		arg = mapper.Indirect(arg)
		if arg == nil {
			elems[i] = NullToken
			continue
		}
		text, err := e.Mappers.EncodeValue(arg)
		if err != nil {
			return "", err
		}
		if text == "" {
			continue
		}
		elems[i] = wire.EncodeComponent(text)
	}

	inner := metaToken + "|[" + strings.Join(elems, ",") + "]"
	framed, err := envelope.Encode(inner, e.Compression)
	if err != nil {
		return "", err
	}
	return wire.AppendTrailers(V2Prefix+framed, e.Security)
}

// EncodeV1 renders a legacy request line. The parameter block is the
// ":::"-joined sequence of brace-wrapped tokens, itself Base64-encoded as
// one frame component.
func (e *RequestEncoder) EncodeV1(class, method string, args []any) (string, error) {
	metaToken := wire.EncodeComponent(class + "/" + method)

	tokens := make([]string, len(args))
	for i, arg := range args {
		arg = mapper.Indirect(arg)
		text := mapper.NullMarkerV1
		if arg != nil {
			encoded, err := e.Mappers.EncodeValue(arg)
			if err != nil {
				return "", err
			}
			text = encoded
		}
		tokens[i] = "{{" + wire.EncodeComponent(text) + "}}"
	}

	var paramsToken string
	if len(tokens) > 0 {
		paramsToken = wire.EncodeComponent(strings.Join(tokens, v1ParamSeparator))
	}

	framed, err := envelope.Encode(metaToken+"|"+paramsToken, e.Compression)
	if err != nil {
		return "", err
	}
	return wire.AppendTrailers(framed, e.Security)
}
