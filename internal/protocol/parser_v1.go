package protocol

import (
	"strings"

	"github.com/marmos91/tcprest/internal/fault"
	"github.com/marmos91/tcprest/internal/mapper"
	"github.com/marmos91/tcprest/internal/wire"
	"github.com/marmos91/tcprest/pkg/registry"
)

// v1ParamSeparator joins the brace-wrapped parameter tokens inside the
// decoded V1 parameter block.
const v1ParamSeparator = ":::"

// ParserV1 decodes legacy-format request content. Methods are resolved by
// bare name only: the first name match wins, whatever its parameters.
// Overloaded services need the current format; this lookup is kept
// compatible with peers that cannot send a descriptor.
type ParserV1 struct {
	Resources *registry.Registry
	Mappers   *mapper.Registry
	Security  *wire.SecurityConfig
}

// Parse consumes decompressed V1 content. Two layouts exist on the wire:
// the Base64 pair "meta-b64|params-b64" and, from the oldest peers, a bare
// "Class/method(arg,…)" line.
func (p *ParserV1) Parse(content string) (*Request, error) {
	var metaText string
	var texts []string

	if strings.Contains(content, "|") {
		parts := strings.SplitN(content, "|", 3)
		decoded, err := wire.DecodeComponent(parts[0])
		if err != nil {
			return nil, err
		}
		metaText = decoded

		if len(parts) > 1 && parts[1] != "" {
			block, err := wire.DecodeComponent(parts[1])
			if err != nil {
				return nil, err
			}
			texts, err = splitV1Params(block)
			if err != nil {
				return nil, err
			}
		}
	} else {
		metaText, texts = splitLegacyCall(content)
	}

	meta, err := splitMeta(metaText)
	if err != nil {
		return nil, err
	}
	if err := validateTarget(meta, p.Security); err != nil {
		return nil, err
	}

	res, ok := p.Resources.Lookup(meta.Class)
	if !ok {
		return nil, fault.Protocol("unknown resource %s", meta.Class)
	}
	method, err := res.MethodByName(meta.Method)
	if err != nil {
		return nil, err
	}

	types := paramTypes(method)
	if len(texts) != len(types) {
		return nil, fault.Protocol("method %s.%s takes %d parameters, got %d",
			meta.Class, meta.Method, len(types), len(texts))
	}

	args := make([]any, len(texts))
	for i, txt := range texts {
		if txt == mapper.NullMarkerV1 {
			continue
		}
		v, err := p.Mappers.DecodeValue(txt, types[i])
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	return &Request{
		Version:  VersionV1,
		Meta:     meta,
		Resource: res,
		Method:   method,
		Args:     args,
	}, nil
}

// splitV1Params cuts the decoded parameter block "{{b64}}:::{{b64}}…" into
// value texts.
func splitV1Params(block string) ([]string, error) {
	if block == "" {
		return nil, nil
	}
	tokens := strings.Split(block, v1ParamSeparator)
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		if len(tok) < 4 || !strings.HasPrefix(tok, "{{") || !strings.HasSuffix(tok, "}}") {
			return nil, fault.Protocol("malformed parameter token %q", tok)
		}
		text, err := wire.DecodeComponent(tok[2 : len(tok)-2])
		if err != nil {
			return nil, err
		}
		out[i] = text
	}
	return out, nil
}

// splitLegacyCall parses the oldest frame layout, a bare
// "Class/method(arg,…)" line with plain-text arguments.
func splitLegacyCall(content string) (metaText string, texts []string) {
	open := strings.IndexByte(content, '(')
	if open < 0 || !strings.HasSuffix(content, ")") {
		return content, nil
	}
	metaText = content[:open]
	body := content[open+1 : len(content)-1]
	if body == "" {
		return metaText, nil
	}
	return metaText, strings.Split(body, ",")
}
