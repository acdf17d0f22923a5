package protocol

import (
	"strings"

	"github.com/marmos91/tcprest/internal/descriptor"
	"github.com/marmos91/tcprest/internal/fault"
	"github.com/marmos91/tcprest/internal/mapper"
	"github.com/marmos91/tcprest/internal/wire"
	"github.com/marmos91/tcprest/pkg/registry"
)

// NullToken marks a null parameter in the array form. It is not a Base64
// character, so it can never collide with an encoded value.
const NullToken = "~"

// ParserV2 decodes current-format request content into a resolved Request.
// Stateless; one parser serves all connections.
type ParserV2 struct {
	Resources *registry.Registry
	Mappers   *mapper.Registry
	Security  *wire.SecurityConfig
}

// Parse consumes the decompressed content after the version prefix:
// "{{meta-b64}}|[elem,elem,…]". The metadata carries a descriptor, so the
// method is resolved overload-exact; the element count must equal the
// descriptor arity.
func (p *ParserV2) Parse(content string) (*Request, error) {
	metaToken, arrayPart, err := splitV2Content(content)
	if err != nil {
		return nil, err
	}

	metaText, err := wire.DecodeComponent(metaToken)
	if err != nil {
		return nil, err
	}
	meta, err := splitMeta(metaText)
	if err != nil {
		return nil, err
	}
	if meta.Descriptor == "" {
		return nil, fault.Protocol("metadata %q carries no method descriptor", metaText)
	}
	if err := validateTarget(meta, p.Security); err != nil {
		return nil, err
	}

	res, ok := p.Resources.Lookup(meta.Class)
	if !ok {
		return nil, fault.Protocol("unknown resource %s", meta.Class)
	}
	method, err := res.MethodByDescriptor(meta.Method, meta.Descriptor)
	if err != nil {
		return nil, err
	}

	arity, err := descriptor.Arity(meta.Descriptor)
	if err != nil {
		return nil, err
	}
	texts, err := splitArray(arrayPart, arity)
	if err != nil {
		return nil, err
	}

	types := paramTypes(method)
	if len(types) != arity {
		return nil, fault.Protocol("method %s.%s arity %d does not match descriptor %s",
			meta.Class, meta.Method, len(types), meta.Descriptor)
	}

	args := make([]any, arity)
	for i, txt := range texts {
		if txt == nil {
			continue
		}
		v, err := p.Mappers.DecodeValue(*txt, types[i])
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	return &Request{
		Version:  VersionV2,
		Meta:     meta,
		Resource: res,
		Method:   method,
		Args:     args,
	}, nil
}

// splitV2Content cuts "{{meta}}|[array]" into its two parts.
func splitV2Content(content string) (metaToken, arrayPart string, err error) {
	if !strings.HasPrefix(content, "{{") {
		return "", "", fault.Protocol("frame metadata is not brace-wrapped")
	}
	end := strings.Index(content, "}}")
	if end < 0 {
		return "", "", fault.Protocol("unterminated frame metadata")
	}
	metaToken = content[2:end]

	rest := content[end+2:]
	if !strings.HasPrefix(rest, "|") {
		return "", "", fault.Protocol("missing parameter array")
	}
	return metaToken, rest[1:], nil
}

// splitArray parses the "[elem,…]" parameter array into per-parameter value
// texts. A nil entry is a null argument; a pointer to "" is an empty
// string. An empty array is zero parameters at arity 0 and one empty string
// at arity 1; any other count mismatch is a protocol error.
func splitArray(arrayPart string, arity int) ([]*string, error) {
	if len(arrayPart) < 2 || arrayPart[0] != '[' || arrayPart[len(arrayPart)-1] != ']' {
		return nil, fault.Protocol("malformed parameter array %q", arrayPart)
	}
	body := arrayPart[1 : len(arrayPart)-1]

	if body == "" {
		switch arity {
		case 0:
			return nil, nil
		case 1:
			empty := ""
			return []*string{&empty}, nil
		default:
			return nil, fault.Protocol("empty parameter array for arity %d", arity)
		}
	}

	elems := strings.Split(body, ",")
	if len(elems) != arity {
		return nil, fault.Protocol("parameter count %d does not match arity %d", len(elems), arity)
	}

	out := make([]*string, len(elems))
	for i, e := range elems {
		switch e {
		case NullToken:
			out[i] = nil
		case "":
			empty := ""
			out[i] = &empty
		default:
			text, err := wire.DecodeComponent(e)
			if err != nil {
				return nil, err
			}
			out[i] = &text
		}
	}
	return out, nil
}
