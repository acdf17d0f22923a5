package protocol

import (
	"reflect"
	"strings"

	"github.com/marmos91/tcprest/internal/envelope"
	"github.com/marmos91/tcprest/internal/fault"
	"github.com/marmos91/tcprest/internal/mapper"
	"github.com/marmos91/tcprest/internal/wire"
)

// CodecV1 renders legacy replies: the mapper-encoded return value wrapped
// in the compression envelope, nothing else. There is no status channel; a
// failed call writes a bare diagnostic and the server closes the
// connection.
type CodecV1 struct {
	Mappers     *mapper.Registry
	Compression *envelope.Config
	Security    *wire.SecurityConfig
}

// EncodeResult renders a successful outcome as a complete reply line.
func (c *CodecV1) EncodeResult(v any) (string, error) {
	v = mapper.Indirect(v)
	text := mapper.NullMarkerV1
	if v != nil {
		encoded, err := c.Mappers.EncodeValue(v)
		if err != nil {
			return "", err
		}
		text = encoded
	}
	framed, err := envelope.Encode(text, c.Compression)
	if err != nil {
		return "", err
	}
	return wire.AppendTrailers(framed, c.Security)
}

// EncodeError renders the best-effort textual diagnostic written before the
// connection is closed.
func (c *CodecV1) EncodeError(err error) string {
	return fault.Sanitize(err.Error())
}

// DecodeResponse parses a legacy reply on the consumer side. The envelope
// is stripped before the value is decoded, also when the reply arrived
// uncompressed: older consumers ran the mapper on the raw line and broke
// whenever a compression prefix appeared.
func (c *CodecV1) DecodeResponse(line string, returns reflect.Type) (any, error) {
	t := wire.SplitTrailing(strings.TrimRight(line, "\r\n"))
	if err := wire.VerifyTrailers(t, c.Security); err != nil {
		return nil, err
	}

	var maxInflate int64
	if c.Security != nil {
		maxInflate = c.Security.MaxDecompressedBytes
	}
	text, err := envelope.Decode(t.Content, maxInflate)
	if err != nil {
		return nil, err
	}
	if text == mapper.NullMarkerV1 {
		return nil, nil
	}
	return c.Mappers.DecodeValue(text, returns)
}
