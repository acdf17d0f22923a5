package mapper

import (
	"reflect"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/marmos91/tcprest/internal/fault"
	"github.com/marmos91/tcprest/internal/wire"
)

// autoEnvelope is the self-describing binary form of an opaque value: the
// canonical type name plus the CBOR-encoded payload. The name is examined
// against the deny list before the payload is touched.
type autoEnvelope struct {
	Type string          `cbor:"type"`
	Data cbor.RawMessage `cbor:"data"`
}

// deniedExact and deniedPrefixes name types that must never be materialized
// from the wire, applied to the envelope type name before any payload
// decoding.
var (
	deniedExact = map[string]struct{}{
		"java.lang.ProcessBuilder": {},
		"java.lang.Runtime":        {},
	}
	deniedPrefixes = []string{
		"javax.management.",
		"java.util.prefs.",
		"java.awt.",
		"javax.swing.",
		"com.sun.",
		"sun.",
	}
)

// denied reports whether a type name is on the deserialization deny list.
func denied(name string) bool {
	if _, ok := deniedExact[name]; ok {
		return true
	}
	for _, p := range deniedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

var (
	cborEncOnce sync.Once
	cborEnc     cbor.EncMode
)

// encMode is the shared deterministic CBOR encoder.
func encMode() cbor.EncMode {
	cborEncOnce.Do(func() {
		var err error
		cborEnc, err = cbor.CanonicalEncOptions().EncMode()
		if err != nil {
			panic(err)
		}
	})
	return cborEnc
}

// AutoSerializer is the generic mapper for opaque values with no dedicated
// text form. It wraps values in a self-describing envelope, CBOR-encodes it
// and carries the bytes as standard Base64 text.
//
// Decoding only reconstructs concrete types that were registered via
// RegisterType or that the declared target names; everything else decodes
// into generic containers. The deny list is consulted before the payload is
// parsed.
type AutoSerializer struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewAutoSerializer creates an auto-serializer with an empty type registry.
func NewAutoSerializer() *AutoSerializer {
	return &AutoSerializer{types: make(map[string]reflect.Type)}
}

// RegisterType makes name reconstructible as t on decode.
func (a *AutoSerializer) RegisterType(name string, t reflect.Type) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.types[name] = t
}

// lookupType resolves a registered concrete type by canonical name.
func (a *AutoSerializer) lookupType(name string) (reflect.Type, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.types[name]
	return t, ok
}

// CanSerialize reports whether a type is representable by the
// auto-serializer. Channels, funcs and unsafe pointers are not.
func (a *AutoSerializer) CanSerialize(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Invalid:
		return false
	default:
		return true
	}
}

// Encode wraps v in a typed envelope and renders it as Base64 text.
func (a *AutoSerializer) Encode(v any) (string, error) {
	if v == nil {
		return NullMarkerV1, nil
	}
	data, err := encMode().Marshal(v)
	if err != nil {
		return "", fault.Wrap(fault.KindServer, err, "serialize %T", v)
	}
	env := autoEnvelope{
		Type: CanonicalName(reflect.TypeOf(v)),
		Data: data,
	}
	raw, err := encMode().Marshal(env)
	if err != nil {
		return "", fault.Wrap(fault.KindServer, err, "serialize envelope for %T", v)
	}
	return wire.StdBase64(raw), nil
}

// Decode parses Base64 envelope text back into a value. The envelope's type
// name is checked against the deny list before the payload bytes are
// decoded; a denied name fails with a security fault.
func (a *AutoSerializer) Decode(s string, target reflect.Type) (any, error) {
	if s == NullMarkerV1 || s == "" {
		return nil, nil
	}
	raw, err := wire.DecodeStdBase64(s)
	if err != nil {
		return nil, err
	}

	var env autoEnvelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return nil, fault.Protocol("malformed serialized payload: %v", err)
	}
	if denied(env.Type) {
		return nil, fault.Security("deserialization of type %s is blocked", env.Type)
	}

	out := a.allocTarget(env.Type, target)
	if !out.IsValid() {
		// Generic container: maps, slices and scalars come back as the CBOR
		// defaults.
		var v any
		if err := cbor.Unmarshal(env.Data, &v); err != nil {
			return nil, fault.Protocol("malformed serialized payload for %s: %v", env.Type, err)
		}
		return v, nil
	}

	if err := cbor.Unmarshal(env.Data, out.Interface()); err != nil {
		return nil, fault.Protocol("cannot decode %s payload: %v", env.Type, err)
	}
	v := out.Elem().Interface()
	if target != nil && target.Kind() != reflect.Pointer && target.Kind() != reflect.Interface {
		return v, nil
	}
	if target != nil && target.Kind() == reflect.Pointer {
		return out.Interface(), nil
	}
	return v, nil
}

// allocTarget picks the concrete type to decode into: a registered type for
// the envelope name wins, then the declared target. Returns a pointer value
// or nil when no concrete type is known.
func (a *AutoSerializer) allocTarget(name string, target reflect.Type) reflect.Value {
	if t, ok := a.lookupType(name); ok {
		return reflect.New(t)
	}
	if target == nil || target.Kind() == reflect.Interface {
		return reflect.Value{}
	}
	t := target
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return reflect.New(t)
}
