// Package mapper converts between Go values and the single-line text forms
// the wire protocol carries. A registry keyed by canonical type name holds
// bidirectional converters; values without a registered converter fall back
// to a self-describing binary auto-serializer.
package mapper

import (
	"reflect"
	"strings"
	"sync"

	"github.com/marmos91/tcprest/internal/descriptor"
	"github.com/marmos91/tcprest/internal/fault"
	"github.com/marmos91/tcprest/internal/wire"
)

// Mapper converts one value kind to and from its wire text form.
// Implementations must be stateless and safe for concurrent use.
type Mapper interface {
	// Encode renders a value as wire text.
	Encode(v any) (string, error)

	// Decode parses wire text into a value assignable to target. A nil
	// target lets the mapper pick its natural Go type.
	Decode(s string, target reflect.Type) (any, error)
}

// NullMarkerV1 is the literal null sentinel of the legacy frame format.
// The current format marks nulls with "~" directly in the parameter array,
// handled by the frame parser rather than by a mapper.
const NullMarkerV1 = "NULL"

// Registry resolves mappers by canonical type name. Mutation is expected at
// startup only, but lookups are safe concurrently with late registrations.
type Registry struct {
	mu      sync.RWMutex
	mappers map[string]Mapper
	auto    *AutoSerializer
}

// NewRegistry builds a registry seeded with the built-in mappers: numeric
// primitives and their boxed forms, boolean, char, String, the abstract
// collection names, the null marker, and the generic exception mapper.
// Collections and otherwise-unmapped types route to the auto-serializer.
func NewRegistry() *Registry {
	auto := NewAutoSerializer()
	r := &Registry{
		mappers: make(map[string]Mapper),
		auto:    auto,
	}

	for _, names := range [][]string{
		{"byte", "java.lang.Byte"},
		{"short", "java.lang.Short"},
		{"int", "java.lang.Integer"},
		{"long", "java.lang.Long"},
	} {
		for _, n := range names {
			r.mappers[n] = intMapper{}
		}
	}
	for _, n := range []string{"float", "java.lang.Float", "double", "java.lang.Double"} {
		r.mappers[n] = floatMapper{}
	}
	for _, n := range []string{"boolean", "java.lang.Boolean"} {
		r.mappers[n] = boolMapper{}
	}
	for _, n := range []string{"char", "java.lang.Character"} {
		r.mappers[n] = charMapper{}
	}
	for _, n := range []string{"String", descriptor.StringClass} {
		r.mappers[n] = stringMapper{}
	}
	for _, n := range []string{
		"java.util.List", "java.util.Set", "java.util.Queue",
		"java.util.Map", "java.util.Collection", "java.util.Deque",
	} {
		r.mappers[n] = auto
	}
	r.mappers[NullMarkerV1] = nullMapper{}
	r.mappers[descriptor.ExceptionClass] = ExceptionMapper{}

	return r
}

// Register adds or replaces the mapper for a canonical type name.
func (r *Registry) Register(name string, m Mapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappers[name] = m
}

// RegisterAll merges a name→mapper map, replacing existing entries.
func (r *Registry) RegisterAll(mappers map[string]Mapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, m := range mappers {
		r.mappers[name] = m
	}
}

// RegisterType makes a concrete Go type reconstructible by the
// auto-serializer under its canonical name.
func (r *Registry) RegisterType(name string, t reflect.Type) {
	r.auto.RegisterType(name, t)
}

// Lookup returns the mapper registered under name, or nil.
func (r *Registry) Lookup(name string) Mapper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mappers[name]
}

// Auto exposes the registry's auto-serializer for callers that need it
// directly, such as the object-array decode path.
func (r *Registry) Auto() *AutoSerializer {
	return r.auto
}

// CanonicalName derives the canonical wire name of a reflected type,
// matching the names the built-in mappers are registered under.
func CanonicalName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int8, reflect.Uint8:
		return "byte"
	case reflect.Int16, reflect.Uint16:
		return "short"
	case reflect.Int, reflect.Int32, reflect.Uint, reflect.Uint32:
		return "int"
	case reflect.Int64, reflect.Uint64:
		return "long"
	case reflect.Float32:
		return "float"
	case reflect.Float64:
		return "double"
	case reflect.Bool:
		return "boolean"
	case reflect.String:
		return descriptor.StringClass
	case reflect.Map:
		return descriptor.MapClass
	case reflect.Slice, reflect.Array:
		return "[" + CanonicalName(t.Elem())
	default:
		return descriptor.DefaultName(t)
	}
}

// EncoderFor resolves the mapper used to encode a value: exact canonical
// name first, then the null marker for nils, then the auto-serializer for
// anything it can represent. Unmappable values fail with a mapper-missing
// fault carrying the type name.
func (r *Registry) EncoderFor(v any) (Mapper, error) {
	if v == nil {
		return nullMapper{}, nil
	}
	if _, ok := v.(error); ok {
		return ExceptionMapper{}, nil
	}

	t := reflect.TypeOf(v)
	name := CanonicalName(t)
	if m := r.Lookup(name); m != nil {
		return m, nil
	}
	if isTextArray(t) {
		return &arrayMapper{registry: r, elem: t.Elem()}, nil
	}
	if r.auto.CanSerialize(t) {
		return r.auto, nil
	}
	return nil, fault.MapperMissing(name)
}

// DecoderFor resolves the mapper used to decode wire text into the declared
// parameter (or return) type. Priority: fast text path for strings,
// primitives, and arrays of those; auto-serializer for object arrays;
// user-registered mapper for the exact type; auto-serializer for
// collections and any other representable type; identity text as the last
// resort.
func (r *Registry) DecoderFor(t reflect.Type) (Mapper, error) {
	if t == nil {
		return stringMapper{}, nil
	}

	name := CanonicalName(t)
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		if m := r.Lookup(name); m != nil {
			return m, nil
		}
	case reflect.Slice, reflect.Array:
		if isTextElem(t.Elem()) {
			return &arrayMapper{registry: r, elem: t.Elem()}, nil
		}
		return r.auto, nil
	case reflect.Map:
		return r.auto, nil
	}

	if m := r.Lookup(name); m != nil {
		return m, nil
	}
	if t == errorType {
		return ExceptionMapper{}, nil
	}
	if r.auto.CanSerialize(t) {
		return r.auto, nil
	}
	return stringMapper{}, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// isTextElem reports whether an array element type rides the fast text path.
func isTextElem(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

// isTextArray reports whether t is an array of fast-text elements.
func isTextArray(t reflect.Type) bool {
	return (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) && isTextElem(t.Elem())
}

// Indirect peels pointer layers off a value. A nil pointer at any depth
// collapses to untyped nil, so nullable results render as null instead of
// failing in a text mapper.
func Indirect(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

// EncodeValue resolves a mapper for v and encodes it in one step. Pointers
// are dereferenced first; errors keep their identity for the exception
// mapper.
func (r *Registry) EncodeValue(v any) (string, error) {
	if _, isErr := v.(error); !isErr {
		v = Indirect(v)
	}
	m, err := r.EncoderFor(v)
	if err != nil {
		return "", err
	}
	return m.Encode(v)
}

// DecodeValue resolves a mapper for the target type and decodes s in one
// step.
func (r *Registry) DecodeValue(s string, target reflect.Type) (any, error) {
	m, err := r.DecoderFor(target)
	if err != nil {
		return nil, err
	}
	return m.Decode(s, target)
}

// Names returns the registered canonical names, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.mappers))
	for n := range r.mappers {
		names = append(names, n)
	}
	return names
}

// nullElement marks a null array element, matching the marker the frame
// parameter array uses.
const nullElement = "~"

// arrayMapper encodes arrays of fast-text elements as a bracketed,
// comma-separated list of Base64 components. Component encoding keeps
// element text containing ',' or ']' intact on the wire.
type arrayMapper struct {
	registry *Registry
	elem     reflect.Type
}

func (a *arrayMapper) Encode(v any) (string, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return "", fault.Protocol("array mapper cannot encode %T", v)
	}
	parts := make([]string, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem := Indirect(rv.Index(i).Interface())
		if elem == nil {
			parts[i] = nullElement
			continue
		}
		s, err := a.registry.EncodeValue(elem)
		if err != nil {
			return "", err
		}
		parts[i] = wire.EncodeComponent(s)
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}

func (a *arrayMapper) Decode(s string, target reflect.Type) (any, error) {
	elem := a.elem
	if target != nil && (target.Kind() == reflect.Slice || target.Kind() == reflect.Array) {
		elem = target.Elem()
	}
	body := strings.TrimSpace(s)
	if strings.HasPrefix(body, "[") && strings.HasSuffix(body, "]") {
		body = body[1 : len(body)-1]
	}

	sliceType := reflect.SliceOf(elem)
	if body == "" {
		return reflect.MakeSlice(sliceType, 0, 0).Interface(), nil
	}
	parts := strings.Split(body, ",")
	out := reflect.MakeSlice(sliceType, len(parts), len(parts))
	for i, p := range parts {
		if p == nullElement {
			// Null elements keep the zero value.
			continue
		}
		text, err := wire.DecodeComponent(p)
		if err != nil {
			return nil, err
		}
		v, err := a.registry.DecodeValue(text, elem)
		if err != nil {
			return nil, err
		}
		out.Index(i).Set(reflect.ValueOf(v))
	}
	return out.Interface(), nil
}
