// Package descriptor maps between reflected parameter-type lists and the
// JVM-style descriptor strings that disambiguate method overloads on the
// wire.
//
// Grammar:
//
//	DESCRIPTOR := "(" TYPE* ")"
//	TYPE       := "I"|"J"|"D"|"F"|"B"|"C"|"S"|"Z"|"V"
//	            | "L" slashed-class-name ";"
//	            | "[" TYPE
//
// The primitive letters follow the JVM convention: I int, J long, D double,
// F float, B byte, C char, S short, Z boolean, V void.
package descriptor

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/marmos91/tcprest/internal/fault"
)

// Namer resolves the canonical (dotted) wire name of a non-primitive type.
// The registry installs a namer that prefers registered resource and mapper
// names; DefaultName is the fallback.
type Namer func(reflect.Type) string

// Canonical wire names for the types every peer understands.
const (
	StringClass    = "java.lang.String"
	ObjectClass    = "java.lang.Object"
	MapClass       = "java.util.Map"
	ListClass      = "java.util.List"
	ExceptionClass = "java.lang.Exception"
)

// DefaultName derives a dotted canonical name from a Go type: the package
// path with slashes flattened to dots, plus the type name. Unnamed types
// fall back to the object class.
func DefaultName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.String {
		return StringClass
	}
	if t.Name() == "" || t.PkgPath() == "" {
		return ObjectClass
	}
	return strings.ReplaceAll(t.PkgPath(), "/", ".") + "." + t.Name()
}

// ForType renders the descriptor of a single reflected type.
func ForType(t reflect.Type, namer Namer) (string, error) {
	if namer == nil {
		namer = DefaultName
	}
	switch t.Kind() {
	case reflect.Bool:
		return "Z", nil
	case reflect.Int8, reflect.Uint8:
		return "B", nil
	case reflect.Int16, reflect.Uint16:
		return "S", nil
	case reflect.Int, reflect.Int32, reflect.Uint, reflect.Uint32:
		return "I", nil
	case reflect.Int64, reflect.Uint64:
		return "J", nil
	case reflect.Float32:
		return "F", nil
	case reflect.Float64:
		return "D", nil
	case reflect.String:
		return objectDescriptor(StringClass), nil
	case reflect.Slice, reflect.Array:
		elem, err := ForType(t.Elem(), namer)
		if err != nil {
			return "", err
		}
		return "[" + elem, nil
	case reflect.Map:
		return objectDescriptor(MapClass), nil
	case reflect.Pointer:
		return ForType(t.Elem(), namer)
	case reflect.Interface:
		if t == reflect.TypeOf((*error)(nil)).Elem() {
			return objectDescriptor(ExceptionClass), nil
		}
		return objectDescriptor(ObjectClass), nil
	case reflect.Struct:
		return objectDescriptor(namer(t)), nil
	default:
		return "", fault.Protocol("type %s has no wire descriptor", t)
	}
}

// objectDescriptor renders an object type token from a dotted class name.
func objectDescriptor(dotted string) string {
	return "L" + strings.ReplaceAll(dotted, ".", "/") + ";"
}

// ClassOf converts an object type token back to its dotted class name.
func ClassOf(token string) (string, error) {
	if len(token) < 3 || token[0] != 'L' || token[len(token)-1] != ';' {
		return "", fault.Protocol("malformed object descriptor %q", token)
	}
	return strings.ReplaceAll(token[1:len(token)-1], "/", "."), nil
}

// ForFunc renders the parameter descriptor of a function type, skipping the
// leading inputs (receiver, optional context) the wire never sees.
func ForFunc(fn reflect.Type, skip int, namer Namer) (string, error) {
	if fn.Kind() != reflect.Func {
		return "", fmt.Errorf("descriptor of non-func type %s", fn)
	}
	var sb strings.Builder
	sb.WriteByte('(')
	for i := skip; i < fn.NumIn(); i++ {
		d, err := ForType(fn.In(i), namer)
		if err != nil {
			return "", err
		}
		sb.WriteString(d)
	}
	sb.WriteByte(')')
	return sb.String(), nil
}

// ForMethod renders the parameter descriptor of a reflected method,
// skipping the receiver and, when present, a leading context.Context.
func ForMethod(m reflect.Method, namer Namer) (string, error) {
	skip := 1 // receiver
	if m.Type.NumIn() > skip && isContext(m.Type.In(skip)) {
		skip++
	}
	return ForFunc(m.Type, skip, namer)
}

// isContext reports whether t is context.Context without importing context
// into the descriptor grammar.
func isContext(t reflect.Type) bool {
	return t.Kind() == reflect.Interface && t.PkgPath() == "context" && t.Name() == "Context"
}

// Parse splits a "(...)" descriptor into its type tokens.
func Parse(desc string) ([]string, error) {
	if len(desc) < 2 || desc[0] != '(' || desc[len(desc)-1] != ')' {
		return nil, fault.Protocol("malformed descriptor %q", desc)
	}
	body := desc[1 : len(desc)-1]

	var tokens []string
	for i := 0; i < len(body); {
		start := i
		// Array prefix: any number of '[' before the element type.
		for i < len(body) && body[i] == '[' {
			i++
		}
		if i >= len(body) {
			return nil, fault.Protocol("truncated descriptor %q", desc)
		}
		switch body[i] {
		case 'I', 'J', 'D', 'F', 'B', 'C', 'S', 'Z', 'V':
			i++
		case 'L':
			end := strings.IndexByte(body[i:], ';')
			if end < 0 {
				return nil, fault.Protocol("unterminated object type in descriptor %q", desc)
			}
			i += end + 1
		default:
			return nil, fault.Protocol("invalid type letter %q in descriptor %q", body[i], desc)
		}
		tokens = append(tokens, body[start:i])
	}
	return tokens, nil
}

// Arity returns the number of parameters a descriptor declares.
func Arity(desc string) (int, error) {
	tokens, err := Parse(desc)
	if err != nil {
		return 0, err
	}
	return len(tokens), nil
}
