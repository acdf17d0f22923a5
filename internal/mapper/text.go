package mapper

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/marmos91/tcprest/internal/fault"
)

// convert coerces v into target when a concrete target type is given.
// Pointer targets get a freshly allocated value, so nullable parameters can
// carry non-null wire values.
func convert(v reflect.Value, target reflect.Type) (any, error) {
	if target == nil || target.Kind() == reflect.Interface {
		return v.Interface(), nil
	}
	if target.Kind() == reflect.Pointer {
		inner, err := convert(v, target.Elem())
		if err != nil {
			return nil, err
		}
		p := reflect.New(target.Elem())
		p.Elem().Set(reflect.ValueOf(inner))
		return p.Interface(), nil
	}
	if !v.Type().ConvertibleTo(target) {
		return nil, fault.Protocol("cannot convert %s to %s", v.Type(), target)
	}
	return v.Convert(target).Interface(), nil
}

// intMapper handles all integer widths as decimal text.
type intMapper struct{}

func (intMapper) Encode(v any) (string, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	default:
		return "", fault.Protocol("integer mapper cannot encode %T", v)
	}
}

func (intMapper) Decode(s string, target reflect.Type) (any, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, fault.Protocol("invalid integer %q", s)
	}
	if target == nil {
		return int(n), nil
	}
	return convert(reflect.ValueOf(n), target)
}

// floatMapper handles float32 and float64 as decimal text.
type floatMapper struct{}

func (floatMapper) Encode(v any) (string, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64), nil
	default:
		return "", fault.Protocol("float mapper cannot encode %T", v)
	}
}

func (floatMapper) Decode(s string, target reflect.Type) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, fault.Protocol("invalid float %q", s)
	}
	if target == nil {
		return f, nil
	}
	return convert(reflect.ValueOf(f), target)
}

// boolMapper renders the lowercase literals true and false.
type boolMapper struct{}

func (boolMapper) Encode(v any) (string, error) {
	b, ok := v.(bool)
	if !ok {
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Bool {
			return "", fault.Protocol("boolean mapper cannot encode %T", v)
		}
		b = rv.Bool()
	}
	return strconv.FormatBool(b), nil
}

func (boolMapper) Decode(s string, target reflect.Type) (any, error) {
	switch strings.TrimSpace(s) {
	case "true":
		return convert(reflect.ValueOf(true), target)
	case "false":
		return convert(reflect.ValueOf(false), target)
	default:
		return nil, fault.Protocol("invalid boolean %q", s)
	}
}

// charMapper carries a single rune; the empty string decodes to NUL.
type charMapper struct{}

func (charMapper) Encode(v any) (string, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int32:
		return string(rune(rv.Int())), nil
	case reflect.String:
		return rv.String(), nil
	default:
		return "", fault.Protocol("char mapper cannot encode %T", v)
	}
}

func (charMapper) Decode(s string, target reflect.Type) (any, error) {
	var r rune
	if s != "" {
		runes := []rune(s)
		r = runes[0]
	}
	if target == nil {
		return r, nil
	}
	return convert(reflect.ValueOf(r), target)
}

// stringMapper is the identity conversion.
type stringMapper struct{}

func (stringMapper) Encode(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), nil
	}
	return "", fault.Protocol("string mapper cannot encode %T", v)
}

func (stringMapper) Decode(s string, target reflect.Type) (any, error) {
	return convert(reflect.ValueOf(s), target)
}

// nullMapper carries the legacy null sentinel.
type nullMapper struct{}

func (nullMapper) Encode(any) (string, error) {
	return NullMarkerV1, nil
}

func (nullMapper) Decode(s string, _ reflect.Type) (any, error) {
	if s != NullMarkerV1 && s != "" {
		return nil, fault.Protocol("null mapper cannot decode %q", s)
	}
	return nil, nil
}

// ExceptionMapper renders errors as "TypeName: message". Decoding yields a
// remote surrogate carrying the original type name, since the concrete
// error type generally does not exist on the receiving side.
type ExceptionMapper struct{}

// TypeNameOf derives the wire-visible type name of an error: the declared
// business type when present, otherwise the Go type's simple name.
func TypeNameOf(err error) string {
	var biz *fault.Business
	if errors.As(err, &biz) && biz.Type != "" {
		return biz.Type
	}
	var remote *fault.Remote
	if errors.As(err, &remote) && remote.RemoteType != "" {
		return remote.RemoteType
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return "Exception"
}

// messageOf extracts the bare message of an error: the declared message for
// business and remote errors, whose Error() string already carries the type
// name, the full text otherwise.
func messageOf(err error) string {
	var biz *fault.Business
	if errors.As(err, &biz) {
		return biz.Message
	}
	var remote *fault.Remote
	if errors.As(err, &remote) {
		return remote.Message
	}
	return err.Error()
}

func (ExceptionMapper) Encode(v any) (string, error) {
	err, ok := v.(error)
	if !ok {
		return "", fault.Protocol("exception mapper cannot encode %T", v)
	}
	return TypeNameOf(err) + ": " + fault.Sanitize(messageOf(err)), nil
}

func (ExceptionMapper) Decode(s string, _ reflect.Type) (any, error) {
	typeName, msg, found := strings.Cut(s, ":")
	if !found {
		typeName, msg = "Exception", s
	}
	return &fault.Remote{
		Kind:       fault.KindServer,
		RemoteType: strings.TrimSpace(typeName),
		Message:    strings.TrimSpace(msg),
	}, nil
}
