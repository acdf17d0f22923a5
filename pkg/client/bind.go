package client

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/marmos91/tcprest/internal/descriptor"
	"github.com/marmos91/tcprest/internal/protocol"
)

// Bind fills a stub struct with remote implementations. target must be a
// pointer to a struct whose exported function-typed fields describe the
// remote methods; each field becomes a call to class/<fieldName> with the
// descriptor derived from the field's declared parameter types.
//
// Field conventions:
//   - the wire method name is the lower-camel field name, overridable with
//     a `tcprest:"name"` tag;
//   - an optional leading context.Context parameter carries the deadline;
//   - an optional trailing error result receives remote exceptions.
//
// Example:
//
//	type Calculator struct {
//	    Add      func(ctx context.Context, a, b int) (int, error)
//	    Divide   func(ctx context.Context, a, b int) (int, error) `tcprest:"div"`
//	}
//	var calc Calculator
//	if err := cli.Bind("Calculator", &calc); err != nil { … }
//	sum, err := calc.Add(ctx, 5, 3)
func (c *Client) Bind(class string, target any) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("bind target must be a pointer to struct, got %T", target)
	}
	elem := v.Elem()
	t := elem.Type()

	bound := 0
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() || field.Type.Kind() != reflect.Func {
			continue
		}
		stub, err := c.makeStub(class, field)
		if err != nil {
			return fmt.Errorf("bind %s.%s: %w", t.Name(), field.Name, err)
		}
		elem.Field(i).Set(stub)
		bound++
	}
	if bound == 0 {
		return fmt.Errorf("bind target %T has no function fields", target)
	}
	return nil
}

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// makeStub builds the remote-calling closure for one stub field.
func (c *Client) makeStub(class string, field reflect.StructField) (reflect.Value, error) {
	fn := field.Type

	hasCtx := fn.NumIn() > 0 && fn.In(0) == ctxType
	skip := 0
	if hasCtx {
		skip = 1
	}

	desc, err := descriptor.ForFunc(fn, skip, nil)
	if err != nil {
		return reflect.Value{}, err
	}

	hasErr := fn.NumOut() > 0 && fn.Out(fn.NumOut()-1) == errType
	returns := protocol.ReturnType(fn)
	if fn.NumOut() > 2 || (fn.NumOut() == 2 && !hasErr) {
		return reflect.Value{}, fmt.Errorf("stub must return at most (value, error)")
	}

	method := field.Tag.Get("tcprest")
	if method == "" {
		method = lowerCamel(field.Name)
	}

	impl := func(in []reflect.Value) []reflect.Value {
		ctx := context.Background()
		if hasCtx {
			ctx = in[0].Interface().(context.Context)
			in = in[1:]
		}
		args := make([]any, len(in))
		for i, v := range in {
			args[i] = v.Interface()
		}

		value, callErr := c.CallWithDescriptor(ctx, class, method, desc, returns, args...)

		out := make([]reflect.Value, 0, fn.NumOut())
		if returns != nil {
			rv := reflect.Zero(returns)
			if callErr == nil && value != nil {
				cv := reflect.ValueOf(value)
				if cv.Type().AssignableTo(returns) {
					rv = cv
				} else if cv.Type().ConvertibleTo(returns) {
					rv = cv.Convert(returns)
				} else {
					callErr = fmt.Errorf("reply type %T is not assignable to %s", value, returns)
				}
			}
			out = append(out, rv)
		}
		if hasErr {
			ev := reflect.New(errType).Elem()
			if callErr != nil {
				ev.Set(reflect.ValueOf(callErr))
			}
			out = append(out, ev)
		} else if callErr != nil {
			panic(callErr)
		}
		return out
	}

	return reflect.MakeFunc(fn, impl), nil
}

func lowerCamel(name string) string {
	if name == "" {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}
