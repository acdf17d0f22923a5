// Package invoker executes a resolved call reflectively and classifies the
// outcome into the fault taxonomy. It holds no state; a single invoker
// serves any number of concurrent requests.
package invoker

import (
	"context"
	"fmt"
	"reflect"

	"github.com/marmos91/tcprest/internal/fault"
	"github.com/marmos91/tcprest/pkg/registry"
)

// Call is one resolved invocation: the target resource record, the method
// chosen by the parser, and the decoded argument vector.
type Call struct {
	Resource *registry.Resource
	Method   reflect.Method
	Args     []any
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Invoke runs the call and returns its result value, nil for void methods.
//
// Outcome classification:
//   - a returned (or panicked) business-marked error keeps its kind;
//   - any other failure from user code is a server fault;
//   - an uninstantiable resource is a protocol fault.
func Invoke(ctx context.Context, call Call) (result any, err error) {
	instance, err := call.Resource.Instance()
	if err != nil {
		return nil, err
	}

	in, err := buildArgs(ctx, call, instance)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			// A panicking error value keeps its classification; anything
			// else becomes a server fault.
			if perr, ok := r.(error); ok {
				err = perr
				return
			}
			err = fault.Wrap(fault.KindServer, nil, "panic in %s.%s: %v",
				call.Resource.Name, call.Method.Name, r)
		}
	}()

	out := call.Method.Func.Call(in)
	return splitResults(out)
}

// buildArgs assembles the reflective input vector: receiver, optional
// context, then the decoded arguments coerced to the declared types.
func buildArgs(ctx context.Context, call Call, instance any) ([]reflect.Value, error) {
	mt := call.Method.Type
	in := make([]reflect.Value, 0, mt.NumIn())

	recv := reflect.ValueOf(instance)
	if !recv.Type().AssignableTo(mt.In(0)) {
		if recv.Kind() == reflect.Pointer && recv.Type().Elem().AssignableTo(mt.In(0)) {
			recv = recv.Elem()
		} else {
			return nil, fault.Protocol("resource %s is not a valid receiver for %s",
				call.Resource.Name, call.Method.Name)
		}
	}
	in = append(in, recv)

	next := 1
	if mt.NumIn() > next && mt.In(next) == contextType {
		in = append(in, reflect.ValueOf(ctx))
		next++
	}

	declared := mt.NumIn() - next
	if declared != len(call.Args) {
		return nil, fault.Protocol("method %s.%s takes %d parameters, got %d",
			call.Resource.Name, call.Method.Name, declared, len(call.Args))
	}

	for i, arg := range call.Args {
		pt := mt.In(next + i)
		v, err := coerce(arg, pt)
		if err != nil {
			return nil, fault.Wrap(fault.KindServer, err, "argument %d of %s.%s",
				i, call.Resource.Name, call.Method.Name)
		}
		in = append(in, v)
	}
	return in, nil
}

// coerce adapts a decoded argument to the declared parameter type.
func coerce(arg any, pt reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(pt), nil
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(pt) {
		return v, nil
	}
	if v.Type().ConvertibleTo(pt) {
		return v.Convert(pt), nil
	}
	if pt.Kind() == reflect.Pointer && v.Type().AssignableTo(pt.Elem()) {
		p := reflect.New(pt.Elem())
		p.Elem().Set(v)
		return p, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", arg, pt)
}

// splitResults separates a method's outputs into (value, error). The last
// output is the error when its type says so; the first remaining output is
// the result.
func splitResults(out []reflect.Value) (any, error) {
	var result any
	for i, v := range out {
		if i == len(out)-1 && v.Type().Implements(errorType) {
			if !v.IsNil() {
				return nil, v.Interface().(error)
			}
			continue
		}
		if result == nil {
			result = v.Interface()
		}
	}
	return result, nil
}
