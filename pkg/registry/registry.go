// Package registry manages the resources a server exposes: the Go types
// whose exported methods remote peers may invoke by canonical name.
//
// Registration precomputes everything a request needs — the method tables
// keyed by descriptor and by bare name — so that per-request resolution is
// two map reads. Lookups take a stable snapshot: a resource removed while a
// request is in flight completes with the record already chosen.
package registry

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/tcprest/internal/descriptor"
	"github.com/marmos91/tcprest/internal/fault"
	"github.com/marmos91/tcprest/internal/logger"
	"github.com/marmos91/tcprest/internal/mapper"
)

// Resource is one registered target type with its precomputed method
// tables. Immutable after construction; safe for concurrent use.
type Resource struct {
	// Name is the canonical name requests address the resource by.
	Name string

	// Type is the underlying struct type. Per-request instances are fresh
	// zero values of this type.
	Type reflect.Type

	// Singleton, when non-nil, is the shared instance every invocation
	// receives. The user is responsible for its thread safety.
	Singleton any

	// byDescriptor resolves "name(descriptor)" to the unique overload.
	byDescriptor map[string]reflect.Method

	// byName resolves a bare method name to the first declared match, for
	// peers speaking the legacy frame format that carries no descriptor.
	byName map[string]reflect.Method
}

// Instance returns the object a call runs against: the singleton when one
// is registered, otherwise a fresh instance of the resource type.
func (res *Resource) Instance() (any, error) {
	if res.Singleton != nil {
		return res.Singleton, nil
	}
	if res.Type.Kind() != reflect.Struct {
		return nil, fault.Protocol("resource %s is not instantiable", res.Name)
	}
	return reflect.New(res.Type).Interface(), nil
}

// MethodByDescriptor resolves the unique overload for a name+descriptor
// pair.
func (res *Resource) MethodByDescriptor(name, desc string) (reflect.Method, error) {
	m, ok := res.byDescriptor[name+desc]
	if !ok {
		return reflect.Method{}, fault.Protocol("no method %s%s on resource %s", name, desc, res.Name)
	}
	return m, nil
}

// MethodByName resolves a method by bare name, first declared match. Peers
// that cannot express a descriptor get whichever overload sorts first.
func (res *Resource) MethodByName(name string) (reflect.Method, error) {
	m, ok := res.byName[name]
	if !ok {
		return reflect.Method{}, fault.Protocol("no method %s on resource %s", name, res.Name)
	}
	return m, nil
}

// Methods lists the resource's callable methods as "name(descriptor)"
// strings, sorted, for diagnostics.
func (res *Resource) Methods() []string {
	out := make([]string, 0, len(res.byDescriptor))
	for k := range res.byDescriptor {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Registry holds the resources addressable over the wire. Mutations and
// lookups may race; a lookup returns the record published at that instant.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]*Resource

	mappers *mapper.Registry
	strict  bool
}

// New creates an empty resource registry resolving parameter types through
// the given mapper registry. Strict mode rejects registration of resources
// with unsupported parameter or return types; non-strict logs a warning and
// accepts.
func New(mappers *mapper.Registry, strict bool) *Registry {
	return &Registry{
		resources: make(map[string]*Resource),
		mappers:   mappers,
		strict:    strict,
	}
}

// SetStrict toggles strict type checking for subsequent registrations.
func (r *Registry) SetStrict(strict bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strict = strict
}

// Add registers a resource type from a prototype value under its canonical
// name. The prototype itself is discarded; each request gets a fresh
// instance.
func (r *Registry) Add(proto any) error {
	return r.AddNamed(mapper.CanonicalName(reflect.TypeOf(proto)), proto)
}

// AddNamed registers a resource type under an explicit canonical name.
func (r *Registry) AddNamed(name string, proto any) error {
	res, err := r.build(name, proto, nil)
	if err != nil {
		return err
	}
	return r.publish(res)
}

// AddSingleton registers a shared instance under its canonical name.
// Every invocation reaches the same object.
func (r *Registry) AddSingleton(instance any) error {
	return r.AddSingletonNamed(mapper.CanonicalName(reflect.TypeOf(instance)), instance)
}

// AddSingletonNamed registers a shared instance under an explicit name,
// plus any alias names (typically the canonical names of the interfaces the
// instance serves) resolving to the same record.
func (r *Registry) AddSingletonNamed(name string, instance any, aliases ...string) error {
	res, err := r.build(name, instance, instance)
	if err != nil {
		return err
	}
	if err := r.publish(res); err != nil {
		return err
	}
	for _, alias := range aliases {
		aliased := *res
		aliased.Name = alias
		if err := r.publish(&aliased); err != nil {
			return err
		}
	}
	return nil
}

// Remove unregisters the resource registered for the prototype's canonical
// name. Best effort: requests already holding the record complete normally.
func (r *Registry) Remove(proto any) {
	r.RemoveNamed(mapper.CanonicalName(reflect.TypeOf(proto)))
}

// RemoveNamed unregisters a resource by canonical name.
func (r *Registry) RemoveNamed(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.resources, name)
}

// RemoveSingleton unregisters every name currently resolving to the given
// instance, aliases included.
func (r *Registry) RemoveSingleton(instance any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, res := range r.resources {
		if res.Singleton == instance {
			delete(r.resources, name)
		}
	}
}

// Lookup returns the resource registered under name.
func (r *Registry) Lookup(name string) (*Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[name]
	return res, ok
}

// Names returns the registered canonical names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.resources))
	for n := range r.resources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// publish installs a resource record, rejecting duplicate names.
func (r *Registry) publish(res *Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resources[res.Name]; exists {
		return fmt.Errorf("resource %q already registered", res.Name)
	}
	r.resources[res.Name] = res
	return nil
}

// build validates a prototype and precomputes its method tables.
func (r *Registry) build(name string, proto any, singleton any) (*Resource, error) {
	if proto == nil {
		return nil, fmt.Errorf("cannot register nil resource")
	}
	if name == "" {
		return nil, fmt.Errorf("cannot register resource with empty name")
	}

	t := reflect.TypeOf(proto)
	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	// Pointer type carries the full method set.
	full := t
	if t.Kind() != reflect.Pointer {
		full = reflect.PointerTo(base)
	}

	res := &Resource{
		Name:         name,
		Type:         base,
		Singleton:    singleton,
		byDescriptor: make(map[string]reflect.Method, full.NumMethod()),
		byName:       make(map[string]reflect.Method, full.NumMethod()),
	}

	var unsupported []string
	for i := 0; i < full.NumMethod(); i++ {
		m := full.Method(i)
		desc, err := descriptor.ForMethod(m, nil)
		if err != nil {
			unsupported = append(unsupported, fmt.Sprintf("%s.%s", name, m.Name))
			continue
		}
		unsupported = append(unsupported, r.unsupportedTypes(name, m)...)

		// Peers address methods in lower-camel form; Go exports them
		// upper-camel. Key the tables under both spellings.
		for _, n := range wireNames(m.Name) {
			res.byDescriptor[n+desc] = m
			if _, seen := res.byName[n]; !seen {
				res.byName[n] = m
			}
		}
	}

	if len(unsupported) > 0 {
		msg := strings.Join(unsupported, ", ")
		if r.isStrict() {
			return nil, fmt.Errorf("resource %q has unsupported types: %s", name, msg)
		}
		logger.Warn("resource registered with unsupported types",
			logger.Resource(name),
			"types", msg)
	}
	if len(res.byDescriptor) == 0 {
		return nil, fmt.Errorf("resource %q exposes no callable methods", name)
	}
	return res, nil
}

func (r *Registry) isStrict() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strict
}

// unsupportedTypes lists parameter and return types of a method that no
// mapper can carry.
func (r *Registry) unsupportedTypes(resName string, m reflect.Method) []string {
	var out []string
	check := func(t reflect.Type) {
		if !r.supported(t) {
			out = append(out, fmt.Sprintf("%s.%s: %s", resName, m.Name, t))
		}
	}
	for i := 1; i < m.Type.NumIn(); i++ {
		t := m.Type.In(i)
		if i == 1 && isContextType(t) {
			continue
		}
		check(t)
	}
	for i := 0; i < m.Type.NumOut(); i++ {
		t := m.Type.Out(i)
		if t == errType {
			continue
		}
		check(t)
	}
	return out
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// wireNames returns the spellings a Go method is addressable by: the
// exported name and its lower-camel form.
func wireNames(goName string) []string {
	if goName == "" {
		return nil
	}
	lowered := strings.ToLower(goName[:1]) + goName[1:]
	if lowered == goName {
		return []string{goName}
	}
	return []string{goName, lowered}
}

func isContextType(t reflect.Type) bool {
	return t.Kind() == reflect.Interface && t.PkgPath() == "context" && t.Name() == "Context"
}

// supported reports whether a mapper or the auto-serializer can carry t.
func (r *Registry) supported(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	case reflect.Slice, reflect.Array:
		return r.supported(t.Elem())
	case reflect.Pointer:
		return r.supported(t.Elem())
	}
	if r.mappers == nil {
		return false
	}
	if r.mappers.Lookup(mapper.CanonicalName(t)) != nil {
		return true
	}
	return r.mappers.Auto().CanSerialize(t)
}
