package shader

import (
	"fmt"
	"reflect"
	"sync"
)

// registry is the implementation of the Registry interface.
type registry struct {
	mu    sync.RWMutex
	opts  []SpecBuilderOption
	specs map[reflect.Type]*InterfaceSpec
}

// Registry caches one InterfaceSpec per host record type. A spec is stored only once its
// derivation has fully succeeded, so a failed registration leaves no trace. It is safe for
// concurrent use.
type Registry interface {
	// Register derives and stores the specs of the given record types. Registration is
	// all-or-nothing: if any type fails to derive, none of the types are stored.
	//
	// Parameters:
	//   - types: the record types to register
	//
	// Returns:
	//   - error: the derivation error of the first failing type
	Register(types ...reflect.Type) error

	// Spec returns the spec of a record's type, deriving and storing it on first use.
	//
	// Parameters:
	//   - value: a record, or a pointer to one
	//
	// Returns:
	//   - *InterfaceSpec: the spec of the record type
	//   - error: the derivation error if the type has no valid spec
	Spec(value any) (*InterfaceSpec, error)

	// Lookup returns the stored spec of a record type without deriving it.
	//
	// Parameters:
	//   - t: the record type
	//
	// Returns:
	//   - *InterfaceSpec: the stored spec
	//   - bool: false if the type is not registered
	Lookup(t reflect.Type) (*InterfaceSpec, bool)

	// Len returns the number of registered specs.
	Len() int
}

var _ Registry = &registry{}

// NewRegistry creates an empty Registry that derives specs with the given options.
//
// Parameters:
//   - opts: options applied to every derivation
//
// Returns:
//   - Registry: the new registry
func NewRegistry(opts ...SpecBuilderOption) Registry {
	return &registry{
		opts:  opts,
		specs: make(map[reflect.Type]*InterfaceSpec),
	}
}

// SpecFor returns the spec of T from r, deriving it on first use.
//
// Parameters:
//   - r: the registry to query
//
// Returns:
//   - *InterfaceSpec: the spec of T
//   - error: the derivation error if T has no valid spec
func SpecFor[T any](r Registry) (*InterfaceSpec, error) {
	var zero T
	return r.Spec(zero)
}

func (r *registry) Register(types ...reflect.Type) error {
	derived := make(map[reflect.Type]*InterfaceSpec, len(types))
	for _, t := range types {
		t = recordType(t)
		if _, ok := r.Lookup(t); ok {
			continue
		}
		spec, err := DeriveSpecOf(t, r.opts...)
		if err != nil {
			return err
		}
		derived[t] = spec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for t, spec := range derived {
		if _, ok := r.specs[t]; !ok {
			r.specs[t] = spec
		}
	}
	return nil
}

func (r *registry) Spec(value any) (*InterfaceSpec, error) {
	t := recordType(reflect.TypeOf(value))
	if t == nil {
		return nil, fmt.Errorf("shader: cannot derive a spec for a nil record")
	}
	if spec, ok := r.Lookup(t); ok {
		return spec, nil
	}

	spec, err := DeriveSpecOf(t, r.opts...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.specs[t]; ok {
		return existing, nil
	}
	r.specs[t] = spec
	return spec, nil
}

func (r *registry) Lookup(t reflect.Type) (*InterfaceSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[recordType(t)]
	return spec, ok
}

func (r *registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}

// recordType strips a pointer from a record type.
func recordType(t reflect.Type) reflect.Type {
	if t != nil && t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}
