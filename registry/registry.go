// Package registry implements the Parameter Registry (spec §4.1): a
// typed, atomic, process-wide configuration store. It is adapted from
// the teacher's atomic-snapshot-pointer publication pattern seen in
// services/blockassembly/subtreeprocessor's LockFreeQueue (an
// atomic.Pointer swapped wholesale rather than mutated in place), applied
// here to configuration instead of a queue: readers take a lock-free
// snapshot pointer (spec §5), writers serialize through a mutex and
// publish a new immutable snapshot atomically so no reader ever observes
// a half-applied multi-key change.
package registry

import (
	"strconv"
	"sync"

	"go.uber.org/atomic"

	"github.com/coreledger/hybridcore/errors"
	"github.com/coreledger/hybridcore/eventbus"
)

// Kind is the schema type a parameter is validated against.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
)

// Bounds restricts numeric parameters; zero value (Min == Max == 0) means
// unbounded.
type Bounds struct {
	Min float64
	Max float64
}

func (b Bounds) unbounded() bool { return b.Min == 0 && b.Max == 0 }

// Schema is installed once per parameter name via RegisterSchema.
type Schema struct {
	Name    string
	Kind    Kind
	Bounds  Bounds
	Default string
}

// snapshot is the immutable value set published atomically to readers.
type snapshot struct {
	values map[string]string
}

// Registry is the Parameter Registry. The governance engine is the sole
// runtime mutator (spec §4.1); initialization populates defaults via
// RegisterSchema.
type Registry struct {
	mu        sync.Mutex // serializes writers only; readers never take it
	schemas   map[string]Schema
	current   atomic.Pointer[snapshot]
	bus       *eventbus.Bus
}

// New creates an empty registry. bus may be nil if event publication is
// not needed (e.g. in isolated unit tests).
func New(bus *eventbus.Bus) *Registry {
	r := &Registry{
		schemas: make(map[string]Schema),
		bus:     bus,
	}
	r.current.Store(&snapshot{values: make(map[string]string)})
	return r
}

// RegisterSchema installs a validator for name. Fails with DUPLICATE if
// name is already registered.
func (r *Registry) RegisterSchema(s Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[s.Name]; exists {
		return errors.NewDuplicateError("parameter %q already has a registered schema", s.Name)
	}

	if err := validateKindValue(s.Kind, s.Bounds, s.Default); err != nil {
		return err
	}

	r.schemas[s.Name] = s

	old := r.current.Load()
	next := cloneSnapshot(old)
	next.values[s.Name] = s.Default
	r.current.Store(next)

	return nil
}

// Get returns the current value of name. Readers never block: this is a
// single atomic pointer load (spec §5).
func (r *Registry) Get(name string) (string, error) {
	snap := r.current.Load()
	v, ok := snap.values[name]
	if !ok {
		return "", errors.NewUnknownParameterError("unknown parameter %q", name)
	}
	return v, nil
}

// GetInt and GetFloat are typed convenience readers built on Get.
func (r *Registry) GetInt(name string) (int64, error) {
	v, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (r *Registry) GetFloat(name string) (float64, error) {
	v, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(v, 64)
}

// Set validates value against name's schema and publishes a new snapshot
// containing the change. Fails with UNKNOWN_PARAMETER, INVALID_PARAMETER_VALUE,
// or OUT_OF_BOUNDS.
func (r *Registry) Set(name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	schema, ok := r.schemas[name]
	if !ok {
		return errors.NewUnknownParameterError("unknown parameter %q", name)
	}

	if err := validateKindValue(schema.Kind, schema.Bounds, value); err != nil {
		return err
	}

	old := r.current.Load()
	next := cloneSnapshot(old)
	next.values[name] = value
	r.current.Store(next)

	if r.bus != nil {
		r.bus.Info("registry", "PARAMETER_SET", map[string]interface{}{
			"name":  name,
			"value": value,
		})
	}

	return nil
}

// SetMany applies several changes as a single atomic snapshot swap, so
// block validation concurrent with a governance execution never observes
// a partially-applied multi-key change (spec §5). All-or-nothing: the
// first validation failure aborts the whole batch with no mutation.
func (r *Registry) SetMany(changes map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, value := range changes {
		schema, ok := r.schemas[name]
		if !ok {
			return errors.NewUnknownParameterError("unknown parameter %q", name)
		}
		if err := validateKindValue(schema.Kind, schema.Bounds, value); err != nil {
			return err
		}
	}

	old := r.current.Load()
	next := cloneSnapshot(old)
	for name, value := range changes {
		next.values[name] = value
	}
	r.current.Store(next)

	if r.bus != nil {
		r.bus.Info("registry", "PARAMETERS_SET_BATCH", map[string]interface{}{
			"count": len(changes),
		})
	}

	return nil
}

func cloneSnapshot(s *snapshot) *snapshot {
	next := &snapshot{values: make(map[string]string, len(s.values))}
	for k, v := range s.values {
		next.values[k] = v
	}
	return next
}

func validateKindValue(kind Kind, bounds Bounds, value string) error {
	switch kind {
	case KindString:
		return nil
	case KindBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return errors.NewInvalidParameterValueError("value %q is not a valid bool", value)
		}
		return nil
	case KindInt:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return errors.NewInvalidParameterValueError("value %q is not a valid int", value)
		}
		if !bounds.unbounded() && (float64(n) < bounds.Min || float64(n) > bounds.Max) {
			return errors.NewOutOfBoundsError("value %d out of bounds [%v, %v]", n, bounds.Min, bounds.Max)
		}
		return nil
	case KindFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return errors.NewInvalidParameterValueError("value %q is not a valid float", value)
		}
		if !bounds.unbounded() && (f < bounds.Min || f > bounds.Max) {
			return errors.NewOutOfBoundsError("value %v out of bounds [%v, %v]", f, bounds.Min, bounds.Max)
		}
		return nil
	default:
		return errors.NewInvalidParameterValueError("unknown schema kind")
	}
}
