// sim/simulator.go
package sim

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// RefInfo is the metadata the capability manifest advertises for one reference.
type RefInfo struct {
	ReadOnly bool    `json:"read_only" yaml:"read_only"`
	Min      float64 `json:"min" yaml:"min"`
	Max      float64 `json:"max" yaml:"max"`
}

// API is the capability manifest: object name → local reference name → metadata.
type API map[string]map[string]RefInfo

// Clone returns a deep copy, so the manifest can be handed across the server
// boundary without sharing maps.
func (a API) Clone() API {
	out := make(API, len(a))
	for obj, refs := range a {
		inner := make(map[string]RefInfo, len(refs))
		for name, info := range refs {
			inner[name] = info
		}
		out[obj] = inner
	}
	return out
}

// registeredObject keeps an object with the local names it exposed, for the manifest.
type registeredObject struct {
	name   string
	object SimObject
	refs   []NamedReference
}

// Simulator owns the object registry and the flat dotted reference namespace,
// and drives the two-phase step.
//
// Thread-safety: NOT thread-safe. A Simulator is owned by a single goroutine;
// sim/server confines it to the server's worker.
type Simulator struct {
	objects    []registeredObject
	names      map[string]bool
	references map[string]*Reference
	tick       int64
	started    bool
	api        API
}

// NewSimulator creates an empty Simulator with its construction window open.
func NewSimulator() *Simulator {
	return &Simulator{
		names:      make(map[string]bool),
		references: make(map[string]*Reference),
	}
}

// AddObject registers obj under name and its exposed references under "name.".
// It fails once stepping has started, on a reused object name, and on a dotted
// reference name collision; a failed call registers nothing.
func (sim *Simulator) AddObject(name string, obj SimObject) error {
	if sim.started {
		return fmt.Errorf("adding %q: %w", name, ErrSteppingStarted)
	}
	if sim.names[name] {
		return fmt.Errorf("adding %q: %w", name, ErrDuplicateObject)
	}
	refs := obj.ExposedReferences()
	staged := make(map[string]*Reference, len(refs))
	for _, r := range refs {
		full := name + "." + r.Name
		if _, ok := sim.references[full]; ok {
			return fmt.Errorf("adding %q: %w: %s", name, ErrDuplicateReference, full)
		}
		if _, ok := staged[full]; ok {
			return fmt.Errorf("adding %q: %w: %s", name, ErrDuplicateReference, full)
		}
		staged[full] = r.Ref
	}
	for full, ref := range staged {
		sim.references[full] = ref
		logrus.Debugf("registered reference %s", full)
	}
	sim.names[name] = true
	sim.objects = append(sim.objects, registeredObject{name: name, object: obj, refs: refs})
	return nil
}

// Step advances the simulation by one tick.
//
// Phase 1 calls Step on every object in registration order; phase 2 calls
// CommitReferences on every object in registration order. A failing object
// keeps its previous state; its error is reported and the remaining objects
// still step and commit.
func (sim *Simulator) Step() error {
	if !sim.started {
		sim.started = true
		sim.api = sim.buildAPI()
	}

	var errs []error
	for _, o := range sim.objects {
		if err := o.object.Step(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.name, err))
		}
	}
	for _, o := range sim.objects {
		o.object.CommitReferences()
	}
	sim.tick++
	logrus.Debugf("[tick %07d] Stepped %d objects", sim.tick, len(sim.objects))
	if len(errs) > 0 {
		logrus.Warnf("[tick %07d] %d object(s) failed to step", sim.tick, len(errs))
	}
	return errors.Join(errs...)
}

// Run steps the simulation n times and returns the joined step errors.
func (sim *Simulator) Run(n int) error {
	var errs []error
	for i := 0; i < n; i++ {
		if err := sim.Step(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tick returns the number of completed steps.
func (sim *Simulator) Tick() int64 { return sim.tick }

// Started reports whether the construction window has closed.
func (sim *Simulator) Started() bool { return sim.started }

// Lookup returns the reference registered under a dotted name.
func (sim *Simulator) Lookup(name string) (*Reference, bool) {
	ref, ok := sim.references[name]
	return ref, ok
}

// ReferenceNames returns every dotted reference name, sorted.
func (sim *Simulator) ReferenceNames() []string {
	names := make([]string, 0, len(sim.references))
	for name := range sim.references {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ObjectNames returns object names in registration order.
func (sim *Simulator) ObjectNames() []string {
	names := make([]string, len(sim.objects))
	for i, o := range sim.objects {
		names[i] = o.name
	}
	return names
}

// GetReferenceValue returns the value of a dotted reference.
func (sim *Simulator) GetReferenceValue(name string) (float64, error) {
	ref, ok := sim.references[name]
	if !ok {
		return 0, &InvalidReferenceError{Names: []string{name}}
	}
	return ref.Get(), nil
}

// SetReferenceValue writes a dotted reference through the caller-facing mutator.
func (sim *Simulator) SetReferenceValue(name string, v float64) error {
	ref, ok := sim.references[name]
	if !ok {
		return &InvalidReferenceError{Names: []string{name}}
	}
	if err := ref.Set(v); err != nil {
		return &ReadOnlyViolationError{Name: name}
	}
	return nil
}

// GetReferences returns the values of every name. If any name is unknown, the
// returned error lists all unknown names in request order and no values are
// returned.
func (sim *Simulator) GetReferences(names []string) (map[string]float64, error) {
	values := make(map[string]float64, len(names))
	var missing []string
	for _, name := range names {
		ref, ok := sim.references[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		values[name] = ref.Get()
	}
	if len(missing) > 0 {
		return nil, &InvalidReferenceError{Names: missing}
	}
	return values, nil
}

// SetReferences attempts every assignment in name order and reports all
// failures at once. Assignments that succeed are kept even when others fail.
func (sim *Simulator) SetReferences(mapping map[string]float64) error {
	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)

	var failures []SetFailure
	for _, name := range names {
		if err := sim.SetReferenceValue(name, mapping[name]); err != nil {
			failures = append(failures, SetFailure{Name: name, Reason: KindOf(err)})
		}
	}
	if len(failures) > 0 {
		return &MultiSetFailureError{Failures: failures}
	}
	return nil
}

// GetAPI returns the capability manifest. Once stepping has started the
// registry is frozen and the manifest is computed only once; every call returns
// a fresh copy.
func (sim *Simulator) GetAPI() API {
	if sim.api != nil {
		return sim.api.Clone()
	}
	return sim.buildAPI()
}

func (sim *Simulator) buildAPI() API {
	api := make(API, len(sim.objects))
	for _, o := range sim.objects {
		refs := make(map[string]RefInfo, len(o.refs))
		for _, r := range o.refs {
			refs[r.Name] = RefInfo{ReadOnly: r.Ref.ReadOnly(), Min: r.Ref.Min(), Max: r.Ref.Max()}
		}
		api[o.name] = refs
	}
	return api
}
