// Package defn holds declarative, content-addressable simulation definitions
// and the two-pass protocol that turns them into a live sim.Simulator.
//
// A SimulationDefn is an ordered list of named ObjectDefns. Building it runs a
// create pass (every ObjectDefn constructs its object, which is registered with
// the simulator) followed by a resolve pass (every object is handed the
// references its RefMap names). Because every object's own references are
// registered before any wiring happens, forward references and reference
// cycles between objects resolve regardless of declaration order.
package defn

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/plant-twin/twinsim/sim"
)

var (
	// ErrInvalidObjectName is returned for empty object names and names
	// containing a dot or whitespace.
	ErrInvalidObjectName = errors.New("invalid object name")

	// ErrUnknownKind is returned when a document names an unregistered kind.
	ErrUnknownKind = errors.New("unknown object kind")
)

// ExternalReference declares a reference an object kind needs from elsewhere
// in the graph.
type ExternalReference struct {
	Name        string
	Description string
	Required    bool
}

// Env is what an ObjectDefn gets to construct its object.
type Env struct {
	Name   string
	Models sim.ModelSource
	RNG    *rand.Rand
}

// ObjectDefn describes how to construct one simulation object.
type ObjectDefn interface {
	// Kind is the registry name of the object variant.
	Kind() string
	// Params is the variant-specific construction parameter tree. It must not
	// use the keys "kind" or "refs".
	Params() Params
	// RefMap maps each external reference name to a dotted reference name.
	RefMap() map[string]string
	// ExternalReferences lists the external references the kind understands.
	ExternalReferences() []ExternalReference
	// CreateSimObject builds the object without any external reference.
	CreateSimObject(env Env) (sim.SimObject, error)
}

// Resolver looks up dotted reference names. *sim.Simulator implements it.
type Resolver interface {
	Lookup(name string) (*sim.Reference, bool)
}

// RefBinding stores a validated RefMap. ObjectDefn implementations embed it.
type RefBinding struct {
	refs map[string]string
}

// NewRefBinding validates refMap against the declared external references:
// every required external must be mapped and every mapped name declared.
func NewRefBinding(kind string, refMap map[string]string, externals []ExternalReference) (RefBinding, error) {
	if err := CheckRefMap(kind, refMap, externals); err != nil {
		return RefBinding{}, err
	}
	refs := make(map[string]string, len(refMap))
	for k, v := range refMap {
		refs[k] = v
	}
	return RefBinding{refs: refs}, nil
}

// RefMap returns a copy of the bound reference map.
func (b RefBinding) RefMap() map[string]string {
	out := make(map[string]string, len(b.refs))
	for k, v := range b.refs {
		out[k] = v
	}
	return out
}

// CheckRefMap reports the first missing required external (in declaration
// order) or the first undeclared mapped name (in name order).
func CheckRefMap(kind string, refMap map[string]string, externals []ExternalReference) error {
	declared := make(map[string]bool, len(externals))
	for _, ext := range externals {
		declared[ext.Name] = true
		if _, ok := refMap[ext.Name]; ext.Required && !ok {
			return fmt.Errorf("%s: %w: %q (%s)", kind, sim.ErrMissingExternalReference, ext.Name, ext.Description)
		}
	}
	names := make([]string, 0, len(refMap))
	for name := range refMap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !declared[name] {
			return fmt.Errorf("%s: %w: %q", kind, sim.ErrUnknownExternalReference, name)
		}
	}
	return nil
}

// ResolveExternalReferences looks up every RefMap target of d in refs and
// hands the resolved references to obj. A target that does not exist fails
// with sim.ErrUnresolvedReference.
func ResolveExternalReferences(d ObjectDefn, obj sim.SimObject, refs Resolver) error {
	refMap := d.RefMap()
	externals := make([]string, 0, len(refMap))
	for ext := range refMap {
		externals = append(externals, ext)
	}
	sort.Strings(externals)

	resolved := make(map[string]*sim.Reference, len(refMap))
	for _, ext := range externals {
		target := refMap[ext]
		ref, ok := refs.Lookup(target)
		if !ok {
			return fmt.Errorf("%w: %q (external %q)", sim.ErrUnresolvedReference, target, ext)
		}
		resolved[ext] = ref
	}
	return obj.ResolveExternalReferences(resolved)
}

// NamedObject is one entry of a SimulationDefn.
type NamedObject struct {
	Name string
	Defn ObjectDefn
}

// SimulationDefn is an immutable, ordered description of an object graph.
type SimulationDefn struct {
	objects []NamedObject
	export  Params
	id      string
}

// Resources are shared by every object built from a definition.
type Resources struct {
	Models sim.ModelSource
	Seed   int64
}

// New validates the objects and computes the definition identifier.
func New(objects ...NamedObject) (*SimulationDefn, error) {
	seen := make(map[string]bool, len(objects))
	exported := make(map[string]any, len(objects))
	for _, o := range objects {
		if err := validateObjectName(o.Name); err != nil {
			return nil, err
		}
		if seen[o.Name] {
			return nil, fmt.Errorf("%w: %q", sim.ErrDuplicateObject, o.Name)
		}
		seen[o.Name] = true
		if o.Defn == nil {
			return nil, fmt.Errorf("object %q: nil definition", o.Name)
		}
		if err := CheckRefMap(o.Defn.Kind(), o.Defn.RefMap(), o.Defn.ExternalReferences()); err != nil {
			return nil, fmt.Errorf("object %q: %w", o.Name, err)
		}
		p, err := ExportObject(o.Defn)
		if err != nil {
			return nil, fmt.Errorf("object %q: %w", o.Name, err)
		}
		exported[o.Name] = p
	}
	export := Params{
		exportClassKey: "Simulation",
		"objects":      exported,
	}
	return &SimulationDefn{
		objects: append([]NamedObject(nil), objects...),
		export:  export,
		id:      Identifier(export),
	}, nil
}

func validateObjectName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidObjectName)
	}
	for _, c := range name {
		if c == '.' || c == ' ' || c == '\t' || c == '\n' {
			return fmt.Errorf("%w: %q", ErrInvalidObjectName, name)
		}
	}
	return nil
}

// Objects returns the named object definitions in declaration order.
func (d *SimulationDefn) Objects() []NamedObject {
	return append([]NamedObject(nil), d.objects...)
}

// ID returns the deterministic identifier of the definition.
func (d *SimulationDefn) ID() string { return d.id }

// Export returns the exported parameter tree the identifier is computed from.
func (d *SimulationDefn) Export() Params { return d.export.clone() }

// CreateSimulation builds a Simulator: create pass, then resolve pass.
func (d *SimulationDefn) CreateSimulation(res Resources) (*sim.Simulator, error) {
	s := sim.NewSimulator()
	noise := sim.NewNoiseSource(res.Seed)

	created := make([]sim.SimObject, len(d.objects))
	for i, o := range d.objects {
		obj, err := o.Defn.CreateSimObject(Env{
			Name:   o.Name,
			Models: res.Models,
			RNG:    noise.ForObject(o.Name),
		})
		if err != nil {
			return nil, fmt.Errorf("creating %q (%s): %w", o.Name, o.Defn.Kind(), err)
		}
		if err := s.AddObject(o.Name, obj); err != nil {
			return nil, err
		}
		created[i] = obj
	}

	for i, o := range d.objects {
		if err := ResolveExternalReferences(o.Defn, created[i], s); err != nil {
			return nil, fmt.Errorf("wiring %q: %w", o.Name, err)
		}
	}
	logrus.Infof("built simulation %s: %d objects, %d references", d.id, len(d.objects), len(s.ReferenceNames()))
	return s, nil
}
