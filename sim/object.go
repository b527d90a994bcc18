package sim

// SimObject is a steppable entity with owned state and exposed references.
//
// Step computes the state for tick t+1 from the references as committed at the
// end of tick t and must not update any reference. CommitReferences publishes
// the state computed by Step. Objects that depend on references owned by other
// objects receive them once, before the first step, through
// ResolveExternalReferences; objects without external dependencies accept an
// empty map and return nil.
type SimObject interface {
	Step() error
	CommitReferences()
	ExposedReferences() []NamedReference
	ResolveExternalReferences(refs map[string]*Reference) error
}

// NamedReference pairs a local reference name with the reference itself.
type NamedReference struct {
	Name string
	Ref  *Reference
}

// Prefixed returns refs with every local name prefixed by "<prefix>.". Composite
// objects use it to re-export their children's references.
func Prefixed(prefix string, refs []NamedReference) []NamedReference {
	out := make([]NamedReference, len(refs))
	for i, r := range refs {
		out[i] = NamedReference{Name: prefix + "." + r.Name, Ref: r.Ref}
	}
	return out
}

// Predictor is the narrow contract the engine uses to consume a forecasting
// model. window holds a fixed number of rows, oldest first; each row is
// [timeFraction, input1, ..., inputN] with inputs normalized against their
// reference bounds. Predict returns the output for the next tick.
type Predictor interface {
	Predict(window [][]float64) ([]float64, error)
}

// Model is a loaded predictor together with the window length and input count
// it was trained on. Inputs excludes the time column.
type Model struct {
	ID        string
	Window    int
	Inputs    int
	Predictor Predictor
}

// ModelSource resolves model ids to loaded models.
type ModelSource interface {
	LoadModel(id string) (*Model, error)
}
