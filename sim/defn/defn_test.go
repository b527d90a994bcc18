package defn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plant-twin/twinsim/sim"
)

// cell is a SimObject owning one writable "Value" and optionally reading an
// external "src" into it each tick.
type cell struct {
	value *sim.Reference
	src   *sim.Reference
	next  float64
}

func (c *cell) Step() error {
	if c.src != nil {
		c.next = c.src.Get()
	} else {
		c.next = c.value.Get()
	}
	return nil
}

func (c *cell) CommitReferences() { c.value.Update(c.next) }

func (c *cell) ExposedReferences() []sim.NamedReference {
	return []sim.NamedReference{{Name: "Value", Ref: c.value}}
}

func (c *cell) ResolveExternalReferences(refs map[string]*sim.Reference) error {
	c.src = refs["src"]
	return nil
}

var cellExternals = []ExternalReference{{Name: "src", Description: "value to copy"}}

// cellDefn builds a cell with an arbitrary params tree.
type cellDefn struct {
	RefBinding
	params  Params
	created *int
}

func newCellDefn(t *testing.T, params Params, refs map[string]string) *cellDefn {
	t.Helper()
	b, err := NewRefBinding("cell", refs, cellExternals)
	require.NoError(t, err)
	return &cellDefn{RefBinding: b, params: params}
}

func (d *cellDefn) Kind() string { return "cell" }

func (d *cellDefn) Params() Params { return d.params }

func (d *cellDefn) ExternalReferences() []ExternalReference { return cellExternals }

func (d *cellDefn) CreateSimObject(env Env) (sim.SimObject, error) {
	if d.created != nil {
		*d.created++
	}
	start, _ := d.params["start"].(float64)
	return &cell{value: sim.NewWritableReference(start, 0, 100)}, nil
}

func TestIdentifier_PermutedMapsHashEqual(t *testing.T) {
	// GIVEN two definitions whose parameter maps hold equal entries built in different orders
	a := Params{}
	a["a"] = 1
	a["b"] = 2
	b := Params{}
	b["b"] = 2
	b["a"] = 1

	d1, err := New(NamedObject{Name: "X", Defn: newCellDefn(t, a, nil)})
	require.NoError(t, err)
	d2, err := New(NamedObject{Name: "X", Defn: newCellDefn(t, b, nil)})
	require.NoError(t, err)

	// THEN the identifiers are equal
	assert.Equal(t, d1.ID(), d2.ID())
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{8}$`, d1.ID())
}

func TestIdentifier_LeafChangeChangesID(t *testing.T) {
	base := Params{"a": 1, "b": map[string]any{"c": []any{1, 2, 3}}}
	changed := Params{"a": 1, "b": map[string]any{"c": []any{1, 2, 4}}}
	reordered := Params{"a": 1, "b": map[string]any{"c": []any{3, 2, 1}}}

	assert.NotEqual(t, Identifier(base), Identifier(changed))
	assert.NotEqual(t, Identifier(base), Identifier(reordered), "sequences are order-sensitive")
}

func TestIdentifier_NumbersCanonicalized(t *testing.T) {
	assert.Equal(t, Identifier(Params{"n": 8}), Identifier(Params{"n": 8.0}))
	assert.Equal(t, Identifier(Params{"n": int64(8)}), Identifier(Params{"n": float32(8)}))
	assert.NotEqual(t, Identifier(Params{"n": 8}), Identifier(Params{"n": "8"}))
	assert.NotEqual(t, Identifier(Params{"n": true}), Identifier(Params{"n": 1}))
}

func TestIdentifier_StringBoundariesMatter(t *testing.T) {
	assert.NotEqual(t,
		Identifier(Params{"l": []any{"ab", "c"}}),
		Identifier(Params{"l": []any{"a", "bc"}}))
}

func TestIdentifier_RefMapOrderIrrelevant(t *testing.T) {
	refs1 := map[string]string{}
	refs1["src"] = "A.Value"
	d1, err := New(
		NamedObject{Name: "A", Defn: newCellDefn(t, Params{}, nil)},
		NamedObject{Name: "B", Defn: newCellDefn(t, Params{}, refs1)},
	)
	require.NoError(t, err)
	d2, err := New(
		NamedObject{Name: "A", Defn: newCellDefn(t, Params{}, nil)},
		NamedObject{Name: "B", Defn: newCellDefn(t, Params{}, map[string]string{"src": "A.Value"})},
	)
	require.NoError(t, err)
	d3, err := New(
		NamedObject{Name: "A", Defn: newCellDefn(t, Params{}, nil)},
		NamedObject{Name: "B", Defn: newCellDefn(t, Params{}, map[string]string{"src": "A.Other"})},
	)
	require.NoError(t, err)

	assert.Equal(t, d1.ID(), d2.ID())
	assert.NotEqual(t, d1.ID(), d3.ID())
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		objects []NamedObject
		wantErr error
	}{
		{"empty name", []NamedObject{{Name: "", Defn: newCellDefn(t, Params{}, nil)}}, ErrInvalidObjectName},
		{"dotted name", []NamedObject{{Name: "A.B", Defn: newCellDefn(t, Params{}, nil)}}, ErrInvalidObjectName},
		{"duplicate", []NamedObject{
			{Name: "A", Defn: newCellDefn(t, Params{}, nil)},
			{Name: "A", Defn: newCellDefn(t, Params{}, nil)},
		}, sim.ErrDuplicateObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.objects...)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNew_ReservedParamKeyRejected(t *testing.T) {
	_, err := New(NamedObject{Name: "A", Defn: newCellDefn(t, Params{"kind": "x"}, nil)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestCheckRefMap(t *testing.T) {
	externals := []ExternalReference{
		{Name: "in", Description: "input", Required: true},
		{Name: "aux", Description: "optional input"},
	}

	assert.NoError(t, CheckRefMap("k", map[string]string{"in": "A.X"}, externals))
	assert.NoError(t, CheckRefMap("k", map[string]string{"in": "A.X", "aux": "B.Y"}, externals))
	assert.ErrorIs(t, CheckRefMap("k", map[string]string{"aux": "B.Y"}, externals), sim.ErrMissingExternalReference)
	assert.ErrorIs(t, CheckRefMap("k", map[string]string{"in": "A.X", "bogus": "B.Y"}, externals), sim.ErrUnknownExternalReference)
}

func TestCreateSimulation_CreatePassCompletesBeforeResolve(t *testing.T) {
	// GIVEN B copies A, declared before A
	created := 0
	b := newCellDefn(t, Params{}, map[string]string{"src": "A.Value"})
	b.created = &created
	a := newCellDefn(t, Params{"start": 7.0}, nil)
	a.created = &created
	d, err := New(NamedObject{Name: "B", Defn: b}, NamedObject{Name: "A", Defn: a})
	require.NoError(t, err)

	// WHEN the simulation is built and stepped once
	s, err := d.CreateSimulation(Resources{})
	require.NoError(t, err)
	require.NoError(t, s.Step())

	// THEN both objects were created and B sees A's committed value
	assert.Equal(t, 2, created)
	v, err := s.GetReferenceValue("B.Value")
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)
}

func TestCreateSimulation_CycleResolves(t *testing.T) {
	a := newCellDefn(t, Params{"start": 1.0}, map[string]string{"src": "B.Value"})
	b := newCellDefn(t, Params{"start": 2.0}, map[string]string{"src": "A.Value"})
	d, err := New(NamedObject{Name: "A", Defn: a}, NamedObject{Name: "B", Defn: b})
	require.NoError(t, err)

	s, err := d.CreateSimulation(Resources{})
	require.NoError(t, err)
	require.NoError(t, s.Step())

	got, err := s.GetReferences([]string{"A.Value", "B.Value"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"A.Value": 2, "B.Value": 1}, got, "each side sees the other's previous tick")
}

func TestCreateSimulation_UnresolvedTargetFailsAfterCreatePass(t *testing.T) {
	created := 0
	b := newCellDefn(t, Params{}, map[string]string{"src": "Nowhere.Value"})
	b.created = &created
	d, err := New(NamedObject{Name: "B", Defn: b})
	require.NoError(t, err, "a nonexistent target is not detected at definition time")

	_, err = d.CreateSimulation(Resources{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, sim.ErrUnresolvedReference))
	assert.Equal(t, 1, created, "the create pass ran to completion")
}

func TestExport_IsACopy(t *testing.T) {
	d, err := New(NamedObject{Name: "A", Defn: newCellDefn(t, Params{"x": 1}, nil)})
	require.NoError(t, err)

	e := d.Export()
	e["objects"].(map[string]any)["A"].(map[string]any)["x"] = 2

	assert.Equal(t, Identifier(d.Export()), d.ID())
}

func TestDecodeParams_RejectsUnknownKeys(t *testing.T) {
	var out struct {
		Rate float64 `yaml:"rate"`
	}
	require.NoError(t, DecodeParams(map[string]any{"rate": 3}, &out))
	assert.Equal(t, 3.0, out.Rate)

	assert.Error(t, DecodeParams(map[string]any{"rat": 3}, &out))
	assert.NoError(t, DecodeParams(map[string]any{}, &out))
}
