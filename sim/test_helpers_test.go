package sim

import "errors"

// counter increments its own "Count" reference by one every tick.
type counter struct {
	next  float64
	count *Reference
}

func newCounter(start float64) *counter {
	return &counter{next: start, count: NewReference(start, 0, 1000)}
}

func (c *counter) Step() error {
	c.next = c.count.Get() + 1
	return nil
}

func (c *counter) CommitReferences() { c.count.Update(c.next) }

func (c *counter) ExposedReferences() []NamedReference {
	return []NamedReference{{Name: "Count", Ref: c.count}}
}

func (c *counter) ResolveExternalReferences(map[string]*Reference) error { return nil }

// follower copies the value of an external "src" reference into "Seen".
type follower struct {
	src  *Reference
	next float64
	seen *Reference
}

func newFollower() *follower {
	return &follower{seen: NewReference(0, 0, 1000)}
}

func (f *follower) Step() error {
	if f.src == nil {
		return ErrNotWired
	}
	f.next = f.src.Get()
	return nil
}

func (f *follower) CommitReferences() { f.seen.Update(f.next) }

func (f *follower) ExposedReferences() []NamedReference {
	return []NamedReference{{Name: "Seen", Ref: f.seen}}
}

func (f *follower) ResolveExternalReferences(refs map[string]*Reference) error {
	src, ok := refs["src"]
	if !ok {
		return errors.New("missing src")
	}
	f.src = src
	return nil
}

// panel exposes a writable setpoint and a read-only status.
type panel struct {
	setpoint *Reference
	status   *Reference
}

func newPanel() *panel {
	return &panel{
		setpoint: NewWritableReference(0, 0, 10),
		status:   NewReference(0, 0, 1),
	}
}

func (p *panel) Step() error {
	return nil
}

func (p *panel) CommitReferences() {}

func (p *panel) ExposedReferences() []NamedReference {
	return []NamedReference{
		{Name: "Setpoint", Ref: p.setpoint},
		{Name: "Status", Ref: p.status},
	}
}

func (p *panel) ResolveExternalReferences(map[string]*Reference) error {
	return nil
}

// failing always fails to step.
type failing struct{ committed int }

func (f *failing) Step() error {
	return errors.New("boom")
}

func (f *failing) CommitReferences() {
	f.committed++
}

func (f *failing) ExposedReferences() []NamedReference {
	return nil
}

func (f *failing) ResolveExternalReferences(map[string]*Reference) error {
	return nil
}
