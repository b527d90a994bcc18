package server

import (
	"context"
	"errors"

	"github.com/plant-twin/twinsim/sim"
)

// Op names a request operation on the wire.
type Op string

const (
	OpGetAPI   Op = "GET_API"
	OpGet      Op = "GET"
	OpSet      Op = "SET"
	OpMultiGet Op = "MULTIGET"
	OpMultiSet Op = "MULTISET"
	OpStop     Op = "STOP"
)

// validOps maps the operations callers may submit. STOP is issued through
// Server.Stop only.
var validOps = map[Op]bool{
	OpGetAPI:   true,
	OpGet:      true,
	OpSet:      true,
	OpMultiGet: true,
	OpMultiSet: true,
}

// IsValidOp returns true if op can be passed to Submit.
func IsValidOp(op string) bool { return validOps[Op(op)] }

var (
	// ErrInvalidRequest is returned by Submit for unknown operations and for STOP.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotStarted is returned by Submit before Start has completed.
	ErrNotStarted = errors.New("server not started")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("server already started")
)

// Request is one tagged operation. ID is assigned by Submit; callers leave it
// zero. Only the fields the operation uses are read.
type Request struct {
	ID      uint64
	Op      Op
	Name    string
	Names   []string
	Value   float64
	Mapping map[string]float64
}

// clone copies the slice and map payloads so nothing the caller holds is shared
// with the worker.
func (r Request) clone() Request {
	if r.Names != nil {
		r.Names = append([]string(nil), r.Names...)
	}
	if r.Mapping != nil {
		m := make(map[string]float64, len(r.Mapping))
		for k, v := range r.Mapping {
			m[k] = v
		}
		r.Mapping = m
	}
	return r
}

// Response answers the request with the same ID. Err is nil on success; the
// result fields populated depend on the operation.
type Response struct {
	ID     uint64
	Value  float64
	Values map[string]float64
	API    sim.API
	Err    error
}

// Kind returns the error tag of the response, empty on success.
func (r Response) Kind() sim.ErrorKind { return sim.KindOf(r.Err) }

// Call is the future for one submitted request. Any number of goroutines may
// Wait on it; abandoning a wait never blocks the server.
type Call struct {
	ID uint64
	Op Op

	done chan struct{}
	resp Response
}

func newCall(id uint64, op Op) *Call {
	return &Call{ID: id, Op: op, done: make(chan struct{})}
}

// complete is called exactly once, by the dispatcher.
func (c *Call) complete(resp Response) {
	c.resp = resp
	close(c.done)
}

// Done is closed once the response is available.
func (c *Call) Done() <-chan struct{} { return c.done }

// Wait blocks until the response arrives or ctx ends. The returned error is
// the context's; the request's own outcome is in Response.Err.
func (c *Call) Wait(ctx context.Context) (Response, error) {
	select {
	case <-c.done:
		return c.resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}
