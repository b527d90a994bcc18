// Package server runs a simulation in isolation on its own worker goroutine.
//
// The worker owns the Simulator. It steps once per tick interval and spends the
// rest of each interval handling requests from a single inbound queue, in
// submission order, pushing exactly one tagged response per request onto a
// single outbound queue. A dispatcher goroutine matches responses to the
// per-request futures handed out by Submit. Nothing but values crosses the
// boundary in either direction.
package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/plant-twin/twinsim/sim"
	"github.com/plant-twin/twinsim/sim/defn"
	"github.com/plant-twin/twinsim/sim/trace"
)

// State is the server lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Server is a SimulationServer. It is safe for concurrent use.
type Server struct {
	id   uuid.UUID
	defn *defn.SimulationDefn
	res  defn.Resources
	cfg  Config
	log  *logrus.Entry

	// mu serializes id assignment with enqueueing and guards lifecycle
	// transitions. state is also readable without it.
	mu       sync.Mutex
	state    atomic.Int32
	nextID   uint64
	stopCall *Call
	started  atomic.Bool

	pendingMu sync.Mutex
	pending   map[uint64]*Call

	in       chan Request
	out      chan Response
	done     chan struct{}
	doneOnce sync.Once

	tick atomic.Int64
}

// New creates a server for d. The simulation is not built until Start.
func New(d *defn.SimulationDefn, res defn.Resources, cfg Config) (*Server, error) {
	if d == nil {
		return nil, fmt.Errorf("nil simulation definition")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	cfg = cfg.withDefaults()
	id := uuid.New()
	return &Server{
		id:      id,
		defn:    d,
		res:     res,
		cfg:     cfg,
		log:     logrus.WithFields(logrus.Fields{"server": id.String(), "defn": d.ID()}),
		pending: make(map[uint64]*Call),
		in:      make(chan Request, cfg.QueueCapacity),
		out:     make(chan Response, cfg.QueueCapacity),
		done:    make(chan struct{}),
	}, nil
}

// ID returns the server's session id.
func (s *Server) ID() uuid.UUID { return s.id }

// DefinitionID returns the identifier of the definition being served.
func (s *Server) DefinitionID() string { return s.defn.ID() }

// State returns the current lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

// Tick returns the number of completed steps, as last published by the worker.
func (s *Server) Tick() int64 { return s.tick.Load() }

// TickInterval returns the step cadence in effect, defaults applied.
func (s *Server) TickInterval() time.Duration { return s.cfg.TickInterval }

// Trace returns the configured trace, or nil.
func (s *Server) Trace() *trace.SimulationTrace { return s.cfg.Trace }

// Done is closed once the server has stopped and every response was delivered.
func (s *Server) Done() <-chan struct{} { return s.done }

func (s *Server) setState(st State) { s.state.Store(int32(st)) }

func (s *Server) closeDone() { s.doneOnce.Do(func() { close(s.done) }) }

// Start launches the worker, which builds the Simulator from the definition.
// Construction errors are returned here and leave the server Stopped.
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	ready := make(chan error, 1)
	go s.run(ready)
	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		go func() {
			if err := <-ready; err == nil {
				_ = s.Stop(context.Background())
			}
		}()
		return ctx.Err()
	}
}

func (s *Server) run(ready chan<- error) {
	simulator, err := s.defn.CreateSimulation(s.res)

	s.mu.Lock()
	if err != nil {
		s.setState(StateStopped)
		s.closeDone()
		s.mu.Unlock()
		s.log.Errorf("building simulation: %v", err)
		ready <- fmt.Errorf("building simulation %s: %w", s.defn.ID(), err)
		return
	}
	if s.State() != StateCreated {
		// Stopped before the build finished.
		s.mu.Unlock()
		ready <- sim.ErrServerShuttingDown
		return
	}
	s.setState(StateRunning)
	s.mu.Unlock()

	go s.dispatch()
	s.log.Infof("started: tick interval %v, %d references", s.cfg.TickInterval, len(simulator.ReferenceNames()))
	ready <- nil
	s.work(simulator)
}

// work is the tick loop. It returns after handling STOP and draining the queue.
func (s *Server) work(simulator *sim.Simulator) {
	defer close(s.out)

	timer := time.NewTimer(s.cfg.TickInterval)
	timer.Stop()
	defer timer.Stop()

	for {
		start := time.Now()
		stepErr := simulator.Step()
		stepped := time.Since(start)
		tick := simulator.Tick()
		s.tick.Store(tick)
		overrun := stepped >= s.cfg.TickInterval
		if stepErr != nil {
			s.log.Warnf("[tick %07d] step failed: %v", tick, stepErr)
		}
		if overrun {
			s.log.Debugf("[tick %07d] step took %v, skipping request window", tick, stepped)
		}
		s.cfg.Metrics.observeStep(tick, stepped, stepErr, overrun)

		handled := 0
		stop := false
		deadline := start.Add(s.cfg.TickInterval)
	window:
		for !overrun {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			timer.Reset(remaining)
			select {
			case req := <-s.in:
				timer.Stop()
				s.cfg.Metrics.observeQueue(len(s.in))
				handled++
				if s.handle(simulator, req) {
					stop = true
					break window
				}
			case <-timer.C:
				break window
			}
		}

		rec := trace.TickRecord{Tick: tick, Step: stepped, Overrun: overrun, Requests: handled}
		if stepErr != nil {
			rec.StepErr = stepErr.Error()
		}
		s.cfg.Trace.RecordTick(rec)

		if stop {
			s.drain(simulator)
			s.log.Infof("[tick %07d] stopped", tick)
			return
		}
	}
}

// handle answers one request and reports whether it was STOP. Requests queued
// ahead of STOP run normally even once Stop has been called.
func (s *Server) handle(simulator *sim.Simulator, req Request) bool {
	start := time.Now()
	if req.Op == OpStop {
		s.respond(simulator, req, Response{ID: req.ID}, true, start)
		return true
	}
	s.respond(simulator, req, execute(simulator, req), true, start)
	return false
}

// drain answers anything still queued after STOP.
func (s *Server) drain(simulator *sim.Simulator) {
	for {
		select {
		case req := <-s.in:
			s.respond(simulator, req, Response{ID: req.ID, Err: sim.ErrServerShuttingDown}, false, time.Now())
		default:
			return
		}
	}
}

func execute(simulator *sim.Simulator, req Request) Response {
	resp := Response{ID: req.ID}
	switch req.Op {
	case OpGetAPI:
		resp.API = simulator.GetAPI()
	case OpGet:
		resp.Value, resp.Err = simulator.GetReferenceValue(req.Name)
	case OpSet:
		resp.Err = simulator.SetReferenceValue(req.Name, req.Value)
	case OpMultiGet:
		resp.Values, resp.Err = simulator.GetReferences(req.Names)
	case OpMultiSet:
		resp.Err = simulator.SetReferences(req.Mapping)
	default:
		resp.Err = fmt.Errorf("%w: op %q", ErrInvalidRequest, req.Op)
	}
	return resp
}

func (s *Server) respond(simulator *sim.Simulator, req Request, resp Response, started bool, start time.Time) {
	s.cfg.Metrics.observeRequest(req.Op, resp.Err)
	s.cfg.Trace.RecordRequest(trace.RequestRecord{
		RequestID: req.ID,
		Tick:      simulator.Tick(),
		Op:        string(req.Op),
		ErrorKind: string(sim.KindOf(resp.Err)),
		Started:   started,
		Elapsed:   time.Since(start),
	})
	if resp.Err != nil && started {
		s.log.WithFields(logrus.Fields{"request": req.ID, "op": req.Op}).Debugf("request failed: %v", resp.Err)
	}
	s.out <- resp
}

// dispatch completes futures in response order. Ids are assigned and enqueued
// under one lock and the worker handles them in queue order, so every response
// must carry the next expected id.
func (s *Server) dispatch() {
	next := uint64(1)
	for resp := range s.out {
		if resp.ID != next {
			s.log.Errorf("response %d delivered out of order, expected %d", resp.ID, next)
			s.cfg.Metrics.observeOutOfOrder()
		}
		next = resp.ID + 1

		s.pendingMu.Lock()
		c := s.pending[resp.ID]
		delete(s.pending, resp.ID)
		s.pendingMu.Unlock()
		if c != nil {
			c.complete(resp)
		}
	}

	s.mu.Lock()
	s.setState(StateStopped)
	s.closeDone()
	s.mu.Unlock()
}

// Submit enqueues req and returns its future. The payload is copied.
func (s *Server) Submit(req Request) (*Call, error) {
	if req.Op == OpStop {
		return nil, fmt.Errorf("%w: STOP is issued by Stop", ErrInvalidRequest)
	}
	if !validOps[req.Op] {
		return nil, fmt.Errorf("%w: op %q", ErrInvalidRequest, req.Op)
	}
	req = req.clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State() {
	case StateRunning:
	case StateCreated:
		return nil, ErrNotStarted
	default:
		return nil, sim.ErrServerShuttingDown
	}
	return s.enqueueLocked(req), nil
}

// enqueueLocked assigns the next id and enqueues req. Caller holds s.mu.
func (s *Server) enqueueLocked(req Request) *Call {
	s.nextID++
	req.ID = s.nextID
	c := newCall(req.ID, req.Op)

	s.pendingMu.Lock()
	s.pending[req.ID] = c
	s.pendingMu.Unlock()

	s.in <- req
	s.cfg.Metrics.observeQueue(len(s.in))
	return c
}

// Stop shuts the server down and waits until every queued request has been
// answered, or ctx ends. Requests accepted before Stop still run; later
// submissions fail with sim.ErrServerShuttingDown. Stop is idempotent.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.State() {
	case StateCreated:
		s.setState(StateStopped)
		s.closeDone()
		s.mu.Unlock()
		s.log.Info("stopped before start")
		return nil
	case StateRunning:
		s.setState(StateStopping)
		s.stopCall = s.enqueueLocked(Request{Op: OpStop})
		s.log.Info("stopping")
	}
	call := s.stopCall
	s.mu.Unlock()

	if call != nil {
		resp, err := call.Wait(ctx)
		if err != nil {
			return err
		}
		if resp.Err != nil {
			return resp.Err
		}
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) call(ctx context.Context, req Request) (Response, error) {
	c, err := s.Submit(req)
	if err != nil {
		return Response{}, err
	}
	resp, err := c.Wait(ctx)
	if err != nil {
		return Response{}, err
	}
	return resp, resp.Err
}

// GetAPI returns the capability manifest.
func (s *Server) GetAPI(ctx context.Context) (sim.API, error) {
	resp, err := s.call(ctx, Request{Op: OpGetAPI})
	return resp.API, err
}

// GetReferenceValue returns the value of one dotted reference.
func (s *Server) GetReferenceValue(ctx context.Context, name string) (float64, error) {
	resp, err := s.call(ctx, Request{Op: OpGet, Name: name})
	return resp.Value, err
}

// SetReferenceValue writes one dotted reference.
func (s *Server) SetReferenceValue(ctx context.Context, name string, v float64) error {
	_, err := s.call(ctx, Request{Op: OpSet, Name: name, Value: v})
	return err
}

// GetReferences returns the values of several dotted references atomically
// with respect to ticks.
func (s *Server) GetReferences(ctx context.Context, names []string) (map[string]float64, error) {
	resp, err := s.call(ctx, Request{Op: OpMultiGet, Names: names})
	return resp.Values, err
}

// SetReferences writes several dotted references. Successful assignments are
// kept when others fail; the error lists every failure.
func (s *Server) SetReferences(ctx context.Context, mapping map[string]float64) error {
	_, err := s.call(ctx, Request{Op: OpMultiSet, Mapping: mapping})
	return err
}
