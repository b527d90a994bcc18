// Package sim provides the core stepped simulation engine for twinsim.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - reference.go: Reference, the bounded named scalar cell objects exchange values through
//   - object.go: the SimObject contract (Step, CommitReferences, ExposedReferences, ResolveExternalReferences)
//   - simulator.go: the object registry, the flat dotted reference namespace and the two-phase step
//
// # Two-phase stepping
//
// Every tick runs in two phases. Phase 1 calls Step on every object in
// registration order; objects compute their next state from the values
// committed at the end of the previous tick. Phase 2 calls CommitReferences on
// every object, publishing the new values. No object observes a sibling's
// half-updated state, so the values an object reads do not depend on the order
// objects were registered in.
//
// # Architecture
//
// The sim package defines interfaces and the engine; implementations live in
// sub-packages:
//   - sim/objects/: valves, modeled components and composite mixers
//   - sim/predictor/: model registry and predictor implementations
//   - sim/defn/: declarative simulation definitions and the two-pass wiring protocol
//   - sim/store/: definition persistence (JSON document, zstd artifact, SQLite catalog)
//   - sim/server/: real-time simulation server with ordered request handling
//   - sim/bridge/: WebSocket bridge onto a running server
//   - sim/trace/: request and tick trace recording
//   - sim/sequence/: batch recipe sequencer for mixers
//
// Object kinds register themselves with the sim/defn kind registry from an
// init() function in sim/objects/register.go, so importing sim/objects is
// enough to make every kind decodable from a definition document.
package sim
