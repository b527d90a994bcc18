package bridge

import (
	"encoding/json"
	"errors"

	"github.com/plant-twin/twinsim/sim"
	"github.com/plant-twin/twinsim/sim/server"
)

// KindBadFrame tags replies to frames that could not be decoded or named an
// unknown operation.
const KindBadFrame sim.ErrorKind = "BadFrame"

// Frame is one client request. ID is chosen by the client and echoed in the
// reply; the server assigns its own ids internally.
type Frame struct {
	ID      uint64             `json:"id"`
	Op      string             `json:"op"`
	Name    string             `json:"name,omitempty"`
	Names   []string           `json:"names,omitempty"`
	Value   float64            `json:"value,omitempty"`
	Mapping map[string]float64 `json:"mapping,omitempty"`
}

// Reply answers the frame with the same ID.
type Reply struct {
	ID       uint64             `json:"id"`
	OK       bool               `json:"ok"`
	Value    *float64           `json:"value,omitempty"`
	Values   map[string]float64 `json:"values,omitempty"`
	API      sim.API            `json:"api,omitempty"`
	Error    string             `json:"error,omitempty"`
	Kind     sim.ErrorKind      `json:"kind,omitempty"`
	Failures []sim.SetFailure   `json:"failures,omitempty"`
}

func decodeFrame(msg []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (f Frame) request() server.Request {
	return server.Request{
		Op:      server.Op(f.Op),
		Name:    f.Name,
		Names:   f.Names,
		Value:   f.Value,
		Mapping: f.Mapping,
	}
}

func errorReply(id uint64, err error, kind sim.ErrorKind) Reply {
	r := Reply{ID: id, Error: err.Error(), Kind: kind}
	var multi *sim.MultiSetFailureError
	if errors.As(err, &multi) {
		r.Failures = multi.Failures
	}
	return r
}

// replyFor converts a server response for a frame of the given op.
func replyFor(id uint64, op server.Op, resp server.Response) Reply {
	if resp.Err != nil {
		return errorReply(id, resp.Err, resp.Kind())
	}
	r := Reply{ID: id, OK: true}
	switch op {
	case server.OpGet:
		v := resp.Value
		r.Value = &v
	case server.OpMultiGet:
		r.Values = resp.Values
	case server.OpGetAPI:
		r.API = resp.API
	}
	return r
}
