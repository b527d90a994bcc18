// Package bridge exposes a running simulation server over WebSocket.
//
// Each connection is a session. Clients send JSON Frames and receive one JSON
// Reply per frame, in the order the frames were sent. Frames are submitted to
// the server as they arrive, so a client may pipeline requests.
package bridge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/plant-twin/twinsim/sim"
	"github.com/plant-twin/twinsim/sim/server"
)

const (
	writeTimeout   = 5 * time.Second
	stopTimeout    = 30 * time.Second
	maxFrameBytes  = 1 << 20
	sessionPending = 64
)

// Handle is the part of a server the bridge drives. *server.Server implements it.
type Handle interface {
	Submit(req server.Request) (*server.Call, error)
	Stop(ctx context.Context) error
}

// Options configures a Bridge.
type Options struct {
	// AllowStop lets clients stop the server with a STOP frame. Otherwise
	// STOP frames are rejected.
	AllowStop bool

	// IdleTimeout closes sessions that send nothing for this long. Zero
	// disables it.
	IdleTimeout time.Duration
}

// Bridge is an http.Handler upgrading each request to a session.
type Bridge struct {
	srv      Handle
	opts     Options
	upgrader websocket.Upgrader
}

// New creates a bridge onto srv.
func New(srv Handle, opts Options) *Bridge {
	return &Bridge{
		srv:  srv,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// pendingReply is a reply in flight: either a server call to wait on, a STOP to
// perform, or a reply that is already known.
type pendingReply struct {
	id    uint64
	op    server.Op
	call  *server.Call
	stop  bool
	ready *Reply
}

// ServeHTTP runs one session until the client disconnects.
func (b *Bridge) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	session := uuid.New()
	log := logrus.WithFields(logrus.Fields{"session": session.String(), "remote": r.RemoteAddr})
	log.Info("session opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pending := make(chan pendingReply, sessionPending)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		b.writeReplies(ctx, cancel, conn, pending, log)
	}()

	frames := 0
	for {
		if b.opts.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(b.opts.IdleTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("read: %v", err)
			}
			break
		}
		frames++
		p := b.submit(msg)
		select {
		case pending <- p:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(pending)
	<-writerDone
	log.Infof("session closed after %d frames", frames)
}

func (b *Bridge) submit(msg []byte) pendingReply {
	f, err := decodeFrame(msg)
	if err != nil {
		r := errorReply(0, fmt.Errorf("malformed frame: %w", err), KindBadFrame)
		return pendingReply{ready: &r}
	}
	op := server.Op(f.Op)
	if op == server.OpStop {
		if !b.opts.AllowStop {
			r := errorReply(f.ID, fmt.Errorf("STOP is not permitted on this bridge"), KindBadFrame)
			return pendingReply{id: f.ID, op: op, ready: &r}
		}
		return pendingReply{id: f.ID, op: op, stop: true}
	}
	if !server.IsValidOp(f.Op) {
		r := errorReply(f.ID, fmt.Errorf("unknown op %q", f.Op), KindBadFrame)
		return pendingReply{id: f.ID, op: op, ready: &r}
	}
	call, err := b.srv.Submit(f.request())
	if err != nil {
		r := errorReply(f.ID, err, sim.KindOf(err))
		return pendingReply{id: f.ID, op: op, ready: &r}
	}
	return pendingReply{id: f.ID, op: op, call: call}
}

// writeReplies resolves pending replies in frame order and writes them.
func (b *Bridge) writeReplies(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, pending <-chan pendingReply, log *logrus.Entry) {
	for p := range pending {
		var reply Reply
		switch {
		case p.ready != nil:
			reply = *p.ready
		case p.stop:
			stopCtx, stopCancel := context.WithTimeout(ctx, stopTimeout)
			err := b.srv.Stop(stopCtx)
			stopCancel()
			if err != nil {
				reply = errorReply(p.id, err, sim.KindOf(err))
			} else {
				reply = Reply{ID: p.id, OK: true}
				log.Info("server stopped by client")
			}
		default:
			resp, err := p.call.Wait(ctx)
			if err != nil {
				return
			}
			reply = replyFor(p.id, p.op, resp)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			log.Debugf("write: %v", err)
			cancel()
			_ = conn.Close()
			return
		}
	}
}
