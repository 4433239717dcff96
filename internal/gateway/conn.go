package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-arena/internal/obslog"
)

// outBufferSize bounds the per-connection send queue. A client that cannot
// drain this many frames is dropped rather than allowed to stall broadcasts.
const outBufferSize = 64

const writeTimeout = 5 * time.Second

// frame is the wire envelope in both directions.
type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// wsConn wraps one websocket with a buffered egress queue. All writes go
// through a single writer goroutine, so Send is safe from any goroutine and
// never blocks the caller.
type wsConn struct {
	id   string
	sock *websocket.Conn

	out       chan frame
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(id string, sock *websocket.Conn) *wsConn {
	c := &wsConn{
		id:   id,
		sock: sock,
		out:  make(chan frame, outBufferSize),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Send implements arena.Recipient. Frames for a full or closing connection
// are dropped, not queued: a slow client must never delay a session.
func (c *wsConn) Send(event string, payload any) {
	select {
	case <-c.done:
	case c.out <- frame{Event: event, Data: payload}:
	default:
		obslog.L().Warn("ws_send_dropped",
			zap.String("conn", c.id),
			zap.String("frame", event),
		)
	}
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.out:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, c.sock, f)
			cancel()
			if err != nil {
				obslog.L().Debug("ws_write_failed",
					zap.String("conn", c.id),
					zap.Error(err),
				)
				c.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (c *wsConn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.sock.Close(code, reason)
	})
}
