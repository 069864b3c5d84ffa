package server

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adred-codev/topichub/internal/broker"
	"github.com/adred-codev/topichub/internal/metrics"
	"github.com/adred-codev/topichub/internal/protocol"
)

// Session connection states. A session is connected until either side
// initiates close; closing marks a pending server-side close frame; closed
// means the underlying connection is gone.
const (
	stateConnected int32 = iota + 1
	stateClosing
	stateClosed
)

var (
	errSessionClosed  = errors.New("session closed")
	errSendBufferFull = errors.New("send buffer full")
)

// outbound is one item on a session's write queue: either a frame to
// deliver or a close request.
type outbound struct {
	frame     []byte
	close     bool
	closeCode ws.StatusCode
}

// session is the per-connection interaction loop. It also implements
// broker.Conn: the broker enqueues fan-out frames onto the same outbound
// queue the session uses for its own replies, so per-subscriber delivery
// order matches enqueue order.
type session struct {
	id     int64
	conn   netConn
	logger zerolog.Logger

	send      chan outbound
	done      chan struct{}
	state     int32
	closeOnce sync.Once

	// clientID is bound by the first valid subscribe frame and only written
	// by the session's read loop.
	clientID string

	limiter     *rate.Limiter
	connectedAt time.Time
}

// netConn is the subset of net.Conn the session uses.
type netConn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Send enqueues a frame for delivery. Never blocks: a full buffer is an
// error, which the broker treats the same as a closed connection.
func (c *session) Send(frame []byte) error {
	if atomic.LoadInt32(&c.state) != stateConnected {
		return errSessionClosed
	}
	select {
	case c.send <- outbound{frame: frame}:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close requests an orderly close with the given code. Frames already
// queued are flushed before the close frame goes out.
func (c *session) Close(code int) {
	if !atomic.CompareAndSwapInt32(&c.state, stateConnected, stateClosing) {
		return
	}
	select {
	case c.send <- outbound{close: true, closeCode: ws.StatusCode(code)}:
	default:
		// Outbound queue full; tear the connection down directly.
		c.terminate()
	}
}

// Connected reports whether the session still accepts outbound frames.
func (c *session) Connected() bool {
	return atomic.LoadInt32(&c.state) == stateConnected
}

// terminate closes the underlying connection exactly once and releases both
// pumps.
func (c *session) terminate() {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.state, stateClosed)
		close(c.done)
		c.conn.Close()
	})
}

// reply marshals and enqueues a server frame on the session's own behalf.
func (c *session) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode reply")
		return
	}
	if err := c.Send(data); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to queue reply")
	}
}

// replyError sends an error frame and records it.
func (c *session) replyError(requestID, code, message string) {
	metrics.RecordFrameError(code)
	c.reply(protocol.NewError(requestID, code, message))
}

// replyDomainError maps a broker error to its wire code. The message is the
// literal "Operation failed"; the code carries the error kind.
func (c *session) replyDomainError(requestID string, err error) {
	code := protocol.CodeBadRequest
	if errors.Is(err, broker.ErrTopicNotFound) {
		code = protocol.CodeTopicNotFound
	}
	c.replyError(requestID, code, "Operation failed")
}

// readLoop processes inbound frames in arrival order until the peer
// disconnects or the transport fails, then purges the bound client's
// subscriptions.
func (s *Server) readLoop(c *session) {
	defer func() {
		c.terminate()
		if c.clientID != "" {
			s.broker.DisconnectClient(c.clientID)
		}
		s.releaseSession(c)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Read failed, closing session")
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText:
			metrics.RecordFrameReceived()

			if !c.limiter.Allow() {
				metrics.RecordRateLimited()
				c.logger.Warn().Msg("Client frame rate limited")
				c.replyError("", protocol.CodeRateLimited, "Too many frames, slow down")
				continue
			}

			s.dispatch(c, msg)

		case ws.OpClose:
			return

		default:
			// Pings are answered by the library; other control frames are
			// ignored.
		}
	}
}

// dispatch validates one client frame and routes it to the broker.
func (s *Server) dispatch(c *session, data []byte) {
	frame, requestID, err := protocol.DecodeClientFrame(data)
	if err != nil {
		c.replyError(requestID, protocol.CodeBadRequest, err.Error())
		return
	}

	switch f := frame.(type) {
	case *protocol.Subscribe:
		// The session binds to the client id of its first valid subscribe
		// frame, even if that subscribe then fails; frames that try to
		// rebind are rejected.
		if c.clientID == "" {
			c.clientID = f.ClientID
		} else if c.clientID != f.ClientID {
			c.replyError(f.RequestID, protocol.CodeBadRequest, "client_id does not match session binding")
			return
		}
		if err := s.broker.Subscribe(f.Topic, f.ClientID, c, f.LastN); err != nil {
			c.replyDomainError(f.RequestID, err)
			return
		}
		c.reply(protocol.NewAck(f.RequestID, f.Topic))

	case *protocol.Unsubscribe:
		if err := s.broker.Unsubscribe(f.Topic, f.ClientID); err != nil {
			c.replyDomainError(f.RequestID, err)
			return
		}
		c.reply(protocol.NewAck(f.RequestID, f.Topic))

	case *protocol.Publish:
		if err := s.broker.Publish(f.Topic, f.Message); err != nil {
			c.replyDomainError(f.RequestID, err)
			return
		}
		c.reply(protocol.NewAck(f.RequestID, f.Topic))

	case *protocol.Ping:
		c.reply(protocol.NewPong(f.RequestID))
	}
}

// writePump drains the session's outbound queue onto the wire and keeps the
// connection alive with periodic pings.
func (s *Server) writePump(c *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.terminate()
	}()

	for {
		select {
		case <-c.done:
			return

		case out := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if out.close {
				body := ws.NewCloseFrameBody(out.closeCode, "")
				if err := ws.WriteFrame(c.conn, ws.NewCloseFrame(body)); err != nil {
					c.logger.Debug().Err(err).Msg("Failed to write close frame")
				}
				return
			}
			if err := wsutil.WriteServerMessage(c.conn, ws.OpText, out.frame); err != nil {
				c.logger.Debug().
					Err(err).
					Int("frame_size", len(out.frame)).
					Msg("Failed to write frame")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				c.logger.Debug().Err(err).Msg("Failed to send ping")
				return
			}
		}
	}
}
