package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/roach88/fieldsync/internal/fault"
)

// Subscribe implements Streamer. It dials the push endpoint and starts a
// reader goroutine that delivers narrowed events to h until the first read
// error or Unsubscribe.
//
// A payload that fails schema validation is dropped and logged; it does not
// end the subscription.
func (g *HTTPGateway) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	const op = "subscribe"
	tok, err := bearer(g.token, op, g.now())
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, resp, err := g.dialer.DialContext(ctx, g.feed, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, statusError(op, resp.StatusCode, "")
		}
		return nil, transportError(op, err)
	}

	s := &wsSubscription{conn: conn, done: make(chan struct{})}
	go s.read(g, h)
	return s, nil
}

type wsSubscription struct {
	conn *websocket.Conn
	once sync.Once
	done chan struct{}
}

// Unsubscribe closes the connection. The reader exits on its next read and
// does not report the resulting error.
func (s *wsSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *wsSubscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *wsSubscription) read(g *HTTPGateway, h Handler) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed() {
				h.OnError(fault.Wrap(fault.Transient, "subscribe", err))
			}
			s.Unsubscribe()
			return
		}
		ev, err := g.decode.event(raw)
		if err != nil {
			g.logger.Error("push event rejected",
				"event", "payload_rejected",
				"op", "subscribe",
				"error", err,
			)
			continue
		}
		if s.closed() {
			return
		}
		h.OnEvent(ev)
	}
}
