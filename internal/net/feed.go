package net

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/research-ag/icrc1-auction/internal/engine"
	"github.com/research-ag/icrc1-auction/internal/reporter"
)

const (
	feedBuffer       = 16
	feedWriteTimeout = time.Second
)

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Feed pushes public clearing results to websocket subscribers. Fills are
// stripped since they name the participants. A subscriber that falls behind
// by more than feedBuffer events is dropped.
type Feed struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
}

func NewFeed(log zerolog.Logger) *Feed {
	return &Feed{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*feedClient]struct{}),
	}
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Error().Err(err).Msg("unable to upgrade connection")
		return
	}
	c := &feedClient{conn: conn, send: make(chan []byte, feedBuffer)}

	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()
	f.log.Debug().Str("address", conn.RemoteAddr().String()).Msg("feed subscriber added")

	go f.write(c)

	// Subscribers never send anything; reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	f.drop(c)
}

func (f *Feed) write(c *feedClient) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout)); err != nil {
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			f.log.Debug().Err(err).Str("address", c.conn.RemoteAddr().String()).Msg("feed write failed")
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(feedWriteTimeout))
}

// drop unregisters c once; its writer closes the connection.
func (f *Feed) drop(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropLocked(c)
}

func (f *Feed) dropLocked(c *feedClient) {
	if _, ok := f.clients[c]; !ok {
		return
	}
	delete(f.clients, c)
	close(c.send)
}

func (f *Feed) broadcast(ev reporter.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			f.log.Warn().Str("address", c.conn.RemoteAddr().String()).Msg("feed subscriber too slow, dropping")
			f.dropLocked(c)
		}
	}
	return nil
}

func (f *Feed) ReportClearing(r engine.ClearingReport) error {
	ev := reporter.ClearingEvent(r)
	ev.Fills = nil
	return f.broadcast(ev)
}

// ReportError is not published: errors concern single users.
func (f *Feed) ReportError(string, error) error {
	return nil
}

// Subscribers is the number of connected subscribers.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Close disconnects every subscriber.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		f.dropLocked(c)
	}
}
