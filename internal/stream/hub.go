// Package stream pushes registry mutations to WebSocket clients.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/merchmate/internal/api/view"
	"github.com/kiranshivaraju/merchmate/internal/registry"
	"github.com/kiranshivaraju/merchmate/pkg/models"
	"github.com/rs/zerolog"
)

const (
	MessageSnapshot = "snapshot"

	broadcastBuffer = 256
	clientBuffer    = 32
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
)

// Snapshotter is the read side of the job registry. The returned sequence is
// the Seq of the last event the jobs already reflect.
type Snapshotter interface {
	Snapshot() ([]models.Job, uint64)
}

// Message is one frame sent to clients. Type is "snapshot" for the initial
// gallery, otherwise the registry event type.
type Message struct {
	Type string     `json:"type"`
	Jobs []view.Job `json:"jobs"`
}

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	since uint64 // events at or below this Seq are in the snapshot
}

// Hub fans registry events out to connected clients. All client bookkeeping
// happens on the Run goroutine.
type Hub struct {
	jobs     Snapshotter
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan registry.Event
	done       chan struct{}
}

// NewHub creates a hub that greets each client with a snapshot from jobs.
func NewHub(jobs Snapshotter, logger zerolog.Logger) *Hub {
	return &Hub{
		jobs:   jobs,
		logger: logger.With().Str("component", "stream").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan registry.Event, broadcastBuffer),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	clients := make(map[*client]bool)
	defer func() {
		close(h.done)
		for c := range clients {
			close(c.send)
		}
	}()

	for {
		select {
		case c := <-h.register:
			clients[c] = true
			jobs, seq := h.jobs.Snapshot()
			c.since = seq
			if msg, err := h.encode(MessageSnapshot, jobs); err == nil {
				c.send <- msg
			}
			h.logger.Debug().Int("clients", len(clients)).Msg("client connected")
		case c := <-h.unregister:
			if clients[c] {
				delete(clients, c)
				close(c.send)
				h.logger.Debug().Int("clients", len(clients)).Msg("client disconnected")
			}
		case ev := <-h.broadcast:
			var msg []byte
			for c := range clients {
				if ev.Seq <= c.since {
					continue
				}
				if msg == nil {
					var err error
					if msg, err = h.encode(string(ev.Type), ev.Jobs); err != nil {
						break
					}
				}
				select {
				case c.send <- msg:
				default:
					delete(clients, c)
					close(c.send)
					h.logger.Warn().Msg("dropping slow client")
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Publish queues a registry event for every client. It never blocks; events
// are dropped when the queue is full. Encoding happens on the Run goroutine.
func (h *Hub) Publish(ev registry.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn().Str("event", string(ev.Type)).Msg("stream queue full, event dropped")
	}
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) encode(typ string, jobs []models.Job) ([]byte, error) {
	msg, err := json.Marshal(Message{Type: typ, Jobs: view.FromJobs(jobs)})
	if err != nil {
		h.logger.Error().Err(err).Str("type", typ).Msg("encode stream message")
	}
	return msg, err
}

// readPump discards client frames and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
