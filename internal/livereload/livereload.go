// Package livereload tells connected browsers to reload after the
// application invalidated cached handlers or templates.
package livereload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/convey/internal/logging"
)

const (
	// SocketPath is where browsers connect.
	SocketPath = "/_convey/livereload"
	// ScriptPath serves the client script.
	ScriptPath = "/_convey/livereload.js"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// Message is sent to every browser on a change.
type Message struct {
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer is told about connects and disconnects.
type Observer interface {
	ClientConnected()
	ClientDisconnected()
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub tracks connected browsers and fans out reload messages.
type Hub struct {
	// origins are host patterns accepted besides the request's own host.
	origins []string

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}

	clients      map[*client]struct{}
	clientsMutex sync.RWMutex

	observer Observer
	logger   logging.Logger
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(origins []string, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Hub{
		origins:    origins,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
		logger:     logger.WithComponent("livereload"),
	}
}

// SetObserver installs o.
func (h *Hub) SetObserver(o Observer) {
	h.observer = o
}

// Clients returns the number of connected browsers.
func (h *Hub) Clients() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Reload asks every browser to reload; target names what changed.
func (h *Hub) Reload(target string) {
	data, err := json.Marshal(Message{Type: "reload", Target: target, Timestamp: time.Now()})
	if err != nil {
		h.logger.Error(context.Background(), err, "encoding reload message")
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn(context.Background(), nil, "reload broadcast dropped, queue full", "target", target)
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.clientsMutex.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.clientsMutex.Unlock()
			return

		case c := <-h.register:
			h.clientsMutex.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.clientsMutex.Unlock()
			if h.observer != nil {
				h.observer.ClientConnected()
			}
			h.logger.Debug(ctx, "client connected", "clients", count)

		case c := <-h.unregister:
			h.clientsMutex.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
			count := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Debug(ctx, "client disconnected", "clients", count)

		case message := <-h.broadcast:
			var slow []*client
			h.clientsMutex.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					slow = append(slow, c)
				}
			}
			h.clientsMutex.RUnlock()

			if len(slow) > 0 {
				h.clientsMutex.Lock()
				for _, c := range slow {
					if _, ok := h.clients[c]; ok {
						h.drop(c)
					}
				}
				h.clientsMutex.Unlock()
			}
		}
	}
}

// drop removes c; clientsMutex must be held.
func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	if h.observer != nil {
		h.observer.ClientDisconnected()
	}
}

// ServeHTTP upgrades the request to a websocket.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "websocket upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}

	go c.writePump()
	go c.readPump()
}

// checkOrigin accepts http(s) origins whose host is the request host or one
// of the configured patterns. A missing Origin header is rejected.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	for _, allowed := range h.origins {
		if u.Host == allowed {
			return true
		}
	}
	return false
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		ctx, cancel := context.WithTimeout(context.Background(), pongWait)
		_, _, err := c.conn.Read(ctx)
		cancel()
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				c.hub.logger.Debug(context.Background(), "websocket read ended", "error", err.Error())
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.hub.logger.Debug(context.Background(), "websocket write failed", "error", err.Error())
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
