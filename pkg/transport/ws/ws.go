// Package ws serves force commands to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gwillem/keyforce/pkg/force"
)

const (
	writeWait  = time.Second
	sendBuffer = 8
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts every command to all connected websocket clients. Each
// client counts as one subscriber.
type Hub struct {
	path     string
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	clients map[*client]struct{}
	server  *http.Server
	addr    string
}

// NewHub creates a hub that accepts clients on path.
func NewHub(path string, logger *zap.SugaredLogger) *Hub {
	return &Hub{
		path: path,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.Named("ws"),
		clients: make(map[*client]struct{}),
	}
}

// Listen serves the hub on addr until Close. It returns once the
// listener is bound.
func (h *Hub) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(h.path, h)

	h.mu.Lock()
	h.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	h.addr = ln.Addr().String()
	server := h.server
	h.mu.Unlock()

	h.logger.Infow("listening", "addr", h.addr, "path", h.path)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Errorw("server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, or "" before Listen.
func (h *Hub) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Infow("client connected", "remote", conn.RemoteAddr().String())

	go h.writeLoop(c)
	go h.readLoop(c)
}

// readLoop only watches for the client going away.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Infow("client disconnected", "remote", c.conn.RemoteAddr().String())
}

func (h *Hub) Name() string {
	if addr := h.Addr(); addr != "" {
		return "ws://" + addr + h.path
	}
	return h.path
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues cmd for every client. A client whose queue is full is
// disconnected rather than allowed to stall the others.
func (h *Hub) Publish(cmd force.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warnw("dropping slow client", "remote", c.conn.RemoteAddr().String())
			h.removeLocked(c)
		}
	}
	return nil
}

// Close disconnects all clients and stops the server, if any.
func (h *Hub) Close() error {
	h.mu.Lock()
	for c := range h.clients {
		h.removeLocked(c)
	}
	server := h.server
	h.mu.Unlock()

	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	return server.Shutdown(ctx)
}

// Watch connects to a hub at url and calls handle for every command until
// ctx ends or the connection closes. It returns nil when ctx ends.
func Watch(ctx context.Context, url string, handle func(force.Command)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read from %s: %w", url, err)
		}

		var cmd force.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			return fmt.Errorf("decode command: %w", err)
		}
		handle(cmd)
	}
}
