// Package ws pushes signal bus traffic (game views, pool events, pool list
// updates) to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// defaultPatterns are the bus channels bridged to clients.
var defaultPatterns = []string{
	"ch:game:*",
	"ch:pool:*",
	domain.ChannelPools,
}

// Frame formats a client may ask for.
const (
	FormatProto = "proto"
	FormatJSON  = "json"
)

// frame is one encoded outgoing message.
type frame struct {
	data []byte
	text bool
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan frame
	mu   sync.RWMutex
	subs map[string]bool
	// format selects binary protobuf or text protojson frames.
	format string
}

// subscribeMsg is the JSON message a client sends to manage its
// subscriptions, e.g. {"action":"subscribe","channels":["ch:game:3"]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
	Format   string   `json:"format"`
}

// Hub manages a set of connected WebSocket clients and broadcasts messages
// from the signal bus to the clients subscribed to their channel.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan domain.BusMessage
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
	cfg        Config
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
	// Watched reports the pools with a live game reducer.
	Watched func() []uint64
	// AllowedOrigins restricts the upgrade; empty allows every origin.
	AllowedOrigins []string
}

// NewHub creates a hub bridging bus to connected clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	cfg.Mode = strings.TrimSpace(strings.ToLower(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan domain.BusMessage, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		cfg:        cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Run starts the hub's main event loop and blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for _, p := range defaultPatterns {
		go h.subscribe(ctx, p)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", h.clientCount()))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// deliver encodes msg at most once per format and queues it for every
// subscribed client.
func (h *Hub) deliver(msg domain.BusMessage) {
	frames := make(map[string][]byte, 2)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(msg.Channel) {
			continue
		}
		format := c.frameFormat()
		data, ok := frames[format]
		if !ok {
			var err error
			if data, err = Encode(msg, format); err != nil {
				h.logger.Warn("ws: encode frame failed",
					slog.String("channel", msg.Channel),
					slog.String("error", err.Error()),
				)
				return
			}
			frames[format] = data
		}
		select {
		case c.send <- frame{data: data, text: format == FormatJSON}:
		default:
			h.logger.Warn("ws: dropping message for slow client", slog.String("channel", msg.Channel))
		}
	}
}

// subscribe bridges one bus pattern into the broadcast loop.
func (h *Hub) subscribe(ctx context.Context, pattern string) {
	msgCh, err := h.bus.PSubscribe(ctx, pattern)
	if err != nil {
		h.logger.Error("ws: failed to subscribe",
			slog.String("pattern", pattern),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed", slog.String("pattern", pattern))

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: subscription closed", slog.String("pattern", pattern))
				return
			}
			select {
			case h.broadcast <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Encode wraps a bus message in a structpb envelope. JSON payloads become
// structured values; anything else is carried as a string.
func Encode(msg domain.BusMessage, format string) ([]byte, error) {
	env, err := envelope(msg.Channel, msg.Payload)
	if err != nil {
		return nil, err
	}
	if format == FormatJSON {
		return protojson.Marshal(env)
	}
	return proto.Marshal(env)
}

func envelope(channel string, payload []byte) (*structpb.Struct, error) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		decoded = string(payload)
	}
	kind := "event"
	switch {
	case strings.HasPrefix(channel, "ch:game:"):
		kind = "game_view"
	case channel == domain.ChannelPools:
		kind = "pools"
	}
	return structpb.NewStruct(map[string]any{
		"type":    kind,
		"channel": channel,
		"sent_at": time.Now().UTC().Format(time.RFC3339Nano),
		"payload": decoded,
	})
}

// Decode parses a binary frame produced by Encode.
func Decode(frame []byte) (*structpb.Struct, error) {
	var env structpb.Struct
	if err := proto.Unmarshal(frame, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. Clients start subscribed to every channel.
// GET /ws?format=json
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan frame, sendBufferSize),
		subs:   make(map[string]bool),
		format: FormatProto,
	}
	if r.URL.Query().Get("format") == FormatJSON {
		c.format = FormatJSON
	}
	for _, p := range defaultPatterns {
		c.subs[p] = true
	}

	// Queued before registration: the hub closes send on shutdown.
	c.sendInitialStatus()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription management messages from the client.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	case "only":
		c.subs = make(map[string]bool, len(msg.Channels))
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	}
	switch msg.Format {
	case FormatJSON, FormatProto:
		c.format = msg.Format
	}
}

func (c *client) frameFormat() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.format
}

// sendInitialStatus tells the client which pools are live so it can
// subscribe before the first view arrives.
func (c *client) sendInitialStatus() {
	var watched []uint64
	if c.hub.cfg.Watched != nil {
		watched = c.hub.cfg.Watched()
	}
	payload, err := json.Marshal(map[string]any{
		"mode":           c.hub.cfg.Mode,
		"uptime_seconds": int64(time.Since(c.hub.cfg.StartedAt).Seconds()),
		"watched_pools":  watched,
	})
	if err != nil {
		return
	}
	format := c.frameFormat()
	data, err := Encode(domain.BusMessage{Channel: "ch:status", Payload: payload}, format)
	if err != nil {
		return
	}
	select {
	case c.send <- frame{data: data, text: format == FormatJSON}:
	default:
	}
}

// isSubscribed checks whether the client is subscribed to the given channel.
// A trailing "*" matches any suffix.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// writePump pumps frames from the hub to the connection and keeps it alive
// with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			kind := websocket.BinaryMessage
			if f.text {
				kind = websocket.TextMessage
			}
			if err := c.conn.WriteMessage(kind, f.data); err != nil {
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
