// Package ws streams committed ledger events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/custodex/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Frame formats a client may ask for.
const (
	FormatProto = "proto"
	FormatJSON  = "json"
)

// Channels are the bus channels the hub relays.
var Channels = []string{domain.ChannelOffers, domain.ChannelSessions}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan frame
	mu     sync.RWMutex
	subs   map[string]bool
	format string
}

// frame is one event in both encodings; the client's format picks one.
type frame struct {
	proto []byte
	json  []byte
}

// controlMsg is what a client sends to change its subscription.
type controlMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
	Format   string   `json:"format"`
}

// Hub fans bus messages out to connected clients.
type Hub struct {
	bus        domain.SignalBus
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	startedAt  time.Time
	logger     *slog.Logger
}

type broadcastMsg struct {
	channel string
	frame   frame
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		startedAt:  time.Now().UTC(),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run relays bus messages until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range Channels {
		go h.subscribe(ctx, ch)
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
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.frame:
				default:
					h.logger.Warn("dropping message for slow client", slog.String("channel", msg.channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) subscribe(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				h.logger.Warn("subscription closed", slog.String("channel", channel))
				return
			}
			f, err := encodeFrame(channel, payload)
			if err != nil {
				h.logger.Warn("encode frame failed",
					slog.String("channel", channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{channel: channel, frame: f}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// encodeFrame wraps an event as {"channel": ..., "event": ...}. The proto
// form is a google.protobuf.Struct; JSON numbers become doubles there.
func encodeFrame(channel string, payload []byte) (frame, error) {
	var event any
	if err := json.Unmarshal(payload, &event); err != nil {
		return frame{}, err
	}
	st, err := structpb.NewStruct(map[string]any{"channel": channel, "event": event})
	if err != nil {
		return frame{}, err
	}
	pb, err := proto.Marshal(st)
	if err != nil {
		return frame{}, err
	}
	js, err := json.Marshal(map[string]any{
		"channel": channel,
		"event":   json.RawMessage(payload),
	})
	if err != nil {
		return frame{}, err
	}
	return frame{proto: pb, json: js}, nil
}

// DecodeFrame parses a proto frame back into its channel and event.
func DecodeFrame(data []byte) (string, map[string]any, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return "", nil, err
	}
	m := st.AsMap()
	channel, _ := m["channel"].(string)
	event, _ := m["event"].(map[string]any)
	return channel, event, nil
}

// HandleWS upgrades the request and registers the client on every channel.
// ?format=json selects text frames; the default is binary proto frames.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
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
	for _, ch := range Channels {
		c.subs[ch] = true
	}
	h.register <- c
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg controlMsg
		if json.Unmarshal(message, &msg) == nil {
			c.apply(msg)
		}
	}
}

func (c *client) apply(msg controlMsg) {
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
	}
	if msg.Format == FormatJSON || msg.Format == FormatProto {
		c.format = msg.Format
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// sendHello queues a status frame so the client sees a live connection
// before any event arrives.
func (c *client) sendHello() {
	payload, err := json.Marshal(map[string]any{
		"type":           "hello",
		"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
		"channels":       Channels,
	})
	if err != nil {
		return
	}
	f, err := encodeFrame("status", payload)
	if err != nil {
		return
	}
	select {
	case c.send <- f:
	default:
	}
}

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
			c.mu.RLock()
			format := c.format
			c.mu.RUnlock()
			var err error
			if format == FormatJSON {
				err = c.conn.WriteMessage(websocket.TextMessage, f.json)
			} else {
				err = c.conn.WriteMessage(websocket.BinaryMessage, f.proto)
			}
			if err != nil {
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
