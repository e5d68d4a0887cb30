// Package chat is the chat platform boundary: a WebSocket gateway carrying
// channel messages in both directions, and the command router that maps
// inbound text onto the serial bridge's operations.
package chat

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaylab/serialterm/terminal"
)

// Inbound is a user message received from a channel.
type Inbound struct {
	ChannelID string
	Text      string
	// FromBot marks messages authored by automation; they are ignored.
	FromBot bool
}

// Handler consumes inbound user messages.
type Handler func(ctx context.Context, msg Inbound)

// frame is the JSON wire format exchanged with WebSocket clients.
type frame struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	ID      string `json:"id,omitempty"`
	Text    string `json:"text,omitempty"`
	Bot     bool   `json:"bot,omitempty"`
}

// client is one attached WebSocket connection. Writes are serialized per
// connection; gorilla/websocket forbids concurrent writers.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(f)
}

// retainedMessages caps per-channel message history. Live terminals only
// ever re-render their newest message, so evicting old entries is safe.
const retainedMessages = 256

// channelState holds a channel's attached connections and retained message
// contents. Messages are retained so edit/fetch/delete behave like a real
// chat platform even while no client is attached; the oldest entries are
// evicted past retainedMessages so long-lived channels stay bounded.
type channelState struct {
	clients  map[*client]struct{}
	messages map[terminal.MessageID]string
	order    []terminal.MessageID
}

// Gateway is the WebSocket chat adapter. Each connection attaches to one
// channel (chosen via the "channel" query parameter, or generated). It
// implements terminal.Messenger for outbound delivery and forwards inbound
// user messages to the configured handler.
type Gateway struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.Mutex
	channels map[string]*channelState
	handler  Handler
}

// NewGateway creates a gateway. OnMessage must be called before serving.
func NewGateway(logger *slog.Logger) *Gateway {
	return &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bridge is deployed behind its own auth layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:   logger,
		channels: make(map[string]*channelState),
	}
}

// OnMessage sets the handler invoked for every inbound user message.
func (g *Gateway) OnMessage(handler Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = handler
}

// ServeHTTP upgrades the request and pumps inbound frames until the client
// disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	channelID := r.URL.Query().Get("channel")
	if channelID == "" {
		channelID = uuid.NewString()
	}

	cl := &client{conn: conn}
	g.attach(channelID, cl)
	defer g.detach(channelID, cl)

	// Tell the client which channel it landed in.
	if err := cl.send(frame{Type: "welcome", Channel: channelID}); err != nil {
		g.logger.Warn("Failed to send welcome frame", "channel", channelID, "error", err)
		return
	}

	g.logger.Info("Client attached", "channel", channelID)
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Warn("Client read failed", "channel", channelID, "error", err)
			}
			return
		}
		if f.Type != "message" || f.Bot {
			continue
		}

		g.mu.Lock()
		handler := g.handler
		g.mu.Unlock()
		if handler != nil {
			handler(r.Context(), Inbound{ChannelID: channelID, Text: f.Text, FromBot: f.Bot})
		}
	}
}

func (g *Gateway) attach(channelID string, cl *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channel(channelID).clients[cl] = struct{}{}
}

func (g *Gateway) detach(channelID string, cl *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if state, ok := g.channels[channelID]; ok {
		delete(state.clients, cl)
	}
	cl.conn.Close()
}

// channel returns the channel state, creating it on first use.
// Callers must hold g.mu.
func (g *Gateway) channel(channelID string) *channelState {
	state, ok := g.channels[channelID]
	if !ok {
		state = &channelState{
			clients:  make(map[*client]struct{}),
			messages: make(map[terminal.MessageID]string),
		}
		g.channels[channelID] = state
	}
	return state
}

// broadcast delivers a frame to every client attached to a channel.
func (g *Gateway) broadcast(channelID string, f frame) {
	g.mu.Lock()
	state, ok := g.channels[channelID]
	if !ok {
		g.mu.Unlock()
		return
	}
	clients := make([]*client, 0, len(state.clients))
	for cl := range state.clients {
		clients = append(clients, cl)
	}
	g.mu.Unlock()

	for _, cl := range clients {
		if err := cl.send(f); err != nil {
			g.logger.Warn("Failed to deliver frame", "channel", channelID, "error", err)
		}
	}
}

// SendMessage implements terminal.Messenger.
func (g *Gateway) SendMessage(ctx context.Context, channelID, text string) (terminal.MessageID, error) {
	id := terminal.MessageID(uuid.NewString())

	g.mu.Lock()
	state := g.channel(channelID)
	state.messages[id] = text
	state.order = append(state.order, id)
	for len(state.order) > retainedMessages {
		delete(state.messages, state.order[0])
		state.order = state.order[1:]
	}
	g.mu.Unlock()

	g.broadcast(channelID, frame{Type: "message", Channel: channelID, ID: string(id), Text: text})
	return id, nil
}

// EditMessage implements terminal.Messenger.
func (g *Gateway) EditMessage(ctx context.Context, channelID string, id terminal.MessageID, text string) error {
	g.mu.Lock()
	state, ok := g.channels[channelID]
	if ok {
		_, ok = state.messages[id]
	}
	if !ok {
		g.mu.Unlock()
		return terminal.ErrMessageNotFound
	}
	state.messages[id] = text
	g.mu.Unlock()

	g.broadcast(channelID, frame{Type: "edit", Channel: channelID, ID: string(id), Text: text})
	return nil
}

// FetchMessage implements terminal.Messenger.
func (g *Gateway) FetchMessage(ctx context.Context, channelID string, id terminal.MessageID) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.channels[channelID]
	if !ok {
		return "", terminal.ErrMessageNotFound
	}
	text, ok := state.messages[id]
	if !ok {
		return "", terminal.ErrMessageNotFound
	}
	return text, nil
}

// DeleteMessage implements terminal.Messenger.
func (g *Gateway) DeleteMessage(ctx context.Context, channelID string, id terminal.MessageID) error {
	g.mu.Lock()
	state, ok := g.channels[channelID]
	if ok {
		_, ok = state.messages[id]
	}
	if !ok {
		g.mu.Unlock()
		return terminal.ErrMessageNotFound
	}
	delete(state.messages, id)
	g.mu.Unlock()

	g.broadcast(channelID, frame{Type: "delete", Channel: channelID, ID: string(id)})
	return nil
}
