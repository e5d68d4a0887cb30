package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/relaylab/serialterm/serialio"
	"github.com/relaylab/serialterm/settings"
	"github.com/relaylab/serialterm/terminal"
)

// Router maps inbound channel messages onto bridge operations. Lines
// starting with "/" are control commands; anything else is forwarded to the
// session manager when the channel has an active terminal.
type Router struct {
	conn      *serialio.Conn
	store     *settings.Store
	sessions  *terminal.Manager
	sinks     *terminal.Registry
	messenger terminal.Messenger
	logger    *slog.Logger
}

// NewRouter wires the router to the bridge components it drives.
func NewRouter(conn *serialio.Conn, store *settings.Store, sessions *terminal.Manager, sinks *terminal.Registry, messenger terminal.Messenger, logger *slog.Logger) *Router {
	return &Router{
		conn:      conn,
		store:     store,
		sessions:  sessions,
		sinks:     sinks,
		messenger: messenger,
		logger:    logger,
	}
}

// HandleMessage is the Gateway handler entry point.
func (rt *Router) HandleMessage(ctx context.Context, msg Inbound) {
	if msg.FromBot {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/") {
		rt.handleCommand(ctx, msg.ChannelID, text)
		return
	}

	if !rt.sinks.Active(msg.ChannelID) {
		return
	}
	if err := rt.sessions.Submit(ctx, msg.ChannelID, text); err != nil {
		rt.logger.Warn("Failed to queue command", "channel", msg.ChannelID, "error", err)
	}
}

func (rt *Router) handleCommand(ctx context.Context, channelID, text string) {
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	args := fields[1:]

	switch name {
	case "connect":
		rt.connect(ctx, channelID)
	case "disconnect":
		rt.disconnect(ctx, channelID)
	case "set":
		rt.set(ctx, channelID, args)
	case "settings":
		rt.showSettings(ctx, channelID)
	case "terminal":
		rt.toggleTerminal(ctx, channelID)
	case "liveterminal":
		rt.toggleLiveTerminal(ctx, channelID)
	case "encoding":
		rt.setEncoding(ctx, channelID, args)
	case "flush":
		rt.flush(ctx, channelID)
	default:
		rt.reply(ctx, channelID, fmt.Sprintf("Unknown command: /%s", name))
	}
}

func (rt *Router) connect(ctx context.Context, channelID string) {
	cfg := rt.store.Snapshot()
	err := rt.conn.Connect(cfg)
	switch {
	case errors.Is(err, serialio.ErrAlreadyConnected):
		rt.reply(ctx, channelID, "Already connected to serial device!")
	case err != nil:
		rt.reply(ctx, channelID, fmt.Sprintf("Error connecting to serial device: %v", err))
	default:
		rt.reply(ctx, channelID, fmt.Sprintf("Connected to %s at %d baud", cfg.Port, cfg.Baudrate))
	}
}

func (rt *Router) disconnect(ctx context.Context, channelID string) {
	if err := rt.conn.Disconnect(); err != nil {
		rt.reply(ctx, channelID, "Not connected to any serial device")
		return
	}
	rt.reply(ctx, channelID, "Disconnected from serial device")
}

func (rt *Router) set(ctx context.Context, channelID string, args []string) {
	if len(args) < 2 {
		rt.reply(ctx, channelID, fmt.Sprintf("Invalid parameter. Available parameters: %s", strings.Join(settings.Names(), ", ")))
		return
	}
	name, value := args[0], strings.Join(args[1:], " ")

	err := rt.store.Set(name, value)
	switch {
	case errors.Is(err, settings.ErrUnknownParameter):
		rt.reply(ctx, channelID, fmt.Sprintf("Invalid parameter. Available parameters: %s", strings.Join(settings.Names(), ", ")))
	case errors.Is(err, settings.ErrInvalidValue):
		rt.reply(ctx, channelID, fmt.Sprintf("Invalid value format for %s", name))
	case err != nil:
		rt.reply(ctx, channelID, fmt.Sprintf("Error saving settings: %v", err))
	default:
		rt.reply(ctx, channelID, fmt.Sprintf("Set %s to %s", name, value))
	}
}

func (rt *Router) showSettings(ctx context.Context, channelID string) {
	rt.reply(ctx, channelID, fmt.Sprintf("Current settings:\n```\n%s\n```", rt.store.Snapshot().Render()))
}

func (rt *Router) toggleTerminal(ctx context.Context, channelID string) {
	if rt.sinks.PlainActive(channelID) {
		rt.sinks.UnregisterPlain(channelID)
		rt.reply(ctx, channelID, "Terminal mode disabled in this channel")
		return
	}
	rt.sinks.RegisterPlain(channelID)
	rt.reply(ctx, channelID, "Terminal mode enabled in this channel")
}

func (rt *Router) toggleLiveTerminal(ctx context.Context, channelID string) {
	if rt.sinks.LiveActive(channelID) {
		if err := rt.sinks.UnregisterLive(ctx, channelID); err != nil {
			rt.logger.Warn("Failed to remove live terminal message", "channel", channelID, "error", err)
		}
		rt.reply(ctx, channelID, "Live terminal mode disabled in this channel")
		return
	}
	rt.reply(ctx, channelID, "Live terminal mode enabled in this channel")
	if _, err := rt.sinks.RegisterLive(ctx, channelID); err != nil {
		rt.logger.Warn("Failed to create live terminal message", "channel", channelID, "error", err)
	}
}

func (rt *Router) setEncoding(ctx context.Context, channelID string, args []string) {
	charset, policy := "utf-8", "replace"
	if len(args) > 0 {
		charset = args[0]
	}
	if len(args) > 1 {
		policy = args[1]
	}

	if err := rt.store.SetEncoding(charset, policy); err != nil {
		rt.reply(ctx, channelID, fmt.Sprintf("Invalid encoding: %s", charset))
		return
	}
	rt.reply(ctx, channelID, fmt.Sprintf("Set encoding to %s with %s error handling", charset, policy))
}

func (rt *Router) flush(ctx context.Context, channelID string) {
	err := rt.conn.Flush()
	switch {
	case errors.Is(err, serialio.ErrNotConnected):
		rt.reply(ctx, channelID, "Not connected to serial device")
	case err != nil:
		rt.reply(ctx, channelID, fmt.Sprintf("Error flushing buffers: %v", err))
	default:
		rt.reply(ctx, channelID, "Serial buffers flushed")
	}
}

func (rt *Router) reply(ctx context.Context, channelID, text string) {
	if _, err := rt.messenger.SendMessage(ctx, channelID, text); err != nil {
		rt.logger.Warn("Failed to send reply", "channel", channelID, "error", err)
	}
}
