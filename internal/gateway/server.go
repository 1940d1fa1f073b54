// Package gateway is the network surface of the relay. A platform bridge
// process connects over a websocket and exchanges JSON events; the relay
// core never sees the platform protocol itself.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nettleship/rolecall/internal/core"
	"github.com/nettleship/rolecall/internal/relay"
)

// Server upgrades bridge connections and dispatches their events into the
// relay.
type Server struct {
	relay *relay.Relay
	token string
}

// New creates a gateway for the given relay. token, when non-empty, is
// required from every bridge connection.
func New(r *relay.Relay, token string) *Server {
	return &Server{relay: r, token: token}
}

// Handler returns the gateway's HTTP routes.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()

	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Recoverer)
	router.Use(chiMiddleware.Heartbeat("/health"))

	router.Get("/ws", s.handleWS)

	return router
}

// event is a single frame exchanged with the bridge. Inbound frames are
// either chat messages or admin commands; outbound frames carry replies,
// reactions, and ephemeral notices.
type event struct {
	Type         string `json:"type"`
	Name         string `json:"name,omitempty"`
	AuthorID     string `json:"author_id,omitempty"`
	AuthorName   string `json:"author_name,omitempty"`
	IsBot        bool   `json:"is_bot,omitempty"`
	IsDM         bool   `json:"is_dm,omitempty"`
	ChannelID    string `json:"channel_id,omitempty"`
	MessageID    string `json:"message_id,omitempty"`
	Text         string `json:"text,omitempty"`
	MentionsBot  bool   `json:"mentions_bot,omitempty"`
	IsReply      bool   `json:"is_reply,omitempty"`
	IsReplyToBot bool   `json:"is_reply_to_bot,omitempty"`
	Emoji        string `json:"emoji,omitempty"`
	Add          bool   `json:"add"`
	AutoDeleteMS int64  `json:"auto_delete_ms,omitempty"`
}

func (e event) toInbound() core.InboundMessage {
	return core.InboundMessage{
		AuthorID:     e.AuthorID,
		AuthorName:   e.AuthorName,
		IsBot:        e.IsBot,
		IsDM:         e.IsDM,
		ChannelID:    e.ChannelID,
		MessageID:    e.MessageID,
		Text:         e.Text,
		MentionsBot:  e.MentionsBot,
		IsReply:      e.IsReply,
		IsReplyToBot: e.IsReplyToBot,
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}

	presented := r.URL.Query().Get("token")
	if presented == "" {
		presented = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) == 1
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err)
		return
	}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "session ended")
	}()

	slog.Info("bridge connected", "remote", r.RemoteAddr)

	ctx := r.Context()
	platform := &wsPlatform{conn: ws}

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Info("bridge disconnected")
			} else {
				slog.Warn("websocket read error", "error", err)
			}
			return
		}

		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("malformed event", "error", err)
			continue
		}

		switch ev.Type {
		case "message":
			// Each message gets its own goroutine; the relay's guard is
			// what serializes generations.
			go s.relay.HandleMessage(ctx, ev.toInbound(), platform)
		case "command":
			s.handleCommand(ctx, ev, platform)
		default:
			slog.Debug("ignoring unknown event type", "type", ev.Type)
		}
	}
}

func (s *Server) handleCommand(ctx context.Context, ev event, platform *wsPlatform) {
	switch ev.Name {
	case "toggleactive":
		if _, err := s.relay.ToggleChannel(ctx, ev.ChannelID, platform); err != nil {
			slog.Error("failed to toggle channel", "channel", ev.ChannelID, "error", err)
		}
	case "toggledm":
		s.relay.ToggleDM(ctx, ev.ChannelID, platform)
	case "reset":
		s.relay.ResetHistories(ctx, ev.ChannelID, platform)
	default:
		slog.Debug("ignoring unknown command", "name", ev.Name)
	}
}

// wsPlatform implements relay.Platform over one bridge connection. Writes
// are serialized: the relay goroutine and command handling can emit frames
// concurrently.
type wsPlatform struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *wsPlatform) send(ctx context.Context, ev event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conn.Write(ctx, websocket.MessageText, data)
}

func (p *wsPlatform) Reply(ctx context.Context, channelID, messageID, text string) error {
	return p.send(ctx, event{Type: "reply", ChannelID: channelID, MessageID: messageID, Text: text})
}

func (p *wsPlatform) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return p.send(ctx, event{Type: "reaction", ChannelID: channelID, MessageID: messageID, Emoji: emoji, Add: true})
}

func (p *wsPlatform) RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return p.send(ctx, event{Type: "reaction", ChannelID: channelID, MessageID: messageID, Emoji: emoji, Add: false})
}

func (p *wsPlatform) SendNotice(ctx context.Context, channelID, text string, autoDelete time.Duration) error {
	return p.send(ctx, event{Type: "notice", ChannelID: channelID, Text: text, AutoDeleteMS: autoDelete.Milliseconds()})
}
