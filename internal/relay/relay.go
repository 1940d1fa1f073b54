// Package relay wires the conversation pipeline together: engagement
// gating, history bookkeeping, prompt assembly, generation, and response
// sanitation.
package relay

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nettleship/rolecall/internal/backend"
	"github.com/nettleship/rolecall/internal/channels"
	"github.com/nettleship/rolecall/internal/core"
	"github.com/nettleship/rolecall/internal/history"
	"github.com/nettleship/rolecall/internal/persona"
	"github.com/nettleship/rolecall/internal/prompt"
	"github.com/nettleship/rolecall/internal/sanitize"
)

// apologyGeneric covers generation transport failures and oversized
// messages; the user can simply try again.
const apologyGeneric = "Sorry, something didn't work right."

// noticeTTL is how long admin confirmations stay visible.
const noticeTTL = 3 * time.Second

// Platform is the outbound side of the messaging platform, implemented
// by the gateway per bridge connection.
type Platform interface {
	Reply(ctx context.Context, channelID, messageID, text string) error
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error
	SendNotice(ctx context.Context, channelID, text string, autoDelete time.Duration) error
}

// Options is the static relay configuration, fixed at startup.
type Options struct {
	Persona       persona.Persona
	BotName       string
	TriggerWords  []string
	StopMarkers   []string
	ReactionEmoji string
	AllowDM       bool
	Budget        core.PromptBudget
	Sampling      core.SamplingParams
}

type Relay struct {
	opts      Options
	backend   backend.Backend
	history   *history.Store
	channels  *channels.Store
	assembler *prompt.Assembler
	guard     Guard
	allowDM   atomic.Bool
}

func New(opts Options, b backend.Backend, ch *channels.Store) *Relay {
	r := &Relay{
		opts:      opts,
		backend:   b,
		history:   history.NewStore(),
		channels:  ch,
		assembler: &prompt.Assembler{Counter: b},
	}
	r.allowDM.Store(opts.AllowDM)

	return r
}

// emotePattern matches platform custom-emote markup like <:wave:123456>
// and animated variants; rendering keeps just the :name: part.
var emotePattern = regexp.MustCompile(`<a?:(\w+):\d+>`)

func normalizeText(text string) string {
	return emotePattern.ReplaceAllString(text, ":$1:")
}

// ShouldEngage decides whether an inbound message provokes a response.
// Bot-authored messages and replies aimed at other users never engage.
func (r *Relay) ShouldEngage(msg core.InboundMessage) bool {
	if msg.IsBot {
		return false
	}

	if msg.IsReply && !msg.IsReplyToBot {
		return false
	}

	if r.channels.Contains(msg.ChannelID) {
		return true
	}

	if r.allowDM.Load() && msg.IsDM {
		return true
	}

	for _, word := range r.opts.TriggerWords {
		if word != "" && strings.Contains(msg.Text, word) {
			return true
		}
	}

	if msg.MentionsBot || msg.IsReplyToBot {
		return true
	}

	lower := strings.ToLower(msg.Text)
	if r.opts.BotName != "" && strings.Contains(lower, strings.ToLower(r.opts.BotName)) {
		return true
	}

	return strings.Contains(lower, strings.ToLower(r.opts.Persona.Name))
}

// HandleMessage runs one message through the full pipeline. Every failure
// is recovered here: the freshly appended user turn is popped so it can be
// retried cleanly, an apology goes out, and the guard is always released.
func (r *Relay) HandleMessage(ctx context.Context, msg core.InboundMessage, p Platform) {
	if !r.ShouldEngage(msg) {
		return
	}

	if !r.guard.TryAcquire() {
		slog.Debug("generation in flight, dropping message", "author", msg.AuthorID, "channel", msg.ChannelID)
		return
	}
	defer r.guard.Release()

	slog.Info("generating response", "author", msg.AuthorName, "channel", msg.ChannelID, "backend", r.backend.Name())

	if r.opts.ReactionEmoji != "" {
		if err := p.AddReaction(ctx, msg.ChannelID, msg.MessageID, r.opts.ReactionEmoji); err != nil {
			slog.Debug("failed to add reaction", "error", err)
		}
		defer func() {
			if err := p.RemoveReaction(ctx, msg.ChannelID, msg.MessageID, r.opts.ReactionEmoji); err != nil {
				slog.Debug("failed to remove reaction", "error", err)
			}
		}()
	}

	r.history.Append(msg.AuthorID, core.Turn{Speaker: msg.AuthorName, Text: normalizeText(msg.Text)})

	rendered := r.opts.Persona.Render(msg.AuthorName)

	promptText, fits, err := r.assembler.Build(rendered, r.history, msg.AuthorID, r.opts.Budget)
	if err != nil {
		slog.Error("prompt assembly failed", "error", err)
		r.recover(ctx, msg, p, apologyGeneric)
		return
	}

	if !fits {
		slog.Warn("message alone exceeds prompt budget", "author", msg.AuthorName, "error", core.ErrPromptTooLarge)
		r.recover(ctx, msg, p, apologyGeneric)
		return
	}

	raw, err := r.backend.Generate(ctx, core.GenerationRequest{
		Prompt:        promptText,
		ContextSize:   r.opts.Budget.ContextTokens,
		Sampling:      r.opts.Sampling,
		StopSequences: r.stopSequences(msg.AuthorName),
	})
	if err != nil {
		slog.Error("generation failed", "backend", r.backend.Name(), "error", err)
		r.recover(ctx, msg, p, apologyGeneric)
		return
	}

	cleaned, ok := sanitize.Clean(raw, msg.AuthorName, rendered.Name, r.opts.StopMarkers)
	if !ok {
		slog.Warn("response rejected by sanitizer", "author", msg.AuthorName)
		r.recover(ctx, msg, p, sanitize.Apology)
		return
	}

	r.history.Append(msg.AuthorID, core.Turn{Speaker: rendered.Name, Text: cleaned})

	if err := p.Reply(ctx, msg.ChannelID, msg.MessageID, cleaned); err != nil {
		slog.Error("failed to deliver reply", "error", err)
	}

	slog.Info("response complete", "author", msg.AuthorName)
}

// recover pops the just-appended user turn and sends an apology, leaving
// the history exactly as it was before the message arrived.
func (r *Relay) recover(ctx context.Context, msg core.InboundMessage, p Platform, apology string) {
	if err := r.history.PopLast(msg.AuthorID); err != nil {
		slog.Error("failed to pop user turn", "error", err)
	}

	if err := p.Reply(ctx, msg.ChannelID, msg.MessageID, apology); err != nil {
		slog.Error("failed to deliver apology", "error", err)
	}
}

// stopSequences tells the backend where a completion should end: the user
// speaking again, the character restating its label, or any configured
// separator marker.
func (r *Relay) stopSequences(userName string) []string {
	stops := []string{userName + ":", "\n" + r.opts.Persona.Name + ":"}
	stops = append(stops, r.opts.StopMarkers...)

	return stops
}

// ToggleChannel flips the channel's allow-list membership and reports the
// new state.
func (r *Relay) ToggleChannel(ctx context.Context, channelID string, p Platform) (bool, error) {
	active, err := r.channels.Toggle(channelID)
	if err != nil {
		return active, err
	}

	notice := "Channel disabled."
	if active {
		notice = "Channel enabled."
	}

	if err := p.SendNotice(ctx, channelID, notice, noticeTTL); err != nil {
		slog.Debug("failed to send notice", "error", err)
	}

	return active, nil
}

// ToggleDM flips whether direct messages engage the relay.
func (r *Relay) ToggleDM(ctx context.Context, channelID string, p Platform) bool {
	allowed := !r.allowDM.Load()
	r.allowDM.Store(allowed)

	notice := "DMs are now off."
	if allowed {
		notice = "DMs are now on."
	}

	if err := p.SendNotice(ctx, channelID, notice, noticeTTL); err != nil {
		slog.Debug("failed to send notice", "error", err)
	}

	return allowed
}

// ResetHistories clears every user's conversation wholesale.
func (r *Relay) ResetHistories(ctx context.Context, channelID string, p Platform) {
	r.history.Reset()

	if err := p.SendNotice(ctx, channelID, "Message history reset.", noticeTTL); err != nil {
		slog.Debug("failed to send notice", "error", err)
	}
}

// Busy reports whether a generation is currently in flight.
func (r *Relay) Busy() bool {
	return r.guard.Busy()
}
