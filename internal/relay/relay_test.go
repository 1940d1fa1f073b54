package relay

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nettleship/rolecall/internal/channels"
	"github.com/nettleship/rolecall/internal/core"
	"github.com/nettleship/rolecall/internal/persona"
)

// fakeBackend scripts one completion (or error) and counts a token per
// whitespace-separated field.
type fakeBackend struct {
	completion string
	err        error
	requests   []core.GenerationRequest
}

func (f *fakeBackend) Name() string {
	return "fake"
}

func (f *fakeBackend) Generate(_ context.Context, req core.GenerationRequest) (string, error) {
	f.requests = append(f.requests, req)

	if f.err != nil {
		return "", f.err
	}

	return f.completion, nil
}

func (f *fakeBackend) CountTokens(text string) (int, error) {
	return len(strings.Fields(text)), nil
}

type fakePlatform struct {
	replies   []string
	reactions []string
	notices   []string
}

func (f *fakePlatform) Reply(_ context.Context, _, _, text string) error {
	f.replies = append(f.replies, text)
	return nil
}

func (f *fakePlatform) AddReaction(_ context.Context, _, _, emoji string) error {
	f.reactions = append(f.reactions, "+"+emoji)
	return nil
}

func (f *fakePlatform) RemoveReaction(_ context.Context, _, _, emoji string) error {
	f.reactions = append(f.reactions, "-"+emoji)
	return nil
}

func (f *fakePlatform) SendNotice(_ context.Context, _, text string, _ time.Duration) error {
	f.notices = append(f.notices, text)
	return nil
}

func newTestRelay(t *testing.T, b *fakeBackend) *Relay {
	t.Helper()

	ch, err := channels.Open(filepath.Join(t.TempDir(), "channels.txt"))
	if err != nil {
		t.Fatalf("open channels: %v", err)
	}

	opts := Options{
		Persona: persona.Persona{
			Name:         "Aria",
			Description:  "a wandering bard",
			Greeting:     "Hello!",
			Instructions: "Stay in character.",
		},
		BotName:       "rolecall",
		TriggerWords:  []string{"bard"},
		StopMarkers:   []string{"### Instruction:"},
		ReactionEmoji: "🤔",
		Budget:        core.PromptBudget{ContextTokens: 600, ReservedForCompletion: 100},
		Sampling:      core.SamplingParams{Temperature: 0.59, MaxNewTokens: 100},
	}

	return New(opts, b, ch)
}

func message(text string) core.InboundMessage {
	return core.InboundMessage{
		AuthorID:    "u1",
		AuthorName:  "Sam",
		ChannelID:   "c1",
		MessageID:   "m1",
		Text:        text,
		MentionsBot: true,
	}
}

func TestShouldEngage(t *testing.T) {
	r := newTestRelay(t, &fakeBackend{})

	cases := []struct {
		name string
		msg  core.InboundMessage
		want bool
	}{
		{"bot author ignored", core.InboundMessage{IsBot: true, MentionsBot: true}, false},
		{"reply to another user ignored", core.InboundMessage{IsReply: true, MentionsBot: true, Text: "aria?"}, false},
		{"mention engages", core.InboundMessage{MentionsBot: true}, true},
		{"reply to bot engages", core.InboundMessage{IsReply: true, IsReplyToBot: true}, true},
		{"trigger word engages", core.InboundMessage{Text: "any bard around"}, true},
		{"persona name engages case-insensitively", core.InboundMessage{Text: "hey ARIA, you there?"}, true},
		{"bot name engages", core.InboundMessage{Text: "rolecall wake up"}, true},
		{"plain message ignored", core.InboundMessage{Text: "nothing relevant"}, false},
		{"dm ignored while DMs off", core.InboundMessage{IsDM: true, Text: "hello"}, false},
	}

	for _, tc := range cases {
		if got := r.ShouldEngage(tc.msg); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestShouldEngage_ActiveChannel(t *testing.T) {
	r := newTestRelay(t, &fakeBackend{})
	p := &fakePlatform{}

	if _, err := r.ToggleChannel(context.Background(), "c9", p); err != nil {
		t.Fatalf("ToggleChannel failed: %v", err)
	}

	if !r.ShouldEngage(core.InboundMessage{ChannelID: "c9", Text: "anything"}) {
		t.Error("messages on an active channel should engage")
	}
}

func TestHandleMessage_Success(t *testing.T) {
	b := &fakeBackend{completion: "Well met, traveler. Sam: hi again"}
	r := newTestRelay(t, b)
	p := &fakePlatform{}

	r.HandleMessage(context.Background(), message("hi"), p)

	if len(p.replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(p.replies))
	}

	if p.replies[0] != "Well met, traveler." {
		t.Errorf("unexpected reply: %q", p.replies[0])
	}

	turns := r.history.Turns("u1")
	if len(turns) != 2 {
		t.Fatalf("expected user + character turns, got %d", len(turns))
	}

	if turns[0].Speaker != "Sam" || turns[0].Text != "hi" {
		t.Errorf("unexpected user turn: %+v", turns[0])
	}

	if turns[1].Speaker != "Aria" || turns[1].Text != "Well met, traveler." {
		t.Errorf("unexpected character turn: %+v", turns[1])
	}

	if len(b.requests) != 1 {
		t.Fatalf("expected 1 generation request, got %d", len(b.requests))
	}

	if !strings.HasSuffix(b.requests[0].Prompt, "Aria: ") {
		t.Error("prompt should end with the speaker cue")
	}

	if r.Busy() {
		t.Error("guard should be idle after handling")
	}
}

func TestHandleMessage_ReactionLifecycle(t *testing.T) {
	b := &fakeBackend{completion: "Well met, traveler."}
	r := newTestRelay(t, b)
	p := &fakePlatform{}

	r.HandleMessage(context.Background(), message("hi"), p)

	if len(p.reactions) != 2 || p.reactions[0] != "+🤔" || p.reactions[1] != "-🤔" {
		t.Errorf("unexpected reaction sequence: %v", p.reactions)
	}
}

func TestHandleMessage_BusyDropsWithoutMutation(t *testing.T) {
	b := &fakeBackend{completion: "Well met, traveler."}
	r := newTestRelay(t, b)
	p := &fakePlatform{}

	if !r.guard.TryAcquire() {
		t.Fatal("failed to seize guard")
	}

	msg := message("hi")
	msg.AuthorID = "u2"
	msg.AuthorName = "Pat"
	r.HandleMessage(context.Background(), msg, p)

	if len(p.replies) != 0 {
		t.Errorf("busy relay must not reply, got %v", p.replies)
	}

	if r.history.Len("u2") != 0 {
		t.Errorf("busy relay must not touch history, got %d turns", r.history.Len("u2"))
	}

	r.guard.Release()
}

func TestHandleMessage_GenerationFailurePopsTurn(t *testing.T) {
	b := &fakeBackend{err: errors.New("connection refused")}
	r := newTestRelay(t, b)
	p := &fakePlatform{}

	r.HandleMessage(context.Background(), message("hi"), p)

	if r.history.Len("u1") != 0 {
		t.Errorf("failed generation must pop the user turn, got %d turns", r.history.Len("u1"))
	}

	if len(p.replies) != 1 || p.replies[0] != apologyGeneric {
		t.Errorf("expected generic apology, got %v", p.replies)
	}

	if r.Busy() {
		t.Error("guard must be released after a failure")
	}
}

func TestHandleMessage_RejectedResponsePopsTurn(t *testing.T) {
	// The model answers only as the user; the sanitizer rejects it.
	b := &fakeBackend{completion: "Sam: that's not right"}
	r := newTestRelay(t, b)
	p := &fakePlatform{}

	r.HandleMessage(context.Background(), message("hi"), p)

	if r.history.Len("u1") != 0 {
		t.Errorf("rejected response must pop the user turn, got %d turns", r.history.Len("u1"))
	}

	if len(p.replies) != 1 || !strings.HasPrefix(p.replies[0], "Sorry, I didn't get that") {
		t.Errorf("expected the sanitizer apology, got %v", p.replies)
	}
}

func TestHandleMessage_OversizedMessagePopsTurn(t *testing.T) {
	b := &fakeBackend{completion: "Well met, traveler."}
	r := newTestRelay(t, b)
	p := &fakePlatform{}

	r.HandleMessage(context.Background(), message(strings.Repeat("word ", 600)), p)

	if r.history.Len("u1") != 0 {
		t.Errorf("oversized message must be popped, got %d turns", r.history.Len("u1"))
	}

	if len(b.requests) != 0 {
		t.Error("no generation request should be sent for an oversized message")
	}

	if len(p.replies) != 1 || p.replies[0] != apologyGeneric {
		t.Errorf("expected apology, got %v", p.replies)
	}
}

func TestHandleMessage_NormalizesEmoteMarkup(t *testing.T) {
	b := &fakeBackend{completion: "Well met, traveler."}
	r := newTestRelay(t, b)
	p := &fakePlatform{}

	r.HandleMessage(context.Background(), message("hello <a:wave:123456> there"), p)

	turns := r.history.Turns("u1")
	if len(turns) == 0 || turns[0].Text != "hello :wave: there" {
		t.Errorf("emote markup not normalized: %+v", turns)
	}
}

func TestToggleDM(t *testing.T) {
	r := newTestRelay(t, &fakeBackend{})
	p := &fakePlatform{}

	dm := core.InboundMessage{AuthorID: "u1", AuthorName: "Sam", IsDM: true, Text: "hello"}
	if r.ShouldEngage(dm) {
		t.Fatal("DMs should be off by default")
	}

	if !r.ToggleDM(context.Background(), "c1", p) {
		t.Fatal("expected DMs to turn on")
	}

	if !r.ShouldEngage(dm) {
		t.Error("DMs should engage after toggle")
	}

	if len(p.notices) != 1 || p.notices[0] != "DMs are now on." {
		t.Errorf("unexpected notices: %v", p.notices)
	}
}

func TestResetHistories(t *testing.T) {
	b := &fakeBackend{completion: "Well met, traveler."}
	r := newTestRelay(t, b)
	p := &fakePlatform{}

	r.HandleMessage(context.Background(), message("hi"), p)
	if r.history.Len("u1") == 0 {
		t.Fatal("expected history before reset")
	}

	r.ResetHistories(context.Background(), "c1", p)

	if r.history.Len("u1") != 0 {
		t.Error("expected history cleared after reset")
	}
}
