package prompt

import (
	"strings"
	"testing"

	"github.com/nettleship/rolecall/internal/core"
	"github.com/nettleship/rolecall/internal/history"
	"github.com/nettleship/rolecall/internal/persona"
)

// wordCounter charges one token per whitespace-separated field.
type wordCounter struct{}

func (wordCounter) CountTokens(text string) (int, error) {
	return len(strings.Fields(text)), nil
}

func testPersona() persona.Rendered {
	p := persona.Persona{
		Name:         "Aria",
		Description:  "a wandering bard",
		Greeting:     "Hello!",
		Instructions: "Stay in character.",
	}
	return p.Render("Sam")
}

func TestBuild_PromptEndsWithSpeakerCue(t *testing.T) {
	a := &Assembler{Counter: wordCounter{}}
	store := history.NewStore()
	store.Append("u1", core.Turn{Speaker: "Sam", Text: "hi"})

	prompt, fits, err := a.Build(testPersona(), store, "u1", core.PromptBudget{ContextTokens: 500, ReservedForCompletion: 100})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !fits {
		t.Fatal("expected prompt to fit")
	}

	if !strings.HasSuffix(prompt, "Aria: ") {
		t.Errorf("prompt should end with the speaker cue, got %q", prompt[len(prompt)-20:])
	}

	if !strings.Contains(prompt, "Sam: hi") {
		t.Error("prompt should contain the user's turn")
	}
}

func TestBuild_PreambleComesFirst(t *testing.T) {
	a := &Assembler{Counter: wordCounter{}}
	store := history.NewStore()
	store.Append("u1", core.Turn{Speaker: "Sam", Text: "hi"})

	prompt, _, err := a.Build(testPersona(), store, "u1", core.PromptBudget{ContextTokens: 500, ReservedForCompletion: 100})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !strings.HasPrefix(prompt, "Stay in character.\nAria's Persona: a wandering bard\n") {
		t.Errorf("unexpected prompt head: %q", prompt[:60])
	}

	if !strings.Contains(prompt, "And now the roleplay chat between Sam and Aria begins:\nAria: Hello!") {
		t.Error("prompt should contain the separator line and greeting")
	}
}

func TestBuild_OversizedNewestTurnDoesNotFit(t *testing.T) {
	a := &Assembler{Counter: wordCounter{}}
	store := history.NewStore()
	store.Append("u1", core.Turn{Speaker: "Sam", Text: strings.Repeat("word ", 100)})

	_, fits, err := a.Build(testPersona(), store, "u1", core.PromptBudget{ContextTokens: 60, ReservedForCompletion: 10})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if fits {
		t.Error("expected fits=false for an oversized newest turn")
	}

	if store.Len("u1") != 1 {
		t.Errorf("fits=false must not mutate history, got %d turns", store.Len("u1"))
	}
}

func TestBuild_TrimsOlderTurnsToFit(t *testing.T) {
	a := &Assembler{Counter: wordCounter{}}
	store := history.NewStore()
	for i := 0; i < 30; i++ {
		store.Append("u1", core.Turn{Speaker: "Sam", Text: "some words here"})
	}

	budget := core.PromptBudget{ContextTokens: 80, ReservedForCompletion: 20}
	prompt, fits, err := a.Build(testPersona(), store, "u1", budget)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !fits {
		t.Fatal("expected prompt to fit after trimming")
	}

	if store.Len("u1") >= 30 {
		t.Error("expected older turns to be trimmed away")
	}

	n, _ := wordCounter{}.CountTokens(prompt)
	if n > budget.Available() {
		t.Errorf("prompt counts %d tokens, budget is %d", n, budget.Available())
	}
}

func TestBuild_EmptyHistoryStillRendersPrompt(t *testing.T) {
	a := &Assembler{Counter: wordCounter{}}
	store := history.NewStore()

	prompt, fits, err := a.Build(testPersona(), store, "u1", core.PromptBudget{ContextTokens: 500, ReservedForCompletion: 100})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !fits {
		t.Fatal("expected empty-context prompt to fit")
	}

	if !strings.HasSuffix(prompt, "Aria: ") {
		t.Error("empty-context prompt should still end with the speaker cue")
	}
}
