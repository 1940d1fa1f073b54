package prompt

import (
	"fmt"
	"strings"

	"github.com/nettleship/rolecall/internal/core"
	"github.com/nettleship/rolecall/internal/history"
	"github.com/nettleship/rolecall/internal/persona"
)

// TokenCounter reports how many tokens the backend's tokenizer assigns to
// a piece of text.
type TokenCounter interface {
	CountTokens(text string) (int, error)
}

// Assembler builds persona-conditioned prompts that stay inside a token
// budget. Trimming is delegated to the history store and is destructive:
// turns dropped to make a prompt fit are gone.
type Assembler struct {
	Counter TokenCounter
}

// Preamble is everything that precedes the conversation: instructions,
// persona description, example dialogue, a separator line, and the
// character's greeting as its first turn.
func Preamble(r persona.Rendered) string {
	return r.Instructions + "\n" +
		r.Name + "'s Persona: " + r.Description + "\n" +
		r.ExampleDialogue + "\n" +
		"And now the roleplay chat between " + r.UserName + " and " + r.Name + " begins:\n" +
		r.Name + ": " + r.Greeting
}

// Build assembles the prompt for the user's current history. When the
// newest turn alone cannot fit next to the preamble it reports fits=false
// and leaves the history untouched; the caller rejects that turn instead
// of silently truncating it. Otherwise older turns are trimmed until the
// rest fits and the prompt ends with the trailing speaker cue "{char}: ".
//
// The guarantee is against per-turn token counts; tokenizers may merge a
// few tokens across concatenation boundaries, so the final string can
// land within a few tokens of the budget rather than exactly under it.
func (a *Assembler) Build(r persona.Rendered, store *history.Store, userID string, budget core.PromptBudget) (string, bool, error) {
	preamble := Preamble(r)
	cue := "\n" + r.Name + ": "

	initial, err := a.Counter.CountTokens(preamble + cue)
	if err != nil {
		return "", false, fmt.Errorf("count preamble tokens: %w", err)
	}

	available := budget.Available()

	turns := store.Turns(userID)
	if len(turns) > 0 {
		newest, err := a.Counter.CountTokens(turns[len(turns)-1].Rendered())
		if err != nil {
			return "", false, fmt.Errorf("count message tokens: %w", err)
		}

		if initial+newest >= available {
			return "", false, nil
		}
	}

	if _, err := store.TrimToFit(userID, a.Counter.CountTokens, available-initial); err != nil {
		return "", false, fmt.Errorf("trim history: %w", err)
	}

	lines := []string{preamble}
	for _, turn := range store.Turns(userID) {
		lines = append(lines, turn.Rendered())
	}
	lines = append(lines, r.Name+": ")

	return strings.Join(lines, "\n"), true, nil
}
