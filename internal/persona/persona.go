package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Persona is a character definition loaded from a card file. Template
// fields may contain the {{user}} and {{char}} placeholders; the stored
// strings are never mutated, placeholders resolve per render.
type Persona struct {
	Name            string
	Description     string
	ExampleDialogue string
	Greeting        string
	Instructions    string
}

// Rendered is a persona with placeholders resolved for one user.
type Rendered struct {
	Name            string
	UserName        string
	Description     string
	ExampleDialogue string
	Greeting        string
	Instructions    string
}

// card is the SillyTavern character card layout on disk.
type card struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	ExampleDialogue string `json:"mes_example"`
	Greeting        string `json:"first_mes"`
}

// Load reads every *.json character card in dir. The instructions template
// is shared across cards; it comes from configuration, not the card file.
func Load(dir string, instructions string) ([]Persona, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read characters directory: %w", err)
	}

	var personas []Persona

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read character card: %w", err)
		}

		var c card
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse character card %s: %w", entry.Name(), err)
		}

		if c.Name == "" {
			return nil, fmt.Errorf("character card %s has no name", entry.Name())
		}

		personas = append(personas, Persona{
			Name:            c.Name,
			Description:     c.Description,
			ExampleDialogue: c.ExampleDialogue,
			Greeting:        c.Greeting,
			Instructions:    instructions,
		})
	}

	if len(personas) == 0 {
		return nil, fmt.Errorf("no character cards found in %s", dir)
	}

	return personas, nil
}

// Select returns the persona with the given name, or the only loaded
// persona when name is empty.
func Select(personas []Persona, name string) (Persona, error) {
	if name == "" {
		if len(personas) == 1 {
			return personas[0], nil
		}
		return Persona{}, fmt.Errorf("%d characters loaded, pick one with the character setting", len(personas))
	}

	for _, p := range personas {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}

	return Persona{}, fmt.Errorf("character not found: %s", name)
}

// Render resolves {{user}} and {{char}} in every template field in a
// single pass; replacement values are not re-scanned for placeholders.
// A user name that itself contains placeholder syntax passes through
// literally, unescaped.
func (p Persona) Render(userName string) Rendered {
	sub := strings.NewReplacer("{{user}}", userName, "{{char}}", p.Name)

	example := sub.Replace(p.ExampleDialogue)
	example = strings.ReplaceAll(example, "<START>", "This is how "+p.Name+" should speak:")

	return Rendered{
		Name:            p.Name,
		UserName:        userName,
		Description:     sub.Replace(p.Description),
		ExampleDialogue: example,
		Greeting:        sub.Replace(p.Greeting),
		Instructions:    sub.Replace(p.Instructions),
	}
}
