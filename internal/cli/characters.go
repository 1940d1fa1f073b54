package cli

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/nettleship/rolecall/internal/persona"
)

func newCharactersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "characters",
		Short: "list loaded character cards",
		RunE:  runCharacters,
	}
}

func runCharacters(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	personas, err := persona.Load(cfg.CharactersDir, cfg.Instructions)
	if err != nil {
		fmt.Println(styleError.Render("no characters found in " + cfg.CharactersDir))
		return err
	}

	for _, p := range personas {
		marker := "  "
		if strings.EqualFold(p.Name, cfg.Character) || (cfg.Character == "" && len(personas) == 1) {
			marker = styleSuccess.Render("* ")
		}

		fmt.Println(marker + styleName.Render(p.Name) + " " + styleDim.Render(preview(p.Greeting, 60)))
	}

	return nil
}

func preview(text string, limit int) string {
	text = strings.ReplaceAll(text, "\n", " ")

	if utf8.RuneCountInString(text) <= limit {
		return text
	}

	runes := []rune(text)
	return string(runes[:limit]) + "…"
}
