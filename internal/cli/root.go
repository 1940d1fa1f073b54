package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nettleship/rolecall/internal/config"
)

// NewRootCommand builds the rolecall CLI.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "rolecall",
		Short:         "persona chat relay",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCharactersCmd())

	return rootCmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	if configPath == "" {
		configPath = filepath.Join(config.Default().DataDir, "config.toml")
	}

	return config.LoadOrCreate(configPath)
}
