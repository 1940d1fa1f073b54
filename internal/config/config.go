package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// BackendKind selects which generation service the relay talks to.
const (
	BackendKobold    = "kobold"
	BackendOobabooga = "oobabooga"
)

// SamplingConfig holds the default sampling parameters sent with every
// generation request.
type SamplingConfig struct {
	Temperature       float64 `toml:"temperature"`
	TopK              int     `toml:"top_k"`
	TopP              float64 `toml:"top_p"`
	RepetitionPenalty float64 `toml:"repetition_penalty"`
	MaxNewTokens      int     `toml:"max_new_tokens"`
}

// BackendConfig describes the generation service endpoint.
type BackendConfig struct {
	Kind           string `toml:"kind"`
	Endpoint       string `toml:"endpoint"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// HTTPTimeout returns the request timeout as a duration.
func (b BackendConfig) HTTPTimeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

type Config struct {
	Bind          string         `toml:"bind"`
	DataDir       string         `toml:"data_dir"`
	CharactersDir string         `toml:"characters_dir"`
	Character     string         `toml:"character"`
	BotName       string         `toml:"bot_name"`
	Instructions  string         `toml:"instructions"`
	TriggerWords  []string       `toml:"trigger_words"`
	StopMarkers   []string       `toml:"stop_markers"`
	AllowDM       bool           `toml:"allow_dm"`
	ReactionEmoji string         `toml:"reaction_emoji"`
	ContextSize   int            `toml:"context_size"`
	ReserveTokens int            `toml:"reserve_tokens"`
	Backend       BackendConfig  `toml:"backend"`
	Sampling      SamplingConfig `toml:"sampling"`
}

func Default() Config {
	dataDir := defaultDataDir()

	return Config{
		Bind:          ":8750",
		DataDir:       dataDir,
		CharactersDir: filepath.Join(dataDir, "characters"),
		Instructions:  "Write {{char}}'s next reply in a chat between {{user}} and {{char}}. Write a single reply only.",
		TriggerWords:  nil,
		StopMarkers:   []string{"### Instruction:", "### Response:", "system:", "user:", "assistant:"},
		AllowDM:       false,
		ReactionEmoji: "🤔",
		ContextSize:   2048,
		ReserveTokens: 148,
		Backend: BackendConfig{
			Kind:           BackendKobold,
			Endpoint:       "http://127.0.0.1:5001",
			TimeoutSeconds: 300,
		},
		Sampling: SamplingConfig{
			Temperature:       0.59,
			TopK:              0,
			TopP:              1,
			RepetitionPenalty: 1.1,
			MaxNewTokens:      100,
		},
	}
}

// LoadOrCreate reads the config at path, writing the defaults there first
// if no file exists yet.
func LoadOrCreate(path string) (Config, error) {
	config := Default()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return config, err
			}

			configData, err := toml.Marshal(config)
			if err != nil {
				return config, err
			}

			if err := os.WriteFile(path, configData, 0o644); err != nil {
				return config, err
			}

			return config, nil
		}

		return config, err
	}

	configData, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := toml.Unmarshal(configData, &config); err != nil {
		return config, err
	}

	config.DataDir = expandPath(config.DataDir)
	config.CharactersDir = expandPath(config.CharactersDir)
	config.Backend.Endpoint = strings.TrimSpace(config.Backend.Endpoint)
	config.Bind = strings.TrimSpace(config.Bind)

	if config.Backend.Endpoint == "" {
		return config, errors.New("backend endpoint is required")
	}

	switch config.Backend.Kind {
	case BackendKobold, BackendOobabooga:
	default:
		return config, fmt.Errorf("unknown backend kind: %s", config.Backend.Kind)
	}

	if config.Bind == "" {
		config.Bind = ":8750"
	}

	if config.ReserveTokens >= config.ContextSize {
		return config, errors.New("reserve_tokens must be smaller than context_size")
	}

	return config, nil
}

func defaultDataDir() string {
	homeDir, _ := os.UserHomeDir()

	if homeDir == "" {
		return ".rolecall"
	}

	return filepath.Join(homeDir, ".rolecall")
}

func expandPath(path string) string {
	if path == "" {
		return ""
	}

	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()

		if homeDir != "" {
			trimmed := strings.TrimPrefix(path, "~")
			trimmed = strings.TrimPrefix(trimmed, string(os.PathSeparator))

			return filepath.Join(homeDir, trimmed)
		}
	}

	return path
}
