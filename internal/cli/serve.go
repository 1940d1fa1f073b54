package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nettleship/rolecall/internal/backend"
	"github.com/nettleship/rolecall/internal/channels"
	"github.com/nettleship/rolecall/internal/core"
	"github.com/nettleship/rolecall/internal/gateway"
	"github.com/nettleship/rolecall/internal/persona"
	"github.com/nettleship/rolecall/internal/relay"
)

// tokenEnvVar names the environment variable carrying the bridge auth
// token; an empty value leaves the gateway open.
const tokenEnvVar = "ROLECALL_GATEWAY_TOKEN"

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "start the relay gateway",
		RunE:  runServe,
	}

	serveCmd.Flags().String("bind", "", "listen address override")

	return serveCmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if bind, _ := cmd.Flags().GetString("bind"); bind != "" {
		cfg.Bind = bind
	}

	personas, err := persona.Load(cfg.CharactersDir, cfg.Instructions)
	if err != nil {
		return err
	}

	character, err := persona.Select(personas, cfg.Character)
	if err != nil {
		return err
	}

	generationBackend, err := backend.New(cfg.Backend)
	if err != nil {
		return err
	}

	channelStore, err := channels.Open(filepath.Join(cfg.DataDir, "channels.txt"))
	if err != nil {
		return err
	}

	botName := cfg.BotName
	if botName == "" {
		botName = character.Name
	}

	chatRelay := relay.New(relay.Options{
		Persona:       character,
		BotName:       botName,
		TriggerWords:  cfg.TriggerWords,
		StopMarkers:   cfg.StopMarkers,
		ReactionEmoji: cfg.ReactionEmoji,
		AllowDM:       cfg.AllowDM,
		Budget: core.PromptBudget{
			ContextTokens:         cfg.ContextSize,
			ReservedForCompletion: cfg.ReserveTokens,
		},
		Sampling: core.SamplingParams{
			Temperature:       cfg.Sampling.Temperature,
			TopK:              cfg.Sampling.TopK,
			TopP:              cfg.Sampling.TopP,
			RepetitionPenalty: cfg.Sampling.RepetitionPenalty,
			MaxNewTokens:      cfg.Sampling.MaxNewTokens,
		},
	}, generationBackend, channelStore)

	gatewayServer := gateway.New(chatRelay, os.Getenv(tokenEnvVar))

	srv := &http.Server{
		Addr:        cfg.Bind,
		Handler:     gatewayServer.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("relay ready",
		"character", character.Name,
		"backend", generationBackend.Name(),
		"endpoint", cfg.Backend.Endpoint,
		"bind", cfg.Bind,
		"active_channels", len(channelStore.List()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
