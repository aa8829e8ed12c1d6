// flealived runs a marketplace chat session: it keeps the push socket
// alive, answers customers through the configured model, and steps aside
// when the operator takes a conversation over. All configuration comes
// from FLEALIVE_* environment variables.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flealive/flealive"
	"github.com/flealive/flealive/api"
	"github.com/flealive/flealive/notify"
	"github.com/flealive/flealive/reply"
	"github.com/flealive/flealive/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "flealived",
		Short:         "Marketplace chat session daemon",
		Long:          "flealived maintains a long-lived session against the marketplace push gateway, auto-replies to customer messages, and yields conversations claimed by a human operator.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(newViper())
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)
			return run(cmd.Context(), cfg)
		},
	}
	rootCmd.AddCommand(newExportCmd())
	return rootCmd
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func run(ctx context.Context, cfg daemonConfig) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	market := api.NewClient(cfg.APIBase, cfg.Session.AppKey, cfg.Session.Cookie)
	engine := reply.NewOpenAI(reply.OpenAIConfig{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIKey,
		Model:   cfg.OpenAIModel,
		Prompt:  cfg.OpenAIPrompt,
	})

	client, err := flealive.New(cfg.Session, flealive.Collaborators{
		Tokens:   market,
		Items:    market,
		Store:    st,
		Engine:   engine,
		Notifier: notify.NewWebhook(cfg.WebhookURL),
	})
	if err != nil {
		return err
	}

	slog.Info("flealived starting", "endpoint", cfg.Session.Endpoint, "db", cfg.DBPath)
	if err := client.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("flealived stopped")
	return nil
}
