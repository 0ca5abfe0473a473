package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/vthunder/charbot/internal/config"
	"github.com/vthunder/charbot/internal/discord"
	"github.com/vthunder/charbot/internal/engine"
	"github.com/vthunder/charbot/internal/identity"
	"github.com/vthunder/charbot/internal/logging"
	"github.com/vthunder/charbot/internal/metrics"
	"github.com/vthunder/charbot/internal/persona"
	"github.com/vthunder/charbot/internal/prompt"
	"github.com/vthunder/charbot/internal/session"
	"github.com/vthunder/charbot/internal/textgen"
)

func NewCharbotCommand() *cobra.Command {
	f := config.NewFlags()

	cmd := &cobra.Command{
		Use:          "charbot",
		Short:        "Charbot lets Discord channels invite text-generation characters.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.Configure(f.LogLevel, f.LogFormat); err != nil {
				return pkgerrors.WithMessage(err, "cannot parse log-level")
			}
			cfg, err := f.GetConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	catalog, err := persona.LoadDir(cfg.CharactersDir)
	if err != nil {
		return err
	}
	if catalog.Len() == 0 {
		logging.Warn("main", "No characters loaded from %s", cfg.CharactersDir)
	}

	renderer := prompt.NewFileRenderer(cfg.TemplatePath)
	if err := renderer.Check(); err != nil {
		return err
	}

	dg, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		return err
	}
	identities := identity.NewManager(dg, cfg.WebhookName)

	client := textgen.NewClient(cfg.Textgen())
	eng := engine.New(engine.Deps{
		Catalog:    catalog,
		Registry:   session.NewRegistry(),
		Renderer:   renderer,
		Generator:  client,
		Identities: identities,
		Typer:      dg,
	}, engine.Config{
		History:       cfg.History.Options(),
		FallbackReply: cfg.FallbackReply,
	})

	// No channel may be served before the backend has answered once.
	checkCtx, cancel := context.WithTimeout(ctx, client.Timeout())
	model, err := eng.CheckBackend(checkCtx)
	cancel()
	if err != nil {
		return pkgerrors.WithMessage(err, "textgen backend check failed")
	}
	logging.Info("main", "Backend ready with model %s", model)

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	gw := discord.NewGateway(ctx, dg, eng, identities, discord.Config{
		Workers: cfg.Workers,
		Status:  model,
	})
	if err := gw.Start(); err != nil {
		return err
	}
	logging.Info("main", "Serving %d characters. Press Ctrl+C to stop.", catalog.Len())

	<-ctx.Done()
	logging.Info("main", "Shutting down...")
	return gw.Stop()
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("main", err, "Metrics server on %s stopped", addr)
		}
	}()
	logging.Info("main", "Serving metrics on %s", addr)
	return srv
}

func main() {
	// Optional; the environment alone is enough.
	if err := godotenv.Load(); err == nil {
		logging.Info("config", "Loaded .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewCharbotCommand().ExecuteContext(ctx); err != nil {
		logging.For("main").WithError(err).Fatal("could not execute root command")
	}
}
