package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentuity/go-common/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lanternbbs/lantern/internal/api"
	"github.com/lanternbbs/lantern/internal/assist"
	"github.com/lanternbbs/lantern/internal/auth"
	"github.com/lanternbbs/lantern/internal/config"
	"github.com/lanternbbs/lantern/internal/connection"
	"github.com/lanternbbs/lantern/internal/dispatch"
	"github.com/lanternbbs/lantern/internal/domain"
	"github.com/lanternbbs/lantern/internal/door"
	"github.com/lanternbbs/lantern/internal/notify"
	"github.com/lanternbbs/lantern/internal/session"
	"github.com/lanternbbs/lantern/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:   "lanternd",
		Short: "lantern BBS daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return serve(configPath)
		},
	}
	root.Flags().String("config", "lantern.yaml", "path to the config file")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(configPath string) error {
	log := logger.NewConsoleLogger(logger.GetLevelFromEnv())

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		// Tokens from previous runs die with the process; fine for dev,
		// set auth.jwt_secret for anything real.
		cfg.Auth.JWTSecret = uuid.New().String()
		log.Warn("auth.jwt_secret not set; using an ephemeral secret")
	}

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	users := storage.NewUserRepo(db)
	messages := storage.NewMessageRepo(db)
	doorRows := storage.NewDoorSessionRepo(db)

	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Std())
	conns := connection.NewManager(log)
	notifier := notify.NewService(log, cfg.Notify.MaxSubscriptions)
	sessions := session.NewManager(log, session.Config{
		IdleTimeout:   cfg.Session.IdleTimeout.Std(),
		SweepInterval: cfg.Session.SweepInterval.Std(),
	})
	doors := door.NewService(log, sessions, conns, doorRows, notifier, door.NewHiLo(), door.NewOracle())
	sessions.SetTimeoutExiter(doors)

	oneliner := assist.NewService(log, assist.Config{APIKey: cfg.Assist.APIKey, Model: cfg.Assist.Model})
	dispatcher := dispatch.NewDispatcher(log, sessions,
		dispatch.NewAuthHandler(log, sessions, users, notifier),
		dispatch.NewDoorHandler(log, doors),
		dispatch.NewMenuHandler(log, sessions, doors, messages, notifier, oneliner),
	)

	handler := api.NewHandler(log, tokens, users, messages, doors, sessions, conns, notifier, dispatcher)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	handler.Mount(router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sessions.StartSweep(ctx)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening on %s", cfg.Server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	notifier.Broadcast(domain.NewEvent(domain.EventSystemAnnouncement, map[string]any{
		"text": "The board is going down for maintenance.",
	}))
	conns.CloseAll("The board is going down. Call back soon!\r\n", cfg.Server.ShutdownGrace.Std())
	sessions.StopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
