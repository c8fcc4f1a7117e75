package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blockedby/memesite/internal/api"
	"github.com/blockedby/memesite/internal/broadcast"
	"github.com/blockedby/memesite/internal/config"
	"github.com/blockedby/memesite/internal/database"
	"github.com/blockedby/memesite/internal/events"
	"github.com/blockedby/memesite/internal/logger"
	"github.com/blockedby/memesite/internal/nats"
	"github.com/blockedby/memesite/internal/repository"
	"github.com/blockedby/memesite/internal/telegram"
	"github.com/blockedby/memesite/internal/tgauth"
	"github.com/blockedby/memesite/internal/web"
	"github.com/blockedby/memesite/internal/web/handlers"
)

var version = "dev"

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 2. Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Str("version", version).Msg("starting telegram broadcast service")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// 3. Setup context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 4. Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	sessions := repository.NewSessionStore(db.GORM, log)
	if database.IsSQLite(cfg.DatabaseURL) {
		if err := sessions.AutoMigrate(); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate sqlite schema")
		}
	}

	// api tokens and plans live in postgres only
	var (
		users    handlers.TokenResolver
		apiUsers api.TokenResolver
		plans    broadcast.PlanChecker
	)
	if db.Pool != nil {
		usersRepo := repository.NewUsersRepository(db.Pool, log)
		users, apiUsers, plans = usersRepo, usersRepo, usersRepo
	} else {
		log.Warn().Msg("no postgres pool, bearer-authenticated endpoints will reject every request")
	}

	// 5. Connect to NATS
	var pub events.Publisher = events.Nop{}
	nc, err := nats.New(ctx, cfg.NatsURL)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
	} else {
		defer nc.Close()
		if err := nc.EnsureStream(ctx, events.StreamName, events.StreamSubjects); err != nil {
			log.Warn().Err(err).Msg("failed to ensure event stream")
		}
		pub = events.NewNATSPublisher(nc)
	}

	// 6. Broadcast lock (redis when configured)
	var locker broadcast.Locker = broadcast.NewMemoryLocker()
	if cfg.RedisURL != "" {
		rl, err := broadcast.NewRedisLocker(cfg.RedisURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid redis url")
		}
		if err := rl.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, using in-process broadcast lock")
			_ = rl.Close()
		} else {
			defer rl.Close()
			locker = rl
		}
	}

	// 7. Telegram and domain services
	dialer := telegram.NewGotdDialer(cfg)
	limiter := telegram.NewRateLimiter(cfg.TGSendRPS, 1)
	sender := broadcast.NewTelegramSender(dialer, limiter, log)
	authenticator := tgauth.New(dialer, sessions, pub, log)

	hub := web.NewHub()
	go hub.Run()

	engine := broadcast.NewEngine(sessions, plans, sender, broadcast.LimitsFromConfig(cfg), log)
	broadcasts := broadcast.NewManager(engine, locker, pub, hub, log)

	// 8. HTTP: chi for the login flow and websocket, fuego for the documented API
	server := web.NewServer(&web.Config{Port: cfg.HTTPPort, Version: version}, hub, users)
	server.RegisterTelegramHandler(handlers.NewTelegramHandler(authenticator, sender, sessions, users, log))

	apiServer := api.NewServer(&api.Config{
		Title:       "memesite API",
		Description: "Linked Telegram accounts and group broadcasts",
		Version:     version,
		DocsTheme:   cfg.DocsTheme,
	}, &api.Dependencies{
		Sessions:   sessions,
		Users:      apiUsers,
		Broadcasts: broadcasts,
		Events:     pub,
	})
	server.Mount("/api/v1", apiServer.Mux())
	apiServer.MountDocsOn(server.Router())

	// 9. Start server
	log.Info().Int("port", cfg.HTTPPort).Msg("starting web server")
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	// 10. Wait for shutdown
	<-ctx.Done()
	log.Info().Msg("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := broadcasts.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("broadcasts still running at shutdown")
	}

	log.Info().Msg("shutdown complete")
}
