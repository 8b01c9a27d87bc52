package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"userphone/config"
	"userphone/internal/handlers"
	"userphone/internal/platform"
	"userphone/internal/services"
	"userphone/internal/services/profile"
	"userphone/internal/services/session"
	_ "userphone/migrations"
	"userphone/monitoring"
	"userphone/security"
	"userphone/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/redis/go-redis/v9"
)

// queueSource feeds the monitor's polled gauges.
type queueSource struct {
	*services.Matchmaker
	session.Store
}

func Start() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	log := cfg.Logger()
	slog.SetDefault(log)

	app := pocketbase.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis; every Redis-backed component falls back to memory without it
	redisClient := connectRedis(cfg, log)

	sessions, backend := session.NewStore(redisClient)
	log.Info("session store selected", "backend", backend)

	profileStore, err := newProfileStore(app, cfg, redisClient)
	if err != nil {
		return err
	}

	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	// Initialize services
	matchmaker := services.NewMatchmaker(sessions, cfg.MatchCrossOrigin, nil)

	var monitor *monitoring.Monitor
	if cfg.EnableMetrics {
		monitor = monitoring.NewMonitor(queueSource{matchmaker, sessions}, log)
	}

	breaker := utils.NewCircuitBreaker("discord",
		utils.WithStateChange(func(name string, from, to utils.State) {
			log.Warn("circuit breaker state changed", "name", name, "from", from, "to", to)
			monitor.SetBreakerState(name, int(to))
		}),
	)

	var notifier services.Notifier = services.NopNotifier{}
	if cfg.PubNubEnabled() {
		notifier = services.NewPubNubNotifier(cfg.PubNubPublishKey, cfg.PubNubSubscribeKey, cfg.PubNubSecretKey, log)
	}

	chat := platform.NewDiscord(dg, cfg.DeleteWebhooks, log)
	profiles := services.NewProfileService(profileStore, log)
	relay := services.NewRelayService(
		sessions,
		profiles,
		chat,
		services.NewHTTPAssetFetcher(cfg.AssetFetchTimeout),
		security.NewCooldown(cfg.RelayCooldown),
		breaker,
		monitor,
		log,
	)
	calls := services.NewCallService(
		sessions,
		matchmaker,
		security.NewGuard(redisClient, cfg.GuildCallLimit, cfg.GuildCallWindow),
		chat,
		relay,
		notifier,
		monitor,
		log,
	)

	var discordHandler *handlers.DiscordHandler
	commands := services.NewCommandService(calls, profiles, func() int { return discordHandler.Servers() }, log)
	discordHandler = handlers.NewDiscordHandler(dg, commands, relay, cfg.DiscordAppID, cfg.DiscordGuildID, log)
	discordHandler.Register()

	// Initialize HTTP handlers
	callHandler := handlers.NewCallHandler(commands)
	adminHandler := handlers.NewAdminHandler(calls, log)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})

	health := map[string]monitoring.HealthFunc{
		"discord": func(context.Context) error {
			if !dg.DataReady {
				return errors.New("gateway not ready")
			}
			return nil
		},
	}
	if redisClient != nil {
		health["redis"] = func(ctx context.Context) error {
			return utils.RedisHealthCheck(ctx, redisClient)
		}
	}

	var opsServer *monitoring.Server
	if cfg.EnableMetrics {
		opsServer = monitoring.NewServer(cfg.MetricsPort, health, log)
		opsServer.Start()
		go monitor.Run(ctx)
	}

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		api := se.Router.Group("/api/userphone")

		// Call endpoints
		api.POST("/calls", callHandler.PlaceCall)
		api.POST("/calls/hangup", callHandler.Hangup)
		api.GET("/calls/active", callHandler.ActiveCalls)
		api.GET("/calls/{endpoint}/duration", callHandler.CallDuration)
		api.GET("/queue", callHandler.QueueStatus)

		// Profile endpoints
		api.PUT("/profiles/{user}", callHandler.SetProfile)

		// Admin endpoints
		api.GET("/admin/calls", adminHandler.GetCalls)

		// Health check
		se.Router.GET("/health", func(e *core.RequestEvent) error {
			report := map[string]string{"status": "healthy", "sessions": string(backend)}
			for name, check := range health {
				if err := check(e.Request.Context()); err != nil {
					report["status"] = "unhealthy"
					report[name] = err.Error()
				}
			}
			if report["status"] != "healthy" {
				return e.JSON(http.StatusServiceUnavailable, report)
			}
			return e.JSON(http.StatusOK, report)
		})

		log.Info("server routes registered")

		if cfg.DiscordToken == "" {
			log.Warn("DISCORD_TOKEN not set, gateway disabled")
			return se.Next()
		}
		if err := dg.Open(); err != nil {
			return fmt.Errorf("open discord gateway: %w", err)
		}
		go discordHandler.RunCommandSync(ctx, cfg.CommandSync)

		return se.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		log.Info("shutdown signal received, cleaning up")
		cancel()

		if err := dg.Close(); err != nil {
			log.Warn("discord close failed", "error", err)
		}
		if opsServer != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := opsServer.Shutdown(shutdownCtx); err != nil {
				log.Warn("ops server shutdown failed", "error", err)
			}
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return e.Next()
	})

	// serve on PORT when started without a subcommand
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve", "--http=0.0.0.0:"+cfg.Port)
	}
	return app.Start()
}

func connectRedis(cfg *config.Config, log *slog.Logger) *redis.Client {
	addr := cfg.RedisAddress()
	if addr == "" {
		log.Info("redis not configured")
		return nil
	}

	client, err := utils.NewRedisClient(addr)
	if err != nil {
		log.Warn("redis unavailable, falling back to in-memory state", "error", err)
		return nil
	}
	log.Info("connected to redis")
	return client
}

func newProfileStore(app core.App, cfg *config.Config, redisClient *redis.Client) (profile.Store, error) {
	switch cfg.ProfileStore {
	case "pocketbase":
		return profile.NewRecordStore(app), nil
	case "redis":
		if redisClient == nil {
			return nil, errors.New("PROFILE_STORE=redis needs a reachable REDIS_URL")
		}
		return profile.NewRedisStore(redisClient), nil
	case "auto":
		if redisClient != nil {
			return profile.NewRedisStore(redisClient), nil
		}
	}

	store, err := profile.NewFileStore(cfg.ProfilePath)
	if err != nil {
		return nil, err
	}
	return store, nil
}
