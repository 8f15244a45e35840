package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/panelbot/internal/api"
	"github.com/Checker-Finance/panelbot/internal/app"
	"github.com/Checker-Finance/panelbot/internal/audit"
	"github.com/Checker-Finance/panelbot/internal/discord"
	"github.com/Checker-Finance/panelbot/internal/jobs"
	"github.com/Checker-Finance/panelbot/internal/publisher"
	"github.com/Checker-Finance/panelbot/internal/rabbitmq"
	"github.com/Checker-Finance/panelbot/internal/report"
	internalsecrets "github.com/Checker-Finance/panelbot/internal/secrets"
	"github.com/Checker-Finance/panelbot/internal/store"
	"github.com/Checker-Finance/panelbot/pkg/config"
	"github.com/Checker-Finance/panelbot/pkg/eventbus"
	"github.com/Checker-Finance/panelbot/pkg/logger"
	"github.com/Checker-Finance/panelbot/pkg/secrets"
	"github.com/Checker-Finance/panelbot/pkg/utils"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Infow("starting [panelbot]...", "version", version)

	// --- Bootstrap secrets from AWS Secrets Manager ---
	if cfg.SecretsSource == "aws" {
		awsProvider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		secretCache := secrets.NewCache[internalsecrets.BotSecrets](cfg.CacheTTL)
		go secretCache.StartCleaner(ctx, cfg.CleanupFreq)

		resolver := internalsecrets.NewBotSecretsResolver(logg.Desugar(), awsProvider, secretCache)
		if err := internalsecrets.Apply(ctx, cfg, resolver); err != nil {
			logg.Fatalw("failed to resolve bot secrets", "secret", cfg.SecretName, "error", err)
		}
		logg.Infow("bot secrets resolved", "secret", cfg.SecretName)
	}

	if err := cfg.Validate(); err != nil {
		logg.Fatalw("invalid configuration", "error", err)
	}

	key, err := store.ParseKey(cfg.CredentialKey)
	if err != nil {
		logg.Fatalw("invalid CREDENTIAL_KEY", "error", err)
	}

	// --- Store (Redis + optional Postgres) ---
	if cfg.DatabaseURL != "" {
		logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
	} else {
		logg.Warn("DATABASE_URL not set, redis is the only credential store")
	}
	st, err := store.NewHybrid(store.Options{
		RedisAddr: cfg.RedisAddr,
		RedisDB:   cfg.RedisDB,
		RedisPass: cfg.RedisPass,
		PGURL:     cfg.DatabaseURL,
		PGPool: store.PGPoolConfig{
			MaxConns:          int32(cfg.PGMaxConns),
			MinConns:          int32(cfg.PGMinConns),
			MaxConnLifetime:   cfg.PGMaxConnLifetime,
			MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
			HealthCheckPeriod: cfg.PGHealthCheckPeriod,
		},
		Key:      key,
		CacheTTL: cfg.CredentialCacheTTL,
	}, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	if st.PG != nil && cfg.RunMigrations {
		if err := store.RunMigrations(st.PG); err != nil {
			logg.Fatalw("failed to run migrations", "error", err)
		}
		logg.Info("database migrations applied")
	}

	// --- Event bus and outbound publishers ---
	bus := eventbus.New()

	var nc *nats.Conn
	var pub *publisher.Publisher
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		pub, err = publisher.New(nc, cfg.NATSStream, cfg.ServiceName, logg.Desugar())
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
		pub.Attach(bus)
	}

	if st.PG != nil {
		audit.NewActionLogWriter(st.PG, logg.Desugar(), cfg.ServiceName).Attach(bus)
	}

	var rmq *rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		rmq, err = rabbitmq.NewPublisher(cfg.RabbitMQURL, bus, logg.Desugar())
		if err != nil {
			logg.Fatalw("failed to init rabbitmq publisher", "error", err)
		}
	}

	// --- Error reporting ---
	sentryReporter, err := report.NewSentryReporter(report.SentryOptions{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Env,
		Release:     cfg.ServiceName + "@" + version,
		SampleRate:  cfg.SentrySampleRate,
	})
	if err != nil {
		logg.Fatalw("failed to init sentry", "error", err)
	}
	reporter := report.Multi{
		report.NewLogReporter(logg.Desugar()),
		sentryReporter,
		report.NewBusReporter(bus),
	}

	// --- Application context and Discord bot ---
	ac := app.New(cfg, logg.Desugar(), st, reporter, bus, &http.Client{Timeout: cfg.PanelTimeout})

	discord.BridgeLogger(logg.Desugar())
	session, err := discord.NewSession(cfg.DiscordToken, cfg.DiscordLogLevel)
	if err != nil {
		logg.Fatalw("failed to create discord session", "error", err)
	}
	bot := discord.New(ac, session)
	if err := bot.Start(); err != nil {
		logg.Fatalw("failed to start discord bot", "error", err)
	}

	// --- Background jobs ---
	var pruner *jobs.CredentialPruner
	if st.PG != nil {
		pruner = jobs.NewCredentialPruner(logg.Desugar(), st.PG, cfg.PruneInterval)
		go pruner.Start(ctx)
	}
	sweeper := jobs.NewCooldownSweeper(logg.Desugar(), bot.Cooldowns().Pruners(), cfg.SweepInterval)
	go sweeper.Start(ctx)

	// --- Fiber HTTP Server ---
	httpApp := fiber.New(fiber.Config{
		ReadTimeout:           cfg.HTTPReadTimeout,
		WriteTimeout:          cfg.HTTPWriteTimeout,
		IdleTimeout:           cfg.HTTPIdleTimeout,
		DisableStartupMessage: true,
	})

	natsCheck := api.Check{Name: "nats"}
	if pub != nil {
		natsCheck.Fn = func(context.Context) error {
			if !pub.Connected() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		}
	}
	api.RegisterRoutes(httpApp,
		api.Check{Name: "store", Fn: st.HealthCheck},
		api.Check{Name: "discord", Fn: bot.HealthCheck},
		natsCheck,
	)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := httpApp.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[panelbot] running",
		"env", cfg.Env,
		"panels", len(ac.Panels),
		"guilds", len(cfg.DiscordGuildIDs),
		"nats", cfg.NATSURL != "",
		"rabbitmq", cfg.RabbitMQURL != "")

	<-ctx.Done()
	logg.Info("shutting down [panelbot]...")

	if err := bot.Stop(); err != nil {
		logg.Warnw("discord.close_failed", "error", err)
	}
	sweeper.Stop()
	if pruner != nil {
		pruner.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpApp.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}

	// let in-flight subscribers publish before the transports close
	bus.Wait()
	if pub != nil {
		pub.Close()
	}
	if rmq != nil {
		if err := rmq.Close(); err != nil {
			logg.Warnw("rabbitmq.close_failed", "error", err)
		}
	}
	sentryReporter.Flush(2 * time.Second)
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}
