package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stpericial/stpericial-backend/internal/auth/jwt"
	"github.com/stpericial/stpericial-backend/internal/report/aggregator"
	"github.com/stpericial/stpericial-backend/internal/report/events"
	"github.com/stpericial/stpericial-backend/internal/report/generator"
	"github.com/stpericial/stpericial-backend/internal/report/handler"
	"github.com/stpericial/stpericial-backend/internal/report/lock"
	"github.com/stpericial/stpericial-backend/internal/report/mailer"
	"github.com/stpericial/stpericial-backend/internal/report/metrics"
	"github.com/stpericial/stpericial-backend/internal/report/pipeline"
	"github.com/stpericial/stpericial-backend/internal/report/renderer"
	"github.com/stpericial/stpericial-backend/internal/report/repository"
	"github.com/stpericial/stpericial-backend/internal/report/signer"
	"github.com/stpericial/stpericial-backend/pkg/config"
	"github.com/stpericial/stpericial-backend/pkg/database"
	"github.com/stpericial/stpericial-backend/pkg/logger"
	"github.com/stpericial/stpericial-backend/pkg/messaging"
)

const serviceName = "report-service"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Msg("starting Report Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, repository.Schema); err != nil {
			log.Fatal().Err(err).Msg("failed to apply schema")
		}
	}

	// A service without its signing key must not start
	keys, err := signer.LoadSigningContext(cfg.Signing)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load signing key")
	}

	pdf, err := renderer.New(cfg.Render)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize renderer")
	}

	gen, err := generator.New(cfg.Generator, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize content generator")
	}

	locker, closeLocker, err := lock.New(ctx, cfg.Redis, cfg.Pipeline.LockTTL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer closeLocker()
	log.Info().Str("backend", locker.Backend()).Msg("run lock ready")

	// RabbitMQ is optional: without it events are only logged and email
	// delivery runs synchronously
	var (
		rmq       *messaging.RabbitMQ
		publisher *events.ReportEventPublisher
	)
	rmq, err = messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Warn().Err(err).Msg("RabbitMQ unavailable, running without report events")
		publisher = events.NewReportEventPublisher(nil, log)
	} else {
		defer rmq.Close()
		publisher, err = events.NewRabbitPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	}

	// Initialize repositories
	caseRepo := repository.NewCaseRepository(db)
	evidenceRepo := repository.NewEvidenceRepository(db)
	victimRepo := repository.NewVictimRepository(db)
	userRepo := repository.NewUserRepository(db)
	generalRepo := repository.NewGeneralReportRepository(db)
	expertRepo := repository.NewExpertReportRepository(db)

	reports := pipeline.New(pipeline.Deps{
		Aggregator:     aggregator.New(caseRepo, evidenceRepo, victimRepo, expertRepo),
		GeneralReports: generalRepo,
		ExpertReports:  expertRepo,
		Evidence:       evidenceRepo,
		Victims:        victimRepo,
		Users:          userRepo,
		Generator:      gen,
		Renderer:       pdf,
		Signer:         signer.New(keys),
		Mailer:         mailer.NewSMTP(cfg.Mail, log),
		Locker:         locker,
		Events:         publisher,
		Metrics:        metrics.New(),
	}, pipeline.OptionsFromConfig(cfg), log)

	// Start delivery consumer
	if rmq != nil {
		consumer, err := messaging.NewConsumer(rmq, events.DeliveryQueue, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create delivery consumer")
		}
		if err := events.NewDeliveryConsumer(reports, log).Register(consumer); err != nil {
			log.Fatal().Err(err).Msg("failed to subscribe delivery consumer")
		}
		if err := consumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start delivery consumer")
		}

		// Restore the delivery queue and its consume loop after a broker outage
		go rmq.Watch(ctx, func() error { return consumer.Resubscribe(ctx) })
	}

	health := map[string]handler.HealthCheck{
		"database": func(ctx context.Context) interface{} { return db.Health(ctx) },
		"lock": func(ctx context.Context) interface{} {
			status := map[string]string{"backend": locker.Backend(), "status": "up"}
			if pinger, ok := locker.(interface{ Health(context.Context) error }); ok {
				if err := pinger.Health(ctx); err != nil {
					status["status"] = "down"
				}
			}
			return status
		},
	}
	if rmq != nil {
		health["rabbitmq"] = func(context.Context) interface{} { return rmq.Health() }
	}

	router := handler.NewRouter(handler.RouterConfig{
		Service:     serviceName,
		Reports:     handler.NewReportHandler(reports, generalRepo, expertRepo, publisher, log),
		Tokens:      jwt.NewManager(&cfg.JWT),
		CORSOrigins: cfg.Server.CORSOrigins,
		Health:      health,
		Logger:      log,
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop consumers
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
