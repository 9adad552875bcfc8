package application

import (
	"context"
	"fmt"
	"net/http"
	"time"
	_ "time/tzdata"

	"github.com/lomito/escalation-service/internal/auth"
	"github.com/lomito/escalation-service/internal/config"
	"github.com/lomito/escalation-service/internal/database"
	"github.com/lomito/escalation-service/internal/kafka"
	"github.com/lomito/escalation-service/internal/lock"
	"github.com/lomito/escalation-service/internal/mail"
	"github.com/lomito/escalation-service/internal/metrics"
	"github.com/lomito/escalation-service/internal/push"
	"github.com/lomito/escalation-service/internal/service"
	"github.com/lomito/escalation-service/internal/store"
	"github.com/lomito/escalation-service/internal/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// The lock must outlive the longest sweep, including the writes of the case in flight at its deadline.
const (
	sweepLockKey = "escalation-sweep"
	sweepLockTTL = service.SweepTimeout + 10*time.Minute
)

// Components is the wired service graph shared by the api and sweep commands.
type Components struct {
	DB       *gorm.DB
	Store    *store.CaseStore
	Registry *prometheus.Registry
	Producer *kafka.Producer
	Redis    *redis.Client

	Escalation   *service.EscalationService
	Reminder     *service.ReminderService
	Inbound      *service.InboundService
	Notification *service.NotificationService
	Actors       *auth.ActorResolver
	Verifier     *webhook.Verifier
}

// Build opens the database and external clients and wires the lifecycle services.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Components, error) {
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Email.Timezone)
	if err != nil {
		return nil, fmt.Errorf("email timezone %q: %w", cfg.Email.Timezone, err)
	}
	renderer, err := mail.NewRenderer(loc, cfg.Email.SiteURL)
	if err != nil {
		return nil, err
	}
	sender, err := newSender(ctx, cfg)
	if err != nil {
		return nil, err
	}
	verifier, err := webhook.NewVerifier(cfg.InboundWebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("inbound webhook: %w", err)
	}
	if verifier == nil {
		log.Warn().Msg("INBOUND_EMAIL_WEBHOOK_SECRET not set, inbound signature verification disabled")
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	caseStore := store.NewCaseStore(db)
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicCase, log)
	deps := service.Deps{
		Store:    caseStore,
		Renderer: renderer,
		Sender:   sender,
		Push:     push.NewClient(cfg.ExpoPushURL, cfg.ExpoAccessToken, nil),
		Events:   producer,
		Metrics:  metrics.New(reg),
		Email:    service.EmailSettings{From: cfg.Email.From, ReplyDomain: cfg.Email.ReplyDomain},
		Log:      log,
	}
	notification := service.NewNotificationService(deps)
	if cfg.NotifyOnTransitions {
		deps.Notifier = notification
	}

	return &Components{
		DB:           db,
		Store:        caseStore,
		Registry:     reg,
		Producer:     producer,
		Redis:        rdb,
		Escalation:   service.NewEscalationService(deps),
		Reminder:     service.NewReminderService(deps, func() lock.Locker { return lock.New(rdb, sqlDB, sweepLockKey, sweepLockTTL) }),
		Inbound:      service.NewInboundService(deps, cfg.InboundDedupKey),
		Notification: notification,
		Actors:       auth.NewActorResolver(cfg.JWTSecret),
		Verifier:     verifier,
	}, nil
}

func newSender(ctx context.Context, cfg *config.Config) (mail.Sender, error) {
	switch cfg.Email.Provider {
	case config.EmailProviderSES:
		s, err := mail.NewSESSender(ctx, cfg.Email.SESRegion, cfg.Email.SESAccessKey, cfg.Email.SESSecretKey)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return mail.NewResendSender(cfg.Email.ResendAPIURL, cfg.Email.ResendAPIKey, &http.Client{Timeout: 15 * time.Second}), nil
	}
}

// Close waits for in-flight notifications and releases external clients.
func (c *Components) Close(log zerolog.Logger) {
	c.Notification.Wait()
	if err := c.Producer.Close(); err != nil {
		log.Warn().Err(err).Msg("kafka close")
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close")
		}
	}
	if sqlDB, err := c.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
