// Package mainconfig holds the wiring shared by every binary: configuration,
// pools, channel clients and the conversation engine.
package mainconfig

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/archive"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/availability"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
	appconfig "github.com/wolfman30/clinic-whatsapp-ai/internal/config"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/conversation"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/handoff"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/inbox"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/messaging"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/notify"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/reminders"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/tenancy"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

const deliveryLedgerTTL = 72 * time.Hour

// App is the set of long-lived clients a binary needs.
type App struct {
	Config   *appconfig.Config
	Logger   *logging.Logger
	Location *time.Location
	AWS      aws.Config
	Metrics  *prometheus.Registry

	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Repo     *clinic.Repository
	WhatsApp *messaging.WhatsAppClient
	Pauses   handoff.Registry
	Tenants  *tenancy.Resolver
	Inbox    *inbox.Client
	Mirror   inbox.Mirror

	MessagingMetrics    *metrics.MessagingMetrics
	ConversationMetrics *metrics.ConversationMetrics
	ReminderMetrics     *metrics.ReminderMetrics
}

// Bootstrap connects to Postgres and Redis and builds the channel clients.
// DATABASE_URL is required; Redis and the support inbox are optional.
func Bootstrap(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("mainconfig: DATABASE_URL is required")
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("mainconfig: aws config: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app := &App{
		Config:              cfg,
		Logger:              logger,
		Location:            conversation.ClinicLocation(cfg.ClinicTimezone),
		AWS:                 awsCfg,
		Metrics:             reg,
		MessagingMetrics:    metrics.NewMessagingMetrics(reg),
		ConversationMetrics: metrics.NewConversationMetrics(reg),
		ReminderMetrics:     metrics.NewReminderMetrics(reg),
	}

	app.Pool, err = connectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	app.Repo = clinic.NewRepository(app.Pool)

	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		app.Redis = redis.NewClient(opts)
		if err := app.Redis.Ping(ctx).Err(); err != nil {
			app.Close()
			return nil, fmt.Errorf("mainconfig: ping redis: %w", err)
		}
	}

	app.WhatsApp = messaging.NewWhatsAppClient(cfg.MetaAPIBaseURL, cfg.MetaAPIVersion, cfg.MetaAccessToken,
		messaging.WithClientLogger(logger),
		messaging.WithClientMetrics(app.MessagingMetrics),
	)
	app.Pauses = app.newPauseRegistry()
	app.Tenants = tenancy.NewResolver(app.Repo, cfg.DefaultTenantID, logger)

	app.Mirror = inbox.NoopMirror{}
	if cfg.ChatwootEnabled() {
		client, err := inbox.NewClient(cfg.ChatwootEndpoint, cfg.ChatwootAccountID, cfg.ChatwootToken, &http.Client{Timeout: 10 * time.Second})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("mainconfig: chatwoot client: %w", err)
		}
		app.Inbox = client
		app.Mirror = inbox.NewChatwootMirror(client, cfg.InboxName, logger)
	} else {
		logger.Warn("chatwoot not configured; inbox mirroring disabled")
	}
	return app, nil
}

func connectPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("mainconfig: parse DATABASE_URL: %w", err)
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("mainconfig: connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("mainconfig: ping postgres: %w", err)
	}
	return pool, nil
}

// Close releases pools and connections.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// SQLDB exposes the pgx pool through database/sql.
func (a *App) SQLDB() *sql.DB {
	return stdlib.OpenDBFromPool(a.Pool)
}

func (a *App) newPauseRegistry() handoff.Registry {
	if a.Config.PauseBackend == "redis" {
		if a.Redis != nil {
			return handoff.NewRedisRegistry(a.Redis)
		}
		a.Logger.Warn("PAUSE_BACKEND=redis without REDIS_ADDR; pauses are per process")
	}
	return handoff.NewMemoryRegistry()
}

// Ledger picks the delivery ledger: DynamoDB when a table is named, Redis
// when configured, else process memory.
func (a *App) Ledger() messaging.Ledger {
	switch {
	case a.Config.DeliveryLedgerTable != "":
		return messaging.NewDynamoLedger(dynamodb.NewFromConfig(a.AWS), a.Config.DeliveryLedgerTable, deliveryLedgerTTL)
	case a.Redis != nil:
		return messaging.NewRedisLedger(a.Redis, deliveryLedgerTTL)
	default:
		return messaging.NewMemoryLedger(deliveryLedgerTTL)
	}
}

// EmailSender returns the notification sender named by EMAIL_PROVIDER, or
// nil when notification email is off.
func (a *App) EmailSender() notify.EmailSender {
	cfg := a.Config
	switch cfg.EmailProvider {
	case "sendgrid":
		if s := notify.NewSendGridSender(notify.SendGridConfig{APIKey: cfg.SendGridAPIKey, FromEmail: cfg.EmailFrom, FromName: cfg.EmailFromName}, a.Logger); s != nil {
			return s
		}
		a.Logger.Warn("EMAIL_PROVIDER=sendgrid without SENDGRID_API_KEY; notification email disabled")
	case "ses":
		return notify.NewSESSender(sesv2.NewFromConfig(a.AWS), notify.SESConfig{FromEmail: cfg.EmailFrom, FromName: cfg.EmailFromName}, a.Logger)
	case "stub":
		return notify.NewStubEmailSender(a.Logger)
	}
	return nil
}

// Engine assembles the conversation engine and everything it calls.
func (a *App) Engine(ctx context.Context) (*conversation.Engine, error) {
	cfg := a.Config
	llm, model, err := NewLLM(ctx, cfg, a.AWS, a.Logger)
	if err != nil {
		return nil, err
	}

	states := conversation.StateStore(conversation.NewMemoryStateStore(cfg.ConversationTTL))
	locker := conversation.Locker(conversation.NewMemoryLocker(cfg.LockWait))
	if a.Redis != nil {
		states = conversation.NewRedisStateStore(a.Redis, cfg.ConversationTTL)
		locker = conversation.NewRedisLocker(a.Redis, cfg.LockTTL, cfg.LockWait)
	}

	var notifier conversation.BookingNotifier
	if email := a.EmailSender(); email != nil {
		notifier = notify.NewService(email, a.Repo, a.Location, a.Logger)
	}
	checker := availability.NewChecker(a.Repo, a.Location, availability.WithLogger(a.Logger))
	replier := conversation.NewReplier(a.WhatsApp, a.Mirror, a.ConversationMetrics, a.Logger)
	registration := conversation.NewRegistration(a.Repo, replier, a.ConversationMetrics, a.Logger)

	dialogueOpts := []conversation.DialogueOption{
		conversation.WithEmployeeRole(cfg.EmployeeRole),
		conversation.WithSlotLocker(locker),
		conversation.WithDialogueMetrics(a.ConversationMetrics),
		conversation.WithDialogueLogger(a.Logger),
	}
	if notifier != nil {
		dialogueOpts = append(dialogueOpts, conversation.WithBookingNotifier(notifier))
	}
	dialogue := conversation.NewDialogue(a.Repo, checker,
		conversation.NewLLMDateExtractor(llm, model, a.Location),
		replier, registration, a.Location, dialogueOpts...)

	classifier := conversation.NewLLMClassifier(llm, model, a.ConversationMetrics)
	router := conversation.NewRouter(conversation.RouterConfig{
		Store:        a.Repo,
		Pauses:       a.Pauses,
		Confirmation: classifier,
		Intents:      classifier,
		FAQ:          conversation.NewLLMFAQResponder(llm, model, a.Repo, a.ConversationMetrics),
		Dialogue:     dialogue,
		Replier:      replier,
		Metrics:      a.ConversationMetrics,
		Logger:       a.Logger,
	})

	engineCfg := conversation.EngineConfig{
		States:       states,
		Locker:       locker,
		Pauses:       a.Pauses,
		Tenants:      a.Tenants,
		Store:        a.Repo,
		Router:       router,
		Dialogue:     dialogue,
		Registration: registration,
		Replier:      replier,
		Metrics:      a.ConversationMetrics,
		Logger:       a.Logger,
	}
	if cfg.MediaBucket != "" {
		engineCfg.Archiver = archive.NewStore(s3.NewFromConfig(a.AWS), a.WhatsApp, cfg.MediaBucket, a.Logger)
	}
	return conversation.NewEngine(engineCfg), nil
}

// Sweeper builds the reminder sweep over the shared pool.
func (a *App) Sweeper() *reminders.Sweeper {
	return reminders.NewSweeper(reminders.NewStore(a.SQLDB()), a.Repo, a.WhatsApp, reminders.Config{
		Template:       clinic.TemplateRef{Name: a.Config.MetaTemplateName, Language: a.Config.MetaTemplateLanguage},
		SenderNumberID: a.Config.MetaNumberID,
		Location:       a.Location,
	}, a.ReminderMetrics, a.Logger)
}
