// Package app собирает зависимости LearnPath для точек входа cmd/server и
// cmd/worker. Без DATABASE_URL используются хранилища в памяти, без Redis -
// локальная шина событий и кеши в памяти.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/learnpath/learnpath-core/config"
	"github.com/learnpath/learnpath-core/internal/application/command"
	"github.com/learnpath/learnpath-core/internal/application/eventhandler"
	"github.com/learnpath/learnpath-core/internal/application/query"
	"github.com/learnpath/learnpath-core/internal/application/saga"
	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/activity"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/notification"
	"github.com/learnpath/learnpath-core/internal/domain/payment"
	"github.com/learnpath/learnpath-core/internal/domain/programme"
	"github.com/learnpath/learnpath-core/internal/domain/result"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/internal/infrastructure/auth"
	"github.com/learnpath/learnpath-core/internal/infrastructure/catalog"
	"github.com/learnpath/learnpath-core/internal/infrastructure/external/certification"
	"github.com/learnpath/learnpath-core/internal/infrastructure/external/paygate"
	"github.com/learnpath/learnpath-core/internal/infrastructure/external/sendgrid"
	"github.com/learnpath/learnpath-core/internal/infrastructure/messaging"
	"github.com/learnpath/learnpath-core/internal/infrastructure/persistence/memory"
	"github.com/learnpath/learnpath-core/internal/infrastructure/persistence/postgres"
	"github.com/learnpath/learnpath-core/internal/infrastructure/persistence/redis"
	"github.com/learnpath/learnpath-core/internal/infrastructure/storage"
	"github.com/learnpath/learnpath-core/internal/interface/http/handlers"
	"github.com/learnpath/learnpath-core/pkg/circuitbreaker"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// sessionCacheTTL - срок кеширования разрешённой сессии.
const sessionCacheTTL = 5 * time.Minute

// eventBus - шина событий с освобождением ресурсов.
type eventBus interface {
	shared.EventBus
	Close() error
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTAINER
// ══════════════════════════════════════════════════════════════════════════════

// Repositories - порты хранения.
type Repositories struct {
	Identities  identity.Repository
	Consents    identity.ConsentRepository
	Credentials auth.CredentialStore
	Revocations auth.RevocationList
	Sessions    identity.SessionCache
	Programmes  programme.Store
	Enrollments enrollment.Repository
	Attempts    payment.AttemptStore
	Units       activity.UnitRepository
	Completions activity.CompletionRepository
	Results     result.Repository
	Locker      result.Locker
}

// Adapters - внешние интеграции.
type Adapters struct {
	Gateway   payment.Gateway
	Evidence  activity.EvidenceStore
	Submitter result.Submitter
	Sender    notification.Sender

	// CertificationBreaker - nil, если используется заглушка.
	CertificationBreaker *circuitbreaker.CircuitBreaker
}

// Commands - обработчики команд.
type Commands struct {
	RegisterUser         *command.RegisterUserHandler
	RecordConsent        *command.RecordConsentHandler
	SignOut              *command.SignOutHandler
	CreateProgramme      *command.CreateProgrammeHandler
	CreateEnrollment     *command.CreateEnrollmentHandler
	CancelEnrollment     *command.CancelEnrollmentHandler
	SubmitPaymentDetails *command.PaymentDetailsHandler
	ConfirmPayment       *command.ConfirmPaymentHandler
	CancelPayment        *command.CancelPaymentHandler
	ScheduleUnit         *command.ScheduleUnitHandler
	RecordCompletion     *command.RecordCompletionHandler
	EvaluateReadiness    *command.EvaluateReadinessHandler
	ApproveResult        *command.ApproveResultHandler
	SubmitResult         *command.SubmitResultHandler
}

// Queries - обработчики запросов.
type Queries struct {
	CurrentIdentity   *query.CurrentIdentityHandler
	ListProgrammes    *query.ListProgrammesHandler
	GetEnrollments    *query.GetEnrollmentsHandler
	GetPaymentAttempt *query.GetPaymentAttemptHandler
	GetCurrentUnit    *query.GetCurrentUnitHandler
	GetLiveSession    *query.GetLiveSessionHandler
	IsUnlocked        *query.IsUnlockedHandler
	GetProgress       *query.GetProgressHandler
	ListResults       *query.ListResultsHandler
}

// Sagas - многошаговые сценарии.
type Sagas struct {
	Authentication *saga.AuthenticationSaga
	Onboarding     *saga.OnboardingSaga
}

// Container содержит собранное приложение.
type Container struct {
	Config *config.Config
	Logger *logger.Logger
	Clock  timeutil.Clock

	DB    *postgres.Connection
	Cache *redis.Cache

	Bus        eventBus
	Dispatcher *messaging.Dispatcher
	Resolver   *session.Resolver
	Catalog    *programme.Catalog

	Repositories Repositories
	Adapters     Adapters
	Commands     Commands
	Queries      Queries
	Sagas        Sagas

	closers []func() error
}

// Build собирает контейнер. При ошибке уже открытые ресурсы закрываются.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (c *Container, err error) {
	if log == nil {
		log = logger.Nop()
	}
	c = &Container{
		Config: cfg,
		Logger: log,
		Clock:  timeutil.SystemClock{},
	}
	defer func() {
		if err != nil {
			_ = c.Close()
			c = nil
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 1. ХРАНИЛИЩА
	// ─────────────────────────────────────────────────────────────────────────
	if err = c.buildStorage(ctx); err != nil {
		return c, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ШИНА СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	if err = c.buildBus(); err != nil {
		return c, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ВНЕШНИЕ АДАПТЕРЫ
	// ─────────────────────────────────────────────────────────────────────────
	if err = c.buildAdapters(ctx); err != nil {
		return c, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. КАТАЛОГ
	// ─────────────────────────────────────────────────────────────────────────
	var seed *catalog.Seed
	if path := cfg.App.CatalogSeedPath; path != "" {
		seed, err = catalog.LoadFile(path)
	} else {
		seed, err = catalog.Default()
	}
	if err != nil {
		return c, fmt.Errorf("load catalog seed: %w", err)
	}
	c.Catalog = programme.NewCatalog(seed, c.Repositories.Programmes)
	log.Info("catalog loaded", logger.Int("seed_programmes", seed.Len()))

	// ─────────────────────────────────────────────────────────────────────────
	// 5. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	if err = c.buildApplication(); err != nil {
		return c, err
	}

	log.Info("feature flags", logger.Any("enabled", cfg.Features.Enabled()))

	return c, nil
}

// Close освобождает ресурсы в обратном порядке.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) onClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

func (c *Container) buildStorage(ctx context.Context) error {
	cfg, log := c.Config, c.Logger
	now := c.Clock.Now

	if cfg.Database.URL != "" {
		pgCfg := postgres.DefaultConfig(cfg.Database.URL)
		if cfg.Database.MaxOpenConns > 0 {
			pgCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
		}
		if cfg.Database.MaxIdleConns > 0 {
			pgCfg.MinConns = int32(cfg.Database.MaxIdleConns)
		}
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
		pgCfg.QueryTimeout = cfg.Database.QueryTimeout
		pgCfg.Logger = log

		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		c.DB = conn
		c.onClose(func() error { conn.Close(); return nil })

		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		log.Info("database connection established")

		c.Repositories.Identities = postgres.NewIdentityRepository(conn)
		c.Repositories.Consents = postgres.NewConsentRepository(conn)
		c.Repositories.Credentials = postgres.NewCredentialStore(conn)
		c.Repositories.Programmes = postgres.NewProgrammeStore(conn)
		c.Repositories.Enrollments = postgres.NewEnrollmentRepository(conn)
		c.Repositories.Units = postgres.NewUnitRepository(conn)
		c.Repositories.Completions = postgres.NewCompletionRepository(conn)
		c.Repositories.Results = postgres.NewResultRepository(conn)
	} else {
		if cfg.IsProduction() {
			return errors.New("DATABASE_URL is required in production")
		}
		log.Warn("DATABASE_URL is empty, using in-memory repositories")

		c.Repositories.Identities = memory.NewIdentityRepository()
		c.Repositories.Consents = memory.NewConsentRepository()
		c.Repositories.Credentials = memory.NewCredentialStore()
		c.Repositories.Programmes = memory.NewProgrammeStore()
		c.Repositories.Enrollments = memory.NewEnrollmentRepository()
		c.Repositories.Units = memory.NewUnitRepository()
		c.Repositories.Completions = memory.NewCompletionRepository()
		c.Repositories.Results = memory.NewResultRepository()
	}

	if !cfg.Redis.Disabled {
		rc := redis.DefaultConfig()
		rc.Host = cfg.Redis.Host
		rc.Port = cfg.Redis.Port
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		if cfg.Redis.PoolSize > 0 {
			rc.PoolSize = cfg.Redis.PoolSize
		}
		rc.MinIdleConns = cfg.Redis.MinIdleConns
		if cfg.Redis.DialTimeout > 0 {
			rc.DialTimeout = cfg.Redis.DialTimeout
		}
		if cfg.Redis.ReadTimeout > 0 {
			rc.ReadTimeout = cfg.Redis.ReadTimeout
		}
		if cfg.Redis.WriteTimeout > 0 {
			rc.WriteTimeout = cfg.Redis.WriteTimeout
		}

		cache, err := redis.NewCache(rc)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		c.Cache = cache
		c.onClose(cache.Close)
		log.Info("redis connection established", logger.String("addr", rc.Addr()))

		c.Repositories.Revocations = redis.NewRevocationList(cache)
		c.Repositories.Sessions = redis.NewSessionCache(cache)
		c.Repositories.Attempts = redis.NewAttemptStore(cache)
		c.Repositories.Locker = redis.NewLocker(cache)
	} else {
		log.Warn("redis disabled, using in-memory caches")

		c.Repositories.Revocations = memory.NewRevocationList(now)
		c.Repositories.Sessions = memory.NewSessionCache(now)
		c.Repositories.Attempts = memory.NewAttemptStore(now)
		c.Repositories.Locker = memory.NewLocker(now)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

func (c *Container) buildBus() error {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = c.Logger

	if c.Cache != nil {
		bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Cache:          c.Cache,
			LocalBusConfig: local,
			Logger:         c.Logger,
		})
		if err != nil {
			return fmt.Errorf("create redis event bus: %w", err)
		}
		c.Bus = bus
	} else {
		c.Bus = messaging.NewInMemoryEventBus(local)
	}
	// Шина закрывается раньше Redis: closers выполняются в обратном порядке.
	c.onClose(c.Bus.Close)

	dc := messaging.DefaultDispatcherConfig(c.Bus)
	dc.Logger = c.Logger
	c.Dispatcher = messaging.NewDispatcher(dc)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ADAPTERS
// ══════════════════════════════════════════════════════════════════════════════

func (c *Container) buildAdapters(ctx context.Context) error {
	cfg, log := c.Config, c.Logger

	c.Adapters.Gateway = paygate.NewGateway(paygate.Config{
		RateLimiter: paygate.DefaultRateLimiterConfig(),
		Clock:       c.Clock,
		Logger:      log,
	})

	if cfg.Evidence.Bucket != "" {
		store, err := storage.NewEvidenceStore(ctx, storage.Config{
			Bucket:          cfg.Evidence.Bucket,
			CredentialsFile: cfg.Evidence.CredentialsFile,
			Prefix:          cfg.Evidence.Prefix,
			Logger:          log,
		})
		if err != nil {
			return fmt.Errorf("create evidence store: %w", err)
		}
		c.Adapters.Evidence = store
		c.onClose(store.Close)
	} else {
		log.Warn("evidence bucket not configured, keeping uploads in memory")
		c.Adapters.Evidence = memory.NewEvidenceStore()
	}

	if cfg.Certification.BaseURL != "" {
		cc := certification.DefaultClientConfig(cfg.Certification.BaseURL, cfg.Certification.APIKey)
		if cfg.Certification.RequestTimeout > 0 {
			cc.Timeout = cfg.Certification.RequestTimeout
		}
		cc.Logger = log
		client, err := certification.NewClient(cc)
		if err != nil {
			return fmt.Errorf("create certification client: %w", err)
		}
		c.Adapters.Submitter = client
		c.Adapters.CertificationBreaker = client.Breaker()
	} else {
		if cfg.IsProduction() {
			return errors.New("CERTIFICATION_BASE_URL is required in production")
		}
		log.Warn("certification endpoint not configured, acknowledging locally")
		c.Adapters.Submitter = memory.NewSubmitter()
	}

	if cfg.Notification.SendGridAPIKey != "" {
		sender, err := sendgrid.NewSender(sendgrid.Config{
			APIKey:    cfg.Notification.SendGridAPIKey,
			FromEmail: cfg.Notification.FromEmail,
			FromName:  cfg.Notification.FromName,
			Logger:    log,
		})
		if err != nil {
			return fmt.Errorf("create sendgrid sender: %w", err)
		}
		c.Adapters.Sender = sender
	} else {
		log.Warn("sendgrid not configured, e-mails go to the in-memory outbox")
		c.Adapters.Sender = memory.NewOutbox(c.Clock.Now)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION
// ══════════════════════════════════════════════════════════════════════════════

func (c *Container) buildApplication() error {
	cfg, log, clock := c.Config, c.Logger, c.Clock
	repos := c.Repositories
	flags := cfg.Features

	issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.SessionTTL, clock.Now)
	if err != nil {
		return fmt.Errorf("create token issuer: %w", err)
	}
	provider, err := auth.NewProvider(auth.ProviderConfig{
		Credentials: repos.Credentials,
		Tokens:      issuer,
		Revocations: repos.Revocations,
		BcryptCost:  cfg.Auth.BcryptCost,
		Now:         clock.Now,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("create auth provider: %w", err)
	}

	c.Resolver = session.NewResolver(provider, repos.Identities, repos.Sessions, sessionCacheTTL, log)
	sessions := c.Resolver

	// Команды
	cmds := &c.Commands
	cmds.RegisterUser = command.NewRegisterUserHandler(provider, repos.Identities, c.Bus, clock, log)
	cmds.RecordConsent = command.NewRecordConsentHandler(sessions, repos.Consents, clock, log)
	cmds.SignOut = command.NewSignOutHandler(provider, repos.Sessions, log)
	cmds.CreateProgramme = command.NewCreateProgrammeHandler(sessions, c.Catalog, clock, log)
	cmds.CreateEnrollment = command.NewCreateEnrollmentHandler(sessions, c.Catalog, repos.Enrollments, c.Bus, clock, log)
	cmds.CancelEnrollment = command.NewCancelEnrollmentHandler(sessions, repos.Enrollments, repos.Attempts, c.Bus, clock, log)
	cmds.SubmitPaymentDetails = command.NewPaymentDetailsHandler(sessions, repos.Enrollments, repos.Attempts, c.Bus, clock,
		command.PaymentConfig{AttemptTTL: cfg.Payment.AttemptTTL}, log)
	cmds.ConfirmPayment = command.NewConfirmPaymentHandler(sessions, repos.Enrollments, repos.Attempts, c.Adapters.Gateway, c.Bus, clock,
		command.PaymentConfig{AttemptTTL: cfg.Payment.AttemptTTL}, log)
	cmds.CancelPayment = command.NewCancelPaymentHandler(sessions, repos.Enrollments, repos.Attempts, log)
	cmds.ScheduleUnit = command.NewScheduleUnitHandler(sessions, c.Catalog, repos.Units, clock, log)
	cmds.RecordCompletion = command.NewRecordCompletionHandler(command.RecordCompletionDeps{
		Sessions:        sessions,
		Enrollments:     repos.Enrollments,
		Units:           repos.Units,
		Completions:     repos.Completions,
		Evidence:        c.Adapters.Evidence,
		EventPublisher:  c.Bus,
		Clock:           clock,
		Logger:          log,
		StrictWeek:      flags.StrictWeekSelection,
		EvidenceEnabled: flags.EvidenceUpload,
	})
	cmds.EvaluateReadiness = command.NewEvaluateReadinessHandler(command.EvaluateReadinessDeps{
		Enrollments:    repos.Enrollments,
		Units:          repos.Units,
		Completions:    repos.Completions,
		Results:        repos.Results,
		EventPublisher: c.Bus,
		Clock:          clock,
		Logger:         log,
		StrictWeek:     flags.StrictWeekSelection,
	})
	cmds.ApproveResult = command.NewApproveResultHandler(sessions, repos.Results, repos.Units, repos.Enrollments, c.Bus, clock, log)
	cmds.SubmitResult = command.NewSubmitResultHandler(sessions, repos.Results, c.Adapters.Submitter, repos.Locker, c.Bus,
		clock, cfg.Certification.LockTTL, log)

	// Запросы
	qs := &c.Queries
	qs.CurrentIdentity = query.NewCurrentIdentityHandler(sessions)
	qs.ListProgrammes = query.NewListProgrammesHandler(c.Catalog)
	qs.GetEnrollments = query.NewGetEnrollmentsHandler(repos.Enrollments)
	qs.GetPaymentAttempt = query.NewGetPaymentAttemptHandler(sessions, repos.Enrollments, repos.Attempts)
	qs.GetCurrentUnit = query.NewGetCurrentUnitHandler(repos.Units, clock, flags.StrictWeekSelection)
	qs.GetLiveSession = query.NewGetLiveSessionHandler(sessions, repos.Enrollments, qs.GetCurrentUnit)
	qs.IsUnlocked = query.NewIsUnlockedHandler(repos.Enrollments)
	qs.GetProgress = query.NewGetProgressHandler(sessions, repos.Enrollments, repos.Completions, repos.Results, qs.GetCurrentUnit)
	qs.ListResults = query.NewListResultsHandler(sessions, repos.Results, repos.Enrollments)

	// Саги
	c.Sagas.Authentication = saga.NewAuthenticationSaga(provider, repos.Identities, repos.Sessions, sessionCacheTTL, c.Bus, log)
	c.Sagas.Onboarding = saga.NewOnboardingSaga(cmds.RegisterUser, c.Sagas.Authentication, cmds.RecordConsent, cmds.CreateEnrollment, clock, log)

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// RegisterEventHandlers подписывает обработчики событий на шину. Вызывается
// одним процессом: при общей Redis-шине каждое событие обрабатывается один раз.
func (c *Container) RegisterEventHandlers() error {
	notifier := eventhandler.NotifierDeps{
		Sender:      c.Adapters.Sender,
		Identities:  c.Repositories.Identities,
		Enrollments: c.Repositories.Enrollments,
		Catalog:     c.Catalog,
		Results:     c.Repositories.Results,
		Logger:      c.Logger,
		Enabled:     c.Config.Features.EmailNotifications,
	}

	registrations := []struct {
		eventType shared.EventType
		name      string
		handler   shared.EventHandler
	}{
		{shared.EventActivityCompleted, "evaluate_readiness",
			eventhandler.NewOnActivityCompletedHandler(c.Commands.EvaluateReadiness, c.Logger).Handle},
		{shared.EventPaymentConfirmed, "notify_payment_confirmed",
			eventhandler.NewOnPaymentConfirmedHandler(notifier).Handle},
		{shared.EventResultSubmitted, "notify_result_submitted",
			eventhandler.NewOnResultSubmittedHandler(notifier).Handle},
	}

	for _, r := range registrations {
		if err := c.Dispatcher.Register(r.eventType, r.name, r.handler); err != nil {
			return fmt.Errorf("register %s: %w", r.name, err)
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

// HealthChecker возвращает проверки готовности для подключённых зависимостей.
func (c *Container) HealthChecker() *handlers.HealthChecker {
	hc := handlers.NewHealthChecker(c.Config.App.Version)
	if c.DB != nil {
		hc.AddCheck("postgres", handlers.NewPingCheck(c.DB))
	}
	if c.Cache != nil {
		hc.AddCheck("redis", handlers.NewPingCheck(c.Cache))
	}
	if c.Adapters.CertificationBreaker != nil {
		hc.AddCheck("certification", handlers.NewBreakerCheck("certification", c.Adapters.CertificationBreaker))
	}
	return hc
}
