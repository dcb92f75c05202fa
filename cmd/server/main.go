package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/seat-settlement/internal/config"
	"github.com/iliyamo/seat-settlement/internal/database"
	"github.com/iliyamo/seat-settlement/internal/handler"
	"github.com/iliyamo/seat-settlement/internal/lockstore"
	"github.com/iliyamo/seat-settlement/internal/logging"
	"github.com/iliyamo/seat-settlement/internal/mailer"
	"github.com/iliyamo/seat-settlement/internal/middleware"
	"github.com/iliyamo/seat-settlement/internal/model"
	"github.com/iliyamo/seat-settlement/internal/queue"
	"github.com/iliyamo/seat-settlement/internal/repository"
	"github.com/iliyamo/seat-settlement/internal/router"
	"github.com/iliyamo/seat-settlement/internal/scheduler"
	"github.com/iliyamo/seat-settlement/internal/service"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
		MaxOpenConns:    cfg.DBMaxOpen,
		MaxIdleConns:    cfg.DBMaxIdle,
		ConnMaxLifetime: cfg.DBConnLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if cfg.DBAutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("migrate database")
		}
	}

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb != nil {
		defer rdb.Close()
	}
	store, closeStore := newLockStore(cfg.LockStore, rdb)
	defer closeStore()

	// Repositories
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	seats := repository.NewSeatRepo(db)
	orders := repository.NewOrderRepo(db)
	events := repository.NewEventRepo(db)
	emailLogs := repository.NewEmailLogRepo(db)

	// Locks and the seat map cache
	locks := service.NewLockManager(store, seats, service.LockOptions{TTL: cfg.SeatLockTTL, StrictRelease: cfg.LockStrictRelease})
	seatCache := middleware.NewSeatMapCache(config.LoadCacheConfig(), rdb)
	locks.OnChange(func(eventID string) {
		if err := seatCache.InvalidateEvent(context.Background(), eventID); err != nil {
			log.Warn().Err(err).Str("event_id", eventID).Msg("seat map invalidation failed")
		}
	})

	// Notifications
	dispatcher := service.NewDispatcher(emailLogs, repository.NewEmailTemplateRepo(db), orders, events, newSender(cfg),
		service.BankDetails{BankName: cfg.BankName, AccountNumber: cfg.AccountNumber, AccountName: cfg.AccountName})
	notifyQueue, closeQueue := newNotificationQueue(ctx, cfg, dispatcher)

	orderSvc := service.NewOrderService(db, service.OrderRepos{
		Orders:   orders,
		Seats:    seats,
		Payments: repository.NewPaymentRepo(db),
		Events:   events,
		Audit:    repository.NewAuditRepo(db),
	}, locks, notifyQueue, service.OrderOptions{
		OrderExpiry: cfg.OrderExpiry,
		TxTimeout:   cfg.SettlementTxTimeout,
		ClientURL:   cfg.ClientURL,
		Sender:      dispatcher,
	})

	sched, err := scheduler.New(orderSvc, scheduler.Options{Interval: cfg.ExpirySweepInterval})
	if err != nil {
		log.Fatal().Err(err).Msg("init scheduler")
	}
	sched.Start()

	seedAdmin(ctx, cfg, users)

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover(), echomw.RequestID(), middleware.RequestLogger())

	deps := map[string]handler.Pinger{"mysql": db}
	if rdb != nil {
		deps["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	router.RegisterRoutes(e, deps)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens), cfg.JWTSecret)
	router.RegisterShop(e, handler.NewEventHandler(events), handler.NewSeatLockHandler(locks), handler.NewOrderHandler(orderSvc), router.ShopMiddleware{
		RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
		SeatCache: seatCache.Middleware(),
	})
	router.RegisterAdmin(e, handler.NewAdminHandler(orderSvc, locks, emailLogs), cfg.JWTSecret)

	addr := ":" + cfg.Port
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Str("lock_store", cfg.LockStore).
			Str("notify_queue", cfg.NotifyQueue).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := sched.Shutdown(); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown")
	}
	closeQueue(shutdownCtx)
}

// newLockStore picks the lock backend.  "auto" uses Redis when reachable
// and memory otherwise; "redis" refuses to start without it.
func newLockStore(kind string, rdb *redis.Client) (lockstore.Store, func()) {
	switch kind {
	case "memory":
	case "redis":
		if rdb == nil {
			log.Fatal().Msg("LOCK_STORE=redis but redis is unreachable")
		}
		return lockstore.NewRedisStore(rdb), func() {}
	default:
		if rdb != nil {
			return lockstore.NewRedisStore(rdb), func() {}
		}
		log.Warn().Msg("redis unavailable, seat locks are held in memory")
	}
	mem := lockstore.NewMemoryStore()
	return mem, func() { _ = mem.Close() }
}

// newSender delivers through SMTP when a host is configured and logs the
// mail otherwise.
func newSender(cfg config.Config) mailer.Sender {
	if cfg.SMTPHost == "" {
		log.Warn().Msg("SMTP_HOST not set, mails are only logged")
		return mailer.LogSender{}
	}
	s, err := mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.MailFrom,
		FromName: cfg.MailFromName,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init smtp sender")
	}
	return s
}

// newNotificationQueue returns the queue the order service enqueues on and
// a function that drains it on shutdown.
func newNotificationQueue(ctx context.Context, cfg config.Config, d *service.Dispatcher) (service.NotificationQueue, func(context.Context)) {
	if cfg.NotifyQueue == "amqp" {
		pub := queue.NewPublisher(cfg.RabbitMQURL)
		go func() {
			if err := queue.StartNotificationConsumer(ctx, cfg.RabbitMQURL, d); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("notification consumer stopped")
			}
		}()
		return pub, func(context.Context) { _ = pub.Close() }
	}
	q := queue.NewInProcessQueue(d, cfg.NotifyWorkers, 0)
	return q, func(ctx context.Context) {
		if err := q.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("notification queue did not drain")
		}
	}
}

// seedAdmin creates the first ADMIN account when ADMIN_EMAIL and
// ADMIN_PASSWORD are set and the account does not exist yet.
func seedAdmin(ctx context.Context, cfg config.Config, users *repository.UserRepo) {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return
	}
	if _, err := users.GetByEmail(ctx, cfg.AdminEmail); err == nil {
		return
	}
	id, err := users.Create(ctx, cfg.AdminEmail, cfg.AdminPassword, model.RoleAdmin, cfg.BcryptCost)
	if err != nil {
		if !errors.Is(err, repository.ErrEmailExists) {
			log.Error().Err(err).Msg("seed admin")
		}
		return
	}
	log.Info().Uint64("user_id", id).Str("email", cfg.AdminEmail).Msg("seeded admin account")
}
