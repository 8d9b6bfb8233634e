package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/cinema-seat-lock/internal/booking"
	"github.com/iliyamo/cinema-seat-lock/internal/config"
	"github.com/iliyamo/cinema-seat-lock/internal/database"
	"github.com/iliyamo/cinema-seat-lock/internal/handler"
	"github.com/iliyamo/cinema-seat-lock/internal/middleware"
	"github.com/iliyamo/cinema-seat-lock/internal/queue"
	"github.com/iliyamo/cinema-seat-lock/internal/repository"
	"github.com/iliyamo/cinema-seat-lock/internal/router"
	"github.com/iliyamo/cinema-seat-lock/internal/seatlock"
	"github.com/iliyamo/cinema-seat-lock/internal/watchdog"
)

func main() {
	_ = godotenv.Load() // .env is optional
	cfg := config.Load()
	level := parseLevel(cfg.LogLevel)
	log.SetLevel(level)
	logger := func(prefix string) *log.Logger {
		l := log.New(prefix)
		l.SetLevel(level)
		return l
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores
	var (
		store repository.Store
		users repository.UserStore
		db    *sql.DB
	)
	switch cfg.HoldStore {
	case config.StoreMySQL:
		var err error
		db, err = database.Open(ctx, database.DSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName), logger("db"))
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		store = repository.NewSQLStore(db)
		users = repository.NewUserRepo(db)
	default:
		log.Warn("HOLD_STORE=memory: holds and accounts are lost on restart")
		store = repository.NewMemoryStore()
		users = repository.NewMemoryUserStore()
	}

	// Redis (optional)
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable: rate limiting and layout cache disabled, in-process payment de-duplication")
	} else {
		defer rdb.Close()
	}

	// Broker (optional)
	var pub queue.Publisher = queue.Discard{}
	if cfg.RabbitURL != "" {
		rp := queue.NewRabbitPublisher(cfg.RabbitURL, logger("publisher"))
		defer rp.Close()
		pub = rp
	}

	seats := seatlock.New(store, pub, logger("seatlock"), seatlock.Config{
		HoldTTL:         cfg.HoldTTL,
		MaxSeatsPerHold: cfg.MaxSeatsPerHold,
	})

	// Payments
	var (
		gateway  booking.Gateway = booking.MockGateway{BaseURL: cfg.PublicBaseURL}
		webhooks handler.WebhookParser
		dedupe   booking.Deduper
		mockPSP  = true
	)
	if cfg.StripeSecretKey != "" {
		sg := booking.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		gateway, webhooks, mockPSP = sg, sg, false
		log.Info("payments: stripe")
	} else {
		log.Infof("payments: mock PSP at %s/mock-psp", cfg.PublicBaseURL)
	}
	if rdb != nil {
		dedupe = booking.NewRedisDeduper(rdb, cfg.PaymentDedupeTTL)
	}
	coord := booking.NewCoordinator(store, gateway, dedupe, pub, logger("booking"), booking.Config{
		Currency: cfg.PaymentCurrency,
	})

	// Expiry watchdog
	wd := watchdog.New(seats, cfg.SweepInterval, logger("watchdog"))
	if err := wd.Start(ctx); err != nil {
		log.Fatalf("watchdog: %v", err)
	}
	defer wd.Stop()

	// Consumers
	var wg sync.WaitGroup
	if cfg.RabbitURL != "" {
		consumers := []*queue.Consumer{
			{
				URL:    cfg.RabbitURL,
				Queue:  queue.BookingLogQueue,
				Keys:   []string{queue.KeyBookingConfirmed},
				Handle: (&queue.BookingLog{Dir: cfg.LogDir}).Handle,
				Log:    logger("booking-log"),
			},
			{
				URL:    cfg.RabbitURL,
				Queue:  queue.ReleaseRequestQueue,
				Keys:   []string{queue.KeyReleaseRequested},
				Handle: (&queue.ReleaseWorker{Releaser: seats, Log: logger("release-worker")}).Handle,
				Log:    logger("release-worker"),
			},
		}
		for _, c := range consumers {
			wg.Add(1)
			go func(c *queue.Consumer) {
				defer wg.Done()
				if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Errorf("%s consumer: %v", c.Queue, err)
				}
			}(c)
		}
	}

	// HTTP
	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(level)
	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.Logger())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: cfg.CORSOrigins}))

	cacheCfg := config.LoadCacheConfig()
	var releases queue.Publisher
	if cfg.RabbitURL != "" {
		releases = pub
	}
	router.Register(e, router.Handlers{
		Auth:     handler.NewAuthHandler(cfg, users),
		Seats:    handler.NewSeatHandler(seats),
		Holds:    handler.NewHoldHandler(seats, releases),
		Payments: handler.NewPaymentHandler(coord, webhooks),
		Owner:    handler.NewOwnerHandler(seats, coord, middleware.NewCachePurger(cacheCfg, rdb)),
	}, router.Options{
		JWTSecret: cfg.JWTSecret,
		RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
		Cache:     middleware.NewRedisCache(cacheCfg, rdb),
		MockPSP:   mockPSP,
	})

	addr := ":" + cfg.Port
	log.Infof("listening on %s (env=%s, store=%s)", addr, cfg.Env, cfg.HoldStore)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
	wg.Wait()
}

func parseLevel(s string) log.Lvl {
	switch strings.ToLower(s) {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	}
	return log.INFO
}
