// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: хранилище, сервисы движка, HTTP API,
// Telegram-бот и планировщик. Run держит их до отмены контекста.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mymmrac/telego"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"bintex.app/engine/internal/api"
	"bintex.app/engine/internal/bot"
	"bintex.app/engine/internal/common"
	"bintex.app/engine/internal/config"
	"bintex.app/engine/internal/jobs"
	"bintex.app/engine/internal/metrics"
	"bintex.app/engine/internal/middleware"
)

// shutdownTimeout — сколько ждём завершения HTTP-запросов при остановке.
const shutdownTimeout = 10 * time.Second

// App содержит все компоненты приложения.
type App struct {
	cfg       *config.Config
	Engine    *Engine
	Scheduler *jobs.Scheduler
	HTTP      *http.Server
	Bot       *bot.Bot
	BotAPI    *telego.Bot

	limiter *middleware.RateLimiter
	redis   *redis.Client
	closers []func()
}

// New создаёт и инициализирует приложение.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	// === 1. Хранилище ===
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	// === 2. Сервисы движка ===
	m := metrics.Default()
	a.Engine = NewEngine(cfg, store, m)

	// === 3. Общий rate limiter (API + бот) ===
	a.limiter = middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	a.closers = append(a.closers, a.limiter.Close)

	// === 4. Redis для идемпотентности ===
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			// Клиент остаётся: запросы с Idempotency-Key получат 503, пока Redis недоступен
			log.WithError(err).WithField("addr", cfg.RedisAddr).Warn("Redis недоступен")
		}
		a.closers = append(a.closers, func() { _ = a.redis.Close() })
	} else {
		log.Warn("REDIS_ADDR не задан, идемпотентность HTTP выключена")
	}

	// === 5. HTTP API ===
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET не задан, пользовательские маршруты API будут отвечать 401")
	}
	router := api.NewRouter(api.Config{
		Services:       a.apiServices(),
		Authenticator:  middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer),
		RateLimiter:    a.limiter,
		Idempotency:    middleware.NewIdempotency(a.redis, cfg.IdempotencyTTL),
		AdminKeyHash:   cfg.AdminKeyHash,
		MetricsHandler: promhttp.Handler(),
	})
	a.HTTP = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	// === 6. Telegram ===
	loc := common.Location(cfg.AppTimezone)
	if cfg.BotEnabled() {
		opts := []telego.BotOption{telego.WithLogger(log.StandardLogger())}
		botAPI, err := telego.NewBot(cfg.TelegramBotToken, opts...)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
		}
		me, err := botAPI.GetMe(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ошибка авторизации в Telegram: %w", err)
		}
		log.Infof("Авторизован как @%s", me.Username)

		a.BotAPI = botAPI
		a.Bot = bot.New(botAPI, a.botServices(), a.limiter, cfg.BotMaxInflight, loc)
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN не задан, бот не запускается")
	}

	// === 7. Планировщик задач ===
	var bonuses jobs.BonusEvaluator
	if a.Engine.Bonuses != nil && len(a.Engine.Bonuses.Tiers()) > 0 {
		bonuses = a.Engine.Bonuses
	}
	a.Scheduler = jobs.NewScheduler(store, a.Engine.Rewards, bonuses, loc, cfg.AccrualSweepCron, cfg.BonusSweepCron)

	return a, nil
}

// Run запускает HTTP, бота и планировщик и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}
	defer a.Scheduler.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithField("addr", a.HTTP.Addr).Info("HTTP API слушает")
		if err := a.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP сервер: %w", err)
		}
	}()

	if a.Bot != nil {
		updates, err := a.BotAPI.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
			Timeout: a.cfg.BotUpdateTimeoutSeconds,
		})
		if err != nil {
			cancel()
			a.shutdownHTTP()
			wg.Wait()
			return fmt.Errorf("ошибка запуска long polling: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Bot.Start(ctx, updates)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	a.shutdownHTTP()
	wg.Wait()
	return runErr
}

func (a *App) shutdownHTTP() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.HTTP.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("HTTP сервер остановлен с ошибкой")
	}
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) apiServices() api.Services {
	e := a.Engine
	return api.Services{
		Accounts:  e.Accounts,
		Catalog:   e.Catalog,
		Purchases: e.Purchases,
		Rewards:   e.Rewards,
		Bonuses:   e.Bonuses,
		Wheel:     e.Wheel,
	}
}

func (a *App) botServices() bot.Services {
	e := a.Engine
	return bot.Services{
		Accounts:  e.Accounts,
		Catalog:   e.Catalog,
		Purchases: e.Purchases,
		Rewards:   e.Rewards,
		Bonuses:   e.Bonuses,
		Wheel:     e.Wheel,
	}
}
