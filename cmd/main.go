package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"portalchat/backend/internal/api/handler"
	"portalchat/backend/internal/chathub"
	"portalchat/backend/internal/config"
	"portalchat/backend/internal/logging"
	"portalchat/backend/internal/storage"
	"portalchat/backend/internal/telegram"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// stores is what the rest of main needs from the selected backend.
type stores struct {
	store    storage.Store
	profiles storage.ProfileStore
	close    func()
}

func setupPostgres(ctx context.Context, cfg *config.Config, log zerolog.Logger) (stores, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return stores{}, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return stores{}, err
	}

	svc := storage.NewStorageService(db, rdb, cfg.ProfileCacheTTL, log)
	if err := svc.Migrate(); err != nil {
		return stores{}, err
	}
	log.Info().Msg("database and redis connections established, migrations complete")

	return stores{
		store:    svc,
		profiles: svc,
		close: func() {
			_ = rdb.Close()
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		},
	}, nil
}

func setupStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn().Msg("using in-memory store, data is lost on exit")
		mem := storage.NewMemoryStore()
		return stores{store: mem, profiles: mem, close: func() {}}, nil
	}
	return setupPostgres(ctx, cfg, log)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		errLog := logging.New(os.Stderr, "error", false)
		errLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.New(os.Stdout, cfg.LogLevel, cfg.LogPretty)
	log.Info().Str("store", cfg.StoreDriver).Str("addr", cfg.HTTPAddr).Msg("starting portalchat backend")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Ініціалізація залежностей
	st, err := setupStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up storage")
	}
	defer st.close()

	// 2. Chat Hub
	hub := chathub.NewHub(st.store, st.profiles, chathub.OptionsFromConfig(cfg), log)

	// 3. Telegram notifier (optional)
	var notifier *telegram.Notifier
	if cfg.TelegramBotToken != "" {
		bot, err := telegram.NewBotAPI(cfg.TelegramBotToken, log)
		if err != nil {
			log.Error().Err(err).Msg("telegram notifier disabled")
		} else {
			notifier = telegram.NewNotifier(bot, hub.RoomList, st.profiles, log)
			if err := notifier.Start(hub.Context()); err != nil {
				log.Error().Err(err).Msg("telegram notifier disabled")
				notifier = nil
			}
		}
	}

	// 4. Gin та роутинг
	if !cfg.LogPretty {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logging.Gin(log))
	handler.NewHandler(hub, st.profiles, cfg, log).Register(r)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	hub.Shutdown()
	if notifier != nil {
		notifier.Wait()
	}
}
