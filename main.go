package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"mailview/internal/api"
	"mailview/internal/auth"
	"mailview/internal/config"
	"mailview/internal/graph"
	"mailview/internal/logger"
	"mailview/internal/redis"
	"mailview/internal/service/directory"
	"mailview/internal/service/mailbox"
	"mailview/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	cfg, err := config.Load(os.Getenv("MAILVIEW_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg, err := logger.New(cfg.BasicConfig.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Sync()

	users, db, err := openDirectory(cfg)
	if err != nil {
		lg.Fatal("open user directory", zap.String("directory", cfg.BasicConfig.Directory), zap.Error(err))
	}
	if db != nil {
		defer db.Close()
	}

	store, rdb, err := openSessionStore(cfg)
	if err != nil {
		lg.Fatal("open session store", zap.String("session_store", cfg.BasicConfig.SessionStore), zap.Error(err))
	}
	defer rdb.Close()
	lg.Info("storage ready",
		zap.String("directory", cfg.BasicConfig.Directory),
		zap.String("session_store", cfg.BasicConfig.SessionStore))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sessions := auth.NewService(store, time.Duration(cfg.BasicConfig.SessionTTL)*time.Minute, lg.Named("auth"))
	sessions.StartSweeper(ctx, time.Duration(cfg.BasicConfig.SessionSweepInterval)*time.Minute)

	provider := auth.NewProvider(cfg.OAuth)
	tokens := auth.NewTokens(provider, users, lg.Named("tokens"))
	graphClient := graph.NewClient(cfg.Graph.BaseURL, cfg.Graph.PageSize, nil)
	mail := mailbox.NewService(users, graphClient, tokens, lg.Named("mailbox"))

	handlers := api.NewHandler(sessions, provider, users, graphClient, mail, lg.Named("api"))

	router := gin.New()
	router.Use(ginzap.Ginzap(lg, time.RFC3339, true), ginzap.RecoveryWithZap(lg, true))
	if err := handlers.RegisterRoutes(router); err != nil {
		lg.Fatal("register routes", zap.Error(err))
	}

	lg.Info("listening", zap.String("addr", cfg.BasicConfig.ServerAddress))
	if err := router.Run(cfg.BasicConfig.ServerAddress); err != nil {
		lg.Fatal("server stopped", zap.Error(err))
	}
}

// openDirectory returns the configured user directory. The *sql.DB is nil
// for the in-memory directory.
func openDirectory(cfg *config.Config) (directory.Directory, *sql.DB, error) {
	driver := cfg.BasicConfig.Directory
	if driver == "memory" {
		cipher, err := tokenCipher(cfg.BasicConfig.TokenKey)
		if err != nil {
			return nil, nil, err
		}
		return directory.NewMemory(cipher), nil, nil
	}

	if cfg.BasicConfig.TokenKey == "" {
		return nil, nil, errors.New("basic_config.token_key is required for a database directory")
	}
	cipher, err := directory.NewTokenCipher(cfg.BasicConfig.TokenKey)
	if err != nil {
		return nil, nil, err
	}
	db, err := storage.Open(driver, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := storage.Migrate(db, driver); err != nil {
		db.Close()
		return nil, nil, err
	}
	return directory.NewSQL(db, driver, cipher), db, nil
}

func tokenCipher(key string) (*directory.TokenCipher, error) {
	if key == "" {
		return directory.NewEphemeralTokenCipher()
	}
	return directory.NewTokenCipher(key)
}

// openSessionStore returns the configured session store. The redis client is
// nil for the in-memory store; its Close is nil-safe.
func openSessionStore(cfg *config.Config) (auth.Store, *redis.Client, error) {
	if cfg.BasicConfig.SessionStore != "redis" {
		return auth.NewMemoryStore(), nil, nil
	}
	rdb, err := redis.NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return auth.NewRedisStore(rdb), rdb, nil
}
