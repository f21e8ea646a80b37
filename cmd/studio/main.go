package main

import (
	"fmt"
	"os"
	"time"

	"github.com/emrantusho/the-final-studio/cmd/studio/internal/handler"
	"github.com/emrantusho/the-final-studio/cmd/studio/internal/middleware"
	"github.com/emrantusho/the-final-studio/cmd/studio/internal/service"
	"github.com/emrantusho/the-final-studio/config"
	"github.com/emrantusho/the-final-studio/infra/cache"
	"github.com/emrantusho/the-final-studio/infra/database"
	"github.com/emrantusho/the-final-studio/infra/storage"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = logger.With().Str("service", cfg.ServerName).Logger()

	db, err := database.NewPostgresDB(cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.CreateTables(&storage.User{}, &storage.Session{}, &storage.Setting{}, &storage.APIKey{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate tables")
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	userRepo := storage.NewUserRepository(db)
	sessionRepo := storage.NewSessionRepository(db)
	settingRepo := storage.NewSettingRepository(db)
	keyRepo := storage.NewAPIKeyRepository(db)

	authService := service.NewAuthService(cfg.Session, userRepo, sessionRepo, logger)
	credService := service.NewCredentialService(cfg.Session.Secret, keyRepo)
	llmClient := service.NewLLMClient(cfg.LLM, logger)

	authHandler := handler.NewAuthHandler(authService)
	adminHandler := handler.NewAdminHandler(settingRepo, credService)
	chatHandler := handler.NewChatHandler(llmClient, credService, settingRepo, cfg.LLM.Provider, logger)

	r := gin.New()
	r.SetTrustedProxies(nil)
	r.Use(gin.Logger(), gin.Recovery())

	rateLimit := middleware.RateLimit(redisClient, cfg.Redis.RateLimitQPS, logger)
	sessionAuth := middleware.SessionAuth(authService)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"service":   cfg.ServerName,
			"timestamp": time.Now(),
		})
	})

	auth := r.Group("/auth")
	{
		auth.POST("/login", rateLimit, authHandler.Login)
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/session", authHandler.Session)
	}

	admin := r.Group("/admin")
	admin.Use(sessionAuth)
	{
		admin.GET("/settings", adminHandler.GetSettings)
		admin.PUT("/settings", adminHandler.UpdateSetting)
		admin.GET("/keys", adminHandler.GetKeys)
		admin.PUT("/keys", adminHandler.UpdateKey)
	}

	chat := r.Group("/chat")
	chat.Use(rateLimit, sessionAuth)
	{
		chat.POST("/message", chatHandler.Message)
		chat.POST("/stream", chatHandler.Stream)
	}

	logger.Info().Int("port", cfg.Port).Msg("studio server starting")
	if err := r.Run(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
