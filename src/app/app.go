package app

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/terraforum/backend/src/domain"
	"github.com/terraforum/backend/src/handler"
	"github.com/terraforum/backend/src/repository"
	"github.com/terraforum/backend/src/service"

	"github.com/rs/zerolog"
	postgresDriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Application struct {
	config              AppConfig
	database            *gorm.DB
	redis               *redis.Client
	chain               service.ChainClient
	ChallengeService    *service.ChallengeService
	VerificationService *service.VerificationService
	RewardService       *service.RewardService
	RewardWorker        *service.RewardWorker
}

func NewApplication(ctx context.Context, config AppConfig) (*Application, error) {
	logger := zerolog.Ctx(ctx).With().Str("function", "NewApplication").Logger()

	// Connect to Redis
	redisOpts, err := redis.ParseURL(*config.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(redisOpts)

	// Test Redis connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connection to redis failed: %w", err)
	}
	logger.Info().Msg("Redis connection established")

	// Connect to database. TranslateError turns driver duplicate-key errors
	// into gorm.ErrDuplicatedKey, which the binding and dedupe paths rely on.
	database, err := gorm.Open(postgresDriver.Open(*config.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connection to database failed: %w", err)
	}

	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connection to database failed: %w", err)
	}

	logger.Info().Msg("Database connection established")

	// run migration files
	MigrationUp(*config.DSN, *config.MigrationPath)

	chain, err := service.NewEthChainClient(ctx, service.EthChainConfig{
		RPCURL:        *config.RPCURL,
		ChainID:       *config.ChainID,
		PrivateKey:    *config.IssuerPrivateKey,
		TokenContract: *config.TokenContract,
		Confirmations: *config.Confirmations,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chain client: %w", err)
	}

	logger.Info().
		Str("issuer", chain.IssuerAddress()).
		Int64("chain_id", *config.ChainID).
		Msg("Chain client connected")

	userRepo := repository.NewUserRepository(database)
	challengeRepo := repository.NewChallengeRepository(database)
	rewardRepo := repository.NewRewardRepository(database)

	challengeService := service.NewChallengeService(challengeRepo, userRepo, time.Duration(*config.ChallengeTTLSeconds)*time.Second)
	verificationService := service.NewVerificationService(database, challengeRepo, userRepo, service.NewSignatureVerifier())

	rewardService := service.NewRewardService(rewardRepo, userRepo, chain, service.RewardConfig{
		MaxAttempts:     *config.MaxSubmitAttempts,
		FinalityTimeout: time.Duration(*config.FinalityTimeoutSeconds) * time.Second,
		CurrencyCodes: map[domain.TokenKind]string{
			domain.TokenKindNative: "ETH",
			domain.TokenKindTerra:  "TERRA",
		},
	})

	rewardWorker := service.NewRewardWorker(ctx, rdb, *config.RewardQueue, time.Duration(*config.SweepIntervalSeconds)*time.Second, rewardService)

	return &Application{
		config:              config,
		database:            database,
		redis:               rdb,
		chain:               chain,
		ChallengeService:    challengeService,
		VerificationService: verificationService,
		RewardService:       rewardService,
		RewardWorker:        rewardWorker,
	}, nil
}

func (app *Application) Shutdown(ctx context.Context) {
	logger := zerolog.Ctx(ctx).With().Str("function", "Shutdown").Logger()

	// Close chain client session
	if app.chain != nil {
		app.chain.Close()
		logger.Info().Msg("Chain client closed")
	}

	// Close database connection
	if app.database != nil {
		db, err := app.database.DB()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to get underlying database connection")
		} else {
			if err := db.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close database connection")
			} else {
				logger.Info().Msg("Database connection closed")
			}
		}
	}

	// Close Redis connection
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close redis connection")
		} else {
			logger.Info().Msg("Redis connection closed")
		}
	}
}

func (app *Application) RunHTTPServer(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunHTTPServer").Logger()

	// Set to release mode to disable Gin logger
	gin.SetMode(gin.ReleaseMode)

	ginRouter := gin.Default()

	// Register routes
	app.registerRoutes(ctx, ginRouter)

	// Build HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", *app.config.Port),
		Handler: ginRouter,
	}

	// Start server in goroutine
	go func() {
		zerolog.Ctx(ctx).Info().Msgf("HTTP server is on http://localhost:%s/api/v1/health", *app.config.Port)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			zerolog.Ctx(ctx).Panic().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	logger.Info().Msg("Gracefully shutting down HTTP server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shutdown HTTP server gracefully")
	} else {
		logger.Info().Msg("HTTP server shutdown complete")
	}
}

func (app *Application) RunRewardWorker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunRewardWorker").Logger()
	logger.Info().Msg("Starting reward worker")

	app.RewardWorker.Start()

	<-ctx.Done()
	logger.Info().Msg("Stopping reward worker...")

	app.RewardWorker.Stop()

	logger.Info().Msg("Reward worker stopped")
}

func (app *Application) registerRoutes(ctx context.Context, router *gin.Engine) {

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if value, ok := field.Interface().(decimal.Decimal); ok {
				return value.String()
			}
			return nil
		}, decimal.Decimal{})
	}

	// Configure CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = *app.config.AllowOrigins
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	config.AllowCredentials = true

	router.Use(cors.New(config))

	handler.SetMiddlewares(ctx, router)

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	walletHandler := handler.NewWalletHandler(app.ChallengeService, app.VerificationService)
	rewardHandler := handler.NewRewardHandler(app.RewardService, app.RewardWorker)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handler.HandleHealthCheck)

		authed := v1.Group("", handler.AuthMiddleware(*app.config.JWTSecret))
		{
			authed.POST("/wallet/challenge", walletHandler.IssueChallenge())
			authed.POST("/wallet/verify", walletHandler.VerifyChallenge())
			authed.DELETE("/wallet", walletHandler.UnlinkWallet())

			authed.GET("/rewards/:id", rewardHandler.GetReward())
			authed.GET("/rewards", rewardHandler.ListRewards())

			stewards := authed.Group("", handler.StewardOnly())
			{
				stewards.POST("/rewards", rewardHandler.CreateReward())
			}
		}
	}
}
