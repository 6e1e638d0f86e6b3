package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"filmforge/internal/config"
	"filmforge/internal/handler"
	movieHandler "filmforge/internal/handler/movie"
	"filmforge/internal/pkg/ark"
	"filmforge/internal/pkg/cache"
	"filmforge/internal/pkg/fal"
	"filmforge/internal/pkg/ffmpeg"
	"filmforge/internal/pkg/generation"
	"filmforge/internal/pkg/jwt"
	"filmforge/internal/pkg/mongodb"
	"filmforge/internal/pkg/storagefactory"
	"filmforge/internal/pkg/tts"
	billingRepo "filmforge/internal/repository/billing"
	joblockRepo "filmforge/internal/repository/joblock"
	movieRepo "filmforge/internal/repository/movie"
	"filmforge/internal/server/middleware"
	movieSvc "filmforge/internal/service/movie"
)

// Server HTTP 服务器
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	mongo  *mongodb.Client
	redis  *cache.RedisCache
}

// New 创建服务器实例
func New(cfg *config.Config) (*Server, error) {
	// 设置 Gin 模式
	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// 初始化 MongoDB (可选，没有时编排相关接口不注册)
	var mongoClient *mongodb.Client
	if cfg.Mongo.URI != "" {
		client, err := mongodb.New(&cfg.Mongo)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to MongoDB, continuing without it")
		} else {
			mongoClient = client
			log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")

			if err := mongodb.EnsureIndexes(mongoClient.Database()); err != nil {
				log.Warn().Err(err).Msg("failed to ensure indexes")
			}
		}
	}

	// 初始化 Redis (可选，缺失时进度接口直接打到 Mongo)
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without it")
		} else {
			redisCache = rc
			log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
		}
	}

	srv := &Server{
		cfg:    cfg,
		engine: engine,
		mongo:  mongoClient,
		redis:  redisCache,
	}

	if err := srv.setupRoutes(); err != nil {
		return nil, err
	}

	return srv, nil
}

// NewProvider 根据配置创建视频生成提供商
func NewProvider(cfg *config.GenerationConfig) (generation.Provider, error) {
	switch cfg.Provider {
	case "fal", "":
		return fal.NewClient(fal.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
		})
	case "ark":
		return ark.NewVideoClient(ark.VideoConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", cfg.Provider)
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() error {
	// 全局中间件
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger())
	s.engine.Use(middleware.CORS())

	// 健康检查
	healthHandler := handler.NewHealthHandler()
	s.engine.GET("/health", healthHandler.Health)
	s.engine.GET("/ready", healthHandler.Ready)

	// Swagger 文档
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// API v1
	v1 := s.engine.Group("/api/v1")

	if s.mongo == nil {
		log.Warn().Msg("MongoDB not configured, pipeline endpoints disabled")
		return nil
	}
	db := s.mongo.Database()

	projectRepo := movieRepo.NewProjectRepo(db)
	sceneRepo := movieRepo.NewSceneRepo(db)
	generationRepo := movieRepo.NewGenerationRepo(db)
	creditRepo := billingRepo.NewCreditRepo(db)
	lockRepo := joblockRepo.NewLockRepo(db)

	provider, err := NewProvider(&s.cfg.Generation)
	if err != nil {
		return fmt.Errorf("create generation provider: %w", err)
	}

	// 解说是可选能力，没配 token 的部署跳过解说阶段
	var narrator movieSvc.Narrator
	if s.cfg.TTS.AccessToken != "" {
		ttsClient, err := tts.NewClient(tts.Config{
			APIURL:      s.cfg.TTS.APIURL,
			AccessToken: s.cfg.TTS.AccessToken,
			AppID:       s.cfg.TTS.AppID,
			Cluster:     s.cfg.TTS.Cluster,
			SampleRate:  s.cfg.TTS.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("create TTS client: %w", err)
		}
		narrator = ttsClient
	} else {
		log.Warn().Msg("TTS not configured, narration stage will be skipped")
	}

	store, err := storagefactory.NewStorage(&s.cfg.Storage)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}

	media := movieSvc.NewMediaService(ffmpeg.NewClient(), store)
	pricing := movieSvc.NewPricing(s.cfg.Pipeline.ModelCosts, s.cfg.Pipeline.DefaultCost)

	machine := movieSvc.NewSceneMachine(
		projectRepo, sceneRepo, generationRepo, creditRepo,
		provider, narrator, media, pricing,
		s.cfg.Pipeline.MaxRetries, s.cfg.Generation.CallbackURL,
	)
	orchestrator := movieSvc.NewOrchestrator(
		projectRepo, sceneRepo, lockRepo, machine, media,
		s.cfg.Pipeline.BatchSize, s.cfg.Pipeline.LockTTL,
	)

	// 调度器触发（共享密钥校验在任何锁或库访问之前）
	sweepHandler := handler.NewSweepHandler(orchestrator)
	v1.POST("/jobs/scene-sweep",
		middleware.SharedSecret(s.cfg.Auth.CronSecret), sweepHandler.Sweep)

	// 生成服务回调
	webhookHandler := handler.NewWebhookHandler(movieSvc.NewCallbackService(generationRepo))
	v1.POST("/webhooks/generation",
		middleware.SharedSecret(s.cfg.Auth.WebhookSecret), webhookHandler.Generation)

	// 用户侧只读接口
	jwtSecret := s.cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "default-secret-key-change-in-production"
		log.Warn().Msg("JWT secret not configured, using default (NOT SECURE for production)")
	}
	accessTokenExpiry := s.cfg.Auth.AccessTokenExpiry
	if accessTokenExpiry == 0 {
		accessTokenExpiry = 24 * time.Hour
	}
	jwtUtil := jwt.NewJWT(jwtSecret, accessTokenExpiry)

	querySvc := movieSvc.NewQueryService(projectRepo, sceneRepo, s.redis)
	movieHdl := movieHandler.NewHandler(querySvc)

	authed := v1.Group("")
	authed.Use(middleware.Auth(jwtUtil))
	{
		authed.GET("/projects", movieHdl.ListProjects)
		authed.GET("/projects/:project_id", movieHdl.GetProject)
		authed.GET("/projects/:project_id/progress", movieHdl.GetProgress)
		authed.GET("/projects/:project_id/scenes", movieHdl.ListScenes)
	}

	return nil
}

// Run 启动服务器
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")

		if s.mongo != nil {
			if err := s.mongo.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to close MongoDB connection")
			}
		}
		if s.redis != nil {
			if err := s.redis.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close Redis connection")
			}
		}

		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Engine 获取 Gin 引擎 (用于测试)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
