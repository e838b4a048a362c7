package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/slotline/slotline/internal/config"
	"github.com/slotline/slotline/internal/service"
	"github.com/slotline/slotline/internal/service/calendar"
	"github.com/slotline/slotline/internal/service/notify"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Store        *service.Store
	Validator    *service.ScheduleValidator
	Resolver     *service.ConflictResolver
	Optimizer    *service.ScheduleOptimizer
	Scheduler    *service.ContentScheduler
	Publisher    *service.PublisherService
	Monitoring   *service.MonitoringService
	StatsUpdater *service.StatsUpdater
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	store := service.NewStore(db, logger)
	monitoring := service.NewMonitoringService(db, logger)
	validator := service.NewScheduleValidator(store, logger)
	resolver := service.NewConflictResolver(logger)
	optimizer := service.NewScheduleOptimizer(&cfg.Optimizer, store, logger)
	publisherService := service.NewPublisherService(&cfg.Publisher, store, monitoring, logger)
	notifier := notify.NewManager(&cfg.Notifications, logger)
	calendarIntegration := calendar.NewIntegration(&cfg.Calendar, logger)

	scheduler, err := service.NewContentScheduler(&cfg.Scheduler, store, validator,
		publisherService, notifier, calendarIntegration, monitoring, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	statsInterval, err := time.ParseDuration(cfg.Scheduler.StatsInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid stats interval %q: %w", cfg.Scheduler.StatsInterval, err)
	}
	statsUpdater := service.NewStatsUpdater(monitoring, logger, statsInterval)

	// Create router
	router := gin.New()

	// Create server
	srv := &Server{
		Config:       cfg,
		DB:           db,
		Router:       router,
		Logger:       logger,
		Store:        store,
		Validator:    validator,
		Resolver:     resolver,
		Optimizer:    optimizer,
		Scheduler:    scheduler,
		Publisher:    publisherService,
		Monitoring:   monitoring,
		StatsUpdater: statsUpdater,
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// API routes
	api := s.Router.Group("/api/v1")
	{
		content := api.Group("/content")
		{
			content.POST("", s.handleCreateContent)
			content.GET("", s.handleListContent)
			content.GET("/:id", s.handleGetContent)
			content.DELETE("/:id", s.handleDeleteContent)
		}

		schedules := api.Group("/schedules")
		{
			schedules.POST("", s.handleCreateSchedule)
			schedules.GET("", s.handleListSchedules)
			schedules.POST("/validate", s.handleValidateSchedules)
			schedules.POST("/optimize", s.handleOptimizeBatch)
			schedules.GET("/:id", s.handleGetSchedule)
			schedules.POST("/:id/cancel", s.handleCancelSchedule)
			schedules.PUT("/:id/time", s.handleRescheduleSchedule)
			schedules.GET("/:id/optimize", s.handleOptimizeSchedule)
			schedules.GET("/:id/history", s.handlePublishHistory)
		}

		conflicts := api.Group("/conflicts")
		{
			conflicts.GET("", s.handleDetectConflicts)
			conflicts.POST("/resolve", s.handleResolveConflicts)
		}

		api.GET("/suggestions", s.handleSuggestions)
		api.GET("/performance", s.handlePerformance)
		api.GET("/platforms", s.handlePlatforms)
		api.GET("/jobs", s.handleListJobs)
		api.GET("/stats", s.handleStats)
		api.GET("/stats/system", s.handleSystemStats)
		api.GET("/stats/platforms", s.handlePlatformStats)
		api.GET("/errors", s.handleRecentErrors)
		api.PUT("/errors/:id/resolve", s.handleResolveError)
	}
}

func (s *Server) Start(ctx context.Context) error {
	// Start scheduler
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// Start periodic stats rollups
	s.StatsUpdater.Start(ctx)

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop scheduler first so no new jobs fire into a closing server
	s.StatsUpdater.Stop()
	if err := s.Scheduler.Stop(shutdownCtx); err != nil {
		s.Logger.Warn("Scheduler stop did not drain cleanly", zap.Error(err))
	}

	if s.Server == nil {
		return nil
	}

	return s.Server.Shutdown(shutdownCtx)
}
