package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"live-session/internal/domain"
	httpHandler "live-session/internal/handler/http"
	wsHandler "live-session/internal/handler/websocket"
	"live-session/internal/hub"
	gormpersistence "live-session/internal/infra/persistence/gorm"
	"live-session/internal/infra/rtc"
	"live-session/internal/infra/setup"
	redisstate "live-session/internal/infra/state/redis"
	"live-session/internal/middleware"
	"live-session/internal/repository"
	"live-session/internal/service"
	"live-session/internal/tasks"
	"live-session/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqServer *worker.WorkerServer
	Scheduler   *asynq.Scheduler
	Hub         *hub.Hub
	HttpServer  *http.Server

	redisClientOpt asynq.RedisClientOpt
	cancel         context.CancelFunc
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger。服务层使用包级 logrus，因此直接配置标准 Logger
	log := newLogger(cfg)
	log.Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err = setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database initialized and migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	log.Info("Redis client initialized")

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	// 4. 初始化 Repositories
	userRepo := gormpersistence.NewGormUserRepository(db)
	projectRepo := gormpersistence.NewGormProjectRepository(db)
	sessionRepo := gormpersistence.NewGormSessionRepository(db)
	participantRepo := gormpersistence.NewGormParticipantRepository(db)
	joinRequests := redisstate.NewRedisJoinRequestStore(redisClient, cfg.KeyPrefix, cfg.JoinRequestRetention)
	stateRepo := redisstate.NewRedisStateRepository(redisClient, cfg.KeyPrefix)
	log.Info("Repositories initialized")

	issuer, err := newCredentialIssuer(cfg)
	if err != nil {
		return nil, err
	}
	policy, err := service.NewAutoApprovePolicy(cfg.AutoApprovePolicy, participantRepo)
	if err != nil {
		return nil, fmt.Errorf("failed to create auto-approve policy: %w", err)
	}

	// 5. 初始化 Hub 与 Services。
	// Hub 是各服务的 Notifier，而 Hub 处理帧和快照又依赖服务，这里用函数适配器延迟绑定。
	var bus repository.StateRepository
	if cfg.EventBusEnabled {
		bus = stateRepo
	}
	var (
		sessionService     *service.SessionService
		interactionService *service.InteractionService
	)
	hubInstance := hub.NewHub(
		hub.FrameHandlerFunc(func(ctx context.Context, sessionID string, userID uint, raw []byte) (*domain.Event, error) {
			return interactionService.HandleFrame(ctx, sessionID, userID, raw)
		}),
		hub.SnapshotFunc(func(ctx context.Context, userID uint, sessionID string) (*domain.SnapshotPayload, error) {
			return sessionService.Snapshot(ctx, userID, sessionID)
		}),
		bus,
	)

	authService, err := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	locks := service.NewSessionLocks()
	projectService := service.NewProjectService(projectRepo, userRepo)
	sessionService = service.NewSessionService(sessionRepo, participantRepo, projectRepo, joinRequests, hubInstance, locks, service.SessionConfig{
		MaxActivePerProject: cfg.MaxActiveSessionsPerProject,
		InactivityThreshold: cfg.InactivityThreshold,
	})
	participantService := service.NewParticipantService(sessionRepo, participantRepo, projectRepo, issuer, hubInstance, locks, service.ParticipantConfig{
		CredentialTTL:   cfg.CredentialTTL,
		CredentialGrace: cfg.CredentialGrace,
		RefreshWindow:   cfg.CredentialRefreshWindow,
	})
	admissionService := service.NewAdmissionService(sessionRepo, participantRepo, projectRepo, userRepo, joinRequests, policy, hubInstance, service.AdmissionConfig{
		RequestTTL:       cfg.JoinRequestTTL,
		WarningThreshold: cfg.ExpiryWarning,
	})
	interactionService = service.NewInteractionService(sessionRepo, participantRepo, hubInstance, locks, service.SystemClock)
	log.WithFields(logrus.Fields{
		"auto_approve": policy.Name(),
		"rtc_mode":     cfg.RTCMode,
		"event_bus":    cfg.EventBusEnabled,
	}).Info("Services initialized")

	// 6. 初始化 Worker Server
	workerServer := worker.NewWorkerServer(
		redisClientOpt,
		worker.NewAdmissionSweepHandler(admissionService),
		worker.NewInactivitySweepHandler(sessionService, participantService),
		log,
	)

	// 7. 初始化 Gin Engine 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(corsMiddleware(cfg.CORSAllowedOrigin))

	httpHandler.RegisterRoutes(router, httpHandler.Handlers{
		Auth:        httpHandler.NewAuthHandler(authService),
		Project:     httpHandler.NewProjectHandler(projectService, sessionService),
		Session:     httpHandler.NewSessionHandler(sessionService),
		Participant: httpHandler.NewParticipantHandler(participantService),
		Admission:   httpHandler.NewAdmissionHandler(admissionService),
		WebSocket:   wsHandler.NewWebSocketHandler(hubInstance, sessionService, cfg.WSAllowedOrigins),
	}, httpHandler.RouteMiddleware{
		Auth:          middleware.Auth(cfg.JWTSecret),
		AuthRateLimit: middleware.RateLimit(stateRepo, "auth", cfg.AuthRateLimitMax, cfg.RateLimitWindow),
		APIRateLimit:  middleware.RateLimit(stateRepo, "api", cfg.RateLimitMax, cfg.RateLimitWindow),
	})
	log.Info("Router setup complete")

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	app := &App{
		Config:         cfg,
		Log:            log,
		DB:             db,
		RedisClient:    redisClient,
		AsynqServer:    workerServer,
		Hub:            hubInstance,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}
	log.Info("Application assembled successfully")
	return app, nil
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.StandardLogger()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // LoadConfig 已校验
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	log.Infof("Logger initialized (Level: %s, Format: %T)", logLevel.String(), log.Formatter)
	return log
}

// newCredentialIssuer 按 RTC_MODE 选择凭证签发方式
func newCredentialIssuer(cfg *Config) (service.CredentialIssuer, error) {
	switch cfg.RTCMode {
	case RTCModeHTTP:
		return rtc.NewHTTPIssuer(cfg.RTCEndpoint, cfg.RTCAPIKey, cfg.RTCTimeout, cfg.RTCAttempts), nil
	default:
		issuer, err := rtc.NewJWTIssuer(cfg.RTCAPIKey, cfg.RTCSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to create credential issuer: %w", err)
		}
		return issuer, nil
	}
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.Log.Info("Starting application background routines...")
	go a.Hub.Run(ctx)
	go a.runRelay(ctx)

	go a.AsynqServer.Start()
	a.Log.Info("Asynq worker server routine started")

	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// runRelay 保持总线订阅，连接断开后退避重连，直到 ctx 结束
func (a *App) runRelay(ctx context.Context) {
	if !a.Config.EventBusEnabled {
		a.Log.Info("Event bus disabled, delivering events in-process only")
		return
	}
	err := retry.Do(
		func() error { return a.Hub.RunRelay(ctx) },
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			a.Log.WithError(err).Warnf("Event relay subscription lost, reconnecting (attempt %d)", n+1)
		}),
	)
	if err != nil && ctx.Err() == nil {
		a.Log.WithError(err).Error("Event relay stopped")
	}
}

func (a *App) registerPeriodicTasks() {
	scheduler := asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   a.Log.WithField("component", "scheduler"),
	})

	for _, pt := range tasks.Periodic(a.Config.AdmissionSweepInterval, a.Config.InactivityCheckInterval) {
		entryID, err := scheduler.Register(pt.Cronspec, pt.Task, pt.Opts...)
		if err != nil {
			a.Log.Errorf("Could not register periodic task %s: %v", pt.Task.Type(), err)
			continue
		}
		a.Log.Infof("Periodic task %s registered with schedule '%s' (EntryID: %s)", pt.Task.Type(), pt.Cronspec, entryID)
	}

	if err := scheduler.Start(); err != nil {
		a.Log.Errorf("Asynq scheduler failed to start: %v", err)
		return
	}
	a.Scheduler = scheduler
	a.Log.Info("Asynq scheduler started")
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 停止调度，不再产生新的清理任务
	if a.Scheduler != nil {
		a.Scheduler.Shutdown()
		a.Log.Info("Asynq scheduler stopped.")
	}

	// 2. 优雅关闭 HTTP 服务器
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 3. 停止 Hub 与总线订阅，关闭所有 WebSocket 连接
	if a.cancel != nil {
		a.cancel()
	}

	// 4. 优雅关闭 Worker Server
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// 5. 关闭 Redis 连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}

	// 6. 关闭数据库连接池
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			} else {
				a.Log.Info("Database connection closed.")
			}
		}
	}

	a.Log.Info("Application shutdown complete.")
}

func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})
		if userID, ok := middleware.UserID(c); ok {
			entry = entry.WithField("user_id", userID)
		}

		// 查询串可能携带 token，不写入日志
		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			entry.Error(errorMessage)
			return
		}
		switch {
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
