package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"studyroomix/internal/assistant"
	"studyroomix/internal/coordinator"
	"studyroomix/internal/credential"
	httpHandler "studyroomix/internal/handler/http"
	wsHandler "studyroomix/internal/handler/websocket"
	"studyroomix/internal/hub"
	"studyroomix/internal/infra/memory"
	gormpersistence "studyroomix/internal/infra/persistence/gorm"
	"studyroomix/internal/infra/setup"
	redisstate "studyroomix/internal/infra/state/redis"
	"studyroomix/internal/middleware"
	"studyroomix/internal/repository"
	"studyroomix/internal/service"
	"studyroomix/internal/tasks"
	"studyroomix/internal/worker"
)

const (
	sessionReapSchedule = "@every 5m"
	shutdownTimeout     = 10 * time.Second
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Scheduler   *asynq.Scheduler
	Hub         *hub.Hub
	HttpServer  *http.Server
	Router      *gin.Engine

	study  *service.StudyService
	cancel context.CancelFunc
}

// repositories 汇总行存储与 Redis 状态存储
type repositories struct {
	rooms    repository.RoomRepository
	members  repository.MemberRepository
	sessions repository.SessionRepository
	messages repository.MessageRepository
	history  repository.ChatHistoryRepository
	state    repository.StateRepository
	feed     repository.ChangeFeed
}

// NewApp 加载配置并创建应用的所有组件
func NewApp() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		// logrus 还未按配置初始化
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig 按给定配置组装应用
func NewAppWithConfig(cfg *Config) (*App, error) {
	log := newLogger(cfg)
	log.Info("Configuration loaded successfully")

	app := &App{Config: cfg, Log: log}

	// 1. 基础设施与 Repositories
	repos, err := app.initInfrastructure()
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	// 2. Services
	log.Info("Initializing services...")
	verifier, err := credential.New(cfg.RoomPasswordMode)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("failed to create credential verifier: %w", err)
	}

	// 接口变量保持 nil，避免 typed-nil
	var enqueuer service.TaskEnqueuer
	if app.AsynqClient != nil {
		enqueuer = app.AsynqClient
	}
	var generator assistant.Generator
	if cfg.GeminiAPIKey != "" {
		gemini, err := assistant.NewGeminiGenerator(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			app.closeInfrastructure()
			return nil, fmt.Errorf("failed to create assistant generator: %w", err)
		}
		generator = gemini
	} else {
		log.Warn("GEMINI_API_KEY not set, assistant endpoints will report unavailable")
	}

	policy := cfg.RetryPolicy()
	roomService := service.NewRoomService(repos.rooms, repos.members, repos.sessions, repos.state, repos.feed, verifier, enqueuer, policy)
	studyService := service.NewStudyService(repos.rooms, repos.members, repos.sessions, repos.feed, policy)
	playbackService := service.NewPlaybackService(repos.rooms, repos.state, repos.feed, policy)
	messageService := service.NewMessageService(repos.rooms, repos.members, repos.messages, repos.feed, policy)
	assistantService := service.NewAssistantService(repos.history, generator, enqueuer, policy)
	app.study = studyService
	log.Info("Services initialized")

	// 3. Hub
	app.Hub = hub.NewHub(repos.feed, policy)

	// 4. Worker Server
	if !cfg.InMemory() {
		app.AsynqServer = worker.NewWorkerServer(app.redisClientOpt(), worker.Deps{
			StateRepo: repos.state,
			Reaper:    studyService,
			History:   assistantService,
		}, log)
		log.Info("Worker server initialized")
	}

	// 5. Gin Engine 和路由
	services := coordinator.Services{
		Rooms:    roomService,
		Study:    studyService,
		Playback: playbackService,
		Messages: messageService,
	}
	app.Router = app.buildRouter(repos.state, services,
		httpHandler.NewRoomHandler(roomService, studyService),
		httpHandler.NewMessageHandler(roomService, messageService),
		httpHandler.NewPlaybackHandler(roomService, playbackService),
		httpHandler.NewStudyHandler(studyService),
		httpHandler.NewAssistantHandler(assistantService),
	)

	app.HttpServer = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("Application assembled successfully")
	return app, nil
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel) // LoadConfig 已校验
	log.SetLevel(level)
	log.SetOutput(os.Stdout)

	// 各组件直接使用 logrus 包级 logger，保持同样的格式和级别
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(level)
	return log
}

func (a *App) initInfrastructure() (*repositories, error) {
	cfg := a.Config
	if cfg.InMemory() {
		a.Log.Warn("DB_DRIVER=memory: all state lives in process memory and is lost on restart")
		store := memory.NewStore()
		return &repositories{
			rooms:    store.Rooms(),
			members:  store.Members(),
			sessions: store.Sessions(),
			messages: store.Messages(),
			history:  store.ChatHistory(),
			state:    store.State(),
			feed:     memory.NewChangeFeed(),
		}, nil
	}

	a.Log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DBOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	a.DB = db
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	a.Log.Info("Database migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	a.RedisClient = redisClient
	a.AsynqClient = asynq.NewClient(a.redisClientOpt())
	a.Log.Info("Infrastructure initialized successfully")

	return &repositories{
		rooms:    gormpersistence.NewGormRoomRepository(db),
		members:  gormpersistence.NewGormMemberRepository(db),
		sessions: gormpersistence.NewGormSessionRepository(db),
		messages: gormpersistence.NewGormMessageRepository(db),
		history:  gormpersistence.NewGormChatHistoryRepository(db),
		state:    redisstate.NewRedisStateRepository(redisClient, cfg.KeyPrefix),
		feed:     redisstate.NewRedisChangeFeed(redisClient, cfg.KeyPrefix),
	}, nil
}

func (a *App) redisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
	}
}

func (a *App) buildRouter(
	limiter middleware.RateLimiter,
	services coordinator.Services,
	rooms *httpHandler.RoomHandler,
	messages *httpHandler.MessageHandler,
	playback *httpHandler.PlaybackHandler,
	study *httpHandler.StudyHandler,
	assistantHandler *httpHandler.AssistantHandler,
) *gin.Engine {
	cfg := a.Config
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(a.Log))
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))
	// 限流在鉴权之后，已登录请求按用户计数
	rateLimit := middleware.RateLimit(limiter, cfg.RateLimitMax, cfg.RateLimitWindow)

	api := router.Group("/api")
	api.Use(middleware.Auth(cfg.JWTSecret), rateLimit)
	httpHandler.RegisterRoutes(api, rooms, messages, playback, study, assistantHandler)

	ws := wsHandler.NewWebSocketHandler(a.Hub, services, cfg.CORSAllowedOrigin)
	wsRoutes := router.Group("/ws").Use(middleware.Auth(cfg.JWTSecret), rateLimit)
	{
		wsRoutes.GET("/rooms/:roomId", ws.HandleConnection)
	}
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	return router
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go a.Hub.Run(ctx)
	a.Log.Info("Hub routine started")

	if a.AsynqServer != nil {
		go a.AsynqServer.Start()
		a.registerPeriodicTasks()
	} else {
		go a.runLocalReaper(ctx)
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

func (a *App) registerPeriodicTasks() {
	scheduler := asynq.NewScheduler(a.redisClientOpt(), &asynq.SchedulerOpts{
		Logger:   a.Log.WithField("component", "scheduler"),
		LogLevel: asynq.WarnLevel,
	})
	entryID, err := scheduler.Register(sessionReapSchedule, tasks.NewSessionReapTask(), asynq.Queue("low"))
	if err != nil {
		a.Log.Errorf("Could not register periodic session reap task: %v", err)
		return
	}
	a.Log.Infof("Periodic session reap task registered with schedule '%s' (EntryID: %s)", sessionReapSchedule, entryID)
	a.Scheduler = scheduler

	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := scheduler.Run(); err != nil {
			a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
		}
	}()
}

// runLocalReaper 在内存模式下代替 asynq scheduler 周期性回收孤儿会话
func (a *App) runLocalReaper(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed, err := a.study.ReapOrphanSessions(ctx)
			if err != nil {
				a.Log.WithError(err).Warn("Local session reap failed")
				continue
			}
			if closed > 0 {
				a.Log.WithField("closed", closed).Info("Local session reap closed orphan sessions")
			}
		}
	}
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// 1. 先结束所有实时连接，写回打开的计时会话
	if a.Hub != nil {
		a.Hub.CloseAll(ctx)
	}
	if a.cancel != nil {
		a.cancel()
	}

	// 2. HTTP 服务器
	if a.HttpServer != nil {
		if err := a.HttpServer.Shutdown(ctx); err != nil {
			a.Log.Errorf("Error shutting down HTTP server: %v", err)
		} else {
			a.Log.Info("HTTP server shut down gracefully.")
		}
	}

	// 3. Scheduler 与 Worker
	if a.Scheduler != nil {
		a.Scheduler.Shutdown()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	a.closeInfrastructure()
	a.Log.Info("Application shutdown complete.")
}

func (a *App) closeInfrastructure() {
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
		a.AsynqClient = nil
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
		a.RedisClient = nil
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			}
		}
		a.DB = nil
	}
}

// CORSMiddleware 允许前端来源跨域访问，"*" 表示任意来源（此时不带凭证）
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if allowedOrigin == "*" {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = []string{allowedOrigin}
	}
	return cors.New(cfg)
}

// 这些查询参数的值不写入日志；WebSocket 握手通过 ?token= 传递 JWT
var sensitiveQueryKeys = []string{"password", "token", "access_token"}

func redactQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		// 无法解析时整体丢弃
		return "[unparsable]"
	}
	for _, key := range sensitiveQueryKeys {
		if _, ok := values[key]; ok {
			values.Set(key, "REDACTED")
		}
	}
	return values.Encode()
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if query := redactQuery(c.Request.URL.RawQuery); query != "" {
			path = path + "?" + query
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})
		if userID, ok := c.Get(middleware.UserIDKey); ok {
			entry = entry.WithField("user_id", userID)
		}

		switch {
		case errorMessage != "":
			entry.Error(errorMessage)
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
