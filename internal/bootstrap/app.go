package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "movienights/internal/handler/http"
	wsHandler "movienights/internal/handler/websocket"
	"movienights/internal/hub"
	gormpersistence "movienights/internal/infra/persistence/gorm"
	"movienights/internal/infra/setup"
	"movienights/internal/middleware"
	"movienights/internal/repository"
	"movienights/internal/service"
	"movienights/internal/tasks"
	"movienights/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB // 未启用归档时为 nil
	Stores      *Stores
	Services    *Services
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *hub.Hub
	HttpServer  *http.Server

	redisClientOpt asynq.RedisClientOpt
	scheduler      *asynq.Scheduler
	stopSweep      context.CancelFunc
}

// NewLogger 按配置创建 logger，同时设置 logrus 的全局 logger
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)

	// 服务层直接使用 logrus 包级函数
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(logLevel)
	logrus.SetOutput(log.Out)
	return log
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig 使用给定配置组装应用
func NewAppWithConfig(cfg *Config) (*App, error) {
	log := NewLogger(cfg)
	log.Infof("Configuration loaded (backend: %s, env: %s)", cfg.StoreBackend, cfg.AppEnv)

	tickets, err := service.NewTicketService(cfg.TicketSecret, cfg.TicketExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create TicketService: %w", err)
	}

	stores, err := OpenStores(cfg)
	if err != nil {
		return nil, err
	}
	log.Info("Room store initialized")

	app := &App{Config: cfg, Log: log, Stores: stores}

	// 任务队列依赖 Redis
	var notifier service.LifecycleNotifier
	var archiveRepo repository.RoomArchiveRepository
	if stores.Redis != nil {
		app.redisClientOpt = asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
		if cfg.ArchiveEnabled() {
			db, err := setup.InitDB(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
			if err != nil {
				_ = stores.Close()
				return nil, fmt.Errorf("failed to init DB: %w", err)
			}
			if err := setup.MigrateDB(db); err != nil {
				_ = stores.Close()
				return nil, fmt.Errorf("failed to migrate DB: %w", err)
			}
			log.Info("Archive database initialized")
			app.DB = db
			archiveRepo = gormpersistence.NewGormRoomArchiveRepository(db)

			app.AsynqClient = asynq.NewClient(app.redisClientOpt)
			notifier = tasks.NewArchiveNotifier(app.AsynqClient)
		} else {
			log.Info("DB_HOST not set, room archive disabled")
		}
	}

	services := NewServices(cfg, stores, notifier)
	app.Services = services
	if stores.Redis != nil {
		app.AsynqServer = worker.NewWorkerServer(app.redisClientOpt, archiveRepo, services.Presence, log)
	}

	app.Hub = hub.NewHub(stores.Rooms, hub.Services{
		Presence:   services.Presence,
		Events:     services.Events,
		Controller: services.Controller,
		Playback:   services.Playback,
	})

	roomHandler := httpHandler.NewRoomHandler(services.Rooms, services.Presence, tickets)
	sessionHandler := httpHandler.NewSessionHandler(services.Controller, services.Playback, services.Events)
	websocketHandler := wsHandler.NewWebSocketHandler(app.Hub, services.Rooms, cfg.CORSAllowedOrigin)

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))
	if stores.Redis != nil {
		router.Use(middleware.RateLimit(stores.Redis, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))
	}
	httpHandler.RegisterRoutes(router, roomHandler, sessionHandler, middleware.Ticket(tickets), websocketHandler.HandleConnection)
	log.Info("Router setup complete")

	app.HttpServer = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app, nil
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	if a.AsynqServer != nil {
		go a.AsynqServer.Start()
		a.registerPeriodicTasks()
	} else {
		a.startLocalSweep()
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// registerPeriodicTasks 多个节点同时注册时由 asynq 的唯一性保证每个周期只清理一次
func (a *App) registerPeriodicTasks() {
	a.scheduler = asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{})

	schedule := fmt.Sprintf("@every %s", a.Config.PresenceSweep)
	entryID, err := a.scheduler.Register(schedule, tasks.NewPresenceSweepTask(),
		asynq.Queue("default"), asynq.Unique(a.Config.PresenceSweep))
	if err != nil {
		a.Log.Errorf("Could not register presence sweep task: %v", err)
		return
	}
	a.Log.Infof("Presence sweep task registered with schedule '%s' (EntryID: %s)", schedule, entryID)

	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := a.scheduler.Run(); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
		}
	}()
}

// startLocalSweep memory 后端没有任务队列，在进程内定时清理
func (a *App) startLocalSweep() {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopSweep = cancel
	go func() {
		ticker := time.NewTicker(a.Config.PresenceSweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := a.Services.Presence.SweepStale(ctx); err != nil {
					a.Log.WithError(err).Warn("Local presence sweep failed")
				}
			}
		}
	}()
	a.Log.Infof("Local presence sweep started (every %s)", a.Config.PresenceSweep)
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	if a.stopSweep != nil {
		a.stopSweep()
	}
	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	if a.Hub != nil {
		a.Hub.Shutdown()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.Stores != nil {
		if err := a.Stores.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	a.Log.Info("Application shutdown complete.")
}

// CORSMiddleware 允许配置的前端来源跨域访问
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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

		// 票据可能出现在 query 中，不记录 RawQuery
		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
		})

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
