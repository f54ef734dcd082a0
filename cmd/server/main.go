package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/vehicleguard/internal/api/handlers"
	"github.com/langchou/vehicleguard/internal/config"
	"github.com/langchou/vehicleguard/internal/feed"
	"github.com/langchou/vehicleguard/internal/models"
	"github.com/langchou/vehicleguard/internal/repository"
	"github.com/langchou/vehicleguard/internal/session"
	"github.com/langchou/vehicleguard/internal/telemetry"
	"github.com/langchou/vehicleguard/internal/view"
	"github.com/langchou/vehicleguard/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting VehicleGuard",
		zap.String("port", cfg.ServerPort),
		zap.String("policy", cfg.GenerationPolicy),
		zap.String("session_backend", cfg.SessionBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 行程数据源
	trips, closeTrips := initTripSource(ctx, cfg, logger)
	defer closeTrips()

	// 会话存储
	slot, closeSlot := initSessionSlot(cfg, logger)
	defer closeSlot()

	creds, err := session.DefaultCredentials()
	if err != nil {
		logger.Fatal("Failed to build credentials", zap.Error(err))
	}
	store := session.NewStore(logger, slot, creds, cfg.LoginDelay)

	// 遥测推送
	generator, err := telemetry.NewGenerator(cfg.GenerationPolicy, telemetry.Options{
		BaseLatitude:    cfg.BaseLatitude,
		BaseLongitude:   cfg.BaseLongitude,
		MovingThreshold: cfg.MovingThreshold,
	}, telemetry.NewRand())
	if err != nil {
		logger.Fatal("Invalid generation policy", zap.Error(err))
	}
	feedService := feed.NewService(feed.Options{
		TickInterval:       cfg.TickInterval,
		DefaultVehicleID:   cfg.DefaultVehicleID,
		AlertCapacity:      cfg.AlertCapacity,
		CommandLatency:     cfg.CommandLatency,
		CommandSuccessRate: cfg.CommandSuccessRate,
	}, logger, generator, telemetry.NewAlertSource(cfg.AlertProbability, telemetry.NewRand()))

	maps := view.NewMapViews(cfg.TrailCapacity)
	maps.Get(cfg.DefaultVehicleID)

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	wsHub.SetInitDataProvider(func(vehicleIDs []string) interface{} {
		return initData(ctx, logger, feedService, trips, vehicleIDs)
	})
	wsHub.SetSubscriptionHandler(func(vehicleID string, subscribed bool) {
		if subscribed {
			feedService.Subscribe(vehicleID)
			maps.Get(vehicleID)
			return
		}
		feedService.Unsubscribe(vehicleID)
		if vehicleID != cfg.DefaultVehicleID && feedService.Subscribed(vehicleID) == 0 {
			maps.Remove(vehicleID)
		}
	})
	go wsHub.Run()

	// 会话存在时推送，登出时停止并清空地图，连接状态通知所有客户端
	feedListener := feedService.SessionListener(ctx)
	store.OnChange(func(sess *models.Session) {
		feedListener(sess)
		if sess == nil {
			maps.Reset()
			maps.Get(cfg.DefaultVehicleID)
		}
		wsHub.BroadcastMessage(ws.MsgTypeConnection, gin.H{
			"connected": feedService.Connected(),
			"since":     feedService.Since(),
		})
	})

	// 推送更新到地图视图和 WebSocket
	updates, stopUpdates := feedService.Listen()
	go func() {
		for u := range updates {
			maps.Observe(u.Status)
			wsHub.BroadcastToVehicle(u.Status.VehicleID, ws.MsgTypeStateUpdate, u.Status)
			if u.Alert != nil {
				wsHub.BroadcastToVehicle(u.Status.VehicleID, ws.MsgTypeAlert, u.Alert)
			}
		}
	}()

	// 恢复上次的会话（会触发推送启动）
	if sess := store.Load(ctx); sess == nil {
		logger.Info("No stored session, waiting for login")
	}

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		store,
		handlers.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		feedService,
		maps,
		trips,
		view.NewTripBrowser(nil),
		wsHub,
		cfg.DefaultVehicleID,
	)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 停止推送（会话保留，下次启动时恢复）
	feedService.Stop()
	stopUpdates()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	wsHub.Close()

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// initTripSource 配置了数据库时使用 PostgreSQL，否则使用内存示例数据
func initTripSource(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.TripSource, func()) {
	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not set, using in-memory trips")
		return repository.NewMemoryTrips(repository.SampleTrips()), func() {}
	}

	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}

	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	repo := repository.NewTripRepository(db)
	if err := repo.Seed(ctx, repository.SampleTrips()); err != nil {
		logger.Fatal("Failed to seed trips", zap.Error(err))
	}
	return repo, db.Close
}

// initSessionSlot 按配置选择会话存储后端
func initSessionSlot(cfg *config.Config, logger *zap.Logger) (session.Slot, func()) {
	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		logger.Info("Using redis session backend", zap.String("addr", cfg.RedisAddr))
		return session.NewRedisSlot(rdb), func() { _ = rdb.Close() }
	case config.SessionBackendMemory:
		return session.NewMemorySlot(), func() {}
	case config.SessionBackendFile, "":
		return session.NewFileSlot(cfg.SessionDir), func() {}
	default:
		logger.Fatal("Unknown session backend", zap.String("backend", cfg.SessionBackend))
		return nil, nil
	}
}

// initData WebSocket 初始化数据，只包含客户端订阅的车辆
func initData(ctx context.Context, logger *zap.Logger, svc *feed.Service, trips repository.TripSource, vehicleIDs []string) interface{} {
	statuses := make(map[string]models.VehicleStatus, len(vehicleIDs))
	for _, id := range vehicleIDs {
		if s, ok := svc.Status(id); ok {
			statuses[id] = s
		}
	}

	wanted := make(map[string]bool, len(vehicleIDs))
	for _, id := range vehicleIDs {
		wanted[id] = true
	}
	alerts := make([]models.Alert, 0)
	for _, a := range svc.Alerts() {
		if wanted[a.VehicleID] {
			alerts = append(alerts, a)
		}
	}

	active := make([]models.Trip, 0)
	for _, id := range vehicleIDs {
		list, err := trips.List(ctx, id)
		if err != nil {
			logger.Warn("Failed to list trips for init data", zap.String("vehicle_id", id), zap.Error(err))
			continue
		}
		active = append(active, view.ActiveTrips(list)...)
	}

	return feed.Snapshot{
		Connected:   svc.Connected(),
		Statuses:    statuses,
		Alerts:      alerts,
		ActiveTrips: active,
	}
}
