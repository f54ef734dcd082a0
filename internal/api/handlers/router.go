package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/vehicleguard/internal/feed"
	"github.com/langchou/vehicleguard/internal/repository"
	"github.com/langchou/vehicleguard/internal/session"
	"github.com/langchou/vehicleguard/internal/view"
	"github.com/langchou/vehicleguard/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger           *zap.Logger
	sessions         *session.Store
	tokens           *TokenIssuer
	feed             *feed.Service
	maps             *view.MapViews
	trips            repository.TripSource
	browser          *view.TripBrowser
	wsHub            *ws.Hub
	upgrader         websocket.Upgrader
	defaultVehicleID string
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	sessions *session.Store,
	tokens *TokenIssuer,
	feedService *feed.Service,
	maps *view.MapViews,
	trips repository.TripSource,
	browser *view.TripBrowser,
	wsHub *ws.Hub,
	defaultVehicleID string,
) *Handler {
	return &Handler{
		logger:           logger,
		sessions:         sessions,
		tokens:           tokens,
		feed:             feedService,
		maps:             maps,
		trips:            trips,
		browser:          browser,
		wsHub:            wsHub,
		defaultVehicleID: defaultVehicleID,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// 认证
	auth := r.Group("/api/auth")
	{
		auth.POST("/login", h.Login)
		auth.POST("/logout", h.RequireSession(), h.Logout)
		auth.GET("/me", h.RequireSession(), h.GetMe)
		auth.PATCH("/me", h.RequireSession(), h.UpdateMe)
	}

	api := r.Group("/api", h.RequireSession())
	{
		api.GET("/feed", h.GetFeed)

		// 车辆
		api.GET("/vehicles/:id/status", h.GetVehicleStatus)
		api.POST("/vehicles/:id/subscription", h.Subscribe)
		api.DELETE("/vehicles/:id/subscription", h.Unsubscribe)
		api.POST("/vehicles/:id/commands", h.SendCommand)

		// 地图
		api.GET("/vehicles/:id/trail", h.GetTrail)
		api.PUT("/vehicles/:id/follow", h.SetFollow)
		api.POST("/vehicles/:id/center", h.CenterMap)

		// 告警
		api.GET("/alerts", h.ListAlerts)
		api.POST("/alerts/:id/ack", h.AcknowledgeAlert)
		api.POST("/alerts/:id/read", h.MarkAlertRead)

		api.GET("/dashboard/:id", h.GetDashboard)

		// 行程
		api.GET("/trips", h.ListTrips)
		api.GET("/trips/stats", h.GetTripStats)
		api.GET("/trips/:id", h.GetTrip)
	}

	// WebSocket
	r.GET("/ws", h.RequireSession(), h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 处理
// GET /ws?vehicle_id=xxx，未指定时订阅默认车辆
func (h *Handler) HandleWebSocket(c *gin.Context) {
	vehicleID := c.DefaultQuery("vehicle_id", h.defaultVehicleID)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn, vehicleID)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	alerts, alertCap := h.feed.AlertUsage()
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"connected":       h.feed.Connected(),
		"since":           h.feed.Since(),
		"cached_vehicles": h.feed.CachedVehicles(),
		"alerts":          alerts,
		"alert_capacity":  alertCap,
		"map_views":       h.maps.Len(),
		"ws_clients":      h.wsHub.ClientCount(),
	})
}
