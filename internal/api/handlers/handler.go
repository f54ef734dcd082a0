package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/vehicleguard/internal/models"
	"github.com/langchou/vehicleguard/internal/view"
)

// GetFeed 推送快照：连接状态、车辆状态、告警、进行中的行程
func (h *Handler) GetFeed(c *gin.Context) {
	snap := h.feed.Snapshot()
	trips, err := h.trips.List(c.Request.Context(), "")
	if err != nil {
		h.logger.Error("Failed to list trips", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list trips"})
		return
	}
	snap.ActiveTrips = view.ActiveTrips(trips)
	c.JSON(http.StatusOK, gin.H{"data": snap})
}

// GetVehicleStatus 获取车辆实时状态
func (h *Handler) GetVehicleStatus(c *gin.Context) {
	status, ok := h.feed.Status(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle status not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": status})
}

// Subscribe 订阅车辆，订阅后该车辆开始生成数据
func (h *Handler) Subscribe(c *gin.Context) {
	id := c.Param("id")
	h.feed.Subscribe(id)
	h.maps.Get(id)

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"vehicleId":   id,
			"subscribers": h.feed.Subscribed(id),
		},
	})
}

// Unsubscribe 取消订阅
func (h *Handler) Unsubscribe(c *gin.Context) {
	id := c.Param("id")
	h.feed.Unsubscribe(id)
	if id != h.defaultVehicleID && h.feed.Subscribed(id) == 0 {
		h.maps.Remove(id)
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"vehicleId":   id,
			"subscribers": h.feed.Subscribed(id),
		},
	})
}

type commandRequest struct {
	Command models.Command `json:"command" binding:"required"`
}

// SendCommand 远程控制
// POST /api/vehicles/:id/commands
// 失败只返回 success=false，不附带原因
func (h *Handler) SendCommand(c *gin.Context) {
	id := c.Param("id")

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !req.Command.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown command"})
		return
	}

	ok, err := h.feed.SendCommand(c.Request.Context(), id, req.Command)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.JSON(http.StatusRequestTimeout, gin.H{"error": "Command cancelled"})
			return
		}
		h.logger.Error("Failed to send command", zap.Error(err), zap.String("vehicle_id", id))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send command"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"vehicleId": id,
			"command":   req.Command,
			"success":   ok,
		},
	})
}

// ListAlerts 告警列表
// GET /api/alerts?severity=high&unread=true&vehicle_id=xxx
func (h *Handler) ListAlerts(c *gin.Context) {
	filter := view.AlertFilter{VehicleID: c.Query("vehicle_id")}

	if s := c.Query("severity"); s != "" {
		sev := models.Severity(s)
		if !validSeverity(sev) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid severity"})
			return
		}
		filter.Severity = sev
	}
	if u := c.Query("unread"); u != "" {
		unread, err := strconv.ParseBool(u)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid unread flag"})
			return
		}
		filter.UnreadOnly = unread
	}

	alerts := view.FilterAlerts(h.feed.Alerts(), filter)
	c.JSON(http.StatusOK, gin.H{
		"data":   alerts,
		"unread": h.feed.UnreadAlerts(),
	})
}

func validSeverity(s models.Severity) bool {
	for _, v := range models.Severities {
		if v == s {
			return true
		}
	}
	return false
}

// AcknowledgeAlert 确认告警，id 不存在时 updated=false
func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	updated := h.feed.AcknowledgeAlert(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"updated": updated}})
}

// MarkAlertRead 标记已读，id 不存在时 updated=false
func (h *Handler) MarkAlertRead(c *gin.Context) {
	updated := h.feed.MarkAlertRead(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"updated": updated}})
}

// GetDashboard 单车概览
func (h *Handler) GetDashboard(c *gin.Context) {
	id := c.Param("id")

	var status *models.VehicleStatus
	if s, ok := h.feed.Status(id); ok {
		status = &s
	}

	c.JSON(http.StatusOK, gin.H{
		"data": view.BuildDashboard(id, h.feed.Connected(), status, h.feed.Alerts()),
	})
}
