package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/langchou/vehicleguard/internal/view"
)

// mapView 查找已跟踪车辆的地图视图，未跟踪时返回 404
func (h *Handler) mapView(c *gin.Context) (*view.MapView, bool) {
	v, ok := h.maps.Lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not tracked"})
		return nil, false
	}
	return v, true
}

// GetTrail 地图轨迹与中心
func (h *Handler) GetTrail(c *gin.Context) {
	v, ok := h.mapView(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": v.State()})
}

type followRequest struct {
	Follow *bool `json:"follow" binding:"required"`
}

// SetFollow 开关自动跟随，关闭后轨迹冻结
// PUT /api/vehicles/:id/follow
func (h *Handler) SetFollow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	v, ok := h.mapView(c)
	if !ok {
		return
	}
	v.SetFollow(*req.Follow)
	c.JSON(http.StatusOK, gin.H{"data": v.State()})
}

// CenterMap 居中到车辆最新位置并恢复跟随
// POST /api/vehicles/:id/center
func (h *Handler) CenterMap(c *gin.Context) {
	v, ok := h.mapView(c)
	if !ok {
		return
	}
	centered := v.CenterOnVehicle()

	c.JSON(http.StatusOK, gin.H{
		"data":     v.State(),
		"centered": centered,
	})
}
