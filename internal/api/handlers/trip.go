package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/vehicleguard/internal/models"
	"github.com/langchou/vehicleguard/internal/repository"
	"github.com/langchou/vehicleguard/internal/view"
)

// filteredTrips 读取并按查询参数筛选行程
func (h *Handler) filteredTrips(c *gin.Context) ([]models.Trip, bool) {
	date, err := view.ParseDateFilter(c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date filter"})
		return nil, false
	}
	query := view.TripQuery{
		Search:    c.Query("search"),
		Date:      date,
		VehicleID: c.Query("vehicle_id"),
	}

	trips, err := h.trips.List(c.Request.Context(), query.VehicleID)
	if err != nil {
		h.logger.Error("Failed to list trips", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list trips"})
		return nil, false
	}
	return h.browser.Filter(trips, query), true
}

// ListTrips 获取行程列表
// GET /api/trips?search=&date=all|today|yesterday|week&vehicle_id=&page=&per_page=
func (h *Handler) ListTrips(c *gin.Context) {
	trips, ok := h.filteredTrips(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	c.JSON(http.StatusOK, gin.H{
		"data": view.Paginate(trips, page, perPage),
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    len(trips),
		},
	})
}

// GetTripStats 行程汇总，筛选条件同列表
func (h *Handler) GetTripStats(c *gin.Context) {
	trips, ok := h.filteredTrips(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.browser.Stats(trips)})
}

// GetTrip 获取行程详情
func (h *Handler) GetTrip(c *gin.Context) {
	trip, err := h.trips.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrTripNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Trip not found"})
			return
		}
		h.logger.Error("Failed to get trip", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get trip"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view.NewTripDetail(*trip)})
}
