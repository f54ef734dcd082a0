package feed

import (
	"sync"

	"github.com/langchou/vehicleguard/internal/models"
	"github.com/langchou/vehicleguard/internal/ring"
)

// StatusCache 每辆车只保留最新一条状态
type StatusCache struct {
	mu       sync.RWMutex
	statuses map[string]models.VehicleStatus
}

// NewStatusCache 创建状态缓存
func NewStatusCache() *StatusCache {
	return &StatusCache{statuses: make(map[string]models.VehicleStatus)}
}

// Put 整体替换车辆状态
// 经纬度越界或时间戳早于现有记录的状态被丢弃，返回 false
func (c *StatusCache) Put(status models.VehicleStatus) bool {
	if !status.Location.Valid() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.statuses[status.VehicleID]; ok && status.LastUpdate.Before(prev.LastUpdate) {
		return false
	}
	c.statuses[status.VehicleID] = status
	return true
}

// Get 获取车辆最新状态
func (c *StatusCache) Get(vehicleID string) (models.VehicleStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.statuses[vehicleID]
	return s, ok
}

// Delete 移除车辆
func (c *StatusCache) Delete(vehicleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.statuses, vehicleID)
}

// Snapshot 返回副本
func (c *StatusCache) Snapshot() map[string]models.VehicleStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]models.VehicleStatus, len(c.statuses))
	for id, s := range c.statuses {
		out[id] = s
	}
	return out
}

// Len 车辆数
func (c *StatusCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.statuses)
}

// AlertLog 有界告警日志，最新在前，超出容量静默丢弃最旧的
type AlertLog struct {
	mu     sync.RWMutex
	alerts *ring.Bounded[models.Alert]
}

// NewAlertLog 创建告警日志
func NewAlertLog(capacity int) *AlertLog {
	return &AlertLog{alerts: ring.NewBounded[models.Alert](capacity)}
}

// Push 插入一条告警
func (l *AlertLog) Push(alert models.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alerts.PushFront(alert)
}

// List 按最新在前返回副本
func (l *AlertLog) List() []models.Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.alerts.Items()
}

// Acknowledge 确认告警（同时标记已读），id 不存在时不做任何事
func (l *AlertLog) Acknowledge(id string) bool {
	return l.update(id, func(a *models.Alert) {
		a.Acknowledged = true
		a.IsRead = true
	})
}

// MarkRead 标记已读，id 不存在时不做任何事
func (l *AlertLog) MarkRead(id string) bool {
	return l.update(id, func(a *models.Alert) {
		a.IsRead = true
	})
}

func (l *AlertLog) update(id string, fn func(*models.Alert)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alerts.Update(func(a models.Alert) bool { return a.ID == id }, fn)
}

// UnreadCount 未读数量
func (l *AlertLog) UnreadCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, a := range l.alerts.Items() {
		if !a.IsRead {
			n++
		}
	}
	return n
}

// Len 当前条数
func (l *AlertLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.alerts.Len()
}

// Cap 容量
func (l *AlertLog) Cap() int {
	return l.alerts.Cap()
}
