package view

import (
	"sync"

	"github.com/langchou/vehicleguard/internal/models"
	"github.com/langchou/vehicleguard/internal/ring"
)

// DefaultTrailCapacity 轨迹默认保留点数
const DefaultTrailCapacity = 50

// MapView 地图视图状态：轨迹、自动跟随、地图中心
// 每个视图独立持有，不持久化
type MapView struct {
	mu        sync.RWMutex
	vehicleID string
	trail     *ring.Bounded[models.Location]
	follow    bool
	center    *models.Location
	latest    *models.Location
}

// NewMapView 创建地图视图，默认开启自动跟随
func NewMapView(vehicleID string, capacity int) *MapView {
	if capacity <= 0 {
		capacity = DefaultTrailCapacity
	}
	return &MapView{
		vehicleID: vehicleID,
		trail:     ring.NewBounded[models.Location](capacity),
		follow:    true,
	}
}

// VehicleID 跟踪的车辆
func (v *MapView) VehicleID() string {
	return v.vehicleID
}

// Observe 接收一条状态
// 自动跟随时追加轨迹点并把地图中心移到最新位置，关闭时轨迹冻结
func (v *MapView) Observe(status models.VehicleStatus) bool {
	if status.VehicleID != v.vehicleID {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	loc := status.Location
	v.latest = &loc
	if !v.follow {
		return false
	}
	v.trail.PushBack(loc)
	v.center = &loc
	return true
}

// SetFollow 开关自动跟随
func (v *MapView) SetFollow(follow bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.follow = follow
}

// Following 是否自动跟随
func (v *MapView) Following() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.follow
}

// CenterOnVehicle 地图中心移到最近一次看到的位置并重新开启跟随
// 尚未收到任何位置时返回 false
func (v *MapView) CenterOnVehicle() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.follow = true
	if v.latest == nil {
		return false
	}
	loc := *v.latest
	v.center = &loc
	return true
}

// Trail 按到达顺序返回轨迹副本
func (v *MapView) Trail() []models.Location {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.trail.Items()
}

// Center 当前地图中心
func (v *MapView) Center() (models.Location, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.center == nil {
		return models.Location{}, false
	}
	return *v.center, true
}

// MapState 地图视图的可序列化快照
type MapState struct {
	VehicleID string            `json:"vehicleId"`
	Follow    bool              `json:"follow"`
	Center    *models.Location  `json:"center,omitempty"`
	Trail     []models.Location `json:"trail"`
	Capacity  int               `json:"capacity"`
}

// State 生成快照
func (v *MapView) State() MapState {
	v.mu.RLock()
	defer v.mu.RUnlock()

	st := MapState{
		VehicleID: v.vehicleID,
		Follow:    v.follow,
		Trail:     v.trail.Items(),
		Capacity:  v.trail.Cap(),
	}
	if v.center != nil {
		c := *v.center
		st.Center = &c
	}
	return st
}

// MapViews 按车辆管理地图视图
type MapViews struct {
	mu       sync.Mutex
	capacity int
	views    map[string]*MapView
}

// NewMapViews 创建视图集合
func NewMapViews(capacity int) *MapViews {
	return &MapViews{capacity: capacity, views: make(map[string]*MapView)}
}

// Get 获取或创建车辆的地图视图
func (m *MapViews) Get(vehicleID string) *MapView {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[vehicleID]
	if !ok {
		v = NewMapView(vehicleID, m.capacity)
		m.views[vehicleID] = v
	}
	return v
}

// Lookup 获取已存在的视图，不创建
func (m *MapViews) Lookup(vehicleID string) (*MapView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[vehicleID]
	return v, ok
}

// Remove 移除车辆的视图（取消订阅后）
func (m *MapViews) Remove(vehicleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.views, vehicleID)
}

// Len 视图数量
func (m *MapViews) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.views)
}

// Observe 把状态分发给对应车辆的视图
func (m *MapViews) Observe(status models.VehicleStatus) {
	m.mu.Lock()
	v, ok := m.views[status.VehicleID]
	m.mu.Unlock()
	if ok {
		v.Observe(status)
	}
}

// Reset 清空全部视图（会话结束时）
func (m *MapViews) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views = make(map[string]*MapView)
}
