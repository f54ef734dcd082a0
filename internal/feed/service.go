package feed

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/vehicleguard/internal/models"
	"github.com/langchou/vehicleguard/internal/state"
	"github.com/langchou/vehicleguard/internal/telemetry"
)

// listenerBuffer 每个监听者的缓冲大小，满了丢弃更新而不阻塞 tick
const listenerBuffer = 16

// AlertPolicy 告警合成策略
type AlertPolicy interface {
	Maybe(status models.VehicleStatus) *models.Alert
}

// Update 一次 tick 中单辆车的推送内容
type Update struct {
	Status models.VehicleStatus `json:"status"`
	Alert  *models.Alert        `json:"alert,omitempty"`
}

// Snapshot 订阅方初始化数据
// ActiveTrips 由调用方从行程数据源填充
type Snapshot struct {
	Connected   bool                            `json:"connected"`
	Statuses    map[string]models.VehicleStatus `json:"vehicleStatus"`
	Alerts      []models.Alert                  `json:"alerts"`
	ActiveTrips []models.Trip                   `json:"activeTrips"`
}

// Options 推送服务参数
type Options struct {
	TickInterval       time.Duration
	DefaultVehicleID   string
	AlertCapacity      int
	CommandLatency     time.Duration
	CommandSuccessRate float64

	// 测试注入
	Clock func() time.Time
	Rand  *rand.Rand
}

// Service 遥测推送服务
// 会话存在时运行定时 tick，所有缓存/告警写入都在 tick 协程内完成
type Service struct {
	opts      Options
	logger    *zap.Logger
	generator telemetry.Generator
	alertGen  AlertPolicy
	machine   *state.Machine
	cache     *StatusCache
	alerts    *AlertLog

	cmdMu  sync.Mutex
	cmdRng *rand.Rand

	mu            sync.RWMutex
	stopCh        chan struct{}
	doneCh        chan struct{}
	subscriptions map[string]int
	listeners     map[int]chan Update
	nextListener  int
}

// NewService 创建推送服务
func NewService(opts Options, logger *zap.Logger, generator telemetry.Generator, alertGen AlertPolicy) *Service {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 3 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	rng := opts.Rand
	if rng == nil {
		rng = telemetry.NewRand()
	}

	svc := &Service{
		opts:          opts,
		logger:        logger,
		generator:     generator,
		alertGen:      alertGen,
		cache:         NewStatusCache(),
		alerts:        NewAlertLog(opts.AlertCapacity),
		cmdRng:        rng,
		subscriptions: make(map[string]int),
		listeners:     make(map[int]chan Update),
	}
	svc.machine = state.NewMachine(svc.onStateChange)

	return svc
}

// Start 进入 running 并立即执行一次 tick
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.machine.Running() {
		s.mu.Unlock()
		s.logger.Debug("Feed already running, skipping start")
		return nil
	}
	if err := s.machine.Trigger(state.EventStart); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("start feed: %w", err)
	}
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	s.stopCh = stopCh
	s.doneCh = doneCh
	s.mu.Unlock()

	go s.tickLoop(ctx, stopCh, doneCh)

	s.logger.Info("Feed started", zap.Duration("interval", s.opts.TickInterval))
	return nil
}

// Stop 回到 idle，取消定时器并等待 tick 协程退出
// 返回后不会再有任何状态写入
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.machine.Running() {
		s.mu.Unlock()
		return
	}
	if err := s.machine.Trigger(state.EventStop); err != nil {
		s.mu.Unlock()
		s.logger.Error("Failed to stop feed", zap.Error(err))
		return
	}
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
	s.logger.Info("Feed stopped")
}

// SessionListener 会话变化回调：有会话时启动，会话结束时停止
func (s *Service) SessionListener(ctx context.Context) func(*models.Session) {
	return func(sess *models.Session) {
		if sess == nil {
			s.Stop()
			return
		}
		if err := s.Start(ctx); err != nil {
			s.logger.Error("Failed to start feed", zap.Error(err))
		}
	}
}

// Connected 是否正在推送
func (s *Service) Connected() bool {
	return s.machine.Running()
}

// Since 进入当前推送状态的时间
func (s *Service) Since() time.Time {
	return s.machine.Since()
}

// tickLoop 定时循环，启动时立即执行一次
func (s *Service) tickLoop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	s.tick(stopCh)

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			s.stopOnCancel(stopCh)
			return
		case <-ticker.C:
			s.tick(stopCh)
		}
	}
}

// stopOnCancel 上下文取消时回到 idle，之后可以重新 Start
func (s *Service) stopOnCancel(stopCh chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-stopCh:
		// Stop 已经处理
		return
	default:
	}
	if err := s.machine.Trigger(state.EventStop); err != nil {
		s.logger.Error("Failed to stop feed on context cancel", zap.Error(err))
	}
	close(stopCh)
	s.logger.Info("Feed context cancelled, stopped")
}

// tick 为每辆跟踪中的车辆生成状态并按需合成告警
func (s *Service) tick(stopCh chan struct{}) {
	now := s.opts.Clock()

	for _, vehicleID := range s.trackedVehicles() {
		status := s.generator.NextSample(vehicleID, now)
		if !status.Location.Valid() {
			s.logger.Warn("Dropped status with invalid location",
				zap.String("vehicle_id", vehicleID),
				zap.Float64("latitude", status.Location.Latitude),
				zap.Float64("longitude", status.Location.Longitude))
			continue
		}
		var alert *models.Alert
		if s.alertGen != nil {
			alert = s.alertGen.Maybe(status)
		}

		s.mu.Lock()
		select {
		case <-stopCh:
			// 已停止，丢弃本次结果
			s.mu.Unlock()
			return
		default:
		}
		if vehicleID != s.opts.DefaultVehicleID && s.subscriptions[vehicleID] == 0 {
			// 生成期间已取消订阅
			s.mu.Unlock()
			continue
		}

		if !s.cache.Put(status) {
			s.mu.Unlock()
			s.logger.Warn("Dropped out-of-order status", zap.String("vehicle_id", vehicleID))
			continue
		}
		if alert != nil {
			s.alerts.Push(*alert)
			s.logger.Info("Alert generated",
				zap.String("vehicle_id", vehicleID),
				zap.String("type", string(alert.Type)),
				zap.String("severity", string(alert.Severity)))
		}
		s.publishLocked(Update{Status: status, Alert: alert})
		s.mu.Unlock()
	}
}

// trackedVehicles 默认车辆加上所有已订阅车辆
func (s *Service) trackedVehicles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(s.subscriptions)+1)
	var ids []string
	if s.opts.DefaultVehicleID != "" {
		seen[s.opts.DefaultVehicleID] = true
		ids = append(ids, s.opts.DefaultVehicleID)
	}
	var extra []string
	for id := range s.subscriptions {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	return append(ids, extra...)
}

// publishLocked 非阻塞分发，调用方持有 s.mu
func (s *Service) publishLocked(u Update) {
	for id, ch := range s.listeners {
		select {
		case ch <- u:
		default:
			s.logger.Debug("Listener buffer full, dropping update",
				zap.Int("listener", id),
				zap.String("vehicle_id", u.Status.VehicleID))
		}
	}
}

// Listen 监听推送，返回的 cancel 关闭通道
func (s *Service) Listen() (<-chan Update, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextListener
	s.nextListener++
	ch := make(chan Update, listenerBuffer)
	s.listeners[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			close(ch)
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribe 订阅车辆，订阅后该车辆参与生成
func (s *Service) Subscribe(vehicleID string) {
	s.mu.Lock()
	s.subscriptions[vehicleID]++
	count := s.subscriptions[vehicleID]
	s.mu.Unlock()

	s.logger.Info("Subscribed to vehicle", zap.String("vehicle_id", vehicleID), zap.Int("subscribers", count))
}

// Unsubscribe 取消订阅，最后一个订阅者离开后停止生成并移出缓存（默认车辆除外）
func (s *Service) Unsubscribe(vehicleID string) {
	s.mu.Lock()
	count, ok := s.subscriptions[vehicleID]
	if !ok {
		s.mu.Unlock()
		return
	}
	count--
	if count > 0 {
		s.subscriptions[vehicleID] = count
	} else {
		delete(s.subscriptions, vehicleID)
		if vehicleID != s.opts.DefaultVehicleID {
			s.cache.Delete(vehicleID)
		}
	}
	s.mu.Unlock()

	s.logger.Info("Unsubscribed from vehicle", zap.String("vehicle_id", vehicleID), zap.Int("subscribers", count))
}

// Subscribed 车辆当前订阅数
func (s *Service) Subscribed(vehicleID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptions[vehicleID]
}

// Status 获取车辆最新状态
func (s *Service) Status(vehicleID string) (models.VehicleStatus, bool) {
	return s.cache.Get(vehicleID)
}

// Statuses 获取全部车辆状态
func (s *Service) Statuses() map[string]models.VehicleStatus {
	return s.cache.Snapshot()
}

// Alerts 告警列表，最新在前
func (s *Service) Alerts() []models.Alert {
	return s.alerts.List()
}

// CachedVehicles 缓存中的车辆数
func (s *Service) CachedVehicles() int {
	return s.cache.Len()
}

// AlertUsage 告警日志当前条数与容量
func (s *Service) AlertUsage() (int, int) {
	return s.alerts.Len(), s.alerts.Cap()
}

// UnreadAlerts 未读告警数
func (s *Service) UnreadAlerts() int {
	return s.alerts.UnreadCount()
}

// AcknowledgeAlert 确认告警，id 不存在时返回 false
func (s *Service) AcknowledgeAlert(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts.Acknowledge(id)
}

// MarkAlertRead 标记已读，id 不存在时返回 false
func (s *Service) MarkAlertRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts.MarkRead(id)
}

// SendCommand 模拟远程控制，固定延迟后按成功率返回结果
// 失败只是布尔值，不附带原因
func (s *Service) SendCommand(ctx context.Context, vehicleID string, cmd models.Command) (bool, error) {
	if !cmd.Valid() {
		return false, fmt.Errorf("unknown command: %s", cmd)
	}

	s.logger.Info("Sending command", zap.String("vehicle_id", vehicleID), zap.String("command", string(cmd)))

	if s.opts.CommandLatency > 0 {
		timer := time.NewTimer(s.opts.CommandLatency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	s.cmdMu.Lock()
	ok := s.cmdRng.Float64() < s.opts.CommandSuccessRate
	s.cmdMu.Unlock()

	if ok {
		s.logger.Info("Command succeeded", zap.String("vehicle_id", vehicleID), zap.String("command", string(cmd)))
	} else {
		s.logger.Warn("Command failed", zap.String("vehicle_id", vehicleID), zap.String("command", string(cmd)))
	}
	return ok, nil
}

// Snapshot 当前完整快照
func (s *Service) Snapshot() Snapshot {
	return Snapshot{
		Connected:   s.Connected(),
		Statuses:    s.Statuses(),
		Alerts:      s.Alerts(),
		ActiveTrips: []models.Trip{},
	}
}

// onStateChange 状态变化回调
func (s *Service) onStateChange(from, to string) {
	s.logger.Info("Feed state changed", zap.String("from", from), zap.String("to", to))
}
