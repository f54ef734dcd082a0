package telemetry

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/langchou/vehicleguard/internal/config"
	"github.com/langchou/vehicleguard/internal/models"
)

// DefaultMovingThreshold 判定行驶中的速度阈值 (km/h)
const DefaultMovingThreshold = 5.0

// 随机游走参数
const (
	walkSpan     = 0.01 // 经纬度偏移范围（±walkSpan/2）
	maxWalkSpeed = 60.0 // km/h
	baseMileage  = 45231
)

// Generator 车辆状态样本来源
// 真实接入时替换为设备数据客户端，缓存/告警/轨迹逻辑无需改动
type Generator interface {
	NextSample(vehicleID string, now time.Time) models.VehicleStatus
}

// Options 生成参数
type Options struct {
	BaseLatitude    float64
	BaseLongitude   float64
	MovingThreshold float64
}

func (o Options) threshold() float64 {
	if o.MovingThreshold <= 0 {
		return DefaultMovingThreshold
	}
	return o.MovingThreshold
}

// NewGenerator 按策略名创建生成器
func NewGenerator(policy string, opts Options, rng *rand.Rand) (Generator, error) {
	switch policy {
	case config.PolicyRandomWalk, "":
		return NewRandomWalk(opts, rng), nil
	case config.PolicyStationary:
		return NewStationary(opts), nil
	default:
		return nil, fmt.Errorf("unknown generation policy %q", policy)
	}
}

// NewRand 以当前时间为种子创建随机源
func NewRand() *rand.Rand {
	seed := uint64(time.Now().UnixNano())
	return rand.New(rand.NewPCG(seed, seed>>1|1))
}

// RandomWalk 围绕基准坐标随机偏移
type RandomWalk struct {
	mu   sync.Mutex
	rng  *rand.Rand
	opts Options
}

// NewRandomWalk 创建随机游走生成器
func NewRandomWalk(opts Options, rng *rand.Rand) *RandomWalk {
	if rng == nil {
		rng = NewRand()
	}
	return &RandomWalk{rng: rng, opts: opts}
}

// NextSample 生成一条完整状态
func (g *RandomWalk) NextSample(vehicleID string, now time.Time) models.VehicleStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	speed := g.rng.Float64() * maxWalkSpeed
	heading := g.rng.Float64() * 360
	loc := models.Location{
		Latitude:  g.opts.BaseLatitude + g.offset(),
		Longitude: g.opts.BaseLongitude + g.offset(),
		Speed:     &speed,
		Heading:   &heading,
		Timestamp: now,
	}

	return models.VehicleStatus{
		VehicleID:    vehicleID,
		Location:     loc,
		IgnitionOn:   g.rng.Float64() > 0.3,
		EngineLocked: g.rng.Float64() > 0.8,
		BatteryLevel: g.rng.IntN(40) + 60,
		GSMSignal:    g.rng.IntN(30) + 70,
		GPSSignal:    g.rng.IntN(20) + 80,
		IsMoving:     loc.SpeedKmh() > g.opts.threshold(),
		LastUpdate:   now,
		Temperature:  g.rng.IntN(30) + 20,
		Mileage:      baseMileage + g.rng.IntN(100),
	}
}

func (g *RandomWalk) offset() float64 {
	return (g.rng.Float64() - 0.5) * walkSpan
}

// Stationary 固定坐标，静止不动
type Stationary struct {
	opts Options
}

// NewStationary 创建固定坐标生成器
func NewStationary(opts Options) *Stationary {
	return &Stationary{opts: opts}
}

// NextSample 生成一条完整状态
func (g *Stationary) NextSample(vehicleID string, now time.Time) models.VehicleStatus {
	speed := 0.0
	heading := 0.0
	loc := models.Location{
		Latitude:  g.opts.BaseLatitude,
		Longitude: g.opts.BaseLongitude,
		Speed:     &speed,
		Heading:   &heading,
		Timestamp: now,
	}
	return models.VehicleStatus{
		VehicleID:    vehicleID,
		Location:     loc,
		IgnitionOn:   false,
		EngineLocked: false,
		BatteryLevel: 85,
		GSMSignal:    90,
		GPSSignal:    95,
		IsMoving:     loc.SpeedKmh() > g.opts.threshold(),
		LastUpdate:   now,
		Temperature:  25,
		Mileage:      baseMileage,
	}
}

// AlertSource 按固定概率合成告警
type AlertSource struct {
	mu          sync.Mutex
	rng         *rand.Rand
	probability float64
}

// NewAlertSource 创建告警源，probability 取值 [0,1]
func NewAlertSource(probability float64, rng *rand.Rand) *AlertSource {
	if rng == nil {
		rng = NewRand()
	}
	return &AlertSource{rng: rng, probability: probability}
}

// Maybe 以 probability 的概率为当前状态生成一条告警
func (a *AlertSource) Maybe(status models.VehicleStatus) *models.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.probability <= 0 || a.rng.Float64() >= a.probability {
		return nil
	}

	return &models.Alert{
		ID:        uuid.NewString(),
		VehicleID: status.VehicleID,
		Type:      models.AlertTypes[a.rng.IntN(len(models.AlertTypes))],
		Message:   "Demo alert generated",
		Location:  status.Location,
		Timestamp: status.LastUpdate,
		Severity:  models.Severities[a.rng.IntN(len(models.Severities))],
	}
}
