package models

import "time"

// Role 用户角色
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Session 当前登录用户（持久化记录，不含密码）
type Session struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionPatch 可更新的会话字段，nil 表示不修改
type SessionPatch struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
}

// Credential 白名单中的登录凭据
type Credential struct {
	Session
	PasswordHash []byte `json:"-"`
}

// Location 位置采样
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     *float64  `json:"speed,omitempty"`   // km/h
	Heading   *float64  `json:"heading,omitempty"` // 0-360
	Timestamp time.Time `json:"timestamp"`
}

// Valid 经纬度是否在合法范围内
func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180
}

// SpeedKmh 速度，缺省为 0
func (l Location) SpeedKmh() float64 {
	if l.Speed == nil {
		return 0
	}
	return *l.Speed
}

// VehicleStatus 车辆实时状态（每次 tick 整体替换）
type VehicleStatus struct {
	VehicleID    string    `json:"vehicleId"`
	Location     Location  `json:"location"`
	IgnitionOn   bool      `json:"ignitionOn"`
	EngineLocked bool      `json:"engineLocked"`
	BatteryLevel int       `json:"batteryLevel"` // 0-100
	GSMSignal    int       `json:"gsmSignal"`    // 0-100
	GPSSignal    int       `json:"gpsSignal"`    // 0-100
	IsMoving     bool      `json:"isMoving"`
	LastUpdate   time.Time `json:"lastUpdate"`
	Temperature  int       `json:"temperature"` // °C
	Mileage      int       `json:"mileage"`     // km
}
