package models

import "time"

// TripStatus 行程状态
type TripStatus string

const (
	TripCompleted TripStatus = "completed"
	TripActive    TripStatus = "active"
)

// Trip 行程记录（只读，来自外部数据源）
type Trip struct {
	ID            string     `json:"id" db:"id"`
	VehicleID     string     `json:"vehicleId" db:"vehicle_id"`
	StartLocation Location   `json:"startLocation"`
	EndLocation   Location   `json:"endLocation"`
	StartTime     time.Time  `json:"startTime" db:"start_time"`
	EndTime       time.Time  `json:"endTime" db:"end_time"`
	Duration      float64    `json:"duration" db:"duration_min"` // 分钟
	Distance      float64    `json:"distance" db:"distance_km"`  // km
	MaxSpeed      float64    `json:"maxSpeed" db:"max_speed"`    // km/h
	AvgSpeed      float64    `json:"avgSpeed" db:"avg_speed"`    // km/h
	Route         []Location `json:"route"`
	Status        TripStatus `json:"status" db:"status"`
	FuelConsumed  *float64   `json:"fuelConsumed,omitempty" db:"fuel_consumed"` // 升
}

// Command 远程控制指令
type Command string

const (
	CommandLock         Command = "lock"
	CommandUnlock       Command = "unlock"
	CommandEngineCutoff Command = "engine_cutoff"
	CommandEngineResume Command = "engine_resume"
	CommandLocate       Command = "locate"
)

// Valid 是否为已知指令
func (c Command) Valid() bool {
	switch c {
	case CommandLock, CommandUnlock, CommandEngineCutoff, CommandEngineResume, CommandLocate:
		return true
	}
	return false
}
