package models

import "time"

// AlertType 告警类型
type AlertType string

const (
	AlertUnauthorizedMovement AlertType = "unauthorized_movement"
	AlertLowBattery           AlertType = "low_battery"
	AlertGeofenceBreach       AlertType = "geofence_breach"
)

// AlertTypes 生成器可选的告警类型
var AlertTypes = []AlertType{
	AlertUnauthorizedMovement,
	AlertLowBattery,
	AlertGeofenceBreach,
}

// Severity 告警级别
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Severities 生成器可选的告警级别
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh}

// Alert 告警事件，创建后仅 IsRead / Acknowledged 可变
type Alert struct {
	ID           string    `json:"id"`
	VehicleID    string    `json:"vehicleId"`
	Type         AlertType `json:"type"`
	Message      string    `json:"message"`
	Location     Location  `json:"location"`
	Timestamp    time.Time `json:"timestamp"`
	IsRead       bool      `json:"isRead"`
	Severity     Severity  `json:"severity"`
	Acknowledged bool      `json:"acknowledged"`
}
