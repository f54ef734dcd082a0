package view

import (
	"github.com/langchou/vehicleguard/internal/models"
)

// Dashboard 单车概览
type Dashboard struct {
	VehicleID     string                `json:"vehicleId"`
	Connected     bool                  `json:"connected"`
	Status        *models.VehicleStatus `json:"status,omitempty"`
	IsMoving      bool                  `json:"isMoving"`
	TotalAlerts   int                   `json:"totalAlerts"`
	UnreadAlerts  int                   `json:"unreadAlerts"`
	UnackedAlerts int                   `json:"unacknowledgedAlerts"`
	RecentAlerts  []models.Alert        `json:"recentAlerts"`
}

// recentAlertLimit 概览中展示的最近告警数
const recentAlertLimit = 3

// BuildDashboard 由状态快照和告警列表生成概览
func BuildDashboard(vehicleID string, connected bool, status *models.VehicleStatus, alerts []models.Alert) Dashboard {
	d := Dashboard{
		VehicleID:    vehicleID,
		Connected:    connected,
		RecentAlerts: []models.Alert{},
	}
	if status != nil {
		s := *status
		d.Status = &s
		d.IsMoving = s.IsMoving
	}

	for _, a := range alerts {
		if a.VehicleID != vehicleID {
			continue
		}
		d.TotalAlerts++
		if !a.IsRead {
			d.UnreadAlerts++
		}
		if !a.Acknowledged {
			d.UnackedAlerts++
		}
		if len(d.RecentAlerts) < recentAlertLimit {
			d.RecentAlerts = append(d.RecentAlerts, a)
		}
	}
	return d
}

// AlertFilter 告警面板筛选
type AlertFilter struct {
	Severity   models.Severity // 空表示全部
	UnreadOnly bool
	VehicleID  string
}

// FilterAlerts 按级别/已读状态筛选，保持原有顺序（最新在前）
func FilterAlerts(alerts []models.Alert, f AlertFilter) []models.Alert {
	out := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.UnreadOnly && a.IsRead {
			continue
		}
		if f.VehicleID != "" && a.VehicleID != f.VehicleID {
			continue
		}
		out = append(out, a)
	}
	return out
}
