package view

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/langchou/vehicleguard/internal/models"
)

// DateFilter 行程日期筛选
type DateFilter string

const (
	DateAll       DateFilter = "all"
	DateToday     DateFilter = "today"
	DateYesterday DateFilter = "yesterday"
	DateWeek      DateFilter = "week"
)

// ParseDateFilter 解析日期筛选，空字符串视为 all
func ParseDateFilter(s string) (DateFilter, error) {
	switch f := DateFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return DateAll, nil
	case DateAll, DateToday, DateYesterday, DateWeek:
		return f, nil
	default:
		return "", fmt.Errorf("unknown date filter %q", s)
	}
}

// TripQuery 行程筛选条件
type TripQuery struct {
	Search    string
	Date      DateFilter
	VehicleID string
}

// TripStats 行程汇总
type TripStats struct {
	TotalTrips    int     `json:"totalTrips"`
	TotalDistance float64 `json:"totalDistance"` // km
	AvgDistance   float64 `json:"avgDistance"`   // km
	TotalDuration float64 `json:"totalDuration"` // 分钟
	TotalFuel     float64 `json:"totalFuel"`     // 升
}

// FilterTrips 按搜索词、日期、车辆筛选
// 日期按 now 所在时区的自然日比较，week 为最近 7 天
func FilterTrips(trips []models.Trip, q TripQuery, now time.Time) []models.Trip {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]models.Trip, 0, len(trips))

	for _, t := range trips {
		if q.VehicleID != "" && t.VehicleID != q.VehicleID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(t.ID), search) {
			continue
		}
		if !matchDate(t.StartTime, q.Date, now) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func matchDate(start time.Time, f DateFilter, now time.Time) bool {
	switch f {
	case DateToday:
		return sameDay(start.In(now.Location()), now)
	case DateYesterday:
		return sameDay(start.In(now.Location()), now.AddDate(0, 0, -1))
	case DateWeek:
		return !start.Before(now.AddDate(0, 0, -7))
	default:
		return true
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ComputeTripStats 计算汇总，空列表时平均值为 0
func ComputeTripStats(trips []models.Trip) TripStats {
	var st TripStats
	st.TotalTrips = len(trips)
	for _, t := range trips {
		st.TotalDistance += t.Distance
		st.TotalDuration += t.Duration
		if t.FuelConsumed != nil {
			st.TotalFuel += *t.FuelConsumed
		}
	}
	if st.TotalTrips > 0 {
		st.AvgDistance = st.TotalDistance / float64(st.TotalTrips)
	}

	st.TotalDistance = round1(st.TotalDistance)
	st.AvgDistance = round1(st.AvgDistance)
	st.TotalFuel = round1(st.TotalFuel)
	return st
}

// round1 保留一位小数
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// FuelEfficiency 百公里油耗（L/100km），无油耗或里程为 0 时返回 false
func FuelEfficiency(t models.Trip) (float64, bool) {
	if t.FuelConsumed == nil || t.Distance <= 0 {
		return 0, false
	}
	return round1(*t.FuelConsumed / t.Distance * 100), true
}

// TripDetail 行程详情，附带派生的油耗
type TripDetail struct {
	models.Trip
	FuelEfficiency *float64 `json:"fuelEfficiency,omitempty"`
}

// NewTripDetail 生成详情
func NewTripDetail(t models.Trip) TripDetail {
	d := TripDetail{Trip: t}
	if eff, ok := FuelEfficiency(t); ok {
		d.FuelEfficiency = &eff
	}
	return d
}

// ActiveTrips 进行中的行程
func ActiveTrips(trips []models.Trip) []models.Trip {
	out := make([]models.Trip, 0)
	for _, t := range trips {
		if t.Status == models.TripActive {
			out = append(out, t)
		}
	}
	return out
}

// TripBrowser 行程列表视图
type TripBrowser struct {
	clock func() time.Time
}

// NewTripBrowser 创建行程视图，clock 为 nil 时使用 time.Now
func NewTripBrowser(clock func() time.Time) *TripBrowser {
	if clock == nil {
		clock = time.Now
	}
	return &TripBrowser{clock: clock}
}

// Filter 按当前时间筛选
func (b *TripBrowser) Filter(trips []models.Trip, q TripQuery) []models.Trip {
	return FilterTrips(trips, q, b.clock())
}

// Stats 汇总统计
func (b *TripBrowser) Stats(trips []models.Trip) TripStats {
	return ComputeTripStats(trips)
}

// Paginate 分页，page 从 1 开始
func Paginate[T any](items []T, page, perPage int) []T {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	start := (page - 1) * perPage
	if start >= len(items) {
		return []T{}
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
