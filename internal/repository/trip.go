package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/vehicleguard/internal/models"
)

// ErrTripNotFound 行程不存在
var ErrTripNotFound = errors.New("trip not found")

// TripSource 行程历史数据源（只读）
type TripSource interface {
	List(ctx context.Context, vehicleID string) ([]models.Trip, error)
	GetByID(ctx context.Context, id string) (*models.Trip, error)
}

// TripRepository 基于 PostgreSQL 的行程数据源
type TripRepository struct {
	db *DB
}

// NewTripRepository 创建行程仓库
func NewTripRepository(db *DB) *TripRepository {
	return &TripRepository{db: db}
}

const tripColumns = `
	id, vehicle_id, start_lat, start_lng, end_lat, end_lng, start_time, end_time,
	duration_min, distance_km, max_speed, avg_speed, status, fuel_consumed
`

// List 列出行程，vehicleID 为空时返回全部，按开始时间倒序
func (r *TripRepository) List(ctx context.Context, vehicleID string) ([]models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips
		WHERE ($1::text = '' OR vehicle_id = $1)
		ORDER BY start_time DESC`

	rows, err := r.db.Pool.Query(ctx, query, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()

	var trips []models.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, *trip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trips: %w", err)
	}

	routes, err := r.routes(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	for i := range trips {
		trips[i].Route = routes[trips[i].ID]
		if trips[i].Route == nil {
			trips[i].Route = []models.Location{}
		}
	}
	return trips, nil
}

// GetByID 获取单个行程及其路线
func (r *TripRepository) GetByID(ctx context.Context, id string) (*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1`

	trip, err := scanTrip(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTripNotFound
		}
		return nil, fmt.Errorf("get trip by id: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT latitude, longitude, speed, heading, recorded_at
		FROM trip_route_points WHERE trip_id = $1 ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get trip route: %w", err)
	}
	defer rows.Close()

	trip.Route = []models.Location{}
	for rows.Next() {
		var loc models.Location
		if err := rows.Scan(&loc.Latitude, &loc.Longitude, &loc.Speed, &loc.Heading, &loc.Timestamp); err != nil {
			return nil, fmt.Errorf("scan route point: %w", err)
		}
		trip.Route = append(trip.Route, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate route points: %w", err)
	}
	return trip, nil
}

// routes 批量读取路线点，按行程分组
func (r *TripRepository) routes(ctx context.Context, vehicleID string) (map[string][]models.Location, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT p.trip_id, p.latitude, p.longitude, p.speed, p.heading, p.recorded_at
		FROM trip_route_points p
		JOIN trips t ON t.id = p.trip_id
		WHERE ($1::text = '' OR t.vehicle_id = $1)
		ORDER BY p.trip_id, p.seq
	`, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("list route points: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.Location)
	for rows.Next() {
		var tripID string
		var loc models.Location
		if err := rows.Scan(&tripID, &loc.Latitude, &loc.Longitude, &loc.Speed, &loc.Heading, &loc.Timestamp); err != nil {
			return nil, fmt.Errorf("scan route point: %w", err)
		}
		out[tripID] = append(out[tripID], loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate route points: %w", err)
	}
	return out, nil
}

// Seed 写入示例行程，已存在的 id 跳过
func (r *TripRepository) Seed(ctx context.Context, trips []models.Trip) error {
	batch := &pgx.Batch{}
	for _, t := range trips {
		batch.Queue(`
			INSERT INTO trips (id, vehicle_id, start_lat, start_lng, end_lat, end_lng, start_time, end_time,
				duration_min, distance_km, max_speed, avg_speed, status, fuel_consumed)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO NOTHING
		`, t.ID, t.VehicleID, t.StartLocation.Latitude, t.StartLocation.Longitude,
			t.EndLocation.Latitude, t.EndLocation.Longitude, t.StartTime, t.EndTime,
			t.Duration, t.Distance, t.MaxSpeed, t.AvgSpeed, string(t.Status), t.FuelConsumed)

		for i, p := range t.Route {
			batch.Queue(`
				INSERT INTO trip_route_points (trip_id, seq, latitude, longitude, speed, heading, recorded_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (trip_id, seq) DO NOTHING
			`, t.ID, i, p.Latitude, p.Longitude, p.Speed, p.Heading, p.Timestamp)
		}
	}

	if err := r.db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("seed trips: %w", err)
	}
	return nil
}

func scanTrip(row pgx.Row) (*models.Trip, error) {
	trip := &models.Trip{}
	var status string
	err := row.Scan(
		&trip.ID,
		&trip.VehicleID,
		&trip.StartLocation.Latitude,
		&trip.StartLocation.Longitude,
		&trip.EndLocation.Latitude,
		&trip.EndLocation.Longitude,
		&trip.StartTime,
		&trip.EndTime,
		&trip.Duration,
		&trip.Distance,
		&trip.MaxSpeed,
		&trip.AvgSpeed,
		&status,
		&trip.FuelConsumed,
	)
	if err != nil {
		return nil, err
	}
	trip.Status = models.TripStatus(status)
	trip.StartLocation.Timestamp = trip.StartTime
	trip.EndLocation.Timestamp = trip.EndTime
	return trip, nil
}

// MemoryTrips 内存行程数据源，未配置数据库时使用
type MemoryTrips struct {
	mu    sync.RWMutex
	trips []models.Trip
}

// NewMemoryTrips 创建内存数据源
func NewMemoryTrips(trips []models.Trip) *MemoryTrips {
	cp := make([]models.Trip, len(trips))
	copy(cp, trips)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].StartTime.After(cp[j].StartTime) })
	return &MemoryTrips{trips: cp}
}

// List 列出行程，按开始时间倒序
func (m *MemoryTrips) List(_ context.Context, vehicleID string) ([]models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Trip, 0, len(m.trips))
	for _, t := range m.trips {
		if vehicleID == "" || t.VehicleID == vehicleID {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetByID 获取单个行程
func (m *MemoryTrips) GetByID(_ context.Context, id string) (*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.trips {
		if t.ID == id {
			trip := t
			return &trip, nil
		}
	}
	return nil, ErrTripNotFound
}
