package repository

import (
	"time"

	"github.com/langchou/vehicleguard/internal/models"
)

// SampleTrips 三条示例行程
func SampleTrips() []models.Trip {
	at := func(s string) time.Time {
		t, err := time.Parse(time.DateTime, s)
		if err != nil {
			panic(err)
		}
		return t
	}
	loc := func(lat, lng float64, ts time.Time) models.Location {
		return models.Location{Latitude: lat, Longitude: lng, Timestamp: ts}
	}
	fuel := func(v float64) *float64 { return &v }

	trips := []models.Trip{
		{
			ID:           "1",
			VehicleID:    "vehicle-1",
			StartTime:    at("2024-01-20 09:00:00"),
			EndTime:      at("2024-01-20 10:30:00"),
			Distance:     25.4,
			Duration:     90,
			MaxSpeed:     65,
			AvgSpeed:     42,
			Status:       models.TripCompleted,
			FuelConsumed: fuel(2.1),
		},
		{
			ID:           "2",
			VehicleID:    "vehicle-1",
			StartTime:    at("2024-01-20 14:15:00"),
			EndTime:      at("2024-01-20 15:45:00"),
			Distance:     18.7,
			Duration:     90,
			MaxSpeed:     58,
			AvgSpeed:     35,
			Status:       models.TripCompleted,
			FuelConsumed: fuel(1.5),
		},
		{
			ID:           "3",
			VehicleID:    "vehicle-1",
			StartTime:    at("2024-01-19 08:30:00"),
			EndTime:      at("2024-01-19 09:15:00"),
			Distance:     12.3,
			Duration:     45,
			MaxSpeed:     72,
			AvgSpeed:     38,
			Status:       models.TripCompleted,
			FuelConsumed: fuel(1.0),
		},
	}

	coords := [][4]float64{
		{28.6139, 77.2090, 28.5355, 77.3910},
		{28.5355, 77.3910, 28.6600, 77.2300},
		{28.6600, 77.2300, 28.7041, 77.1025},
	}
	for i := range trips {
		c := coords[i]
		trips[i].StartLocation = loc(c[0], c[1], trips[i].StartTime)
		trips[i].EndLocation = loc(c[2], c[3], trips[i].EndTime)
		trips[i].Route = []models.Location{trips[i].StartLocation, trips[i].EndLocation}
	}
	return trips
}
