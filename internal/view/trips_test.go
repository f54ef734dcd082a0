package view

import (
	"testing"
	"time"

	"github.com/langchou/vehicleguard/internal/models"
	"github.com/langchou/vehicleguard/internal/repository"
)

func tripIDs(trips []models.Trip) []string {
	ids := make([]string, 0, len(trips))
	for _, t := range trips {
		ids = append(ids, t.ID)
	}
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFilterTrips(t *testing.T) {
	trips := repository.SampleTrips()
	now := time.Date(2024, 1, 20, 18, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		query TripQuery
		now   time.Time
		want  []string
	}{
		{"all", TripQuery{Date: DateAll}, now, []string{"1", "2", "3"}},
		{"empty filter means all", TripQuery{}, now, []string{"1", "2", "3"}},
		{"today", TripQuery{Date: DateToday}, now, []string{"1", "2"}},
		{"yesterday", TripQuery{Date: DateYesterday}, now, []string{"3"}},
		{"week", TripQuery{Date: DateWeek}, now, []string{"1", "2", "3"}},
		{"today with no trips", TripQuery{Date: DateToday}, now.AddDate(0, 0, 5), []string{}},
		{"week excludes old trips", TripQuery{Date: DateWeek}, time.Date(2024, 1, 27, 8, 0, 0, 0, time.UTC), []string{"1", "2"}},
		{"search by id", TripQuery{Search: "2"}, now, []string{"2"}},
		{"search no match", TripQuery{Search: "zzz"}, now, []string{}},
		{"other vehicle", TripQuery{VehicleID: "vehicle-2"}, now, []string{}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := tripIDs(FilterTrips(trips, c.query, c.now))
			if !equalIDs(got, c.want) {
				t.Errorf("FilterTrips() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestComputeTripStats(t *testing.T) {
	st := ComputeTripStats(repository.SampleTrips())

	if st.TotalTrips != 3 {
		t.Errorf("TotalTrips = %d, want 3", st.TotalTrips)
	}
	if st.TotalDistance != 56.4 {
		t.Errorf("TotalDistance = %v, want 56.4", st.TotalDistance)
	}
	if st.AvgDistance != 18.8 {
		t.Errorf("AvgDistance = %v, want 18.8", st.AvgDistance)
	}
	if st.TotalDuration != 225 {
		t.Errorf("TotalDuration = %v, want 225", st.TotalDuration)
	}
	if st.TotalFuel != 4.6 {
		t.Errorf("TotalFuel = %v, want 4.6", st.TotalFuel)
	}

	empty := ComputeTripStats(nil)
	if empty.TotalTrips != 0 || empty.AvgDistance != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}

func TestTripBrowserUsesClock(t *testing.T) {
	now := time.Date(2024, 1, 19, 23, 0, 0, 0, time.UTC)
	b := NewTripBrowser(func() time.Time { return now })

	got := tripIDs(b.Filter(repository.SampleTrips(), TripQuery{Date: DateToday}))
	if !equalIDs(got, []string{"3"}) {
		t.Errorf("Filter(today) = %v, want [3]", got)
	}
}

func TestParseDateFilter(t *testing.T) {
	cases := []struct {
		in      string
		want    DateFilter
		wantErr bool
	}{
		{"", DateAll, false},
		{"all", DateAll, false},
		{" Today ", DateToday, false},
		{"week", DateWeek, false},
		{"month", "", true},
	}
	for _, c := range cases {
		got, err := ParseDateFilter(c.in)
		if (err != nil) != c.wantErr || got != c.want {
			t.Errorf("ParseDateFilter(%q) = %q, %v", c.in, got, err)
		}
	}
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	cases := []struct {
		name          string
		page, perPage int
		want          []int
	}{
		{"first page", 1, 2, []int{1, 2}},
		{"last partial page", 3, 2, []int{5}},
		{"past the end", 4, 2, []int{}},
		{"page zero clamps", 0, 2, []int{1, 2}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Paginate(items, c.page, c.perPage)
			if len(got) != len(c.want) {
				t.Fatalf("Paginate() = %v, want %v", got, c.want)
			}
			for i := range got {
				if got[i] != c.want[i] {
					t.Errorf("Paginate() = %v, want %v", got, c.want)
				}
			}
		})
	}
}

func TestFuelEfficiency(t *testing.T) {
	fuel := func(v float64) *float64 { return &v }

	cases := []struct {
		name   string
		trip   models.Trip
		want   float64
		wantOK bool
	}{
		{"trip 1", models.Trip{Distance: 25.4, FuelConsumed: fuel(2.1)}, 8.3, true},
		{"trip 2", models.Trip{Distance: 18.7, FuelConsumed: fuel(1.5)}, 8.0, true},
		{"trip 3", models.Trip{Distance: 12.3, FuelConsumed: fuel(1.0)}, 8.1, true},
		{"no fuel recorded", models.Trip{Distance: 10}, 0, false},
		{"zero distance", models.Trip{FuelConsumed: fuel(1)}, 0, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := FuelEfficiency(c.trip)
			if ok != c.wantOK || got != c.want {
				t.Errorf("FuelEfficiency() = %v, %v, want %v, %v", got, ok, c.want, c.wantOK)
			}
			if d := NewTripDetail(c.trip); (d.FuelEfficiency != nil) != c.wantOK {
				t.Errorf("TripDetail.FuelEfficiency = %v", d.FuelEfficiency)
			}
		})
	}
}

func TestActiveTrips(t *testing.T) {
	trips := repository.SampleTrips()
	if got := ActiveTrips(trips); len(got) != 0 {
		t.Errorf("ActiveTrips(samples) = %v, want empty", tripIDs(got))
	}

	trips[1].Status = models.TripActive
	if got := tripIDs(ActiveTrips(trips)); !equalIDs(got, []string{trips[1].ID}) {
		t.Errorf("ActiveTrips() = %v", got)
	}
}
