package routing_test

import (
	"testing"
	"time"

	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/routing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineDistance(t *testing.T) {
	router := routing.HaversineRouter{AverageSpeedKmh: 25}

	tests := []struct {
		name      string
		a, b      models.Location
		wantM     float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         models.Location{Latitude: 37.9838, Longitude: 23.7275},
			b:         models.Location{Latitude: 37.9838, Longitude: 23.7275},
			wantM:     0,
			tolerance: 0.01,
		},
		{
			name:      "one degree of latitude",
			a:         models.Location{Latitude: 0, Longitude: 0},
			b:         models.Location{Latitude: 1, Longitude: 0},
			wantM:     111195,
			tolerance: 100,
		},
		{
			name:      "athens center to piraeus",
			a:         models.Location{Latitude: 37.9838, Longitude: 23.7275},
			b:         models.Location{Latitude: 37.9420, Longitude: 23.6462},
			wantM:     8500,
			tolerance: 500,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.wantM, router.Distance(tt.a, tt.b), tt.tolerance)
			// symmetric by construction
			assert.InDelta(t, router.Distance(tt.a, tt.b), router.Distance(tt.b, tt.a), 0.001)
		})
	}
}

func TestEstimateTravelTime(t *testing.T) {
	router := routing.HaversineRouter{AverageSpeedKmh: 25}

	a := models.Location{Latitude: 0, Longitude: 0}
	b := models.Location{Latitude: 1, Longitude: 0} // ~111.2 km

	got := router.EstimateTravelTime(a, b)
	want := time.Duration(111.195 / 25 * float64(time.Hour))
	assert.InDelta(t, want.Minutes(), got.Minutes(), 1)
}

func TestEstimateTravelTimeGuardsZeroSpeed(t *testing.T) {
	router := routing.HaversineRouter{}

	a := models.Location{Latitude: 0, Longitude: 0}
	b := models.Location{Latitude: 0.01, Longitude: 0}
	assert.Greater(t, router.EstimateTravelTime(a, b), time.Duration(0))
}
