package routing

import (
	"math"
	"time"

	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/utils"
)

// Router is the map/routing collaborator surface. Both functions are
// pure; the engine never calls a routing provider with side effects.
type Router interface {
	Distance(a, b models.Location) float64
	EstimateTravelTime(a, b models.Location) time.Duration
}

const earthRadiusMeters = 6371000.0

// HaversineRouter estimates with great-circle distance and a flat
// average speed. A real routing provider plugs in behind the same
// interface.
type HaversineRouter struct {
	AverageSpeedKmh float64
}

func NewHaversineRouter() HaversineRouter {
	return HaversineRouter{
		AverageSpeedKmh: utils.GetEnvFloat("ROUTER_AVG_SPEED_KMH", 25),
	}
}

// Distance returns the great-circle distance between a and b in meters.
func (r HaversineRouter) Distance(a, b models.Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

func (r HaversineRouter) EstimateTravelTime(a, b models.Location) time.Duration {
	speed := r.AverageSpeedKmh
	if speed <= 0 {
		speed = 25
	}
	meters := r.Distance(a, b)
	hours := meters / 1000 / speed
	return time.Duration(hours * float64(time.Hour))
}
