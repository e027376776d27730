package assignment

import (
	"sort"

	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/routing"
)

type candidate struct {
	rider    models.Rider
	distance float64
}

// rankCandidates orders eligible riders by composite score: closest to
// the restaurant first, then highest rating, then lightest load.
func rankCandidates(router routing.Router, order models.Order, riders []models.Rider) []candidate {
	candidates := make([]candidate, 0, len(riders))
	for _, r := range riders {
		if r.Status != models.RIDER_STATUS_AVAILABLE || !r.IsOnline || !r.HasCapacity() {
			continue
		}
		candidates = append(candidates, candidate{
			rider:    r,
			distance: router.Distance(r.CurrentLocation.Point(), order.RestaurantLocation),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		if candidates[i].rider.Rating != candidates[j].rider.Rating {
			return candidates[i].rider.Rating > candidates[j].rider.Rating
		}
		if candidates[i].rider.Load() != candidates[j].rider.Load() {
			return candidates[i].rider.Load() < candidates[j].rider.Load()
		}
		return candidates[i].rider.RiderId < candidates[j].rider.RiderId
	})

	return candidates
}
