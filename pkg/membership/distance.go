package membership

import (
	"math"
	"sort"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between a and b in kilometres
func HaversineKm(a, b Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// RankedFacility is a facility with its distance from a reference point
type RankedFacility struct {
	Facility   Facility
	DistanceKm float64
}

// RankFacilities orders facilities by distance from origin and returns at
// most limit of them (all when limit <= 0). Facilities without a location
// are left out.
func RankFacilities(origin Location, facilities []Facility, limit int) []RankedFacility {
	ranked := make([]RankedFacility, 0, len(facilities))
	for _, f := range facilities {
		if f.Location == nil {
			continue
		}
		ranked = append(ranked, RankedFacility{Facility: f, DistanceKm: HaversineKm(origin, *f.Location)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DistanceKm < ranked[j].DistanceKm
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
