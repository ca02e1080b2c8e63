package similarity

import "math"

// earthRadiusKm is the mean Earth radius used by the haversine formula.
const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometers between two
// coordinate pairs. Out-of-range coordinates return -1 so callers can treat
// the comparison as inapplicable instead of producing nonsense distances.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	if !validCoordinate(lat1, lon1) || !validCoordinate(lat2, lon2) {
		return -1
	}

	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func validCoordinate(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
