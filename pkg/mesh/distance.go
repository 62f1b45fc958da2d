package mesh

import (
	"math"

	"github.com/kabili207/meshinfo/pkg/models"
)

const earthRadiusKm = 6371.0

// Distance returns the great-circle distance in kilometres between two
// positions, rounded to two decimals. The second value is false when
// either position or any coordinate is missing.
func Distance(a, b *models.Position) (float64, bool) {
	lat1, ok1 := a.Latitude()
	lon1, ok2 := a.Longitude()
	lat2, ok3 := b.Latitude()
	lon2, ok4 := b.Longitude()
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return 0, false
	}
	return haversine(lat1, lon1, lat2, lon2), true
}

// DistanceBetween is Distance over two nodes' last known positions.
func DistanceBetween(a, b *models.Node) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	return Distance(a.Position, b.Position)
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return math.Round(earthRadiusKm*c*100) / 100
}
