package spawner

import (
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/legion/legion/pkg/models"
)

// scoreIn maps seed onto [lo, hi] deterministically, rounded to 3 places
func scoreIn(seed string, lo, hi float64) float64 {
	frac := float64(xxhash.Sum64String(seed)%10_000) / 10_000
	return math.Round((lo+frac*(hi-lo))*1000) / 1000
}

type scoreRange struct {
	lo, hi float64
}

// performanceIn derives a full score set for seed from per-metric ranges
func performanceIn(seed string, eff, acc, adapt, spec scoreRange) *models.Performance {
	return &models.Performance{
		Efficiency:     scoreIn(seed+"/efficiency", eff.lo, eff.hi),
		Accuracy:       scoreIn(seed+"/accuracy", acc.lo, acc.hi),
		Adaptability:   scoreIn(seed+"/adaptability", adapt.lo, adapt.hi),
		Specialization: scoreIn(seed+"/specialization", spec.lo, spec.hi),
	}
}
