// Package imaging turns raw segmentation output into the morphology
// covariate consumed by scoring, and tracks analysis jobs end to end.
package imaging

import (
	"math"
	"sort"

	"github.com/oncorec-server/internal/domain"
)

// Heterogeneity grade boundaries on the coefficient of variation of cell
// areas. A population with CV below the first bound is morphologically
// uniform; above the second it is graded highly heterogeneous.
const (
	heterogeneityModerateCV = 0.35
	heterogeneityHighCV     = 0.70
)

// Summarize computes aggregate morphology statistics from segmented cell
// records. Image dimensions are in pixels; when either is zero the density
// is left unset. An empty record set yields the zero summary, which callers
// treat as an absent covariate.
func Summarize(cells []domain.CellRecord, imageWidth, imageHeight int) domain.MorphologySummary {
	if len(cells) == 0 {
		return domain.MorphologySummary{}
	}

	areas := make([]float64, len(cells))
	for i, cell := range cells {
		areas[i] = cell.Area
	}
	sort.Float64s(areas)

	var sum float64
	for _, a := range areas {
		sum += a
	}
	mean := sum / float64(len(areas))

	var sqDiff float64
	for _, a := range areas {
		d := a - mean
		sqDiff += d * d
	}
	stdDev := math.Sqrt(sqDiff / float64(len(areas)))

	summary := domain.MorphologySummary{
		TotalCells: len(cells),
		MeanArea:   mean,
		MedianArea: median(areas),
		StdDevArea: stdDev,
		MinArea:    areas[0],
		MaxArea:    areas[len(areas)-1],
	}

	if mean > 0 {
		summary.AreaCV = stdDev / mean
	}
	summary.Heterogeneity = gradeHeterogeneity(summary.AreaCV)

	if imageWidth > 0 && imageHeight > 0 {
		megapixels := float64(imageWidth) * float64(imageHeight) / 1e6
		summary.CellDensity = float64(len(cells)) / megapixels
	}

	return summary
}

// median expects a sorted slice.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func gradeHeterogeneity(cv float64) domain.HeterogeneityLevel {
	switch {
	case cv < heterogeneityModerateCV:
		return domain.HETEROGENEITY_LOW
	case cv < heterogeneityHighCV:
		return domain.HETEROGENEITY_MODERATE
	default:
		return domain.HETEROGENEITY_HIGH
	}
}
