package glint

import (
	"sort"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/floats"

	"github.com/andresmejia3/glint/internal/geometry"
)

// Candidate is one connected blob of the highlight map.
type Candidate struct {
	Area     int
	Centroid geometry.UpsampledPoint
	// Distance is measured from the upsampled ROI center.
	Distance float64
}

// SelectCandidates extracts 8-connected blobs from a highlight map, drops the
// ones that are too small, too large or too close to the pupil rim, and
// returns at most MaxGlints of them ordered by distance to center.
//
// A real catchlight is at most a couple of point sources, so anything past
// the closest two is treated as clutter.
func SelectCandidates(highlight gocv.Mat, center geometry.UpsampledPoint, pupilRadius int, p Params) []Candidate {
	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStatsWithParams(highlight, &labels, &stats, &centroids,
		8, gocv.MatTypeCV32S, gocv.CCL_DEFAULT)

	maxDist := float64(pupilRadius*p.Scale) * p.MaxDistanceRatio
	c := []float64{center.X, center.Y}

	var kept []Candidate
	// Label 0 is the background.
	for i := 1; i < n; i++ {
		area := int(stats.GetIntAt(i, int(gocv.CC_STAT_AREA)))
		if area < p.MinArea || area > p.MaxArea {
			continue
		}

		cx, cy := centroids.GetDoubleAt(i, 0), centroids.GetDoubleAt(i, 1)
		dist := floats.Distance([]float64{cx, cy}, c, 2)
		if dist > maxDist {
			continue
		}

		kept = append(kept, Candidate{
			Area:     area,
			Centroid: geometry.UpsampledPoint{X: cx, Y: cy},
			Distance: dist,
		})
	}

	// Stable so equal distances keep label (raster) order.
	sort.SliceStable(kept, func(a, b int) bool {
		return kept[a].Distance < kept[b].Distance
	})
	if len(kept) > p.MaxGlints {
		kept = kept[:p.MaxGlints]
	}
	return kept
}
