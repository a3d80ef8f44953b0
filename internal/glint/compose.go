package glint

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/glint/internal/geometry"
)

// MapToImage converts candidate centroids from upsampled ROI space into
// source image pixels.
func MapToImage(roi ROI, cands []Candidate, scale int) []geometry.ImagePoint {
	if len(cands) == 0 {
		return nil
	}
	points := make([]geometry.ImagePoint, 0, len(cands))
	for _, c := range cands {
		points = append(points, roi.ToImage(c.Centroid.ToROI(scale)))
	}
	return points
}

// Stamp draws one filled circle per glint onto the output mask. Overlapping
// marks from both eyes simply land on the same pixels.
func Stamp(mask *gocv.Mat, points []geometry.ImagePoint, radius int) {
	for _, pt := range points {
		gocv.Circle(mask, image.Pt(pt.X, pt.Y), radius, white, -1)
	}
}
