package geometry

import (
	"fmt"
	"math"
)

// NormalizedPoint is a landmark coordinate expressed as a fraction of the
// image width and height, as reported by the face mesh.
type NormalizedPoint struct {
	X float64
	Y float64
}

// ToImage converts the point to pixel space. Coordinates are truncated, not
// rounded, to match how the landmark model's points are usually consumed.
func (p NormalizedPoint) ToImage(width, height int) ImagePoint {
	return ImagePoint{
		X: int(p.X * float64(width)),
		Y: int(p.Y * float64(height)),
	}
}

// ImagePoint is a pixel in the source image.
type ImagePoint struct {
	X int
	Y int
}

func (p ImagePoint) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// ROIPoint is a pixel relative to the top-left corner of a region of interest,
// before any upsampling.
type ROIPoint struct {
	X int
	Y int
}

// UpsampledPoint is a sub-pixel coordinate inside a region of interest that
// has been magnified by an integer scale factor.
type UpsampledPoint struct {
	X float64
	Y float64
}

// ToROI maps the point back to the un-magnified region by flooring.
func (p UpsampledPoint) ToROI(scale int) ROIPoint {
	s := float64(scale)
	return ROIPoint{
		X: int(math.Floor(p.X / s)),
		Y: int(math.Floor(p.Y / s)),
	}
}

// Side identifies which eye a set of landmarks belongs to. Left and right are
// from the subject's point of view, following the face mesh convention.
type Side string

const (
	LeftEye  Side = "left"
	RightEye Side = "right"
)

// Eye is the iris and pupil geometry of a single eye.
type Eye struct {
	Side  Side
	Pupil NormalizedPoint
	// Iris holds points on (or near) the iris boundary. May include the pupil
	// center itself, which never wins the radius computation.
	Iris []NormalizedPoint
}

// Valid reports whether the eye carries enough geometry to be processed.
func (e Eye) Valid() bool {
	return len(e.Iris) > 0
}
