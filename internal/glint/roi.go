package glint

import (
	"errors"
	"image"

	"gonum.org/v1/gonum/floats"

	"github.com/andresmejia3/glint/internal/geometry"
)

var (
	// ErrNoGeometry means the eye had no usable iris landmarks.
	ErrNoGeometry = errors.New("no iris geometry")
	// ErrDegenerateROI means the region around the pupil collapsed to nothing
	// once clipped to the image.
	ErrDegenerateROI = errors.New("degenerate region of interest")
)

// ROI is a square region of the source image centered (before clipping) on a
// pupil.
type ROI struct {
	X, Y        int
	Side        int
	PupilRadius int
}

// Rect returns the region as an image rectangle, for cropping.
func (r ROI) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Side, r.Y+r.Side)
}

// ToImage maps a point inside the region to the source image.
func (r ROI) ToImage(p geometry.ROIPoint) geometry.ImagePoint {
	return geometry.ImagePoint{X: r.X + p.X, Y: r.Y + p.Y}
}

// UpsampledCenter is the center of the region after magnification.
func (r ROI) UpsampledCenter(scale int) geometry.UpsampledPoint {
	c := float64(r.Side * scale / 2)
	return geometry.UpsampledPoint{X: c, Y: c}
}

// ExtractROI derives the region of interest for one eye in an image of the
// given size. The pupil radius is half the iris radius and the region extends
// one further pupil radius on each side, so a well-placed region is four pupil
// radii wide.
func ExtractROI(eye geometry.Eye, width, height int, p Params) (ROI, error) {
	if !eye.Valid() {
		return ROI{}, ErrNoGeometry
	}

	center := eye.Pupil.ToImage(width, height)
	irisRadius := 0
	for _, pt := range eye.Iris {
		ip := pt.ToImage(width, height)
		d := floats.Distance(
			[]float64{float64(ip.X), float64(ip.Y)},
			[]float64{float64(center.X), float64(center.Y)},
			2,
		)
		if int(d) > irisRadius {
			irisRadius = int(d)
		}
	}

	pupilRadius := int(float64(irisRadius) * p.PupilRatio)
	margin := pupilRadius
	x := max(center.X-pupilRadius-margin, 0)
	y := max(center.Y-pupilRadius-margin, 0)
	side := min(width-x, height-y, 2*(pupilRadius+margin))
	// Clipping can leave an odd side; keep it even so the upsampled center
	// stays on the pupil mask's pixel grid.
	side &^= 1

	if side <= 0 {
		return ROI{}, ErrDegenerateROI
	}
	return ROI{X: x, Y: y, Side: side, PupilRadius: pupilRadius}, nil
}
