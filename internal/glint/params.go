package glint

import (
	"fmt"
	"image"
)

// Params are the tuning knobs of the glint pipeline. The defaults were found
// empirically on webcam-grade portraits and have not been validated against a
// labeled dataset, so treat any change as a recalibration.
type Params struct {
	// Scale is the integer upsampling factor applied to each eye ROI before
	// any analysis. Candidate areas and distances are measured at this scale.
	Scale int
	// PupilRatio converts the iris radius into a pupil radius.
	PupilRatio float64

	// CLAHEClipLimit and CLAHETileGrid configure local contrast equalisation
	// of the luminance channel.
	CLAHEClipLimit float64
	CLAHETileGrid  int
	// Gain and Offset are the linear rescale applied after equalisation.
	Gain   float64
	Offset float64
	// BlurKernel is the side of the Gaussian smoothing kernel. Must be odd.
	BlurKernel int

	// ThresholdBlockSize is the neighbourhood used by the adaptive threshold.
	// Must be odd and > 1.
	ThresholdBlockSize int
	// ThresholdBias is subtracted from the local mean; negative values require
	// pixels to be brighter than their surroundings.
	ThresholdBias float64
	// OpenKernel is the side of the rectangular opening element.
	OpenKernel int

	// MinArea and MaxArea bound candidate size in upsampled pixels.
	MinArea int
	MaxArea int
	// MaxDistanceRatio limits how far from the ROI center a candidate may be,
	// as a fraction of the upsampled pupil radius.
	MaxDistanceRatio float64
	// MaxGlints is the number of candidates kept per eye.
	MaxGlints int

	// MarkRadius is the radius of the circle stamped for each glint.
	MarkRadius int
}

// DefaultParams returns the calibrated defaults:
// - Scale: 8
// - CLAHE: clip 3.0 on an 8x8 grid, then gain 1.5 / offset 20
// - Blur: 3x3
// - Adaptive threshold: block 11, bias -2
// - Opening: 2x2
// - Candidate area: [2, 100], distance <= 0.9 pupil radius, at most 2
func DefaultParams() Params {
	return Params{
		Scale:              8,
		PupilRatio:         0.5,
		CLAHEClipLimit:     3.0,
		CLAHETileGrid:      8,
		Gain:               1.5,
		Offset:             20,
		BlurKernel:         3,
		ThresholdBlockSize: 11,
		ThresholdBias:      -2,
		OpenKernel:         2,
		MinArea:            2,
		MaxArea:            100,
		MaxDistanceRatio:   0.9,
		MaxGlints:          2,
		MarkRadius:         1,
	}
}

// Validate checks the invariants the image operations rely on.
func (p Params) Validate() error {
	switch {
	case p.Scale < 1:
		return fmt.Errorf("scale must be >= 1, got %d", p.Scale)
	case !(p.PupilRatio > 0) || p.PupilRatio > 1:
		return fmt.Errorf("pupil ratio must be in (0, 1], got %f", p.PupilRatio)
	case !(p.CLAHEClipLimit > 0):
		return fmt.Errorf("clahe clip limit must be > 0, got %f", p.CLAHEClipLimit)
	case p.CLAHETileGrid < 1:
		return fmt.Errorf("clahe tile grid must be >= 1, got %d", p.CLAHETileGrid)
	case p.BlurKernel < 1 || p.BlurKernel%2 == 0:
		return fmt.Errorf("blur kernel must be a positive odd number, got %d", p.BlurKernel)
	case p.ThresholdBlockSize < 3 || p.ThresholdBlockSize%2 == 0:
		return fmt.Errorf("threshold block size must be an odd number >= 3, got %d", p.ThresholdBlockSize)
	case p.OpenKernel < 1:
		return fmt.Errorf("open kernel must be >= 1, got %d", p.OpenKernel)
	case p.MinArea < 1 || p.MaxArea < p.MinArea:
		return fmt.Errorf("invalid area bounds [%d, %d]", p.MinArea, p.MaxArea)
	case !(p.MaxDistanceRatio > 0):
		return fmt.Errorf("max distance ratio must be > 0, got %f", p.MaxDistanceRatio)
	case p.MaxGlints < 1:
		return fmt.Errorf("max glints must be >= 1, got %d", p.MaxGlints)
	case p.MarkRadius < 0:
		return fmt.Errorf("mark radius must be >= 0, got %d", p.MarkRadius)
	}
	return nil
}

func (p Params) tileGrid() image.Point {
	return image.Pt(p.CLAHETileGrid, p.CLAHETileGrid)
}
