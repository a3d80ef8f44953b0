package glint

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var white = color.RGBA{255, 255, 255, 0}

// PupilMask returns a square CV_8UC1 mask of the given side with a filled
// circle of radius pupilRadius*scale at its center.
func PupilMask(side, pupilRadius int, p Params) gocv.Mat {
	mask := gocv.Zeros(side, side, gocv.MatTypeCV8UC1)
	center := image.Pt(side/2, side/2)
	gocv.Circle(&mask, center, pupilRadius*p.Scale, white, -1)
	return mask
}

// Segment turns an enhanced luminance map into a binary highlight map.
//
// Pixels are kept when they are brighter than their local neighbourhood and
// fall inside the pupil; anything on the iris or sclera is ignored because
// reflections there are not catchlights. A small opening then removes specks
// that are not coherent blobs. The caller owns the returned Mat.
func Segment(enhanced gocv.Mat, pupilRadius int, p Params) gocv.Mat {
	mask := PupilMask(enhanced.Rows(), pupilRadius, p)
	defer mask.Close()

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.AdaptiveThreshold(enhanced, &binary, 255, gocv.AdaptiveThresholdGaussian,
		gocv.ThresholdBinary, p.ThresholdBlockSize, float32(p.ThresholdBias))

	inside := gocv.NewMat()
	defer inside.Close()
	gocv.BitwiseAnd(binary, mask, &inside)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(p.OpenKernel, p.OpenKernel))
	defer kernel.Close()

	out := gocv.NewMat()
	gocv.MorphologyEx(inside, &out, gocv.MorphOpen, kernel)
	return out
}
