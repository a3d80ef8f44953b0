package glint

import (
	"image"

	"gocv.io/x/gocv"
)

// Enhance magnifies a color eye crop and returns its contrast-boosted
// luminance channel.
//
// Glints are only a few pixels wide and sit on textured iris, so the crop is
// upsampled first and then equalised locally, which makes the later adaptive
// threshold stable. The caller owns the returned Mat.
func Enhance(roi gocv.Mat, p Params) gocv.Mat {
	side := roi.Cols() * p.Scale

	large := gocv.NewMat()
	defer large.Close()
	gocv.Resize(roi, &large, image.Pt(side, side), 0, 0, gocv.InterpolationLinear)

	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(large, &lab, gocv.ColorBGRToLab)

	channels := gocv.Split(lab)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()

	clahe := gocv.NewCLAHEWithParams(p.CLAHEClipLimit, p.tileGrid())
	defer clahe.Close()

	equalized := gocv.NewMat()
	defer equalized.Close()
	clahe.Apply(channels[0], &equalized)

	// Push midtones up so the pupil interior is not crushed to black.
	gocv.ConvertScaleAbs(equalized, &equalized, p.Gain, p.Offset)

	out := gocv.NewMat()
	gocv.GaussianBlur(equalized, &out, image.Pt(p.BlurKernel, p.BlurKernel), 0, 0, gocv.BorderDefault)
	return out
}
