package glint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/glint/internal/geometry"
)

// ErrNotBGR rejects images that are not 8-bit, three channel BGR.
var ErrNotBGR = errors.New("expected an 8-bit BGR image")

// LandmarkProvider finds face mesh landmarks in an image. found is false when
// no face was detected, which is not an error.
type LandmarkProvider interface {
	Landmarks(ctx context.Context, img gocv.Mat) (points []geometry.NormalizedPoint, found bool, err error)
}

// SkipReason explains why an eye contributed no glints without being a
// successful (possibly empty) detection.
type SkipReason int

const (
	NotSkipped SkipReason = iota
	SkipNoGeometry
	SkipDegenerateROI
	SkipProcessingError
)

func (s SkipReason) String() string {
	switch s {
	case NotSkipped:
		return "none"
	case SkipNoGeometry:
		return "no-geometry"
	case SkipDegenerateROI:
		return "degenerate-roi"
	case SkipProcessingError:
		return "processing-error"
	default:
		return fmt.Sprintf("skip(%d)", int(s))
	}
}

// EyeResult is the outcome of running the pipeline on one eye. Marks is empty
// whenever Skip is set.
type EyeResult struct {
	Side  geometry.Side
	ROI   ROI
	Marks []geometry.ImagePoint
	Skip  SkipReason
	Err   error
}

// Result is the outcome for a whole image. The caller owns Mask.
type Result struct {
	Mask      gocv.Mat
	FaceFound bool
	Eyes      []EyeResult
}

// Glints returns every mark stamped on the mask, left eye first.
func (r Result) Glints() []geometry.ImagePoint {
	var all []geometry.ImagePoint
	for _, e := range r.Eyes {
		all = append(all, e.Marks...)
	}
	return all
}

// ProcessEye runs ROI extraction, enhancement, segmentation and candidate
// selection for a single eye of img, which must be an 8-bit BGR image. Go
// panics raised along the way are reported as SkipProcessingError; errors
// thrown inside OpenCV itself are not recoverable and abort the process.
func ProcessEye(img gocv.Mat, eye geometry.Eye, p Params) (res EyeResult) {
	res.Side = eye.Side
	if img.Type() != gocv.MatTypeCV8UC3 {
		res.Skip, res.Err = SkipProcessingError, fmt.Errorf("%s eye: %w", eye.Side, ErrNotBGR)
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			res.Marks = nil
			res.Skip = SkipProcessingError
			res.Err = fmt.Errorf("%s eye: %v", eye.Side, r)
		}
	}()

	roi, err := ExtractROI(eye, img.Cols(), img.Rows(), p)
	switch {
	case errors.Is(err, ErrNoGeometry):
		res.Skip, res.Err = SkipNoGeometry, err
		return res
	case err != nil:
		res.Skip, res.Err = SkipDegenerateROI, err
		return res
	}
	res.ROI = roi

	crop := img.Region(roi.Rect())
	defer crop.Close()
	if crop.Empty() {
		res.Skip, res.Err = SkipDegenerateROI, ErrDegenerateROI
		return res
	}

	enhanced := Enhance(crop, p)
	defer enhanced.Close()

	highlight := Segment(enhanced, roi.PupilRadius, p)
	defer highlight.Close()

	cands := SelectCandidates(highlight, roi.UpsampledCenter(p.Scale), roi.PupilRadius, p)
	res.Marks = MapToImage(roi, cands, p.Scale)
	return res
}

// Detector produces glint masks for whole images.
type Detector struct {
	params    Params
	landmarks LandmarkProvider
	log       *slog.Logger
}

// NewDetector returns a Detector. A nil logger discards diagnostics.
func NewDetector(p Params, provider LandmarkProvider, log *slog.Logger) (*Detector, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid glint parameters: %w", err)
	}
	if provider == nil {
		return nil, errors.New("landmark provider is required")
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Detector{params: p, landmarks: provider, log: log}, nil
}

// Params returns the parameters the detector was built with.
func (d *Detector) Params() Params {
	return d.params
}

// Detect locates the face, runs both eyes independently and stamps their
// glints onto a fresh mask of the image's size. No face yields an all-zero
// mask and a nil error. Empty or non-BGR input and landmark provider
// failures are errors.
func (d *Detector) Detect(ctx context.Context, img gocv.Mat) (Result, error) {
	if img.Empty() {
		return Result{}, errors.New("empty image")
	}
	if img.Type() != gocv.MatTypeCV8UC3 {
		return Result{}, fmt.Errorf("%w, got mat type %v", ErrNotBGR, img.Type())
	}

	points, found, err := d.landmarks.Landmarks(ctx, img)
	if err != nil {
		return Result{}, fmt.Errorf("landmark detection failed: %w", err)
	}

	res := Result{
		Mask:      gocv.Zeros(img.Rows(), img.Cols(), gocv.MatTypeCV8UC1),
		FaceFound: found,
	}
	if !found {
		d.log.Info("glint.no_face")
		return res, nil
	}

	for _, eye := range geometry.ExtractEyes(points) {
		er := ProcessEye(img, eye, d.params)
		if er.Skip != NotSkipped {
			d.log.Warn("glint.eye_skipped", "eye", er.Side, "reason", er.Skip.String(), "err", er.Err)
		} else {
			Stamp(&res.Mask, er.Marks, d.params.MarkRadius)
			d.log.Debug("glint.eye_done", "eye", er.Side, "found", len(er.Marks) > 0, "glints", len(er.Marks))
		}
		res.Eyes = append(res.Eyes, er)
	}
	return res, nil
}

// DetectEyeReflections returns only the mask of Detect. The caller owns it.
func (d *Detector) DetectEyeReflections(ctx context.Context, img gocv.Mat) (gocv.Mat, error) {
	res, err := d.Detect(ctx, img)
	if err != nil {
		return gocv.Mat{}, err
	}
	return res.Mask, nil
}
