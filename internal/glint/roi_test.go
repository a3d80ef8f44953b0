package glint

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/andresmejia3/glint/internal/geometry"
)

// eyeAt builds an eye centered at pixel (cx, cy) of a w×h image with four
// iris points at the given pixel radius.
func eyeAt(cx, cy, radius float64, w, h int) geometry.Eye {
	n := func(x, y float64) geometry.NormalizedPoint {
		return geometry.NormalizedPoint{X: x / float64(w), Y: y / float64(h)}
	}
	return geometry.Eye{
		Side:  geometry.LeftEye,
		Pupil: n(cx, cy),
		Iris: []geometry.NormalizedPoint{
			n(cx, cy),
			n(cx+radius, cy),
			n(cx, cy+radius),
			n(cx-radius, cy),
			n(cx, cy-radius),
		},
	}
}

func TestExtractROI(t *testing.T) {
	p := DefaultParams()

	tests := []struct {
		name    string
		eye     geometry.Eye
		w, h    int
		want    ROI
		wantErr error
	}{
		{
			name: "Centered eye",
			eye:  eyeAt(100.5, 100.5, 20, 200, 200),
			w:    200, h: 200,
			// iris 20 -> pupil 10 -> region 40 wide starting 20 left/up of center
			want: ROI{X: 80, Y: 80, Side: 40, PupilRadius: 10},
		},
		{
			name: "Odd iris radius truncates pupil radius",
			eye:  eyeAt(100.5, 100.5, 15, 200, 200),
			w:    200, h: 200,
			want: ROI{X: 86, Y: 86, Side: 28, PupilRadius: 7},
		},
		{
			name: "Clipped at top-left",
			eye:  eyeAt(5.5, 8.5, 20, 200, 200),
			w:    200, h: 200,
			want: ROI{X: 0, Y: 0, Side: 40, PupilRadius: 10},
		},
		{
			name: "Clipped at bottom-right rounds side down to even",
			eye:  eyeAt(190.5, 195.5, 20, 200, 200),
			w:    200, h: 200,
			// x=170, y=175 -> min(30, 25, 40) = 25 -> 24
			want: ROI{X: 170, Y: 175, Side: 24, PupilRadius: 10},
		},
		{
			name:    "Iris collapsed onto pupil",
			eye:     eyeAt(100.5, 100.5, 0, 200, 200),
			w:       200, h: 200,
			wantErr: ErrDegenerateROI,
		},
		{
			name:    "Iris radius 1 gives zero pupil radius",
			eye:     eyeAt(100.5, 100.5, 1, 200, 200),
			w:       200, h: 200,
			wantErr: ErrDegenerateROI,
		},
		{
			name:    "Pupil outside the image",
			eye:     eyeAt(260.5, 100.5, 20, 200, 200),
			w:       200, h: 200,
			wantErr: ErrDegenerateROI,
		},
		{
			name:    "No iris points",
			eye:     geometry.Eye{Side: geometry.RightEye, Pupil: geometry.NormalizedPoint{X: 0.5, Y: 0.5}},
			w:       200, h: 200,
			wantErr: ErrNoGeometry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractROI(tt.eye, tt.w, tt.h, p)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ExtractROI() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractROI() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractROI() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtractROI_EvenAndContained(t *testing.T) {
	p := DefaultParams()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		w := 20 + rng.Intn(400)
		h := 20 + rng.Intn(400)
		cx := rng.Float64() * float64(w)
		cy := rng.Float64() * float64(h)
		r := 2 + rng.Float64()*60

		roi, err := ExtractROI(eyeAt(cx, cy, r, w, h), w, h, p)
		if errors.Is(err, ErrDegenerateROI) {
			continue
		}
		if err != nil {
			t.Fatalf("case %d: unexpected error %v", i, err)
		}

		if roi.Side <= 0 || roi.Side%2 != 0 {
			t.Fatalf("case %d: side %d is not positive and even", i, roi.Side)
		}
		if roi.X < 0 || roi.Y < 0 || roi.X+roi.Side > w || roi.Y+roi.Side > h {
			t.Fatalf("case %d: roi %+v escapes %dx%d", i, roi, w, h)
		}
	}
}

func TestROIToImage(t *testing.T) {
	roi := ROI{X: 30, Y: 40, Side: 20, PupilRadius: 5}

	c := roi.UpsampledCenter(8)
	if c.X != 80 || c.Y != 80 {
		t.Errorf("UpsampledCenter() = %v, want (80,80)", c)
	}

	got := roi.ToImage(geometry.UpsampledPoint{X: 84.5, Y: 8}.ToROI(8))
	want := geometry.ImagePoint{X: 40, Y: 41}
	if got != want {
		t.Errorf("ToImage() = %v, want %v", got, want)
	}

	if r := roi.Rect(); r.Dx() != 20 || r.Dy() != 20 || r.Min.X != 30 || r.Min.Y != 40 {
		t.Errorf("Rect() = %v", r)
	}
}

func TestParamsValidate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("Default params should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"Zero scale", func(p *Params) { p.Scale = 0 }},
		{"Even blur kernel", func(p *Params) { p.BlurKernel = 4 }},
		{"Even block size", func(p *Params) { p.ThresholdBlockSize = 10 }},
		{"Inverted area bounds", func(p *Params) { p.MinArea, p.MaxArea = 50, 10 }},
		{"Zero glints", func(p *Params) { p.MaxGlints = 0 }},
		{"Pupil ratio above one", func(p *Params) { p.PupilRatio = 1.5 }},
		{"Negative distance ratio", func(p *Params) { p.MaxDistanceRatio = -0.1 }},
		{"NaN clip limit", func(p *Params) { p.CLAHEClipLimit = math.NaN() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Errorf("Validate() accepted %+v", p)
			}
		})
	}
}
