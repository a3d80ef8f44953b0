package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/glint/internal/geometry"
	"github.com/andresmejia3/glint/internal/glint"
)

func TestDefaultMaskPath(t *testing.T) {
	tests := map[string]string{
		"face.jpg":              "face_mask.png",
		"/data/in/portrait.png": "/data/in/portrait_mask.png",
		"shots/a.b.jpeg":        "shots/a.b_mask.png",
	}
	for in, want := range tests {
		if got := defaultMaskPath(in); got != want {
			t.Errorf("defaultMaskPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunDetect_NoFace(t *testing.T) {
	withLandmarker(t, func(ctx context.Context, id int, opts Options) (landmarker, error) {
		return &fakeLandmarker{}, nil
	})

	dir := t.TempDir()
	imgPath := filepath.Join(dir, "face.png")
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), 30, 50, gocv.MatTypeCV8UC3)
	defer img.Close()
	if !gocv.IMWrite(imgPath, img) {
		t.Fatal("failed to write fixture")
	}

	out := filepath.Join(dir, "masks", "out.png")
	if err := runDetect(context.Background(), imgPath, out, Options{}); err != nil {
		t.Fatalf("runDetect failed: %v", err)
	}

	mask := gocv.IMRead(out, gocv.IMReadGrayScale)
	defer mask.Close()
	if mask.Empty() || mask.Rows() != 30 || mask.Cols() != 50 {
		t.Fatalf("Unexpected mask %dx%d", mask.Cols(), mask.Rows())
	}
	if gocv.CountNonZero(mask) != 0 {
		t.Error("Expected an all-zero mask")
	}
}

func TestRunDetect_Errors(t *testing.T) {
	dir := t.TempDir()

	if err := runDetect(context.Background(), filepath.Join(dir, "missing.png"), "", Options{}); err == nil {
		t.Error("Expected error for a missing image")
	}

	garbage := filepath.Join(dir, "garbage.png")
	os.WriteFile(garbage, []byte("not an image"), 0644)
	if err := runDetect(context.Background(), garbage, "", Options{}); err == nil {
		t.Error("Expected error for an undecodable image")
	}

	withLandmarker(t, func(ctx context.Context, id int, opts Options) (landmarker, error) {
		return nil, errors.New("no python")
	})
	imgPath := filepath.Join(dir, "ok.png")
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 2, 3, 0), 8, 8, gocv.MatTypeCV8UC3)
	defer img.Close()
	gocv.IMWrite(imgPath, img)
	if err := runDetect(context.Background(), imgPath, "", Options{}); err == nil {
		t.Error("Expected error when the worker cannot start")
	}
}

func TestPrintEyes(t *testing.T) {
	var buf bytes.Buffer
	printEyes(&buf, glint.Result{})
	if !strings.Contains(buf.String(), "No face") {
		t.Errorf("Expected no-face message, got %q", buf.String())
	}

	buf.Reset()
	printEyes(&buf, glint.Result{
		FaceFound: true,
		Eyes: []glint.EyeResult{
			{
				Side:  geometry.LeftEye,
				ROI:   glint.ROI{X: 60, Y: 80, Side: 40, PupilRadius: 10},
				Marks: []geometry.ImagePoint{{X: 78, Y: 99}, {X: 83, Y: 101}},
			},
			{Side: geometry.RightEye, Skip: glint.SkipDegenerateROI},
		},
	})

	out := buf.String()
	for _, want := range []string{"found", "40x40@60,80", "(78,99) (83,101)", "skipped (degenerate-roi)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output, got:\n%s", want, out)
		}
	}
}
