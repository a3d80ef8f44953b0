package types

import "github.com/andresmejia3/glint/internal/geometry"

// ImageTask is a single manifest row sent to an engine for processing.
// Index is the 1-based manifest position and drives the mask file name.
type ImageTask struct {
	Index    int
	FileName string
	Path     string
}

// LandmarkResult is the decoded response of the face mesh worker.
type LandmarkResult struct {
	Found  bool
	Points []geometry.NormalizedPoint
}

// ImageResult is what an engine reports back to the aggregator for one task.
type ImageResult struct {
	Index        int
	FileName     string
	MaskFileName string
	FaceFound    bool
	Glints       []geometry.ImagePoint
	// Err is set when the image could not be loaded, analysed or written.
	// Such images are counted as failures and left out of the manifest.
	Err error
}
