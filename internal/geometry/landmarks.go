package geometry

// Face mesh (refined landmarks) indices for the iris. The first index of
// each group is the pupil center, the remaining four lie on the iris
// boundary.
const (
	LeftPupilIndex  = 468
	RightPupilIndex = 473

	// FaceMeshSize is the number of points produced with refined landmarks.
	FaceMeshSize = 478
)

var (
	leftIrisIndices  = []int{468, 469, 470, 471, 472}
	rightIrisIndices = []int{473, 474, 475, 476, 477}
)

// ExtractEyes picks out both eyes from a full set of face mesh landmarks.
// Eyes whose indices are out of range come back without iris points, so the
// caller can skip them.
func ExtractEyes(points []NormalizedPoint) []Eye {
	return []Eye{
		extractEye(points, LeftEye, LeftPupilIndex, leftIrisIndices),
		extractEye(points, RightEye, RightPupilIndex, rightIrisIndices),
	}
}

func extractEye(points []NormalizedPoint, side Side, pupil int, iris []int) Eye {
	eye := Eye{Side: side}
	if pupil >= len(points) {
		return eye
	}
	eye.Pupil = points[pupil]

	for _, idx := range iris {
		if idx >= len(points) {
			// Partial iris sets are not trusted.
			eye.Iris = nil
			return eye
		}
		eye.Iris = append(eye.Iris, points[idx])
	}
	return eye
}
