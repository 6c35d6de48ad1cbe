// Package feature turns holistic body, face and hand landmarks into the
// fixed-length keypoint vectors consumed by the gesture classifier.
package feature

// Landmark counts and per-landmark component counts following the MediaPipe
// Holistic convention.
// See: https://developers.google.com/mediapipe/solutions/vision/holistic_landmarker
const (
	PoseLandmarks   = 33
	FaceLandmarks   = 468
	HandLandmarks   = 21
	PoseComponents  = 4 // x, y, z, visibility
	PointComponents = 3 // x, y, z

	PoseLength = PoseLandmarks * PoseComponents
	FaceLength = FaceLandmarks * PointComponents
	HandLength = HandLandmarks * PointComponents

	// Length is the dimensionality of every Vector.
	Length = PoseLength + FaceLength + 2*HandLength
)

// Vector is one frame's keypoints flattened in the order
// pose, face, left hand, right hand.
type Vector []float32

// Landmark is a single normalized landmark. Visibility is only meaningful
// for pose landmarks.
type Landmark struct {
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	Z          float32 `json:"z"`
	Visibility float32 `json:"visibility,omitempty"`
}

// Holistic holds the landmarks detected in one frame. A nil or short part
// means that part was not detected.
type Holistic struct {
	Pose      []Landmark `json:"pose"`
	Face      []Landmark `json:"face"`
	LeftHand  []Landmark `json:"left_hand"`
	RightHand []Landmark `json:"right_hand"`
}

// Flatten encodes the landmarks into a Vector of exactly Length components.
// A part whose landmark count does not match the expected count contributes
// an all-zero sub-vector.
func (h *Holistic) Flatten() Vector {
	v := make(Vector, Length)
	if h == nil {
		return v
	}

	off := 0
	if len(h.Pose) == PoseLandmarks {
		for i, p := range h.Pose {
			j := off + i*PoseComponents
			v[j], v[j+1], v[j+2], v[j+3] = p.X, p.Y, p.Z, p.Visibility
		}
	}
	off += PoseLength

	off = fillPoints(v, off, h.Face, FaceLandmarks)
	off = fillPoints(v, off, h.LeftHand, HandLandmarks)
	fillPoints(v, off, h.RightHand, HandLandmarks)

	return v
}

func fillPoints(v Vector, off int, points []Landmark, want int) int {
	if len(points) == want {
		for i, p := range points {
			j := off + i*PointComponents
			v[j], v[j+1], v[j+2] = p.X, p.Y, p.Z
		}
	}
	return off + want*PointComponents
}

// Detected reports which parts of the vector are non-zero.
func (v Vector) Detected() (pose, face, left, right bool) {
	pose = anyNonZero(v[:PoseLength])
	face = anyNonZero(v[PoseLength : PoseLength+FaceLength])
	left = anyNonZero(v[PoseLength+FaceLength : PoseLength+FaceLength+HandLength])
	right = anyNonZero(v[PoseLength+FaceLength+HandLength:])
	return
}

func anyNonZero(s []float32) bool {
	for _, x := range s {
		if x != 0 {
			return true
		}
	}
	return false
}

// Filler returns a Vector of Length with every component set to value.
func Filler(value float32) Vector {
	v := make(Vector, Length)
	for i := range v {
		v[i] = value
	}
	return v
}
