package scorer

// Keypoint vector layout. One frame's features are the concatenation of the
// pose landmarks (x, y, z, visibility each) and the left and right hand
// landmarks (x, y, z each); regions with no detection are zero-filled.
const (
	PoseLandmarkCount = 33
	PoseValueCount    = 4
	HandLandmarkCount = 21
	HandValueCount    = 3

	PoseFeatureSize = PoseLandmarkCount * PoseValueCount
	HandFeatureSize = HandLandmarkCount * HandValueCount

	// FeatureSize is the length of one frame's keypoint vector: 258.
	FeatureSize = PoseFeatureSize + 2*HandFeatureSize
)

// PoseLandmark is one detected body keypoint in normalized image coordinates.
type PoseLandmark struct {
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	Z          float32 `json:"z"`
	Visibility float32 `json:"visibility"`
}

// HandLandmark is one detected hand keypoint in normalized image coordinates.
type HandLandmark struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// HandDetection is one detected hand with its handedness label.
type HandDetection struct {
	Handedness string         `json:"handedness"` // "Left" or "Right"
	Landmarks  []HandLandmark `json:"landmarks"`
}

// AssembleKeypoints flattens detections into the fixed 258-float frame
// vector. Missing pose or hands leave their regions zeroed.
func AssembleKeypoints(pose []PoseLandmark, hands []HandDetection) []float32 {
	out := make([]float32, FeatureSize)

	for i, lm := range pose {
		if i >= PoseLandmarkCount {
			break
		}
		base := i * PoseValueCount
		out[base] = lm.X
		out[base+1] = lm.Y
		out[base+2] = lm.Z
		out[base+3] = lm.Visibility
	}

	for _, hand := range hands {
		var offset int
		switch hand.Handedness {
		case "Left":
			offset = PoseFeatureSize
		case "Right":
			offset = PoseFeatureSize + HandFeatureSize
		default:
			continue
		}
		for i, lm := range hand.Landmarks {
			if i >= HandLandmarkCount {
				break
			}
			base := offset + i*HandValueCount
			out[base] = lm.X
			out[base+1] = lm.Y
			out[base+2] = lm.Z
		}
	}

	return out
}
