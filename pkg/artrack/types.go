package artrack

import (
	"github.com/arplane/artrack/internal/geometry"
	"github.com/arplane/artrack/internal/vocabulary"
)

// Keypoint is a detected feature location with scale/orientation/response,
// in pixel coordinates of the frame or reference image it was extracted
// from.
type Keypoint struct {
	X, Y        float32
	Scale       float32
	Orientation float32 // radians
	Response    float32
}

// Descriptor is a BRISK-style 512-bit (64-byte) binary feature descriptor.
type Descriptor = vocabulary.Descriptor

// DescriptorSize is the fixed width, in bytes, of a single descriptor.
const DescriptorSize = 64

// Corners is the four image-plane points of a quadrilateral, in winding
// order (e.g. top-left, top-right, bottom-right, bottom-left).
type Corners [4]geometry.Point2D

// Target is an immutable reference target loaded into the database.
type Target struct {
	ID string

	RefWidth, RefHeight int
	RefCorners          Corners

	Keypoints   []Keypoint
	Descriptors []Descriptor

	// histogramTF is the target's tf-idf weighted vocabulary histogram,
	// recomputed whenever the database rebuilds the vocabulary tree.
	histogramTF []float64

	Metadata []byte
}

// refAspectRatio returns width/height of the reference rectangle implied
// by RefCorners' bounding extent.
func (t *Target) refAspectRatio() float64 {
	minX, minY := t.RefCorners[0].X, t.RefCorners[0].Y
	maxX, maxY := minX, minY
	for _, c := range t.RefCorners[1:] {
		if c.X < minX {
			minX = c.X
		}
		if c.X > maxX {
			maxX = c.X
		}
		if c.Y < minY {
			minY = c.Y
		}
		if c.Y > maxY {
			maxY = c.Y
		}
	}
	h := float64(maxY - minY)
	if h == 0 {
		return 1
	}
	return float64(maxX-minX) / h
}

// TargetState is the lifecycle state of a per-target tracking record.
type TargetState int

const (
	// StateIdle means no per-target record exists (the zero value is
	// never stored; it is used only as a "not present" sentinel).
	StateIdle TargetState = iota
	// StateDetected means the target was confirmed by full detection
	// this frame and its tracking state was (re)seeded.
	StateDetected
	// StateTracking means optical flow is actively following the target.
	StateTracking
	// StateLost means tracking degraded past the quality threshold; the
	// record is removed in the same track step that sets this state.
	StateLost
)

func (s TargetState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetected:
		return "detected"
	case StateTracking:
		return "tracking"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// TrackingMode labels how a TrackingResult's corners were produced.
type TrackingMode string

const (
	// ModeDetection labels a result produced by full feature detection.
	ModeDetection TrackingMode = "detection"
	// ModeOpticalFlow labels a result produced by optical-flow tracking.
	ModeOpticalFlow TrackingMode = "optical_flow"
)

// TrackingResult is the per-target output of ProcessFrame.
type TrackingResult struct {
	TargetID   string
	Detected   bool
	Corners    Corners
	Confidence float32
	Mode       TrackingMode
}

// trackedPoint pairs a tracking-time image location with its
// corresponding location in the target's reference frame, so that a
// re-estimated homography has a source/destination pair to fit. Points
// seeded from a detection match carry the matched reference keypoint's
// position; points added by spatial re-seeding carry a position
// synthesized by projecting the live point through the inverse of the
// most recently accepted homography (they have no original descriptor
// match, only an approximate reference-frame location).
type trackedPoint struct {
	refPt geometry.Point2D
	pt    geometry.Point2D
}
