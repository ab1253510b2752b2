//go:build cgo
// +build cgo

package artrack

import (
	"sync"

	"github.com/arplane/artrack/internal/geometry"
	"gocv.io/x/gocv"
)

// cornerKalman is a 4-state constant-velocity Kalman filter over a single
// tracked corner's [x, y, vx, vy], with an implicit frame-to-frame Δt of
// 1. It wraps gocv's KalmanFilter rather than re-deriving the predict/
// correct equations: the teacher's filters were all hand-rolled scalar
// estimators, but a 4-state vector filter with a non-trivial transition
// matrix is exactly what OpenCV's implementation already is, so we
// configure it instead of re-implementing it.
type cornerKalman struct {
	kf          gocv.KalmanFilter
	initialized bool
}

func newCornerKalman(processNoise, measurementNoise float64) *cornerKalman {
	kf := gocv.NewKalmanFilterWithParams(4, 2, 0, gocv.MatTypeCV32F)

	transition := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV32F)
	transitionVals := [16]float32{
		1, 0, 1, 0,
		0, 1, 0, 1,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			transition.SetFloatAt(r, c, transitionVals[r*4+c])
		}
	}
	kf.SetTransitionMatrix(transition)
	transition.Close()

	measurement := gocv.NewMatWithSize(2, 4, gocv.MatTypeCV32F)
	measurement.SetFloatAt(0, 0, 1)
	measurement.SetFloatAt(1, 1, 1)
	kf.SetMeasurementMatrix(measurement)
	measurement.Close()

	processCov := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV32F)
	for i := 0; i < 4; i++ {
		processCov.SetFloatAt(i, i, float32(processNoise))
	}
	kf.SetProcessNoiseCov(processCov)
	processCov.Close()

	measurementCov := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV32F)
	for i := 0; i < 2; i++ {
		measurementCov.SetFloatAt(i, i, float32(measurementNoise))
	}
	kf.SetMeasurementNoiseCov(measurementCov)
	measurementCov.Close()

	errorCov := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV32F)
	for i := 0; i < 4; i++ {
		errorCov.SetFloatAt(i, i, 1)
	}
	kf.SetErrorCovPost(errorCov)
	errorCov.Close()

	return &cornerKalman{kf: kf}
}

// reset re-initializes the filter's state at pt with zero velocity. Per
// the TRACKING -> DETECTED transition rule, re-initialisation replaces
// the filter state outright rather than feeding pt through Correct, so a
// large jump from re-detection is never smoothed away.
func (c *cornerKalman) reset(pt geometry.Point2D) {
	state := gocv.NewMatWithSize(4, 1, gocv.MatTypeCV32F)
	state.SetFloatAt(0, 0, pt.X)
	state.SetFloatAt(1, 0, pt.Y)
	state.SetFloatAt(2, 0, 0)
	state.SetFloatAt(3, 0, 0)
	c.kf.SetStatePost(state)
	state.Close()
	c.initialized = true
}

// update predicts the next state and corrects it against measured,
// returning the filtered (smoothed) point. reset must be called before
// the first update.
func (c *cornerKalman) update(measured geometry.Point2D) geometry.Point2D {
	pred := c.kf.Predict()
	defer pred.Close()

	meas := gocv.NewMatWithSize(2, 1, gocv.MatTypeCV32F)
	meas.SetFloatAt(0, 0, measured.X)
	meas.SetFloatAt(1, 0, measured.Y)
	corrected := c.kf.Correct(meas)
	meas.Close()
	defer corrected.Close()

	return geometry.Point2D{
		X: corrected.GetFloatAt(0, 0),
		Y: corrected.GetFloatAt(1, 0),
	}
}

func (c *cornerKalman) close() {
	c.kf.Close()
}

// QuadKalman filters the four corners of a tracked quadrilateral
// independently, one constant-velocity filter per corner.
type QuadKalman struct {
	mu      sync.Mutex
	corners [4]*cornerKalman
}

// NewQuadKalman constructs a filter bank for one target's four corners.
func NewQuadKalman(processNoise, measurementNoise float64) *QuadKalman {
	qk := &QuadKalman{}
	for i := range qk.corners {
		qk.corners[i] = newCornerKalman(processNoise, measurementNoise)
	}
	return qk
}

// Reset re-initializes all four corner filters from a fresh detection.
func (qk *QuadKalman) Reset(corners Corners) {
	qk.mu.Lock()
	defer qk.mu.Unlock()
	for i, c := range corners {
		qk.corners[i].reset(c)
	}
}

// Update smooths a newly measured set of corners (from optical flow or
// re-detection) and returns the filtered corners.
func (qk *QuadKalman) Update(corners Corners) Corners {
	qk.mu.Lock()
	defer qk.mu.Unlock()
	var out Corners
	for i, c := range corners {
		out[i] = qk.corners[i].update(c)
	}
	return out
}

// Close releases the underlying OpenCV filter handles.
func (qk *QuadKalman) Close() {
	qk.mu.Lock()
	defer qk.mu.Unlock()
	for _, c := range qk.corners {
		c.close()
	}
}
