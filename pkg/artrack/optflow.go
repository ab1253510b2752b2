//go:build cgo
// +build cgo

package artrack

import (
	"math"
	"sort"

	"github.com/arplane/artrack/internal/config"
	"github.com/arplane/artrack/internal/geometry"
	"gocv.io/x/gocv"
)

// OpticalFlowTracker tracks a set of points from one grayscale frame to
// the next with forward-backward validation: every forward flow is
// re-tracked from next back to prev, and points whose round-trip error
// or per-frame displacement exceed the configured thresholds are marked
// invalid rather than discarded, so the caller can re-seed in place.
type OpticalFlowTracker struct {
	cfg config.TrackerConfig
}

// NewOpticalFlowTracker constructs a tracker bound to cfg.
func NewOpticalFlowTracker(cfg config.TrackerConfig) *OpticalFlowTracker {
	return &OpticalFlowTracker{cfg: cfg}
}

// FlowResult is the outcome of tracking a point set across one frame
// pair. Points and Valid are parallel to the input prevPts slice.
type FlowResult struct {
	Points         []geometry.Point2D
	Valid          []bool
	SurvivingCount int
	FBTerm         float64 // mean forward-backward agreement over valid points, in [0,1]
}

func pointDistance(a, b geometry.Point2D) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// fbThreshold computes the forward-backward rejection threshold for a
// track step currently holding pointCount points: it ramps linearly from
// FBErrorThresholdBase at MinTrackingPoints to FBErrorThresholdMax at
// MaxTrackingPoints, so a well-populated point set (high current inlier
// count) tolerates more per-point FB noise than a thin one, where every
// point still matters for the homography fit.
func (t *OpticalFlowTracker) fbThreshold(pointCount int) float64 {
	base, max := t.cfg.FBErrorThresholdBase, t.cfg.FBErrorThresholdMax
	lo, hi := t.cfg.MinTrackingPoints, t.cfg.MaxTrackingPoints
	if hi <= lo {
		return base
	}
	frac := float64(pointCount-lo) / float64(hi-lo)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return base + (max-base)*frac
}

// Track runs pyramidal Lucas-Kanade flow from prevGray to nextGray for
// prevPts, then validates each result by re-tracking backward and
// checking round-trip error against an adaptive threshold (see
// fbThreshold) and per-point displacement against cfg.MaxFlowMagnitude.
// It returns (nil, nil) when prevPts is empty.
func (t *OpticalFlowTracker) Track(prevGray, nextGray []byte, width, height int, prevPts []geometry.Point2D) (*FlowResult, error) {
	if len(prevPts) == 0 {
		return nil, nil
	}

	prevMat, err := newGrayMat(prevGray, width, height)
	if err != nil {
		return nil, err
	}
	defer prevMat.Close()
	nextMat, err := newGrayMat(nextGray, width, height)
	if err != nil {
		return nil, err
	}
	defer nextMat.Close()

	prevPtsMat, err := pointsToMat(prevPts)
	if err != nil {
		return nil, err
	}
	defer prevPtsMat.Close()

	nextPtsMat := gocv.NewMat()
	defer nextPtsMat.Close()
	status := gocv.NewMat()
	defer status.Close()
	flowErr := gocv.NewMat()
	defer flowErr.Close()

	gocv.CalcOpticalFlowPyrLK(prevMat, nextMat, prevPtsMat, &nextPtsMat, &status, &flowErr)
	forward := matToPoints(nextPtsMat)

	backPtsMat := gocv.NewMat()
	defer backPtsMat.Close()
	backStatus := gocv.NewMat()
	defer backStatus.Close()
	backErr := gocv.NewMat()
	defer backErr.Close()

	gocv.CalcOpticalFlowPyrLK(nextMat, prevMat, nextPtsMat, &backPtsMat, &backStatus, &backErr)
	backward := matToPoints(backPtsMat)

	valid := make([]bool, len(prevPts))
	survive := 0
	var fbSum float64

	threshold := t.fbThreshold(len(prevPts))
	for i := range prevPts {
		if status.GetUCharAt(i, 0) == 0 || backStatus.GetUCharAt(i, 0) == 0 {
			continue
		}
		fbErr := pointDistance(prevPts[i], backward[i])
		flowMag := pointDistance(prevPts[i], forward[i])
		if fbErr > threshold || flowMag > t.cfg.MaxFlowMagnitude {
			continue
		}
		valid[i] = true
		survive++
		fbSum += 1 - math.Min(1, fbErr/t.cfg.FBErrorThresholdMax)
	}

	var fbTerm float64
	if survive > 0 {
		fbTerm = fbSum / float64(survive)
	}

	return &FlowResult{Points: forward, Valid: valid, SurvivingCount: survive, FBTerm: fbTerm}, nil
}

// SpatialReseed picks additional candidate keypoints to restore even
// coverage across a gridSize x gridSize grid over the frame, preferring
// cells that no existing tracked point currently falls in and, within
// that, higher-response candidates. It returns indices into candidates,
// never exceeding the point budget implied by maxPoints - len(existing).
func SpatialReseed(existing []geometry.Point2D, candidates []Keypoint, width, height, gridSize, maxPoints int) []int {
	budget := maxPoints - len(existing)
	if budget <= 0 || len(candidates) == 0 {
		return nil
	}
	if gridSize < 1 {
		gridSize = 1
	}
	cellW := float64(width) / float64(gridSize)
	cellH := float64(height) / float64(gridSize)

	cellOf := func(x, y float32) [2]int {
		cx := int(float64(x) / cellW)
		cy := int(float64(y) / cellH)
		return [2]int{cx, cy}
	}

	occupied := make(map[[2]int]bool, len(existing))
	for _, p := range existing {
		occupied[cellOf(p.X, p.Y)] = true
	}

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return candidates[order[i]].Response > candidates[order[j]].Response
	})

	picked := make([]int, 0, budget)
	pickedSet := make(map[int]bool, budget)
	for _, idx := range order {
		if len(picked) >= budget {
			break
		}
		kp := candidates[idx]
		cell := cellOf(kp.X, kp.Y)
		if occupied[cell] {
			continue
		}
		occupied[cell] = true
		picked = append(picked, idx)
		pickedSet[idx] = true
	}

	if len(picked) < budget {
		for _, idx := range order {
			if len(picked) >= budget {
				break
			}
			if pickedSet[idx] {
				continue
			}
			picked = append(picked, idx)
			pickedSet[idx] = true
		}
	}

	return picked
}
