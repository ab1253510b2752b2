//go:build cgo
// +build cgo

package artrack

import (
	"sort"

	"github.com/arplane/artrack/internal/config"
	"github.com/arplane/artrack/internal/geometry"
	"gocv.io/x/gocv"
)

// Correspondence is a single accepted match between a query (frame)
// descriptor index and a train (reference target) descriptor index.
type Correspondence struct {
	QueryIdx int
	TrainIdx int
}

// HomographyResult is the outcome of a successful RANSAC homography fit.
type HomographyResult struct {
	H           geometry.Homography
	InlierMask  []bool
	InlierCount int
}

// FeatureDetector wraps the BRISK detector/descriptor extractor and the
// brute-force Hamming matcher used for full-frame detection. A single
// FeatureDetector is safe to reuse across frames but is not safe for
// concurrent use by multiple goroutines, mirroring the non-reentrant
// OpenCV algorithm objects it wraps.
type FeatureDetector struct {
	cfg     config.DetectorConfig
	brisk   gocv.BRISK
	matcher gocv.BFMatcher

	homographyAttempts int64 // debug counter; Engine.DebugCounters keeps its own count and does not read it
}

// NewFeatureDetector constructs a detector bound to cfg. Close must be
// called when the detector is no longer needed to release the
// underlying OpenCV algorithm objects.
func NewFeatureDetector(cfg config.DetectorConfig) *FeatureDetector {
	return &FeatureDetector{
		cfg:     cfg,
		brisk:   gocv.NewBRISK(),
		matcher: gocv.NewBFMatcherWithParams(gocv.NormHamming, false),
	}
}

// Close releases the BRISK and matcher native handles.
func (d *FeatureDetector) Close() error {
	d.brisk.Close()
	d.matcher.Close()
	return nil
}

// Extract detects BRISK keypoints and computes their descriptors over a
// tightly packed grayscale buffer, keeping at most cfg.MaxFeatures by
// response (ties broken by upper-left-first position for determinism).
// A frame that yields zero keypoints is not an error.
func (d *FeatureDetector) Extract(gray []byte, width, height int) ([]Keypoint, []Descriptor, error) {
	mat, err := newGrayMat(gray, width, height)
	if err != nil {
		return nil, nil, err
	}
	defer mat.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	kps, descMat := d.brisk.DetectAndCompute(mat, mask)
	defer descMat.Close()

	if len(kps) == 0 {
		return nil, nil, nil
	}

	keypoints := make([]Keypoint, len(kps))
	for i, kp := range kps {
		keypoints[i] = Keypoint{
			X:           float32(kp.X),
			Y:           float32(kp.Y),
			Scale:       float32(kp.Size),
			Orientation: float32(kp.Angle) * (3.14159265 / 180.0),
			Response:    float32(kp.Response),
		}
	}
	descriptors := matToDescriptors(descMat)

	order := make([]int, len(keypoints))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := keypoints[order[i]], keypoints[order[j]]
		if a.Response != b.Response {
			return a.Response > b.Response
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})

	limit := len(order)
	if d.cfg.MaxFeatures > 0 && limit > d.cfg.MaxFeatures {
		limit = d.cfg.MaxFeatures
	}

	outKP := make([]Keypoint, limit)
	outDesc := make([]Descriptor, limit)
	for i := 0; i < limit; i++ {
		outKP[i] = keypoints[order[i]]
		outDesc[i] = descriptors[order[i]]
	}
	return outKP, outDesc, nil
}

// Match runs 2-NN matching of query against train descriptors and keeps
// pairs passing Lowe's ratio test at cfg.MatchRatioThreshold.
func (d *FeatureDetector) Match(query, train []Descriptor) ([]Correspondence, error) {
	if len(query) == 0 || len(train) == 0 {
		return nil, nil
	}

	queryMat, err := descriptorsToMat(query)
	if err != nil {
		return nil, err
	}
	defer queryMat.Close()

	trainMat, err := descriptorsToMat(train)
	if err != nil {
		return nil, err
	}
	defer trainMat.Close()

	knn := d.matcher.KnnMatch(queryMat, trainMat, 2)

	out := make([]Correspondence, 0, len(knn))
	for _, pair := range knn {
		if len(pair) < 2 {
			continue
		}
		d1, d2 := pair[0].Distance, pair[1].Distance
		if d2 <= 0 {
			continue
		}
		if d1/d2 < d.cfg.MatchRatioThreshold {
			out = append(out, Correspondence{QueryIdx: pair[0].QueryIdx, TrainIdx: pair[0].TrainIdx})
		}
	}
	return out, nil
}

// EstimateHomography fits a homography mapping src points to dst points
// via RANSAC. It returns (nil, nil) — not an error — whenever there are
// too few correspondences, RANSAC fails to converge, or the resulting
// inlier count falls below cfg.MinMatchesForHomography: all three are
// "no detection this frame", not faults.
func (d *FeatureDetector) EstimateHomography(src, dst []geometry.Point2D) (*HomographyResult, error) {
	if len(src) < 4 || len(dst) < 4 || len(src) != len(dst) {
		return nil, nil
	}
	d.homographyAttempts++

	srcMat, err := pointsToMat(src)
	if err != nil {
		return nil, err
	}
	defer srcMat.Close()
	dstMat, err := pointsToMat(dst)
	if err != nil {
		return nil, err
	}
	defer dstMat.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	hMat := gocv.FindHomography(srcMat, dstMat, gocv.HomographyMethodRANSAC, d.cfg.RansacReprojThreshold, &mask, d.cfg.RansacMaxIterations, d.cfg.RansacConfidence)
	defer hMat.Close()

	if hMat.Empty() {
		return nil, nil
	}

	var h geometry.Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r*3+c] = hMat.GetDoubleAt(r, c)
		}
	}

	inlierMask := make([]bool, mask.Rows())
	inlierCount := 0
	for i := 0; i < mask.Rows(); i++ {
		if mask.GetUCharAt(i, 0) != 0 {
			inlierMask[i] = true
			inlierCount++
		}
	}

	if inlierCount < d.cfg.MinMatchesForHomography {
		return nil, nil
	}

	return &HomographyResult{H: h, InlierMask: inlierMask, InlierCount: inlierCount}, nil
}

// confidenceScore blends the inlier ratio, forward-backward agreement,
// and geometric-validity terms per cfg's configured weights. Each term
// must already be normalized to [0,1].
func confidenceScore(cfg config.DetectorConfig, ratioTerm, fbTerm, geomTerm float64) float32 {
	score := cfg.ConfidenceWeightRatio*ratioTerm +
		cfg.ConfidenceWeightFB*fbTerm +
		cfg.ConfidenceWeightGeom*geomTerm
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return float32(score)
}
