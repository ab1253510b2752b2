// Package artrack implements a marker-based augmented-reality image
// tracking engine: binary-feature detection and matching, vocabulary-
// tree candidate pre-filtering, RANSAC homography estimation and
// validation, pyramidal optical-flow tracking with Kalman-smoothed
// corners, and the per-target lifecycle coordinator that ties them
// together into a single synchronous ProcessFrame call.
//
// # Quick Start
//
//	engine, err := artrack.New(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := engine.AddTarget("poster", keypoints, descriptors, rows, cols, corners, nil); err != nil {
//	    log.Fatal(err)
//	}
//	if err := engine.BuildVocabulary(); err != nil {
//	    log.Fatal(err)
//	}
//	if err := engine.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	results, err := engine.ProcessFrame(pixels, width, height, channels)
//
// # Architecture
//
//   - Engine: per-frame coordinator, owns per-target lifecycle state
//   - TargetDatabase: reference targets and the vocabulary tree
//   - FeatureDetector: BRISK extraction, matching, homography estimation
//   - OpticalFlowTracker: pyramidal LK tracking between detections
//   - MemoryPool: reusable frame/descriptor/point buffers
//
// ProcessFrame is synchronous and CPU-bound: callers must not assume any
// concurrency internal to the engine, and must not call a TargetDatabase
// mutator (AddTarget, RemoveTarget, ClearTargets, BuildVocabulary)
// concurrently with ProcessFrame.
package artrack

import (
	"fmt"
	"sync"
	"time"

	"github.com/arplane/artrack/internal/config"
	"github.com/arplane/artrack/internal/geometry"
	"github.com/google/uuid"
)

// engineState is the run/stop bookkeeping state of the Engine itself, as
// distinct from per-target lifecycle state (TargetState).
type engineState int

const (
	engineIdle engineState = iota
	engineRunning
	engineStopped
)

// Options holds the subset of configuration recognised by Configure. A
// nil field leaves the corresponding setting unchanged.
type Options struct {
	UseOpticalFlow       *bool
	DetectionInterval    *int
	MaxFeatures          *int
	MaxTrackingPoints    *int
	MatchRatioThreshold  *float64
	RansacThreshold      *float64
	RansacIterations     *int
	CandidateCount       *int
}

// targetRecord is the coordinator's per-target lifecycle state: current
// state machine position, tracking points, Kalman filters, and
// degradation bookkeeping. It is not safe for concurrent use; it is only
// ever touched from within ProcessFrame, which is itself required to run
// to completion before the next call begins.
type targetRecord struct {
	state  TargetState
	kalman *QuadKalman

	trackingPoints  []trackedPoint
	lastCorners     Corners
	lastHomography  geometry.Homography
	lastConfidence  float32

	degradationCount   int
	framesSinceRefresh int
}

// Engine is the synchronous, per-frame AR tracking coordinator.
type Engine struct {
	id string // debug correlation id

	mu    sync.RWMutex
	cfg   *config.Config
	state engineState

	db       *TargetDatabase
	pool     *MemoryPool
	detector *FeatureDetector
	flow     *OpticalFlowTracker

	frameIndex uint64
	prevGray   []byte
	prevWidth  int
	prevHeight int

	targets map[string]*targetRecord

	stats rollingStats
	debug DebugCounters
}

// New constructs an Engine. If cfg is nil, config.Default() is used.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	return &Engine{
		id:       uuid.NewString(),
		cfg:      cfg,
		db:       NewTargetDatabase(cfg.Vocabulary),
		pool:     NewMemoryPool(0),
		detector: NewFeatureDetector(cfg.Detector),
		flow:     NewOpticalFlowTracker(cfg.Tracker),
		targets:  make(map[string]*targetRecord),
		state:    engineIdle,
	}, nil
}

// Configure applies recognised options, validating the resulting
// configuration before committing it. On validation failure, the
// engine's configuration is left unchanged.
func (e *Engine) Configure(opts Options) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := *e.cfg
	if opts.UseOpticalFlow != nil {
		next.Coordinator.UseOpticalFlow = *opts.UseOpticalFlow
	}
	if opts.DetectionInterval != nil {
		next.Coordinator.DetectionInterval = *opts.DetectionInterval
	}
	if opts.MaxFeatures != nil {
		next.Detector.MaxFeatures = *opts.MaxFeatures
	}
	if opts.MaxTrackingPoints != nil {
		next.Tracker.MaxTrackingPoints = *opts.MaxTrackingPoints
	}
	if opts.MatchRatioThreshold != nil {
		next.Detector.MatchRatioThreshold = *opts.MatchRatioThreshold
	}
	if opts.RansacThreshold != nil {
		next.Detector.RansacReprojThreshold = *opts.RansacThreshold
	}
	if opts.RansacIterations != nil {
		next.Detector.RansacMaxIterations = *opts.RansacIterations
	}
	if opts.CandidateCount != nil {
		next.Coordinator.CandidateCount = *opts.CandidateCount
	}

	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	e.cfg = &next
	e.detector.cfg = next.Detector
	e.flow.cfg = next.Tracker
	return nil
}

// inferRefDimensions returns the integer width/height of the bounding
// box of a target's reference corners.
func inferRefDimensions(c Corners) (int, int) {
	minX, minY := c[0].X, c[0].Y
	maxX, maxY := minX, minY
	for _, p := range c[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return int(maxX - minX), int(maxY - minY)
}

// AddTarget loads a reference target. The descriptor payload alone
// carries no per-descriptor reference-image location, which homography
// estimation requires, so keypoints is carried alongside descriptors.
func (e *Engine) AddTarget(id string, keypoints []Keypoint, descriptors []byte, rows, cols int, corners [8]float32, metadata []byte) error {
	var c Corners
	for i := 0; i < 4; i++ {
		c[i] = geometry.Point2D{X: corners[i*2], Y: corners[i*2+1]}
	}
	refW, refH := inferRefDimensions(c)
	return e.db.Add(id, keypoints, descriptors, rows, cols, c, refW, refH, metadata)
}

// RemoveTarget removes a loaded target and discards any lifecycle state
// for it. Returns ErrUnknownID if id is not loaded.
func (e *Engine) RemoveTarget(id string) error {
	if e.db.Get(id) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	e.db.Remove(id)

	e.mu.Lock()
	if rec, ok := e.targets[id]; ok {
		rec.kalman.Close()
		delete(e.targets, id)
	}
	e.mu.Unlock()
	return nil
}

// ClearTargets removes all loaded targets and their lifecycle state.
func (e *Engine) ClearTargets() {
	e.db.Clear()

	e.mu.Lock()
	for _, rec := range e.targets {
		rec.kalman.Close()
	}
	e.targets = make(map[string]*targetRecord)
	e.mu.Unlock()
}

// BuildVocabulary (re)builds the vocabulary tree over all loaded targets.
func (e *Engine) BuildVocabulary() error {
	return e.db.BuildVocabulary()
}

// Start marks the engine as running. ProcessFrame returns
// ErrEngineNotRunning while the engine is idle or stopped.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = engineRunning
	return nil
}

// Stop marks the engine as stopped. Per-target state is retained; call
// Reset to discard it.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = engineStopped
	return nil
}

// Reset clears all per-target lifecycle state and frame bookkeeping,
// retaining configuration and the target database.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range e.targets {
		rec.kalman.Close()
	}
	e.targets = make(map[string]*targetRecord)
	e.frameIndex = 0
	e.prevGray = nil
	e.stats.reset()
}

// Stats returns the engine's rolling per-call timing means.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

// MemoryInfo reports the memory pool's current footprint.
func (e *Engine) MemoryInfo() MemoryInfo {
	return e.pool.Info()
}

// DebugCounters reports internal invocation counts, for tests verifying
// the bounded-work properties of the per-frame pipeline.
func (e *Engine) DebugCounters() DebugCounters {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.debug
}

// ProcessFrame runs one synchronous detect-or-track cycle. It always
// returns (possibly empty) results for the current frame rather than
// propagating per-target numeric failures. The only call errors it
// returns are ErrEngineNotRunning and ErrInvalidFrame (a pixel buffer
// inconsistent with width, height and channels). A failed candidate
// query (for example ErrVocabularyNotBuilt) is not returned: that frame
// runs no detection.
func (e *Engine) ProcessFrame(pixels []byte, width, height, channels int) ([]TrackingResult, error) {
	e.mu.Lock()
	if e.state != engineRunning {
		e.mu.Unlock()
		return nil, ErrEngineNotRunning
	}
	cfg := *e.cfg
	frameIndex := e.frameIndex
	e.frameIndex++
	e.mu.Unlock()

	totalStart := time.Now()

	gray, err := toGrayscale(pixels, width, height, channels)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	prevGray, prevW, prevH := e.prevGray, e.prevWidth, e.prevHeight
	ids := make([]string, 0, len(e.targets))
	anyTracking := false
	for id, rec := range e.targets {
		ids = append(ids, id)
		if rec.state == StateTracking {
			anyTracking = true
		}
	}
	e.mu.Unlock()

	runDetection := !anyTracking || (cfg.Coordinator.DetectionInterval >= 1 && frameIndex%uint64(cfg.Coordinator.DetectionInterval) == 0)

	var detectionDur, trackingDur time.Duration
	results := make(map[string]*TrackingResult)

	if runDetection {
		start := time.Now()
		e.runDetection(gray, width, height, cfg, results)
		detectionDur = time.Since(start)
	}

	if cfg.Coordinator.UseOpticalFlow && prevGray != nil && prevW == width && prevH == height {
		start := time.Now()
		for _, id := range ids {
			e.mu.Lock()
			rec, ok := e.targets[id]
			e.mu.Unlock()
			if !ok || rec.state != StateTracking {
				continue
			}
			// A target confirmed by detection this frame already has
			// fresh corners and seeded tracking points; running a track
			// step on the same frame would double-update it.
			if _, justDetected := results[id]; justDetected && runDetection {
				continue
			}
			e.runTrackStep(id, prevGray, gray, width, height, cfg, results)
		}
		trackingDur = time.Since(start)
	}

	e.mu.Lock()
	e.prevGray = gray
	e.prevWidth = width
	e.prevHeight = height
	e.mu.Unlock()

	out := make([]TrackingResult, 0, len(results))
	for _, r := range results {
		out = append(out, *r)
	}

	e.stats.record(detectionDur, trackingDur, time.Since(totalStart))
	return out, nil
}

// runDetection extracts features once, queries the top candidate ids,
// and attempts matching + homography on each in ranked order up to
// maxCandidates.
func (e *Engine) runDetection(gray []byte, width, height int, cfg config.Config, results map[string]*TrackingResult) {
	keypoints, descriptors, err := e.detector.Extract(gray, width, height)
	if err != nil || len(keypoints) == 0 {
		return
	}

	candidates, err := e.db.QueryCandidates(descriptors, cfg.Coordinator.CandidateCount)
	if err != nil {
		return
	}

	e.mu.Lock()
	e.debug.CandidatesConsidered += int64(len(candidates))
	e.mu.Unlock()

	considered := 0
	for _, id := range candidates {
		if considered >= cfg.Coordinator.MaxCandidates {
			break
		}
		considered++

		target := e.db.Get(id)
		if target == nil {
			continue
		}

		corr, err := e.detector.Match(descriptors, target.Descriptors)
		if err != nil || len(corr) < cfg.Detector.MinMatchesForHomography {
			continue
		}

		src := make([]geometry.Point2D, len(corr))
		dst := make([]geometry.Point2D, len(corr))
		for i, c := range corr {
			kp := target.Keypoints[c.TrainIdx]
			src[i] = geometry.Point2D{X: kp.X, Y: kp.Y}
			dst[i] = geometry.Point2D{X: keypoints[c.QueryIdx].X, Y: keypoints[c.QueryIdx].Y}
		}

		e.mu.Lock()
		e.debug.HomographyInvocations++
		e.mu.Unlock()

		homog, err := e.detector.EstimateHomography(src, dst)
		if err != nil || homog == nil {
			continue
		}

		ok, geomScore := geometry.Validate(homog.H, [4]geometry.Point2D(target.RefCorners), target.refAspectRatio(), geometry.ValidityParams{
			MinCornerAngleDeg:    cfg.Detector.MinCornerAngleDeg,
			MaxCornerAngleDeg:    cfg.Detector.MaxCornerAngleDeg,
			MaxScaleChange:       cfg.Detector.MaxScaleChange,
			MaxAspectRatioChange: cfg.Detector.MaxAspectRatioChange,
			MinAreaThreshold:     cfg.Detector.MinAreaThreshold,
		})
		if !ok {
			continue
		}

		projected := homog.H.ApplyAll(target.RefCorners[:])
		var corners Corners
		copy(corners[:], projected)

		ratioTerm := float64(homog.InlierCount) / float64(len(corr))
		confidence := confidenceScore(cfg.Detector, ratioTerm, 1.0, geomScore)

		e.mu.Lock()
		rec, ok := e.targets[id]
		if !ok {
			rec = &targetRecord{kalman: NewQuadKalman(1e-2, 1.0)}
			e.targets[id] = rec
		}
		rec.state = StateDetected
		rec.kalman.Reset(corners)
		smoothed := rec.kalman.Update(corners)
		rec.lastCorners = smoothed
		rec.lastHomography = homog.H
		rec.lastConfidence = confidence
		rec.degradationCount = 0
		rec.framesSinceRefresh = 0
		rec.trackingPoints = seedTrackingPoints(corr, keypoints, target.Keypoints, cfg.Tracker.MaxTrackingPoints)
		rec.state = StateTracking
		e.mu.Unlock()

		results[id] = &TrackingResult{
			TargetID:   id,
			Detected:   true,
			Corners:    smoothed,
			Confidence: confidence,
			Mode:       ModeDetection,
		}
	}
}

// seedTrackingPoints converts accepted correspondences into tracking
// points, capped at maxPoints (the order Match returns them in is
// query-index order, which is stable but not ranked; capping simply
// bounds the tracked set).
func seedTrackingPoints(corr []Correspondence, frameKeypoints, targetKeypoints []Keypoint, maxPoints int) []trackedPoint {
	n := len(corr)
	if maxPoints > 0 && n > maxPoints {
		n = maxPoints
	}
	out := make([]trackedPoint, n)
	for i := 0; i < n; i++ {
		live := frameKeypoints[corr[i].QueryIdx]
		ref := targetKeypoints[corr[i].TrainIdx]
		out[i] = trackedPoint{
			refPt: geometry.Point2D{X: ref.X, Y: ref.Y},
			pt:    geometry.Point2D{X: live.X, Y: live.Y},
		}
	}
	return out
}

// runTrackStep runs one optical-flow tracking cycle for a single
// already-TRACKING target.
func (e *Engine) runTrackStep(id string, prevGray, gray []byte, width, height int, cfg config.Config, results map[string]*TrackingResult) {
	e.mu.Lock()
	rec, ok := e.targets[id]
	e.mu.Unlock()
	if !ok {
		return
	}

	target := e.db.Get(id)
	if target == nil {
		return
	}

	points := make([]geometry.Point2D, len(rec.trackingPoints))
	for i, tp := range rec.trackingPoints {
		points[i] = tp.pt
	}

	flow, err := e.flow.Track(prevGray, gray, width, height, points)
	degrade := func() {
		rec.degradationCount++
		if rec.degradationCount >= cfg.Tracker.QualityDegradationFrames {
			e.mu.Lock()
			rec.state = StateLost
			delete(e.targets, id)
			rec.kalman.Close()
			e.mu.Unlock()
			return
		}
		results[id] = &TrackingResult{
			TargetID:   id,
			Detected:   true,
			Corners:    rec.lastCorners,
			Confidence: rec.lastConfidence,
			Mode:       ModeOpticalFlow,
		}
	}

	if err != nil || flow == nil || flow.SurvivingCount < cfg.Tracker.MinTrackingPoints {
		degrade()
		return
	}

	survivingRef := make([]geometry.Point2D, 0, flow.SurvivingCount)
	survivingPt := make([]geometry.Point2D, 0, flow.SurvivingCount)
	survivingTracked := make([]trackedPoint, 0, flow.SurvivingCount)
	for i, valid := range flow.Valid {
		if !valid {
			continue
		}
		refPt := rec.trackingPoints[i].refPt
		survivingRef = append(survivingRef, refPt)
		survivingPt = append(survivingPt, flow.Points[i])
		survivingTracked = append(survivingTracked, trackedPoint{refPt: refPt, pt: flow.Points[i]})
	}

	homog, err := e.detector.EstimateHomography(survivingRef, survivingPt)
	if err != nil || homog == nil {
		degrade()
		return
	}

	ok2, geomScore := geometry.Validate(homog.H, [4]geometry.Point2D(target.RefCorners), target.refAspectRatio(), geometry.ValidityParams{
		MinCornerAngleDeg:    cfg.Detector.MinCornerAngleDeg,
		MaxCornerAngleDeg:    cfg.Detector.MaxCornerAngleDeg,
		MaxScaleChange:       cfg.Detector.MaxScaleChange,
		MaxAspectRatioChange: cfg.Detector.MaxAspectRatioChange,
		MinAreaThreshold:     cfg.Detector.MinAreaThreshold,
	})
	if !ok2 {
		degrade()
		return
	}

	projected := homog.H.ApplyAll(target.RefCorners[:])
	var corners Corners
	copy(corners[:], projected)

	ratioTerm := float64(flow.SurvivingCount) / float64(len(rec.trackingPoints))
	confidence := confidenceScore(cfg.Detector, ratioTerm, flow.FBTerm, geomScore)

	e.mu.Lock()
	smoothed := rec.kalman.Update(corners)
	rec.lastCorners = smoothed
	rec.lastHomography = homog.H
	rec.lastConfidence = confidence
	rec.degradationCount = 0
	rec.trackingPoints = survivingTracked
	rec.framesSinceRefresh++
	e.mu.Unlock()

	if rec.framesSinceRefresh >= cfg.Tracker.FeatureRefreshInterval {
		e.reseed(rec, smoothed, gray, width, height, cfg)
	}

	results[id] = &TrackingResult{
		TargetID:   id,
		Detected:   true,
		Corners:    smoothed,
		Confidence: confidence,
		Mode:       ModeOpticalFlow,
	}
}

// reseed re-extracts features inside the current quad and fills in
// additional tracking points to restore spatial coverage, up to
// maxTrackingPoints. New points have no original descriptor match, so
// their reference-frame location is synthesized by projecting the live
// point through the inverse of the most recently accepted homography.
func (e *Engine) reseed(rec *targetRecord, quad Corners, gray []byte, width, height int, cfg config.Config) {
	invH, ok := rec.lastHomography.Invert()
	if !ok {
		rec.framesSinceRefresh = 0
		return
	}

	keypoints, _, err := e.detector.Extract(gray, width, height)
	if err != nil || len(keypoints) == 0 {
		rec.framesSinceRefresh = 0
		return
	}

	inside := make([]Keypoint, 0, len(keypoints))
	for _, kp := range keypoints {
		if geometry.Contains([4]geometry.Point2D(quad), geometry.Point2D{X: kp.X, Y: kp.Y}) {
			inside = append(inside, kp)
		}
	}

	existing := make([]geometry.Point2D, len(rec.trackingPoints))
	for i, tp := range rec.trackingPoints {
		existing[i] = tp.pt
	}

	picks := SpatialReseed(existing, inside, width, height, cfg.Tracker.SpatialGridSize, cfg.Tracker.MaxTrackingPoints)
	for _, idx := range picks {
		kp := inside[idx]
		livePt := geometry.Point2D{X: kp.X, Y: kp.Y}
		rec.trackingPoints = append(rec.trackingPoints, trackedPoint{refPt: invH.Apply(livePt), pt: livePt})
	}
	rec.framesSinceRefresh = 0
}
