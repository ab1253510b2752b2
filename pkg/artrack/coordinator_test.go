package artrack

import (
	"errors"
	"sort"
	"testing"

	"github.com/arplane/artrack/internal/config"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngineConfig() *config.Config {
	cfg := config.Default()
	cfg.Vocabulary = config.VocabularyConfig{BranchingFactor: 4, Depth: 1, Seed: 1, KMeansMaxIterations: 10}
	return cfg
}

// referenceFrameAndCorners builds a checkerboard reference image of the
// given size and its own four corners, in winding order, as the corners
// an AddTarget caller would supply for that image.
func referenceFrameAndCorners(w, h, cell int) ([]byte, [8]float32) {
	frame := checkerboard(w, h, cell)
	corners := [8]float32{0, 0, float32(w), 0, float32(w), float32(h), 0, float32(h)}
	return frame, corners
}

// centeredOnCanvas places src (refW x refH grayscale) centered inside a
// canvasW x canvasH black canvas, returning the composited buffer and the
// top-left offset it was placed at.
func centeredOnCanvas(src []byte, refW, refH, canvasW, canvasH int) ([]byte, int, int) {
	out := make([]byte, canvasW*canvasH)
	offX := (canvasW - refW) / 2
	offY := (canvasH - refH) / 2
	for y := 0; y < refH; y++ {
		copy(out[(y+offY)*canvasW+offX:(y+offY)*canvasW+offX+refW], src[y*refW:(y+1)*refW])
	}
	return out, offX, offY
}

func TestEngine_NewAppliesDefaultsAndValidates(t *testing.T) {
	e, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, engineIdle, e.state)
	assert.NotEmpty(t, e.id)
}

func TestEngine_ConfigureRejectsInvalidOption(t *testing.T) {
	e, err := New(testEngineConfig())
	require.NoError(t, err)

	bad := -1
	err = e.Configure(Options{DetectionInterval: &bad})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	// Rejected option must not have been partially applied.
	assert.Equal(t, 15, e.cfg.Coordinator.DetectionInterval)
}

func TestEngine_ConfigureAppliesValidOption(t *testing.T) {
	e, err := New(testEngineConfig())
	require.NoError(t, err)

	interval := 5
	require.NoError(t, e.Configure(Options{DetectionInterval: &interval}))
	assert.Equal(t, 5, e.cfg.Coordinator.DetectionInterval)
	// Configure must push the change through to the detector/flow
	// trackers as well, not just the engine's own cfg copy.
	assert.Equal(t, e.cfg.Detector, e.detector.cfg)
}

func TestEngine_AddRemoveClearTargets(t *testing.T) {
	e, err := New(testEngineConfig())
	require.NoError(t, err)

	kps, raw := makeDescriptors(20, 1)
	corners := [8]float32{0, 0, 100, 0, 100, 100, 0, 100}
	require.NoError(t, e.AddTarget("poster", kps, raw, 20, DescriptorSize, corners, nil))
	assert.Equal(t, 1, e.db.Len())

	require.NoError(t, e.RemoveTarget("poster"))
	assert.Equal(t, 0, e.db.Len())

	err = e.RemoveTarget("poster")
	assert.ErrorIs(t, err, ErrUnknownID)

	require.NoError(t, e.AddTarget("poster", kps, raw, 20, DescriptorSize, corners, nil))
	e.ClearTargets()
	assert.Equal(t, 0, e.db.Len())
	assert.Empty(t, e.targets)
}

func TestEngine_ProcessFrameWhileNotRunning(t *testing.T) {
	e, err := New(testEngineConfig())
	require.NoError(t, err)

	_, err = e.ProcessFrame(make([]byte, 640*480), 640, 480, 1)
	assert.True(t, errors.Is(err, ErrEngineNotRunning))
}

func TestEngine_ProcessFrameDetectsSingleTarget(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Detector.MinMatchesForHomography = 4
	cfg.Coordinator.CandidateCount = 1
	cfg.Coordinator.MaxCandidates = 1

	e, err := New(cfg)
	require.NoError(t, err)

	refW, refH := 200, 200
	refFrame, corners := referenceFrameAndCorners(refW, refH, 16)

	d := NewFeatureDetector(cfg.Detector)
	defer d.Close()
	kps, descs, err := d.Extract(refFrame, refW, refH)
	require.NoError(t, err)
	require.NotEmpty(t, kps)

	raw := make([]byte, len(descs)*DescriptorSize)
	for i, desc := range descs {
		copy(raw[i*DescriptorSize:], desc)
	}

	require.NoError(t, e.AddTarget("poster", kps, raw, len(descs), DescriptorSize, corners, nil))
	require.NoError(t, e.BuildVocabulary())
	require.NoError(t, e.Start())

	canvasW, canvasH := 640, 480
	frame, offX, offY := centeredOnCanvas(refFrame, refW, refH, canvasW, canvasH)

	results, err := e.ProcessFrame(frame, canvasW, canvasH, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "poster", r.TargetID)
	assert.True(t, r.Detected)
	assert.Equal(t, ModeDetection, r.Mode)

	wantCorners := Corners{
		{X: float32(offX), Y: float32(offY)},
		{X: float32(offX + refW), Y: float32(offY)},
		{X: float32(offX + refW), Y: float32(offY + refH)},
		{X: float32(offX), Y: float32(offY + refH)},
	}
	for i, want := range wantCorners {
		got := r.Corners[i]
		assert.InDelta(t, want.X, got.X, 5, "corner %d X", i)
		assert.InDelta(t, want.Y, got.Y, 5, "corner %d Y", i)
	}
}

func TestEngine_ResetClearsLifecycleStateButKeepsTargets(t *testing.T) {
	e, err := New(testEngineConfig())
	require.NoError(t, err)

	kps, raw := makeDescriptors(20, 1)
	corners := [8]float32{0, 0, 100, 0, 100, 100, 0, 100}
	require.NoError(t, e.AddTarget("poster", kps, raw, 20, DescriptorSize, corners, nil))
	require.NoError(t, e.Start())

	e.targets["poster"] = &targetRecord{state: StateTracking, kalman: NewQuadKalman(1e-2, 1.0)}
	e.frameIndex = 42

	e.Reset()

	assert.Empty(t, e.targets)
	assert.Equal(t, uint64(0), e.frameIndex)
	assert.Equal(t, 1, e.db.Len())
}

func TestEngine_StatsAndDebugCountersStartAtZero(t *testing.T) {
	e, err := New(testEngineConfig())
	require.NoError(t, err)

	s := e.Stats()
	assert.Equal(t, uint64(0), s.FramesSeen)

	dc := e.DebugCounters()
	assert.Equal(t, int64(0), dc.HomographyInvocations)
}

// TestEngine_ProcessFrameDetectsDisjointTargets loads two targets placed
// at disjoint regions of the same frame and checks that both are
// reported, independent of the map-iteration order ProcessFrame builds
// its result slice in.
func TestEngine_ProcessFrameDetectsDisjointTargets(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Detector.MinMatchesForHomography = 4
	cfg.Coordinator.CandidateCount = 2
	cfg.Coordinator.MaxCandidates = 2

	e, err := New(cfg)
	require.NoError(t, err)
	d := NewFeatureDetector(cfg.Detector)
	defer d.Close()

	canvasW, canvasH := 640, 480
	frame := make([]byte, canvasW*canvasH)

	refW, refH := 120, 120
	placements := map[string][2]int{
		"left":  {40, 40},
		"right": {400, 300},
	}
	wantIDs := make([]string, 0, len(placements))
	for id, off := range placements {
		wantIDs = append(wantIDs, id)
		ref := checkerboard(refW, refH, 12)
		for y := 0; y < refH; y++ {
			copy(frame[(y+off[1])*canvasW+off[0]:(y+off[1])*canvasW+off[0]+refW], ref[y*refW:(y+1)*refW])
		}

		kps, descs, err := d.Extract(ref, refW, refH)
		require.NoError(t, err)
		require.NotEmpty(t, kps)
		raw := make([]byte, len(descs)*DescriptorSize)
		for i, desc := range descs {
			copy(raw[i*DescriptorSize:], desc)
		}
		corners := [8]float32{0, 0, float32(refW), 0, float32(refW), float32(refH), 0, float32(refH)}
		require.NoError(t, e.AddTarget(id, kps, raw, len(descs), DescriptorSize, corners, nil))
	}
	sort.Strings(wantIDs)

	require.NoError(t, e.BuildVocabulary())
	require.NoError(t, e.Start())

	results, err := e.ProcessFrame(frame, canvasW, canvasH, 1)
	require.NoError(t, err)

	gotIDs := make([]string, len(results))
	for i, r := range results {
		gotIDs[i] = r.TargetID
	}
	sort.Strings(gotIDs)

	if diff := cmp.Diff(wantIDs, gotIDs); diff != "" {
		t.Fatalf("detected target id set mismatch (-want +got):\n%s", diff)
	}
}
