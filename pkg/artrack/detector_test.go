package artrack

import (
	"testing"

	"github.com/arplane/artrack/internal/config"
	"github.com/arplane/artrack/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDetectorConfig() config.DetectorConfig {
	cfg := config.Default().Detector
	return cfg
}

// checkerboard builds a synthetic high-texture grayscale frame so BRISK
// has corners to find, without depending on any external image asset.
func checkerboard(width, height, cell int) []byte {
	buf := make([]byte, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if ((x/cell)+(y/cell))%2 == 0 {
				buf[y*width+x] = 255
			}
		}
	}
	return buf
}

func TestFeatureDetector_ExtractFindsKeypointsOnTexturedFrame(t *testing.T) {
	d := NewFeatureDetector(testDetectorConfig())
	defer d.Close()

	frame := checkerboard(256, 256, 16)
	kps, descs, err := d.Extract(frame, 256, 256)
	require.NoError(t, err)
	assert.Equal(t, len(kps), len(descs))
	for _, desc := range descs {
		assert.Len(t, desc, DescriptorSize)
	}
}

func TestFeatureDetector_ExtractOnBlankFrameYieldsNoError(t *testing.T) {
	d := NewFeatureDetector(testDetectorConfig())
	defer d.Close()

	blank := make([]byte, 64*64)
	kps, descs, err := d.Extract(blank, 64, 64)
	require.NoError(t, err)
	assert.Empty(t, kps)
	assert.Empty(t, descs)
}

func TestFeatureDetector_ExtractRespectsMaxFeatures(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.MaxFeatures = 5
	d := NewFeatureDetector(cfg)
	defer d.Close()

	frame := checkerboard(256, 256, 8)
	kps, descs, err := d.Extract(frame, 256, 256)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(kps), 5)
	assert.LessOrEqual(t, len(descs), 5)
}

func TestFeatureDetector_MatchEmptyInputsReturnNil(t *testing.T) {
	d := NewFeatureDetector(testDetectorConfig())
	defer d.Close()

	corr, err := d.Match(nil, []Descriptor{make(Descriptor, DescriptorSize)})
	require.NoError(t, err)
	assert.Nil(t, corr)
}

func TestFeatureDetector_EstimateHomography_TooFewPoints(t *testing.T) {
	d := NewFeatureDetector(testDetectorConfig())
	defer d.Close()

	src := []geometry.Point2D{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}}
	dst := []geometry.Point2D{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}}
	h, err := d.EstimateHomography(src, dst)
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestFeatureDetector_EstimateHomography_IdentityMapping(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.MinMatchesForHomography = 4
	d := NewFeatureDetector(cfg)
	defer d.Close()

	pts := []geometry.Point2D{
		{X: 10, Y: 10}, {X: 200, Y: 15}, {X: 195, Y: 210}, {X: 12, Y: 205},
		{X: 100, Y: 20}, {X: 180, Y: 110}, {X: 90, Y: 190}, {X: 20, Y: 100},
	}
	result, err := d.EstimateHomography(pts, pts)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.GreaterOrEqual(t, result.InlierCount, cfg.MinMatchesForHomography)

	identityCorner := result.H.Apply(geometry.Point2D{X: 50, Y: 50})
	assert.InDelta(t, 50, identityCorner.X, 1.0)
	assert.InDelta(t, 50, identityCorner.Y, 1.0)
}

func TestConfidenceScore_WeightsAndClamps(t *testing.T) {
	cfg := testDetectorConfig()
	score := confidenceScore(cfg, 1, 1, 1)
	assert.InDelta(t, 1.0, score, 1e-6)

	score = confidenceScore(cfg, 0, 0, 0)
	assert.InDelta(t, 0.0, score, 1e-6)
}
