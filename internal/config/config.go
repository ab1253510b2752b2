// Package config provides TOML configuration loading for artrack.
//
// The configuration file supports the following structure:
//
//	[detector]
//	max_features = 500
//	match_ratio_threshold = 0.7
//	ransac_reproj_threshold = 3.0
//	ransac_max_iterations = 2000
//	ransac_confidence = 0.995
//	min_matches_for_homography = 8
//
//	[tracker]
//	min_tracking_points = 8
//	max_tracking_points = 100
//	fb_error_threshold_base = 1.5
//	max_flow_magnitude = 150.0
//	quality_degradation_frames = 3
//	feature_refresh_interval = 10
//	spatial_grid_size = 4
//
//	[coordinator]
//	use_optical_flow = true
//	detection_interval = 15
//	candidate_count = 3
//	max_candidates = 5
//
//	[vocabulary]
//	branching_factor = 10
//	depth = 2
//	seed = 1
//
// Example usage:
//
//	cfg, err := config.Load("config.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Detector max features: %d\n", cfg.Detector.MaxFeatures)
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the complete configuration for artrack.
type Config struct {
	Detector    DetectorConfig    `toml:"detector"`
	Tracker     TrackerConfig     `toml:"tracker"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Vocabulary  VocabularyConfig  `toml:"vocabulary"`
}

// DetectorConfig holds feature-extraction and homography-estimation settings.
type DetectorConfig struct {
	// MaxFeatures caps the number of keypoints kept per frame, by response (default: 500).
	MaxFeatures int `toml:"max_features"`
	// MaxFeaturesPerTarget is the per-target reference keypoint limit (default: 500).
	// No component reads it: targets keep every keypoint they are added with.
	MaxFeaturesPerTarget int `toml:"max_features_per_target"`
	// BriskThreshold is the AGAST detection threshold for BRISK (default: 30).
	BriskThreshold int `toml:"brisk_threshold"`
	// BriskOctaves is the number of octaves for multi-scale extraction (default: 3).
	BriskOctaves int `toml:"brisk_octaves"`
	// BriskPatternScale scales the sampling pattern (default: 1.0).
	BriskPatternScale float64 `toml:"brisk_pattern_scale"`
	// MatchRatioThreshold is Lowe's ratio-test threshold (default: 0.7).
	MatchRatioThreshold float64 `toml:"match_ratio_threshold"`
	// RansacReprojThreshold is the RANSAC reprojection error in pixels (default: 3.0).
	RansacReprojThreshold float64 `toml:"ransac_reproj_threshold"`
	// RansacMaxIterations caps RANSAC iterations (default: 2000).
	RansacMaxIterations int `toml:"ransac_max_iterations"`
	// RansacConfidence is the desired RANSAC confidence (default: 0.995).
	RansacConfidence float64 `toml:"ransac_confidence"`
	// MinMatchesForHomography is the minimum inlier count to accept a homography (default: 8).
	MinMatchesForHomography int `toml:"min_matches_for_homography"`
	// MinCornerAngleDeg is the minimum allowed interior angle of a projected quad (default: 20).
	MinCornerAngleDeg float64 `toml:"min_corner_angle_deg"`
	// MaxCornerAngleDeg is the maximum allowed interior angle of a projected quad (default: 160).
	MaxCornerAngleDeg float64 `toml:"max_corner_angle_deg"`
	// MaxScaleChange bounds the allowed homography scale factor (default: 3.0).
	MaxScaleChange float64 `toml:"max_scale_change"`
	// MaxAspectRatioChange bounds the allowed aspect-ratio drift vs. the reference (default: 1.6).
	MaxAspectRatioChange float64 `toml:"max_aspect_ratio_change"`
	// MinAreaThreshold is the minimum projected-quad area in pixels^2 (default: 400).
	MinAreaThreshold float64 `toml:"min_area_threshold"`
	// ConfidenceWeightRatio weights the inlier-ratio term of the confidence score (default: 0.4).
	ConfidenceWeightRatio float64 `toml:"confidence_weight_ratio"`
	// ConfidenceWeightFB weights the forward-backward term of the confidence score (default: 0.3).
	ConfidenceWeightFB float64 `toml:"confidence_weight_fb"`
	// ConfidenceWeightGeom weights the geometry term of the confidence score (default: 0.3).
	ConfidenceWeightGeom float64 `toml:"confidence_weight_geom"`
}

// TrackerConfig holds optical-flow tracking settings.
type TrackerConfig struct {
	// MinTrackingPoints is the minimum surviving correspondence count to keep tracking (default: 8).
	MinTrackingPoints int `toml:"min_tracking_points"`
	// MaxTrackingPoints caps tracked points per target (default: 100).
	MaxTrackingPoints int `toml:"max_tracking_points"`
	// LKWindowSize is the Lucas-Kanade search window side length in pixels (default: 21).
	LKWindowSize int `toml:"lk_window_size"`
	// LKPyramidLevels is the number of pyramid levels for LK (default: 4).
	LKPyramidLevels int `toml:"lk_pyramid_levels"`
	// LKMaxIterations caps LK iterations per point (default: 30).
	LKMaxIterations int `toml:"lk_max_iterations"`
	// LKEpsilon is the LK termination epsilon (default: 0.01).
	LKEpsilon float64 `toml:"lk_epsilon"`
	// LKMinEigThreshold rejects points with too little texture (default: 1e-3).
	LKMinEigThreshold float64 `toml:"lk_min_eig_threshold"`
	// FBErrorThresholdBase is the baseline forward-backward error threshold in pixels (default: 1.5).
	FBErrorThresholdBase float64 `toml:"fb_error_threshold_base"`
	// FBErrorThresholdMax is the adaptive ceiling for the FB error threshold in pixels (default: 4.0).
	FBErrorThresholdMax float64 `toml:"fb_error_threshold_max"`
	// MaxFlowMagnitude rejects points moving farther than this per frame, in pixels (default: 150).
	MaxFlowMagnitude float64 `toml:"max_flow_magnitude"`
	// QualityDegradationFrames is the number of consecutive bad frames before declaring LOST (default: 3).
	QualityDegradationFrames int `toml:"quality_degradation_frames"`
	// FeatureRefreshInterval re-seeds tracked points every N tracked frames (default: 10).
	FeatureRefreshInterval int `toml:"feature_refresh_interval"`
	// SpatialGridSize is the side length of the re-seeding coverage grid (default: 4).
	SpatialGridSize int `toml:"spatial_grid_size"`
}

// CoordinatorConfig holds AR-engine (coordinator) settings.
type CoordinatorConfig struct {
	// UseOpticalFlow enables tracking between full-detection frames (default: true).
	UseOpticalFlow bool `toml:"use_optical_flow"`
	// DetectionInterval runs full detection every N frames (default: 15, must be >= 1).
	DetectionInterval int `toml:"detection_interval"`
	// CandidateCount is K in the top-K vocabulary-tree candidate query (default: 3).
	CandidateCount int `toml:"candidate_count"`
	// MaxCandidates caps how many ranked candidates get homography estimation per frame (default: 5).
	MaxCandidates int `toml:"max_candidates"`
}

// VocabularyConfig holds vocabulary-tree construction settings.
type VocabularyConfig struct {
	// BranchingFactor is B, the number of children per internal node (default: 10).
	BranchingFactor int `toml:"branching_factor"`
	// Depth is L, the number of levels below the root; leaves <= B^L (default: 2).
	Depth int `toml:"depth"`
	// Seed seeds the deterministic k-means centroid initialization (default: 1).
	Seed int64 `toml:"seed"`
	// KMeansMaxIterations caps Lloyd's-algorithm iterations per node (default: 25).
	KMeansMaxIterations int `toml:"kmeans_max_iterations"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Detector: DetectorConfig{
			MaxFeatures:             500,
			MaxFeaturesPerTarget:    500,
			BriskThreshold:          30,
			BriskOctaves:            3,
			BriskPatternScale:       1.0,
			MatchRatioThreshold:     0.7,
			RansacReprojThreshold:   3.0,
			RansacMaxIterations:     2000,
			RansacConfidence:        0.995,
			MinMatchesForHomography: 8,
			MinCornerAngleDeg:       20,
			MaxCornerAngleDeg:       160,
			MaxScaleChange:          3.0,
			MaxAspectRatioChange:    1.6,
			MinAreaThreshold:        400,
			ConfidenceWeightRatio:   0.4,
			ConfidenceWeightFB:      0.3,
			ConfidenceWeightGeom:    0.3,
		},
		Tracker: TrackerConfig{
			MinTrackingPoints:        8,
			MaxTrackingPoints:        100,
			LKWindowSize:             21,
			LKPyramidLevels:          4,
			LKMaxIterations:          30,
			LKEpsilon:                0.01,
			LKMinEigThreshold:        1e-3,
			FBErrorThresholdBase:     1.5,
			FBErrorThresholdMax:      4.0,
			MaxFlowMagnitude:         150,
			QualityDegradationFrames: 3,
			FeatureRefreshInterval:   10,
			SpatialGridSize:          4,
		},
		Coordinator: CoordinatorConfig{
			UseOpticalFlow:    true,
			DetectionInterval: 15,
			CandidateCount:    3,
			MaxCandidates:     5,
		},
		Vocabulary: VocabularyConfig{
			BranchingFactor:     10,
			Depth:               2,
			Seed:                1,
			KMeansMaxIterations: 25,
		},
	}
}

// Load reads and parses a TOML configuration file.
// If the file does not exist, it returns the default configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Detector.MaxFeatures <= 0 {
		return fmt.Errorf("detector max_features must be positive, got %d", c.Detector.MaxFeatures)
	}
	if c.Detector.MatchRatioThreshold <= 0 || c.Detector.MatchRatioThreshold >= 1 {
		return fmt.Errorf("detector match_ratio_threshold must be in (0,1), got %f", c.Detector.MatchRatioThreshold)
	}
	if c.Detector.RansacReprojThreshold <= 0 {
		return fmt.Errorf("detector ransac_reproj_threshold must be positive, got %f", c.Detector.RansacReprojThreshold)
	}
	if c.Detector.MinMatchesForHomography < 4 {
		return fmt.Errorf("detector min_matches_for_homography must be >= 4, got %d", c.Detector.MinMatchesForHomography)
	}
	if c.Detector.MinCornerAngleDeg <= 0 || c.Detector.MaxCornerAngleDeg >= 180 ||
		c.Detector.MinCornerAngleDeg >= c.Detector.MaxCornerAngleDeg {
		return fmt.Errorf("detector corner angle bounds invalid: [%f, %f]",
			c.Detector.MinCornerAngleDeg, c.Detector.MaxCornerAngleDeg)
	}
	sumW := c.Detector.ConfidenceWeightRatio + c.Detector.ConfidenceWeightFB + c.Detector.ConfidenceWeightGeom
	if sumW < 0.99 || sumW > 1.01 {
		return fmt.Errorf("detector confidence weights must sum to 1, got %f", sumW)
	}

	if c.Tracker.MinTrackingPoints < 4 {
		return fmt.Errorf("tracker min_tracking_points must be >= 4, got %d", c.Tracker.MinTrackingPoints)
	}
	if c.Tracker.MaxTrackingPoints < c.Tracker.MinTrackingPoints {
		return fmt.Errorf("tracker max_tracking_points must be >= min_tracking_points")
	}
	if c.Tracker.FBErrorThresholdMax < c.Tracker.FBErrorThresholdBase {
		return fmt.Errorf("tracker fb_error_threshold_max must be >= fb_error_threshold_base")
	}
	if c.Tracker.QualityDegradationFrames < 1 {
		return fmt.Errorf("tracker quality_degradation_frames must be >= 1, got %d", c.Tracker.QualityDegradationFrames)
	}
	if c.Tracker.FeatureRefreshInterval < 1 {
		return fmt.Errorf("tracker feature_refresh_interval must be >= 1, got %d", c.Tracker.FeatureRefreshInterval)
	}
	if c.Tracker.SpatialGridSize < 1 {
		return fmt.Errorf("tracker spatial_grid_size must be >= 1, got %d", c.Tracker.SpatialGridSize)
	}

	if c.Coordinator.DetectionInterval < 1 {
		return fmt.Errorf("coordinator detection_interval must be >= 1, got %d", c.Coordinator.DetectionInterval)
	}
	if c.Coordinator.CandidateCount < 1 {
		return fmt.Errorf("coordinator candidate_count must be >= 1, got %d", c.Coordinator.CandidateCount)
	}
	if c.Coordinator.MaxCandidates < 1 {
		return fmt.Errorf("coordinator max_candidates must be >= 1, got %d", c.Coordinator.MaxCandidates)
	}

	if c.Vocabulary.BranchingFactor < 2 {
		return fmt.Errorf("vocabulary branching_factor must be >= 2, got %d", c.Vocabulary.BranchingFactor)
	}
	if c.Vocabulary.Depth < 1 {
		return fmt.Errorf("vocabulary depth must be >= 1, got %d", c.Vocabulary.Depth)
	}

	return nil
}
