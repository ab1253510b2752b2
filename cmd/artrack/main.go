//go:build cgo
// +build cgo

// Command artrack is a thin CLI harness exercising the tracking engine
// against a live webcam: it loads reference targets from a directory of
// images, runs detection/tracking on each captured frame, and optionally
// shows a debug preview window with the tracked quadrilaterals overlaid.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/arplane/artrack/internal/config"
	"github.com/arplane/artrack/pkg/artrack"
	"gocv.io/x/gocv"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to TOML configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	cameraID := flag.Int("camera", 0, "Camera device ID")
	width := flag.Int("width", 640, "Requested camera frame width")
	height := flag.Int("height", 480, "Requested camera frame height")
	fps := flag.Int("fps", 30, "Requested camera frame rate")
	targetsDir := flag.String("targets", "", "Directory of reference target images to load")
	detectionInterval := flag.Int("detection-interval", 0, "Override coordinator.detection_interval (0 = use config)")
	preview := flag.Bool("preview", false, "Show a debug preview window with tracked quadrilaterals")
	verbose := flag.Bool("verbose", false, "Enable verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "artrack - marker-based AR image tracking demo\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s -targets <dir> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -targets ./posters                 # Track every image in ./posters\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -targets ./posters -preview        # With a debug overlay window\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -targets ./posters -config c.toml  # With a custom config file\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("artrack version %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *detectionInterval > 0 {
		cfg.Coordinator.DetectionInterval = *detectionInterval
	}

	if *targetsDir == "" {
		fmt.Fprintln(os.Stderr, "error: -targets is required")
		flag.Usage()
		os.Exit(2)
	}

	engine, err := artrack.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	detector := artrack.NewFeatureDetector(cfg.Detector)
	defer detector.Close()

	loaded, err := loadTargets(engine, detector, *targetsDir)
	if err != nil {
		log.Fatalf("Failed to load targets: %v", err)
	}
	if loaded == 0 {
		log.Fatalf("No target images found in %s", *targetsDir)
	}
	log.Printf("Loaded %d target(s) from %s", loaded, *targetsDir)

	if err := engine.BuildVocabulary(); err != nil {
		log.Fatalf("Failed to build vocabulary: %v", err)
	}

	camera := newOpenCVCamera()
	if err := camera.Open(*cameraID, *width, *height, *fps); err != nil {
		log.Fatalf("Failed to open camera: %v", err)
	}
	defer camera.Close()

	actualWidth, actualHeight := camera.ActualResolution()
	log.Printf("Camera opened: device=%d, resolution=%dx%d, fps=%d", *cameraID, actualWidth, actualHeight, camera.ActualFPS())

	var previewWin *previewWindow
	if *preview {
		previewWin = newPreviewWindow("artrack preview")
		defer previewWin.Close()
		log.Println("Preview window enabled")
	}

	if err := engine.Start(); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	defer engine.Stop()
	log.Println("Tracking started. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	frameCount := uint64(0)
	for {
		select {
		case sig := <-sigCh:
			log.Printf("Received signal %v, shutting down...", sig)
			return
		default:
		}

		gray, w, h, err := camera.Read()
		if err != nil {
			log.Printf("Frame read failed: %v", err)
			continue
		}

		results, err := engine.ProcessFrame(gray, w, h, 1)
		if err != nil {
			log.Printf("ProcessFrame failed: %v", err)
			continue
		}

		frameCount++
		if *verbose && frameCount%30 == 0 {
			stats := engine.Stats()
			log.Printf("frame %d: %d target(s) tracked, detection=%.2fms tracking=%.2fms total=%.2fms",
				frameCount, len(results), stats.DetectionMs, stats.TrackingMs, stats.TotalMs)
		}

		if previewWin != nil {
			bgr, err := camera.ReadBGR()
			if err == nil {
				previewWin.Show(bgr, results)
			}
		}
	}
}

// loadTargets loads every image file in dir as a reference target, named
// after its filename without extension. Each image is converted to
// grayscale and run through the detector to produce the keypoints and
// descriptors AddTarget requires.
func loadTargets(engine *artrack.Engine, detector *artrack.FeatureDetector, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading targets directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		id := fileStem(entry.Name())

		mat := gocv.IMRead(path, gocv.IMReadGrayScale)
		if mat.Empty() {
			continue
		}
		rows, cols := mat.Rows(), mat.Cols()
		gray := mat.ToBytes()
		mat.Close()

		keypoints, descriptors, err := detector.Extract(gray, cols, rows)
		if err != nil {
			return loaded, fmt.Errorf("extracting features from %s: %w", path, err)
		}
		if len(keypoints) == 0 {
			continue
		}

		raw := make([]byte, len(descriptors)*artrack.DescriptorSize)
		for i, d := range descriptors {
			copy(raw[i*artrack.DescriptorSize:], d)
		}

		corners := [8]float32{0, 0, float32(cols), 0, float32(cols), float32(rows), 0, float32(rows)}
		if err := engine.AddTarget(id, keypoints, raw, len(descriptors), artrack.DescriptorSize, corners, nil); err != nil {
			return loaded, fmt.Errorf("adding target %s: %w", id, err)
		}
		loaded++
	}
	return loaded, nil
}

func fileStem(name string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}
