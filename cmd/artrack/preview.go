//go:build cgo
// +build cgo

package main

import (
	"image"
	"image/color"
	"runtime"
	"sync"

	"github.com/arplane/artrack/pkg/artrack"
	"gocv.io/x/gocv"
)

// previewWindow is a debug window that overlays each frame's tracked
// target quadrilaterals over the live camera feed. OpenCV UI functions
// must run on a single dedicated OS thread on Linux/X11, so all window
// calls happen inside previewLoop.
type previewWindow struct {
	window   *gocv.Window
	frameCh  chan frameUpdate
	closeCh  chan struct{}
	doneCh   chan struct{}
	once     sync.Once
	initDone chan struct{}
}

type frameUpdate struct {
	mat     gocv.Mat
	results []artrack.TrackingResult
}

func newPreviewWindow(title string) *previewWindow {
	p := &previewWindow{
		frameCh:  make(chan frameUpdate, 1),
		closeCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
		initDone: make(chan struct{}),
	}
	go p.previewLoop(title)
	<-p.initDone
	return p
}

func (p *previewWindow) previewLoop(title string) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p.window = gocv.NewWindow(title)
	close(p.initDone)

	for {
		select {
		case update := <-p.frameCh:
			drawResults(update.mat, update.results)
			p.window.IMShow(update.mat)
			p.window.WaitKey(1)
			update.mat.Close()

		case <-p.closeCh:
			if p.window != nil {
				p.window.Close()
			}
			close(p.doneCh)
			return
		}
	}
}

// drawResults overlays each detected/tracked target's quadrilateral and
// id on frame, colour-coded by mode: green for a fresh detection, yellow
// for optical-flow tracking.
func drawResults(frame gocv.Mat, results []artrack.TrackingResult) {
	for _, r := range results {
		c := color.RGBA{R: 255, G: 255, B: 0, A: 255} // yellow: optical-flow
		if r.Mode == artrack.ModeDetection {
			c = color.RGBA{R: 0, G: 255, B: 0, A: 255} // green: fresh detection
		}
		pts := make([][]image.Point, 1)
		for _, corner := range r.Corners {
			pts[0] = append(pts[0], image.Pt(int(corner.X), int(corner.Y)))
		}
		gocv.Polylines(&frame, gocv.NewPointsVectorFromPoints(pts), true, c, 2)
		gocv.PutText(&frame, r.TargetID, pts[0][0], gocv.FontHersheyPlain, 1.2, c, 2)
	}
}

// Show displays a frame with its tracking results overlaid. The frame is
// consumed by the preview loop and closed there; the caller must not use
// it afterward.
func (p *previewWindow) Show(frame gocv.Mat, results []artrack.TrackingResult) {
	if frame.Empty() {
		return
	}
	select {
	case p.frameCh <- frameUpdate{mat: frame, results: results}:
	default:
		frame.Close() // drop frame if preview is slow
	}
}

// Close closes the preview window and releases resources.
func (p *previewWindow) Close() error {
	p.once.Do(func() {
		close(p.closeCh)
		<-p.doneCh
	})
	return nil
}
