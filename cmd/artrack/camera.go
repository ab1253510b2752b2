//go:build cgo
// +build cgo

package main

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

const (
	// fourccMJPEG is the FourCC code for Motion JPEG codec.
	// MJPEG is widely supported by USB webcams and provides good compression.
	// FourCC codes are 4-byte identifiers: 'MJPG' = 0x47504A4D
	fourccMJPEG = 0x47504A4D
)

// opencvCamera is a gocv.VideoCapture-backed frame source for the CLI
// harness. It reads BGR frames and converts them to the 8-bit grayscale
// buffers the engine's ProcessFrame expects, since the tracking pipeline
// never needs colour.
//
// Implementation notes:
//   - Uses the V4L2 backend on Linux to avoid GStreamer "Internal data
//     stream error" failures.
//   - Sets the MJPEG codec explicitly for maximum USB webcam compatibility.
//   - Thread-safe: mu protects all fields and camera operations.
type opencvCamera struct {
	mu sync.Mutex

	deviceID int
	width    int
	height   int
	fps      int

	webcam *gocv.VideoCapture
	opened bool
}

func newOpenCVCamera() *opencvCamera {
	return &opencvCamera{}
}

// Open initializes the camera with the given configuration.
func (c *opencvCamera) Open(deviceID, width, height, fps int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return fmt.Errorf("camera already opened")
	}

	webcam, err := gocv.OpenVideoCaptureWithAPI(deviceID, gocv.VideoCaptureV4L2)
	if err != nil {
		return fmt.Errorf("failed to open camera device %d: %w", deviceID, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return fmt.Errorf("camera device %d not found or unavailable", deviceID)
	}

	webcam.Set(gocv.VideoCaptureFOURCC, fourccMJPEG)
	if width > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	if fps > 0 {
		webcam.Set(gocv.VideoCaptureFPS, float64(fps))
	}

	c.deviceID = deviceID
	c.width = int(webcam.Get(gocv.VideoCaptureFrameWidth))
	c.height = int(webcam.Get(gocv.VideoCaptureFrameHeight))
	c.fps = int(webcam.Get(gocv.VideoCaptureFPS))
	c.webcam = webcam
	c.opened = true

	// Some cameras need a moment to initialize; read and discard the
	// first frame.
	warmup := gocv.NewMat()
	c.webcam.Read(&warmup)
	warmup.Close()

	return nil
}

// Read captures a single frame and returns it as a row-major 8-bit
// grayscale buffer, along with its width and height.
func (c *opencvCamera) Read() ([]byte, int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return nil, 0, 0, fmt.Errorf("camera not opened")
	}

	mat := gocv.NewMat()
	defer mat.Close()
	if ok := c.webcam.Read(&mat); !ok {
		return nil, 0, 0, fmt.Errorf("failed to read frame from camera")
	}
	if mat.Empty() {
		return nil, 0, 0, fmt.Errorf("captured frame is empty")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	return gray.ToBytes(), gray.Cols(), gray.Rows(), nil
}

// ReadBGR captures a frame and returns the raw BGR Mat for preview
// overlays. The returned Mat must be closed by the caller.
func (c *opencvCamera) ReadBGR() (gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return gocv.NewMat(), fmt.Errorf("camera not opened")
	}

	mat := gocv.NewMat()
	if ok := c.webcam.Read(&mat); !ok {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("failed to read frame from camera")
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("captured frame is empty")
	}
	return mat, nil
}

// Close releases camera resources.
func (c *opencvCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return nil
	}
	if c.webcam != nil {
		if err := c.webcam.Close(); err != nil {
			c.opened = false
			return fmt.Errorf("closing webcam: %w", err)
		}
	}
	c.opened = false
	return nil
}

// ActualResolution returns the actual configured resolution, which may
// differ from the requested one if the camera doesn't support it.
func (c *opencvCamera) ActualResolution() (width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// ActualFPS returns the actual configured frame rate.
func (c *opencvCamera) ActualFPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

// enumerateCameras attempts to detect available camera devices. It is a
// best-effort function and may not work on all systems.
func enumerateCameras(maxDevices int) []int {
	var devices []int
	if maxDevices <= 0 {
		maxDevices = 10
	}
	for i := 0; i < maxDevices; i++ {
		cam, err := gocv.OpenVideoCaptureWithAPI(i, gocv.VideoCaptureV4L2)
		if err != nil {
			continue
		}
		if cam.IsOpened() {
			devices = append(devices, i)
		}
		cam.Close()
	}
	return devices
}
