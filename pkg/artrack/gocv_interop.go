//go:build cgo
// +build cgo

package artrack

import (
	"github.com/arplane/artrack/internal/geometry"
	"gocv.io/x/gocv"
)

// newGrayMat wraps a tightly packed, row-major 8-bit grayscale buffer as
// a gocv.Mat without copying. The returned Mat aliases buf: callers must
// not mutate buf while the Mat is in use, and must Close the Mat before
// buf is reused or released to a pool.
func newGrayMat(buf []byte, width, height int) (gocv.Mat, error) {
	return gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8U, buf)
}

// descriptorsToMat packs a descriptor slice into a rows x DescriptorSize
// CV_8U matrix suitable for gocv.BFMatcher.
func descriptorsToMat(descs []Descriptor) (gocv.Mat, error) {
	if len(descs) == 0 {
		return gocv.NewMat(), nil
	}
	buf := make([]byte, len(descs)*DescriptorSize)
	for i, d := range descs {
		copy(buf[i*DescriptorSize:(i+1)*DescriptorSize], d)
	}
	return gocv.NewMatFromBytes(len(descs), DescriptorSize, gocv.MatTypeCV8U, buf)
}

// matToDescriptors unpacks a rows x cols CV_8U matrix (as produced by
// BRISK::compute) into individual descriptors.
func matToDescriptors(m gocv.Mat) []Descriptor {
	rows := m.Rows()
	cols := m.Cols()
	if rows == 0 || cols == 0 {
		return nil
	}
	raw := m.ToBytes()
	out := make([]Descriptor, rows)
	for r := 0; r < rows; r++ {
		d := make(Descriptor, cols)
		copy(d, raw[r*cols:(r+1)*cols])
		out[r] = d
	}
	return out
}

// toGocvPoints converts geometry points to gocv's single-precision point
// type used by FindHomography and the optical-flow point matrices.
func toGocvPoints(pts []geometry.Point2D) []gocv.Point2f {
	out := make([]gocv.Point2f, len(pts))
	for i, p := range pts {
		out[i] = gocv.Point2f{X: p.X, Y: p.Y}
	}
	return out
}

// pointsToMat converts points to the 2-channel float32 Mat representation
// OpenCV's geometric-estimation and tracking functions expect.
func pointsToMat(pts []geometry.Point2D) (gocv.Mat, error) {
	vec := gocv.NewPoint2fVectorFromPoints(toGocvPoints(pts))
	defer vec.Close()
	return vec.ToMat(), nil
}

// matToPoints reads back a 2-channel float32 point Mat (n x 1, CV_32FC2)
// into geometry points.
func matToPoints(m gocv.Mat) []geometry.Point2D {
	n := m.Rows()
	out := make([]geometry.Point2D, n)
	for i := 0; i < n; i++ {
		v := m.GetVecfAt(i, 0)
		out[i] = geometry.Point2D{X: v[0], Y: v[1]}
	}
	return out
}
