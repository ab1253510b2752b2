// Package geometry validates homographies and the quadrilaterals they
// project, using 64-bit arithmetic for the decomposition step and 32-bit
// arithmetic for the rest of the pipeline, per the numerics split named
// in the tracking engine's design notes.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Point2D is a 32-bit image-plane point.
type Point2D struct {
	X, Y float32
}

// Homography is a row-major 3x3 projective transform.
type Homography [9]float64

// Identity returns the identity homography.
func Identity() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Apply projects a point through the homography, returning the
// perspective-divided image-plane coordinate.
func (h Homography) Apply(p Point2D) Point2D {
	x, y := float64(p.X), float64(p.Y)
	wx := h[0]*x + h[1]*y + h[2]
	wy := h[3]*x + h[4]*y + h[5]
	w := h[6]*x + h[7]*y + h[8]
	if math.Abs(w) < 1e-12 {
		return Point2D{float32(math.NaN()), float32(math.NaN())}
	}
	return Point2D{float32(wx / w), float32(wy / w)}
}

// Invert returns the inverse homography. ok is false if h is singular.
func (h Homography) Invert() (Homography, bool) {
	a := mat.NewDense(3, 3, []float64{h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], h[8]})
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		return Homography{}, false
	}
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = inv.At(r, c)
		}
	}
	return out, true
}

// ApplyAll projects every point through h.
func (h Homography) ApplyAll(pts []Point2D) []Point2D {
	out := make([]Point2D, len(pts))
	for i, p := range pts {
		out[i] = h.Apply(p)
	}
	return out
}

// ValidityParams bounds what counts as a geometrically plausible
// homography for a planar target.
type ValidityParams struct {
	MinCornerAngleDeg    float64
	MaxCornerAngleDeg    float64
	MaxScaleChange       float64
	MaxAspectRatioChange float64
	MinAreaThreshold     float64
}

// Validate checks a homography's top-left 2x2 scale/shear behaviour and
// the shape of the quadrilateral it produces when applied to refCorners
// (the target's four reference corners, in its own image frame, wound
// consistently). refAspectRatio is width/height of the reference
// rectangle. It returns ok=false at the first violated condition (without
// saying which one), or ok=true with a
// geometry quality score in [0,1] describing how centred the quad's
// properties are within the permitted bounds.
func Validate(h Homography, refCorners [4]Point2D, refAspectRatio float64, p ValidityParams) (ok bool, score float64) {
	a := mat.NewDense(2, 2, []float64{h[0], h[1], h[3], h[4]})
	det := mat.Det(a)
	if det <= 0 {
		return false, 0
	}
	maxScale2 := p.MaxScaleChange * p.MaxScaleChange
	if det < 1/maxScale2 || det > maxScale2 {
		return false, 0
	}

	projected := h.ApplyAll(refCorners[:])
	for _, c := range projected {
		if math.IsNaN(float64(c.X)) || math.IsNaN(float64(c.Y)) {
			return false, 0
		}
	}

	if !isSimpleConvexWound(projected) {
		return false, 0
	}

	angles := cornerAngles(projected)
	for _, ang := range angles {
		if ang < p.MinCornerAngleDeg || ang > p.MaxCornerAngleDeg {
			return false, 0
		}
	}

	area := quadArea(projected)
	if area < p.MinAreaThreshold {
		return false, 0
	}

	aspect := quadAspectRatio(projected)
	aspectChange := aspect / refAspectRatio
	if aspectChange < 1 {
		aspectChange = 1 / aspectChange
	}
	if aspectChange > p.MaxAspectRatioChange {
		return false, 0
	}

	return true, geometryScore(angles, aspectChange, p)
}

// geometryScore maps how central the observed quad properties are
// within their permitted ranges to a [0,1] quality score: 1.0 for a
// perfectly regular quad matching the reference aspect ratio, decaying
// toward 0 as angles or aspect approach the validity boundary.
func geometryScore(angles [4]float64, aspectChange float64, p ValidityParams) float64 {
	angleMid := (p.MinCornerAngleDeg + p.MaxCornerAngleDeg) / 2
	angleHalfRange := (p.MaxCornerAngleDeg - p.MinCornerAngleDeg) / 2
	angleScore := 1.0
	for _, a := range angles {
		dev := math.Abs(a-angleMid) / angleHalfRange
		if dev > 1 {
			dev = 1
		}
		angleScore -= dev / 4
	}
	if angleScore < 0 {
		angleScore = 0
	}

	aspectScore := 1 - (aspectChange-1)/(p.MaxAspectRatioChange-1)
	if aspectScore < 0 {
		aspectScore = 0
	}
	if aspectScore > 1 {
		aspectScore = 1
	}

	score := 0.5*angleScore + 0.5*aspectScore
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// isSimpleConvexWound reports whether the four points form a simple,
// convex, consistently wound polygon (all cross products of consecutive
// edges share the same sign).
func isSimpleConvexWound(q []Point2D) bool {
	if len(q) != 4 {
		return false
	}
	var sign float64
	for i := 0; i < 4; i++ {
		p0 := q[i]
		p1 := q[(i+1)%4]
		p2 := q[(i+2)%4]
		cross := crossZ(p0, p1, p2)
		if cross == 0 {
			return false
		}
		s := math.Copysign(1, cross)
		if sign == 0 {
			sign = s
		} else if s != sign {
			return false
		}
	}
	return true
}

func crossZ(a, b, c Point2D) float64 {
	ux, uy := float64(b.X-a.X), float64(b.Y-a.Y)
	vx, vy := float64(c.X-b.X), float64(c.Y-b.Y)
	return ux*vy - uy*vx
}

// cornerAngles returns the four interior angles, in degrees, of the
// quadrilateral in winding order.
func cornerAngles(q []Point2D) [4]float64 {
	var out [4]float64
	for i := 0; i < 4; i++ {
		prev := q[(i+3)%4]
		cur := q[i]
		next := q[(i+1)%4]
		v1x, v1y := float64(prev.X-cur.X), float64(prev.Y-cur.Y)
		v2x, v2y := float64(next.X-cur.X), float64(next.Y-cur.Y)
		dot := v1x*v2x + v1y*v2y
		n1 := math.Hypot(v1x, v1y)
		n2 := math.Hypot(v2x, v2y)
		if n1 < 1e-9 || n2 < 1e-9 {
			out[i] = 0
			continue
		}
		cosA := dot / (n1 * n2)
		cosA = math.Max(-1, math.Min(1, cosA))
		out[i] = math.Acos(cosA) * 180 / math.Pi
	}
	return out
}

// quadArea returns the absolute area of the quadrilateral via the
// shoelace formula.
func quadArea(q []Point2D) float64 {
	var sum float64
	for i := 0; i < 4; i++ {
		a := q[i]
		b := q[(i+1)%4]
		sum += float64(a.X)*float64(b.Y) - float64(b.X)*float64(a.Y)
	}
	return math.Abs(sum) / 2
}

// Contains reports whether p lies within the convex quadrilateral q
// (assumed simple and consistently wound, as produced by Validate).
func Contains(q [4]Point2D, p Point2D) bool {
	var sign float64
	for i := 0; i < 4; i++ {
		a := q[i]
		b := q[(i+1)%4]
		cross := float64(b.X-a.X)*float64(p.Y-a.Y) - float64(b.Y-a.Y)*float64(p.X-a.X)
		if cross == 0 {
			continue
		}
		s := math.Copysign(1, cross)
		if sign == 0 {
			sign = s
		} else if s != sign {
			return false
		}
	}
	return true
}

// quadAspectRatio estimates width/height from the mean of opposite edge
// pairs.
func quadAspectRatio(q []Point2D) float64 {
	edge := func(a, b Point2D) float64 {
		return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
	}
	w := (edge(q[0], q[1]) + edge(q[3], q[2])) / 2
	h := (edge(q[1], q[2]) + edge(q[0], q[3])) / 2
	if h < 1e-9 {
		return math.Inf(1)
	}
	return w / h
}
