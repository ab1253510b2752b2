package artrack

import (
	"math"
	"testing"

	"github.com/arplane/artrack/internal/geometry"
)

func TestQuadKalman_ResetReturnsMeasurementOnFirstUpdate(t *testing.T) {
	qk := NewQuadKalman(1e-2, 1e-1)
	defer qk.Close()

	corners := Corners{{X: 10, Y: 10}, {X: 110, Y: 10}, {X: 110, Y: 110}, {X: 10, Y: 110}}
	qk.Reset(corners)

	result := qk.Update(corners)
	for i, c := range result {
		if math.Abs(float64(c.X-corners[i].X)) > 1 || math.Abs(float64(c.Y-corners[i].Y)) > 1 {
			t.Errorf("corner %d: expected near %v immediately after reset, got %v", i, corners[i], c)
		}
	}
}

func TestQuadKalman_SmoothsNoisyMeasurements(t *testing.T) {
	qk := NewQuadKalman(1e-3, 5.0)
	defer qk.Close()

	base := Corners{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}
	qk.Reset(base)

	noisy := []geometry.Point2D{
		{X: 5, Y: -3}, {X: -4, Y: 6}, {X: 2, Y: -2}, {X: -3, Y: 4}, {X: 1, Y: 1},
	}

	var lastOut geometry.Point2D
	for _, n := range noisy {
		out := qk.Update(Corners{
			{X: base[0].X + n.X, Y: base[0].Y + n.Y},
			base[1], base[2], base[3],
		})
		lastOut = out[0]
	}

	// The filtered estimate should stay closer to the true corner (0,0)
	// than the raw noise amplitude, since the filter integrates evidence
	// across updates rather than tracking the latest sample exactly.
	dist := math.Hypot(float64(lastOut.X), float64(lastOut.Y))
	if dist > 5 {
		t.Errorf("expected filtered corner within 5px of true position, got distance %f", dist)
	}
}

func TestQuadKalman_ResetSnapsToRedetectedCorners(t *testing.T) {
	qk := NewQuadKalman(1e-2, 1e-1)
	defer qk.Close()

	first := Corners{{X: 0, Y: 0}, {X: 50, Y: 0}, {X: 50, Y: 50}, {X: 0, Y: 50}}
	qk.Reset(first)
	qk.Update(Corners{{X: 2, Y: 1}, {X: 52, Y: 1}, {X: 52, Y: 51}, {X: 2, Y: 51}})

	// A re-detection jump should not be smoothed away: Reset discards
	// the prior estimate outright.
	jumped := Corners{{X: 500, Y: 500}, {X: 550, Y: 500}, {X: 550, Y: 550}, {X: 500, Y: 550}}
	qk.Reset(jumped)
	result := qk.Update(jumped)

	for i, c := range result {
		if math.Abs(float64(c.X-jumped[i].X)) > 2 || math.Abs(float64(c.Y-jumped[i].Y)) > 2 {
			t.Errorf("corner %d: expected reset to snap to %v, got %v", i, jumped[i], c)
		}
	}
}
