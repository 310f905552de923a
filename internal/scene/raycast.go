package scene

import (
	"math"

	"github.com/yengalvez/hubs-cloud/internal/mathx"
)

const (
	// Segments are lifted off the floor so waypoints flagged with a
	// ground-hugging collider don't block their own approaches.
	rayLiftY = 0.2

	degenerateAxis = 1e-8
)

// IsPathClear reports whether the straight segment from a to b (both lifted
// by rayLiftY) is free of colliders; it returns false when a collider blocks
// it. Entries within eps arc-length of either
// endpoint are ignored so a bot may stand on top of a flagged waypoint.
func IsPathClear(from, to mathx.Vec3, colliders []BoxCollider, eps float64) bool {
	a := mathx.Vec3{X: from.X, Y: from.Y + rayLiftY, Z: from.Z}
	b := mathx.Vec3{X: to.X, Y: to.Y + rayLiftY, Z: to.Z}
	length := b.Sub(a).Length()
	if length <= 2*eps {
		return true
	}

	for i := range colliders {
		la := colliders[i].Inverse.TransformPoint(a)
		lb := colliders[i].Inverse.TransformPoint(b)
		if tEnter, hit := segmentVsUnitAABB(la, lb); hit {
			d := tEnter * length
			if d > eps && d < length-eps {
				return false
			}
		}
	}
	return true
}

// segmentVsUnitAABB slab-tests the segment a->b against [-0.5, 0.5]^3 and
// returns the entry parameter in [0, 1].
func segmentVsUnitAABB(a, b mathx.Vec3) (tEnter float64, hit bool) {
	dir := b.Sub(a)
	tmin, tmax := 0.0, 1.0

	for _, ax := range [3][2]float64{{a.X, dir.X}, {a.Y, dir.Y}, {a.Z, dir.Z}} {
		o, d := ax[0], ax[1]
		if math.Abs(d) < degenerateAxis {
			if o < -0.5 || o > 0.5 {
				return 0, false
			}
			continue
		}
		t1 := (-0.5 - o) / d
		t2 := (0.5 - o) / d
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
		if tmin > tmax {
			return 0, false
		}
	}
	return tmin, true
}
