package mathx

import (
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCompose_TranslationOnly(t *testing.T) {
	m := Compose(Vec3{X: 1, Y: 2, Z: 3}, QuatIdentity(), Vec3{X: 1, Y: 1, Z: 1})
	p := m.TransformPoint(Vec3{})
	if !near(p.X, 1) || !near(p.Y, 2) || !near(p.Z, 3) {
		t.Fatalf("translate origin: got %+v", p)
	}
}

func TestMul_MatchesSequentialTransforms(t *testing.T) {
	a := Compose(Vec3{X: 5}, QuatIdentity(), Vec3{X: 1, Y: 1, Z: 1})
	b := Compose(Vec3{}, QuatIdentity(), Vec3{X: 2, Y: 2, Z: 2})
	p := a.Mul(b).TransformPoint(Vec3{X: 1})
	// scale first, then translate
	if !near(p.X, 7) {
		t.Fatalf("a*b transform: got %+v want x=7", p)
	}
}

func TestFromQuat_90DegAroundY(t *testing.T) {
	s := math.Sin(math.Pi / 4)
	m := FromQuat(Quat{Y: s, W: math.Cos(math.Pi / 4)})
	p := m.TransformPoint(Vec3{X: 1})
	if !near(p.X, 0) || !near(p.Z, -1) {
		t.Fatalf("rotY(90) * (1,0,0): got %+v", p)
	}
}

func TestFromEulerDeg_MatchesQuatAroundSingleAxis(t *testing.T) {
	for _, deg := range []float64{0, 30, 90, 180, 275} {
		rad := deg * math.Pi / 180
		q := Quat{Y: math.Sin(rad / 2), W: math.Cos(rad / 2)}
		me := FromEulerDeg(0, deg, 0)
		mq := FromQuat(q)
		for i := range me {
			if math.Abs(me[i]-mq[i]) > 1e-9 {
				t.Fatalf("deg=%v element %d: euler=%v quat=%v", deg, i, me[i], mq[i])
			}
		}
	}
}

func TestInvert_RoundTrip(t *testing.T) {
	m := Compose(Vec3{X: 3, Y: -1, Z: 8}, Quat{Y: 0.5, W: math.Sqrt(0.75)}, Vec3{X: 2, Y: 1, Z: 0.5})
	inv, ok := m.Invert()
	if !ok {
		t.Fatalf("expected invertible")
	}
	id := m.Mul(inv)
	want := Identity()
	for i := range id {
		if math.Abs(id[i]-want[i]) > 1e-9 {
			t.Fatalf("m*inv element %d: got %v", i, id[i])
		}
	}
}

func TestInvert_SingularScaleZero(t *testing.T) {
	m := Compose(Vec3{}, QuatIdentity(), Vec3{X: 1, Y: 0, Z: 1})
	if _, ok := m.Invert(); ok {
		t.Fatalf("zero-scale matrix should not invert")
	}
}

func TestNormalizeDeg(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0}, {360, 0}, {-90, 270}, {450, 90}, {-720, 0},
	}
	for _, c := range cases {
		if got := NormalizeDeg(c.in); !near(got, c.want) {
			t.Fatalf("NormalizeDeg(%v)=%v want %v", c.in, got, c.want)
		}
	}
}
