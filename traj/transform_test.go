package traj

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func pose(tx, ty, tz, qx, qy, qz, qw float64) PoseRecord {
	return PoseRecord{
		Stamp:       "0",
		Translation: Vec3{X: tx, Y: ty, Z: tz},
		Rotation:    Quaternion{X: qx, Y: qy, Z: qz, W: qw},
	}
}

func transformsNear(t *testing.T, want, got Transform, tol float64) {
	t.Helper()
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(want[i][j]-got[i][j]) > tol {
				t.Errorf("[%d][%d] = %v, want %v", i, j, got[i][j], want[i][j])
			}
		}
	}
}

func TestTransform44_IdentityQuaternion(t *testing.T) {
	translations := []Vec3{{0, 0, 0}, {1, 2, 3}, {-5.5, 1e6, -0.001}}
	for _, tr := range translations {
		got := Transform44(pose(tr.X, tr.Y, tr.Z, 0, 0, 0, 1))
		want := Transform{
			{1, 0, 0, tr.X},
			{0, 1, 0, tr.Y},
			{0, 0, 1, tr.Z},
			{0, 0, 0, 1},
		}
		if got != want {
			t.Errorf("Transform44(%v, identity) = %v, want %v", tr, got, want)
		}
	}
}

func TestTransform44_ZeroQuaternion(t *testing.T) {
	for _, tr := range []Vec3{{0, 0, 0}, {7, -8, 9}, {math.MaxFloat64, 0, -1}} {
		got := Transform44(pose(tr.X, tr.Y, tr.Z, 0, 0, 0, 0))
		if got != Translation(tr.X, tr.Y, tr.Z) {
			t.Errorf("Transform44(%v, zero) = %v, want identity rotation", tr, got)
		}
	}
}

func TestTransform44_DegenerateBelowEpsilon(t *testing.T) {
	// nq = 1e-18 is far below 4 * machine epsilon
	got := Transform44(pose(1, 2, 3, 1e-9, 0, 0, 0))
	assert.Equal(t, Translation(1, 2, 3), got)

	// Just above the threshold the rotation branch is taken
	q := math.Sqrt(quaternionEpsilon) * 1.01
	got = Transform44(pose(0, 0, 0, q, 0, 0, 0))
	transformsNear(t, Transform{
		{1, 0, 0, 0},
		{0, -1, 0, 0},
		{0, 0, -1, 0},
		{0, 0, 0, 1},
	}, got, 1e-12)
}

func TestTransform44_QuarterTurnAboutZ(t *testing.T) {
	s := math.Sqrt(0.5)
	got := Transform44(pose(1, 2, 3, 0, 0, s, s))
	transformsNear(t, Transform{
		{0, -1, 0, 1},
		{1, 0, 0, 2},
		{0, 0, 1, 3},
		{0, 0, 0, 1},
	}, got, 1e-12)
}

func TestTransform44_HalfTurnAboutX(t *testing.T) {
	got := Transform44(pose(0, 0, 0, 1, 0, 0, 0))
	transformsNear(t, Transform{
		{1, 0, 0, 0},
		{0, -1, 0, 0},
		{0, 0, -1, 0},
		{0, 0, 0, 1},
	}, got, 1e-15)
}

func TestTransform44_NormalizesQuaternion(t *testing.T) {
	s := math.Sqrt(0.5)
	unit := Transform44(pose(0, 0, 0, 0, s, 0, s))
	scaled := Transform44(pose(0, 0, 0, 0, 10*s, 0, 10*s))
	transformsNear(t, unit, scaled, 1e-12)

	// (0,0,0,2) is the identity rotation once normalized
	transformsNear(t, Identity(), Transform44(pose(0, 0, 0, 0, 0, 0, 2)), 1e-15)
}

func TestTransform44_NegatedQuaternionSameRotation(t *testing.T) {
	a := Transform44(pose(1, 1, 1, 0.1, 0.2, 0.3, 0.9))
	b := Transform44(pose(1, 1, 1, -0.1, -0.2, -0.3, -0.9))
	transformsNear(t, a, b, 1e-12)
}

func TestTransform44_BottomRowAndRigidity(t *testing.T) {
	quats := [][4]float64{
		{0, 0, 0, 1},
		{0.6574, 0.6126, -0.2949, -0.3248},
		{1, 2, 3, 4},
		{-0.5, 0.5, -0.5, 0.5},
		{0, 0, 0, 0},
		{1e-9, 1e-9, 0, 0},
	}
	for _, q := range quats {
		m := Transform44(pose(3, -2, 1, q[0], q[1], q[2], q[3]))
		if m[3] != [4]float64{0, 0, 0, 1} {
			t.Errorf("q=%v: bottom row = %v, want [0 0 0 1]", q, m[3])
		}
		if !IsRigid(m, 1e-9) {
			t.Errorf("q=%v: transform is not rigid: %v", q, m)
		}
		assert.Equal(t, Vec3{X: 3, Y: -2, Z: 1}, m.Position())
	}
}

func TestCompose(t *testing.T) {
	s := math.Sqrt(0.5)
	rot := Transform44(pose(0, 0, 0, 0, 0, s, s))
	move := Translation(1, 0, 0)

	// Translate first, then rotate: (1,0,0) ends up at (0,1,0)
	got := Compose(rot, move)
	p := TransformPoint(got, Vec3{})
	assert.InDelta(t, 0, p.X, 1e-12)
	assert.InDelta(t, 1, p.Y, 1e-12)
	assert.InDelta(t, 0, p.Z, 1e-12)
	assert.Equal(t, [4]float64{0, 0, 0, 1}, got[3])
}

func TestInverse(t *testing.T) {
	m := Transform44(pose(1, -2, 3, 0.1, 0.2, 0.3, 0.9))
	transformsNear(t, Identity(), Compose(m, Inverse(m)), 1e-12)
	transformsNear(t, Identity(), Compose(Inverse(m), m), 1e-12)
}

func TestRelative(t *testing.T) {
	a := Transform44(pose(1, 0, 0, 0, 0, 0, 1))
	b := Transform44(pose(3, 0, 0, 0, 0, 0, 1))
	transformsNear(t, Translation(2, 0, 0), Relative(a, b), 1e-15)
	transformsNear(t, Identity(), Relative(a, a), 1e-15)
}

func TestTransformPoint(t *testing.T) {
	m := Transform44(pose(10, 20, 30, 1, 0, 0, 0))
	got := TransformPoint(m, Vec3{X: 1, Y: 1, Z: 1})
	assert.InDelta(t, 11, got.X, 1e-12)
	assert.InDelta(t, 19, got.Y, 1e-12)
	assert.InDelta(t, 29, got.Z, 1e-12)
}

func TestRotation(t *testing.T) {
	m := Transform44(pose(5, 6, 7, 0, 0, 0, 1))
	assert.Equal(t, [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, m.Rotation())
}

func TestDense(t *testing.T) {
	m := Translation(1, 2, 3)
	d := m.Dense()
	r, c := d.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 4, c)
	assert.Equal(t, 3.0, d.At(2, 3))

	// Dense returns a copy
	d.Set(0, 0, 42)
	assert.Equal(t, 1.0, m[0][0])
}

func TestIsRigid(t *testing.T) {
	tests := []struct {
		name string
		m    Transform
		want bool
	}{
		{name: "identity", m: Identity(), want: true},
		{name: "translation", m: Translation(1, 2, 3), want: true},
		{name: "scaled", m: Transform{{2, 0, 0, 0}, {0, 2, 0, 0}, {0, 0, 2, 0}, {0, 0, 0, 1}}, want: false},
		{name: "reflection", m: Transform{{-1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}, want: false},
		{name: "bad bottom row", m: Transform{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 1, 1}}, want: false},
		{name: "shear", m: Transform{{1, 0.5, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRigid(tt.m, 1e-9))
		})
	}
}
