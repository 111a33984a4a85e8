package traj

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// quaternionEpsilon is the squared-norm threshold below which a quaternion is
// treated as degenerate (four times float64 machine epsilon)
const quaternionEpsilon = 4 * 0x1p-52

// Transform44 builds the homogeneous transform of a pose record.
// A quaternion with squared norm below quaternionEpsilon yields the identity
// rotation with the record's translation.
func Transform44(r PoseRecord) Transform {
	t := r.Translation
	q := [4]float64{r.Rotation.X, r.Rotation.Y, r.Rotation.Z, r.Rotation.W}

	nq := q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3]
	if nq < quaternionEpsilon {
		return Translation(t.X, t.Y, t.Z)
	}

	s := math.Sqrt(2.0 / nq)
	for i := range q {
		q[i] *= s
	}
	var o [4][4]float64
	for i := range q {
		for j := range q {
			o[i][j] = q[i] * q[j]
		}
	}

	return Transform{
		{1.0 - o[1][1] - o[2][2], o[0][1] - o[2][3], o[0][2] + o[1][3], t.X},
		{o[0][1] + o[2][3], 1.0 - o[0][0] - o[2][2], o[1][2] - o[0][3], t.Y},
		{o[0][2] - o[1][3], o[1][2] + o[0][3], 1.0 - o[0][0] - o[1][1], t.Z},
		{0.0, 0.0, 0.0, 1.0},
	}
}

// Identity returns the identity transform
func Identity() Transform {
	return Transform{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Translation creates a translation-only transform
func Translation(x, y, z float64) Transform {
	m := Identity()
	m[0][3], m[1][3], m[2][3] = x, y, z
	return m
}

// Position returns the translation column
func (m Transform) Position() Vec3 {
	return Vec3{X: m[0][3], Y: m[1][3], Z: m[2][3]}
}

// Rotation returns the upper-left 3x3 block
func (m Transform) Rotation() [3][3]float64 {
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][j]
		}
	}
	return r
}

// Dense returns a copy of the transform as a gonum matrix
func (m Transform) Dense() *mat.Dense {
	data := make([]float64, 0, 16)
	for i := range m {
		data = append(data, m[i][:]...)
	}
	return mat.NewDense(4, 4, data)
}

func fromDense(d mat.Matrix) Transform {
	var m Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			m[i][j] = d.At(i, j)
		}
	}
	return m
}

// Compose returns a*b. Applying the result is equivalent to applying b first, then a.
func Compose(a, b Transform) Transform {
	var out mat.Dense
	out.Mul(a.Dense(), b.Dense())
	m := fromDense(&out)
	m[3] = [4]float64{0, 0, 0, 1}
	return m
}

// Inverse inverts a rigid transform as [Rᵀ | -Rᵀt]
func Inverse(m Transform) Transform {
	inv := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			inv[i][j] = m[j][i]
		}
	}
	for i := 0; i < 3; i++ {
		inv[i][3] = -(inv[i][0]*m[0][3] + inv[i][1]*m[1][3] + inv[i][2]*m[2][3])
	}
	return inv
}

// Relative returns the motion from a to b, a⁻¹·b
func Relative(a, b Transform) Transform {
	return Compose(Inverse(a), b)
}

// TransformPoint applies the transform to a point
func TransformPoint(m Transform, p Vec3) Vec3 {
	return Vec3{
		X: m[0][0]*p.X + m[0][1]*p.Y + m[0][2]*p.Z + m[0][3],
		Y: m[1][0]*p.X + m[1][1]*p.Y + m[1][2]*p.Z + m[1][3],
		Z: m[2][0]*p.X + m[2][1]*p.Y + m[2][2]*p.Z + m[2][3],
	}
}

// IsRigid reports whether m is a proper rigid transform within tol:
// det(R) ≈ 1, RᵀR ≈ I and a bottom row of exactly [0 0 0 1]
func IsRigid(m Transform, tol float64) bool {
	if m[3] != [4]float64{0, 0, 0, 1} {
		return false
	}

	r := m.Dense().Slice(0, 3, 0, 3)
	if math.Abs(mat.Det(r)-1.0) > tol {
		return false
	}

	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	return mat.EqualApprox(&rtr, eye3, tol)
}

var eye3 = mat.NewDiagDense(3, []float64{1, 1, 1})
