package posemath

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// slerpLinearThreshold is the |dot| above which Slerp falls back to a
// normalised linear interpolation.
const slerpLinearThreshold = 0.9995

// extractionEpsilon guards the divisor in MatrixToQuaternion.
const extractionEpsilon = 1e-12

// Quaternion is a rotation (w, x, y, z). q and -q describe the same rotation.
type Quaternion struct {
	W, X, Y, Z float64
}

// IdentityQuaternion is the zero rotation.
func IdentityQuaternion() Quaternion {
	return Quaternion{W: 1}
}

func (q Quaternion) components() []float64 {
	return []float64{q.W, q.X, q.Y, q.Z}
}

// Dot returns the 4D dot product.
func (q Quaternion) Dot(o Quaternion) float64 {
	return floats.Dot(q.components(), o.components())
}

// Norm returns the Euclidean length.
func (q Quaternion) Norm() float64 {
	return floats.Norm(q.components(), 2)
}

// Neg returns -q, the same rotation in the opposite hemisphere.
func (q Quaternion) Neg() Quaternion {
	return Quaternion{-q.W, -q.X, -q.Y, -q.Z}
}

// Add returns the componentwise sum.
func (q Quaternion) Add(o Quaternion) Quaternion {
	return Quaternion{q.W + o.W, q.X + o.X, q.Y + o.Y, q.Z + o.Z}
}

// Scale multiplies every component by s.
func (q Quaternion) Scale(s float64) Quaternion {
	return Quaternion{q.W * s, q.X * s, q.Y * s, q.Z * s}
}

// Normalize returns q scaled to unit length. A zero quaternion normalises to
// the identity.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n < extractionEpsilon || math.IsNaN(n) {
		return IdentityQuaternion()
	}
	return q.Scale(1 / n)
}

// Aligned returns q, or -q if q lies in the opposite hemisphere from ref.
func (q Quaternion) Aligned(ref Quaternion) Quaternion {
	if q.Dot(ref) < 0 {
		return q.Neg()
	}
	return q
}

// MatrixToQuaternion extracts the rotation of the upper-left 3x3 block.
// The branch is chosen on the trace sign and then on the dominant diagonal
// entry so the divisor stays well away from zero.
func MatrixToQuaternion(m Mat4) Quaternion {
	m00, m01, m02 := m[0], m[1], m[2]
	m10, m11, m12 := m[4], m[5], m[6]
	m20, m21, m22 := m[8], m[9], m[10]

	var q Quaternion
	tr := m00 + m11 + m22
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1.0) * 2
		if s < extractionEpsilon {
			return IdentityQuaternion()
		}
		q = Quaternion{
			W: 0.25 * s,
			X: (m21 - m12) / s,
			Y: (m02 - m20) / s,
			Z: (m10 - m01) / s,
		}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(math.Max(0, 1.0+m00-m11-m22)) * 2
		if s < extractionEpsilon {
			return IdentityQuaternion()
		}
		q = Quaternion{
			W: (m21 - m12) / s,
			X: 0.25 * s,
			Y: (m01 + m10) / s,
			Z: (m02 + m20) / s,
		}
	case m11 > m22:
		s := math.Sqrt(math.Max(0, 1.0+m11-m00-m22)) * 2
		if s < extractionEpsilon {
			return IdentityQuaternion()
		}
		q = Quaternion{
			W: (m02 - m20) / s,
			X: (m01 + m10) / s,
			Y: 0.25 * s,
			Z: (m12 + m21) / s,
		}
	default:
		s := math.Sqrt(math.Max(0, 1.0+m22-m00-m11)) * 2
		if s < extractionEpsilon {
			return IdentityQuaternion()
		}
		q = Quaternion{
			W: (m10 - m01) / s,
			X: (m02 + m20) / s,
			Y: (m12 + m21) / s,
			Z: 0.25 * s,
		}
	}
	return q.Normalize()
}

// QuaternionToMatrix builds a rotation with zero translation. q must already
// be unit length; it is not renormalised here.
func QuaternionToMatrix(q Quaternion) Mat4 {
	xx, yy, zz := q.X*q.X, q.Y*q.Y, q.Z*q.Z
	xy, xz, yz := q.X*q.Y, q.X*q.Z, q.Y*q.Z
	wx, wy, wz := q.W*q.X, q.W*q.Y, q.W*q.Z

	return Mat4{
		1 - 2*(yy+zz), 2 * (xy - wz), 2 * (xz + wy), 0,
		2 * (xy + wz), 1 - 2*(xx+zz), 2 * (yz - wx), 0,
		2 * (xz - wy), 2 * (yz + wx), 1 - 2*(xx+yy), 0,
		0, 0, 0, 1,
	}
}

// Slerp interpolates from a to b along the shortest arc. b is negated first
// when the two lie in opposite hemispheres.
func Slerp(a, b Quaternion, t float64) Quaternion {
	d := a.Dot(b)
	if d < 0 {
		b = b.Neg()
		d = -d
	}

	if d > slerpLinearThreshold {
		return Quaternion{
			W: a.W + t*(b.W-a.W),
			X: a.X + t*(b.X-a.X),
			Y: a.Y + t*(b.Y-a.Y),
			Z: a.Z + t*(b.Z-a.Z),
		}.Normalize()
	}

	theta0 := math.Acos(d)
	theta := theta0 * t
	sinTheta := math.Sin(theta)
	sinTheta0 := math.Sin(theta0)

	s0 := math.Cos(theta) - d*sinTheta/sinTheta0
	s1 := sinTheta / sinTheta0
	return a.Scale(s0).Add(b.Scale(s1))
}

// AngleBetween returns the rotation angle in radians needed to go from a to
// b, in [0, π].
func AngleBetween(a, b Quaternion) float64 {
	d := math.Abs(a.Dot(b))
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}
