package posemath

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned when a transform cannot be inverted.
var ErrSingular = errors.New("posemath: singular matrix")

// ErrLength is returned by FromSlice for anything other than 16 values.
var ErrLength = errors.New("posemath: matrix must have 16 values")

// singularEpsilon bounds |det| of the rotation block below which a
// transform is treated as non-invertible.
const singularEpsilon = 1e-9

// Mat4 is a row-major 4x4 homogeneous transform.
type Mat4 [16]float64

// Identity returns the identity transform.
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// FromSlice copies 16 row-major values into a Mat4.
func FromSlice(v []float64) (Mat4, error) {
	var m Mat4
	if len(v) != 16 {
		return m, fmt.Errorf("%w: got %d", ErrLength, len(v))
	}
	copy(m[:], v)
	return m, nil
}

// Slice returns the values as a fresh slice.
func (m Mat4) Slice() []float64 {
	out := make([]float64, 16)
	copy(out, m[:])
	return out
}

// Translation returns the translation column.
func (m Mat4) Translation() (x, y, z float64) {
	return m[3], m[7], m[11]
}

// WithTranslation returns m with its translation column replaced.
func (m Mat4) WithTranslation(x, y, z float64) Mat4 {
	m[3], m[7], m[11] = x, y, z
	return m
}

// TranslationNorm is the Euclidean length of the translation column.
func (m Mat4) TranslationNorm() float64 {
	x, y, z := m.Translation()
	return math.Sqrt(x*x + y*y + z*z)
}

// IsIdentity reports whether m is exactly the identity.
func (m Mat4) IsIdentity() bool {
	return m == Identity()
}

// IsFinite reports whether every entry is neither NaN nor ±Inf.
func (m Mat4) IsFinite() bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (m Mat4) dense() *mat.Dense {
	data := make([]float64, 16)
	copy(data, m[:])
	return mat.NewDense(4, 4, data)
}

func fromDense(d mat.Matrix) Mat4 {
	var m Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m[r*4+c] = d.At(r, c)
		}
	}
	return m
}

// Mul returns the composition m ∘ o (m applied after o).
func (m Mat4) Mul(o Mat4) Mat4 {
	var out mat.Dense
	out.Mul(m.dense(), o.dense())
	return fromDense(&out)
}

// RotationDet returns the determinant of the upper-left 3x3 block.
func (m Mat4) RotationDet() float64 {
	rot := mat.NewDense(3, 3, []float64{
		m[0], m[1], m[2],
		m[4], m[5], m[6],
		m[8], m[9], m[10],
	})
	return mat.Det(rot)
}

// Inverse returns m⁻¹. It fails with ErrSingular if the rotation block is
// degenerate or the full transform is numerically non-invertible.
func (m Mat4) Inverse() (Mat4, error) {
	if !m.IsFinite() {
		return Mat4{}, fmt.Errorf("%w: non-finite entries", ErrSingular)
	}
	if det := m.RotationDet(); math.Abs(det) < singularEpsilon {
		return Mat4{}, fmt.Errorf("%w: rotation determinant %g", ErrSingular, det)
	}
	var inv mat.Dense
	if err := inv.Inverse(m.dense()); err != nil {
		return Mat4{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	return fromDense(&inv), nil
}

// Lerp blends every entry: a*(1-t) + b*t.
func Lerp(a, b Mat4, t float64) Mat4 {
	var out Mat4
	for i := range out {
		out[i] = a[i]*(1-t) + b[i]*t
	}
	return out
}

type vec3 [3]float64

func (v vec3) dot(o vec3) float64 { return v[0]*o[0] + v[1]*o[1] + v[2]*o[2] }
func (v vec3) norm() float64      { return math.Sqrt(v.dot(v)) }
func (v vec3) scale(s float64) vec3 {
	return vec3{v[0] * s, v[1] * s, v[2] * s}
}
func (v vec3) sub(o vec3) vec3 { return vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }
func (v vec3) cross(o vec3) vec3 {
	return vec3{
		v[1]*o[2] - v[2]*o[1],
		v[2]*o[0] - v[0]*o[2],
		v[0]*o[1] - v[1]*o[0],
	}
}

func (m Mat4) column(c int) vec3 {
	return vec3{m[c], m[4+c], m[8+c]}
}

func (m *Mat4) setColumn(c int, v vec3) {
	m[c], m[4+c], m[8+c] = v[0], v[1], v[2]
}

// ColumnScales returns the lengths of the three rotation-block columns.
func (m Mat4) ColumnScales() [3]float64 {
	return [3]float64{m.column(0).norm(), m.column(1).norm(), m.column(2).norm()}
}

// Orthonormalize re-orthogonalises the rotation block with Gram-Schmidt and
// restores each column to its current length, so a uniformly or
// non-uniformly scaled transform keeps its scale.
func (m Mat4) Orthonormalize() Mat4 {
	return m.OrthonormalizeScaled(m.ColumnScales())
}

// OrthonormalizeScaled re-orthogonalises the rotation block and sets the
// column lengths to scales. Handedness of the input is preserved.
// Translation and the bottom row are untouched.
func (m Mat4) OrthonormalizeScaled(scales [3]float64) Mat4 {
	c0, c1, c2 := m.column(0), m.column(1), m.column(2)

	u0 := vec3{1, 0, 0}
	if n := c0.norm(); n > extractionEpsilon {
		u0 = c0.scale(1 / n)
	}

	u1 := c1.sub(u0.scale(u0.dot(c1)))
	if n := u1.norm(); n > extractionEpsilon {
		u1 = u1.scale(1 / n)
	} else {
		// c1 collapsed onto c0; pick any perpendicular axis.
		alt := vec3{0, 1, 0}
		if math.Abs(u0[1]) > 0.9 {
			alt = vec3{0, 0, 1}
		}
		u1 = alt.sub(u0.scale(u0.dot(alt)))
		u1 = u1.scale(1 / u1.norm())
	}

	u2 := u0.cross(u1)
	if u2.dot(c2) < 0 {
		u2 = u2.scale(-1)
	}

	out := m
	out.setColumn(0, u0.scale(scales[0]))
	out.setColumn(1, u1.scale(scales[1]))
	out.setColumn(2, u2.scale(scales[2]))
	return out
}
