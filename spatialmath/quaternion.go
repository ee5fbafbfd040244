package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

const quatEpsilon = 1e-12

// IdentityQuat is the zero rotation.
var IdentityQuat = quat.Number{Real: 1}

// Normalize scales q to unit length. The zero quaternion normalizes to the identity.
func Normalize(q quat.Number) quat.Number {
	norm := quat.Abs(q)
	if norm < quatEpsilon {
		return IdentityQuat
	}
	return quat.Scale(1/norm, q)
}

// QuatIsFinite reports whether every component of q is a real number and q is not zero.
func QuatIsFinite(q quat.Number) bool {
	for _, v := range []float64{q.Real, q.Imag, q.Jmag, q.Kmag} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return quat.Abs(q) > quatEpsilon
}

// QuatFromAxisAngle returns the unit quaternion rotating theta radians about axis.
func QuatFromAxisAngle(axis r3.Vector, theta float64) quat.Number {
	norm := axis.Norm()
	if norm < quatEpsilon {
		return IdentityQuat
	}
	axis = axis.Mul(1 / norm)
	s := math.Sin(theta / 2)
	return quat.Number{Real: math.Cos(theta / 2), Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
}

// R3ToQuat converts a rotation vector (axis scaled by angle) to a unit quaternion.
func R3ToQuat(v r3.Vector) quat.Number {
	return QuatFromAxisAngle(v, v.Norm())
}

// QuatToR3AA converts q to a rotation vector on the shortest path, so the returned angle is in
// [0, pi].
func QuatToR3AA(q quat.Number) r3.Vector {
	q = Normalize(q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	imag := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	sinHalf := imag.Norm()
	if sinHalf < quatEpsilon {
		return r3.Vector{}
	}
	theta := 2 * math.Atan2(sinHalf, q.Real)
	return imag.Mul(theta / sinHalf)
}

// QuatAngle returns the rotation angle of q in [0, pi].
func QuatAngle(q quat.Number) float64 {
	return QuatToR3AA(q).Norm()
}

// OrientationResidual is the rotation vector taking current onto target, expressed in the
// parent frame.
func OrientationResidual(target, current quat.Number) r3.Vector {
	return QuatToR3AA(quat.Mul(target, quat.Conj(current)))
}

// OrientationBetween returns the rotation taking from onto to.
func OrientationBetween(from, to quat.Number) quat.Number {
	return Normalize(quat.Mul(quat.Conj(from), to))
}

// RotateVector rotates v by the unit quaternion q.
func RotateVector(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	rotated := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// Slerp spherically interpolates from a to b by t in [0, 1] along the shortest arc.
func Slerp(a, b quat.Number, t float64) quat.Number {
	a, b = Normalize(a), Normalize(b)
	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	if dot < 0 {
		b = quat.Scale(-1, b)
		dot = -dot
	}
	if dot > 1-1e-9 {
		return Normalize(quat.Add(a, quat.Scale(t, quat.Sub(b, a))))
	}
	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sinTheta
	wb := math.Sin(t*theta) / sinTheta
	return Normalize(quat.Add(quat.Scale(wa, a), quat.Scale(wb, b)))
}

// QuatFromYawPitchRoll builds the intrinsic z-y'-x'' rotation. With x forward, y left and z up a
// positive pitch tilts the x axis down.
func QuatFromYawPitchRoll(yaw, pitch, roll float64) quat.Number {
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// YawPitchRoll is the inverse of QuatFromYawPitchRoll.
func YawPitchRoll(q quat.Number) (yaw, pitch, roll float64) {
	q = Normalize(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	sinPitch := 2 * (w*y - z*x)
	if sinPitch > 1 {
		sinPitch = 1
	} else if sinPitch < -1 {
		sinPitch = -1
	}
	pitch = math.Asin(sinPitch)
	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return yaw, pitch, roll
}

// QuatAlmostEqual reports whether a and b describe the same rotation within tol radians.
func QuatAlmostEqual(a, b quat.Number, tol float64) bool {
	return QuatAngle(OrientationBetween(a, b)) <= tol
}
