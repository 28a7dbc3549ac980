// Package math32 provides portable float32 vector kernels.
// This is an internal package - external users should use the feature,
// align and trainer packages.
package math32

// Dot calculates the dot product of two vectors.
func Dot(a, b []float32) float32 {
	var ret float32
	for i := range a {
		ret += a[i] * b[i]
	}

	return ret
}

// SquaredL2 calculates the squared L2 distance.
func SquaredL2(a, b []float32) float32 {
	var distance float32
	for i := range a {
		distance += (a[i] - b[i]) * (a[i] - b[i])
	}

	return distance
}

// ScaleInPlace multiplies all elements of a by scalar.
func ScaleInPlace(a []float32, scalar float32) {
	for i := range a {
		a[i] *= scalar
	}
}

// AddInPlace adds b to a element-wise.
func AddInPlace(a, b []float32) {
	for i := range a {
		a[i] += b[i]
	}
}

// SubInPlace subtracts b from a element-wise.
func SubInPlace(a, b []float32) {
	for i := range a {
		a[i] -= b[i]
	}
}
