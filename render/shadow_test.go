package render

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestFitLightMatrixContainsBounds(t *testing.T) {
	min := mgl32.Vec3{-3, 0, -2}
	max := mgl32.Vec3{4, 5, 6}
	matrix := FitLightMatrix(mgl32.Vec3{-0.5, -1, -0.3}, min, max)

	// Every corner of the bounds must land inside the clip volume:
	// x and y in [-1, 1], depth in [0, 1].
	for _, x := range []float32{min.X(), max.X()} {
		for _, y := range []float32{min.Y(), max.Y()} {
			for _, z := range []float32{min.Z(), max.Z()} {
				clip := matrix.Mul4x1(mgl32.Vec4{x, y, z, 1})
				assert.InDelta(t, 0, clip.X(), 1.001, "corner (%v %v %v) x outside clip", x, y, z)
				assert.InDelta(t, 0, clip.Y(), 1.001, "corner (%v %v %v) y outside clip", x, y, z)
				assert.GreaterOrEqual(t, clip.Z(), float32(-0.001), "corner (%v %v %v) in front of near plane", x, y, z)
				assert.LessOrEqual(t, clip.Z(), float32(1.001), "corner (%v %v %v) beyond far plane", x, y, z)
			}
		}
	}
}

func TestFitLightMatrixDegenerateBounds(t *testing.T) {
	// A point-sized scene must still yield a finite matrix.
	point := mgl32.Vec3{1, 2, 3}
	matrix := FitLightMatrix(mgl32.Vec3{0, -1, 0}, point, point)

	clip := matrix.Mul4x1(point.Vec4(1))
	for i := 0; i < 4; i++ {
		assert.False(t, isNaN32(clip[i]), "clip component %d is NaN", i)
	}
}

func TestFitLightMatrixVerticalLight(t *testing.T) {
	// A straight-down light is parallel to the default up vector; the
	// fit must pick an alternate basis instead of collapsing.
	matrix := FitLightMatrix(mgl32.Vec3{0, -1, 0}, mgl32.Vec3{-1, 0, -1}, mgl32.Vec3{1, 2, 1})

	clip := matrix.Mul4x1(mgl32.Vec4{0, 1, 0, 1})
	for i := 0; i < 4; i++ {
		assert.False(t, isNaN32(clip[i]), "clip component %d is NaN", i)
	}
}

func isNaN32(f float32) bool {
	return f != f
}
