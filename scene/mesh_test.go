package scene

import (
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const triangleOBJ = `
v 0 0 0
v 1 0 0
v 0 1 0
vn 0 0 1
vt 0 0
vt 1 0
vt 0 1
f 1/1/1 2/2/1 3/3/1
`

const quadOBJ = `
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vn 0 0 1
vt 0 0
vt 1 0
vt 1 1
vt 0 1
f 1/1/1 2/2/1 3/3/1 4/4/1
`

const noNormalsOBJ = `
v 0 0 0
v 1 0 0
v 0 0 1
f 1 2 3
`

func TestBuildMeshDataTriangle(t *testing.T) {
	vertices, indices, err := buildMeshData(strings.NewReader(triangleOBJ), strings.NewReader(""))
	require.NoError(t, err)

	assert.Len(t, vertices, 3)
	assert.Equal(t, []uint32{0, 1, 2}, indices)
	assert.Equal(t, mgl32.Vec3{0, 0, 1}, vertices[0].Normal)
	// OBJ texture V is flipped for Vulkan's top-down convention.
	assert.Equal(t, mgl32.Vec2{0, 1}, vertices[0].TexCoord)
	assert.Equal(t, mgl32.Vec2{1, 1}, vertices[1].TexCoord)
}

func TestBuildMeshDataQuadTriangulatesAndDeduplicates(t *testing.T) {
	vertices, indices, err := buildMeshData(strings.NewReader(quadOBJ), strings.NewReader(""))
	require.NoError(t, err)

	// A quad fans into two triangles sharing two corners; the shared
	// corners must not duplicate vertices.
	assert.Len(t, indices, 6)
	assert.Len(t, vertices, 4)
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, indices)
}

func TestBuildMeshDataComputesFlatNormals(t *testing.T) {
	vertices, _, err := buildMeshData(strings.NewReader(noNormalsOBJ), strings.NewReader(""))
	require.NoError(t, err)

	require.Len(t, vertices, 3)
	// Counter-clockwise winding in the XZ plane faces -Y.
	for _, vert := range vertices {
		assert.InDelta(t, 0, vert.Normal.X(), 1e-6)
		assert.InDelta(t, -1, vert.Normal.Y(), 1e-6)
		assert.InDelta(t, 0, vert.Normal.Z(), 1e-6)
	}
}

func TestBuildMeshDataRejectsEmptyStream(t *testing.T) {
	_, _, err := buildMeshData(strings.NewReader("v 0 0 0\n"), strings.NewReader(""))
	assert.Error(t, err)
}

func TestBoundsOf(t *testing.T) {
	vertices, _, err := buildMeshData(strings.NewReader(quadOBJ), strings.NewReader(""))
	require.NoError(t, err)

	min, max := boundsOf(vertices)
	assert.Equal(t, mgl32.Vec3{0, 0, 0}, min)
	assert.Equal(t, mgl32.Vec3{1, 1, 0}, max)
}
