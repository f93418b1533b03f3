// Package scene holds the CPU-side world the renderer draws: meshes
// loaded from OBJ files, compiled materials, placed objects, lights,
// and the camera.
package scene

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/embergfx/ember/gpu"
	"github.com/embergfx/ember/render"
)

// Mesh is indexed triangle geometry living in device-local buffers.
type Mesh struct {
	vertexBuffer *gpu.Buffer
	indexBuffer  *gpu.Buffer
	indexCount   int

	min, max mgl32.Vec3
}

// vertexKey deduplicates OBJ corners: two face corners share a vertex
// only when position, normal, and texture coordinate all match.
type vertexKey struct {
	position int
	normal   int
	uv       int
}

type meshBuilder struct {
	decoder  *obj.Decoder
	vertices []render.Vertex
	indices  []uint32
	unique   map[vertexKey]uint32
}

// LoadOBJ decodes a Wavefront OBJ stream (with its companion MTL
// stream, which may be empty) and uploads the triangulated geometry.
// Faces with more than three corners are fanned into triangles; faces
// without normals get a flat per-face normal.
func LoadOBJ(dev *gpu.Device, queue *gpu.Queue, meshReader, materialReader io.Reader) (*Mesh, error) {
	vertices, indices, err := buildMeshData(meshReader, materialReader)
	if err != nil {
		return nil, err
	}

	mesh := &Mesh{indexCount: len(indices)}
	mesh.min, mesh.max = boundsOf(vertices)

	mesh.vertexBuffer, err = gpu.NewDeviceLocalBuffer(dev, queue, vertices, core1_0.BufferUsageVertexBuffer)
	if err != nil {
		return nil, err
	}
	mesh.indexBuffer, err = gpu.NewDeviceLocalBuffer(dev, queue, indices, core1_0.BufferUsageIndexBuffer)
	if err != nil {
		mesh.vertexBuffer.Destroy()
		return nil, err
	}

	return mesh, nil
}

// buildMeshData is the device-free half of LoadOBJ: decode,
// triangulate, and deduplicate.
func buildMeshData(meshReader, materialReader io.Reader) ([]render.Vertex, []uint32, error) {
	decoder, err := obj.DecodeReader(meshReader, materialReader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "decoding obj")
	}

	builder := &meshBuilder{
		decoder: decoder,
		unique:  make(map[vertexKey]uint32),
	}

	for _, decodedObj := range decoder.Objects {
		for _, face := range decodedObj.Faces {
			// Fan-triangulate; OBJ faces may be arbitrary polygons.
			for i := 2; i < len(face.Vertices); i++ {
				builder.addTriangle(face, 0, i-1, i)
			}
		}
	}

	if len(builder.indices) == 0 {
		return nil, nil, errors.Newf("obj stream contains no faces")
	}
	return builder.vertices, builder.indices, nil
}

func (b *meshBuilder) addTriangle(face obj.Face, i0, i1, i2 int) {
	if len(face.Normals) > 0 && face.Normals[i0] >= 0 {
		b.addCorner(face, i0, mgl32.Vec3{})
		b.addCorner(face, i1, mgl32.Vec3{})
		b.addCorner(face, i2, mgl32.Vec3{})
		return
	}

	// No stored normals: use the triangle's face normal for all three
	// corners. Those corners are never deduplicated against smooth
	// ones; the key's normal index stays -1 and position wins.
	p0 := b.position(face.Vertices[i0])
	p1 := b.position(face.Vertices[i1])
	p2 := b.position(face.Vertices[i2])
	normal := p1.Sub(p0).Cross(p2.Sub(p0))
	if normal.Len() > 0 {
		normal = normal.Normalize()
	}

	b.addCorner(face, i0, normal)
	b.addCorner(face, i1, normal)
	b.addCorner(face, i2, normal)
}

func (b *meshBuilder) addCorner(face obj.Face, faceIndex int, flatNormal mgl32.Vec3) {
	key := vertexKey{
		position: face.Vertices[faceIndex],
		normal:   -1,
		uv:       -1,
	}
	if len(face.Normals) > faceIndex && face.Normals[faceIndex] >= 0 {
		key.normal = face.Normals[faceIndex]
	}
	if len(face.Uvs) > faceIndex && face.Uvs[faceIndex] >= 0 {
		key.uv = face.Uvs[faceIndex]
	}

	index, exists := b.unique[key]
	if !exists {
		vert := render.Vertex{Position: b.position(key.position)}

		if key.normal >= 0 {
			vert.Normal = mgl32.Vec3{
				b.decoder.Normals[key.normal*3],
				b.decoder.Normals[key.normal*3+1],
				b.decoder.Normals[key.normal*3+2],
			}
		} else {
			vert.Normal = flatNormal
		}

		if key.uv >= 0 {
			// OBJ V runs bottom-up, Vulkan textures top-down.
			vert.TexCoord = mgl32.Vec2{
				b.decoder.Uvs[key.uv*2],
				1.0 - b.decoder.Uvs[key.uv*2+1],
			}
		}

		index = uint32(len(b.vertices))
		b.vertices = append(b.vertices, vert)
		if key.normal >= 0 {
			b.unique[key] = index
		}
	}

	b.indices = append(b.indices, index)
}

func (b *meshBuilder) position(index int) mgl32.Vec3 {
	return mgl32.Vec3{
		b.decoder.Vertices[index*3],
		b.decoder.Vertices[index*3+1],
		b.decoder.Vertices[index*3+2],
	}
}

func boundsOf(vertices []render.Vertex) (mgl32.Vec3, mgl32.Vec3) {
	min := vertices[0].Position
	max := vertices[0].Position
	for _, vert := range vertices[1:] {
		for i := 0; i < 3; i++ {
			if vert.Position[i] < min[i] {
				min[i] = vert.Position[i]
			}
			if vert.Position[i] > max[i] {
				max[i] = vert.Position[i]
			}
		}
	}
	return min, max
}

// Bind binds the mesh's vertex and index buffers.
func (m *Mesh) Bind(buffer core1_0.CommandBuffer) {
	buffer.CmdBindVertexBuffers(0, []core1_0.Buffer{m.vertexBuffer.Handle()}, []int{0})
	buffer.CmdBindIndexBuffer(m.indexBuffer.Handle(), 0, core1_0.IndexTypeUInt32)
}

// Draw issues the indexed draw for the whole mesh.
func (m *Mesh) Draw(buffer core1_0.CommandBuffer) {
	buffer.CmdDrawIndexed(m.indexCount, 1, 0, 0, 0)
}

// Bounds returns the mesh-space axis-aligned bounding box.
func (m *Mesh) Bounds() (min, max mgl32.Vec3) {
	return m.min, m.max
}

func (m *Mesh) IndexCount() int { return m.indexCount }

// Destroy releases the vertex and index buffers.
func (m *Mesh) Destroy() {
	if m.indexBuffer != nil {
		m.indexBuffer.Destroy()
		m.indexBuffer = nil
	}
	if m.vertexBuffer != nil {
		m.vertexBuffer.Destroy()
		m.vertexBuffer = nil
	}
}
