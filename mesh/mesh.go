// Package mesh provides a triangle mesh type and alpha-shape surface
// reconstruction from a point cloud.
package mesh

import (
	"image/color"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/viam-labs/monofusion/pointcloud"
)

// Mesh is a triangle mesh with per-vertex colors. Triangles index
// into Vertices.
type Mesh struct {
	Vertices  []r3.Vector
	Colors    []color.NRGBA
	Triangles [][3]int
}

// NumTriangles returns the number of triangles in the mesh.
func (m *Mesh) NumTriangles() int {
	return len(m.Triangles)
}

// NumVertices returns the number of vertices in the mesh.
func (m *Mesh) NumVertices() int {
	return len(m.Vertices)
}

func cloudToSlices(cloud pointcloud.PointCloud) ([]r3.Vector, []color.NRGBA) {
	vertices := make([]r3.Vector, 0, cloud.Size())
	colors := make([]color.NRGBA, 0, cloud.Size())
	cloud.Iterate(func(p r3.Vector, d pointcloud.Data) bool {
		vertices = append(vertices, p)
		c := color.NRGBA{R: 128, G: 128, B: 128, A: 255}
		if d != nil && d.HasColor() {
			r, g, b := d.RGB255()
			c = color.NRGBA{R: r, G: g, B: b, A: 255}
		}
		colors = append(colors, c)
		return true
	})
	return vertices, colors
}

// NewFromCloud returns a mesh holding the cloud's points as vertices
// with no triangles.
func NewFromCloud(cloud pointcloud.PointCloud) (*Mesh, error) {
	if cloud == nil {
		return nil, errors.New("cloud is nil")
	}
	vertices, colors := cloudToSlices(cloud)
	return &Mesh{Vertices: vertices, Colors: colors}, nil
}
