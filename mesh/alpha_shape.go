package mesh

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/viam-labs/monofusion/pointcloud"
)

// cellCoords is a key into the spatial hash grid used for
// neighborhood queries.
type cellCoords struct {
	i, j, k int64
}

type spatialGrid struct {
	cells    map[cellCoords][]int
	cellSize float64
}

func newSpatialGrid(points []r3.Vector, cellSize float64) *spatialGrid {
	g := &spatialGrid{
		cells:    make(map[cellCoords][]int),
		cellSize: cellSize,
	}
	for i, pt := range points {
		c := g.cellOf(pt)
		g.cells[c] = append(g.cells[c], i)
	}
	return g
}

func (g *spatialGrid) cellOf(pt r3.Vector) cellCoords {
	return cellCoords{
		i: int64(math.Floor(pt.X / g.cellSize)),
		j: int64(math.Floor(pt.Y / g.cellSize)),
		k: int64(math.Floor(pt.Z / g.cellSize)),
	}
}

// neighbors returns the indices of all points stored in the 27 cells
// around pt's cell.
func (g *spatialGrid) neighbors(pt r3.Vector) []int {
	c := g.cellOf(pt)
	var out []int
	for di := int64(-1); di <= 1; di++ {
		for dj := int64(-1); dj <= 1; dj++ {
			for dk := int64(-1); dk <= 1; dk++ {
				if idxs, ok := g.cells[cellCoords{c.i + di, c.j + dj, c.k + dk}]; ok {
					out = append(out, idxs...)
				}
			}
		}
	}
	return out
}

// circumcenter returns the circumcenter and circumradius of the
// triangle (a, b, c), or false for a degenerate triangle.
func circumcenter(a, b, c r3.Vector) (r3.Vector, float64, bool) {
	ab := b.Sub(a)
	ac := c.Sub(a)
	abXac := ab.Cross(ac)
	denom := 2 * abXac.Norm2()
	if denom < 1e-18 {
		return r3.Vector{}, 0, false
	}
	toCenter := abXac.Cross(ab).Mul(ac.Norm2()).Add(ac.Cross(abXac).Mul(ab.Norm2())).Mul(1. / denom)
	return a.Add(toCenter), toCenter.Norm(), true
}

// emptySphereExists reports whether a sphere of radius alpha through
// the triangle's three vertices exists that contains no other point.
func emptySphereExists(points []r3.Vector, grid *spatialGrid, ia, ib, ic int, center r3.Vector, radius, alpha float64) bool {
	a, b, c := points[ia], points[ib], points[ic]
	normal := b.Sub(a).Cross(c.Sub(a))
	n := normal.Norm()
	if n < 1e-12 {
		return false
	}
	normal = normal.Mul(1. / n)
	h := math.Sqrt(alpha*alpha - radius*radius)
	for _, s := range []r3.Vector{
		center.Add(normal.Mul(h)),
		center.Sub(normal.Mul(h)),
	} {
		empty := true
		for _, idx := range grid.neighbors(s) {
			if idx == ia || idx == ib || idx == ic {
				continue
			}
			if points[idx].Sub(s).Norm() < alpha-1e-12 {
				empty = false
				break
			}
		}
		if empty {
			return true
		}
	}
	return false
}

// NewAlphaShape reconstructs a surface mesh from a point cloud: a
// triangle is kept when some sphere of radius alpha through its three
// vertices contains no other point. Larger alpha values close bigger
// gaps at the cost of bridging unrelated surfaces.
func NewAlphaShape(cloud pointcloud.PointCloud, alpha float64) (*Mesh, error) {
	if alpha <= 0 {
		return nil, errors.Errorf("alpha must be positive, got %f", alpha)
	}
	m, err := NewFromCloud(cloud)
	if err != nil {
		return nil, err
	}
	vertices := m.Vertices
	if len(vertices) < 3 {
		return m, nil
	}

	// cells of size 2*alpha so a single ring covers every point
	// within sphere reach of a candidate center
	grid := newSpatialGrid(vertices, 2*alpha)

	for ia := range vertices {
		neighborIdxs := grid.neighbors(vertices[ia])
		var close []int
		for _, idx := range neighborIdxs {
			if idx > ia && vertices[idx].Sub(vertices[ia]).Norm() <= 2*alpha {
				close = append(close, idx)
			}
		}
		for x := 0; x < len(close); x++ {
			for y := x + 1; y < len(close); y++ {
				ib, ic := close[x], close[y]
				if vertices[ib].Sub(vertices[ic]).Norm() > 2*alpha {
					continue
				}
				center, radius, ok := circumcenter(vertices[ia], vertices[ib], vertices[ic])
				if !ok || radius > alpha {
					continue
				}
				if emptySphereExists(vertices, grid, ia, ib, ic, center, radius, alpha) {
					m.Triangles = append(m.Triangles, [3]int{ia, ib, ic})
				}
			}
		}
	}
	return m, nil
}
