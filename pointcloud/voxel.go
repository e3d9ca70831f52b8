package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// A voxel represents a value on a regular grid in three-dimensional
// space. As with pixels in a 2D bitmap, voxels themselves do not
// typically have their position explicitly encoded with their values.

// VoxelCoords stores voxel coordinates in voxel grid axes.
type VoxelCoords struct {
	I, J, K int64
}

// IsEqual tests if two VoxelCoords are the same.
func (c VoxelCoords) IsEqual(c2 VoxelCoords) bool {
	return c.I == c2.I && c.J == c2.J && c.K == c2.K
}

// GetVoxelCoordinates computes the coordinates of the voxel containing
// pt in a grid anchored at ptMin with the given voxel size.
func GetVoxelCoordinates(pt, ptMin r3.Vector, voxelSize float64) VoxelCoords {
	return VoxelCoords{
		I: int64(math.Floor((pt.X - ptMin.X) / voxelSize)),
		J: int64(math.Floor((pt.Y - ptMin.Y) / voxelSize)),
		K: int64(math.Floor((pt.Z - ptMin.Z) / voxelSize)),
	}
}

type voxelAccum struct {
	sum      r3.Vector
	rSum     int
	gSum     int
	bSum     int
	n        int
	nColored int
}

// VoxelDownsample returns a new cloud with at most one point per
// occupied voxel of the given size. Each output point is the centroid
// of the input points in its voxel; if any of those points carry
// color, the output point gets their averaged color.
func VoxelDownsample(cloud PointCloud, voxelSize float64) (PointCloud, error) {
	if voxelSize <= 0 {
		return nil, errors.Errorf("voxel size must be positive, got %f", voxelSize)
	}
	if cloud.Size() == 0 {
		return New(), nil
	}
	meta := cloud.MetaData()
	ptMin := r3.Vector{X: meta.MinX, Y: meta.MinY, Z: meta.MinZ}

	voxels := make(map[VoxelCoords]*voxelAccum)
	cloud.Iterate(func(p r3.Vector, d Data) bool {
		coords := GetVoxelCoordinates(p, ptMin, voxelSize)
		accum, ok := voxels[coords]
		if !ok {
			accum = &voxelAccum{}
			voxels[coords] = accum
		}
		accum.sum = accum.sum.Add(p)
		accum.n++
		if d != nil && d.HasColor() {
			r, g, b := d.RGB255()
			accum.rSum += int(r)
			accum.gSum += int(g)
			accum.bSum += int(b)
			accum.nColored++
		}
		return true
	})

	downsampled := NewWithPrealloc(len(voxels))
	for _, accum := range voxels {
		centroid := accum.sum.Mul(1. / float64(accum.n))
		var d Data
		if accum.nColored > 0 {
			d = NewColoredData(color.NRGBA{
				R: uint8(accum.rSum / accum.nColored),
				G: uint8(accum.gSum / accum.nColored),
				B: uint8(accum.bSum / accum.nColored),
				A: 255,
			})
		} else {
			d = NewBasicData()
		}
		if err := downsampled.Set(centroid, d); err != nil {
			return nil, err
		}
	}
	return downsampled, nil
}
