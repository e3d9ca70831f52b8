package pointcloud

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chenzhekl/goply"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// NewFromFile returns a point cloud read from the given PLY file.
func NewFromFile(fn string) (PointCloud, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadPLY(f)
}

func asFloat64(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	default:
		return 0, false
	}
}

// ReadPLY reads a point cloud from a PLY stream. Vertex colors are
// kept when the file has red/green/blue properties.
func ReadPLY(r io.Reader) (PointCloud, error) {
	ply := goply.New(r)
	vertices := ply.Elements("vertex")
	pc := NewWithPrealloc(len(vertices))
	for _, v := range vertices {
		x, okX := asFloat64(v["x"])
		y, okY := asFloat64(v["y"])
		z, okZ := asFloat64(v["z"])
		if !okX || !okY || !okZ {
			return nil, errors.New("ply vertex without x, y, z coordinates")
		}
		d := NewBasicData()
		red, okR := asFloat64(v["red"])
		green, okG := asFloat64(v["green"])
		blue, okB := asFloat64(v["blue"])
		if okR && okG && okB {
			d = d.SetColor(color.NRGBA{R: uint8(red), G: uint8(green), B: uint8(blue), A: 255})
		}
		if err := pc.Set(r3.Vector{X: x, Y: y, Z: z}, d); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// WritePLY writes the point cloud as an ascii PLY file with vertex
// colors. Uncolored points are written mid-gray.
func WritePLY(cloud PointCloud, out io.Writer) error {
	w := bufio.NewWriter(out)
	if _, err := fmt.Fprintf(w, "ply\n"+
		"format ascii 1.0\n"+
		"element vertex %d\n"+
		"property float x\n"+
		"property float y\n"+
		"property float z\n"+
		"property uchar red\n"+
		"property uchar green\n"+
		"property uchar blue\n"+
		"end_header\n", cloud.Size()); err != nil {
		return err
	}
	var writeErr error
	cloud.Iterate(func(p r3.Vector, d Data) bool {
		r, g, b := uint8(128), uint8(128), uint8(128)
		if d != nil && d.HasColor() {
			r, g, b = d.RGB255()
		}
		_, writeErr = fmt.Fprintf(w, "%f %f %f %d %d %d\n", p.X, p.Y, p.Z, r, g, b)
		return writeErr == nil
	})
	if writeErr != nil {
		return writeErr
	}
	return w.Flush()
}

// WritePCD writes the point cloud in ascii PCD format.
func WritePCD(cloud PointCloud, out io.Writer) error {
	w := bufio.NewWriter(out)
	hasColor := cloud.MetaData().HasColor
	fields := "x y z"
	size := "4 4 4"
	typ := "F F F"
	count := "1 1 1"
	if hasColor {
		fields = "x y z rgb"
		size = "4 4 4 4"
		typ = "F F F I"
		count = "1 1 1 1"
	}
	if _, err := fmt.Fprintf(w, "VERSION .7\n"+
		"FIELDS %s\n"+
		"SIZE %s\n"+
		"TYPE %s\n"+
		"COUNT %s\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA ascii\n", fields, size, typ, count, cloud.Size(), cloud.Size()); err != nil {
		return err
	}
	var writeErr error
	cloud.Iterate(func(p r3.Vector, d Data) bool {
		if hasColor {
			r, g, b := uint8(128), uint8(128), uint8(128)
			if d != nil && d.HasColor() {
				r, g, b = d.RGB255()
			}
			rgb := int(r)<<16 | int(g)<<8 | int(b)
			_, writeErr = fmt.Fprintf(w, "%f %f %f %d\n", p.X, p.Y, p.Z, rgb)
		} else {
			_, writeErr = fmt.Fprintf(w, "%f %f %f\n", p.X, p.Y, p.Z)
		}
		return writeErr == nil
	})
	if writeErr != nil {
		return writeErr
	}
	return w.Flush()
}

// WriteToFile writes the point cloud to the given path, picking the
// format from the extension (.ply or .pcd).
func WriteToFile(cloud PointCloud, fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".ply":
		return WritePLY(cloud, f)
	case ".pcd":
		return WritePCD(cloud, f)
	default:
		return errors.Errorf("unsupported point cloud file extension on %q", fn)
	}
}
