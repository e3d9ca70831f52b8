package mesh

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
)

// WritePLY writes the mesh as an ascii PLY file with vertex colors
// and triangle faces.
func WritePLY(m *Mesh, out io.Writer) error {
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
		"element face %d\n"+
		"property list uchar int vertex_indices\n"+
		"end_header\n", len(m.Vertices), len(m.Triangles)); err != nil {
		return err
	}
	for i, v := range m.Vertices {
		c := m.Colors[i]
		if _, err := fmt.Fprintf(w, "%f %f %f %d %d %d\n", v.X, v.Y, v.Z, c.R, c.G, c.B); err != nil {
			return err
		}
	}
	for _, tri := range m.Triangles {
		if _, err := fmt.Fprintf(w, "3 %d %d %d\n", tri[0], tri[1], tri[2]); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteToFile writes the mesh as a PLY file at the given path.
func WriteToFile(m *Mesh, fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return WritePLY(m, f)
}
