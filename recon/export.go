package recon

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/viam-labs/monofusion/mesh"
	"github.com/viam-labs/monofusion/pointcloud"
)

// timestampFilename converts a time to a filename compatible with
// every supported filesystem.
func timestampFilename(dir, prefix, ext string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", prefix, t.Format("2006-01-02T15_04_05.0000"), ext))
}

// ExportResult writes the result's cloud (PLY and PCD) and mesh (PLY,
// when present) into dir with timestamped filenames, returning the
// paths written.
func ExportResult(res Result, dir string) ([]string, error) {
	var written []string
	ts := res.CapturedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	if res.Cloud != nil && res.Cloud.Size() > 0 {
		for _, ext := range []string{".ply", ".pcd"} {
			fn := timestampFilename(dir, "cloud", ext, ts)
			if err := pointcloud.WriteToFile(res.Cloud, fn); err != nil {
				return written, err
			}
			written = append(written, fn)
		}
	}
	if res.Mesh != nil && res.Mesh.NumVertices() > 0 {
		fn := timestampFilename(dir, "mesh", ".ply", ts)
		if err := mesh.WriteToFile(res.Mesh, fn); err != nil {
			return written, err
		}
		written = append(written, fn)
	}
	return written, nil
}
