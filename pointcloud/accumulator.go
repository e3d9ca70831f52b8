package pointcloud

import (
	"image/color"
	"sync"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// defaultGray is the color assigned to merged points that come
// without one.
var defaultGray = color.NRGBA{R: 128, G: 128, B: 128, A: 255}

// AccumulatorConfig holds the downsampling parameters of an Accumulator.
type AccumulatorConfig struct {
	// DownsampleThreshold is the cloud size above which a merge
	// triggers voxel downsampling.
	DownsampleThreshold int
	// VoxelSize is the edge length of the downsampling grid.
	VoxelSize float64
}

// DefaultAccumulatorConfig returns the parameters used by the live
// reconstruction pipeline.
func DefaultAccumulatorConfig() AccumulatorConfig {
	return AccumulatorConfig{
		DownsampleThreshold: 100,
		VoxelSize:           0.05,
	}
}

// Accumulator owns a running point cloud merged into from the live
// tracking loop and the batch reconstruction worker. All methods are
// safe for concurrent use.
type Accumulator struct {
	mu     sync.Mutex
	cloud  PointCloud
	conf   AccumulatorConfig
	logger golog.Logger
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator(conf AccumulatorConfig, logger golog.Logger) *Accumulator {
	return &Accumulator{
		cloud:  New(),
		conf:   conf,
		logger: logger,
	}
}

// Merge appends the given points to the cloud. A nil or empty point
// slice is a no-op. Colors may be nil or shorter than points; points
// without a color get a neutral gray. After the merge, if the cloud
// has grown past the configured threshold it is voxel-downsampled;
// a downsampling failure keeps the un-downsampled cloud and is only
// logged.
func (acc *Accumulator) Merge(points []r3.Vector, colors []color.NRGBA) error {
	if len(points) == 0 {
		return nil
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	for i, pt := range points {
		c := defaultGray
		if i < len(colors) {
			c = colors[i]
		}
		if err := acc.cloud.Set(pt, NewColoredData(c)); err != nil {
			return errors.Wrap(err, "cannot merge point into cloud")
		}
	}
	if acc.cloud.Size() > acc.conf.DownsampleThreshold {
		downsampled, err := VoxelDownsample(acc.cloud, acc.conf.VoxelSize)
		if err != nil || downsampled.Size() == 0 {
			acc.logger.Warnw("downsampling failed, keeping current cloud", "error", err, "size", acc.cloud.Size())
			return nil
		}
		acc.cloud = downsampled
		meta := acc.cloud.MetaData()
		n := float64(acc.cloud.Size())
		acc.logger.Debugw("cloud downsampled", "size", acc.cloud.Size(),
			"centerX", meta.TotalX()/n, "centerY", meta.TotalY()/n, "centerZ", meta.TotalZ()/n)
	}
	return nil
}

// MergeCloud merges every point of another cloud, keeping colors.
func (acc *Accumulator) MergeCloud(other PointCloud) error {
	if other == nil || other.Size() == 0 {
		return nil
	}
	points := make([]r3.Vector, 0, other.Size())
	colors := make([]color.NRGBA, 0, other.Size())
	other.Iterate(func(p r3.Vector, d Data) bool {
		points = append(points, p)
		c := defaultGray
		if d != nil && d.HasColor() {
			r, g, b := d.RGB255()
			c = color.NRGBA{R: r, G: g, B: b, A: 255}
		}
		colors = append(colors, c)
		return true
	})
	return acc.Merge(points, colors)
}

// Snapshot returns a copy of the current cloud that the caller may
// read while merges continue.
func (acc *Accumulator) Snapshot() PointCloud {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	out := NewWithPrealloc(acc.cloud.Size())
	acc.cloud.Iterate(func(p r3.Vector, d Data) bool {
		var dCopy Data
		if d != nil && d.HasColor() {
			r, g, b := d.RGB255()
			dCopy = NewColoredData(color.NRGBA{R: r, G: g, B: b, A: 255})
		} else {
			dCopy = NewBasicData()
		}
		// positions are unique within a cloud so Set cannot fail here
		//nolint:errcheck
		out.Set(p, dCopy)
		return true
	})
	return out
}

// Size returns the current number of points in the cloud.
func (acc *Accumulator) Size() int {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.cloud.Size()
}

// Reset discards the accumulated cloud.
func (acc *Accumulator) Reset() {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.cloud = New()
}
