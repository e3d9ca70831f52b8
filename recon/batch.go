package recon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils/pexec"

	"github.com/viam-labs/monofusion/camera"
	"github.com/viam-labs/monofusion/epipolar"
	"github.com/viam-labs/monofusion/mesh"
	"github.com/viam-labs/monofusion/pointcloud"
)

// ErrInsufficientKeyframes is returned by a batch run with fewer than
// two keyframes.
var ErrInsufficientKeyframes = errors.New("batch reconstruction needs at least 2 keyframes")

// ToolOutcome is the result of an external reconstruction tool
// attempt.
type ToolOutcome int

const (
	// ToolUnavailable means the tool executable was not found on the path.
	ToolUnavailable ToolOutcome = iota
	// ToolFailed means the tool ran but errored or produced no usable output.
	ToolFailed
	// ToolSucceeded means the tool's sparse output was loaded and merged.
	ToolSucceeded
)

func (o ToolOutcome) String() string {
	switch o {
	case ToolUnavailable:
		return "unavailable"
	case ToolFailed:
		return "failed"
	case ToolSucceeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

// BatchConfig configures the keyframe batch reconstruction.
type BatchConfig struct {
	// ToolName is the external SfM executable looked up on the path.
	ToolName string
	// MeshAlpha is the alpha-shape radius used when a dense cloud is
	// available.
	MeshAlpha float64
}

// DefaultBatchConfig targets COLMAP's automatic reconstructor.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		ToolName:  "colmap",
		MeshAlpha: 0.1,
	}
}

// BatchReconstructor produces a denser reconstruction from retained
// keyframes, preferring an external SfM tool and falling back to
// pairwise triangulation.
type BatchReconstructor struct {
	triangulator *Triangulator
	accumulator  *pointcloud.Accumulator
	conf         BatchConfig
	logger       golog.Logger

	// lookPath is swapped in tests to force the tool unavailable.
	lookPath func(string) (string, error)
}

// NewBatchReconstructor returns a reconstructor merging into the given
// accumulator, which is shared with the live pipeline.
func NewBatchReconstructor(
	triangulator *Triangulator,
	accumulator *pointcloud.Accumulator,
	conf BatchConfig,
	logger golog.Logger,
) *BatchReconstructor {
	return &BatchReconstructor{
		triangulator: triangulator,
		accumulator:  accumulator,
		conf:         conf,
		logger:       logger,
		lookPath:     exec.LookPath,
	}
}

// Run executes one batch reconstruction: stage keyframes to a scratch
// directory, attempt the external tool, fall back to pairwise
// triangulation when the tool is unavailable or fails, and publish the
// final snapshot to the sink. It returns ErrInsufficientKeyframes,
// before any I/O, when fewer than two keyframes are given.
func (br *BatchReconstructor) Run(
	ctx context.Context,
	frames []camera.Frame,
	intrinsics *epipolar.Intrinsics,
	sink Sink,
) (*Result, error) {
	if len(frames) < 2 {
		return nil, ErrInsufficientKeyframes
	}

	dir, err := os.MkdirTemp("", "monofusion-batch-")
	if err != nil {
		return nil, errors.Wrap(err, "cannot create scratch directory")
	}
	defer func() {
		if rerr := os.RemoveAll(dir); rerr != nil {
			br.logger.Warnw("cannot remove scratch directory", "dir", dir, "error", rerr)
		}
	}()
	if err := br.stageFrames(dir, frames); err != nil {
		return nil, err
	}

	outcome, surface := br.attemptTool(ctx, dir)
	br.logger.Infow("external reconstruction tool attempt", "tool", br.conf.ToolName, "outcome", outcome.String())

	if outcome != ToolSucceeded {
		if err := br.fallback(ctx, frames, intrinsics); err != nil {
			return nil, err
		}
	}

	res := &Result{
		Cloud:      br.accumulator.Snapshot(),
		Mesh:       surface,
		CapturedAt: frames[len(frames)-1].CapturedAt,
	}
	if sink != nil {
		sink.Publish(*res)
	}
	return res, nil
}

// stageFrames writes the keyframes into dir/images with deterministic
// zero-padded names.
func (br *BatchReconstructor) stageFrames(dir string, frames []camera.Frame) error {
	imageDir := filepath.Join(dir, "images")
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return errors.Wrap(err, "cannot create image staging directory")
	}
	for i, f := range frames {
		name := filepath.Join(imageDir, fmt.Sprintf("frame_%06d.jpg", i))
		if err := imaging.Save(f.Image, name, imaging.JPEGQuality(95)); err != nil {
			return errors.Wrapf(err, "cannot stage keyframe %d", i)
		}
	}
	return nil
}

// attemptTool runs the external tool against the scratch directory and
// merges its outputs. A dense output additionally yields an
// alpha-shape mesh of the merged cloud.
func (br *BatchReconstructor) attemptTool(ctx context.Context, dir string) (ToolOutcome, *mesh.Mesh) {
	binary, err := br.lookPath(br.conf.ToolName)
	if err != nil {
		return ToolUnavailable, nil
	}

	pm := pexec.NewProcessManager(br.logger)
	defer func() {
		if err := pm.Stop(); err != nil {
			br.logger.Debugw("problem stopping reconstruction process", "error", err)
		}
	}()
	conf := pexec.ProcessConfig{
		ID:   "monofusion_sfm",
		Name: binary,
		Args: []string{
			"automatic_reconstructor",
			"--workspace_path", dir,
			"--image_path", filepath.Join(dir, "images"),
		},
		Log:     true,
		OneShot: true,
	}
	if _, err := pm.AddProcessFromConfig(ctx, conf); err != nil {
		br.logger.Warnw("external reconstruction tool errored", "error", err)
		return ToolFailed, nil
	}
	if err := pm.Start(ctx); err != nil {
		br.logger.Warnw("external reconstruction tool errored", "error", err)
		return ToolFailed, nil
	}

	sparse, err := pointcloud.NewFromFile(filepath.Join(dir, "sparse", "0", "points3D.ply"))
	if err != nil {
		br.logger.Warnw("cannot load sparse tool output", "error", err)
		return ToolFailed, nil
	}
	if err := br.accumulator.MergeCloud(sparse); err != nil {
		br.logger.Warnw("cannot merge sparse tool output", "error", err)
		return ToolFailed, nil
	}

	var surface *mesh.Mesh
	dense, err := pointcloud.NewFromFile(filepath.Join(dir, "dense", "0", "fused.ply"))
	if err == nil {
		if err := br.accumulator.MergeCloud(dense); err != nil {
			br.logger.Warnw("cannot merge dense tool output", "error", err)
		} else if surface, err = mesh.NewAlphaShape(br.accumulator.Snapshot(), br.conf.MeshAlpha); err != nil {
			br.logger.Warnw("cannot derive surface mesh", "error", err)
			surface = nil
		}
	}
	return ToolSucceeded, surface
}

// fallback triangulates each consecutive keyframe pair, merging each
// pair's points as they are produced.
func (br *BatchReconstructor) fallback(ctx context.Context, frames []camera.Frame, intrinsics *epipolar.Intrinsics) error {
	for i := 0; i+1 < len(frames); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		points, colors, err := br.triangulator.TriangulatePair(frames[i], frames[i+1], intrinsics, BatchMatchSelector)
		if err != nil {
			return errors.Wrapf(err, "cannot triangulate keyframe pair (%d, %d)", i, i+1)
		}
		if err := br.accumulator.Merge(points, colors); err != nil {
			return err
		}
	}
	return nil
}
