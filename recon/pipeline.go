package recon

import (
	"context"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"github.com/viam-labs/monofusion/camera"
	"github.com/viam-labs/monofusion/epipolar"
	"github.com/viam-labs/monofusion/pointcloud"
)

// ErrBatchInProgress is returned when a batch reconstruction is
// triggered while another is still running.
var ErrBatchInProgress = errors.New("a batch reconstruction is already running")

// ErrNoFrame is returned when a keyframe promotion is requested
// before any frame was captured.
var ErrNoFrame = errors.New("no frame captured yet")

// PipelineConfig configures the live reconstruction pipeline.
type PipelineConfig struct {
	// PollInterval is how long the tracking loop sleeps between
	// LatestFrame polls.
	PollInterval time.Duration
	// Seed drives the BRIEF sample pattern and RANSAC draws.
	Seed int64
	// WindowCapacity bounds the rolling live-frame window.
	WindowCapacity int
	Accumulator    pointcloud.AccumulatorConfig
	Batch          BatchConfig
}

// DefaultPipelineConfig returns the default live pipeline parameters.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		PollInterval:   33 * time.Millisecond,
		Seed:           1,
		WindowCapacity: DefaultWindowCapacity,
		Accumulator:    pointcloud.DefaultAccumulatorConfig(),
		Batch:          DefaultBatchConfig(),
	}
}

// Pipeline wires the frame source, feature tracking, triangulation,
// and point cloud accumulation into a continuously running live loop,
// with on-demand keyframe batch reconstruction on a separate worker.
type Pipeline struct {
	frames       *camera.FrameSource
	tracker      *FeatureTracker
	triangulator *Triangulator
	accumulator  *pointcloud.Accumulator
	batch        *BatchReconstructor
	store        *frameStore
	sink         Sink
	conf         PipelineConfig
	logger       golog.Logger

	intrMu     sync.Mutex
	intrinsics *epipolar.Intrinsics

	running                 atomic.Bool
	batchRunning            atomic.Bool
	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// NewPipeline assembles a pipeline around a frame source and a sink.
// The batch reconstructor gets its own tracker so a running batch and
// the live loop never draw from the same random stream.
func NewPipeline(frames *camera.FrameSource, sink Sink, conf PipelineConfig, logger golog.Logger) *Pipeline {
	tracker := NewFeatureTracker(conf.Seed, logger)
	triangulator := NewTriangulator(tracker, logger)
	accumulator := pointcloud.NewAccumulator(conf.Accumulator, logger)
	batchTriangulator := NewTriangulator(NewFeatureTracker(conf.Seed, logger), logger)
	return &Pipeline{
		frames:       frames,
		tracker:      tracker,
		triangulator: triangulator,
		accumulator:  accumulator,
		batch:        NewBatchReconstructor(batchTriangulator, accumulator, conf.Batch, logger),
		store:        newFrameStore(conf.WindowCapacity),
		sink:         sink,
		conf:         conf,
		logger:       logger,
	}
}

// Start launches the capture and tracking loops. Calling it while
// already running is a no-op.
func (p *Pipeline) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Info("pipeline already running")
		return
	}
	var cancelCtx context.Context
	cancelCtx, p.cancel = context.WithCancel(ctx)
	p.frames.Start(cancelCtx)
	p.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		p.trackingLoop(cancelCtx)
	}, p.activeBackgroundWorkers.Done)
}

func (p *Pipeline) trackingLoop(ctx context.Context) {
	var prev camera.Frame
	for {
		if ctx.Err() != nil {
			return
		}
		latest := p.frames.LatestFrame()
		if latest.Empty() || (!prev.Empty() && !latest.CapturedAt.After(prev.CapturedAt)) {
			if !goutils.SelectContextOrWait(ctx, p.conf.PollInterval) {
				return
			}
			continue
		}
		p.store.Observe(latest)
		intr := p.intrinsicsFor(latest)
		if !prev.Empty() {
			points, colors, err := p.triangulator.TriangulatePair(prev, latest, intr, LiveMatchSelector)
			if err != nil {
				p.logger.Debugw("live triangulation failed", "error", err)
			} else if len(points) > 0 {
				if err := p.accumulator.Merge(points, colors); err != nil {
					p.logger.Warnw("cannot merge live points", "error", err)
				} else if p.sink != nil {
					p.sink.Publish(Result{Cloud: p.accumulator.Snapshot(), CapturedAt: latest.CapturedAt})
				}
			}
		}
		prev = latest
		if !goutils.SelectContextOrWait(ctx, p.conf.PollInterval) {
			return
		}
	}
}

// intrinsicsFor lazily estimates the heuristic intrinsics from the
// first frame seen; the estimate is kept for the pipeline lifetime.
func (p *Pipeline) intrinsicsFor(f camera.Frame) *epipolar.Intrinsics {
	p.intrMu.Lock()
	defer p.intrMu.Unlock()
	if p.intrinsics == nil {
		p.intrinsics = epipolar.EstimateIntrinsicsFromImage(f.Image)
		p.logger.Infow("estimated camera intrinsics",
			"width", p.intrinsics.Width, "height", p.intrinsics.Height, "focal", p.intrinsics.Fx)
	}
	return p.intrinsics
}

// PromoteKeyframe retains the most recent live frame for batch
// reconstruction.
func (p *Pipeline) PromoteKeyframe() error {
	latest := p.store.Latest()
	if latest.Empty() {
		return ErrNoFrame
	}
	p.store.Promote(latest)
	p.logger.Debugw("keyframe promoted", "total", p.store.NumKeyframes())
	return nil
}

// NumKeyframes returns the number of retained keyframes.
func (p *Pipeline) NumKeyframes() int {
	return p.store.NumKeyframes()
}

// TriggerBatch starts one batch reconstruction on a worker goroutine.
// It returns ErrBatchInProgress while a previous batch is running and
// ErrInsufficientKeyframes when fewer than two keyframes are retained.
func (p *Pipeline) TriggerBatch(ctx context.Context) error {
	if !p.batchRunning.CompareAndSwap(false, true) {
		return ErrBatchInProgress
	}
	keyframes := p.store.Keyframes()
	if len(keyframes) < 2 {
		p.batchRunning.Store(false)
		return ErrInsufficientKeyframes
	}
	intr := p.intrinsicsFor(keyframes[0])
	p.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		if _, err := p.batch.Run(ctx, keyframes, intr, p.sink); err != nil {
			p.logger.Warnw("batch reconstruction failed", "error", err)
		}
	}, func() {
		p.batchRunning.Store(false)
		p.activeBackgroundWorkers.Done()
	})
	return nil
}

// Snapshot returns a copy of the accumulated cloud.
func (p *Pipeline) Snapshot() pointcloud.PointCloud {
	return p.accumulator.Snapshot()
}

// Stop shuts down the tracking loop and the frame source, waiting for
// background workers, including an in-flight batch, to finish.
func (p *Pipeline) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	err := p.frames.Stop()
	p.activeBackgroundWorkers.Wait()
	p.running.Store(false)
	return err
}
