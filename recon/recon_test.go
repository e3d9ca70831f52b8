package recon

import (
	"context"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/goleak"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-labs/monofusion/camera"
	"github.com/viam-labs/monofusion/epipolar"
	"github.com/viam-labs/monofusion/pointcloud"
)

// patternImage draws a set of white rectangles on black, offset
// horizontally by shift, so FAST finds corners that match across
// shifted copies.
func patternImage(shift int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 320, 240))
	rects := [][4]int{
		{30, 30, 70, 70},
		{120, 50, 165, 95},
		{210, 140, 255, 185},
		{55, 150, 100, 195},
		{150, 95, 195, 135},
		{240, 40, 280, 75},
	}
	for _, r := range rects {
		for y := r[1]; y < r[3]; y++ {
			for x := r[0] + shift; x < r[2]+shift; x++ {
				if x >= 0 && x < 320 {
					img.Set(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
				}
			}
		}
	}
	return img
}

func patternFrames(n int) []camera.Frame {
	frames := make([]camera.Frame, n)
	for i := range frames {
		frames[i] = camera.Frame{
			Image:      patternImage(i * 6),
			CapturedAt: time.Unix(int64(i), 0),
		}
	}
	return frames
}

// twoDepthImage renders two horizontal bands of blocky pseudo-random
// texture shifted by different amounts, the parallax of a scene at
// two depths seen by a sideways-moving camera. The texture gives the
// detector distinctive corners at every block junction.
func twoDepthImage(nearShift, farShift int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		shift := nearShift
		if y >= 120 {
			shift = farShift
		}
		for x := 0; x < 320; x++ {
			i, j := (x-shift)/8, y/8
			v := uint8((i*7919 + j*104729 + i*j*31) % 256)
			img.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func twoDepthFrames() (camera.Frame, camera.Frame) {
	return camera.Frame{Image: twoDepthImage(0, 0), CapturedAt: time.Unix(0, 0)},
		camera.Frame{Image: twoDepthImage(9, 4), CapturedAt: time.Unix(1, 0)}
}

func TestFrameStoreWindow(t *testing.T) {
	store := newFrameStore(3)
	test.That(t, store.Latest().Empty(), test.ShouldBeTrue)

	frames := patternFrames(5)
	for i, f := range frames {
		store.Observe(f)
		test.That(t, store.WindowLen(), test.ShouldBeLessThanOrEqualTo, 3)
		test.That(t, store.Latest().CapturedAt.Unix(), test.ShouldEqual, int64(i))
	}
	test.That(t, store.WindowLen(), test.ShouldEqual, 3)

	test.That(t, store.NumKeyframes(), test.ShouldEqual, 0)
	store.Promote(store.Latest())
	store.Promote(store.Latest())
	test.That(t, store.NumKeyframes(), test.ShouldEqual, 2)
	kf := store.Keyframes()
	test.That(t, len(kf), test.ShouldEqual, 2)
	// the returned slice is a copy
	kf[0] = camera.Frame{}
	test.That(t, store.Keyframes()[0].Empty(), test.ShouldBeFalse)
}

func TestChannelSinkLossy(t *testing.T) {
	sink := NewChannelSink(2)
	for i := 0; i < 5; i++ {
		sink.Publish(Result{CapturedAt: time.Unix(int64(i), 0)})
	}
	// the two most recent results survive
	first := <-sink.Results()
	second := <-sink.Results()
	test.That(t, first.CapturedAt.Unix(), test.ShouldEqual, int64(3))
	test.That(t, second.CapturedAt.Unix(), test.ShouldEqual, int64(4))
}

func TestTrackerMatchesShiftedPattern(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tracker := NewFeatureTracker(42, logger)
	frames := patternFrames(2)

	fsA, err := tracker.Extract(frames[0].Image)
	test.That(t, err, test.ShouldBeNil)
	fsB, err := tracker.Extract(frames[1].Image)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(fsA.Keypoints), test.ShouldBeGreaterThan, 8)
	test.That(t, len(fsB.Keypoints), test.ShouldBeGreaterThan, 8)

	matches := tracker.Match(fsA, fsB)
	test.That(t, len(matches), test.ShouldBeGreaterThan, 0)

	pts1, pts2, err := MatchedPoints(matches, fsA, fsB)
	test.That(t, err, test.ShouldBeNil)
	// matched keypoints moved right by the pattern shift
	rightward := 0
	for i := range pts1 {
		if pts2[i].X > pts1[i].X {
			rightward++
		}
	}
	test.That(t, rightward, test.ShouldBeGreaterThan, len(pts1)/2)
}

func TestEstimatePoseOnShiftedPattern(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tracker := NewFeatureTracker(42, logger)
	frameA, frameB := twoDepthFrames()

	fsA, err := tracker.Extract(frameA.Image)
	test.That(t, err, test.ShouldBeNil)
	fsB, err := tracker.Extract(frameB.Image)
	test.That(t, err, test.ShouldBeNil)
	matches := tracker.Match(fsA, fsB)
	pts1, pts2, err := MatchedPoints(matches, fsA, fsB)
	test.That(t, err, test.ShouldBeNil)
	pts1, pts2 = dedupeCorrespondences(pts1, pts2)
	test.That(t, len(pts1), test.ShouldBeGreaterThan, epipolar.MinCorrespondences)

	intr := epipolar.EstimateIntrinsicsFromImage(frameA.Image)
	pose, err := tracker.EstimatePose(pts1, pts2, intr)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose, test.ShouldNotBeNil)
	test.That(t, mat.Det(pose.Rotation), test.ShouldAlmostEqual, 1, 1e-6)
	// the camera only translated, so the rotation is near identity
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			expected := 0.
			if i == j {
				expected = 1.
			}
			test.That(t, pose.Rotation.At(i, j), test.ShouldAlmostEqual, expected, 2e-2)
		}
	}
	// features moved right, so the camera moved the other way and the
	// translation points in +x
	tx := pose.Translation.At(0, 0)
	test.That(t, tx, test.ShouldBeGreaterThan, 0)
	test.That(t, math.Abs(tx), test.ShouldBeGreaterThan, math.Abs(pose.Translation.At(1, 0)))
	test.That(t, math.Abs(tx), test.ShouldBeGreaterThan, math.Abs(pose.Translation.At(2, 0)))

	// fewer than 8 correspondences never yields an estimate
	pose, err = tracker.EstimatePose(pts1[:5], pts2[:5], intr)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose, test.ShouldBeNil)
}

func TestTrackerConcurrentPoseEstimates(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tracker := NewFeatureTracker(42, logger)
	frameA, frameB := twoDepthFrames()

	fsA, err := tracker.Extract(frameA.Image)
	test.That(t, err, test.ShouldBeNil)
	fsB, err := tracker.Extract(frameB.Image)
	test.That(t, err, test.ShouldBeNil)
	pts1, pts2, err := MatchedPoints(tracker.Match(fsA, fsB), fsA, fsB)
	test.That(t, err, test.ShouldBeNil)
	pts1, pts2 = dedupeCorrespondences(pts1, pts2)
	intr := epipolar.EstimateIntrinsicsFromImage(frameA.Image)

	// one tracker shared by several estimating goroutines, the way the
	// live loop and a batch worker can overlap
	var wg sync.WaitGroup
	errCh := make(chan error, 6)
	for g := 0; g < 3; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2; i++ {
				if _, err := tracker.EstimatePose(pts1, pts2, intr); err != nil {
					errCh <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		test.That(t, err, test.ShouldBeNil)
	}
}

func TestDedupeCorrespondences(t *testing.T) {
	pts1 := []r2.Point{{X: 1, Y: 2}, {X: 3, Y: 4}, {X: 1, Y: 2}, {X: 1, Y: 2}, {X: 5, Y: 6}}
	pts2 := []r2.Point{{X: 7, Y: 8}, {X: 9, Y: 10}, {X: 7, Y: 8}, {X: 11, Y: 12}, {X: 13, Y: 14}}
	out1, out2 := dedupeCorrespondences(pts1, pts2)
	// the repeated (1,2)->(7,8) pair collapses; (1,2)->(11,12) is a
	// distinct pair and survives
	test.That(t, len(out1), test.ShouldEqual, 4)
	test.That(t, len(out2), test.ShouldEqual, 4)
	test.That(t, out1[2], test.ShouldResemble, r2.Point{X: 1, Y: 2})
	test.That(t, out2[2], test.ShouldResemble, r2.Point{X: 11, Y: 12})
	test.That(t, out1[3], test.ShouldResemble, r2.Point{X: 5, Y: 6})
}

func TestTriangulatePairDistinctPoints(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tr := NewTriangulator(NewFeatureTracker(7, logger), logger)
	frameA, frameB := twoDepthFrames()
	intr := epipolar.EstimateIntrinsicsFromImage(frameA.Image)

	points, colors, err := tr.TriangulatePair(frameA, frameB, intr, BatchMatchSelector)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(points), test.ShouldBeGreaterThan, 0)
	test.That(t, len(colors), test.ShouldEqual, len(points))

	// every produced point is unique, so a position-keyed cloud keeps
	// them all
	seen := make(map[r3.Vector]struct{}, len(points))
	for _, pt := range points {
		_, dup := seen[pt]
		test.That(t, dup, test.ShouldBeFalse)
		seen[pt] = struct{}{}
	}
	acc := pointcloud.NewAccumulator(pointcloud.AccumulatorConfig{DownsampleThreshold: 1 << 30, VoxelSize: 0.05}, logger)
	test.That(t, acc.Merge(points, colors), test.ShouldBeNil)
	test.That(t, acc.Size(), test.ShouldEqual, len(points))
}

func TestBatchInsufficientKeyframes(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tracker := NewFeatureTracker(1, logger)
	acc := pointcloud.NewAccumulator(pointcloud.DefaultAccumulatorConfig(), logger)
	br := NewBatchReconstructor(NewTriangulator(tracker, logger), acc, DefaultBatchConfig(), logger)
	lookPathCalled := false
	br.lookPath = func(string) (string, error) {
		lookPathCalled = true
		return "", errors.New("not found")
	}

	frames := patternFrames(1)
	_, err := br.Run(context.Background(), frames, epipolar.EstimateIntrinsics(320, 240), nil)
	test.That(t, errors.Is(err, ErrInsufficientKeyframes), test.ShouldBeTrue)
	test.That(t, lookPathCalled, test.ShouldBeFalse)
	test.That(t, acc.Size(), test.ShouldEqual, 0)
}

func TestBatchFallbackDeterministic(t *testing.T) {
	logger := golog.NewTestLogger(t)
	frames := patternFrames(3)
	intr := epipolar.EstimateIntrinsics(320, 240)
	// large threshold so downsampling never alters counts
	accConf := pointcloud.AccumulatorConfig{DownsampleThreshold: 1 << 30, VoxelSize: 0.05}

	// direct pairwise triangulation, same seed and call order as the
	// batch fallback
	directTracker := NewFeatureTracker(7, logger)
	directTriangulator := NewTriangulator(directTracker, logger)
	expected := 0
	for i := 0; i+1 < len(frames); i++ {
		pts, _, err := directTriangulator.TriangulatePair(frames[i], frames[i+1], intr, BatchMatchSelector)
		test.That(t, err, test.ShouldBeNil)
		expected += len(pts)
	}

	batchTracker := NewFeatureTracker(7, logger)
	acc := pointcloud.NewAccumulator(accConf, logger)
	br := NewBatchReconstructor(NewTriangulator(batchTracker, logger), acc, DefaultBatchConfig(), logger)
	br.lookPath = func(string) (string, error) {
		return "", errors.New("forced unavailable")
	}

	sink := NewChannelSink(1)
	res, err := br.Run(context.Background(), frames, intr, sink)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Cloud.Size(), test.ShouldEqual, expected)
	test.That(t, res.Mesh, test.ShouldBeNil)

	published := <-sink.Results()
	test.That(t, published.Cloud.Size(), test.ShouldEqual, expected)
}

func TestBatchStagesFrames(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tracker := NewFeatureTracker(1, logger)
	acc := pointcloud.NewAccumulator(pointcloud.DefaultAccumulatorConfig(), logger)
	br := NewBatchReconstructor(NewTriangulator(tracker, logger), acc, DefaultBatchConfig(), logger)

	// stage into a directory we control to check the naming scheme
	dir := t.TempDir()
	test.That(t, br.stageFrames(dir, patternFrames(2)), test.ShouldBeNil)
	entries, err := os.ReadDir(filepath.Join(dir, "images"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(entries), test.ShouldEqual, 2)
	test.That(t, entries[0].Name(), test.ShouldEqual, "frame_000000.jpg")
	test.That(t, entries[1].Name(), test.ShouldEqual, "frame_000001.jpg")
}

// scriptedSource serves a fixed list of frames then parks until the
// context is cancelled.
type scriptedSource struct {
	mu   sync.Mutex
	imgs []image.Image
	idx  int
}

func (s *scriptedSource) ReadFrame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	if s.idx < len(s.imgs) {
		img := s.imgs[s.idx]
		s.idx++
		s.mu.Unlock()
		return img, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *scriptedSource) Close() error { return nil }

func TestPipelineLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)
	logger := golog.NewTestLogger(t)
	src := &scriptedSource{imgs: []image.Image{patternImage(0), patternImage(6), patternImage(12)}}
	frames := camera.NewFrameSource(src, logger)

	conf := DefaultPipelineConfig()
	conf.PollInterval = time.Millisecond
	sink := NewChannelSink(4)
	p := NewPipeline(frames, sink, conf, logger)

	// the batch worker draws from its own random source, never the
	// live tracker's
	test.That(t, p.batch.triangulator.tracker == p.tracker, test.ShouldBeFalse)

	test.That(t, p.PromoteKeyframe(), test.ShouldEqual, ErrNoFrame)

	p.Start(context.Background())
	p.Start(context.Background()) // no-op

	waitFor(t, func() bool { return !p.store.Latest().Empty() })
	test.That(t, p.PromoteKeyframe(), test.ShouldBeNil)
	test.That(t, p.NumKeyframes(), test.ShouldEqual, 1)

	test.That(t, p.Stop(), test.ShouldBeNil)
	test.That(t, p.Stop(), test.ShouldBeNil)
}

func TestPipelineTriggerBatch(t *testing.T) {
	defer goleak.VerifyNone(t)
	logger := golog.NewTestLogger(t)
	src := &scriptedSource{}
	p := NewPipeline(camera.NewFrameSource(src, logger), NewChannelSink(4), DefaultPipelineConfig(), logger)
	p.batch.lookPath = func(string) (string, error) {
		return "", errors.New("forced unavailable")
	}

	// no keyframes yet
	err := p.TriggerBatch(context.Background())
	test.That(t, errors.Is(err, ErrInsufficientKeyframes), test.ShouldBeTrue)

	for _, f := range patternFrames(2) {
		p.store.Observe(f)
		p.store.Promote(f)
	}

	// a batch marked in flight rejects a second trigger
	p.batchRunning.Store(true)
	err = p.TriggerBatch(context.Background())
	test.That(t, errors.Is(err, ErrBatchInProgress), test.ShouldBeTrue)
	p.batchRunning.Store(false)

	test.That(t, p.TriggerBatch(context.Background()), test.ShouldBeNil)
	p.activeBackgroundWorkers.Wait()
	test.That(t, p.batchRunning.Load(), test.ShouldBeFalse)

	test.That(t, p.Stop(), test.ShouldBeNil)
}

func TestExportResult(t *testing.T) {
	logger := golog.NewTestLogger(t)
	acc := pointcloud.NewAccumulator(pointcloud.DefaultAccumulatorConfig(), logger)
	test.That(t, acc.Merge([]r3.Vector{{X: 1, Y: 2, Z: 3}}, nil), test.ShouldBeNil)

	dir := t.TempDir()
	res := Result{Cloud: acc.Snapshot(), CapturedAt: time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)}
	written, err := ExportResult(res, dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(written), test.ShouldEqual, 2)
	test.That(t, filepath.Base(written[0]), test.ShouldEqual, "cloud_2024-05-01T10_30_00.0000.ply")
	test.That(t, strings.HasSuffix(written[1], ".pcd"), test.ShouldBeTrue)
	for _, fn := range written {
		_, err := os.Stat(fn)
		test.That(t, err, test.ShouldBeNil)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 400; i++ {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
