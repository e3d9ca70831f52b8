package camera

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"
)

const (
	// DefaultBufferCapacity is the number of frames kept before the
	// oldest is evicted.
	DefaultBufferCapacity = 10
	// DefaultRetryInterval is how long the capture loop sleeps after a
	// failed read before retrying.
	DefaultRetryInterval = 100 * time.Millisecond

	stopJoinTimeout = 2 * time.Second
)

// FrameSource runs a capture loop over a Source on its own goroutine
// and keeps the most recent frames in a fixed-capacity ring buffer.
type FrameSource struct {
	src           Source
	logger        golog.Logger
	clk           clock.Clock
	retryInterval time.Duration

	mu    sync.Mutex
	buf   []Frame
	head  int
	count int

	running                 atomic.Bool
	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
	closeSourceOnce         sync.Once
	closeErr                error
}

// FrameSourceOption configures a FrameSource.
type FrameSourceOption func(*FrameSource)

// WithClock injects the clock used for retry timing.
func WithClock(clk clock.Clock) FrameSourceOption {
	return func(fs *FrameSource) {
		fs.clk = clk
	}
}

// WithBufferCapacity sets the ring buffer capacity.
func WithBufferCapacity(n int) FrameSourceOption {
	return func(fs *FrameSource) {
		fs.buf = make([]Frame, n)
	}
}

// NewFrameSource wraps a Source. The capture loop does not run until
// Start is called.
func NewFrameSource(src Source, logger golog.Logger, opts ...FrameSourceOption) *FrameSource {
	fs := &FrameSource{
		src:           src,
		logger:        logger,
		clk:           clock.New(),
		retryInterval: DefaultRetryInterval,
		buf:           make([]Frame, DefaultBufferCapacity),
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// Start launches the capture loop. Calling it while already running
// is a no-op.
func (fs *FrameSource) Start(ctx context.Context) {
	if !fs.running.CompareAndSwap(false, true) {
		fs.logger.Info("capture loop already running")
		return
	}
	var cancelCtx context.Context
	cancelCtx, fs.cancel = context.WithCancel(ctx)
	fs.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		fs.captureLoop(cancelCtx)
	}, fs.activeBackgroundWorkers.Done)
}

func (fs *FrameSource) captureLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		img, err := fs.src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fs.logger.Debugw("frame read failed, retrying", "error", err)
			if !fs.waitRetry(ctx) {
				return
			}
			continue
		}
		fs.push(Frame{Image: img, CapturedAt: fs.clk.Now()})
	}
}

// waitRetry sleeps for the retry interval on the injected clock;
// it returns false when the context is done.
func (fs *FrameSource) waitRetry(ctx context.Context) bool {
	timer := fs.clk.Timer(fs.retryInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// push adds a frame, evicting the oldest when the buffer is full.
func (fs *FrameSource) push(f Frame) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.buf[fs.head] = f
	fs.head = (fs.head + 1) % len(fs.buf)
	if fs.count < len(fs.buf) {
		fs.count++
	}
}

// Len returns the number of frames currently buffered.
func (fs *FrameSource) Len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.count
}

// LatestFrame returns a copy of the most recently captured frame, or
// an empty frame if nothing has been captured yet. It never blocks
// waiting for a new frame.
func (fs *FrameSource) LatestFrame() Frame {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.count == 0 {
		return Frame{}
	}
	last := fs.buf[(fs.head-1+len(fs.buf))%len(fs.buf)]
	return Frame{
		Image:      imaging.Clone(last.Image),
		CapturedAt: last.CapturedAt,
	}
}

// Stop signals the capture loop to exit, joins it with a bounded
// timeout, and releases the device. It is safe to call multiple times
// and without a prior Start.
func (fs *FrameSource) Stop() error {
	if fs.cancel != nil {
		fs.cancel()
	}
	done := make(chan struct{})
	go func() {
		fs.activeBackgroundWorkers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		fs.logger.Warnw("capture loop did not stop in time", "timeout", stopJoinTimeout)
	}
	fs.running.Store(false)
	fs.closeSourceOnce.Do(func() {
		fs.closeErr = fs.src.Close()
	})
	return fs.closeErr
}
