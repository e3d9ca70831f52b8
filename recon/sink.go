// Package recon orchestrates the live reconstruction pipeline and the
// on-demand keyframe batch reconstruction.
package recon

import (
	"time"

	"github.com/viam-labs/monofusion/mesh"
	"github.com/viam-labs/monofusion/pointcloud"
)

// Result is a reconstruction snapshot pushed to a Sink. Mesh is only
// present after a batch run that produced a dense cloud.
type Result struct {
	Cloud      pointcloud.PointCloud
	Mesh       *mesh.Mesh
	CapturedAt time.Time
}

// Sink receives reconstruction snapshots to render or persist. Publish
// must not block the caller for long; slow consumers should drop.
type Sink interface {
	Publish(res Result)
}

// ChannelSink is a Sink backed by a bounded channel. When the channel
// is full the oldest pending result is dropped so the pipeline never
// blocks on a slow consumer.
type ChannelSink struct {
	ch chan Result
}

// NewChannelSink returns a ChannelSink holding at most size pending
// results.
func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{ch: make(chan Result, size)}
}

// Publish pushes a result, evicting the oldest pending one if needed.
func (s *ChannelSink) Publish(res Result) {
	for {
		select {
		case s.ch <- res:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Results returns the channel consumers receive from.
func (s *ChannelSink) Results() <-chan Result {
	return s.ch
}
