package recon

import (
	"sync"

	"github.com/viam-labs/monofusion/camera"
)

// DefaultWindowCapacity bounds the rolling window of recent live
// frames a keyframe can be promoted from.
const DefaultWindowCapacity = 30

// frameStore keeps a fixed-capacity ring of recent frames plus the
// keyframes promoted from it, in insertion order.
type frameStore struct {
	mu        sync.Mutex
	window    []camera.Frame
	head      int
	count     int
	keyframes []camera.Frame
}

func newFrameStore(windowCapacity int) *frameStore {
	return &frameStore{window: make([]camera.Frame, windowCapacity)}
}

// Observe adds a frame to the rolling window, evicting the oldest
// when full.
func (s *frameStore) Observe(f camera.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window[s.head] = f
	s.head = (s.head + 1) % len(s.window)
	if s.count < len(s.window) {
		s.count++
	}
}

// Latest returns the most recently observed frame, or an empty frame.
func (s *frameStore) Latest() camera.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return camera.Frame{}
	}
	return s.window[(s.head-1+len(s.window))%len(s.window)]
}

// WindowLen returns the number of frames currently in the window.
func (s *frameStore) WindowLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Promote retains the given frame for batch reconstruction.
func (s *frameStore) Promote(f camera.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyframes = append(s.keyframes, f)
}

// Keyframes returns a copy of the retained keyframes in insertion
// order.
func (s *frameStore) Keyframes() []camera.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]camera.Frame, len(s.keyframes))
	copy(out, s.keyframes)
	return out
}

// NumKeyframes returns the number of retained keyframes.
func (s *frameStore) NumKeyframes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keyframes)
}
