package calibration

import "sync"

// Latch publishes a frame exactly once to any number of readers. It lets arm loops use the
// frame calibrated by the head loop without sharing any mutable state.
type Latch struct {
	once  sync.Once
	done  chan struct{}
	frame Frame
}

// NewLatch returns an unpublished latch.
func NewLatch() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Publish stores frame if nothing was published yet and reports whether it did.
func (l *Latch) Publish(frame Frame) bool {
	published := false
	l.once.Do(func() {
		l.frame = frame
		published = true
		close(l.done)
	})
	return published
}

// Done is closed once a frame is published.
func (l *Latch) Done() <-chan struct{} {
	return l.done
}

// Frame returns the published frame or ErrNotReady.
func (l *Latch) Frame() (Frame, error) {
	select {
	case <-l.done:
		return l.frame, nil
	default:
		return Frame{}, ErrNotReady
	}
}
