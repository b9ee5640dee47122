package bridge

import "time"

// flusher decides when buffered input audio should be committed upstream. Two
// triggers exist: a frame-count batch boundary and an inactivity timeout. The
// bridge's event loop owns the flusher; it is not safe for concurrent use.
type flusher struct {
	batchSize  int
	inactivity time.Duration

	pending int
	timer   *time.Timer
	armed   bool
}

func newFlusher(batchSize int, inactivity time.Duration) *flusher {
	return &flusher{batchSize: batchSize, inactivity: inactivity}
}

// observe records one arriving frame and restarts the inactivity timer. It
// returns true when the frame lands on a batch boundary, in which case the
// caller commits and the pending counter resets.
func (f *flusher) observe() bool {
	f.pending++
	if f.pending >= f.batchSize {
		f.pending = 0
		f.disarm()
		return true
	}
	f.rearm()
	return false
}

// fire handles an inactivity timer tick. It returns true when frames are
// pending, in which case the caller commits.
func (f *flusher) fire() bool {
	f.armed = false
	if f.pending == 0 {
		return false
	}
	f.pending = 0
	return true
}

// hasPending reports whether uncommitted frames remain. Used on stream end to
// decide on a final commit.
func (f *flusher) hasPending() bool {
	return f.pending > 0
}

// drop discards the pending count without committing.
func (f *flusher) drop() {
	f.pending = 0
	f.disarm()
}

// c returns the timer channel, or nil while the timer is disarmed. A nil
// channel blocks forever in a select, so disarmed means the case never fires.
func (f *flusher) c() <-chan time.Time {
	if !f.armed || f.timer == nil {
		return nil
	}
	return f.timer.C
}

func (f *flusher) rearm() {
	if f.timer == nil {
		f.timer = time.NewTimer(f.inactivity)
		f.armed = true
		return
	}
	f.disarm()
	f.timer.Reset(f.inactivity)
	f.armed = true
}

func (f *flusher) disarm() {
	if f.timer == nil || !f.armed {
		f.armed = false
		return
	}
	if !f.timer.Stop() {
		select {
		case <-f.timer.C:
		default:
		}
	}
	f.armed = false
}

func (f *flusher) stop() {
	f.drop()
}
