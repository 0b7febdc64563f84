package sdo

import (
	"time"

	"github.com/samsamfire/gosdo/internal/clock"
)

// transferTimer is the single timer owned by an open transfer.
// Every arm or stop bumps the generation so that a callback already
// scheduled by an older arm is recognized as stale and ignored.
type transferTimer struct {
	clock      clock.Clock
	timer      clock.Timer
	generation uint64
	fire       func(generation uint64)
}

func newTransferTimer(clk clock.Clock, fire func(generation uint64)) *transferTimer {
	return &transferTimer{clock: clk, fire: fire}
}

func (t *transferTimer) arm(d time.Duration) {
	t.stop()
	generation := t.generation
	t.timer = t.clock.AfterFunc(d, func() { t.fire(generation) })
}

func (t *transferTimer) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.generation++
}

// current must be called with the engine lock held
func (t *transferTimer) current(generation uint64) bool {
	return t.timer != nil && generation == t.generation
}
