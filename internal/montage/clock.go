package montage

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidRate is returned for rates that are not finite and positive.
var ErrInvalidRate = errors.New("playback rate must be a positive number")

// Clock is the montage's virtual clock: one shared timestamp that advances at
// wall-clock speed times the playback rate while playing.
//
// Tick measures elapsed wall time from a reference instant. The reference is
// cleared whenever the clock pauses and re-armed by the first tick after it
// resumes, so time spent paused never turns into advance.
type Clock struct {
	now    time.Time
	start  time.Time
	end    time.Time
	seeded bool
	rate   float64
	paused bool
	ref    time.Time
}

// NewClock returns a paused, unseeded clock at rate 1.
func NewClock() *Clock {
	return &Clock{rate: 1, paused: true}
}

// Seed loads a new range: the timestamp moves to start and the clock pauses.
// A zero end means the range is open.
func (c *Clock) Seed(start, end time.Time) {
	c.now = start
	c.start = start
	c.end = end
	c.seeded = true
	c.pause()
}

// Scrub assigns the timestamp directly.
func (c *Clock) Scrub(t time.Time) {
	c.now = t
	c.stopAtEnd()
}

// Tick advances the clock to wall-clock instant wall. It reports whether the
// timestamp moved.
func (c *Clock) Tick(wall time.Time) bool {
	if c.paused || !c.seeded {
		c.ref = time.Time{}
		return false
	}
	if c.ref.IsZero() {
		c.ref = wall
		return false
	}

	delta := wall.Sub(c.ref)
	c.ref = wall
	if delta <= 0 {
		return false
	}

	c.now = c.now.Add(time.Duration(float64(delta) * c.rate))
	c.stopAtEnd()
	return true
}

// SetRate changes the playback multiplier.
func (c *Clock) SetRate(rate float64) error {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return ErrInvalidRate
	}
	c.rate = rate
	return nil
}

// Pause freezes the timestamp.
func (c *Clock) Pause() {
	c.pause()
}

// Resume lets ticks advance the timestamp again. A clock already at the end
// of its range stays paused.
func (c *Clock) Resume() {
	c.paused = false
	c.stopAtEnd()
}

// Now returns the virtual timestamp. It is the zero time until seeded.
func (c *Clock) Now() time.Time { return c.now }

// Range returns the seeded range.
func (c *Clock) Range() (start, end time.Time) { return c.start, c.end }

// Seeded reports whether a range has been loaded.
func (c *Clock) Seeded() bool { return c.seeded }

// Rate returns the playback multiplier.
func (c *Clock) Rate() float64 { return c.rate }

// Paused reports whether the clock is frozen.
func (c *Clock) Paused() bool { return c.paused }

func (c *Clock) pause() {
	c.paused = true
	c.ref = time.Time{}
}

// stopAtEnd pauses once the timestamp reaches or passes the range end.
func (c *Clock) stopAtEnd() {
	if c.paused || c.end.IsZero() {
		return
	}
	if !c.now.Before(c.end) {
		c.pause()
	}
}
