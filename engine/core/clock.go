package core

import "time"

type Clock struct {
	start   time.Time
	elapsed time.Duration
}

func NewClock() *Clock {
	return &Clock{}
}

// Update refreshes the elapsed time. Has no effect on stopped clocks.
func (c *Clock) Update() {
	if !c.start.IsZero() {
		c.elapsed = time.Since(c.start)
	}
}

// Start resets the elapsed time and starts counting.
func (c *Clock) Start() {
	c.start = time.Now()
	c.elapsed = 0
}

// Stop freezes the clock. Does not reset elapsed time.
func (c *Clock) Stop() {
	c.Update()
	c.start = time.Time{}
}

func (c *Clock) Running() bool {
	return !c.start.IsZero()
}

// Elapsed returns the elapsed time in seconds as of the last Update.
func (c *Clock) Elapsed() float64 {
	return c.elapsed.Seconds()
}
