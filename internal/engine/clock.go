package engine

import "time"

// Clock abstracts "now" so eligibility math and quiet-hours decisions are
// deterministic under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by the wall clock.
func SystemClock() Clock { return systemClock{} }

// FixedClock always reports the same instant. Test helper.
type FixedClock struct {
	T time.Time
}

func (f FixedClock) Now() time.Time { return f.T }
