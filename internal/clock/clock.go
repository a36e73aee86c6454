// Package clock supplies the current time to services so tests can pin it.
package clock

import "time"

// Source reports the current instant.
type Source interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

// Now returns time.Now.
func (System) Now() time.Time {
	return time.Now()
}

// Func adapts a plain function to Source.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time {
	if f == nil {
		return time.Now()
	}
	return f()
}

// OrSystem returns src, or System when src is nil.
func OrSystem(src Source) Source {
	if src == nil {
		return System{}
	}
	return src
}
