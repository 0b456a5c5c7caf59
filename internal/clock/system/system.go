// Package system provides a real clock implementation.
package system

import "time"

// Clock implements catalog.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC. Scrape timestamps are stored and
// compared in UTC throughout.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
