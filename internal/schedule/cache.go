package schedule

import (
	"sync/atomic"

	"muezzin/internal/model"
)

// Snapshot pairs a schedule with the generation at which it was installed.
type Snapshot struct {
	Schedule   *model.Schedule
	Generation uint64
}

// Cache holds the active schedule. Replacement swaps a single pointer, so
// readers on other goroutines see either the old or the new schedule,
// never a mix.
type Cache struct {
	cur atomic.Pointer[Snapshot]
}

// Load returns the current snapshot. Before the first Replace it returns a
// zero Snapshot with a nil schedule.
func (c *Cache) Load() Snapshot {
	if p := c.cur.Load(); p != nil {
		return *p
	}
	return Snapshot{}
}

// Schedule is shorthand for Load().Schedule.
func (c *Cache) Schedule() *model.Schedule {
	return c.Load().Schedule
}

// Generation is shorthand for Load().Generation.
func (c *Cache) Generation() uint64 {
	return c.Load().Generation
}

// Replace installs s and returns the new generation. Only one goroutine
// (the engine loop) calls Replace.
func (c *Cache) Replace(s *model.Schedule) uint64 {
	next := &Snapshot{Schedule: s, Generation: c.Generation() + 1}
	c.cur.Store(next)
	return next.Generation
}
