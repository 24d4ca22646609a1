package event

import (
	"sync"
)

// TickEvent pool. One TickEvent is produced every tick with one
// PriceUpdate per asset; pooling keeps the update slice out of the GC's
// hands for the life of the session.
//
// Usage:
//
//	ev := AcquireTickEvent()
//	ev.Tick = tick
//	ev.Updates = append(ev.Updates, ...)
//	// ... dispatch to handlers ...
//	ReleaseTickEvent(ev) // after every handler returned
var tickPool = sync.Pool{
	New: func() interface{} {
		return &TickEvent{Updates: make([]PriceUpdate, 0, 32)}
	},
}

// AcquireTickEvent gets a TickEvent from the pool.
// The returned event has zero tick and an empty (but allocated) slice.
func AcquireTickEvent() *TickEvent {
	return tickPool.Get().(*TickEvent)
}

// ReleaseTickEvent returns a TickEvent to the pool.
// The update slice is truncated but its capacity is kept.
func ReleaseTickEvent(ev *TickEvent) {
	if ev == nil {
		return
	}
	ev.Tick = 0
	ev.Updates = ev.Updates[:0]
	tickPool.Put(ev)
}
