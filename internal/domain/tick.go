package domain

import "time"

// Tick is a single observed trade for an instrument, produced by the
// stream decoder. Ticks are immutable once emitted.
type Tick struct {
	Instrument string    // venue instrument code, e.g. "005930"
	Price      float64   // traded price in KRW
	Size       int64     // traded quantity
	EventTime  time.Time // venue execution time
}
