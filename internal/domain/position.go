package domain

import "time"

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	StatusActive          PositionStatus = "Active"
	StatusPartiallyExited PositionStatus = "PartiallyExited"
	StatusClosed          PositionStatus = "Closed"
)

// PositionSide is the direction of a position. Only long is traded.
type PositionSide string

const SideLong PositionSide = "long"

// Position is the authoritative record of one entry and its exits.
// Invariants:
//   - RemainingQty <= EntryQty
//   - RemainingQty == 0 exactly when Status == StatusClosed
//   - TrailingStopPrice is set only after the partial exit and never
//     moves down while the position is open
//
// Closed positions are retained for audit, never deleted.
type Position struct {
	ID                string
	Instrument        string
	Side              PositionSide
	EntryPrice        float64
	EntryQty          int64
	RemainingQty      int64
	Status            PositionStatus
	PeakPrice         float64
	TrailingStopPrice float64
	OpenedAt          time.Time
	ClosedAt          *time.Time
}

// Open reports whether the position still holds quantity.
func (p *Position) Open() bool {
	return p != nil && p.Status != StatusClosed
}

// RealizedRate returns the return rate of an exit at price relative to entry.
func (p *Position) RealizedRate(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice
}
