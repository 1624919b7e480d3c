package domain

import "time"

// EventType identifies an outbound notification event.
type EventType string

const (
	EventEntered         EventType = "Entered"
	EventPartialExit     EventType = "PartialExit"
	EventTrailingStopHit EventType = "TrailingStopHit"
	EventStoppedOut      EventType = "StoppedOut"
	// EventOrderFailed and EventSignalRejected carry failures that did not
	// change position state; Reason explains why.
	EventOrderFailed    EventType = "OrderFailed"
	EventSignalRejected EventType = "SignalRejected"
)

// Event is the message handed to the notification collaborator. The
// collaborator formats and delivers it; the core emits each transition,
// rejection and order failure exactly once.
type Event struct {
	Type         EventType
	Instrument   string
	Price        float64
	Quantity     int64
	RealizedRate *float64 // nil for entries and rejections
	Reason       string   // set for failures and rejections
	At           time.Time
}
