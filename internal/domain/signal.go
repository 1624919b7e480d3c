package domain

import "time"

// Market segments an instrument trades in.
const (
	MarketDomestic = "domestic"
	MarketOverseas = "overseas"
)

// SignalActionBuy is the only inbound action the system acts on.
const SignalActionBuy = "BUY"

// Signal is a validated inbound trade signal from the charting collaborator.
// Unknown payload fields are discarded upstream.
type Signal struct {
	Action     string
	Instrument string
	Market     string // "domestic" (default) or "overseas"
	Exchange   string // optional, overseas only
	ReceivedAt time.Time
}

// SignalRecord is the audit row kept for every accepted signal, used to
// suppress duplicate buys while a position is open.
type SignalRecord struct {
	InstrumentKey string
	StrategyTag   string
	ReceivedAt    time.Time
	DedupKey      string
}

// Signal rejection reasons.
const (
	RejectDuplicatePosition = "DuplicatePosition"
	RejectMalformed         = "Malformed"
	RejectTradingDisabled   = "TradingDisabled"
)
