package broker

import "fmt"

// FailureCode classifies an order failure.
type FailureCode string

const (
	FailInsufficientFunds  FailureCode = "InsufficientFunds"
	FailMarketClosed       FailureCode = "MarketClosed"
	FailInstrumentRejected FailureCode = "InstrumentRejected"
	FailRateLimited        FailureCode = "RateLimited"
	FailUnknown            FailureCode = "Unknown"
)

// OrderError is a typed order failure. Only RateLimited is retried;
// retrying any other failure blindly risks duplicate execution.
type OrderError struct {
	Code      FailureCode
	VenueCode string // venue msg_cd, when the venue answered
	Msg       string
}

func (e *OrderError) Error() string {
	if e.VenueCode != "" {
		return fmt.Sprintf("order failed: %s (%s: %s)", e.Code, e.VenueCode, e.Msg)
	}
	return fmt.Sprintf("order failed: %s: %s", e.Code, e.Msg)
}

// Retryable reports whether the failure may be retried with backoff.
func (e *OrderError) Retryable() bool {
	return e.Code == FailRateLimited
}

// venueFailureCodes maps known venue msg_cd values onto the failure
// taxonomy. Unmapped codes classify as Unknown and are surfaced, not
// retried.
var venueFailureCodes = map[string]FailureCode{
	"EGW00201": FailRateLimited,       // gateway request rate exceeded
	"APBK0919": FailMarketClosed,      // outside trading hours
	"APBK0952": FailInsufficientFunds, // order amount exceeds buying power
	"APBK0656": FailInstrumentRejected, // unknown or suspended instrument
}

func classifyVenueCode(msgCode string) FailureCode {
	if code, ok := venueFailureCodes[msgCode]; ok {
		return code
	}
	return FailUnknown
}
