package domain

import "time"

// Candle is an OHLCV bar over a fixed interval. While a candle is open it
// is owned exclusively by the aggregator; once closed it is immutable.
type Candle struct {
	Instrument    string
	Interval      time.Duration
	IntervalStart time.Time
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        int64
	TickCount     int
}
