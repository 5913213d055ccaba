package model

import "time"

// Tick is a single price update for one symbol, as delivered by a push feed
// (websocket or replay) to an incremental pipeline.
type Tick struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`
	Close  float64   `json:"close"`
}

// Point returns the tick as a PricePoint.
func (t Tick) Point() PricePoint {
	return PricePoint{TS: t.TS, Close: t.Close}
}
