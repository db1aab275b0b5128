package models

// Quote represents a single market tick for an instrument
type Quote struct {
	Symbol        string  `json:"symbol"`
	Bid           float64 `json:"bid"`
	Ask           float64 `json:"ask"`
	Price         float64 `json:"price"` // mid
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Volume        int64   `json:"volume"`
	Timestamp     int64   `json:"timestamp"` // unix milli
	SeqID         int64   `json:"seq"`       // monotonic counter per symbol
}
