package models

import "time"

// Tick is one time-stamped price/book observation for an option. Rows are
// append-only; the ingest pipeline suppresses unchanged duplicates before
// they reach the table.
type Tick struct {
	TS       time.Time `gorm:"primaryKey;type:timestamptz;index:idx_tick_market_ts,sort:desc,priority:2" json:"ts"`
	MarketID string    `gorm:"primaryKey;type:text;index:idx_tick_market_ts,priority:1" json:"market_id"`
	OptionID string    `gorm:"primaryKey;type:text" json:"option_id"`

	Price     float64  `gorm:"not null" json:"price"`
	Volume    *float64 `json:"volume,omitempty"`
	BestBid   *float64 `json:"best_bid,omitempty"`
	BestAsk   *float64 `json:"best_ask,omitempty"`
	Liquidity *float64 `json:"liquidity,omitempty"`
}

func (Tick) TableName() string {
	return "tick"
}
