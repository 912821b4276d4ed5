package models

import "time"

// Option is a purchasable outcome within a market. For real venues the
// option_id equals the upstream CLOB token id.
type Option struct {
	OptionID string `gorm:"primaryKey;type:text" json:"option_id"`
	MarketID string `gorm:"type:text;index;not null" json:"market_id"`
	Label    string `gorm:"type:text;not null" json:"label"`

	LastSeenAt time.Time `gorm:"type:timestamptz;not null" json:"last_seen_at"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
}

func (Option) TableName() string {
	return "market_option"
}
