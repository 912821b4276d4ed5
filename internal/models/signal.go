package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	LevelP1 = "P1"
	LevelP2 = "P2"
	LevelP3 = "P3"
)

// Signal is one emitted opportunity. Consumers rank by EdgeScore; Score is
// the weighted composite retained for back-compat.
type Signal struct {
	SignalID uint64  `gorm:"primaryKey;autoIncrement" json:"signal_id"`
	MarketID string  `gorm:"type:text;not null;index" json:"market_id"`
	OptionID *string `gorm:"type:text" json:"option_id,omitempty"`
	RuleID   uint64  `gorm:"not null;index" json:"rule_id"`

	Level     string  `gorm:"type:varchar(5);not null;index" json:"level"`
	Score     float64 `gorm:"not null" json:"score"`
	EdgeScore float64 `gorm:"not null;index" json:"edge_score"`
	Reason    string  `gorm:"type:text" json:"reason"`

	Payload datatypes.JSON `gorm:"type:jsonb" json:"payload"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
}

func (Signal) TableName() string {
	return "signal"
}
