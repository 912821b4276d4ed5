package models

import (
	"time"

	"gorm.io/datatypes"
)

// Rule types form a closed set; the loader rejects documents outside it.
const (
	RuleSumLT1              = "SUM_LT_1"
	RuleSpikeDetect         = "SPIKE_DETECT"
	RuleEndgameSweep        = "ENDGAME_SWEEP"
	RuleSynonymMisprice     = "SYNONYM_MISPRICE"
	RuleDutchBookDetect     = "DUTCH_BOOK_DETECT"
	RuleCrossMarketMisprice = "CROSS_MARKET_MISPRICE"
	RuleTrendBreakout       = "TREND_BREAKOUT"
)

type RuleDef struct {
	RuleID  uint64 `gorm:"primaryKey;autoIncrement" json:"rule_id"`
	Name    string `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Type    string `gorm:"type:varchar(50);not null;index" json:"type"`
	Enabled bool   `gorm:"not null;default:true;index" json:"enabled"`

	Params  datatypes.JSON `gorm:"type:jsonb;not null" json:"params"`
	RawYAML string         `gorm:"type:text" json:"-"`
	Version int            `gorm:"not null;default:1" json:"version"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (RuleDef) TableName() string {
	return "rule_def"
}
