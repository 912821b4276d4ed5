package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RuleKpiDaily struct {
	ID       uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	Day      time.Time `gorm:"type:date;not null;uniqueIndex:idx_rule_kpi_day" json:"day"`
	RuleType string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_rule_kpi_day" json:"rule_type"`

	Signals   int `gorm:"not null;default:0" json:"signals"`
	P1Signals int `gorm:"not null;default:0" json:"p1_signals"`

	AvgGap     decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0" json:"avg_gap"`
	EstEdgeBps decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"est_edge_bps"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (RuleKpiDaily) TableName() string {
	return "rule_kpi_daily"
}
