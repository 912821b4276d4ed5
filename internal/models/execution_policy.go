package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ExecModeManual   = "manual"
	ExecModeSemiAuto = "semi_auto"
	ExecModeAuto     = "auto"
)

// ExecutionPolicy holds the per-run risk parameters the intent gauntlet
// enforces. Money-like values are numeric to avoid binary float comparisons.
type ExecutionPolicy struct {
	PolicyID uint64 `gorm:"primaryKey;autoIncrement" json:"policy_id"`
	Name     string `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Mode     string `gorm:"type:varchar(20);not null;default:'semi_auto'" json:"mode"`

	MaxNotionalPerOrder decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"max_notional_per_order"`
	MaxConcurrentOrders int             `gorm:"not null" json:"max_concurrent_orders"`
	MaxDailyNotional    decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"max_daily_notional"`
	SlippageBps         int             `gorm:"not null" json:"slippage_bps"`

	Enabled   bool      `gorm:"not null;default:true;index" json:"enabled"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (ExecutionPolicy) TableName() string {
	return "execution_policy"
}
