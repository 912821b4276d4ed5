package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	IntentSuggested = "suggested"
	IntentSent      = "sent"
	IntentFilled    = "filled"
	IntentRejected  = "rejected"
	IntentExpired   = "expired"
)

// OrderIntent is an operator-initiated trade proposal. Legal transitions are
// suggested→sent→filled, suggested→rejected and suggested→expired; terminal
// rows are immutable.
type OrderIntent struct {
	IntentID uint64  `gorm:"primaryKey;autoIncrement" json:"intent_id"`
	SignalID uint64  `gorm:"not null;index" json:"signal_id"`
	MarketID string  `gorm:"type:text;not null;index" json:"market_id"`
	OptionID *string `gorm:"type:text" json:"option_id,omitempty"`

	Side       string           `gorm:"type:varchar(10);not null" json:"side"`
	Qty        decimal.Decimal  `gorm:"type:numeric(30,10);not null" json:"qty"`
	LimitPrice *decimal.Decimal `gorm:"type:numeric(20,10)" json:"limit_price,omitempty"`
	// Notional is the plan's Σ qty·reference_price, persisted so the daily
	// cap can be summed in SQL.
	Notional decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"notional"`
	TTLSecs  int             `gorm:"not null;default:60" json:"ttl_secs"`

	Status   string `gorm:"type:varchar(20);not null;default:'suggested';index" json:"status"`
	PolicyID uint64 `gorm:"not null" json:"policy_id"`

	Detail datatypes.JSON `gorm:"type:jsonb" json:"detail"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (OrderIntent) TableName() string {
	return "order_intent"
}

func IntentTerminal(status string) bool {
	switch status {
	case IntentFilled, IntentRejected, IntentExpired:
		return true
	}
	return false
}
