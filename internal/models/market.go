package models

import (
	"time"

	"gorm.io/datatypes"
)

type Market struct {
	MarketID string     `gorm:"primaryKey;type:text" json:"market_id"`
	Title    string     `gorm:"type:text;not null" json:"title"`
	Status   string     `gorm:"type:varchar(20);not null;index;default:'open'" json:"status"`
	StartsAt *time.Time `gorm:"type:timestamptz" json:"starts_at,omitempty"`
	EndsAt   *time.Time `gorm:"type:timestamptz;index" json:"ends_at,omitempty"`

	Tags datatypes.JSON `gorm:"type:jsonb" json:"tags,omitempty"`

	// Embedding is reserved for embedding-based synonym grouping (384-dim
	// vector serialized as a JSON array; an IVF index may back it later).
	Embedding datatypes.JSON `gorm:"type:jsonb" json:"-"`

	LastSeenAt time.Time `gorm:"type:timestamptz;not null" json:"last_seen_at"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Market) TableName() string {
	return "market"
}

const (
	MarketStatusOpen    = "open"
	MarketStatusClosing = "closing"
	MarketStatusClosed  = "closed"
)
