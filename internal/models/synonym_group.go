package models

import "time"

const (
	SynonymMethodExplicit  = "explicit"
	SynonymMethodKeyword   = "keyword"
	SynonymMethodEmbedding = "embedding"
)

type SynonymGroup struct {
	GroupID uint64 `gorm:"primaryKey;autoIncrement" json:"group_id"`
	Method  string `gorm:"type:varchar(20);not null" json:"method"`
	Title   string `gorm:"type:text;uniqueIndex;not null" json:"title"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (SynonymGroup) TableName() string {
	return "synonym_group"
}

type SynonymGroupMember struct {
	GroupID  uint64 `gorm:"primaryKey;autoIncrement:false" json:"group_id"`
	MarketID string `gorm:"primaryKey;type:text" json:"market_id"`
}

func (SynonymGroupMember) TableName() string {
	return "synonym_group_member"
}
