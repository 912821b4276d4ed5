package models

import (
	"time"

	"gorm.io/datatypes"
)

type AuditLog struct {
	ID       uint64  `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryKey string  `gorm:"type:varchar(40);uniqueIndex" json:"entry_key"`
	Actor    string  `gorm:"type:varchar(50);not null;index" json:"actor"`
	Action   string  `gorm:"type:varchar(80);not null;index" json:"action"`
	TargetID *string `gorm:"type:text" json:"target_id,omitempty"`

	Meta datatypes.JSON `gorm:"type:jsonb" json:"meta"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}
