package db

import (
	"github.com/jiliangzhu/MarketPulse-X/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	if err := db.Gorm.AutoMigrate(
		&models.Market{},
		&models.Option{},
		&models.Tick{},
		&models.RuleDef{},
		&models.Signal{},
		&models.SynonymGroup{},
		&models.SynonymGroupMember{},
		&models.ExecutionPolicy{},
		&models.OrderIntent{},
		&models.RuleKpiDaily{},
		&models.AuditLog{},
	); err != nil {
		return err
	}
	return nil
}
