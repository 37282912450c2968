package models

import (
	"gorm.io/gorm"
)

// AllModels is the schema owned by the engine, in creation order.
func AllModels() []any {
	return []any{
		&Chain{}, &ChainObject{}, &ChainLink{}, &ChainEvent{},
		&DocumentVersion{}, &DocumentVersionHead{},
		&ChainNumberSeries{}, &ChainEventOutbox{}, &IdempotencyKey{},
	}
}

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
