package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// driverName returns the dialector name for lock-strategy selection.
func driverName(db *gorm.DB) string {
	if db.Dialector != nil {
		return db.Dialector.Name()
	}
	return ""
}

// forUpdate applies SELECT ... FOR UPDATE on engines that support row locks.
// SQLite serializes writers globally, so the clause is omitted there.
func forUpdate(db *gorm.DB) *gorm.DB {
	if driverName(db) == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// forUpdateSkipLocked additionally skips rows locked by concurrent
// transactions, so racing dispatchers pick distinct candidates.
func forUpdateSkipLocked(db *gorm.DB) *gorm.DB {
	if driverName(db) == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
}
