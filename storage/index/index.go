// Package index maintains a queryable audit trail of ledger events in a
// relational store, off the hot path of the ledger itself.
package index

import (
	"encoding/json"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"opensky/core/events"
	"opensky/core/types"
)

// EventRecord is one emitted ledger event flattened for querying.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type       string    `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

// Index wraps the relational store.
type Index struct {
	db *gorm.DB
}

// Open creates or opens the sqlite-backed index at path and migrates the
// schema. Use ":memory:" for an ephemeral index.
func Open(path string) (*Index, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, err
	}
	return &Index{db: db}, nil
}

// Emit records the event. Implements events.Emitter; indexing failures are
// swallowed so an audit hiccup never fails a ledger operation.
func (ix *Index) Emit(evt events.Event) {
	if ix == nil || ix.db == nil || evt == nil {
		return
	}
	record := EventRecord{
		ID:        uuid.New(),
		Type:      evt.EventType(),
		CreatedAt: time.Now().UTC(),
	}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			if raw, err := json.Marshal(payload.Attributes); err == nil {
				record.Attributes = string(raw)
			}
		}
	}
	ix.db.Create(&record)
}

// ListRecent returns up to limit events, newest first.
func (ix *Index) ListRecent(limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []EventRecord
	err := ix.db.Order("created_at desc").Limit(limit).Find(&records).Error
	return records, err
}

// ListByType returns up to limit events of one type, newest first.
func (ix *Index) ListByType(eventType string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []EventRecord
	err := ix.db.Where("type = ?", eventType).Order("created_at desc").Limit(limit).Find(&records).Error
	return records, err
}
