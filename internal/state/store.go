// Package state provides SQLite-backed persistence for hub task records.
// The hub works fully in-memory; a store, when configured, mirrors record
// transitions so history survives restarts.
package state

import (
	"io"
	"time"
)

// TaskRecord is the persisted form of a hub task record.
type TaskRecord struct {
	ID          string     `json:"id"`
	WorkerID    string     `json:"workerId"`
	Goal        string     `json:"goal"`
	Status      string     `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// RecordStore handles task record persistence.
type RecordStore interface {
	SaveRecord(r *TaskRecord) error
	GetRecord(id string) (*TaskRecord, error)
	ListRecords(limit int) ([]TaskRecord, error)
}

// Migrator applies pending schema migrations.
type Migrator interface {
	Migrate() error
}

// Store is the interface the hub depends on, composed of focused
// sub-interfaces so callers can take only what they need.
type Store interface {
	io.Closer
	Migrator
	RecordStore
}

// Compile-time verification that DB implements the store interfaces.
var (
	_ Store       = (*DB)(nil)
	_ Migrator    = (*DB)(nil)
	_ RecordStore = (*DB)(nil)
)
