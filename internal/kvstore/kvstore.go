// Package kvstore provides the table and list bookkeeping store for collections, annotations
// and retrain jobs. Tables hold id → value rows; lists are append-only sequences.
package kvstore

import (
	"context"
	"time"
)

// Record is one row of a table
type Record struct {
	ID    string
	Value []byte
}

// UpdateFunc receives the current value (nil, false when absent) and returns the new one.
// Returning ErrSkip leaves the row untouched and makes Update return nil.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Store is the key-value contract. Values are opaque bytes; see the JSON helpers for typed access.
type Store interface {
	// Get returns the value of id in table, or a not-found error
	Get(ctx context.Context, table, id string) ([]byte, error)
	// Set creates or replaces id in table
	Set(ctx context.Context, table, id string, value []byte) error
	// Values returns every row of table sorted by id
	Values(ctx context.Context, table string) ([]Record, error)
	// Delete removes id from table; a missing id is not an error
	Delete(ctx context.Context, table, id string) error
	// Drop removes every row of table
	Drop(ctx context.Context, table string) error
	// Update reads, transforms and writes one row inside a transaction
	Update(ctx context.Context, table, id string, fn UpdateFunc) error
	// Push appends value to list
	Push(ctx context.Context, list string, value []byte) error
	// Range returns every value of list in insertion order
	Range(ctx context.Context, list string) ([][]byte, error)
	// Truncate clears list
	Truncate(ctx context.Context, list string) error
	// Close releases the underlying connection
	Close() error
}

// Entry is the table row model
type Entry struct {
	Table     string `gorm:"column:bucket;primaryKey;size:191"`
	ID        string `gorm:"primaryKey;size:191"`
	Value     []byte
	UpdatedAt time.Time
}

// TableName keeps the schema name stable across renames of the Go type
func (Entry) TableName() string {
	return "kv_entries"
}

// ListItem is the list element model
type ListItem struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement"`
	List      string `gorm:"column:list_name;index;size:191"`
	Value     []byte
	CreatedAt time.Time
}

// TableName keeps the schema name stable across renames of the Go type
func (ListItem) TableName() string {
	return "kv_list_items"
}
