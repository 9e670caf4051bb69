package port

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a transaction lost a race with a concurrent writer.
	ErrConflict = errors.New("transaction write conflict")
)

type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// Document is one stored record; Data holds its JSON payload.
type Document struct {
	ID   string
	Data []byte
}

// Snapshot is the full ordered contents of a collection at one point in time.
type Snapshot struct {
	Collection string
	Documents  []Document
}

type DocumentStore interface {
	// Get returns ErrNotFound when the document does not exist
	Get(ctx context.Context, collection, id string) (Document, error)

	// QueryOrdered returns every document of the collection ordered by a top level field
	QueryOrdered(ctx context.Context, collection, orderBy string, dir Direction) ([]Document, error)

	// Subscribe delivers the current snapshot and a new one after every change
	Subscribe(ctx context.Context, collection, orderBy string, dir Direction, onChange func(Snapshot)) (func(), error)

	// RunTransaction applies all writes made through the Txn or none of them
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Txn) error) error

	// Add inserts a document under a generated id
	Add(ctx context.Context, collection string, data []byte) (string, error)

	// ServerTimestamp never returns a value lower than a previous call
	ServerTimestamp() time.Time
}

// Txn reads and writes inside one atomic transaction.
type Txn interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Set(ctx context.Context, collection, id string, data []byte) error
	Update(ctx context.Context, collection, id string, patch map[string]any) error
	Delete(ctx context.Context, collection, id string) error
}
