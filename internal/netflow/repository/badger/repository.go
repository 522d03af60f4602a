// Package badger persists net-flow ingestion state in an embedded Badger
// key-value store for single-node deployments.
package badger

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	Metrics interface {
		Observe(operation string, err error, started time.Time)
	}
)

var (
	segmentPrefix = []byte("seg/")
	hashPrefix    = []byte("hash/")
	entryPrefix   = []byte("entry/")
	cursorKey     = []byte("cursor")
	outboxPrefix  = []byte("outbox/")
	outboxSeqKey  = []byte("outbox_seq")
	deliveredKey  = []byte("delivered")
)

type Repository struct {
	db      *badger.DB
	metrics Metrics
}

// NewRepository opens the store at path with synchronous writes.
func NewRepository(path string, metrics Metrics) (*Repository, error) {
	if path == "" {
		return nil, errors.New("badger path is required")
	}
	return open(badger.DefaultOptions(path).WithSyncWrites(true), metrics)
}

// NewInMemoryRepository opens a store that lives only in memory.
func NewInMemoryRepository(metrics Metrics) (*Repository, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), metrics)
}

func open(opts badger.Options, metrics Metrics) (*Repository, error) {
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Repository{db: db, metrics: metrics}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
