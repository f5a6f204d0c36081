// Package store is the record-store collaborator: opaque JSON records
// keyed by id, grouped in named collections.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	appLog "famcal/internal/log"
)

// Collection names used by the application.
const (
	CollectionEvents = "events"
)

var ErrClosed = errors.New("store closed")

// Record is one stored value.
type Record struct {
	ID        string
	Data      []byte
	UpdatedAt time.Time
}

// Store exposes get-all/put/delete/clear per collection.
type Store interface {
	GetAll(ctx context.Context, collection string) ([]Record, error)
	Put(ctx context.Context, collection string, rec Record) error
	Delete(ctx context.Context, collection, id string) error
	Clear(ctx context.Context, collection string) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": process-local, lost on exit
type Config struct {
	Driver      string        `yaml:"driver" json:"driver"`
	Path        string        `yaml:"path" json:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
}

// Open initializes the configured store.
func Open(cfg Config) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg)
	case "memory":
		appLog.Info("store: using in-memory driver; records are not persisted")
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	data   map[string]map[string]Record
	closed bool
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]Record)}
}

func (m *Memory) GetAll(_ context.Context, collection string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Record, 0, len(m.data[collection]))
	for _, r := range m.data[collection] {
		r.Data = append([]byte(nil), r.Data...)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Put(_ context.Context, collection string, rec Record) error {
	if rec.ID == "" {
		return errors.New("store: record id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.data[collection] == nil {
		m.data[collection] = make(map[string]Record)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	rec.Data = append([]byte(nil), rec.Data...)
	m.data[collection][rec.ID] = rec
	return nil
}

func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data[collection], id)
	return nil
}

func (m *Memory) Clear(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data, collection)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
