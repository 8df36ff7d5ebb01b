package checkpoint

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
)

var (
	_ Store  = (*MemoryStore)(nil)
	_ Lister = (*MemoryStore)(nil)
)

type memoryRecord struct {
	blob     []byte
	checksum string
	length   int
	meta     Meta
	saved    time.Time
}

// MemoryStore is a process-local Store. Records go through the same encoding
// as SQLiteStore, so loads never alias a saved vector.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]memoryRecord
	saves   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]memoryRecord)}
}

func (m *MemoryStore) Load(_ context.Context, key Key) (*mat.VecDense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return decodeWeights(rec.blob, rec.length, rec.checksum)
}

func (m *MemoryStore) Save(ctx context.Context, key Key, w *mat.VecDense, meta Meta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w == nil || w.Len() == 0 {
		return errors.New("weights required")
	}
	blob, checksum := encodeWeights(w)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = memoryRecord{
		blob:     blob,
		checksum: checksum,
		length:   w.Len(),
		meta:     meta,
		saved:    time.Now(),
	}
	m.saves++
	return nil
}

// Saves reports how many Save calls succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// List returns every record, newest first.
func (m *MemoryStore) List(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]Record, 0, len(m.records))
	for key, rec := range m.records {
		records = append(records, Record{
			Key:        key,
			Length:     rec.length,
			Iterations: rec.meta.Iterations,
			Loss:       rec.meta.Loss,
			UpdatedAt:  rec.saved,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	return records, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
