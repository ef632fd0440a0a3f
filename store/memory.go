package store

import (
	"context"
	"sync"
	"time"

	"github.com/yashasviy/escrow-payments-api/escrow"
	"github.com/yashasviy/escrow-payments-api/models"
)

type entry struct {
	mu     sync.Mutex
	escrow models.Escrow
}

// Memory keeps escrows in process. The map lock only guards membership;
// each escrow has its own mutex so transitions on different ids never
// contend.
type Memory struct {
	mu      sync.RWMutex
	escrows map[string]*entry
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		escrows: make(map[string]*entry),
		now:     time.Now,
	}
}

func (m *Memory) Create(_ context.Context, e models.Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.escrows[e.ID]; ok {
		return escrow.Conflict(e.ID)
	}
	m.escrows[e.ID] = &entry{escrow: newRecord(e, m.now())}
	return nil
}

func (m *Memory) lookup(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	en, ok := m.escrows[id]
	if !ok {
		return nil, escrow.NotFound(id)
	}
	return en, nil
}

func (m *Memory) RecordConfirmation(_ context.Context, id, actor string) (models.Status, error) {
	en, err := m.lookup(id)
	if err != nil {
		return "", err
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	if _, err := applyConfirmation(&en.escrow, actor, m.now()); err != nil {
		return "", err
	}
	return en.escrow.Status, nil
}

func (m *Memory) Release(_ context.Context, id string) (models.Escrow, error) {
	en, err := m.lookup(id)
	if err != nil {
		return models.Escrow{}, err
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	if err := applyRelease(&en.escrow, m.now()); err != nil {
		return models.Escrow{}, err
	}
	return en.escrow.Clone(), nil
}

func (m *Memory) Get(_ context.Context, id string) (models.Escrow, error) {
	en, err := m.lookup(id)
	if err != nil {
		return models.Escrow{}, err
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	return en.escrow.Clone(), nil
}
