package history

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/park285/Cheese-ARBoard/internal/domain"
)

// memrepo is the in-memory Repository used when no database is configured.
type memrepo struct {
	mu     sync.RWMutex
	nextID int64
	byUUID map[string]*domain.MatchRecord
}

func NewMemoryRepository() Repository {
	return &memrepo{byUUID: make(map[string]*domain.MatchRecord)}
}

func (m *memrepo) SaveMatch(_ context.Context, rec *domain.MatchRecord) error {
	if rec == nil {
		return ErrNilMatch
	}
	key := strings.TrimSpace(rec.SessionUUID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.byUUID[key]; ok {
		rec.ID = prev.ID
	} else {
		m.nextID++
		rec.ID = m.nextID
	}
	cp := clone(rec)
	m.byUUID[key] = cp
	return nil
}

func (m *memrepo) GetMatch(_ context.Context, sessionUUID string) (*domain.MatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.byUUID[strings.TrimSpace(sessionUUID)]; ok {
		return clone(rec), nil
	}
	return nil, nil
}

func (m *memrepo) RecentMatches(_ context.Context, limit int) ([]*domain.MatchRecord, error) {
	m.mu.RLock()
	items := make([]*domain.MatchRecord, 0, len(m.byUUID))
	for _, rec := range m.byUUID {
		items = append(items, clone(rec))
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) Close() error { return nil }

func clone(rec *domain.MatchRecord) *domain.MatchRecord {
	cp := *rec
	cp.MovesUCI = append([]string(nil), rec.MovesUCI...)
	cp.MovesSAN = append([]string(nil), rec.MovesSAN...)
	return &cp
}
