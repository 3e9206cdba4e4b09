package storage

import (
	"context"
	"sync"

	"prism-board/domain"
)

// Memory keeps boards in process memory. It is used for local development
// and tests; every board is lost on restart.
type Memory struct {
	mu     sync.RWMutex
	boards map[domain.BoardKey]domain.Board
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{boards: make(map[domain.BoardKey]domain.Board)}
}

// Load returns a copy of the stored board.
func (m *Memory) Load(ctx context.Context, key domain.BoardKey) (domain.Board, error) {
	if err := ctx.Err(); err != nil {
		return domain.Board{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.boards[key]
	if !ok {
		return domain.Board{}, &domain.NotFoundError{Key: key}
	}
	return b.Clone(), nil
}

// Save replaces the stored board.
func (m *Memory) Save(ctx context.Context, b domain.Board) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boards[b.Key()] = b.Clone()
	return nil
}

// Create stores a new board, failing when the key is taken.
func (m *Memory) Create(ctx context.Context, b domain.Board) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[b.Key()]; ok {
		return domain.ErrBoardExists
	}
	b.Normalize()
	m.boards[b.Key()] = b.Clone()
	return nil
}
