package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

// Redis keeps each board as a JSON string under board:{projectId}:{boardName},
// with both parts query-escaped.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis backed board store.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func boardKey(key domain.BoardKey) string {
	return redisKey("board", key)
}

// Load reads and decodes the board document.
func (s *Redis) Load(ctx context.Context, key domain.BoardKey) (domain.Board, error) {
	data, err := s.client.Get(ctx, boardKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Board{}, &domain.NotFoundError{Key: key}
		}
		return domain.Board{}, err
	}
	return decodeBoard(key, data)
}

// Save overwrites the board document.
func (s *Redis) Save(ctx context.Context, b domain.Board) error {
	data, err := encodeBoard(b)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, boardKey(b.Key()), data, 0).Err()
}

// Create writes the board document only if the key is free.
func (s *Redis) Create(ctx context.Context, b domain.Board) error {
	data, err := encodeBoard(b)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, boardKey(b.Key()), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrBoardExists
	}
	return nil
}
