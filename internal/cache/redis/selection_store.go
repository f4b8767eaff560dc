package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

// SelectionStore implements domain.SelectionStore. Values are the raw choice
// index ("1" heads, "2" tails) with no expiry.
type SelectionStore struct {
	c *Client
}

// NewSelectionStore creates a SelectionStore backed by the given Client.
func NewSelectionStore(c *Client) *SelectionStore {
	return &SelectionStore{c: c}
}

// Get returns the stored choice or domain.ErrNotFound.
func (s *SelectionStore) Get(ctx context.Context, key string) (domain.Choice, error) {
	raw, err := s.c.rdb.Get(ctx, s.c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.ChoiceNone, domain.ErrNotFound
	}
	if err != nil {
		return domain.ChoiceNone, fmt.Errorf("redis: get selection %s: %w", key, err)
	}
	return decodeChoice(raw)
}

// Set stores choice under key.
func (s *SelectionStore) Set(ctx context.Context, key string, choice domain.Choice) error {
	if err := s.c.rdb.Set(ctx, s.c.key(key), encodeChoice(choice), 0).Err(); err != nil {
		return fmt.Errorf("redis: set selection %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SelectionStore) Delete(ctx context.Context, key string) error {
	if err := s.c.rdb.Del(ctx, s.c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis: delete selection %s: %w", key, err)
	}
	return nil
}

func encodeChoice(c domain.Choice) string {
	return strconv.FormatUint(uint64(c), 10)
}

// decodeChoice parses a stored value. Anything other than a side is treated
// as absent.
func decodeChoice(raw string) (domain.Choice, error) {
	c, err := domain.ParseChoice(raw)
	if err != nil || !c.Valid() {
		return domain.ChoiceNone, domain.ErrNotFound
	}
	return c, nil
}

var _ domain.SelectionStore = (*SelectionStore)(nil)
