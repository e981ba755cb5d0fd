package media

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound signals that no object is stored under the requested name.
var ErrNotFound = errors.New("media not found")

// QRDir is the folder QR images are stored under.
const QRDir = "qrcodes"

// QRName returns the storage name of the QR image for code.
func QRName(code string) string {
	return path.Join(QRDir, code+".png")
}

// Store keeps binary media addressed by a relative name such as
// "qrcodes/abc123.png".
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
}

// ValidName reports whether name is a clean relative media path.
func ValidName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	return path.Clean(name) == name && !strings.HasPrefix(name, "..")
}

const redisKeyPrefix = "clickurl:media:"

type redisStore struct {
	rdb *redis.Client
}

// NewRedisStore returns a Store persisting objects in Redis without expiry.
func NewRedisStore(rdb *redis.Client) Store {
	return &redisStore{rdb: rdb}
}

func (s *redisStore) Put(ctx context.Context, name string, data []byte) error {
	if err := s.rdb.Set(ctx, redisKeyPrefix+name, data, 0).Err(); err != nil {
		return fmt.Errorf("media: put %s: %w", name, err)
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, redisKeyPrefix+name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("media: get %s: %w", name, err)
	}
	return data, nil
}

func (s *redisStore) Delete(ctx context.Context, name string) error {
	if err := s.rdb.Del(ctx, redisKeyPrefix+name).Err(); err != nil {
		return fmt.Errorf("media: delete %s: %w", name, err)
	}
	return nil
}

type memoryStore struct {
	items *cache.Cache
}

// NewMemoryStore returns a process-local Store. Objects never expire but are
// lost on restart, so it only suits databases that are themselves in memory.
func NewMemoryStore() Store {
	return &memoryStore{items: cache.New(cache.NoExpiration, 0)}
}

func (s *memoryStore) Put(_ context.Context, name string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	s.items.Set(name, buf, cache.NoExpiration)
	return nil
}

func (s *memoryStore) Get(_ context.Context, name string) ([]byte, error) {
	v, ok := s.items.Get(name)
	if !ok {
		return nil, ErrNotFound
	}
	return v.([]byte), nil
}

func (s *memoryStore) Delete(_ context.Context, name string) error {
	s.items.Delete(name)
	return nil
}
