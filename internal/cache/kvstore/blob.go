package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofrs/flock"
)

// lockRetryDelay is how often a blocked writer retries the file lock.
const lockRetryDelay = 10 * time.Millisecond

// FileBlob stores the document in a single file. Writes go to a temporary
// file that is synced and renamed over the target, so a crash never leaves
// a torn document behind. Updates hold an exclusive lock on a sibling
// ".lock" file, so several processes can share one cache file.
type FileBlob struct {
	path string
}

// NewFileBlob creates the parent directory and returns a blob at path.
func NewFileBlob(path string) (*FileBlob, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FileBlob{path: path}, nil
}

// Path returns the file path.
func (b *FileBlob) Path() string {
	return b.path
}

// Load implements Blob.
func (b *FileBlob) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", b.path, err)
	}
	return data, nil
}

// Update implements Blob.
func (b *FileBlob) Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error {
	lock := flock.New(b.path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", b.path, err)
	}
	if !locked {
		return fmt.Errorf("failed to lock %s: %w", b.path, ctx.Err())
	}
	defer func() { _ = lock.Unlock() }()

	current, err := b.Load(ctx)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return b.write(next)
}

func (b *FileBlob) write(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", b.path, err)
	}
	return nil
}

// Close implements Blob.
func (b *FileBlob) Close() error {
	return nil
}

// RedisCmdable is the subset of the redis client used by RedisBlob.
type RedisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// compareAndSet replaces KEYS[1] with ARGV[3] only if it still holds the
// value the caller read: absent when ARGV[1] is "1", else equal to ARGV[2].
// Returns 1 on success and 0 on conflict.
const compareAndSet = `
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '1' then
  if cur then return 0 end
elseif cur ~= ARGV[2] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[3])
return 1
`

// maxUpdateAttempts bounds the optimistic retry loop of RedisBlob.Update.
const maxUpdateAttempts = 16

// ErrConflict is returned when an update keeps losing races with other
// writers.
var ErrConflict = errors.New("concurrent update conflict")

// RedisBlob stores the document under one redis key.
type RedisBlob struct {
	client RedisCmdable
	key    string
	closer func() error
}

// NewRedisBlob connects to the redis server at url (redis://host:port/db).
func NewRedisBlob(url, key string) (*RedisBlob, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return &RedisBlob{client: client, key: key, closer: client.Close}, nil
}

// NewRedisBlobWithClient wraps an existing client. Closing the blob does
// not close the client.
func NewRedisBlobWithClient(client RedisCmdable, key string) *RedisBlob {
	return &RedisBlob{client: client, key: key}
}

// Ping checks the server is reachable. Used by backend probing.
func (b *RedisBlob) Ping(ctx context.Context) error {
	if p, ok := b.client.(interface {
		Ping(ctx context.Context) *redis.StatusCmd
	}); ok {
		return p.Ping(ctx).Err()
	}
	return nil
}

// Load implements Blob.
func (b *RedisBlob) Load(ctx context.Context) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", b.key, err)
	}
	return data, nil
}

// Update implements Blob. The new value is written with a server-side
// compare-and-set and recomputed from fresh data whenever another writer
// got there first.
func (b *RedisBlob) Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, err := b.Load(ctx)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}

		absent := "0"
		if current == nil {
			absent = "1"
		}
		n, err := b.client.Eval(ctx, compareAndSet, []string{b.key}, absent, string(current), string(next)).Int64()
		if err != nil {
			return fmt.Errorf("failed to set %s: %w", b.key, err)
		}
		if n == 1 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("failed to set %s: %w", b.key, ErrConflict)
}

// Close implements Blob.
func (b *RedisBlob) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// MemoryBlob keeps the document in process memory. Nothing survives a
// restart; it backs ephemeral sessions and tests.
type MemoryBlob struct {
	mu      sync.Mutex
	data    []byte
	failErr error
}

// Load implements Blob.
func (b *MemoryBlob) Load(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil, nil
	}
	return append([]byte(nil), b.data...), nil
}

// Save replaces the stored bytes.
func (b *MemoryBlob) Save(ctx context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saveLocked(data)
}

func (b *MemoryBlob) saveLocked(data []byte) error {
	if b.failErr != nil {
		return b.failErr
	}
	b.data = append([]byte(nil), data...)
	return nil
}

// Update implements Blob.
func (b *MemoryBlob) Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var current []byte
	if b.data != nil {
		current = append([]byte(nil), b.data...)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return b.saveLocked(next)
}

// FailWrites makes every following write fail with err; nil restores writes.
func (b *MemoryBlob) FailWrites(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failErr = err
}

// Close implements Blob.
func (b *MemoryBlob) Close() error {
	return nil
}
