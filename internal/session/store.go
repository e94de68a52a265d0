package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"taskmanager/internal/storage"
)

// ErrNotFound is returned by stores for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// Store persists sessions.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

func encode(s *Session) ([]byte, error) {
	return json.Marshal(s)
}

func decode(id string, data []byte, expiresAt time.Time) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	s.ID = id
	s.ExpiresAt = expiresAt
	return &s, nil
}

// SQLBackend is the subset of the relational store used for sessions.
type SQLBackend interface {
	LoadSession(ctx context.Context, id string) ([]byte, time.Time, error)
	SaveSession(ctx context.Context, id string, data []byte, expiresAt time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// SQLStore keeps sessions in the application database.
type SQLStore struct {
	db SQLBackend
}

// NewSQLStore wraps the relational store.
func NewSQLStore(db SQLBackend) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Load(ctx context.Context, id string) (*Session, error) {
	data, expiresAt, err := s.db.LoadSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(id, data, expiresAt)
}

func (s *SQLStore) Save(ctx context.Context, sess *Session) error {
	data, err := encode(sess)
	if err != nil {
		return err
	}
	return s.db.SaveSession(ctx, sess.ID, data, sess.ExpiresAt)
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	return s.db.DeleteSession(ctx, id)
}

func (s *SQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	return s.db.DeleteExpiredSessions(ctx, time.Now())
}

// RedisStore keeps sessions in Redis; expiry is delegated to key TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore uses the given client with the "session:" key prefix.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "session:"}
}

type redisEnvelope struct {
	ExpiresAt time.Time       `json:"expires_at"`
	Data      json.RawMessage `json:"data"`
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode session envelope: %w", err)
	}
	return decode(id, env.Data, env.ExpiresAt)
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	data, err := encode(sess)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(redisEnvelope{ExpiresAt: sess.ExpiresAt, Data: data})
	if err != nil {
		return err
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return s.Delete(ctx, sess.ID)
	}
	if err := s.client.Set(ctx, s.prefix+sess.ID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis evicts expired keys itself.
func (s *RedisStore) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
}

type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem)}
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	item, ok := s.items[id]
	s.mu.Unlock()
	if !ok || time.Now().After(item.expiresAt) {
		return nil, ErrNotFound
	}
	return decode(id, item.data, item.expiresAt)
}

func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	data, err := encode(sess)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.items[sess.ID] = memoryItem{data: data, expiresAt: sess.ExpiresAt}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteExpired(context.Context) (int64, error) {
	now := time.Now()
	var n int64
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, item := range s.items {
		if now.After(item.expiresAt) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
