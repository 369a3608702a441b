package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"

	"github.com/modemfleet/internal/config"
)

// ErrTokenNotFound is returned when a refresh token is unknown, expired, or
// revoked.
var ErrTokenNotFound = errors.New("refresh token not found")

// RefreshTokenStore persists refresh tokens with a TTL. Tokens are
// single-use: Consume returns the owning user id and deletes the token.
type RefreshTokenStore interface {
	Save(ctx context.Context, token, userID string, ttl time.Duration) error
	Consume(ctx context.Context, token string) (string, error)
	RevokeUser(ctx context.Context, userID string) error
	Close() error
}

// NewRefreshToken generates an opaque URL-safe token.
func NewRefreshToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// NewTokenStore creates the configured backend: embedded Badger for single
// instance deployments, Redis when instances share token state.
func NewTokenStore(cfg config.TokenStoreConfig) (RefreshTokenStore, error) {
	switch cfg.Backend {
	case "badger", "":
		return newBadgerTokenStore(cfg.Path)
	case "redis":
		return newRedisTokenStore(cfg)
	default:
		return nil, fmt.Errorf("unknown token store backend %q", cfg.Backend)
	}
}

// badgerTokenStore keeps tokens in an embedded Badger database, using the
// entry TTL for expiry. Keys: t:<token> → userID and u:<userID>:<token> for
// per-user revocation.
type badgerTokenStore struct {
	db *badger.DB
}

func newBadgerTokenStore(path string) (*badgerTokenStore, error) {
	opts := badger.DefaultOptions(path)
	opts = opts.WithNumVersionsToKeep(1)
	opts = opts.WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open token store at %s: %w", path, err)
	}
	return &badgerTokenStore{db: db}, nil
}

func (s *badgerTokenStore) Save(_ context.Context, token, userID string, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte("t:"+token), []byte(userID)).WithTTL(ttl)
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		index := badger.NewEntry([]byte("u:"+userID+":"+token), nil).WithTTL(ttl)
		return txn.SetEntry(index)
	})
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

func (s *badgerTokenStore) Consume(_ context.Context, token string) (string, error) {
	var userID string
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("t:" + token))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		userID = string(val)
		if err := txn.Delete([]byte("t:" + token)); err != nil {
			return err
		}
		return txn.Delete([]byte("u:" + userID + ":" + token))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume refresh token: %w", err)
	}
	return userID, nil
}

func (s *badgerTokenStore) RevokeUser(_ context.Context, userID string) error {
	prefix := []byte("u:" + userID + ":")
	err := s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			keys = append(keys, key)
			token := string(key[len(prefix):])
			keys = append(keys, []byte("t:"+token))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoke tokens for %s: %w", userID, err)
	}
	return nil
}

func (s *badgerTokenStore) Close() error { return s.db.Close() }

// redisTokenStore keeps tokens in Redis so multiple server instances can
// share them. Keys carry the configured instance-name prefix.
type redisTokenStore struct {
	client *redis.Client
	prefix string
}

func newRedisTokenStore(cfg config.TokenStoreConfig) (*redisTokenStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.Database,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	prefix := cfg.InstanceName
	if prefix == "" {
		prefix = "modemfleet"
	}
	return &redisTokenStore{client: client, prefix: prefix + ":refresh:"}, nil
}

func (s *redisTokenStore) Save(ctx context.Context, token, userID string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.prefix+"t:"+token, userID, ttl)
	pipe.Set(ctx, s.prefix+"u:"+userID+":"+token, "1", ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

func (s *redisTokenStore) Consume(ctx context.Context, token string) (string, error) {
	userID, err := s.client.GetDel(ctx, s.prefix+"t:"+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume refresh token: %w", err)
	}
	s.client.Del(ctx, s.prefix+"u:"+userID+":"+token)
	return userID, nil
}

func (s *redisTokenStore) RevokeUser(ctx context.Context, userID string) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"u:"+userID+":*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		token := key[len(s.prefix+"u:"+userID+":"):]
		s.client.Del(ctx, key, s.prefix+"t:"+token)
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("revoke tokens for %s: %w", userID, err)
	}
	return nil
}

func (s *redisTokenStore) Close() error { return s.client.Close() }
