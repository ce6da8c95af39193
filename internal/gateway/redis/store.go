// Package redis stores documents as JSON strings in Redis. Every key lives
// under a namespace taken from the database name, and the set of known
// collections is tracked alongside the documents.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/lead-capture-api/internal/gateway"
)

const defaultNamespace = "leads"

// Store implements gateway.Gateway on a Redis client.
type Store struct {
	client    *redis.Client
	namespace string
	ids       gateway.IDGenerator
	clock     gateway.Clock
}

// Open satisfies gateway.Opener.
func Open(_ context.Context, s gateway.Settings) (gateway.Gateway, error) {
	opts, err := redis.ParseURL(s.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if s.MaxConns > 0 {
		opts.PoolSize = int(s.MaxConns)
	}
	if s.MinConns > 0 {
		opts.MinIdleConns = int(s.MinConns)
	}
	if s.MaxConnLifetime > 0 {
		opts.ConnMaxLifetime = s.MaxConnLifetime
	}
	store, err := New(redis.NewClient(opts), s.Name, s.IDs, s.Clock)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// New wraps an existing client.
func New(client *redis.Client, namespace string, ids gateway.IDGenerator, clock gateway.Clock) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Store{client: client, namespace: namespace, ids: ids, clock: clock}, nil
}

// CreateDocument writes the document and registers its collection in one
// MULTI/EXEC round trip.
func (s *Store) CreateDocument(ctx context.Context, category string, payload map[string]any) (string, error) {
	if category == "" {
		return "", fmt.Errorf("collection name is required")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate document id: %w", err)
	}
	now := s.clock.Now()
	doc := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		doc[k] = v
	}
	doc["id"] = id
	doc["created_at"] = now
	doc["updated_at"] = now

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.documentKey(category, id), data, 0)
		pipe.SAdd(ctx, s.collectionsKey(), category)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("save %s document: %w", category, err)
	}
	return id, nil
}

// ListCollectionNames returns the registered collections in lexical order.
func (s *Store) ListCollectionNames(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.collectionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

func (s *Store) documentKey(category, id string) string {
	return s.namespace + ":" + category + ":" + id
}

func (s *Store) collectionsKey() string {
	return s.namespace + ":collections"
}
