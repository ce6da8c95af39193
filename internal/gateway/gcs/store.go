// Package gcs stores documents as JSON objects in a Google Cloud Storage
// bucket. A collection is a top-level prefix: <root>/<collection>/<id>.json.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/JakeFAU/lead-capture-api/internal/gateway"
)

// Config captures the bucket layout.
type Config struct {
	Bucket string
	Root   string
}

// ParseURL splits gs://bucket/optional/root into a Config.
func ParseURL(raw string) (Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse gcs url: %w", err)
	}
	if u.Scheme != "gs" || u.Host == "" {
		return Config{}, fmt.Errorf("gcs url must look like gs://bucket[/root], got %q", raw)
	}
	return Config{Bucket: u.Host, Root: strings.Trim(u.Path, "/")}, nil
}

// Store writes documents to a configured bucket.
type Store struct {
	client *storage.Client
	bucket string
	root   string
	ids    gateway.IDGenerator
	clock  gateway.Clock
}

// Open satisfies gateway.Opener. The database name, when set, replaces the
// root prefix from the URL.
func Open(ctx context.Context, s gateway.Settings) (gateway.Gateway, error) {
	store, err := Dial(ctx, s)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Dial creates a storage client with opts and wraps it.
func Dial(ctx context.Context, s gateway.Settings, opts ...option.ClientOption) (*Store, error) {
	cfg, err := ParseURL(s.URL)
	if err != nil {
		return nil, err
	}
	if s.Name != "" {
		cfg.Root = strings.Trim(s.Name, "/")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client init: %w", err)
	}
	return New(client, cfg, s.IDs, s.Clock)
}

// New creates a GCS-backed document store.
func New(client *storage.Client, cfg Config, ids gateway.IDGenerator, clock gateway.Clock) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		root:   cfg.Root,
		ids:    ids,
		clock:  clock,
	}, nil
}

// CreateDocument uploads payload as <category>/<id>.json.
func (s *Store) CreateDocument(ctx context.Context, category string, payload map[string]any) (string, error) {
	if strings.TrimSpace(category) == "" || strings.Contains(category, "/") {
		return "", fmt.Errorf("invalid collection name %q", category)
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

	writer := s.client.Bucket(s.bucket).Object(s.objectName(category, id)).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return id, nil
}

// ListCollectionNames returns the prefixes directly under the root.
func (s *Store) ListCollectionNames(ctx context.Context) ([]string, error) {
	prefix := ""
	if s.root != "" {
		prefix = s.root + "/"
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	names := []string{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list prefixes: %w", err)
		}
		if attrs.Prefix == "" {
			continue
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, prefix), "/"))
	}
	return names, nil
}

// Close closes the storage client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

func (s *Store) objectName(category, id string) string {
	return path.Join(s.root, category, id+".json")
}
