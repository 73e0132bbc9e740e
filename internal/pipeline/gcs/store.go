// Package gcs provides an output stage that writes each record as a JSON
// object in Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"path"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// FieldBlobURI is added to records written by Store.
const FieldBlobURI = "blob_uri"

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Store uploads records to a configured bucket.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	ids    crawler.IDGenerator
}

// New creates a GCS-backed stage. The stage takes ownership of client.
func New(client *storage.Client, cfg Config, ids crawler.IDGenerator) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		ids:    ids,
	}, nil
}

// ProcessRecord uploads rec and returns a copy carrying its gs:// URI.
func (s *Store) ProcessRecord(ctx context.Context, rec crawler.Record) (crawler.Record, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	id, err := s.ids.NewID()
	if err != nil {
		return nil, err
	}
	name := path.Join(s.prefix, id+".json")

	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return nil, fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}

	out := maps.Clone(rec)
	out[FieldBlobURI] = fmt.Sprintf("gs://%s/%s", s.bucket, name)
	return out, nil
}

// Close releases the storage client.
func (s *Store) Close(context.Context) error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
