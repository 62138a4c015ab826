// Package storage persists each keyed collection as a single JSON file.
// Every mutation rewrites the whole blob; there are no incremental writes
// and no transactions.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"
)

const writeRetries = 3

// Blob is one serialized collection on disk.
type Blob struct {
	path string
}

// NewBlob prepares a blob at path, creating parent directories as needed.
func NewBlob(path string) (*Blob, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	return &Blob{path: path}, nil
}

// Load reads the entire collection into v. A missing or empty file leaves
// v untouched so a fresh deployment starts from an empty map.
func (b *Blob) Load(v any) error {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("storage: read %s: %w", b.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("storage: decode %s: %w", b.path, err)
	}
	return nil
}

// Save serializes the entire collection and replaces the file on disk.
// The write is retried with exponential backoff before giving up.
func (b *Blob) Save(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", b.path, err)
	}

	write := func() error {
		return os.WriteFile(b.path, data, 0o644)
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), writeRetries)
	if err := backoff.Retry(write, policy); err != nil {
		return fmt.Errorf("storage: write %s: %w", b.path, err)
	}
	return nil
}
