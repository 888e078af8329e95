package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rogpeppe/go-internal/lockedfile"
)

// FS is a file-system based cache holding one JSON file per key.
type FS struct {
	basedir string
}

var _ Cache = &FS{}

// NewFS creates basedir if needed and returns a cache rooted there.
func NewFS(basedir string) (*FS, error) {
	if err := os.MkdirAll(basedir, 0700); err != nil {
		return nil, fmt.Errorf("cache: error creating %q: %w", basedir, err)
	}
	return &FS{basedir: basedir}, nil
}

// filename returns the filename for a given key.
func (c *FS) filename(key string) (string, error) {
	name := url.PathEscape(key)
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("cache: invalid key %q", key)
	}
	return filepath.Join(c.basedir, name+".json"), nil
}

// Get implements Cache.
func (c *FS) Get(_ context.Context, key string) (*Record, error) {
	filename, err := c.filename(key)
	if err != nil {
		return nil, err
	}

	data, err := lockedfile.Read(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchKey, key)
	}
	if err != nil {
		return nil, fmt.Errorf("cache: error reading %q: %w", filename, err)
	}

	return unmarshal(key, data)
}

// Put implements Cache.
func (c *FS) Put(_ context.Context, key string, rec *Record) error {
	filename, err := c.filename(key)
	if err != nil {
		return err
	}

	data, err := marshal(rec)
	if err != nil {
		return err
	}

	if err := lockedfile.Write(filename, bytes.NewReader(data), 0600); err != nil {
		return fmt.Errorf("cache: error writing %q: %w", filename, err)
	}

	return nil
}
