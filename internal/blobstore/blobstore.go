// Package blobstore implements the opaque get(path)/put(path, bytes)
// artifact store the rest of the system addresses blobs through (specs,
// scorecards, generated artifacts, human guidance documents).
package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/filelock"
)

// Store is a filesystem-backed blob store rooted at a single directory.
// Every write is single-writer-per-path via filelock's flock+atomic-rename
// pattern, so a Get never observes a partial Put even under concurrent
// callers.
type Store struct {
	root string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("blobstore: create root %s: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

// Put writes data to path (relative to the store root), creating any
// intermediate directories.
func (s *Store) Put(ctx context.Context, path string, data []byte) error {
	_, span := core.StartSpan(ctx, "selfrefine/blobstore", "blob.put")
	defer span.End()

	full, err := s.resolve(path)
	if err != nil {
		core.RecordSpanError(ctx, err)
		return err
	}
	err = filelock.WithLock(full, func() error {
		return filelock.AtomicWrite(full, data)
	})
	if err != nil {
		core.RecordSpanError(ctx, err)
	}
	return err
}

// Get reads the bytes stored at path.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	_, span := core.StartSpan(ctx, "selfrefine/blobstore", "blob.get")
	defer span.End()

	full, err := s.resolve(path)
	if err != nil {
		core.RecordSpanError(ctx, err)
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			err = fmt.Errorf("blobstore: %s: %w", path, errNotFound)
			core.RecordSpanError(ctx, err)
			return nil, err
		}
		err = fmt.Errorf("blobstore: read %s: %w", path, err)
		core.RecordSpanError(ctx, err)
		return nil, err
	}
	return data, nil
}

// Exists reports whether path has been written.
func (s *Store) Exists(path string) bool {
	full, err := s.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

// resolve joins path under the store root after cleaning it as an absolute
// path, so a caller-supplied "../../etc/passwd" collapses to a path still
// rooted at s.root rather than escaping it.
func (s *Store) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	return filepath.Join(s.root, cleaned), nil
}

type notFoundError string

func (e notFoundError) Error() string { return string(e) }

const errNotFound = notFoundError("blob not found")

// IsNotFound reports whether err represents a missing blob.
func IsNotFound(err error) bool {
	return err != nil && (err == errNotFound || asNotFound(err))
}

func asNotFound(err error) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if err == errNotFound {
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
