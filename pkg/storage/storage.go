package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested path does not exist in storage.
var ErrNotFound = errors.New("not found")

// Storage is a flat key/blob store used for small state files such as
// dedup sets and the dashboard. Paths are slash separated and relative.
type Storage interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

type Type string

const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
)

type Options struct {
	Type      Type
	LocalPath string
	S3Bucket  string
	S3Prefix  string
	S3Region  string
}

// New builds the backend selected by opts.Type.
func New(ctx context.Context, opts Options) (Storage, error) {
	switch opts.Type {
	case TypeLocal, "":
		return NewLocalStorage(opts.LocalPath)
	case TypeS3:
		if opts.S3Bucket == "" {
			return nil, errors.New("s3 storage requires a bucket")
		}
		return NewS3Storage(ctx, opts.S3Bucket, opts.S3Prefix, opts.S3Region)
	default:
		return nil, fmt.Errorf("unknown storage type %q", opts.Type)
	}
}
