package backend

import (
	"context"
	"fmt"
)

// Backend abstracts storage for a publication tree.
// Paths are always relative to the root (e.g. "AlmaLinux-9/errata.json").
type Backend interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	DeleteFile(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	// List returns every file below prefix, relative to the root.
	List(ctx context.Context, prefix string) ([]string, error)
	Root() string
}

// New builds the backend named by kind ("fs" or "s3") rooted at root.
func New(ctx context.Context, kind, root, s3Endpoint string) (Backend, error) {
	switch kind {
	case "fs", "":
		return NewFSBackend(root), nil
	case "s3":
		return NewS3Backend(ctx, root, s3Endpoint)
	default:
		return nil, fmt.Errorf("backend %q not implemented", kind)
	}
}
