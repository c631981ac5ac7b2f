// Package storage provides the statement inbox: files dropped under
// <root>/<source>/<file> wait there until an import moves them away.
package storage

import (
	"context"
	"time"
)

const (
	processedDir = ".processed"
	failedDir    = ".failed"
)

// FileInfo describes a statement waiting in the inbox.
type FileInfo struct {
	Source  string    `json:"source"`
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Storage defines the inbox operations used by scheduled imports.
type Storage interface {
	// List returns the pending files ordered by source then name.
	List(ctx context.Context) ([]*FileInfo, error)

	// Read returns the content of a pending file.
	Read(ctx context.Context, f *FileInfo) ([]byte, error)

	// Archive moves an imported file out of the pending set.
	Archive(ctx context.Context, f *FileInfo) error

	// Reject moves a file that failed to import out of the pending set.
	Reject(ctx context.Context, f *FileInfo) error
}
