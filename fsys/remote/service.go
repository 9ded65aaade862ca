// Package remote implements a filesystem provider backed by a file
// service: a set of primitive operations (create, open, delete, rename,
// entry type, directory listing) reached through the Service interface.
//
// Client implements Service over a Unix socket speaking a CBOR
// request/response protocol, and Server serves a host directory with the
// same protocol.
package remote

import (
	"context"
	"fmt"
)

// MaxPath is the longest path, in bytes, the service accepts.
const MaxPath = 0x300

// Mode selects the access a Handle is opened with.
type Mode uint32

const (
	ModeRead   Mode = 1 << 0
	ModeWrite  Mode = 1 << 1
	ModeAppend Mode = 1 << 2
)

// Writable reports whether m grants write access.
func (m Mode) Writable() bool { return m&(ModeWrite|ModeAppend) != 0 }

// EntryType is the kind of a service entry.
type EntryType uint8

const (
	EntryDir EntryType = iota
	EntryFile
)

func (t EntryType) String() string {
	switch t {
	case EntryDir:
		return "directory"
	case EntryFile:
		return "file"
	default:
		return fmt.Sprintf("EntryType(%d)", uint8(t))
	}
}

// DirRecord is one entry of a directory listing.
type DirRecord struct {
	Name string    `cbor:"name"`
	Type EntryType `cbor:"type"`
	Size int64     `cbor:"size"`
}

// Service is the set of primitives a remote filesystem offers. Errors
// should match fs.ErrNotExist, fs.ErrExist, fs.ErrInvalid or
// fsys.ErrUnsupported where those apply.
type Service interface {
	CreateFile(ctx context.Context, name string, size int64) error
	OpenFile(ctx context.Context, name string, mode Mode) (Handle, error)
	DeleteFile(ctx context.Context, name string) error
	RenameFile(ctx context.Context, oldname, newname string) error
	DeleteDirectory(ctx context.Context, name string) error
	DeleteDirectoryRecursively(ctx context.Context, name string) error
	GetEntryType(ctx context.Context, name string) (EntryType, error)
	OpenDirectory(ctx context.Context, name string) (DirHandle, error)
}

// Handle is an open service file. It has no cursor of its own.
type Handle interface {
	// ReadAt reads len(p) bytes at off. It returns io.EOF when fewer
	// bytes are available.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	WriteAt(ctx context.Context, p []byte, off int64) (int, error)
	Size(ctx context.Context) (int64, error)
	SetSize(ctx context.Context, size int64) error
	Close() error
}

// DirHandle is an open service directory listing.
type DirHandle interface {
	// Read returns up to max further records. An empty result means the
	// listing is exhausted.
	Read(ctx context.Context, max int) ([]DirRecord, error)
	Close() error
}
