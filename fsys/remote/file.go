package remote

import (
	"context"
	"io"
	"io/fs"
	"sync/atomic"

	"github.com/lvdlvd/romfs/fsys"
)

// sharedHandle is a service handle shared by a File and its reopened
// copies. The handle is closed with the last reference.
type sharedHandle struct {
	h    Handle
	refs atomic.Int32
}

func (s *sharedHandle) release() error {
	if s.refs.Add(-1) == 0 {
		return s.h.Close()
	}
	return nil
}

// File is an open remote file. Reads and writes go to the service at the
// File's cursor. As with any cursor shared between goroutines, concurrent
// Reads on one File may see the same position.
type File struct {
	ctx    context.Context
	name   string
	sh     *sharedHandle
	offset atomic.Int64
	closed atomic.Bool
}

var _ fsys.File = (*File)(nil)

func newFile(ctx context.Context, name string, h Handle, offset int64) *File {
	sh := &sharedHandle{h: h}
	sh.refs.Store(1)
	f := &File{ctx: ctx, name: name, sh: sh}
	f.offset.Store(offset)
	return f
}

func (f *File) check(op string) error {
	if f.closed.Load() {
		return &fs.PathError{Op: op, Path: f.name, Err: fs.ErrClosed}
	}
	return nil
}

func (f *File) Read(p []byte) (int, error) {
	if err := f.check("read"); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := f.sh.h.ReadAt(f.ctx, p, f.offset.Load())
	f.offset.Add(int64(n))
	switch {
	case n > 0:
		return n, nil
	case err == nil || err == io.EOF:
		return 0, io.EOF
	default:
		return 0, &fs.PathError{Op: "read", Path: f.name, Err: err}
	}
}

func (f *File) Write(p []byte) (int, error) {
	if err := f.check("write"); err != nil {
		return 0, err
	}
	n, err := f.sh.h.WriteAt(f.ctx, p, f.offset.Load())
	f.offset.Add(int64(n))
	if err != nil {
		return n, &fs.PathError{Op: "write", Path: f.name, Err: err}
	}
	return n, nil
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	if err := f.check("seek"); err != nil {
		return 0, err
	}
	switch whence {
	case io.SeekStart:
		if offset < 0 {
			break
		}
		f.offset.Store(offset)
		return offset, nil
	case io.SeekCurrent:
		for {
			cur := f.offset.Load()
			next := cur + offset
			if next < 0 {
				break
			}
			if f.offset.CompareAndSwap(cur, next) {
				return next, nil
			}
		}
	case io.SeekEnd:
		size, err := f.sh.h.Size(f.ctx)
		if err != nil {
			return 0, &fs.PathError{Op: "seek", Path: f.name, Err: err}
		}
		next := size + offset
		if next < 0 {
			break
		}
		f.offset.Store(next)
		return next, nil
	}
	return 0, &fs.PathError{Op: "seek", Path: f.name, Err: fs.ErrInvalid}
}

func (f *File) Attr() (fsys.FileAttr, error) {
	if err := f.check("stat"); err != nil {
		return fsys.FileAttr{}, err
	}
	size, err := f.sh.h.Size(f.ctx)
	if err != nil {
		return fsys.FileAttr{}, &fs.PathError{Op: "stat", Path: f.name, Err: err}
	}
	return fsys.FileAttr{Size: size, Type: fsys.TypeFile}, nil
}

func (f *File) Truncate(size int64) error {
	if err := f.check("truncate"); err != nil {
		return err
	}
	if size < 0 {
		return &fs.PathError{Op: "truncate", Path: f.name, Err: fs.ErrInvalid}
	}
	if err := f.sh.h.SetSize(f.ctx, size); err != nil {
		return &fs.PathError{Op: "truncate", Path: f.name, Err: err}
	}
	return nil
}

// Reopen returns a File sharing the service handle with a cursor at zero.
func (f *File) Reopen() (fsys.File, error) {
	if err := f.check("reopen"); err != nil {
		return nil, err
	}
	f.sh.refs.Add(1)
	return &File{ctx: f.ctx, name: f.name, sh: f.sh}, nil
}

func (f *File) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return &fs.PathError{Op: "close", Path: f.name, Err: fs.ErrClosed}
	}
	if err := f.sh.release(); err != nil {
		return &fs.PathError{Op: "close", Path: f.name, Err: err}
	}
	return nil
}

func (f *File) Sync() error { return fsys.Unsupported("sync", f.name) }

func (f *File) Datasync() error { return fsys.Unsupported("datasync", f.name) }

func (f *File) Flush() error { return fsys.Unsupported("flush", f.name) }

func (f *File) Duplicate() (fsys.File, error) { return nil, fsys.Unsupported("duplicate", f.name) }

func (f *File) SetPermissions(perm fs.FileMode) error {
	return fsys.Unsupported("setpermissions", f.name)
}
