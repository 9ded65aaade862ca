package romfs

import (
	"io"
	"io/fs"
	"sync/atomic"

	"github.com/lvdlvd/romfs/fsys"
)

// File is an open RomFS file: a window of the source plus a cursor. Each
// File reads through its own source view, so distinct Files never contend.
//
// The cursor is atomic, but Read loads it, reads, then stores the advanced
// value. Two goroutines reading the same File at once can observe the same
// position and return overlapping data. Give each goroutine its own handle
// with Reopen instead.
type File struct {
	name   string
	src    fsys.Source
	data   *fsys.ExtentReaderAt
	start  int64
	size   int64
	offset atomic.Int64
	closed atomic.Bool
}

var (
	_ fsys.File   = (*File)(nil)
	_ io.ReaderAt = (*File)(nil)
)

func newFile(name string, src fsys.Source, start, size int64) *File {
	return &File{
		name:  name,
		src:   src,
		data:  fsys.NewExtentReaderAt(src, []fsys.Extent{{Logical: 0, Physical: start, Length: size}}, size),
		start: start,
		size:  size,
	}
}

// Name returns the path the file was opened with.
func (f *File) Name() string { return f.name }

// Size returns the length of the file's data.
func (f *File) Size() int64 { return f.size }

// Extent returns where the file's data lives in the source.
func (f *File) Extent() fsys.Extent {
	return fsys.Extent{Logical: 0, Physical: f.start, Length: f.size}
}

func (f *File) Read(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, &fs.PathError{Op: "read", Path: f.name, Err: fs.ErrClosed}
	}
	pos := f.offset.Load()
	if pos >= f.size {
		return 0, io.EOF
	}
	n, err := f.data.ReadAt(p, pos)
	f.offset.Store(pos + int64(n))
	if err != nil && err != io.EOF {
		return n, &fs.PathError{Op: "read", Path: f.name, Err: err}
	}
	return n, nil
}

// ReadAt reads at off without moving the cursor.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.closed.Load() {
		return 0, &fs.PathError{Op: "read", Path: f.name, Err: fs.ErrClosed}
	}
	if off < 0 {
		return 0, &fs.PathError{Op: "read", Path: f.name, Err: fs.ErrInvalid}
	}
	n, err := f.data.ReadAt(p, off)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	if err != nil && err != io.EOF {
		err = &fs.PathError{Op: "read", Path: f.name, Err: err}
	}
	return n, err
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
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
		next := f.size + offset
		if next < 0 {
			break
		}
		f.offset.Store(next)
		return next, nil
	}
	return 0, &fs.PathError{Op: "seek", Path: f.name, Err: fs.ErrInvalid}
}

func (f *File) Attr() (fsys.FileAttr, error) {
	return fsys.FileAttr{Size: f.size, Type: fsys.TypeFile, Mode: 0444}, nil
}

// Reopen returns a new handle on the same data with its own source view
// and a cursor at zero.
func (f *File) Reopen() (fsys.File, error) {
	if f.closed.Load() {
		return nil, &fs.PathError{Op: "reopen", Path: f.name, Err: fs.ErrClosed}
	}
	view, err := f.src.Reopen()
	if err != nil {
		return nil, &fs.PathError{Op: "reopen", Path: f.name, Err: err}
	}
	return newFile(f.name, view, f.start, f.size), nil
}

// OpenSource returns a Source over the file's data with its own view of
// the archive, so an archive stored in this one can be opened in place.
// The Source stays valid after f is closed.
func (f *File) OpenSource() (fsys.Source, error) {
	if f.closed.Load() {
		return nil, &fs.PathError{Op: "opensource", Path: f.name, Err: fs.ErrClosed}
	}
	view, err := f.src.Reopen()
	if err != nil {
		return nil, &fs.PathError{Op: "opensource", Path: f.name, Err: err}
	}
	return fsys.NewExtentSource(view, []fsys.Extent{f.Extent()}, f.size), nil
}

func (f *File) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return &fs.PathError{Op: "close", Path: f.name, Err: fs.ErrClosed}
	}
	return f.src.Close()
}

func (f *File) Write(p []byte) (int, error) { return 0, fsys.Unsupported("write", f.name) }

func (f *File) Truncate(size int64) error { return fsys.Unsupported("truncate", f.name) }

func (f *File) Sync() error { return fsys.Unsupported("sync", f.name) }

func (f *File) Datasync() error { return fsys.Unsupported("datasync", f.name) }

func (f *File) Flush() error { return fsys.Unsupported("flush", f.name) }

// Duplicate is unsupported. Use Reopen.
func (f *File) Duplicate() (fsys.File, error) { return nil, fsys.Unsupported("duplicate", f.name) }

func (f *File) SetPermissions(perm fs.FileMode) error {
	return fsys.Unsupported("setpermissions", f.name)
}
