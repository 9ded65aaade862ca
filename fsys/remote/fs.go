package remote

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path"

	"github.com/lvdlvd/romfs/fsys"
)

// FS adapts a Service to fsys.Provider.
type FS struct {
	ctx context.Context
	svc Service
}

var _ fsys.Provider = (*FS)(nil)

// New returns a provider issuing every service call with ctx.
func New(ctx context.Context, svc Service) *FS {
	return &FS{ctx: ctx, svc: svc}
}

// Close closes the service if it holds resources.
func (f *FS) Close() error {
	if c, ok := f.svc.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func checkPath(op, name string) error {
	if len(name) > MaxPath {
		return &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	return nil
}

func wrap(op, name string, err error) error {
	if err == nil {
		return nil
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return err
	}
	return &fs.PathError{Op: op, Path: name, Err: err}
}

func (f *FS) Open(name string, opts fsys.OpenOptions) (fsys.File, error) {
	if err := checkPath("open", name); err != nil {
		return nil, err
	}

	var mode Mode
	if opts.Read {
		mode |= ModeRead
	}
	if opts.Writes() {
		mode |= ModeWrite | ModeAppend
	}

	if opts.Create || opts.CreateNew {
		err := f.svc.CreateFile(f.ctx, name, 0)
		if err != nil && (opts.CreateNew || !errors.Is(err, fs.ErrExist)) {
			return nil, wrap("open", name, err)
		}
	}

	h, err := f.svc.OpenFile(f.ctx, name, mode)
	if err != nil {
		return nil, wrap("open", name, err)
	}
	if opts.Truncate {
		if err := h.SetSize(f.ctx, 0); err != nil {
			h.Close()
			return nil, wrap("open", name, err)
		}
	}
	var offset int64
	if opts.Append {
		if offset, err = h.Size(f.ctx); err != nil {
			h.Close()
			return nil, wrap("open", name, err)
		}
	}
	return newFile(f.ctx, name, h, offset), nil
}

func (f *FS) ReadDir(name string) (fsys.DirIter, error) {
	if err := checkPath("readdir", name); err != nil {
		return nil, err
	}
	h, err := f.svc.OpenDirectory(f.ctx, name)
	if err != nil {
		return nil, wrap("readdir", name, err)
	}
	return &dirIter{ctx: f.ctx, parent: name, h: h}, nil
}

func (f *FS) Unlink(name string) error {
	if err := checkPath("unlink", name); err != nil {
		return err
	}
	return wrap("unlink", name, f.svc.DeleteFile(f.ctx, name))
}

func (f *FS) Rename(oldname, newname string) error {
	if err := checkPath("rename", oldname); err != nil {
		return err
	}
	if err := checkPath("rename", newname); err != nil {
		return err
	}
	return wrap("rename", oldname, f.svc.RenameFile(f.ctx, oldname, newname))
}

func (f *FS) SetPerm(name string, perm fs.FileMode) error {
	return fsys.Unsupported("setperm", name)
}

func (f *FS) Rmdir(name string) error {
	if err := checkPath("rmdir", name); err != nil {
		return err
	}
	return wrap("rmdir", name, f.svc.DeleteDirectory(f.ctx, name))
}

func (f *FS) RemoveAll(name string) error {
	if err := checkPath("removeall", name); err != nil {
		return err
	}
	return wrap("removeall", name, f.svc.DeleteDirectoryRecursively(f.ctx, name))
}

func (f *FS) Readlink(name string) (string, error) {
	return "", fsys.Unsupported("readlink", name)
}

// Stat reports the entry type, and for files the size, which takes
// opening the file.
func (f *FS) Stat(name string) (fsys.FileAttr, error) {
	if err := checkPath("stat", name); err != nil {
		return fsys.FileAttr{}, err
	}
	t, err := f.svc.GetEntryType(f.ctx, name)
	if err != nil {
		return fsys.FileAttr{}, wrap("stat", name, err)
	}
	if t == EntryDir {
		return fsys.FileAttr{Type: fsys.TypeDir}, nil
	}

	h, err := f.svc.OpenFile(f.ctx, name, 0)
	if err != nil {
		return fsys.FileAttr{}, wrap("stat", name, err)
	}
	defer h.Close()
	size, err := h.Size(f.ctx)
	if err != nil {
		return fsys.FileAttr{}, wrap("stat", name, err)
	}
	return fsys.FileAttr{Size: size, Type: fsys.TypeFile}, nil
}

func (f *FS) Lstat(name string) (fsys.FileAttr, error) {
	return fsys.FileAttr{}, fsys.Unsupported("lstat", name)
}

// Canonicalize resolves "." and ".." lexically. It does not consult the
// service.
func (f *FS) Canonicalize(name string) (string, error) {
	return path.Clean("/" + name), nil
}

func entryAttr(r DirRecord) fsys.FileAttr {
	if r.Type == EntryDir {
		return fsys.FileAttr{Type: fsys.TypeDir}
	}
	return fsys.FileAttr{Size: r.Size, Type: fsys.TypeFile}
}

const readDirBatch = 32

// dirIter buffers records read from a DirHandle.
type dirIter struct {
	ctx    context.Context
	parent string
	h      DirHandle
	buf    []DirRecord
	done   bool
}

func (it *dirIter) Next() (fsys.DirEntry, error) {
	for len(it.buf) == 0 {
		if it.done {
			return fsys.DirEntry{}, io.EOF
		}
		recs, err := it.h.Read(it.ctx, readDirBatch)
		if err != nil {
			it.done = true
			return fsys.DirEntry{}, wrap("readdir", it.parent, err)
		}
		if len(recs) == 0 {
			it.done = true
		}
		it.buf = recs
	}
	r := it.buf[0]
	it.buf = it.buf[1:]
	return fsys.DirEntry{
		Path: path.Join(it.parent, r.Name),
		Name: r.Name,
		Attr: entryAttr(r),
	}, nil
}

func (it *dirIter) Close() error {
	it.done, it.buf = true, nil
	return it.h.Close()
}
