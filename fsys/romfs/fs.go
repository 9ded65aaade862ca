package romfs

import (
	"io/fs"
	"math"
	"path"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lvdlvd/romfs/fsys"
)

// FS is a mounted RomFS archive. It implements fsys.Provider; only Open
// and ReadDir are supported.
type FS struct {
	src   fsys.Source
	start int64
	index *Index
}

var _ fsys.Provider = (*FS)(nil)

// Open indexes the archive starting at start within src. The returned FS
// owns src: every opened file reads through its own view reopened from
// src, and Close releases src itself.
func Open(src fsys.Source, start int64, opts Options) (*FS, error) {
	idx, err := OpenIndex(src, start, opts)
	if err != nil {
		return nil, err
	}
	log.Debugf("romfs: mounted archive at %#x, file data at %#x", start, idx.header.FileDataOff)
	return &FS{src: src, start: start, index: idx}, nil
}

// Index returns the parsed tables.
func (f *FS) Index() *Index { return f.index }

// Type returns the filesystem type name.
func (f *FS) Type() string { return "RomFS" }

// Close releases the filesystem's view of its source. Files opened from
// f hold their own views and stay readable.
func (f *FS) Close() error { return f.src.Close() }

func (f *FS) Open(name string, opts fsys.OpenOptions) (fsys.File, error) {
	if opts.Writes() {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fsys.ErrReadOnly}
	}

	rec, found, err := f.lookupFile(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	switch {
	case found && opts.Create && opts.CreateNew:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrExist}
	case found:
		return f.openRecord(name, rec)
	case opts.Create:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fsys.ErrReadOnly}
	default:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
}

// lookupFile resolves the parent directory of name and looks up its last
// element as a file.
func (f *FS) lookupFile(name string) (FileRecord, bool, error) {
	dir, leaf := path.Split(name)
	if leaf == "" {
		return FileRecord{}, false, nil
	}
	parent, err := f.index.ResolveDir(dir)
	if err != nil {
		return FileRecord{}, false, err
	}
	return f.index.FindFile(parent, []byte(leaf))
}

func (f *FS) openRecord(name string, rec FileRecord) (*File, error) {
	start, err := f.dataStart(rec)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	view, err := f.src.Reopen()
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: errors.Wrap(err, "reopen source")}
	}
	return newFile(name, view, start, int64(rec.DataSize)), nil
}

// dataStart returns the absolute source offset of rec's data.
func (f *FS) dataStart(rec FileRecord) (int64, error) {
	base := uint64(f.start) + f.index.header.FileDataOff
	if rec.DataOff > math.MaxInt64-base || rec.DataSize > math.MaxInt64-base-rec.DataOff {
		return 0, &fsys.CorruptError{Table: "file", Offset: rec.Offset, Reason: "data range overflows"}
	}
	return int64(base + rec.DataOff), nil
}

func (f *FS) ReadDir(name string) (fsys.DirIter, error) {
	dir, err := f.index.ResolveDir(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	return newDirIter(f.index, name, dir), nil
}

func (f *FS) Unlink(name string) error { return fsys.Unsupported("unlink", name) }

func (f *FS) Rename(oldname, newname string) error { return fsys.Unsupported("rename", oldname) }

func (f *FS) SetPerm(name string, perm fs.FileMode) error {
	return fsys.Unsupported("setperm", name)
}

func (f *FS) Rmdir(name string) error { return fsys.Unsupported("rmdir", name) }

func (f *FS) RemoveAll(name string) error { return fsys.Unsupported("removeall", name) }

func (f *FS) Readlink(name string) (string, error) { return "", fsys.Unsupported("readlink", name) }

func (f *FS) Stat(name string) (fsys.FileAttr, error) {
	return fsys.FileAttr{}, fsys.Unsupported("stat", name)
}

func (f *FS) Lstat(name string) (fsys.FileAttr, error) {
	return fsys.FileAttr{}, fsys.Unsupported("lstat", name)
}

func (f *FS) Canonicalize(name string) (string, error) {
	return "", fsys.Unsupported("canonicalize", name)
}
