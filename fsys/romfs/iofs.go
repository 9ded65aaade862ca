package romfs

import (
	"io"
	"io/fs"
	"path"
	"sort"
	"time"

	"github.com/lvdlvd/romfs/fsys"
)

// IOFS returns an io/fs view of the archive. Unlike the provider
// interface, the view can stat entries.
func (f *FS) IOFS() fsys.FS {
	return &ioFS{fs: f}
}

type ioFS struct {
	fs *FS
}

var (
	_ fsys.FS           = (*ioFS)(nil)
	_ fsys.ExtentMapper = (*ioFS)(nil)
)

func (v *ioFS) Type() string { return v.fs.Type() }
func (v *ioFS) Close() error { return v.fs.Close() }

// node is a resolved io/fs name: a directory or a file record.
type node struct {
	isDir bool
	dir   DirRecord
	file  FileRecord
}

func (n node) name() string {
	if n.isDir {
		if n.dir.Parent == none || n.dir.Offset == 0 {
			return "."
		}
		return string(n.dir.Name)
	}
	return string(n.file.Name)
}

func (n node) info() *romFileInfo {
	if n.isDir {
		return &romFileInfo{name: n.name(), isDir: true, inode: uint64(n.dir.Offset)}
	}
	return &romFileInfo{name: n.name(), size: int64(n.file.DataSize), inode: uint64(n.file.Offset)}
}

// lookup resolves an io/fs name, trying a directory before a file.
func (v *ioFS) lookup(op, name string) (node, error) {
	if !fs.ValidPath(name) {
		return node{}, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	x := v.fs.index
	if name == "." {
		root, err := x.Root()
		if err != nil {
			return node{}, &fs.PathError{Op: op, Path: name, Err: err}
		}
		return node{isDir: true, dir: root}, nil
	}

	dir, leaf := path.Split("/" + name)
	parent, err := x.ResolveDir(dir)
	if err != nil {
		return node{}, &fs.PathError{Op: op, Path: name, Err: err}
	}
	d, ok, err := x.FindDir(parent, []byte(leaf))
	if err != nil {
		return node{}, &fs.PathError{Op: op, Path: name, Err: err}
	}
	if ok {
		return node{isDir: true, dir: d}, nil
	}
	file, ok, err := x.FindFile(parent, []byte(leaf))
	if err != nil {
		return node{}, &fs.PathError{Op: op, Path: name, Err: err}
	}
	if !ok {
		return node{}, &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}
	return node{file: file}, nil
}

func (v *ioFS) Open(name string) (fs.File, error) {
	n, err := v.lookup("open", name)
	if err != nil {
		return nil, err
	}
	if n.isDir {
		return &romDir{info: n.info(), iter: newDirIter(v.fs.index, "/"+name, n.dir)}, nil
	}
	f, err := v.fs.openRecord(name, n.file)
	if err != nil {
		return nil, err
	}
	return &romFile{File: f, info: n.info()}, nil
}

func (v *ioFS) Stat(name string) (fs.FileInfo, error) {
	n, err := v.lookup("stat", name)
	if err != nil {
		return nil, err
	}
	return n.info(), nil
}

// ReadDir returns the entries of name sorted by file name.
func (v *ioFS) ReadDir(name string) ([]fs.DirEntry, error) {
	file, err := v.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dir, ok := file.(fs.ReadDirFile)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	entries, err := dir.ReadDir(-1)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, err
}

// FileExtents returns the single extent holding a file's data.
func (v *ioFS) FileExtents(name string) ([]fsys.Extent, error) {
	n, err := v.lookup("extents", name)
	if err != nil {
		return nil, err
	}
	if n.isDir {
		return nil, &fs.PathError{Op: "extents", Path: name, Err: fs.ErrInvalid}
	}
	start, err := v.fs.dataStart(n.file)
	if err != nil {
		return nil, &fs.PathError{Op: "extents", Path: name, Err: err}
	}
	return []fsys.Extent{{Logical: 0, Physical: start, Length: int64(n.file.DataSize)}}, nil
}

// romFile implements fs.File, io.Seeker and io.ReaderAt for regular files
type romFile struct {
	*File
	info *romFileInfo
}

func (f *romFile) Stat() (fs.FileInfo, error) { return f.info, nil }

// romDir implements fs.File and fs.ReadDirFile for directories
type romDir struct {
	info *romFileInfo
	iter *dirIter
}

func (d *romDir) Stat() (fs.FileInfo, error) { return d.info, nil }

func (d *romDir) Read(b []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: fs.ErrInvalid}
}

func (d *romDir) Close() error { return d.iter.Close() }

func (d *romDir) ReadDir(n int) ([]fs.DirEntry, error) {
	var entries []fs.DirEntry
	for n <= 0 || len(entries) < n {
		e, err := d.iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, &romDirEntry{info: &romFileInfo{
			name:  e.Name,
			size:  e.Attr.Size,
			isDir: e.Attr.Type.IsDir(),
		}})
	}
	if n > 0 && len(entries) == 0 {
		return nil, io.EOF
	}
	return entries, nil
}

// romDirEntry implements fs.DirEntry
type romDirEntry struct {
	info *romFileInfo
}

func (e *romDirEntry) Name() string               { return e.info.name }
func (e *romDirEntry) IsDir() bool                { return e.info.isDir }
func (e *romDirEntry) Type() fs.FileMode          { return e.info.Mode().Type() }
func (e *romDirEntry) Info() (fs.FileInfo, error) { return e.info, nil }

// romFileInfo implements fsys.FileInfo
type romFileInfo struct {
	name  string
	size  int64
	isDir bool
	inode uint64
}

func (i *romFileInfo) Name() string       { return i.name }
func (i *romFileInfo) Size() int64        { return i.size }
func (i *romFileInfo) ModTime() time.Time { return time.Time{} }
func (i *romFileInfo) IsDir() bool        { return i.isDir }
func (i *romFileInfo) Sys() any           { return nil }
func (i *romFileInfo) Inode() uint64      { return i.inode }

func (i *romFileInfo) Mode() fs.FileMode {
	if i.isDir {
		return fs.ModeDir | 0555
	}
	return 0444
}
