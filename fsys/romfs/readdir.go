package romfs

import (
	"io"
	"path"

	"github.com/lvdlvd/romfs/fsys"
)

// dirIter lists a directory: every child directory in sibling order, then
// every child file in sibling order.
type dirIter struct {
	path    string
	dirs    *entityTable[DirRecord]
	files   *entityTable[FileRecord]
	curDir  uint32
	curFile uint32
	n       int
}

func newDirIter(x *Index, name string, dir DirRecord) *dirIter {
	return &dirIter{
		path:    name,
		dirs:    x.dirs,
		files:   x.files,
		curDir:  dir.ChildDir,
		curFile: dir.ChildFile,
	}
}

func (it *dirIter) Next() (fsys.DirEntry, error) {
	if it.curDir == none && it.curFile == none {
		return fsys.DirEntry{}, io.EOF
	}
	if it.n >= it.dirs.limit()+it.files.limit() {
		err := it.dirs.corrupt(it.curDir, "sibling list does not terminate")
		if it.curDir == none {
			err = it.files.corrupt(it.curFile, "sibling list does not terminate")
		}
		it.stop()
		return fsys.DirEntry{}, err
	}
	it.n++

	if it.curDir == none {
		rec, err := it.files.get(it.curFile)
		if err != nil {
			it.stop()
			return fsys.DirEntry{}, err
		}
		it.curFile = rec.Sibling
		return it.entry(rec.Name, fsys.FileAttr{Size: int64(rec.DataSize), Type: fsys.TypeFile, Mode: 0444}), nil
	}

	rec, err := it.dirs.get(it.curDir)
	if err != nil {
		it.stop()
		return fsys.DirEntry{}, err
	}
	it.curDir = rec.Sibling
	return it.entry(rec.Name, fsys.FileAttr{Type: fsys.TypeDir, Mode: 0555}), nil
}

func (it *dirIter) entry(name []byte, attr fsys.FileAttr) fsys.DirEntry {
	return fsys.DirEntry{
		Path: path.Join(it.path, string(name)),
		Name: string(name),
		Attr: attr,
	}
}

// stop makes the iterator terminal.
func (it *dirIter) stop() {
	it.curDir, it.curFile = none, none
}

func (it *dirIter) Close() error {
	it.stop()
	return nil
}
