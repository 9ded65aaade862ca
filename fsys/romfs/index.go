package romfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"math/bits"
	"strings"

	arc "github.com/hashicorp/golang-lru/arc/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lvdlvd/romfs/fsys"
)

// Options tune how an archive is indexed.
type Options struct {
	// CacheSize is the number of resolved directory paths remembered by
	// ResolveDir. Zero disables the cache.
	CacheSize int

	// NativeFileBuckets hashes file names modulo the file hash table's
	// bucket count. By default the directory table's bucket count is used
	// for files too, which only agrees with archives whose two hash tables
	// have the same number of buckets.
	NativeFileBuckets bool
}

// DefaultOptions returns the options used by the CLI and mount tables.
func DefaultOptions() Options {
	return Options{CacheSize: 256}
}

// Index holds the parsed tables of an archive. It is immutable after
// OpenIndex returns and safe for concurrent use.
type Index struct {
	header   Header
	dirHash  []uint32
	fileHash []uint32
	dirs     *entityTable[DirRecord]
	files    *entityTable[FileRecord]

	nativeFileBuckets bool
	cache             *arc.ARCCache[string, uint32]
}

// OpenIndex reads the header and all four tables of the archive starting
// at start within r.
func OpenIndex(r io.ReaderAt, start int64, opts Options) (*Index, error) {
	buf := make([]byte, HeaderSize)
	if err := readFull(r, start, buf); err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}

	// Refuse to allocate tables the source cannot contain.
	if sized, ok := r.(interface{ Size() int64 }); ok {
		avail := sized.Size() - start
		for _, reg := range h.regions() {
			if int64(reg.off+reg.size) > avail {
				return nil, errors.Wrapf(io.ErrUnexpectedEOF, "%s ends at %#x, archive is %#x bytes", reg.name, reg.off+reg.size, avail)
			}
		}
	}

	x := &Index{header: h, nativeFileBuckets: opts.NativeFileBuckets}

	if x.dirHash, err = readHashTable(r, start, h.DirHashTableOff, h.DirHashTableSize); err != nil {
		return nil, errors.Wrap(err, "reading directory hash table")
	}
	dirs := make([]byte, h.DirTableSize)
	if err := readFull(r, start+int64(h.DirTableOff), dirs); err != nil {
		return nil, errors.Wrap(err, "reading directory table")
	}
	if x.fileHash, err = readHashTable(r, start, h.FileHashTableOff, h.FileHashTableSize); err != nil {
		return nil, errors.Wrap(err, "reading file hash table")
	}
	files := make([]byte, h.FileTableSize)
	if err := readFull(r, start+int64(h.FileTableOff), files); err != nil {
		return nil, errors.Wrap(err, "reading file table")
	}
	x.dirs = newDirTable(dirs)
	x.files = newFileTable(files)

	if opts.CacheSize > 0 {
		if x.cache, err = arc.NewARC[string, uint32](opts.CacheSize); err != nil {
			return nil, errors.Wrap(err, "creating directory cache")
		}
	}

	log.Debugf("romfs: index at %#x: %d dir buckets, %d file buckets, %d+%d table bytes",
		start, len(x.dirHash), len(x.fileHash), len(dirs), len(files))
	return x, nil
}

func readFull(r io.ReaderAt, off int64, p []byte) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func readHashTable(r io.ReaderAt, start int64, off, size uint64) ([]uint32, error) {
	raw := make([]byte, size)
	if err := readFull(r, start+int64(off), raw); err != nil {
		return nil, err
	}
	table := make([]uint32, size/4)
	for i := range table {
		table[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return table, nil
}

// Header returns the archive header.
func (x *Index) Header() Header { return x.header }

// Hash selects the bucket of the entry called name under the directory at
// table offset parent. buckets must be non-zero.
func Hash(parent uint32, name []byte, buckets uint32) uint32 {
	h := parent ^ hashSeed
	for _, c := range name {
		h = bits.RotateLeft32(h, -5) ^ uint32(c)
	}
	return h % buckets
}

// Root returns the root directory record.
func (x *Index) Root() (DirRecord, error) {
	return x.dirs.get(0)
}

// Dir returns the directory record at off.
func (x *Index) Dir(off uint32) (DirRecord, error) {
	return x.dirs.get(off)
}

// File returns the file record at off.
func (x *Index) File(off uint32) (FileRecord, error) {
	return x.files.get(off)
}

// FindDir looks up the subdirectory called name directly under parent.
// Names compare byte for byte.
func (x *Index) FindDir(parent DirRecord, name []byte) (DirRecord, bool, error) {
	b := Hash(parent.Offset, name, uint32(len(x.dirHash)))
	w := walkChain(x.dirs, x.dirHash[b], dirNext)
	for w.Next() {
		r := w.Record()
		if r.Parent == parent.Offset && bytes.Equal(r.Name, name) {
			return r, true, nil
		}
	}
	return DirRecord{}, false, w.Err()
}

// FindFile looks up the file called name directly under parent.
func (x *Index) FindFile(parent DirRecord, name []byte) (FileRecord, bool, error) {
	buckets := uint32(len(x.dirHash))
	if x.nativeFileBuckets {
		buckets = uint32(len(x.fileHash))
	}
	if buckets == 0 {
		return FileRecord{}, false, nil
	}
	b := Hash(parent.Offset, name, buckets)
	if int(b) >= len(x.fileHash) {
		return FileRecord{}, false, &fsys.CorruptError{
			Table:  "file hash",
			Offset: b * 4,
			Reason: fmt.Sprintf("bucket %d outside a %d-bucket table", b, len(x.fileHash)),
		}
	}
	w := walkChain(x.files, x.fileHash[b], fileNext)
	for w.Next() {
		r := w.Record()
		if r.Parent == parent.Offset && bytes.Equal(r.Name, name) {
			return r, true, nil
		}
	}
	return FileRecord{}, false, w.Err()
}

// ResolveDir walks p from the root directory. p must start with "/".
// Empty and "." components are ignored and ".." moves to the parent
// directory; ".." at the root stays at the root.
func (x *Index) ResolveDir(p string) (DirRecord, error) {
	if !strings.HasPrefix(p, "/") {
		return DirRecord{}, errors.Wrapf(fs.ErrInvalid, "path %q is not rooted", p)
	}
	if x.cache != nil {
		if off, ok := x.cache.Get(p); ok {
			return x.dirs.get(off)
		}
	}

	cur, err := x.Root()
	if err != nil {
		return DirRecord{}, err
	}
	for _, c := range strings.Split(p, "/") {
		switch c {
		case "", ".":
		case "..":
			if cur.Parent == none {
				continue
			}
			if cur, err = x.dirs.get(cur.Parent); err != nil {
				return DirRecord{}, err
			}
		default:
			next, ok, err := x.FindDir(cur, []byte(c))
			if err != nil {
				return DirRecord{}, err
			}
			if !ok {
				return DirRecord{}, fs.ErrNotExist
			}
			cur = next
		}
	}

	if x.cache != nil {
		x.cache.Add(p, cur.Offset)
	}
	return cur, nil
}
