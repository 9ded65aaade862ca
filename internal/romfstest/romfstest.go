// Package romfstest builds RomFS archive images for tests.
package romfstest

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// None is the list terminator written into every empty link.
const None uint32 = 0xFFFFFFFF

const headerSize = 0x50

// Entry is one file or directory placed in an archive. Parent directories
// are created implicitly.
type Entry struct {
	Path string // slash separated, without a leading slash
	Data []byte
	Dir  bool
}

// File returns an Entry for a regular file.
func File(name, data string) Entry {
	return Entry{Path: name, Data: []byte(data)}
}

// Dir returns an Entry for an empty directory.
func Dir(name string) Entry {
	return Entry{Path: name, Dir: true}
}

// Options shape the generated tables.
type Options struct {
	// DirBuckets and FileBuckets are the hash table sizes. Zero means 1.
	DirBuckets  uint32
	FileBuckets uint32
}

// Image is a built archive plus the positions tests need to damage it.
type Image struct {
	Bytes []byte

	DirHashOff, DirTableOff   uint64
	FileHashOff, FileTableOff uint64
	DataOff                   uint64

	// Dirs and Files map entry paths to their record offsets within their
	// tables. The root directory is "".
	Dirs  map[string]uint32
	Files map[string]uint32
}

// DirRecord returns the slice of Bytes holding the directory record at off.
func (img *Image) DirRecord(off uint32) []byte {
	return img.Bytes[img.DirTableOff+uint64(off):]
}

// FileRecord returns the slice of Bytes holding the file record at off.
func (img *Image) FileRecord(off uint32) []byte {
	return img.Bytes[img.FileTableOff+uint64(off):]
}

// Hash is the bucket function archives are indexed with.
func Hash(parent uint32, name string, buckets uint32) uint32 {
	h := parent ^ 123456789
	for i := 0; i < len(name); i++ {
		h = (h >> 5) | (h << 27)
		h ^= uint32(name[i])
	}
	return h % buckets
}

type dirNode struct {
	path     string
	off      uint32
	dirs     []string
	files    []string
	nextHash uint32
}

type fileNode struct {
	path     string
	data     []byte
	off      uint32
	dataOff  uint64
	nextHash uint32
}

func align(n, a uint64) uint64 {
	return (n + a - 1) &^ (a - 1)
}

// Build lays out an archive holding entries. Directory records come first
// in path order, then file records in path order; file data is 16-byte
// aligned.
func Build(entries []Entry, opts Options) (*Image, error) {
	if opts.DirBuckets == 0 {
		opts.DirBuckets = 1
	}
	if opts.FileBuckets == 0 {
		opts.FileBuckets = 1
	}

	dirs := map[string]*dirNode{"": {path: ""}}
	files := map[string]*fileNode{}
	var addDir func(p string)
	addDir = func(p string) {
		if _, ok := dirs[p]; ok {
			return
		}
		parent := parentOf(p)
		addDir(parent)
		dirs[p] = &dirNode{path: p}
		dirs[parent].dirs = append(dirs[parent].dirs, p)
	}
	for _, e := range entries {
		p := strings.Trim(e.Path, "/")
		if p == "" {
			return nil, fmt.Errorf("romfstest: empty path")
		}
		if e.Dir {
			addDir(p)
			continue
		}
		if _, ok := files[p]; ok {
			return nil, fmt.Errorf("romfstest: duplicate file %q", p)
		}
		parent := parentOf(p)
		addDir(parent)
		files[p] = &fileNode{path: p, data: e.Data}
		dirs[parent].files = append(dirs[parent].files, p)
	}
	for p := range files {
		if _, ok := dirs[p]; ok {
			return nil, fmt.Errorf("romfstest: %q is both a file and a directory", p)
		}
	}

	dirOrder := sortedKeys(dirs)
	fileOrder := sortedKeys(files)

	var dirTableSize uint64
	for _, p := range dirOrder {
		dirs[p].off = uint32(dirTableSize)
		dirTableSize += 0x18 + align(uint64(len(baseName(p))), 4)
	}
	var fileTableSize, dataSize uint64
	for _, p := range fileOrder {
		f := files[p]
		f.off = uint32(fileTableSize)
		fileTableSize += 0x20 + align(uint64(len(baseName(p))), 4)
		dataSize = align(dataSize, 16)
		f.dataOff = dataSize
		dataSize += uint64(len(f.data))
	}

	img := &Image{Dirs: map[string]uint32{}, Files: map[string]uint32{}}
	img.DirHashOff = headerSize
	img.DirTableOff = img.DirHashOff + 4*uint64(opts.DirBuckets)
	img.FileHashOff = img.DirTableOff + dirTableSize
	img.FileTableOff = img.FileHashOff + 4*uint64(opts.FileBuckets)
	img.DataOff = align(img.FileTableOff+fileTableSize, 16)

	dirHash := make([]uint32, opts.DirBuckets)
	fileHash := make([]uint32, opts.FileBuckets)
	for i := range dirHash {
		dirHash[i] = None
	}
	for i := range fileHash {
		fileHash[i] = None
	}
	for _, p := range dirOrder[1:] {
		d := dirs[p]
		b := Hash(dirs[parentOf(p)].off, baseName(p), opts.DirBuckets)
		d.nextHash, dirHash[b] = dirHash[b], d.off
	}
	for _, p := range fileOrder {
		f := files[p]
		b := Hash(dirs[parentOf(p)].off, baseName(p), opts.FileBuckets)
		f.nextHash, fileHash[b] = fileHash[b], f.off
	}

	buf := make([]byte, img.DataOff+dataSize)
	le := binary.LittleEndian
	for i, v := range []uint64{
		headerSize,
		img.DirHashOff, 4 * uint64(opts.DirBuckets),
		img.DirTableOff, dirTableSize,
		img.FileHashOff, 4 * uint64(opts.FileBuckets),
		img.FileTableOff, fileTableSize,
		img.DataOff,
	} {
		le.PutUint64(buf[i*8:], v)
	}
	for i, v := range dirHash {
		le.PutUint32(buf[img.DirHashOff+uint64(i)*4:], v)
	}
	for i, v := range fileHash {
		le.PutUint32(buf[img.FileHashOff+uint64(i)*4:], v)
	}

	for _, p := range dirOrder {
		d := dirs[p]
		sort.Strings(d.dirs)
		sort.Strings(d.files)
		rec := buf[img.DirTableOff+uint64(d.off):]
		name := baseName(p)
		parent := None
		if p != "" {
			parent = dirs[parentOf(p)].off
		}
		le.PutUint32(rec[0x00:], parent)
		le.PutUint32(rec[0x04:], siblingDir(dirs, p))
		le.PutUint32(rec[0x08:], firstDir(dirs, d))
		le.PutUint32(rec[0x0C:], firstFile(files, d))
		le.PutUint32(rec[0x10:], d.nextHash)
		le.PutUint32(rec[0x14:], uint32(len(name)))
		copy(rec[0x18:], name)
		img.Dirs[p] = d.off
	}
	for _, p := range fileOrder {
		f := files[p]
		rec := buf[img.FileTableOff+uint64(f.off):]
		name := baseName(p)
		le.PutUint32(rec[0x00:], dirs[parentOf(p)].off)
		le.PutUint32(rec[0x04:], siblingFile(dirs, files, p))
		le.PutUint64(rec[0x08:], f.dataOff)
		le.PutUint64(rec[0x10:], uint64(len(f.data)))
		le.PutUint32(rec[0x18:], f.nextHash)
		le.PutUint32(rec[0x1C:], uint32(len(name)))
		copy(rec[0x20:], name)
		copy(buf[img.DataOff+f.dataOff:], f.data)
		img.Files[p] = f.off
	}

	img.Bytes = buf
	return img, nil
}

// MustBuild is Build for fixed test inputs.
func MustBuild(entries []Entry, opts Options) *Image {
	img, err := Build(entries, opts)
	if err != nil {
		panic(err)
	}
	return img
}

func parentOf(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

// baseName returns the last element of p; the root has an empty name.
func baseName(p string) string {
	return p[strings.LastIndexByte(p, '/')+1:]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func siblingDir(dirs map[string]*dirNode, p string) uint32 {
	if p == "" {
		return None
	}
	return nextOf(dirs[parentOf(p)].dirs, p, func(s string) uint32 { return dirs[s].off })
}

func siblingFile(dirs map[string]*dirNode, files map[string]*fileNode, p string) uint32 {
	return nextOf(dirs[parentOf(p)].files, p, func(s string) uint32 { return files[s].off })
}

func nextOf(list []string, p string, off func(string) uint32) uint32 {
	for i, s := range list {
		if s == p && i+1 < len(list) {
			return off(list[i+1])
		}
	}
	return None
}

func firstDir(dirs map[string]*dirNode, d *dirNode) uint32 {
	if len(d.dirs) == 0 {
		return None
	}
	return dirs[d.dirs[0]].off
}

func firstFile(files map[string]*fileNode, d *dirNode) uint32 {
	if len(d.files) == 0 {
		return None
	}
	return files[d.files[0]].off
}

// WrapNRO embeds romfs in a minimal homebrew executable image: an NRO
// header declaring a body of nroSize bytes, followed by an asset header
// whose romfs section points at the archive.
func WrapNRO(romfs []byte) []byte {
	const nroSize = 0x1000
	const assetHeaderSize = 0x38

	buf := make([]byte, nroSize+assetHeaderSize+len(romfs))
	le := binary.LittleEndian
	copy(buf[0x10:], "NRO0")
	le.PutUint32(buf[0x18:], nroSize)

	asset := buf[nroSize:]
	copy(asset, "ASET")
	le.PutUint32(asset[0x04:], 0)
	// icon and nacp sections stay empty
	le.PutUint64(asset[0x28:], assetHeaderSize)
	le.PutUint64(asset[0x30:], uint64(len(romfs)))
	copy(asset[assetHeaderSize:], romfs)
	return buf
}
