// Package fsys defines the contracts shared by every filesystem provider:
// the path-based provider interface consumed by the volume dispatcher, the
// file handle and directory iterator contracts, and a read-only io/fs view.
package fsys

import (
	"io"
	"io/fs"
	"sort"

	"github.com/pkg/errors"
)

// Extent represents a mapping from logical file offset to physical offset
// within the backing source
type Extent struct {
	Logical  int64 // Offset within the file
	Physical int64 // Offset within the source
	Length   int64 // Length of this extent
}

// FS is the read-only io/fs view of a mounted archive.
type FS interface {
	fs.FS
	fs.ReadDirFS
	fs.StatFS

	// Type returns the filesystem type name (e.g., "RomFS")
	Type() string

	// Close releases any resources held by the filesystem
	Close() error
}

// ExtentMapper is an optional interface for filesystems that can report
// the physical location of file data within the source
type ExtentMapper interface {
	// FileExtents returns the list of extents that map a file's logical
	// offsets to physical offsets in the source. Returns error if path
	// doesn't exist or is a directory.
	FileExtents(path string) ([]Extent, error)
}

// FileInfo provides extended file information
type FileInfo interface {
	fs.FileInfo

	// Inode returns a stable entry identifier (the table offset for RomFS)
	Inode() uint64
}

// FileType distinguishes the two kinds of entries a provider can report.
type FileType uint8

const (
	TypeFile FileType = iota
	TypeDir
)

func (t FileType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDir:
		return "directory"
	default:
		return "invalid"
	}
}

// IsDir reports whether t is a directory.
func (t FileType) IsDir() bool { return t == TypeDir }

// IsRegular reports whether t is a regular file.
func (t FileType) IsRegular() bool { return t == TypeFile }

// FileAttr is the metadata a provider reports for an entry.
type FileAttr struct {
	Size int64
	Type FileType
	Mode fs.FileMode
}

// DirEntry is one record produced by a DirIter.
type DirEntry struct {
	Path string // parent path joined with Name
	Name string
	Attr FileAttr
}

// OpenOptions mirrors the flag set accepted by Provider.Open.
type OpenOptions struct {
	Read      bool
	Write     bool
	Append    bool
	Truncate  bool
	Create    bool
	CreateNew bool
}

// ReadOnly returns options for plain reading.
func ReadOnly() OpenOptions {
	return OpenOptions{Read: true}
}

// Writes reports whether the options imply modifying the file.
func (o OpenOptions) Writes() bool {
	return o.Write || o.Append || o.Truncate
}

// Provider is a filesystem backend mounted under a volume prefix. Paths
// passed to a provider are rooted at the provider ("/dir/file"). Any
// method may fail with ErrUnsupported.
type Provider interface {
	Open(name string, opts OpenOptions) (File, error)
	ReadDir(name string) (DirIter, error)
	Unlink(name string) error
	Rename(oldname, newname string) error
	SetPerm(name string, perm fs.FileMode) error
	Rmdir(name string) error
	RemoveAll(name string) error
	Readlink(name string) (string, error)
	Stat(name string) (FileAttr, error)
	Lstat(name string) (FileAttr, error)
	Canonicalize(name string) (string, error)
}

// File is an open file handle returned by a Provider.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	Attr() (FileAttr, error)
	Sync() error
	Datasync() error
	Truncate(size int64) error
	Flush() error

	// Duplicate returns a handle sharing this handle's cursor.
	Duplicate() (File, error)

	// Reopen returns a handle on the same file with an independent cursor
	// starting at zero.
	Reopen() (File, error)

	SetPermissions(perm fs.FileMode) error
}

// DirIter walks the entries of one directory. Next returns io.EOF once the
// directory is exhausted and keeps returning it afterwards.
type DirIter interface {
	Next() (DirEntry, error)
	Close() error
}

// Collect drains it and closes it.
func Collect(it DirIter) ([]DirEntry, error) {
	defer it.Close()
	var entries []DirEntry
	for {
		e, err := it.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
}

// ExtentReaderAt wraps an io.ReaderAt and a list of extents to provide
// a view of a file's data without loading it entirely into memory
type ExtentReaderAt struct {
	r       io.ReaderAt
	extents []Extent
	size    int64
}

// extentView is implemented by readers that are themselves an extent
// mapping over another reader.
type extentView interface {
	ExtentView() *ExtentReaderAt
}

// ExtentView returns e.
func (e *ExtentReaderAt) ExtentView() *ExtentReaderAt { return e }

// NewExtentReaderAt creates a new ExtentReaderAt from a base reader and extents.
// If the base reader is itself an extent view, such as an ExtentReaderAt or
// a Source from NewExtentSource, the extents are composed to create a
// flattened mapping directly to the underlying reader.
func NewExtentReaderAt(r io.ReaderAt, extents []Extent, size int64) *ExtentReaderAt {
	sorted := make([]Extent, len(extents))
	copy(sorted, extents)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Logical < sorted[j].Logical
	})

	if v, ok := r.(extentView); ok {
		inner := v.ExtentView()
		composed := ComposeExtents(sorted, inner.extents)
		return &ExtentReaderAt{r: inner.r, extents: composed, size: size}
	}

	return &ExtentReaderAt{r: r, extents: sorted, size: size}
}

// ComposeExtents takes outer extents (which map logical offsets to "physical"
// offsets in an inner coordinate space) and inner extents (which map that
// inner coordinate space to actual physical offsets), and returns composed
// extents that map directly from outer logical to actual physical.
//
// Regions of the outer extents that fall into gaps of the inner mapping are
// dropped; reads over them return zeros.
func ComposeExtents(outer, inner []Extent) []Extent {
	var composed []Extent

	for _, o := range outer {
		remaining := o.Length
		innerLogical := o.Physical
		outerLogical := o.Logical

		for remaining > 0 {
			i, found := findExtent(inner, innerLogical)
			if !found {
				nextStart := nextExtentStart(inner, innerLogical, -1)
				if nextStart < 0 {
					break
				}
				gap := min(nextStart-innerLogical, remaining)
				outerLogical += gap
				innerLogical += gap
				remaining -= gap
				continue
			}

			offsetInInner := innerLogical - i.Logical
			use := min(remaining, i.Length-offsetInInner)
			composed = append(composed, Extent{
				Logical:  outerLogical,
				Physical: i.Physical + offsetInInner,
				Length:   use,
			})
			outerLogical += use
			innerLogical += use
			remaining -= use
		}
	}

	return composed
}

// Size returns the logical size of the file
func (e *ExtentReaderAt) Size() int64 {
	return e.size
}

// Extents returns a copy of the logical to physical mapping.
func (e *ExtentReaderAt) Extents() []Extent {
	return append([]Extent(nil), e.extents...)
}

// ReadAt implements io.ReaderAt. A read that is clamped at the end of the
// view returns the short count with a nil error; a read starting at or past
// the end returns io.EOF.
func (e *ExtentReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, errors.Wrap(fs.ErrInvalid, "negative offset")
	}
	if off >= e.size {
		return 0, io.EOF
	}

	if off+int64(len(p)) > e.size {
		p = p[:e.size-off]
	}

	totalRead := 0
	remaining := len(p)

	for remaining > 0 && off < e.size {
		ext, found := findExtent(e.extents, off)
		if !found {
			// sparse region
			gapEnd := min(nextExtentStart(e.extents, off, e.size), e.size)
			zeroLen := min(int(gapEnd-off), remaining)
			clear(p[totalRead : totalRead+zeroLen])
			totalRead += zeroLen
			remaining -= zeroLen
			off += int64(zeroLen)
			continue
		}

		extentOffset := off - ext.Logical
		toRead := min(int(ext.Length-extentOffset), remaining)

		nr, err := e.r.ReadAt(p[totalRead:totalRead+toRead], ext.Physical+extentOffset)
		totalRead += nr
		remaining -= nr
		off += int64(nr)

		if err != nil && err != io.EOF {
			return totalRead, err
		}
		if nr < toRead {
			return totalRead, io.ErrUnexpectedEOF
		}
	}

	return totalRead, nil
}

func findExtent(extents []Extent, off int64) (Extent, bool) {
	for _, ext := range extents {
		if off >= ext.Logical && off < ext.Logical+ext.Length {
			return ext, true
		}
	}
	return Extent{}, false
}

// nextExtentStart returns the start of the first extent after off, or def.
func nextExtentStart(extents []Extent, off, def int64) int64 {
	next := def
	for _, ext := range extents {
		if ext.Logical > off && (next == def || ext.Logical < next) {
			next = ext.Logical
		}
	}
	return next
}
