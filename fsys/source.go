package fsys

import (
	"bytes"
	"io"
	"io/fs"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// Source is the backing resource an archive is read from. Every Reopen
// returns an independent view of the same resource; Close releases only
// that view. Views never share a cursor, so they can be used from
// different goroutines without coordination.
type Source interface {
	io.ReaderAt

	// Size returns the length of the resource in bytes.
	Size() int64

	Reopen() (Source, error)
	Close() error
}

// mapping is a memory-mapped file shared by every view reopened from the
// same OpenSource call. It is unmapped when the last view is closed.
type mapping struct {
	r    *mmap.ReaderAt
	refs atomic.Int32
}

type mmapSource struct {
	m      *mapping
	closed atomic.Bool
}

// OpenSource maps the host file at path read-only.
func OpenSource(path string) (Source, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "mapping %s", path)
	}
	m := &mapping{r: r}
	m.refs.Store(1)
	return &mmapSource{m: m}, nil
}

func (s *mmapSource) ReadAt(p []byte, off int64) (int, error) {
	if s.closed.Load() {
		return 0, fs.ErrClosed
	}
	return s.m.r.ReadAt(p, off)
}

func (s *mmapSource) Size() int64 { return int64(s.m.r.Len()) }

func (s *mmapSource) Reopen() (Source, error) {
	if s.closed.Load() {
		return nil, fs.ErrClosed
	}
	s.m.refs.Add(1)
	return &mmapSource{m: s.m}, nil
}

func (s *mmapSource) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fs.ErrClosed
	}
	if s.m.refs.Add(-1) == 0 {
		return s.m.r.Close()
	}
	return nil
}

type bytesSource struct {
	data []byte
	r    *bytes.Reader
}

// NewBytesSource returns a Source over an in-memory archive image.
func NewBytesSource(data []byte) Source {
	return &bytesSource{data: data, r: bytes.NewReader(data)}
}

func (s *bytesSource) ReadAt(p []byte, off int64) (int, error) { return s.r.ReadAt(p, off) }
func (s *bytesSource) Size() int64                              { return int64(len(s.data)) }
func (s *bytesSource) Reopen() (Source, error)                  { return NewBytesSource(s.data), nil }
func (s *bytesSource) Close() error                             { return nil }

// fileSource reads an archive stored as a file on another provider. The
// handle only exposes a cursor, so every positioned read is a seek
// followed by reads, serialized per view.
type fileSource struct {
	mu   sync.Mutex
	f    File
	size int64
}

// NewFileSource wraps a file opened on a provider. The Source owns f.
func NewFileSource(f File) (Source, error) {
	attr, err := f.Attr()
	if err != nil {
		return nil, errors.Wrap(err, "stat archive file")
	}
	return &fileSource{f: f, size: attr.Size}, nil
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.f.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(s.f, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func (s *fileSource) Size() int64 { return s.size }

func (s *fileSource) Reopen() (Source, error) {
	f, err := s.f.Reopen()
	if err != nil {
		return nil, errors.Wrap(err, "reopen archive file")
	}
	return &fileSource{f: f, size: s.size}, nil
}

func (s *fileSource) Close() error { return s.f.Close() }

// extentSource is a Source over a window of another Source, for an archive
// stored as a file inside another archive.
type extentSource struct {
	*ExtentReaderAt
	base    Source
	extents []Extent
}

// NewExtentSource returns a Source reading the given extents of base. The
// Source owns base. Views opened over the result read base's underlying
// reader directly.
func NewExtentSource(base Source, extents []Extent, size int64) Source {
	return &extentSource{
		ExtentReaderAt: NewExtentReaderAt(base, extents, size),
		base:           base,
		extents:        extents,
	}
}

func (s *extentSource) Reopen() (Source, error) {
	b, err := s.base.Reopen()
	if err != nil {
		return nil, err
	}
	return NewExtentSource(b, s.extents, s.Size()), nil
}

func (s *extentSource) Close() error { return s.base.Close() }
