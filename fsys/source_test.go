package fsys

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestMmapSourceReopen(t *testing.T) {
	name := filepath.Join(t.TempDir(), "archive.bin")
	data := pattern(4096)
	if err := os.WriteFile(name, data, 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := OpenSource(name)
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	if src.Size() != int64(len(data)) {
		t.Errorf("Size() = %d, want %d", src.Size(), len(data))
	}

	view, err := src.Reopen()
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if got := src.(*mmapSource).m.refs.Load(); got != 2 {
		t.Errorf("refs after Reopen = %d, want 2", got)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := src.Close(); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}

	buf := make([]byte, 16)
	if _, err := view.ReadAt(buf, 1000); err != nil {
		t.Fatalf("ReadAt on surviving view: %v", err)
	}
	if !bytes.Equal(buf, data[1000:1016]) {
		t.Errorf("ReadAt = %v, want %v", buf, data[1000:1016])
	}
	if _, err := src.ReadAt(buf, 0); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("ReadAt on closed view = %v, want ErrClosed", err)
	}
	if _, err := src.Reopen(); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("Reopen on closed view = %v, want ErrClosed", err)
	}

	if err := view.Close(); err != nil {
		t.Fatalf("Close last view: %v", err)
	}
	if got := view.(*mmapSource).m.refs.Load(); got != 0 {
		t.Errorf("refs after last Close = %d, want 0", got)
	}
}

func TestOpenSourceMissing(t *testing.T) {
	if _, err := OpenSource(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("OpenSource(missing) = %v, want ErrNotExist", err)
	}
}

func TestBytesSource(t *testing.T) {
	src := NewBytesSource([]byte("romfs image"))
	view, err := src.Reopen()
	if err != nil {
		t.Fatal(err)
	}
	src.Close()

	buf := make([]byte, 5)
	if _, err := view.ReadAt(buf, 6); err != nil || string(buf) != "image" {
		t.Errorf("ReadAt = %q, %v", buf, err)
	}
	if view.Size() != 11 {
		t.Errorf("Size() = %d", view.Size())
	}
}

// memFile is a File over a byte slice.
type memFile struct {
	r      *bytes.Reader
	data   []byte
	closed bool
}

func newMemFile(data []byte) *memFile {
	return &memFile{r: bytes.NewReader(data), data: data}
}

func (f *memFile) Read(p []byte) (int, error)                   { return f.r.Read(p) }
func (f *memFile) Write(p []byte) (int, error)                  { return 0, ErrReadOnly }
func (f *memFile) Seek(off int64, whence int) (int64, error)    { return f.r.Seek(off, whence) }
func (f *memFile) Attr() (FileAttr, error)                      { return FileAttr{Size: int64(len(f.data))}, nil }
func (f *memFile) Sync() error                                  { return nil }
func (f *memFile) Datasync() error                              { return nil }
func (f *memFile) Truncate(int64) error                         { return ErrReadOnly }
func (f *memFile) Flush() error                                 { return nil }
func (f *memFile) Duplicate() (File, error)                     { return nil, ErrUnsupported }
func (f *memFile) Reopen() (File, error)                        { return newMemFile(f.data), nil }
func (f *memFile) SetPermissions(fs.FileMode) error             { return ErrUnsupported }
func (f *memFile) Close() error                                 { f.closed = true; return nil }

func TestFileSource(t *testing.T) {
	data := pattern(300)
	f := newMemFile(data)
	src, err := NewFileSource(f)
	if err != nil {
		t.Fatal(err)
	}
	if src.Size() != 300 {
		t.Errorf("Size() = %d", src.Size())
	}

	buf := make([]byte, 20)
	if n, err := src.ReadAt(buf, 100); n != 20 || err != nil {
		t.Fatalf("ReadAt = %d, %v", n, err)
	}
	if !bytes.Equal(buf, data[100:120]) {
		t.Errorf("ReadAt = %v", buf)
	}

	if n, err := src.ReadAt(buf, 290); n != 10 || err != io.EOF {
		t.Errorf("ReadAt across the end = %d, %v; want 10, EOF", n, err)
	}

	view, err := src.Reopen()
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Close(); err != nil || !f.closed {
		t.Errorf("Close = %v, closed = %v", err, f.closed)
	}
	if _, err := view.ReadAt(buf, 0); err != nil || !bytes.Equal(buf, data[:20]) {
		t.Errorf("ReadAt on reopened view = %v, %v", buf, err)
	}
}

func TestExtentSource(t *testing.T) {
	base := NewBytesSource(pattern(10000))
	outer := NewExtentSource(base, []Extent{{Logical: 0, Physical: 1000, Length: 5000}}, 5000)
	inner := NewExtentSource(outer, []Extent{{Logical: 0, Physical: 600, Length: 300}}, 300)

	if got := inner.(*extentSource).r; got != base {
		t.Errorf("nested source reads from %T, want the base source", got)
	}
	if inner.Size() != 300 {
		t.Errorf("Size = %d, want 300", inner.Size())
	}

	check := func(s Source) {
		t.Helper()
		buf := make([]byte, 10)
		if _, err := s.ReadAt(buf, 290); err != nil {
			t.Fatalf("ReadAt: %v", err)
		}
		for i, b := range buf {
			if want := byte((1890 + i) % 251); b != want {
				t.Errorf("buf[%d] = %d, want %d", i, b, want)
			}
		}
		if _, err := s.ReadAt(buf, 300); err != io.EOF {
			t.Errorf("ReadAt past end = %v, want io.EOF", err)
		}
	}
	check(inner)

	view, err := inner.Reopen()
	if err != nil {
		t.Fatal(err)
	}
	if err := inner.Close(); err != nil {
		t.Fatal(err)
	}
	check(view)
	view.Close()
}
