package fsys

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"reflect"
	"testing"
)

func TestComposeExtents(t *testing.T) {
	tests := []struct {
		name     string
		outer    []Extent
		inner    []Extent
		expected []Extent
	}{
		{
			name:     "single extent",
			outer:    []Extent{{Logical: 0, Physical: 1000, Length: 100}},
			inner:    []Extent{{Logical: 1000, Physical: 5000, Length: 100}},
			expected: []Extent{{Logical: 0, Physical: 5000, Length: 100}},
		},
		{
			name:     "file inside archive inside container",
			outer:    []Extent{{Logical: 0, Physical: 0x200, Length: 64}},
			inner:    []Extent{{Logical: 0, Physical: 0x4000, Length: 0x10000}},
			expected: []Extent{{Logical: 0, Physical: 0x4200, Length: 64}},
		},
		{
			name:  "outer spans two inner extents",
			outer: []Extent{{Logical: 0, Physical: 50, Length: 100}},
			inner: []Extent{
				{Logical: 0, Physical: 1000, Length: 100},
				{Logical: 100, Physical: 2000, Length: 100},
			},
			expected: []Extent{
				{Logical: 0, Physical: 1050, Length: 50},
				{Logical: 50, Physical: 2000, Length: 50},
			},
		},
		{
			name:  "gap in inner extents",
			outer: []Extent{{Logical: 0, Physical: 50, Length: 100}},
			inner: []Extent{
				{Logical: 0, Physical: 1000, Length: 75},
				{Logical: 100, Physical: 2000, Length: 100},
			},
			expected: []Extent{
				{Logical: 0, Physical: 1050, Length: 25},
				{Logical: 50, Physical: 2000, Length: 50},
			},
		},
		{
			name:  "empty outer",
			inner: []Extent{{Logical: 0, Physical: 1000, Length: 100}},
		},
		{
			name:  "empty inner",
			outer: []Extent{{Logical: 0, Physical: 0, Length: 100}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ComposeExtents(tt.outer, tt.inner)
			if len(result) == 0 && len(tt.expected) == 0 {
				return
			}
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("ComposeExtents() =\n%v\nwant:\n%v", result, tt.expected)
			}
		})
	}
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestExtentReaderAtFlattening(t *testing.T) {
	base := bytes.NewReader(pattern(10000))

	archive := NewExtentReaderAt(base, []Extent{{Logical: 0, Physical: 1000, Length: 5000}}, 5000)
	file := NewExtentReaderAt(archive, []Extent{{Logical: 0, Physical: 600, Length: 300}}, 300)

	if file.r != base {
		t.Error("nested reader should read from the base reader directly")
	}
	want := []Extent{{Logical: 0, Physical: 1600, Length: 300}}
	if got := file.Extents(); !reflect.DeepEqual(got, want) {
		t.Errorf("Extents() = %v, want %v", got, want)
	}

	buf := make([]byte, 10)
	if _, err := file.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	for i, b := range buf {
		if want := byte((1600 + i) % 251); b != want {
			t.Errorf("buf[%d] = %d, want %d", i, b, want)
		}
	}
}

func TestExtentReaderAtBounds(t *testing.T) {
	r := NewExtentReaderAt(bytes.NewReader(pattern(100)), []Extent{{Logical: 0, Physical: 10, Length: 20}}, 20)

	buf := make([]byte, 8)
	n, err := r.ReadAt(buf, 16)
	if n != 4 || err != nil {
		t.Errorf("ReadAt across the end = %d, %v; want 4, nil", n, err)
	}
	if !bytes.Equal(buf[:4], pattern(100)[26:30]) {
		t.Errorf("ReadAt across the end read %v", buf[:4])
	}

	if n, err := r.ReadAt(buf, 20); n != 0 || err != io.EOF {
		t.Errorf("ReadAt at the end = %d, %v; want 0, EOF", n, err)
	}
	if _, err := r.ReadAt(buf, -1); !errors.Is(err, fs.ErrInvalid) {
		t.Errorf("ReadAt at a negative offset = %v, want ErrInvalid", err)
	}
}

func TestExtentReaderAtSparse(t *testing.T) {
	r := NewExtentReaderAt(bytes.NewReader(pattern(100)), []Extent{{Logical: 4, Physical: 0, Length: 4}}, 12)

	buf := bytes.Repeat([]byte{0xFF}, 12)
	n, err := r.ReadAt(buf, 0)
	if n != 12 || err != nil {
		t.Fatalf("ReadAt = %d, %v", n, err)
	}
	want := []byte{0, 0, 0, 0, 0, 1, 2, 3, 0, 0, 0, 0}
	if !bytes.Equal(buf, want) {
		t.Errorf("ReadAt = %v, want %v", buf, want)
	}
}

func TestExtentReaderAtShortSource(t *testing.T) {
	r := NewExtentReaderAt(bytes.NewReader(pattern(16)), []Extent{{Logical: 0, Physical: 8, Length: 32}}, 32)

	buf := make([]byte, 32)
	n, err := r.ReadAt(buf, 0)
	if n != 8 || err != io.ErrUnexpectedEOF {
		t.Errorf("ReadAt past the source = %d, %v; want 8, ErrUnexpectedEOF", n, err)
	}
}

func TestFileTypeString(t *testing.T) {
	if TypeFile.String() != "file" || TypeDir.String() != "directory" {
		t.Errorf("got %q and %q", TypeFile, TypeDir)
	}
	if !TypeDir.IsDir() || TypeDir.IsRegular() || !TypeFile.IsRegular() {
		t.Error("IsDir/IsRegular disagree with the type")
	}
}

func TestOpenOptionsWrites(t *testing.T) {
	tests := []struct {
		opts OpenOptions
		want bool
	}{
		{ReadOnly(), false},
		{OpenOptions{Read: true, Create: true}, false},
		{OpenOptions{Write: true}, true},
		{OpenOptions{Read: true, Append: true}, true},
		{OpenOptions{Truncate: true}, true},
	}
	for _, tt := range tests {
		if got := tt.opts.Writes(); got != tt.want {
			t.Errorf("%+v.Writes() = %v, want %v", tt.opts, got, tt.want)
		}
	}
}

func TestErrors(t *testing.T) {
	if !errors.Is(ErrReadOnly, fs.ErrPermission) {
		t.Error("ErrReadOnly should match fs.ErrPermission")
	}
	if err := Unsupported("rename", "/a"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Unsupported() = %v", err)
	}
	var wrapped error = &fs.PathError{Op: "open", Path: "/x", Err: &CorruptError{Table: "file", Offset: 8, Reason: "bad"}}
	if !errors.Is(wrapped, ErrCorrupt) {
		t.Error("CorruptError should match ErrCorrupt")
	}
	if !errors.Is(&FormatError{Field: "header_size"}, ErrFormat) {
		t.Error("FormatError should match ErrFormat")
	}
	if !errors.Is(&CrossVolumeError{Old: "a:/x", New: "b:/x"}, ErrCrossVolume) {
		t.Error("CrossVolumeError should match ErrCrossVolume")
	}
}
