// Package romfs implements read-only access to RomFS archives.
//
// A RomFS archive starts with a fixed header locating four regions: a
// directory hash table, a directory table, a file hash table and a file
// table, followed by raw file data. Directory and file records are
// variable length (fixed header plus name) and link to each other by byte
// offset within their table: parent, next sibling, first child and next
// record in the same hash bucket. Paths are resolved by hashing the parent
// directory's offset together with the child name and walking the bucket's
// chain.
//
// The reader trusts nothing: every offset taken from the archive is bounds
// checked and every linked list is capped, so a corrupt archive yields an
// error wrapping fsys.ErrCorrupt instead of a panic or a hang.
package romfs

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/lvdlvd/romfs/fsys"
)

// HeaderSize is the size of the on-disk header and the value its first
// field must hold.
const HeaderSize = 0x50

const (
	// none terminates every linked list and marks a missing child.
	none uint32 = math.MaxUint32

	dirRecordSize  = 0x18
	fileRecordSize = 0x20

	hashSeed = 123456789
)

// Header locates the tables of an archive. All offsets are relative to the
// start of the archive within its source.
type Header struct {
	HeaderSize        uint64
	DirHashTableOff   uint64
	DirHashTableSize  uint64
	DirTableOff       uint64
	DirTableSize      uint64
	FileHashTableOff  uint64
	FileHashTableSize uint64
	FileTableOff      uint64
	FileTableSize     uint64
	FileDataOff       uint64
}

// fields returns pointers to the header fields in on-disk order.
func (h *Header) fields() []*uint64 {
	return []*uint64{
		&h.HeaderSize,
		&h.DirHashTableOff, &h.DirHashTableSize,
		&h.DirTableOff, &h.DirTableSize,
		&h.FileHashTableOff, &h.FileHashTableSize,
		&h.FileTableOff, &h.FileTableSize,
		&h.FileDataOff,
	}
}

// ParseHeader decodes the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, &fsys.FormatError{Field: "header", Reason: fmt.Sprintf("%d bytes, need %d", len(b), HeaderSize)}
	}
	for i, f := range h.fields() {
		*f = binary.LittleEndian.Uint64(b[i*8:])
	}
	return h, nil
}

// MarshalBinary encodes the header in its on-disk form.
func (h Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	for i, f := range h.fields() {
		binary.LittleEndian.PutUint64(b[i*8:], *f)
	}
	return b, nil
}

// Validate checks the header for values no archive can have.
func (h Header) Validate() error {
	if h.HeaderSize != HeaderSize {
		return &fsys.FormatError{Field: "header_size", Reason: fmt.Sprintf("%#x, want %#x", h.HeaderSize, HeaderSize)}
	}
	if h.DirHashTableSize%4 != 0 {
		return &fsys.FormatError{Field: "dir_hash_table_size", Reason: "not a multiple of 4"}
	}
	if h.FileHashTableSize%4 != 0 {
		return &fsys.FormatError{Field: "file_hash_table_size", Reason: "not a multiple of 4"}
	}
	if h.DirHashTableSize == 0 {
		return &fsys.FormatError{Field: "dir_hash_table_size", Reason: "no buckets"}
	}
	if h.DirTableSize < dirRecordSize {
		return &fsys.FormatError{Field: "dir_table_size", Reason: "no room for the root directory"}
	}
	for _, r := range h.regions() {
		if r.off > math.MaxInt64 || r.size > math.MaxInt64-r.off {
			return &fsys.FormatError{Field: r.name, Reason: "region overflows"}
		}
	}
	if h.DirTableSize > math.MaxUint32 || h.FileTableSize > math.MaxUint32 {
		return &fsys.FormatError{Field: "table_size", Reason: "table exceeds 32-bit offsets"}
	}
	return nil
}

type region struct {
	name      string
	off, size uint64
}

func (h Header) regions() []region {
	return []region{
		{"dir_hash_table", h.DirHashTableOff, h.DirHashTableSize},
		{"dir_table", h.DirTableOff, h.DirTableSize},
		{"file_hash_table", h.FileHashTableOff, h.FileHashTableSize},
		{"file_table", h.FileTableOff, h.FileTableSize},
		{"file_data", h.FileDataOff, 0},
	}
}
