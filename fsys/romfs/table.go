package romfs

import (
	"encoding/binary"
	"fmt"

	"github.com/lvdlvd/romfs/fsys"
)

// DirRecord is a directory table record. Offset is the record's own
// position in the directory table; the other offsets point into the
// directory table except ChildFile, which points into the file table.
type DirRecord struct {
	Offset    uint32
	Parent    uint32
	Sibling   uint32
	ChildDir  uint32
	ChildFile uint32
	NextHash  uint32
	Name      []byte
}

// FileRecord is a file table record. DataOff is relative to the header's
// FileDataOff.
type FileRecord struct {
	Offset   uint32
	Parent   uint32
	Sibling  uint32
	DataOff  uint64
	DataSize uint64
	NextHash uint32
	Name     []byte
}

func decodeDir(off uint32, h, name []byte) DirRecord {
	return DirRecord{
		Offset:    off,
		Parent:    binary.LittleEndian.Uint32(h[0x00:]),
		Sibling:   binary.LittleEndian.Uint32(h[0x04:]),
		ChildDir:  binary.LittleEndian.Uint32(h[0x08:]),
		ChildFile: binary.LittleEndian.Uint32(h[0x0C:]),
		NextHash:  binary.LittleEndian.Uint32(h[0x10:]),
		Name:      name,
	}
}

func decodeFile(off uint32, h, name []byte) FileRecord {
	return FileRecord{
		Offset:   off,
		Parent:   binary.LittleEndian.Uint32(h[0x00:]),
		Sibling:  binary.LittleEndian.Uint32(h[0x04:]),
		DataOff:  binary.LittleEndian.Uint64(h[0x08:]),
		DataSize: binary.LittleEndian.Uint64(h[0x10:]),
		NextHash: binary.LittleEndian.Uint32(h[0x18:]),
		Name:     name,
	}
}

// entityTable is an immutable arena of variable-length records: a fixed
// header whose last field is the name length, followed by the name.
// Records are addressed by the byte offsets the archive itself stores.
type entityTable[R any] struct {
	name       string
	data       []byte
	headerSize int
	decode     func(off uint32, header, name []byte) R
}

func newDirTable(data []byte) *entityTable[DirRecord] {
	return &entityTable[DirRecord]{name: "directory", data: data, headerSize: dirRecordSize, decode: decodeDir}
}

func newFileTable(data []byte) *entityTable[FileRecord] {
	return &entityTable[FileRecord]{name: "file", data: data, headerSize: fileRecordSize, decode: decodeFile}
}

// get returns the record at off. The returned name aliases the table.
func (t *entityTable[R]) get(off uint32) (R, error) {
	var zero R
	end := uint64(off) + uint64(t.headerSize)
	if end > uint64(len(t.data)) {
		return zero, t.corrupt(off, "record header past end of table")
	}
	h := t.data[off:end]
	nameLen := uint64(binary.LittleEndian.Uint32(h[t.headerSize-4:]))
	if end+nameLen > uint64(len(t.data)) {
		return zero, t.corrupt(off, fmt.Sprintf("%d-byte name past end of table", nameLen))
	}
	return t.decode(off, h, t.data[end:end+nameLen]), nil
}

// limit bounds the number of records the table can hold. Any list longer
// than this must revisit a record.
func (t *entityTable[R]) limit() int {
	return len(t.data) / t.headerSize
}

func (t *entityTable[R]) corrupt(off uint32, reason string) error {
	return &fsys.CorruptError{Table: t.name, Offset: off, Reason: reason}
}
