// Package detect identifies the container a RomFS archive is shipped in.
package detect

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/lvdlvd/romfs/fsys"
)

// Type represents a container type
type Type int

const (
	Unknown Type = iota
	RomFS
	NRO // homebrew executable carrying the archive in its asset section
	Zstd
	LZ4
)

func (t Type) String() string {
	switch t {
	case RomFS:
		return "RomFS"
	case NRO:
		return "NRO"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// IsCompressed returns true if the archive must be decompressed before it
// can be indexed
func (t Type) IsCompressed() bool {
	return t == Zstd || t == LZ4
}

const (
	romfsHeaderSize = 0x50
	zstdMagic       = 0xFD2FB528
	lz4Magic        = 0x184D2204

	nroMagicOff = 0x10
	nroSizeOff  = 0x18

	assetHeaderSize = 0x38
	assetRomFSOff   = 0x28
)

// Detect identifies the container type from a reader.
func Detect(r io.ReaderAt) (Type, error) {
	header := make([]byte, romfsHeaderSize)
	n, err := r.ReadAt(header, 0)
	if err != nil && err != io.EOF {
		return Unknown, errors.Wrap(err, "reading header")
	}
	if n < 4 {
		return Unknown, errors.Errorf("file too small: %d bytes", n)
	}

	switch binary.LittleEndian.Uint32(header[0:4]) {
	case zstdMagic:
		return Zstd, nil
	case lz4Magic:
		return LZ4, nil
	}

	// NRO: "NRO0" at 0x10, after the module header
	if n >= nroMagicOff+4 && bytes.Equal(header[nroMagicOff:nroMagicOff+4], []byte("NRO0")) {
		return NRO, nil
	}

	// RomFS: the header starts with its own size
	if n >= 8 && binary.LittleEndian.Uint64(header[0:8]) == romfsHeaderSize {
		return RomFS, nil
	}

	return Unknown, nil
}

// Locate returns the position of the RomFS archive within r, which holds
// size bytes. A bare archive starts at 0; an NRO carries it in the romfs
// section of the asset header that follows the executable.
func Locate(r io.ReaderAt, size int64) (start, length int64, err error) {
	t, err := Detect(r)
	if err != nil {
		return 0, 0, err
	}
	switch t {
	case RomFS:
		return 0, size, nil
	case NRO:
		return locateNRO(r, size)
	case Zstd, LZ4:
		return 0, 0, &fsys.FormatError{Field: "container", Reason: t.String() + " stream must be decompressed first"}
	default:
		return 0, 0, &fsys.FormatError{Field: "container", Reason: "not a RomFS archive or NRO"}
	}
}

func locateNRO(r io.ReaderAt, size int64) (int64, int64, error) {
	var b [4]byte
	if _, err := r.ReadAt(b[:], nroSizeOff); err != nil {
		return 0, 0, errors.Wrap(err, "reading NRO size")
	}
	assetOff := int64(binary.LittleEndian.Uint32(b[:]))

	asset := make([]byte, assetHeaderSize)
	if _, err := r.ReadAt(asset, assetOff); err != nil {
		if err == io.EOF {
			return 0, 0, &fsys.FormatError{Field: "asset header", Reason: "NRO has no asset section"}
		}
		return 0, 0, errors.Wrap(err, "reading asset header")
	}
	if !bytes.Equal(asset[0:4], []byte("ASET")) {
		return 0, 0, &fsys.FormatError{Field: "asset header", Reason: "bad magic"}
	}

	off := binary.LittleEndian.Uint64(asset[assetRomFSOff:])
	length := binary.LittleEndian.Uint64(asset[assetRomFSOff+8:])
	if length == 0 {
		return 0, 0, &fsys.FormatError{Field: "asset header", Reason: "no romfs section"}
	}
	start := uint64(assetOff) + off
	if start < off || start+length < start || start+length > uint64(size) {
		return 0, 0, &fsys.FormatError{Field: "asset header", Reason: "romfs section extends past end of file"}
	}
	return int64(start), int64(length), nil
}
