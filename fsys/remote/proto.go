package remote

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/fxamacker/cbor/v2"

	"github.com/lvdlvd/romfs/fsys"
)

// Every connection carries exactly one request and one response, each a
// single CBOR value.

const (
	actionPing      = "ping"
	actionCreate    = "create"
	actionOpen      = "open"
	actionDelete    = "delete"
	actionRename    = "rename"
	actionRmdir     = "rmdir"
	actionRmdirAll  = "rmdir_all"
	actionEntryType = "entry_type"
	actionOpenDir   = "opendir"
	actionRead      = "read"
	actionWrite     = "write"
	actionSize      = "size"
	actionSetSize   = "set_size"
	actionClose     = "close"
	actionReadDir   = "readdir"
	actionCloseDir  = "closedir"
)

// maxMessageSize bounds a single encoded request or response.
const maxMessageSize = 1 << 20

// maxChunk bounds the data carried by one read or write request.
const maxChunk = 512 << 10

type request struct {
	Action  string `cbor:"action"`
	Path    string `cbor:"path,omitempty"`
	NewPath string `cbor:"new_path,omitempty"`
	Mode    Mode   `cbor:"mode,omitempty"`
	Handle  uint64 `cbor:"handle,omitempty"`
	Offset  int64  `cbor:"offset,omitempty"`
	Length  int    `cbor:"length,omitempty"`
	Size    int64  `cbor:"size,omitempty"`
	Data    []byte `cbor:"data,omitempty"`
}

type response struct {
	OK    bool            `cbor:"ok"`
	Code  string          `cbor:"code,omitempty"`
	Error string          `cbor:"error,omitempty"`
	Data  cbor.RawMessage `cbor:"data,omitempty"`
}

type handleReply struct {
	Handle uint64 `cbor:"handle"`
}

type readReply struct {
	Data []byte `cbor:"data"`
	EOF  bool   `cbor:"eof,omitempty"`
}

type countReply struct {
	N int64 `cbor:"n"`
}

type entryTypeReply struct {
	Type EntryType `cbor:"type"`
}

type readDirReply struct {
	Entries []DirRecord `cbor:"entries"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("remote: CBOR encoder initialization failed: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("remote: CBOR decoder initialization failed: " + err.Error())
	}
}

// Error codes carried by failed responses.
const (
	codeNotFound    = "not_found"
	codeExists      = "exists"
	codeInvalid     = "invalid"
	codeUnsupported = "unsupported"
	codeIO          = "io"
)

// Error is a failure reported by the service.
type Error struct {
	Action  string
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Action, e.Message)
}

// Unwrap maps the error code to the matching sentinel so errors.Is works
// across the connection.
func (e *Error) Unwrap() error {
	switch e.Code {
	case codeNotFound:
		return fs.ErrNotExist
	case codeExists:
		return fs.ErrExist
	case codeInvalid:
		return fs.ErrInvalid
	case codeUnsupported:
		return fsys.ErrUnsupported
	default:
		return nil
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return codeNotFound
	case errors.Is(err, fs.ErrExist):
		return codeExists
	case errors.Is(err, fs.ErrInvalid):
		return codeInvalid
	case errors.Is(err, fsys.ErrUnsupported):
		return codeUnsupported
	default:
		return codeIO
	}
}
