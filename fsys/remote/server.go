package remote

import (
	"context"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	serverReadTimeout  = 30 * time.Second
	serverWriteTimeout = 10 * time.Second
)

type actionFunc func(ctx context.Context, req *request) (any, error)

type dirState struct {
	entries []DirRecord
}

// Server serves the files under a host directory to Clients. Paths in
// requests are rooted at that directory and cannot escape it.
type Server struct {
	root       string
	socketPath string
	handlers   map[string]actionFunc

	mu     sync.Mutex
	nextID uint64
	files  map[uint64]*os.File
	dirs   map[uint64]*dirState

	active sync.WaitGroup
}

// NewServer returns a server for root that will listen on socketPath.
func NewServer(root, socketPath string) *Server {
	s := &Server{
		root:       root,
		socketPath: socketPath,
		files:      make(map[uint64]*os.File),
		dirs:       make(map[uint64]*dirState),
	}
	s.handlers = map[string]actionFunc{
		actionPing:      func(context.Context, *request) (any, error) { return nil, nil },
		actionCreate:    s.create,
		actionOpen:      s.open,
		actionDelete:    s.delete,
		actionRename:    s.rename,
		actionRmdir:     s.rmdir,
		actionRmdirAll:  s.rmdirAll,
		actionEntryType: s.entryType,
		actionOpenDir:   s.openDir,
		actionRead:      s.read,
		actionWrite:     s.write,
		actionSize:      s.size,
		actionSetSize:   s.setSize,
		actionClose:     s.close,
		actionReadDir:   s.readDir,
		actionCloseDir:  s.closeDir,
	}
	return s
}

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight requests and closes every handle still open. A stale socket
// file at the listening path is replaced; the socket file is removed on
// return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing stale socket %s", s.socketPath)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.socketPath)
	}
	defer func() {
		ln.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Infof("remote: serving %s on %s", s.root, s.socketPath)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			log.Warnf("remote: accept failed: %v", err)
			continue
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConn(ctx, conn)
		}()
	}

	s.active.Wait()
	s.closeAll()
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(serverReadTimeout))
	var req request
	if err := decMode.NewDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.reply(conn, response{Code: codeInvalid, Error: "invalid request: " + err.Error()})
		return
	}

	h, ok := s.handlers[req.Action]
	if !ok {
		s.reply(conn, response{Code: codeUnsupported, Error: "unknown action " + req.Action})
		return
	}
	result, err := h(ctx, &req)
	if err != nil {
		log.Debugf("remote: %s %q failed: %v", req.Action, req.Path, err)
		s.reply(conn, response{Code: errorCode(err), Error: err.Error()})
		return
	}

	resp := response{OK: true}
	if result != nil {
		data, err := encMode.Marshal(result)
		if err != nil {
			s.reply(conn, response{Code: codeIO, Error: "marshaling response: " + err.Error()})
			return
		}
		resp.Data = data
	}
	s.reply(conn, resp)
}

func (s *Server) reply(conn net.Conn, resp response) {
	conn.SetWriteDeadline(time.Now().Add(serverWriteTimeout))
	if err := encMode.NewEncoder(conn).Encode(resp); err != nil {
		log.Debugf("remote: writing response: %v", err)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, f := range s.files {
		f.Close()
		delete(s.files, id)
	}
	clear(s.dirs)
}

// hostPath maps a request path onto the served directory.
func (s *Server) hostPath(name string) (string, error) {
	if name == "" || len(name) > MaxPath {
		return "", errors.Wrapf(fs.ErrInvalid, "bad path %q", name)
	}
	return filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+name))), nil
}

func (s *Server) register(f *os.File) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.files[s.nextID] = f
	return s.nextID
}

func (s *Server) file(id uint64) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, errors.Wrapf(fs.ErrInvalid, "no open file %d", id)
	}
	return f, nil
}

func (s *Server) create(_ context.Context, req *request) (any, error) {
	p, err := s.hostPath(req.Path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return nil, f.Truncate(req.Size)
}

func (s *Server) open(_ context.Context, req *request) (any, error) {
	p, err := s.hostPath(req.Path)
	if err != nil {
		return nil, err
	}
	flag := os.O_RDONLY
	if req.Mode.Writable() {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(p, flag, 0)
	if err != nil {
		return nil, err
	}
	if fi, err := f.Stat(); err != nil || fi.IsDir() {
		f.Close()
		if err == nil {
			err = errors.Wrapf(fs.ErrInvalid, "%s is a directory", req.Path)
		}
		return nil, err
	}
	return handleReply{Handle: s.register(f)}, nil
}

func (s *Server) delete(_ context.Context, req *request) (any, error) {
	p, err := s.hostPath(req.Path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, errors.Wrapf(fs.ErrInvalid, "%s is a directory", req.Path)
	}
	return nil, os.Remove(p)
}

func (s *Server) rename(_ context.Context, req *request) (any, error) {
	oldp, err := s.hostPath(req.Path)
	if err != nil {
		return nil, err
	}
	newp, err := s.hostPath(req.NewPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Lstat(oldp); err != nil {
		return nil, err
	}
	return nil, os.Rename(oldp, newp)
}

func (s *Server) dirPath(name string) (string, error) {
	p, err := s.hostPath(name)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return "", errors.Wrapf(fs.ErrInvalid, "%s is not a directory", name)
	}
	return p, nil
}

func (s *Server) rmdir(_ context.Context, req *request) (any, error) {
	p, err := s.dirPath(req.Path)
	if err != nil {
		return nil, err
	}
	if p == filepath.Clean(s.root) {
		return nil, errors.Wrap(fs.ErrInvalid, "cannot remove the root")
	}
	return nil, os.Remove(p)
}

func (s *Server) rmdirAll(_ context.Context, req *request) (any, error) {
	p, err := s.dirPath(req.Path)
	if err != nil {
		return nil, err
	}
	if p == filepath.Clean(s.root) {
		return nil, errors.Wrap(fs.ErrInvalid, "cannot remove the root")
	}
	return nil, os.RemoveAll(p)
}

func (s *Server) entryType(_ context.Context, req *request) (any, error) {
	p, err := s.hostPath(req.Path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	t := EntryFile
	if fi.IsDir() {
		t = EntryDir
	}
	return entryTypeReply{Type: t}, nil
}

func (s *Server) openDir(_ context.Context, req *request) (any, error) {
	p, err := s.dirPath(req.Path)
	if err != nil {
		return nil, err
	}
	ents, err := os.ReadDir(p)
	if err != nil {
		return nil, err
	}
	st := &dirState{}
	for _, e := range ents {
		r := DirRecord{Name: e.Name(), Type: EntryFile}
		if e.IsDir() {
			r.Type = EntryDir
		} else if fi, err := e.Info(); err == nil {
			r.Size = fi.Size()
		}
		st.entries = append(st.entries, r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.dirs[s.nextID] = st
	return handleReply{Handle: s.nextID}, nil
}

func (s *Server) read(_ context.Context, req *request) (any, error) {
	f, err := s.file(req.Handle)
	if err != nil {
		return nil, err
	}
	if req.Length < 0 || req.Length > maxChunk || req.Offset < 0 {
		return nil, errors.Wrap(fs.ErrInvalid, "bad read range")
	}
	buf := make([]byte, req.Length)
	n, err := f.ReadAt(buf, req.Offset)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return readReply{Data: buf[:n], EOF: err == io.EOF}, nil
}

func (s *Server) write(_ context.Context, req *request) (any, error) {
	f, err := s.file(req.Handle)
	if err != nil {
		return nil, err
	}
	if req.Offset < 0 {
		return nil, errors.Wrap(fs.ErrInvalid, "negative offset")
	}
	n, err := f.WriteAt(req.Data, req.Offset)
	if err != nil {
		return nil, err
	}
	return countReply{N: int64(n)}, nil
}

func (s *Server) size(_ context.Context, req *request) (any, error) {
	f, err := s.file(req.Handle)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return countReply{N: fi.Size()}, nil
}

func (s *Server) setSize(_ context.Context, req *request) (any, error) {
	f, err := s.file(req.Handle)
	if err != nil {
		return nil, err
	}
	return nil, f.Truncate(req.Size)
}

func (s *Server) close(_ context.Context, req *request) (any, error) {
	s.mu.Lock()
	f, ok := s.files[req.Handle]
	delete(s.files, req.Handle)
	s.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(fs.ErrInvalid, "no open file %d", req.Handle)
	}
	return nil, f.Close()
}

func (s *Server) readDir(_ context.Context, req *request) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.dirs[req.Handle]
	if !ok {
		return nil, errors.Wrapf(fs.ErrInvalid, "no open directory %d", req.Handle)
	}
	n := min(max(req.Length, 1), len(st.entries))
	out := st.entries[:n]
	st.entries = st.entries[n:]
	return readDirReply{Entries: out}, nil
}

func (s *Server) closeDir(_ context.Context, req *request) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dirs[req.Handle]; !ok {
		return nil, errors.Wrapf(fs.ErrInvalid, "no open directory %d", req.Handle)
	}
	delete(s.dirs, req.Handle)
	return nil, nil
}
