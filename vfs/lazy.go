package vfs

import (
	"io"
	"io/fs"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/lvdlvd/romfs/fsys"
)

// lazyProvider defers constructing its provider until the first call.
// The outcome of the constructor, error included, is kept for the
// lifetime of the lazyProvider.
type lazyProvider struct {
	get func() (fsys.Provider, error)

	mu   sync.Mutex
	used bool
}

// Lazy returns a provider that calls open once, on first use, and
// forwards every call to its result. If open fails, every call fails with
// the same error.
func Lazy(open func() (fsys.Provider, error)) fsys.Provider {
	l := &lazyProvider{}
	l.get = sync.OnceValues(func() (fsys.Provider, error) {
		l.mu.Lock()
		l.used = true
		l.mu.Unlock()
		p, err := open()
		if err != nil {
			log.Debugf("vfs: lazy provider failed to initialize: %v", err)
		}
		return p, err
	})
	return l
}

// Close closes the underlying provider if it was ever created.
func (l *lazyProvider) Close() error {
	l.mu.Lock()
	used := l.used
	l.mu.Unlock()
	if !used {
		return nil
	}
	p, err := l.get()
	if err != nil {
		return nil
	}
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (l *lazyProvider) Open(name string, opts fsys.OpenOptions) (fsys.File, error) {
	p, err := l.get()
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return p.Open(name, opts)
}

func (l *lazyProvider) ReadDir(name string) (fsys.DirIter, error) {
	p, err := l.get()
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	return p.ReadDir(name)
}

func (l *lazyProvider) Unlink(name string) error {
	p, err := l.get()
	if err != nil {
		return &fs.PathError{Op: "unlink", Path: name, Err: err}
	}
	return p.Unlink(name)
}

func (l *lazyProvider) Rename(oldname, newname string) error {
	p, err := l.get()
	if err != nil {
		return &fs.PathError{Op: "rename", Path: oldname, Err: err}
	}
	return p.Rename(oldname, newname)
}

func (l *lazyProvider) SetPerm(name string, perm fs.FileMode) error {
	p, err := l.get()
	if err != nil {
		return &fs.PathError{Op: "setperm", Path: name, Err: err}
	}
	return p.SetPerm(name, perm)
}

func (l *lazyProvider) Rmdir(name string) error {
	p, err := l.get()
	if err != nil {
		return &fs.PathError{Op: "rmdir", Path: name, Err: err}
	}
	return p.Rmdir(name)
}

func (l *lazyProvider) RemoveAll(name string) error {
	p, err := l.get()
	if err != nil {
		return &fs.PathError{Op: "removeall", Path: name, Err: err}
	}
	return p.RemoveAll(name)
}

func (l *lazyProvider) Readlink(name string) (string, error) {
	p, err := l.get()
	if err != nil {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: err}
	}
	return p.Readlink(name)
}

func (l *lazyProvider) Stat(name string) (fsys.FileAttr, error) {
	p, err := l.get()
	if err != nil {
		return fsys.FileAttr{}, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return p.Stat(name)
}

func (l *lazyProvider) Lstat(name string) (fsys.FileAttr, error) {
	p, err := l.get()
	if err != nil {
		return fsys.FileAttr{}, &fs.PathError{Op: "lstat", Path: name, Err: err}
	}
	return p.Lstat(name)
}

func (l *lazyProvider) Canonicalize(name string) (string, error) {
	p, err := l.get()
	if err != nil {
		return "", &fs.PathError{Op: "canonicalize", Path: name, Err: err}
	}
	return p.Canonicalize(name)
}
