// Package vfs routes path-based filesystem operations to the provider
// mounted under the path's volume prefix.
//
// A path names its volume in its first element, terminated by a colon:
// "romfs:/data/level1.bin" is "/data/level1.bin" on the provider mounted as
// "romfs". Paths without a volume are joined to the current directory
// first.
package vfs

import (
	stderrors "errors"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lvdlvd/romfs/fsys"
)

// Dispatcher is a table of mounted volumes plus a current directory. It is
// safe for concurrent use.
type Dispatcher struct {
	mu      sync.RWMutex
	volumes map[string]fsys.Provider
	cwd     string
}

var _ fsys.Provider = (*Dispatcher)(nil)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCwd sets the initial current directory. It must carry a volume
// prefix, e.g. "romfs:/".
func WithCwd(cwd string) Option {
	return func(d *Dispatcher) { d.cwd = cwd }
}

// New returns a dispatcher with no volumes mounted.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{volumes: make(map[string]fsys.Provider)}
	for _, o := range opts {
		o(d)
	}
	return d
}

func validVolume(name string) bool {
	return name != "" && !strings.ContainsAny(name, ":/")
}

// Mount registers p under volume.
func (d *Dispatcher) Mount(volume string, p fsys.Provider) error {
	if !validVolume(volume) {
		return errors.Wrapf(fs.ErrInvalid, "invalid volume name %q", volume)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.volumes[volume]; ok {
		return errors.Wrapf(fs.ErrExist, "volume %q already mounted", volume)
	}
	d.volumes[volume] = p
	log.Debugf("vfs: mounted %s:", volume)
	return nil
}

// Unmount removes volume and closes its provider if it is an io.Closer.
func (d *Dispatcher) Unmount(volume string) error {
	d.mu.Lock()
	p, ok := d.volumes[volume]
	delete(d.volumes, volume)
	d.mu.Unlock()
	if !ok {
		return errors.Wrapf(fs.ErrNotExist, "volume %q not mounted", volume)
	}
	log.Debugf("vfs: unmounted %s:", volume)
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Close unmounts every volume.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, v := range d.Volumes() {
		if err := d.Unmount(v); err != nil {
			errs = append(errs, errors.Wrapf(err, "unmounting %s", v))
		}
	}
	return stderrors.Join(errs...)
}

// Volumes returns the mounted volume names in sorted order.
func (d *Dispatcher) Volumes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.volumes))
	for v := range d.volumes {
		names = append(names, v)
	}
	sort.Strings(names)
	return names
}

// splitVolume splits "vol:/rest" into "vol" and "/rest". ok is false when
// the first element of p does not end in a colon.
func splitVolume(p string) (volume, rest string, ok bool) {
	first, rest, _ := strings.Cut(p, "/")
	if !strings.HasSuffix(first, ":") {
		return "", "", false
	}
	return strings.TrimSuffix(first, ":"), "/" + rest, true
}

// Abs returns p joined to the current directory unless it names a volume
// itself. A p starting with "/" is taken from the root of the current
// volume.
func (d *Dispatcher) Abs(p string) (string, error) {
	if _, _, ok := splitVolume(p); ok {
		return p, nil
	}
	d.mu.RLock()
	cwd := d.cwd
	d.mu.RUnlock()

	vol, rest, ok := splitVolume(cwd)
	if !ok {
		return "", errors.Wrapf(fs.ErrInvalid, "path %q has no volume and there is no current directory", p)
	}
	if strings.HasPrefix(p, "/") {
		return vol + ":" + p, nil
	}
	if p == "" {
		return cwd, nil
	}
	return vol + ":" + strings.TrimSuffix(rest, "/") + "/" + p, nil
}

// Resolve returns the provider for p and the path within it.
func (d *Dispatcher) Resolve(p string) (fsys.Provider, string, error) {
	abs, err := d.Abs(p)
	if err != nil {
		return nil, "", err
	}
	vol, rest, _ := splitVolume(abs)

	d.mu.RLock()
	prov, ok := d.volumes[vol]
	d.mu.RUnlock()
	if !ok {
		return nil, "", errors.Wrapf(fsys.ErrUnsupported, "no volume %q", vol)
	}
	return prov, rest, nil
}

func (d *Dispatcher) resolve(op, p string) (fsys.Provider, string, error) {
	prov, rest, err := d.Resolve(p)
	if err != nil {
		return nil, "", &fs.PathError{Op: op, Path: p, Err: err}
	}
	return prov, rest, nil
}

func (d *Dispatcher) Open(name string, opts fsys.OpenOptions) (fsys.File, error) {
	p, rest, err := d.resolve("open", name)
	if err != nil {
		return nil, err
	}
	return p.Open(rest, opts)
}

func (d *Dispatcher) ReadDir(name string) (fsys.DirIter, error) {
	p, rest, err := d.resolve("readdir", name)
	if err != nil {
		return nil, err
	}
	return p.ReadDir(rest)
}

func (d *Dispatcher) Unlink(name string) error {
	p, rest, err := d.resolve("unlink", name)
	if err != nil {
		return err
	}
	return p.Unlink(rest)
}

// Rename moves oldname to newname. Both must be on the same volume.
func (d *Dispatcher) Rename(oldname, newname string) error {
	oldAbs, err := d.Abs(oldname)
	if err != nil {
		return &fs.PathError{Op: "rename", Path: oldname, Err: err}
	}
	newAbs, err := d.Abs(newname)
	if err != nil {
		return &fs.PathError{Op: "rename", Path: newname, Err: err}
	}
	oldVol, _, _ := splitVolume(oldAbs)
	newVol, _, _ := splitVolume(newAbs)
	if oldVol != newVol {
		return &fsys.CrossVolumeError{Old: oldAbs, New: newAbs}
	}

	p, oldRest, err := d.resolve("rename", oldAbs)
	if err != nil {
		return err
	}
	_, newRest, _ := splitVolume(newAbs)
	return p.Rename(oldRest, newRest)
}

func (d *Dispatcher) SetPerm(name string, perm fs.FileMode) error {
	p, rest, err := d.resolve("setperm", name)
	if err != nil {
		return err
	}
	return p.SetPerm(rest, perm)
}

func (d *Dispatcher) Rmdir(name string) error {
	p, rest, err := d.resolve("rmdir", name)
	if err != nil {
		return err
	}
	return p.Rmdir(rest)
}

func (d *Dispatcher) RemoveAll(name string) error {
	p, rest, err := d.resolve("removeall", name)
	if err != nil {
		return err
	}
	return p.RemoveAll(rest)
}

func (d *Dispatcher) Readlink(name string) (string, error) {
	p, rest, err := d.resolve("readlink", name)
	if err != nil {
		return "", err
	}
	return p.Readlink(rest)
}

func (d *Dispatcher) Stat(name string) (fsys.FileAttr, error) {
	p, rest, err := d.resolve("stat", name)
	if err != nil {
		return fsys.FileAttr{}, err
	}
	return p.Stat(rest)
}

func (d *Dispatcher) Lstat(name string) (fsys.FileAttr, error) {
	p, rest, err := d.resolve("lstat", name)
	if err != nil {
		return fsys.FileAttr{}, err
	}
	return p.Lstat(rest)
}

// Canonicalize returns the provider's canonical form of name with the
// volume prefix put back.
func (d *Dispatcher) Canonicalize(name string) (string, error) {
	abs, err := d.Abs(name)
	if err != nil {
		return "", &fs.PathError{Op: "canonicalize", Path: name, Err: err}
	}
	p, rest, err := d.resolve("canonicalize", abs)
	if err != nil {
		return "", err
	}
	c, err := p.Canonicalize(rest)
	if err != nil {
		return "", err
	}
	vol, _, _ := splitVolume(abs)
	return vol + ":" + c, nil
}

func (d *Dispatcher) Symlink(oldname, newname string) error {
	return fsys.Unsupported("symlink", newname)
}

func (d *Dispatcher) Link(oldname, newname string) error {
	return fsys.Unsupported("link", newname)
}

func (d *Dispatcher) Mkdir(name string, perm fs.FileMode) error {
	return fsys.Unsupported("mkdir", name)
}

// Chdir changes the current directory to name, which must be a directory
// that can be listed.
func (d *Dispatcher) Chdir(name string) error {
	abs, err := d.Abs(name)
	if err != nil {
		return &fs.PathError{Op: "chdir", Path: name, Err: err}
	}
	it, err := d.ReadDir(abs)
	if err != nil {
		return err
	}
	it.Close()

	d.mu.Lock()
	d.cwd = abs
	d.mu.Unlock()
	return nil
}

// Getwd returns the current directory.
func (d *Dispatcher) Getwd() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.cwd == "" {
		return "", errors.Wrap(fs.ErrNotExist, "no current directory")
	}
	return d.cwd, nil
}

// Copy copies the contents of the regular file from to to, creating or
// truncating to. The source permissions are applied to the copy where the
// destination supports it.
func (d *Dispatcher) Copy(from, to string) (int64, error) {
	src, err := d.Open(from, fsys.ReadOnly())
	if err != nil {
		return 0, err
	}
	defer src.Close()
	attr, err := src.Attr()
	if err != nil {
		return 0, err
	}
	if !attr.Type.IsRegular() {
		return 0, &fs.PathError{Op: "copy", Path: from, Err: errors.Wrap(fs.ErrInvalid, "the source path is not an existing regular file")}
	}

	dst, err := d.Open(to, fsys.OpenOptions{Write: true, Create: true, Truncate: true})
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if err != nil {
		dst.Close()
		return n, errors.Wrapf(err, "copying %s to %s", from, to)
	}
	if err := dst.SetPermissions(attr.Mode); err != nil && !errors.Is(err, fsys.ErrUnsupported) {
		dst.Close()
		return n, err
	}
	return n, dst.Close()
}
