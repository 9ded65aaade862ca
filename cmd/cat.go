package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/lvdlvd/romfs/fsys"
)

// Cat copies the contents of a file to the given writer.
// Files that support positioned reads are streamed in chunks without
// moving their cursor.
func Cat(p fsys.Provider, name string, out io.Writer) error {
	f, err := p.Open(name, fsys.ReadOnly())
	if err != nil {
		return err
	}
	defer f.Close()

	if ra, ok := f.(io.ReaderAt); ok {
		attr, err := f.Attr()
		if err != nil {
			return err
		}
		return streamFromReaderAt(ra, attr.Size, out)
	}

	_, err = io.Copy(out, f)
	return err
}

// streamFromReaderAt copies data from a ReaderAt to a Writer in chunks
func streamFromReaderAt(r io.ReaderAt, size int64, out io.Writer) error {
	const bufSize = 64 * 1024 // 64KB chunks
	buf := make([]byte, bufSize)
	offset := int64(0)

	for offset < size {
		toRead := min(int64(bufSize), size-offset)

		n, err := r.ReadAt(buf[:toRead], offset)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
			offset += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}

	return nil
}

// Resolver maps a path to the provider that holds it. *vfs.Dispatcher
// implements it.
type Resolver interface {
	Resolve(name string) (fsys.Provider, string, error)
}

// Stat shows detailed information about a file or directory.
// Providers that cannot stat are asked through their io/fs view, and
// failing that by opening the path as a file.
func Stat(p fsys.Provider, name string, out io.Writer) error {
	attr, err := p.Stat(name)
	if err == nil {
		printAttr(path.Base(name), attr, out)
		return nil
	}
	if !errors.Is(err, fsys.ErrUnsupported) {
		return err
	}

	if r, ok := p.(Resolver); ok {
		if vp, rest, rerr := r.Resolve(name); rerr == nil {
			if v, ok := vp.(interface{ IOFS() fsys.FS }); ok {
				return statIOFS(v.IOFS(), rest, out)
			}
		}
	}
	if v, ok := p.(interface{ IOFS() fsys.FS }); ok {
		return statIOFS(v.IOFS(), name, out)
	}

	f, err := p.Open(name, fsys.ReadOnly())
	if err != nil {
		return err
	}
	defer f.Close()
	if attr, err = f.Attr(); err != nil {
		return err
	}
	printAttr(path.Base(name), attr, out)
	return nil
}

func printAttr(name string, attr fsys.FileAttr, out io.Writer) {
	fmt.Fprintf(out, "  File: %s\n", name)
	fmt.Fprintf(out, "  Type: %s\n", attr.Type)
	fmt.Fprintf(out, "  Size: %d\n", attr.Size)
	fmt.Fprintf(out, "  Mode: %s\n", fileMode(attr))
}

func normalizePath(p string) string {
	// io/fs paths are unrooted
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" {
		return "."
	}
	return p
}

func statIOFS(filesystem fsys.FS, name string, out io.Writer) error {
	fsPath := normalizePath(name)

	info, err := fs.Stat(filesystem, fsPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "  File: %s\n", info.Name())
	fmt.Fprintf(out, "  Size: %d\n", info.Size())
	fmt.Fprintf(out, "  Mode: %s\n", info.Mode())

	if fi, ok := info.(fsys.FileInfo); ok {
		fmt.Fprintf(out, " Inode: %#x\n", fi.Inode())
	}

	if em, ok := filesystem.(fsys.ExtentMapper); ok && !info.IsDir() {
		extents, err := em.FileExtents(fsPath)
		if err != nil {
			return err
		}
		for _, e := range extents {
			fmt.Fprintf(out, "Extent: %#x-%#x at %#x\n", e.Logical, e.Logical+e.Length, e.Physical)
		}
	}

	return nil
}
