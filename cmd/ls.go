// Package cmd implements the romfs commands.
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

// LsOptions controls ls behavior
type LsOptions struct {
	Long bool // Long format (-l)
	All  bool // Show entries whose names start with a dot (-a)
}

// Ls lists the contents of a path.
// If the path is a file, it shows file information.
// If the path is a directory, it lists its contents.
func Ls(p fsys.Provider, name string, out io.Writer, opts LsOptions) error {
	it, err := p.ReadDir(name)
	if err == nil {
		return listDirectory(it, out, opts)
	}

	// not a directory; try it as a file
	f, ferr := p.Open(name, fsys.ReadOnly())
	if ferr != nil {
		return err
	}
	defer f.Close()
	attr, ferr := f.Attr()
	if ferr != nil {
		return ferr
	}
	return showFileInfo(path.Base(name), attr, out, opts.Long)
}

func listDirectory(it fsys.DirIter, out io.Writer, opts LsOptions) error {
	defer it.Close()
	for {
		entry, err := it.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		name := entry.Name
		if !opts.All && strings.HasPrefix(name, ".") {
			continue
		}

		if opts.Long {
			printLongFormat(name, entry.Attr, out)
		} else {
			if entry.Attr.Type.IsDir() {
				name += "/"
			}
			fmt.Fprintln(out, name)
		}
	}
}

func showFileInfo(name string, attr fsys.FileAttr, out io.Writer, long bool) error {
	if long {
		printLongFormat(name, attr, out)
	} else {
		fmt.Fprintln(out, name)
	}
	return nil
}

// fileMode fills in the permission bits providers leave unset.
func fileMode(attr fsys.FileAttr) fs.FileMode {
	mode := attr.Mode
	if mode.Perm() == 0 {
		mode |= 0o444
		if attr.Type.IsDir() {
			mode |= 0o111
		}
	}
	if attr.Type.IsDir() {
		mode |= fs.ModeDir
	}
	return mode
}

func printLongFormat(name string, attr fsys.FileAttr, out io.Writer) {
	fmt.Fprintf(out, "%s %12d %s\n", fileMode(attr), attr.Size, name)
}
