package cmd

import (
	"fmt"
	"io"

	"github.com/lvdlvd/romfs/fsys"
	"github.com/lvdlvd/romfs/fsys/romfs"
)

// Info describes a mounted volume. For a RomFS archive it prints the
// header's table layout.
func Info(p fsys.Provider, out io.Writer) error {
	f, ok := p.(*romfs.FS)
	if !ok {
		typ := "unknown"
		if t, ok := p.(interface{ Type() string }); ok {
			typ = t.Type()
		}
		fmt.Fprintf(out, "Filesystem type: %s\n", typ)
		return nil
	}

	h := f.Index().Header()
	fmt.Fprintf(out, "Filesystem type: %s\n", f.Type())
	fmt.Fprintf(out, "Header size:     %#x\n", h.HeaderSize)
	fmt.Fprintf(out, "Dir hash table:  %#x+%#x (%d buckets)\n", h.DirHashTableOff, h.DirHashTableSize, h.DirHashTableSize/4)
	fmt.Fprintf(out, "Dir table:       %#x+%#x\n", h.DirTableOff, h.DirTableSize)
	fmt.Fprintf(out, "File hash table: %#x+%#x (%d buckets)\n", h.FileHashTableOff, h.FileHashTableSize, h.FileHashTableSize/4)
	fmt.Fprintf(out, "File table:      %#x+%#x\n", h.FileTableOff, h.FileTableSize)
	fmt.Fprintf(out, "File data:       %#x\n", h.FileDataOff)
	return nil
}
