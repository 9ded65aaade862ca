package cmd

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/lvdlvd/romfs/fsys"
)

// Sum prints the BLAKE3 digest of each named file, in the format of
// b3sum: hex digest, two spaces, name.
func Sum(p fsys.Provider, names []string, out io.Writer) error {
	for _, name := range names {
		sum, err := sumFile(p, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%x  %s\n", sum, name)
	}
	return nil
}

func sumFile(p fsys.Provider, name string) ([]byte, error) {
	f, err := p.Open(name, fsys.ReadOnly())
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, errors.Wrapf(err, "hashing %s", name)
	}
	return h.Sum(nil), nil
}
