//go:build ignore

// mkarchive writes sample archives for trying the romfs command by hand:
//
//	go run testdata/mkarchive.go
//	romfs --archive testdata/sample.nro ls -l
package main

import (
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/lvdlvd/romfs/internal/romfstest"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mkarchive: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	img, err := romfstest.Build([]romfstest.Entry{
		romfstest.File("readme.txt", "sample archive\n"),
		romfstest.File("data/level1.bin", "level one\n"),
		romfstest.File("data/level2.bin", "level two\n"),
		romfstest.File("data/sound/theme.txt", "la la la\n"),
		romfstest.Dir("empty"),
	}, romfstest.Options{DirBuckets: 3, FileBuckets: 5})
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	zst := enc.EncodeAll(img.Bytes, nil)
	enc.Close()

	for name, data := range map[string][]byte{
		"testdata/sample.romfs":     img.Bytes,
		"testdata/sample.nro":       romfstest.WrapNRO(img.Bytes),
		"testdata/sample.romfs.zst": zst,
	} {
		if err := os.WriteFile(name, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("%s: %d bytes\n", name, len(data))
	}
	return nil
}
