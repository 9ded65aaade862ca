package cmd

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lvdlvd/romfs/fsys"
)

// Extract copies the tree under src to the host directory destDir,
// which is created if needed. Up to parallel files are copied at once.
// Entries whose names cannot be host path elements are skipped.
func Extract(ctx context.Context, p fsys.Provider, src, destDir string, parallel int) error {
	if parallel < 1 {
		parallel = 1
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	err := extractDir(ctx, g, p, src, destDir)
	if werr := g.Wait(); err == nil {
		err = werr
	}
	return err
}

// extractDir walks one directory, creating host directories inline and
// queueing file copies on g.
func extractDir(ctx context.Context, g *errgroup.Group, p fsys.Provider, dir, dest string) error {
	it, err := p.ReadDir(dir)
	if err != nil {
		return err
	}
	entries, err := fsys.Collect(it)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !safeName(e.Name) {
			log.Warnf("extract: skipping %q in %s", e.Name, dir)
			continue
		}
		from := path.Join(dir, e.Name)
		to := filepath.Join(dest, e.Name)

		if e.Attr.Type.IsDir() {
			if err := os.MkdirAll(to, 0o755); err != nil {
				return err
			}
			if err := extractDir(ctx, g, p, from, to); err != nil {
				return err
			}
			continue
		}

		g.Go(func() error {
			return extractFile(p, from, to)
		})
	}
	return nil
}

func extractFile(p fsys.Provider, from, to string) error {
	f, err := p.Open(from, fsys.ReadOnly())
	if err != nil {
		return err
	}
	defer f.Close()

	out, err := os.Create(to)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, f)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "extracting %s", from)
	}
	log.Debugf("extract: %s (%d bytes)", to, n)
	return nil
}

func safeName(name string) bool {
	switch name {
	case "", ".", "..":
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}
