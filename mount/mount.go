// Package mount builds a dispatcher from a mount table.
package mount

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lvdlvd/romfs/config"
	"github.com/lvdlvd/romfs/detect"
	"github.com/lvdlvd/romfs/fsys"
	"github.com/lvdlvd/romfs/fsys/remote"
	"github.com/lvdlvd/romfs/fsys/romfs"
	"github.com/lvdlvd/romfs/vfs"
)

// maxDecompressed bounds the size of a compressed archive once expanded.
var maxDecompressed int64 = 4 << 30

// Build mounts every volume of cfg, in order, on a new dispatcher. Remote
// volumes connect on first use; archives are opened and indexed
// immediately. On error, volumes mounted so far are unmounted again.
func Build(ctx context.Context, cfg *config.Config) (*vfs.Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []vfs.Option
	if cfg.Cwd != "" {
		opts = append(opts, vfs.WithCwd(cfg.Cwd))
	}
	d := vfs.New(opts...)

	for _, v := range cfg.Volumes {
		p, err := provider(ctx, d, v)
		if err == nil {
			err = d.Mount(v.Name, p)
		}
		if err != nil {
			d.Close()
			return nil, errors.Wrapf(err, "mounting %s", v.Name)
		}
	}
	return d, nil
}

func provider(ctx context.Context, d *vfs.Dispatcher, v config.Volume) (fsys.Provider, error) {
	switch v.Type {
	case config.Remote:
		socket := v.Socket
		return vfs.Lazy(func() (fsys.Provider, error) {
			log.Debugf("mount: connecting to %s", socket)
			c, err := remote.Dial(ctx, socket)
			if err != nil {
				return nil, err
			}
			return remote.New(ctx, c), nil
		}), nil

	case config.RomFS:
		src, err := openSource(d, v.Path)
		if err != nil {
			return nil, err
		}
		src, start, err := Archive(src, v.Offset)
		if err != nil {
			return nil, err
		}
		f, err := romfs.Open(src, start, romfs.Options{
			CacheSize:         v.Cache(),
			NativeFileBuckets: v.NativeFileBuckets,
		})
		if err != nil {
			src.Close()
			return nil, err
		}
		return f, nil

	default:
		return nil, errors.Errorf("unknown volume type %q", v.Type)
	}
}

// openSource opens an archive on the host, or on a volume already mounted
// on d when p carries a volume prefix.
func openSource(d *vfs.Dispatcher, p string) (fsys.Source, error) {
	v := config.Volume{Path: p}
	if _, _, ok := v.OnVolume(); ok {
		f, err := d.Open(p, fsys.ReadOnly())
		if err != nil {
			return nil, err
		}
		// archives inside an archive read the outer source directly
		if ef, ok := f.(interface{ OpenSource() (fsys.Source, error) }); ok {
			src, err := ef.OpenSource()
			f.Close()
			return src, err
		}
		src, err := fsys.NewFileSource(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return src, nil
	}
	return fsys.OpenSource(p)
}

// Archive finds the RomFS archive in src. A compressed container is
// expanded into memory first, replacing src. If offset is non-nil it is
// taken as the archive start; otherwise the container is sniffed.
//
// The returned source owns src; on error src has been closed.
func Archive(src fsys.Source, offset *int64) (fsys.Source, int64, error) {
	t, err := detect.Detect(src)
	if err != nil {
		src.Close()
		return nil, 0, err
	}
	if t.IsCompressed() {
		data, err := decompress(src, t)
		src.Close()
		if err != nil {
			return nil, 0, err
		}
		log.Debugf("mount: expanded %s archive to %d bytes", t, len(data))
		src = fsys.NewBytesSource(data)
	}

	if offset != nil {
		return src, *offset, nil
	}
	start, length, err := detect.Locate(src, src.Size())
	if err != nil {
		src.Close()
		return nil, 0, err
	}
	log.Debugf("mount: archive at %#x, %d bytes", start, length)
	return src, start, nil
}

func decompress(src fsys.Source, t detect.Type) ([]byte, error) {
	compressed := io.NewSectionReader(src, 0, src.Size())
	switch t {
	case detect.Zstd:
		data, err := io.ReadAll(compressed)
		if err != nil {
			return nil, errors.Wrap(err, "reading zstd archive")
		}
		dec, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(uint64(maxDecompressed)),
		)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
			return nil, tooLarge()
		}
		if err != nil {
			return nil, errors.Wrap(err, "zstd decompress")
		}
		return out, nil

	case detect.LZ4:
		var out bytes.Buffer
		n, err := io.Copy(&out, io.LimitReader(lz4.NewReader(compressed), maxDecompressed+1))
		if err != nil {
			return nil, errors.Wrap(err, "lz4 decompress")
		}
		if n > maxDecompressed {
			return nil, tooLarge()
		}
		return out.Bytes(), nil

	default:
		return nil, errors.Errorf("%s is not compressed", t)
	}
}

func tooLarge() error {
	return &fsys.FormatError{
		Field:  "container",
		Reason: fmt.Sprintf("expands past %d bytes", maxDecompressed),
	}
}
