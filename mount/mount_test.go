package mount

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/lvdlvd/romfs/config"
	"github.com/lvdlvd/romfs/detect"
	"github.com/lvdlvd/romfs/fsys"
	"github.com/lvdlvd/romfs/fsys/remote"
	"github.com/lvdlvd/romfs/internal/romfstest"
	"github.com/lvdlvd/romfs/vfs"
)

var entries = []romfstest.Entry{
	romfstest.File("a.txt", "abcdefgh"),
	romfstest.File("data/level1.bin", "level one"),
	romfstest.Dir("sub"),
}

func archive() []byte {
	return romfstest.MustBuild(entries, romfstest.Options{}).Bytes
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func readAll(t *testing.T, d *vfs.Dispatcher, name string) string {
	t.Helper()
	f, err := d.Open(name, fsys.ReadOnly())
	if err != nil {
		t.Fatalf("Open(%q): %v", name, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll(%q): %v", name, err)
	}
	return string(b)
}

func build(t *testing.T, cfg *config.Config) *vfs.Dispatcher {
	t.Helper()
	d, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestBuildContainers(t *testing.T) {
	dir := t.TempDir()
	raw := archive()

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	zst := enc.EncodeAll(raw, nil)
	enc.Close()

	var lz bytes.Buffer
	w := lz4.NewWriter(&lz)
	w.Write(romfstest.WrapNRO(raw))
	w.Close()

	tests := []struct {
		name string
		data []byte
	}{
		{"app.romfs", raw},
		{"app.nro", romfstest.WrapNRO(raw)},
		{"app.romfs.zst", zst},
		{"app.nro.lz4", lz.Bytes()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, dir, tt.name, tt.data)
			d := build(t, config.ForArchive(p))

			if got := readAll(t, d, "a.txt"); got != "abcdefgh" {
				t.Errorf("a.txt = %q", got)
			}
			if got := readAll(t, d, "romfs:/data/level1.bin"); got != "level one" {
				t.Errorf("level1.bin = %q", got)
			}
		})
	}
}

func TestBuildExplicitOffset(t *testing.T) {
	padded := append(make([]byte, 0x200), archive()...)
	p := writeFile(t, t.TempDir(), "padded.bin", padded)

	off := int64(0x200)
	d := build(t, &config.Config{
		Volumes: []config.Volume{{Name: "game", Type: config.RomFS, Path: p, Offset: &off}},
	})
	if got := readAll(t, d, "game:/a.txt"); got != "abcdefgh" {
		t.Errorf("a.txt = %q", got)
	}

	if _, err := Build(context.Background(), config.ForArchive(p)); !errors.Is(err, fsys.ErrFormat) {
		t.Errorf("Build without offset = %v, want ErrFormat", err)
	}
}

func TestBuildArchiveOnRemoteVolume(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "dlc"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "dlc"), "pack1.nro", romfstest.WrapNRO(archive()))

	sock := filepath.Join(t.TempDir(), "fsp.sock")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		remote.NewServer(root, sock).Serve(ctx)
	}()
	t.Cleanup(func() { cancel(); <-done })

	cfg, err := config.Parse([]byte(`
cwd: "dlc:/"
volumes:
  - name: sdmc
    type: remote
    socket: ` + sock + `
  - name: dlc
    type: romfs
    path: "sdmc:/dlc/pack1.nro"
`))
	if err != nil {
		t.Fatal(err)
	}
	d := build(t, cfg)

	if got := readAll(t, d, "data/level1.bin"); got != "level one" {
		t.Errorf("level1.bin = %q", got)
	}
	it, err := d.ReadDir("sdmc:/dlc")
	if err != nil {
		t.Fatal(err)
	}
	list, err := fsys.Collect(it)
	if err != nil || len(list) != 1 || list[0].Name != "pack1.nro" {
		t.Errorf("ReadDir(sdmc:/dlc) = %v, %v", list, err)
	}
}

func TestBuildLazyRemote(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "nobody.sock")
	d := build(t, &config.Config{
		Volumes: []config.Volume{{Name: "sdmc", Type: config.Remote, Socket: sock}},
	})
	if got := d.Volumes(); len(got) != 1 || got[0] != "sdmc" {
		t.Fatalf("Volumes = %v", got)
	}
}

func TestBuildErrors(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.romfs", archive())
	junk := writeFile(t, dir, "junk.bin", bytes.Repeat([]byte("junk"), 64))

	tests := []struct {
		name  string
		cfg   *config.Config
		isErr error
	}{
		{"missing file", config.ForArchive(filepath.Join(dir, "missing.romfs")), os.ErrNotExist},
		{"not an archive", config.ForArchive(junk), fsys.ErrFormat},
		{"volume not mounted", &config.Config{Volumes: []config.Volume{
			{Name: "a", Type: config.RomFS, Path: good},
			{Name: "b", Type: config.RomFS, Path: "a:/nested.romfs"},
		}}, os.ErrNotExist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Build(context.Background(), tt.cfg)
			if !errors.Is(err, tt.isErr) {
				t.Errorf("Build = %v, want %v", err, tt.isErr)
			}
			if d != nil {
				t.Error("Build returned a dispatcher with an error")
			}
		})
	}

	if _, err := Build(context.Background(), &config.Config{Volumes: []config.Volume{{Name: "x", Type: "tape"}}}); err == nil {
		t.Error("invalid config accepted")
	}
}

func TestDecompressLimit(t *testing.T) {
	defer func(n int64) { maxDecompressed = n }(maxDecompressed)
	maxDecompressed = 100

	data := bytes.Repeat([]byte("romfs"), 40)

	var lz bytes.Buffer
	w := lz4.NewWriter(&lz)
	w.Write(data)
	w.Close()
	if _, err := decompress(fsys.NewBytesSource(lz.Bytes()), detect.LZ4); !errors.Is(err, fsys.ErrFormat) {
		t.Errorf("lz4 past the limit = %v, want ErrFormat", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	zst := enc.EncodeAll(data, nil)
	enc.Close()
	if _, err := decompress(fsys.NewBytesSource(zst), detect.Zstd); !errors.Is(err, fsys.ErrFormat) {
		t.Errorf("zstd past the limit = %v, want ErrFormat", err)
	}

	maxDecompressed = int64(len(data))
	out, err := decompress(fsys.NewBytesSource(lz.Bytes()), detect.LZ4)
	if err != nil || !bytes.Equal(out, data) {
		t.Errorf("lz4 at the limit = %d bytes, %v", len(out), err)
	}
}

func TestBuildArchiveInArchive(t *testing.T) {
	inner := romfstest.MustBuild([]romfstest.Entry{
		romfstest.File("inner.txt", "from the inner archive"),
	}, romfstest.Options{})
	outer := romfstest.MustBuild([]romfstest.Entry{
		romfstest.File("a.txt", "abcdefgh"),
		romfstest.File("dlc/pack.romfs", string(inner.Bytes)),
	}, romfstest.Options{})
	p := writeFile(t, t.TempDir(), "outer.romfs", outer.Bytes)

	d := build(t, &config.Config{
		Volumes: []config.Volume{
			{Name: "base", Type: config.RomFS, Path: p},
			{Name: "dlc", Type: config.RomFS, Path: "base:/dlc/pack.romfs"},
		},
	})
	if got := readAll(t, d, "dlc:/inner.txt"); got != "from the inner archive" {
		t.Errorf("inner.txt = %q", got)
	}
	if got := readAll(t, d, "base:/a.txt"); got != "abcdefgh" {
		t.Errorf("a.txt = %q", got)
	}
}
