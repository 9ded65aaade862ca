package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lvdlvd/romfs/config"
	"github.com/lvdlvd/romfs/internal/romfstest"
)

func writeArchive(t *testing.T) string {
	t.Helper()
	img := romfstest.MustBuild([]romfstest.Entry{
		romfstest.File("a.txt", "abcdefgh"),
		romfstest.File("sub/b.txt", "in sub"),
	}, romfstest.Options{})
	p := filepath.Join(t.TempDir(), "app.nro")
	if err := os.WriteFile(p, romfstest.WrapNRO(img.Bytes), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func runArgs(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestRunArchive(t *testing.T) {
	archive := writeArchive(t)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"ls"}, "sub/\na.txt\n"},
		{[]string{"ls", "romfs:/sub"}, "b.txt\n"},
		{[]string{"cat", "a.txt", "sub/b.txt"}, "abcdefghin sub"},
		{[]string{"stat", "sub/b.txt"}, "  File: b.txt\n"},
		{[]string{"info"}, "Detected as:     NRO\n"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			out, err := runArgs(t, append([]string{"--archive", archive}, tt.args...)...)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output %q lacks %q", out, tt.want)
			}
		})
	}
}

func TestRunExtract(t *testing.T) {
	archive := writeArchive(t)
	dest := t.TempDir()

	if _, err := runArgs(t, "--archive", archive, "extract", "-j", "2", "romfs:/", dest); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(dest, "sub", "b.txt"))
	if err != nil || string(b) != "in sub" {
		t.Errorf("extracted b.txt = %q, %v", b, err)
	}
}

func TestRunConfig(t *testing.T) {
	archive := writeArchive(t)
	cfg := filepath.Join(t.TempDir(), "romfs.yaml")
	doc := "cwd: \"game:/sub\"\nvolumes:\n  - name: game\n    type: romfs\n    path: " + archive + "\n"
	if err := os.WriteFile(cfg, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(config.EnvVar, cfg)
	out, err := runArgs(t, "cat", "b.txt")
	if err != nil {
		t.Fatal(err)
	}
	if out != "in sub" {
		t.Errorf("cat b.txt = %q", out)
	}
}

func TestRunErrors(t *testing.T) {
	t.Setenv(config.EnvVar, "")

	if _, err := runArgs(t, "ls"); err == nil || !strings.Contains(err.Error(), config.EnvVar) {
		t.Errorf("ls without a mount table = %v", err)
	}
	archive := writeArchive(t)
	if _, err := runArgs(t, "--archive", archive, "cat"); err == nil {
		t.Error("cat without arguments succeeded")
	}
	if _, err := runArgs(t, "--archive", archive, "cat", "missing"); err == nil {
		t.Error("cat missing succeeded")
	}
	if _, err := runArgs(t, "--archive", archive, "ls", "tape:/"); err == nil {
		t.Error("ls on an unknown volume succeeded")
	}
	if _, err := runArgs(t, "bogus"); err == nil {
		t.Error("unknown command succeeded")
	}
}
