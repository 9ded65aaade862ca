// Package config loads the volume table the romfs command mounts.
//
// The file is named by the --config flag or, failing that, the
// ROMFS_CONFIG environment variable. Without either, the command mounts
// the single archive given with --archive.
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable consulted by Load.
const EnvVar = "ROMFS_CONFIG"

// DefaultCacheSize is the number of resolved directories a romfs volume
// remembers when cache_size is not given.
const DefaultCacheSize = 256

// VolumeType selects the provider backing a volume.
type VolumeType string

const (
	// RomFS mounts a read-only archive.
	RomFS VolumeType = "romfs"
	// Remote mounts a directory served over a Unix socket.
	Remote VolumeType = "remote"
)

// Config is the mount table.
type Config struct {
	// Cwd is the initial current directory, e.g. "romfs:/".
	Cwd string `yaml:"cwd"`

	// Volumes are mounted in order, so a romfs volume may read its archive
	// from a volume listed before it.
	Volumes []Volume `yaml:"volumes"`
}

// Volume describes one mounted volume.
type Volume struct {
	Name string     `yaml:"name"`
	Type VolumeType `yaml:"type"`

	// Path is the archive for a romfs volume: a host path, or a path on an
	// earlier volume such as "sdmc:/app.romfs".
	Path string `yaml:"path,omitempty"`

	// Offset is the archive start within Path. When unset the container is
	// sniffed and the archive located automatically.
	Offset *int64 `yaml:"offset,omitempty"`

	// CacheSize bounds the resolved-directory cache. Zero disables it.
	// Default: 256
	CacheSize *int `yaml:"cache_size,omitempty"`

	// NativeFileBuckets hashes file names with the file table's own bucket
	// count instead of the directory table's.
	NativeFileBuckets bool `yaml:"native_file_buckets,omitempty"`

	// Socket is the server socket for a remote volume.
	Socket string `yaml:"socket,omitempty"`
}

// Cache returns the effective cache size.
func (v *Volume) Cache() int {
	if v.CacheSize == nil {
		return DefaultCacheSize
	}
	return *v.CacheSize
}

// OnVolume splits a path of the form "vol:/rest" and reports whether Path
// names a file on another volume rather than on the host.
func (v *Volume) OnVolume() (volume, rest string, ok bool) {
	first, rest, _ := strings.Cut(v.Path, "/")
	if len(first) < 2 || !strings.HasSuffix(first, ":") {
		return "", "", false
	}
	return strings.TrimSuffix(first, ":"), "/" + rest, true
}

// Default returns an empty mount table.
func Default() *Config {
	return &Config{}
}

// ForArchive returns a table mounting the archive at path as "romfs:" with
// the current directory at its root.
func ForArchive(path string) *Config {
	return &Config{
		Cwd: "romfs:/",
		Volumes: []Volume{
			{Name: "romfs", Type: RomFS, Path: path},
		},
	}
}

// Load reads the configuration file at path, or at $ROMFS_CONFIG if path
// is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return nil, errors.Errorf("no configuration file: use --config or set %s", EnvVar)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return cfg, nil
}

// Parse decodes and validates a configuration document. ${VAR} references
// in paths and sockets are expanded from the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "parsing config")
	}
	for i := range cfg.Volumes {
		v := &cfg.Volumes[i]
		v.Path = os.ExpandEnv(v.Path)
		v.Socket = os.ExpandEnv(v.Socket)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool)

	for i, v := range c.Volumes {
		where := fmt.Sprintf("volumes[%d]", i)
		if v.Name != "" {
			where = fmt.Sprintf("volume %q", v.Name)
		}

		switch {
		case v.Name == "":
			errs = append(errs, errors.Errorf("%s: name is required", where))
		case strings.ContainsAny(v.Name, ":/"):
			errs = append(errs, errors.Errorf("%s: name must not contain ':' or '/'", where))
		case seen[v.Name]:
			errs = append(errs, errors.Errorf("%s: declared twice", where))
		}

		switch v.Type {
		case RomFS:
			if v.Path == "" {
				errs = append(errs, errors.Errorf("%s: path is required", where))
			}
			if vol, _, ok := v.OnVolume(); ok && !seen[vol] {
				errs = append(errs, errors.Errorf("%s: archive is on volume %q, which must be declared before it", where, vol))
			}
			if v.Offset != nil && *v.Offset < 0 {
				errs = append(errs, errors.Errorf("%s: offset must not be negative", where))
			}
			if v.CacheSize != nil && *v.CacheSize < 0 {
				errs = append(errs, errors.Errorf("%s: cache_size must not be negative", where))
			}
		case Remote:
			if v.Socket == "" {
				errs = append(errs, errors.Errorf("%s: socket is required", where))
			}
		default:
			errs = append(errs, errors.Errorf("%s: unknown type %q (want romfs or remote)", where, v.Type))
		}

		if v.Name != "" {
			seen[v.Name] = true
		}
	}

	if c.Cwd != "" {
		vol, _, ok := strings.Cut(c.Cwd, ":")
		if !ok || !seen[vol] {
			errs = append(errs, errors.Errorf("cwd %q is not on a declared volume", c.Cwd))
		}
	}

	return stderrors.Join(errs...)
}
