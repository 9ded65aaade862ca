// romfs - Browse RomFS archives and the volumes mounted beside them
//
// Usage:
//
//	romfs --archive <file> ls [-l] [-a] [path]
//	romfs --config <file> cat <path>
//	romfs stat <path>
//	romfs sum <path>...
//	romfs extract [--jobs n] <path> <dir>
//	romfs info [volume:/]
//	romfs serve --root <dir> --socket <path>
//
// Paths are "volume:/path" or relative to the configured current
// directory. Without --config or --archive the mount table is read from
// $ROMFS_CONFIG.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lvdlvd/romfs/cmd"
	"github.com/lvdlvd/romfs/config"
	"github.com/lvdlvd/romfs/detect"
	"github.com/lvdlvd/romfs/fsys"
	"github.com/lvdlvd/romfs/fsys/remote"
	"github.com/lvdlvd/romfs/mount"
	"github.com/lvdlvd/romfs/vfs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "romfs: %v\n", err)
		os.Exit(1)
	}
}

// globalOptions are the flags shared by every command.
type globalOptions struct {
	Config  string
	Archive string
	Verbose bool
}

// app holds the state of one invocation.
type app struct {
	opts globalOptions
	out  io.Writer
	d    *vfs.Dispatcher
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{out: stdout}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	defer a.close()
	return root.ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "romfs",
		Short: "Read files from RomFS archives",
		Long: `
romfs mounts RomFS archives, raw or inside NRO, zstd and lz4 containers, as
named volumes next to host directories served over a Unix socket, and
reads files from them by "volume:/path".
`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		PersistentPreRun: func(c *cobra.Command, args []string) {
			log.SetOutput(c.ErrOrStderr())
			log.SetLevel(log.WarnLevel)
			if a.opts.Verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.opts.Config, "config", "", "mount table `file` (default $"+config.EnvVar+")")
	f.StringVar(&a.opts.Archive, "archive", "", "mount a single archive `file` as romfs:")
	f.BoolVarP(&a.opts.Verbose, "verbose", "v", false, "log debug output")

	root.AddCommand(
		a.lsCommand(),
		a.catCommand(),
		a.statCommand(),
		a.sumCommand(),
		a.extractCommand(),
		a.infoCommand(),
		serveCommand(),
	)
	return root
}

// mount builds the dispatcher from --archive or the mount table.
func (a *app) mount(ctx context.Context) (*vfs.Dispatcher, error) {
	if a.d != nil {
		return a.d, nil
	}
	var cfg *config.Config
	if a.opts.Archive != "" && a.opts.Config == "" {
		cfg = config.ForArchive(a.opts.Archive)
	} else {
		var err error
		if cfg, err = config.Load(a.opts.Config); err != nil {
			return nil, err
		}
	}
	d, err := mount.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Debugf("mounted %v", d.Volumes())
	a.d = d
	return d, nil
}

func (a *app) close() {
	if a.d != nil {
		if err := a.d.Close(); err != nil {
			log.Warnf("unmounting: %v", err)
		}
	}
}

// withVolumes wraps a command body that needs the mounted volumes.
func (a *app) withVolumes(fn func(c *cobra.Command, d *vfs.Dispatcher, args []string) error) func(*cobra.Command, []string) error {
	return func(c *cobra.Command, args []string) error {
		d, err := a.mount(c.Context())
		if err != nil {
			return err
		}
		return fn(c, d, args)
	}
}

func (a *app) lsCommand() *cobra.Command {
	var opts cmd.LsOptions
	c := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.withVolumes(func(c *cobra.Command, d *vfs.Dispatcher, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			return cmd.Ls(d, path, a.out, opts)
		}),
	}
	c.Flags().BoolVarP(&opts.Long, "long", "l", false, "use long listing format")
	c.Flags().BoolVarP(&opts.All, "all", "a", false, "show entries starting with .")
	return c
}

func (a *app) catCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>...",
		Short: "Print files",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.withVolumes(func(c *cobra.Command, d *vfs.Dispatcher, args []string) error {
			for _, name := range args {
				if err := cmd.Cat(d, name, a.out); err != nil {
					return err
				}
			}
			return nil
		}),
	}
}

func (a *app) statCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show file or directory details",
		Args:  cobra.ExactArgs(1),
		RunE: a.withVolumes(func(c *cobra.Command, d *vfs.Dispatcher, args []string) error {
			return cmd.Stat(d, args[0], a.out)
		}),
	}
}

func (a *app) sumCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sum <path>...",
		Short: "Print BLAKE3 checksums",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.withVolumes(func(c *cobra.Command, d *vfs.Dispatcher, args []string) error {
			return cmd.Sum(d, args, a.out)
		}),
	}
}

func (a *app) extractCommand() *cobra.Command {
	var jobs int
	c := &cobra.Command{
		Use:   "extract <path> <dir>",
		Short: "Copy a directory tree to the host",
		Args:  cobra.ExactArgs(2),
		RunE: a.withVolumes(func(c *cobra.Command, d *vfs.Dispatcher, args []string) error {
			return cmd.Extract(c.Context(), d, args[0], args[1], jobs)
		}),
	}
	c.Flags().IntVarP(&jobs, "jobs", "j", runtime.NumCPU(), "files to copy in parallel")
	return c
}

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info [volume:/]",
		Short: "Describe a mounted volume",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.withVolumes(func(c *cobra.Command, d *vfs.Dispatcher, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			p, _, err := d.Resolve(name)
			if err != nil {
				return err
			}
			if err := cmd.Info(p, a.out); err != nil {
				return err
			}
			if a.opts.Archive != "" {
				return a.detected()
			}
			return nil
		}),
	}
}

func (a *app) detected() error {
	src, err := fsys.OpenSource(a.opts.Archive)
	if err != nil {
		return err
	}
	defer src.Close()
	t, err := detect.Detect(src)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Detected as:     %s\n", t)
	return nil
}

func serveCommand() *cobra.Command {
	var root, socket string
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve a host directory for remote volumes",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return remote.NewServer(root, socket).Serve(c.Context())
		},
	}
	c.Flags().StringVar(&root, "root", ".", "host `dir` to serve")
	c.Flags().StringVar(&socket, "socket", "", "Unix socket `path` to listen on")
	c.MarkFlagRequired("socket")
	return c
}
