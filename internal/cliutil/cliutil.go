// Package cliutil holds the logger/flag/error-exit scaffolding shared by the
// four standalone executables, factored out of the teacher's cmd.Cmd so each
// tool's own main package stays a thin wiring layer.
package cliutil

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"xorkevin.dev/kerrors"
	"xorkevin.dev/kfs"
	"xorkevin.dev/klog"

	"io/fs"
	"strings"
)

// RootFlags are the persistent flags every tool's cobra root carries.
type RootFlags struct {
	LogLevel string
	LogJSON  bool
}

// Cmd wraps a tool's cobra root with a lazily initialized logger, mirroring
// the teacher's cmd.Cmd but scoped to a single-command binary instead of a
// subcommand tree.
type Cmd struct {
	Use     string
	Short   string
	Version string

	log   *klog.LevelLogger
	flags RootFlags
}

// New constructs a Cmd for one of the four tools.
func New(use, short, version string) *Cmd {
	return &Cmd{Use: use, Short: short, Version: version}
}

// Bind attaches the shared persistent flags to cmd and wires PersistentPreRun
// to initialize the logger and environment-variable config layer before Run
// executes.
func (c *Cmd) Bind(cmd *cobra.Command) {
	cmd.Version = c.Version
	cmd.DisableAutoGenTag = true
	cmd.PersistentFlags().StringVar(&c.flags.LogLevel, "log-level", "info", "log level")
	cmd.PersistentFlags().BoolVar(&c.flags.LogJSON, "log-json", false, "output json logs")
	existingPreRun := cmd.PersistentPreRun
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		c.initConfig()
		if existingPreRun != nil {
			existingPreRun(cmd, args)
		}
	}
}

func (c *Cmd) initConfig() {
	logWriter := klog.NewSyncWriter(os.Stderr)
	var handler *klog.SlogHandler
	if c.flags.LogJSON {
		handler = klog.NewJSONSlogHandler(logWriter)
	} else {
		handler = klog.NewTextSlogHandler(logWriter)
		handler.FieldTimeInfo = ""
		handler.FieldCaller = ""
		handler.FieldMod = ""
	}
	c.log = klog.NewLevelLogger(klog.New(
		klog.OptHandler(handler),
		klog.OptMinLevelStr(c.flags.LogLevel),
	))

	viper.SetEnvPrefix("ISOGUARD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	viper.SetDefault("default.block.bytes", 0)
}

// DefaultBlockBytes returns the ISOGUARD_DEFAULT__BLOCK__BYTES environment
// override if set, or fallback otherwise. Callers use this in place of the
// engine's own built-in default when the --block-size flag is left unset, so
// an operator can retune the default without a flag on every invocation.
func DefaultBlockBytes(fallback int64) int64 {
	if n := viper.GetInt64("default.block.bytes"); n > 0 {
		return n
	}
	return fallback
}

// Log returns the logger, valid only after PersistentPreRun has run.
func (c *Cmd) Log() *klog.LevelLogger {
	return c.log
}

// Fatal logs err and exits the process with a non-zero status, matching the
// teacher's logFatal/os.Exit convention.
func (c *Cmd) Fatal(err error) {
	c.log.Err(context.Background(), err)
	os.Exit(1)
}

// Execute runs cmd and prints any cobra-level error (flag parsing, etc) to
// stderr before exiting non-zero.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// WorkFS returns an fs.FS rooted at the process's current working directory,
// the same way the teacher's getStateDBDir wraps a directory with kfs.DirFS
// rather than calling os.Stat/os.Open directly, so the CLI layer can be
// exercised against an in-memory fs.FS in tests.
func WorkFS() fs.FS {
	return kfs.DirFS(".")
}

// StatSize stats name through fsys and returns its size in bytes. Absolute
// paths fall outside fs.FS's rooted-path contract, so those are stat'd
// directly; everything else goes through fsys, the same separation the
// teacher draws between kfs.DirFS-relative state and raw host paths.
func StatSize(fsys fs.FS, name string) (int64, error) {
	if fs.ValidPath(name) {
		info, err := fs.Stat(fsys, name)
		if err != nil {
			return 0, kerrors.WithMsg(err, "Failed to stat file")
		}
		return info.Size(), nil
	}
	info, err := os.Stat(name)
	if err != nil {
		return 0, kerrors.WithMsg(err, "Failed to stat file")
	}
	return info.Size(), nil
}
