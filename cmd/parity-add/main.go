// Command parity-add appends parity and two marker copies to one or more
// image files, per the on-disk layout in the project's layout design notes.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"xorkevin.dev/kerrors"
	"xorkevin.dev/klog"

	"github.com/isoguard/isoguard/internal/cliutil"
	"github.com/isoguard/isoguard/parity"
	"github.com/isoguard/isoguard/util/bytefmt"
)

var version = "dev"

type addFlags struct {
	finalSize string
	blockSize string
	memHint   string
	pad       bool
	force     bool
	strip     bool
}

func main() {
	c := cliutil.New("parity-add", "Append parity to image files", version)
	var flags addFlags

	cmd := &cobra.Command{
		Use:               "parity-add [flags] image...",
		Short:             c.Short,
		Args:              cobra.MinimumNArgs(1),
		DisableAutoGenTag: true,
		Run: func(cmd *cobra.Command, args []string) {
			runAdd(c, flags, args)
		},
	}
	cmd.Flags().StringVarP(&flags.finalSize, "final-size", "s", "", "final artifact size")
	cmd.Flags().StringVarP(&flags.blockSize, "block-size", "b", "", "block size in bytes")
	cmd.Flags().StringVarP(&flags.memHint, "mem-hint", "B", "", "memory hint (accepted, ignored)")
	cmd.Flags().BoolVarP(&flags.pad, "pad", "p", false, "pad image to a block boundary")
	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "append parity even if the image already has some")
	cmd.Flags().BoolVarP(&flags.strip, "strip", "S", false, "strip existing parity (not implemented)")
	c.Bind(cmd)

	cliutil.Execute(cmd)
}

func runAdd(c *cliutil.Cmd, flags addFlags, args []string) {
	log := c.Log()
	ctx := context.Background()

	if flags.strip {
		log.Warn(ctx, "Strip parity is not implemented")
		c.Fatal(kerrors.WithKind(nil, parity.ErrNotImplemented, "-S is not implemented"))
		return
	}

	opts := parity.BuildOptions{
		Pad:         flags.pad,
		Force:       flags.force,
		ContentHash: true,
	}
	if flags.blockSize != "" {
		n, err := bytefmt.ParseSize(flags.blockSize)
		if err != nil {
			c.Fatal(kerrors.WithMsg(err, "Invalid block size"))
			return
		}
		opts.BlockBytes = n
	} else {
		opts.BlockBytes = cliutil.DefaultBlockBytes(opts.BlockBytes)
	}
	if flags.finalSize != "" {
		n, err := bytefmt.ParseSize(flags.finalSize)
		if err != nil {
			c.Fatal(kerrors.WithMsg(err, "Invalid final size"))
			return
		}
		opts.FinalBytes = n
	}

	for _, name := range args {
		if err := addOne(ctx, c, name, opts); err != nil {
			c.Fatal(err)
			return
		}
	}
}

func addOne(ctx context.Context, c *cliutil.Cmd, name string, opts parity.BuildOptions) error {
	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return kerrors.WithMsg(err, "Failed to open image")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return kerrors.WithMsg(err, "Failed to stat image")
	}

	layout, err := parity.BuildParity(ctx, c.Log().Logger, f, info.Size(), opts)
	if err != nil {
		return err
	}
	c.Log().Info(ctx, "parity-add complete",
		klog.AString("image", name),
		klog.AString("totalSize", bytefmt.ToString(float64(layout.TotalBytes()))),
	)
	return nil
}
