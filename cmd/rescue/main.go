// Command rescue reconstructs as much of a damaged image as possible from a
// v1 marker's geometry, writing recovered blocks to a fresh destination
// file.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"xorkevin.dev/kerrors"
	"xorkevin.dev/klog"

	"github.com/isoguard/isoguard/internal/cliutil"
	"github.com/isoguard/isoguard/parity"
)

var version = "dev"

func main() {
	c := cliutil.New("rescue", "Reconstruct a damaged image from its parity", version)

	cmd := &cobra.Command{
		Use:               "rescue [flags] source destination",
		Short:             c.Short,
		Args:              cobra.ExactArgs(2),
		DisableAutoGenTag: true,
		Run: func(cmd *cobra.Command, args []string) {
			runRescue(c, args[0], args[1])
		},
	}
	c.Bind(cmd)

	cliutil.Execute(cmd)
}

func runRescue(c *cliutil.Cmd, srcName, dstName string) {
	ctx := context.Background()

	src, err := os.Open(srcName)
	if err != nil {
		c.Fatal(kerrors.WithMsg(err, "Failed to open source"))
		return
	}
	defer src.Close()

	srcInfo, err := src.Stat()
	if err != nil {
		c.Fatal(kerrors.WithMsg(err, "Failed to stat source"))
		return
	}

	layout, err := parity.LocateLayoutV1(src, srcInfo.Size())
	if err != nil {
		c.Fatal(err)
		return
	}

	dst, err := os.OpenFile(dstName, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		c.Fatal(kerrors.WithMsg(err, "Failed to create destination"))
		return
	}
	defer dst.Close()
	if err := dst.Truncate(layout.ImageBytes()); err != nil {
		c.Fatal(kerrors.WithMsg(err, "Failed to size destination"))
		return
	}

	result, err := parity.Rescue(ctx, c.Log().Logger, layout, src, dst)
	if err != nil {
		c.Fatal(err)
		return
	}

	c.Log().Info(ctx, "rescue complete",
		klog.AInt64("imageBlocks", result.ImageBlocks),
		klog.AInt64("blocksRecovered", result.BlocksRecovered),
		klog.AInt("unrecoverableColumns", len(result.UnrecoverableCol)),
		klog.AInt("parityErrors", result.ParityErrors),
	)
}
