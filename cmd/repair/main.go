// Command repair checks a device or image file's parity and, when exactly
// one region is corrupt, repairs it in place.
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
	c := cliutil.New("repair", "Repair an image's parity", version)

	cmd := &cobra.Command{
		Use:               "repair [flags] image",
		Short:             c.Short,
		Args:              cobra.ExactArgs(1),
		DisableAutoGenTag: true,
		Run: func(cmd *cobra.Command, args []string) {
			runRepair(c, args[0])
		},
	}
	c.Bind(cmd)

	cliutil.Execute(cmd)
}

func runRepair(c *cliutil.Cmd, name string) {
	ctx := context.Background()

	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		c.Fatal(kerrors.WithMsg(err, "Failed to open image"))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		c.Fatal(kerrors.WithMsg(err, "Failed to stat image"))
		return
	}

	result, err := parity.Repair(ctx, c.Log().Logger, f, info.Size())
	if err != nil {
		c.Fatal(err)
		return
	}

	switch {
	case result.RepairedStripe >= 0:
		c.Log().Info(ctx, "repair fixed a stripe", klog.AInt64("stripe", result.RepairedStripe))
	case result.RepairedParity:
		c.Log().Info(ctx, "repair fixed the parity region")
	case result.RepairedMarker1:
		c.Log().Info(ctx, "repair fixed marker copy 1")
	case result.RepairedMarker2:
		c.Log().Info(ctx, "repair fixed marker copy 2")
	default:
		c.Log().Info(ctx, "repair found no corruption")
	}
}
