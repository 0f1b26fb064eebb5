// Command verify checks a device or image file's parity without modifying
// it, reporting the first corruption found.
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
	c := cliutil.New("verify", "Verify an image's parity", version)

	cmd := &cobra.Command{
		Use:               "verify [flags] image",
		Short:             c.Short,
		Args:              cobra.ExactArgs(1),
		DisableAutoGenTag: true,
		Run: func(cmd *cobra.Command, args []string) {
			runVerify(c, args[0])
		},
	}
	c.Bind(cmd)

	cliutil.Execute(cmd)
}

func runVerify(c *cliutil.Cmd, name string) {
	ctx := context.Background()

	f, err := os.Open(name)
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

	result, err := parity.Verify(ctx, c.Log().Logger, f, info.Size())
	if err != nil {
		c.Fatal(err)
		return
	}

	c.Log().Info(ctx, "verify ok",
		klog.AString("image", name),
		klog.AInt("version", result.Version),
		klog.AInt("parityErrors", result.ParityErrors),
	)
}
