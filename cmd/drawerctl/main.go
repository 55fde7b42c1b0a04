// drawerctl opens, probes and diagnoses the cash drawer from a terminal.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"drawer-hal/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var root cli.CLI
	kctx := kong.Parse(&root,
		kong.Name("drawerctl"),
		kong.Description("Open and diagnose the point-of-sale cash drawer."),
		kong.UsageOnError(),
	)
	kctx.BindTo(ctx, (*context.Context)(nil))

	err := kctx.Run(&root)
	if errors.Is(err, cli.ErrOpenFailed) {
		// the result is already on stdout
		os.Exit(2)
	}
	kctx.FatalIfErrorf(err)
}
