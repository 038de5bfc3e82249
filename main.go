package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prospectr/prospectctl/internal/build"
	"github.com/prospectr/prospectctl/internal/cmd/root"
	"github.com/prospectr/prospectctl/internal/iostreams"
)

// Stamped with -ldflags "-X main.version=..." at release time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := root.Execute(ctx, iostreams.NewOSIOStreams(), &build.Info{
		Version: version,
		Commit:  commit,
		Date:    date,
	})
	stop()
	os.Exit(code)
}
