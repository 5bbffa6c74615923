package main

import (
	"errors"
	"io/fs"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version kong.VersionFlag `short:"v" help:"Show version"`
	Serve   ServeCmd         `cmd:"" help:"Run the round server"`
	Settle  SettleCmd        `cmd:"" help:"Settle a roster file offline"`
	Watch   WatchCmd         `cmd:"" help:"Watch a live round in the terminal"`
}

func main() {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Failed to load .env", "error", err)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("pokersplit"),
		kong.Description("Track buy-ins for a home poker game and settle up at the end"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
