package main

import (
	"github.com/alecthomas/kong"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version kong.VersionFlag `short:"v" help:"Show version"`
	Worker  WorkerCmd        `cmd:"" help:"Run a worker that hosts tables"`
	Router  RouterCmd        `cmd:"" help:"Run the routing authority"`
	Servers ServersCmd       `cmd:"" help:"List workers known to a router"`
}

// LogFlags are shared by the long-running commands.
type LogFlags struct {
	Debug     bool   `kong:"help='Enable debug logging'"`
	LogFormat string `kong:"default='json',enum='json,text',help='Log output format'"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("holdemgrid"),
		kong.Description("Distributed multi-table Texas Hold'em server"),
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
