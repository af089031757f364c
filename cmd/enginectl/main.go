// Command enginectl operates the pipeline execution engine: it starts
// the worker/scheduler/queue/vault stack, submits one-off tasks against
// a running engine's job queue, and inspects queue depth and vault
// context packs.
//
// Usage:
//
//	enginectl serve --config engine.yaml
//	enginectl schedule --config engine.yaml --phase research --agents a1,a2 --run-id run-1
//	enginectl queue-depth --config engine.yaml --topic tasks
//	enginectl vault query --config engine.yaml --theme-prefix incident.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve      ServeCmd      `cmd:"" help:"Start the engine: scheduler, worker pool, vault, admin HTTP surface."`
	Schedule   ScheduleCmd   `cmd:"" help:"Submit a phase plan against a running engine's task repository and queue."`
	QueueDepth QueueDepthCmd `cmd:"" name:"queue-depth" help:"Report the job queue's depth for a topic."`
	Vault      VaultCmd      `cmd:"" help:"Query or inspect the memory vault."`
	Version    VersionCmd    `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to engine config file." type:"path" default:"engine.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)."`
}

// VersionCmd prints build version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("enginectl dev")
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("enginectl"),
		kong.Description("Operate the pipeline execution engine."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
	if err != nil {
		os.Exit(1)
	}
}
