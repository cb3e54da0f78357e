package app

import (
	"fmt"

	"github.com/docopt/docopt-go"
)

const Version = "0.1.0"

const Usage = `canvassync.

Usage:
  canvassync relay [--addr=<addr>] [options]
  canvassync dump <path> [options]
  canvassync watch --user=<uid> [--canvas=<cid>] [--anonymous] [options]
  canvassync ratelimit-check <key> [--identity=<id>] [options]
  canvassync -h | --help
  canvassync --version

Options:
  -h --help            Show this screen.
  --version            Show version.
  --addr=<addr>        Listen address, overrides CANVAS_RELAY_ADDR.
  --user=<uid>         User id of the watching session.
  --canvas=<cid>       Shared canvas to open instead of the user's own.
  --anonymous          Treat the user as not signed in.
  --identity=<id>      Client identity for the rate limit check.
  --env=<file>         Environment file [default: .env].
  --log-file=<path>    Append logs to this file instead of stderr.
  --log-level=<level>  Overrides CANVAS_LOG_LEVEL.`

// Options apply to every command.
type Options struct {
	EnvFile  string
	LogFile  string
	LogLevel string
}

// Parse maps command line arguments to a Command. --help and --version
// yield a PrintCommand.
func Parse(args []string) (Command, Options, error) {
	var output string
	parser := &docopt.Parser{
		HelpHandler: func(_ error, usage string) {
			output = usage
		},
	}

	opts, err := parser.ParseArgs(Usage, args, Version)
	if err != nil {
		return nil, Options{}, fmt.Errorf("invalid arguments: %w\n\n%s", err, output)
	}
	if output != "" {
		return &PrintCommand{Text: output}, Options{}, nil
	}

	var o Options
	o.EnvFile, _ = opts.String("--env")
	o.LogFile, _ = opts.String("--log-file")
	o.LogLevel, _ = opts.String("--log-level")

	switch {
	case flag(opts, "relay"):
		addr, _ := opts.String("--addr")
		return &RelayCommand{Addr: addr}, o, nil
	case flag(opts, "dump"):
		path, _ := opts.String("<path>")
		return &DumpCommand{Path: path}, o, nil
	case flag(opts, "watch"):
		cmd := &WatchCommand{Anonymous: flag(opts, "--anonymous")}
		cmd.UserID, _ = opts.String("--user")
		cmd.CanvasID, _ = opts.String("--canvas")
		return cmd, o, nil
	case flag(opts, "ratelimit-check"):
		cmd := &RateLimitCheckCommand{}
		cmd.Key, _ = opts.String("<key>")
		cmd.Identity, _ = opts.String("--identity")
		return cmd, o, nil
	}
	return nil, Options{}, fmt.Errorf("no command given\n\n%s", Usage)
}

func flag(opts docopt.Opts, name string) bool {
	v, _ := opts.Bool(name)
	return v
}
