package app

// Command is one parsed invocation of the canvassync binary.
//
// Parse builds it and [App.Execute] routes it to the matching handler by
// type. Options shared by every command, such as the env file or the log
// file, travel separately in [Options].
type Command interface {
	// Name is the CLI subcommand.
	Name() string
}

// RelayCommand serves an in-process backend to websocket clients.
//
//	canvassync relay --addr=0.0.0.0:8420
type RelayCommand struct {
	// Addr overrides CANVAS_RELAY_ADDR when set.
	Addr string
}

func (c *RelayCommand) Name() string {
	return "relay"
}

// DumpCommand prints the value stored at a backend path as JSON.
type DumpCommand struct {
	Path string
}

func (c *DumpCommand) Name() string {
	return "dump"
}

// WatchCommand opens a session the way a client would and prints every
// session event until interrupted.
type WatchCommand struct {
	UserID    string
	CanvasID  string
	Anonymous bool
}

func (c *WatchCommand) Name() string {
	return "watch"
}

// RateLimitCheckCommand counts one attempt against a named limit.
type RateLimitCheckCommand struct {
	Key string
	// Identity defaults to this machine's fingerprint.
	Identity string
}

func (c *RateLimitCheckCommand) Name() string {
	return "ratelimit-check"
}

// PrintCommand prints help or version text.
type PrintCommand struct {
	Text string
}

func (c *PrintCommand) Name() string {
	return "print"
}
