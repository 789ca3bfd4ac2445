package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/trafficlab/egorecorder/internal/config"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.1.0"
	BuildDate      string = "unknown"

	AppName string = "egorecorder"
)

const usage = `usage: egorecorder [command] [flags]

commands:
  record      spawn traffic and record ego neighbor snapshots (default)
  lanes       drive one vehicle per lane and record the lane table
  waypoints   list driving-lane waypoints as CSV
  version     print the version
`

// options are the flags that are not config keys.
type options struct {
	configDir string
	out       string
	spacing   float64
	laneTicks int
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := "record"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "record", "lanes", "waypoints":
	case "version":
		fmt.Fprintf(stdout, "%s %s (built %s)\n", AppName, CurrentVersion, BuildDate)
		return 0
	case "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	fs := pflag.NewFlagSet(AppName+" "+cmd, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.RegisterFlags(fs)
	var opts options
	fs.StringVar(&opts.configDir, "config-dir", ".", "directory holding "+config.FileName)
	fs.StringVarP(&opts.out, "out", "o", "", "output file for lanes/waypoints (default: coord-file / stdout)")
	fs.Float64Var(&opts.spacing, "spacing", 3, "waypoint spacing in meters")
	fs.IntVar(&opts.laneTicks, "lane-ticks", 3000, "ticks to drive when recording lanes")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	if err := config.Load(opts.configDir); err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if err := config.BindFlags(fs); err != nil {
		fmt.Fprintf(stderr, "Failed to bind flags: %v\n", err)
		return 1
	}

	// waypoints without -o print CSV on stdout, keep it clean
	echo := cmd != "waypoints" || opts.out != ""
	a, err := newApp(stdout, echo)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to set up logging: %v\n", err)
		return 1
	}
	defer a.shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "record":
		err = a.record(ctx)
	case "lanes":
		err = a.lanes(ctx, opts)
	case "waypoints":
		err = a.waypoints(ctx, opts, stdout)
	}
	if err != nil {
		a.log.Error("Command failed", "command", cmd, "error", err)
		return 1
	}
	return 0
}
