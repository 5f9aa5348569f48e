// cc-gw is a local multi-model gateway for LLM chat clients. It accepts
// Anthropic messages, OpenAI chat completions, and OpenAI responses
// requests, routes them to configured upstream providers, translates wire
// formats in both directions, and records logs and metrics in embedded
// SQLite.
//
// Usage:
//
//	cc-gw start [--daemon] [--port N] [--foreground]
//	cc-gw stop
//	cc-gw restart
//	cc-gw status
//	cc-gw version
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ccgw/cc-gw/config"
)

// Build-time metadata injected via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		os.Exit(runStart(os.Args[2:]))
	case "stop":
		os.Exit(runStop())
	case "restart":
		os.Exit(runRestart(os.Args[2:]))
	case "status":
		os.Exit(runStatus())
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	daemon := fs.Bool("daemon", false, "run detached in the background")
	port := fs.Int("port", 0, "override the configured listen port for this launch")
	foreground := fs.Bool("foreground", false, "stay attached (the default; used internally by --daemon)")
	_ = fs.Parse(args)

	home := config.Home()
	if err := os.MkdirAll(home, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", home, err)
		return 1
	}

	if *daemon && !*foreground {
		return spawnDaemon(home, *port)
	}
	return runServer(home, *port)
}

func runRestart(args []string) int {
	// A not-running gateway is fine for restart.
	if code := runStop(); code != 0 {
		fmt.Fprintln(os.Stderr, "gateway was not running")
	}
	return runStart(append([]string{"--daemon"}, args...))
}

func printVersion() {
	fmt.Printf("cc-gw %s\n", Version)
	fmt.Printf("  commit:     %s\n", GitCommit)
	fmt.Printf("  build time: %s\n", BuildTime)
}

func printUsage() {
	fmt.Println(`cc-gw - local multi-model LLM gateway

Usage:
  cc-gw <command> [options]

Commands:
  start     Start the gateway (use --daemon to detach)
  stop      Stop a running gateway
  restart   Stop then start detached
  status    Report whether the gateway is running
  version   Show version information
  help      Show this help message

Options for 'start':
  --daemon       Detach and run in the background
  --port N       Override the configured listen port for this launch
  --foreground   Stay attached (default)

Environment:
  CC_GW_HOME              Data root (default ~/.cc-gw)
  PORT                    Listen port override at launch
  CC_GW_DEBUG_ENDPOINTS   Set to 1 to log resolved upstream URLs
  CC_GW_UI_ROOT           Static UI assets directory`)
}
