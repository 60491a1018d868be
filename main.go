// stamina-bootstrap fetches, installs and supervises a Stamina runtime.
//
// Usage:
//
//	stamina-bootstrap run      fetch a bootstrap package, install and supervise the runtime
//	stamina-bootstrap discover look for bootstrap packages advertised on the LAN
//	stamina-bootstrap serve    build, publish and advertise a bootstrap package
package main

import (
	"fmt"
	"os"

	"github.com/staminaframework/stamina-bootstrap/cmd/build"
	"github.com/staminaframework/stamina-bootstrap/cmd/discover"
	"github.com/staminaframework/stamina-bootstrap/cmd/edit"
	"github.com/staminaframework/stamina-bootstrap/cmd/resources"
	"github.com/staminaframework/stamina-bootstrap/cmd/run"
	"github.com/staminaframework/stamina-bootstrap/cmd/serve"
	"github.com/staminaframework/stamina-bootstrap/cmd/status"
	"github.com/staminaframework/stamina-bootstrap/cmd/stop"
	"github.com/staminaframework/stamina-bootstrap/internal/version"
)

const (
	defaultSystemPath = "/etc/stamina-bootstrap/config.toml"
	defaultLocalPath  = "config.toml"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	configPath := ""

	// Parse --config flag if present
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			args = append(args[:i], args[i+2:]...)
			i--
			continue
		}
		if len(arg) > 9 && arg[:9] == "--config=" {
			configPath = arg[9:]
			args = append(args[:i], args[i+1:]...)
			i--
			continue
		}
	}

	if configPath == "" {
		if _, err := os.Stat(defaultLocalPath); err == nil {
			configPath = defaultLocalPath
		} else {
			configPath = defaultSystemPath
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand, rest := args[0], args[1:]
	var err error

	switch subcommand {
	case "run":
		err = run.Run(configPath, rest)
	case "discover":
		err = discover.Run(configPath, rest)
	case "build":
		err = build.Run(configPath, rest)
	case "resources":
		err = resources.Run(configPath, rest)
	case "serve":
		err = serve.Run(configPath, rest)
	case "status":
		err = status.Run(configPath, rest)
	case "stop":
		err = stop.Run(configPath, rest)
	case "edit":
		err = edit.Run(configPath, rest)
	case "version":
		fmt.Printf("stamina-bootstrap v%s\n", version.Version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`stamina-bootstrap v%s

Usage:
  stamina-bootstrap <command> [options] [--config <path>]

Commands:
  run        Fetch a bootstrap package, install the runtime and supervise it
               -f, --from <url|bootstrap:network>  package source
               -c, --clean                          discard the cached package and runtime
               -d, --debug                          enable debug logging
  discover   Probe the LAN for advertised bootstrap packages
  build      Build a bootstrap package: build <dest> [addon urls...]
  resources  Prepare builder resources from an agent and a runtime directory
  serve      Build, publish over HTTP and advertise a bootstrap package
  status     Show the state of the running agent
  stop       Ask the running agent to stop its runtime
  edit       Edit the configuration file in your system editor
  version    Print version information
  help       Show this help message

Options:
  --config <path>  Path to config file (default: looks for ./config.toml, then %s)

Examples:
  stamina-bootstrap run --from http://admin:8080/bootstrap.pkg
  stamina-bootstrap run --from bootstrap:network
  stamina-bootstrap serve

`, version.Version, defaultSystemPath)
}
