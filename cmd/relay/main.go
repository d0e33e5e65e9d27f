// Relay is the command-line front end of the gateway. It validates
// configurations, runs one-off inferences and serves the HTTP API.
package main

import (
	"flag"
	"fmt"
	"os"
)

const usage = `Usage: relay <command> [flags]

Commands:
  validate  Load a configuration and report any error
  infer     Run a single inference and print the result
  serve     Serve the HTTP API

Run "relay <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error

	switch os.Args[1] {
	case "validate":
		err = validateCmd(os.Args[2:])
	case "infer":
		err = inferCmd(os.Args[2:])
	case "serve":
		err = serveCmd(os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags are shared by every command.
type commonFlags struct {
	config  string
	envFile string
	verbose bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "path to configuration file (default: relay.yaml or config/relay.yaml)")
	fs.StringVar(&c.envFile, "env", ".env", "path to .env file (ignored if missing)")
	fs.BoolVar(&c.verbose, "verbose", false, "log at debug level")
}

func newFlagSet(name, summary string, common *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: relay %s [flags]\n\n%s\n\nFlags:\n", name, summary)
		fs.PrintDefaults()
	}

	common.register(fs)

	return fs
}
