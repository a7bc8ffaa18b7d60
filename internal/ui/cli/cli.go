package cli

import (
	"flag"
	"fmt"
	"io"
)

const versionString = "1.0.0"

type cliOptions struct {
	configPath string
	verbose    bool
	version    bool
	command    string
	args       []string
}

type scanOptions struct {
	json       bool
	printCode  bool
	sourcePath string
}

type buildOptions struct {
	outExt     string
	sourcePath string
}

type callOptions struct {
	sourcePath string
	function   string
	args       []string
}

type serveOptions struct {
	watch      bool
	sourcePath string
}

type historyOptions struct {
	limit      int
	json       bool
	sourcePath string
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `usage: omniworker [-config path] [-verbose] <command> [flags] <file> ...

commands:
  scan <file>                   report import/require declarations and native binary rewrites
  build [-out-ext .js] <file>   bundle a worker module into a single script
  call <file> <fn> [json...]    build a worker, call one function and print the JSON result
  serve [-watch] <file>         serve a worker pool over stdio JSON-RPC
  history [-limit n] <file>     show recorded builds of a worker module
`)
}

func parseOptions(args []string) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("omniworker", flag.ContinueOnError)

	fs.StringVar(&opts.configPath, "config", "", "Path to config file (default ./omniworker.toml)")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}

	rest := fs.Args()
	if len(rest) > 0 {
		opts.command = rest[0]
		opts.args = rest[1:]
	}
	if !opts.version && opts.command == "" {
		return cliOptions{}, fmt.Errorf("missing command")
	}
	return opts, nil
}

func parseScanOptions(args []string) (scanOptions, error) {
	var opts scanOptions
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.BoolVar(&opts.json, "json", false, "Print the full result as JSON")
	fs.BoolVar(&opts.printCode, "print", false, "Print the rewritten source")
	if err := fs.Parse(args); err != nil {
		return scanOptions{}, err
	}
	path, err := singlePath("scan", fs.Args())
	if err != nil {
		return scanOptions{}, err
	}
	opts.sourcePath = path
	return opts, nil
}

func parseBuildOptions(args []string) (buildOptions, error) {
	var opts buildOptions
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.StringVar(&opts.outExt, "out-ext", "", "Output extension: .js, .mjs or .cjs (default from config)")
	if err := fs.Parse(args); err != nil {
		return buildOptions{}, err
	}
	path, err := singlePath("build", fs.Args())
	if err != nil {
		return buildOptions{}, err
	}
	opts.sourcePath = path
	return opts, nil
}

func parseCallOptions(args []string) (callOptions, error) {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return callOptions{}, err
	}
	rest := fs.Args()
	if len(rest) < 2 {
		return callOptions{}, fmt.Errorf("call requires a file and a function name")
	}
	return callOptions{sourcePath: rest[0], function: rest[1], args: rest[2:]}, nil
}

func parseServeOptions(args []string) (serveOptions, error) {
	var opts serveOptions
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.BoolVar(&opts.watch, "watch", false, "Rebuild the pool when worker sources or the config file change")
	if err := fs.Parse(args); err != nil {
		return serveOptions{}, err
	}
	path, err := singlePath("serve", fs.Args())
	if err != nil {
		return serveOptions{}, err
	}
	opts.sourcePath = path
	return opts, nil
}

func parseHistoryOptions(args []string) (historyOptions, error) {
	var opts historyOptions
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.IntVar(&opts.limit, "limit", 20, "Maximum number of builds to show")
	fs.BoolVar(&opts.json, "json", false, "Print entries and summary as JSON")
	if err := fs.Parse(args); err != nil {
		return historyOptions{}, err
	}
	if opts.limit < 1 {
		return historyOptions{}, fmt.Errorf("history -limit must be at least 1, got %d", opts.limit)
	}
	path, err := singlePath("history", fs.Args())
	if err != nil {
		return historyOptions{}, err
	}
	opts.sourcePath = path
	return opts, nil
}

func singlePath(command string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s requires exactly one file argument, got %d", command, len(args))
	}
	return args[0], nil
}
