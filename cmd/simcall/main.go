//go:build linux && amd64

// Command simcall runs syscall simulation scenarios.
//
// Usage:
//
//	simcall run [-seed=N] [-seeds=N] [-parallel=N] [-check-determinism] [-trace-db=path] [-v] scenario.yaml
//	simcall trace -db=path [-run=id]
//
// The run command runs a scenario once per seed, starting at -seed (or the
// scenario's own seed) and prints one summary line per seed. With -v it also
// prints every syscall outcome. With -trace-db every run and its syscall
// trace is stored in a sqlite database that the trace command reads back.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	commander := subcommands.NewCommander(fs, os.Args[0])
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&runCmd{}, "")
	commander.Register(&traceCmd{}, "")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return int(subcommands.ExitUsageError)
	}
	return int(commander.Execute(context.Background()))
}
