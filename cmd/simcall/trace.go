//go:build linux && amd64

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/kmrgirish/simcall/internal/tracestore"
)

type traceCmd struct {
	db       string
	run      int64
	scenario string
}

func (*traceCmd) Name() string     { return "trace" }
func (*traceCmd) Synopsis() string { return "list stored runs or print the trace of one" }
func (*traceCmd) Usage() string {
	return `trace -db=path [-scenario=name] [-run=id]
`
}

func (c *traceCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.db, "db", "", "sqlite database written by run -trace-db")
	f.Int64Var(&c.run, "run", 0, "run to print; lists runs when unset")
	f.StringVar(&c.scenario, "scenario", "", "only list runs of this scenario")
}

func (c *traceCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.db == "" || f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if _, err := os.Stat(c.db); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	store, err := tracestore.Open(c.db, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer store.Close()

	if c.run == 0 {
		err = c.listRuns(store)
	} else {
		err = c.printRun(store)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *traceCmd) listRuns(store *tracestore.Store) error {
	runs, err := store.Runs(c.scenario)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSCENARIO\tSEED\tCHECKSUM\tRESULT")
	for _, r := range runs {
		result := "ok"
		switch {
		case r.Finished.IsZero():
			result = "unfinished"
		case r.Err != "":
			result = r.Err
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", r.ID, r.Scenario, r.Seed, r.Checksum, result)
	}
	return w.Flush()
}

func (c *traceCmd) printRun(store *tracestore.Store) error {
	events, err := store.Events(c.run)
	if err != nil {
		return fmt.Errorf("run %d: %w", c.run, err)
	}
	for _, e := range events {
		switch e.Outcome {
		case "blocked":
			fmt.Printf("%v %s/%d %s blocked\n", e.Elapsed, e.Host, e.TID, e.Syscall)
		case "error":
			fmt.Printf("%v %s/%d %s = -1 %s\n", e.Elapsed, e.Host, e.TID, e.Syscall, e.Errno)
		default:
			fmt.Printf("%v %s/%d %s = %d\n", e.Elapsed, e.Host, e.TID, e.Syscall, e.Value)
		}
	}
	return nil
}
