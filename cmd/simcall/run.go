//go:build linux && amd64

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"github.com/kmrgirish/simcall"
	"github.com/kmrgirish/simcall/internal/tracestore"
	"github.com/kmrgirish/simcall/simruntime"
)

type runCmd struct {
	seed             int64
	seeds            int
	parallel         int
	checkDeterminism bool
	traceDB          string
	verbose          bool
	log              logFlags
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run a scenario for one or more seeds" }
func (*runCmd) Usage() string {
	return `run [flags] <scenario.yaml>
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.seed, "seed", -1, "first seed to run; defaults to the scenario's seed")
	f.IntVar(&c.seeds, "seeds", 1, "number of consecutive seeds to run")
	f.IntVar(&c.parallel, "parallel", runtime.GOMAXPROCS(0), "number of seeds to run at once")
	f.BoolVar(&c.checkDeterminism, "check-determinism", false, "run every seed twice and compare checksums")
	f.StringVar(&c.traceDB, "trace-db", "", "sqlite database to store traces in")
	f.BoolVar(&c.verbose, "v", false, "print every syscall outcome")
	c.log.register(f)
}

// A seedRun is everything printed about one seed, buffered so that output
// from parallel runs does not interleave.
type seedRun struct {
	out    bytes.Buffer
	failed bool
}

func (c *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 || c.seeds < 1 || c.parallel < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg, err := simcall.Load(f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	handler, err := c.log.handler(os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	logger := slog.New(handler)

	var store *tracestore.Store
	if c.traceDB != "" {
		zl, err := simruntime.NewZapLogger(logger)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		defer zl.Sync()
		store, err = tracestore.Open(c.traceDB, zl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "opening trace db: %v\n", err)
			return subcommands.ExitFailure
		}
		defer store.Close()
	}

	first := cfg.Seed
	if c.seed >= 0 {
		first = c.seed
	}

	runs := make([]*seedRun, c.seeds)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)
	for i := range runs {
		seed := first + int64(i)
		sr := &seedRun{}
		runs[i] = sr
		g.Go(func() error {
			// A failing seed is reported, not fatal to the other seeds.
			sr.failed = c.runSeed(ctx, cfg, seed, handler, store, &sr.out) != nil
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	status := subcommands.ExitSuccess
	for _, sr := range runs {
		os.Stdout.Write(sr.out.Bytes())
		if sr.failed {
			status = subcommands.ExitFailure
		}
	}
	return status
}

func (c *runCmd) runSeed(ctx context.Context, cfg *simcall.Config, seed int64, handler slog.Handler, store *tracestore.Store, out io.Writer) error {
	var runID int64
	if store != nil {
		id, err := store.BeginRun(cfg.Name, seed, time.Now())
		if err != nil {
			fmt.Fprintf(out, "seed %d: trace db: %v\n", seed, err)
			return err
		}
		runID = id
	}

	res, err := runOnce(ctx, cfg, seed, handler)
	if res == nil {
		fmt.Fprintf(out, "seed %d: %v\n", seed, err)
		return err
	}

	if c.verbose {
		for _, e := range res.Events {
			fmt.Fprintf(out, "  %s\n", e)
		}
	}

	if err == nil && c.checkDeterminism {
		again, err2 := runOnce(ctx, cfg, seed, handler)
		if err2 != nil {
			err = fmt.Errorf("second run: %w", err2)
		} else if !bytes.Equal(res.Checksum, again.Checksum) {
			err = fmt.Errorf("non-deterministic: checksum %x then %x", res.Checksum, again.Checksum)
		}
	}

	if store != nil {
		if serr := store.Record(runID, toStored(res.Events)); serr != nil {
			fmt.Fprintf(out, "seed %d: trace db: %v\n", seed, serr)
			return serr
		}
		if serr := store.FinishRun(runID, time.Now(), res.Checksum, err); serr != nil {
			fmt.Fprintf(out, "seed %d: trace db: %v\n", seed, serr)
			return serr
		}
	}

	if err != nil {
		fmt.Fprintf(out, "seed %d: FAIL after %v: %v\n", seed, res.Elapsed, err)
		return err
	}
	fmt.Fprintf(out, "seed %d: ok elapsed=%v syscalls=%d checksum=%x\n", seed, res.Elapsed, len(res.Events), res.Checksum)
	return nil
}

func runOnce(ctx context.Context, cfg *simcall.Config, seed int64, handler slog.Handler) (*simcall.Result, error) {
	sim, err := simcall.New(cfg, simcall.WithSeed(seed), simcall.WithLogHandler(handler))
	if err != nil {
		return nil, err
	}
	return sim.Run(ctx)
}

func toStored(events []simcall.Event) []tracestore.Event {
	stored := make([]tracestore.Event, len(events))
	for i, e := range events {
		stored[i] = tracestore.Event{
			Seq:     e.Seq,
			Elapsed: e.Elapsed,
			Host:    e.Host,
			PID:     e.PID,
			TID:     e.TID,
			Syscall: e.Syscall,
			Number:  uint64(e.Number),
			Outcome: e.Outcome,
			Value:   e.Value,
			Errno:   e.Errno,
		}
	}
	return stored
}
