/*
Package simcall runs deterministic simulations of processes making Linux
system calls against simulated descriptors.

A simulation is described by a scenario: hosts, the processes on them, the
pipes, files, timers and connected sockets each process starts with, and a
script of syscalls for every thread. Threads run one syscall at a time on a
single discrete-event scheduler. A call that cannot complete blocks; the
thread parks until a descriptor it waits on changes or the call's timeout
fires, and then the same call is retried. Simulated time only advances when
every thread is blocked, so a scenario that sleeps for an hour finishes
instantly.

The same scenario with the same seed always produces the same trace of
syscall outcomes and the same checksum:

	cfg, err := simcall.Load("echo.yaml")
	if err != nil {
		log.Fatal(err)
	}
	sim, err := simcall.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	res, err := sim.Run(context.Background())

Faults listed in the scenario, such as partitions, latency changes, closed
descriptors and killed threads, are injected at fixed simulated times with
the [github.com/kmrgirish/simcall/nemesis] package.

The syscall handler itself lives in internal/simulation/syscall. Handlers
are per thread, own a timeout timer that is armed on the first attempt of a
blocking call and consulted on retries, and treat a retry of a different
syscall than the one that blocked as a fatal protocol violation that aborts
the simulation.

Use the simcall command ([github.com/kmrgirish/simcall/cmd/simcall]) to run
scenarios from the command line across many seeds.
*/
package simcall
