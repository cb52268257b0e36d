// Command quartzsim boots the quartz kernel against the host HAL and runs
// the end-to-end scenarios from spec.md §8, the way main_host.go boots the
// teacher's app against hal.RunHeadless/hal.RunWindow.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"time"

	"quartz/internal/buildinfo"
)

func main() {
	var scenario string
	var tickPeriod time.Duration
	var showVersion bool
	flag.StringVar(&scenario, "scenario", "all", fmt.Sprintf("Scenario to run (%s, or \"all\").", scenarioNameList()))
	flag.DurationVar(&tickPeriod, "tick", time.Millisecond, "Simulated hardware tick period; no scenario reads it, since every scenario drives ticks explicitly.")
	flag.BoolVar(&showVersion, "version", false, "Print version, commit, and build date, then exit.")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	names := []string{scenario}
	if scenario == "all" {
		names = scenarioNames()
	}

	fmt.Printf("quartzsim (%s)\n", buildinfo.Short())
	for _, name := range names {
		fn, ok := scenarios[name]
		if !ok {
			fmt.Fprintf(os.Stderr, "error: unknown scenario %q (available: %s)\n", name, scenarioNameList())
			os.Exit(2)
		}
		fmt.Printf("=== %s ===\n", name)
		if err := fn(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("PASS %s\n", name)
	}
}

func scenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func scenarioNameList() string {
	names := scenarioNames()
	out := ""
	for i, n := range names {
		if i > 0 {
			out += "|"
		}
		out += n
	}
	return out
}
