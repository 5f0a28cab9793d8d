// pmrun compiles one of the sample programs and runs it on the p-machine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/pmachine/config"
	"github.com/chazu/pmachine/demo"
)

func main() {
	configDir := flag.String("config", "", "Directory holding pmachine.toml (default: search upward from the working directory)")
	example := flag.String("example", "", "Sample program to run")
	list := flag.Bool("list", false, "List the sample programs")
	dis := flag.Bool("dis", false, "Print the disassembly before running")
	tracePath := flag.String("trace", "", "Write a CBOR snapshot trace to this file")
	profile := flag.Bool("profile", false, "Print an execution profile after the run")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides the config file)")
	storeSize := flag.Int("store", 0, "Data store size in words (overrides the config file)")
	seed := flag.Uint64("seed", 0, "Seed for Random (0 picks one from the clock)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pmrun [options] -example name\n\n")
		fmt.Fprintf(os.Stderr, "Compiles a sample program and runs it on the p-machine.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pmrun -list                        # Show the sample programs\n")
		fmt.Fprintf(os.Stderr, "  pmrun -example factorial -dis      # Disassemble and run\n")
		fmt.Fprintf(os.Stderr, "  pmrun -example matrix -trace t.cbor -profile\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *verbosity >= 0 {
		cfg.Log.Verbosity = *verbosity
	}
	if *storeSize > 0 {
		cfg.Machine.StoreSize = *storeSize
	}
	if *dis {
		cfg.Output.Disassemble = true
	}
	if *profile {
		cfg.Output.Profile = true
	}
	if *tracePath != "" {
		cfg.Trace.Enabled = true
		cfg.Trace.Output = *tracePath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var logPath *string
	if cfg.Log.File != "" {
		logPath = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	if *list {
		for _, p := range demo.All() {
			fmt.Printf("%-10s %s\n", p.Name, p.Description)
		}
		return
	}
	if *example == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s := &session{
		cfg:    cfg,
		seed:   *seed,
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
	if err := s.run(ctx, *example); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	wd, err := os.Getwd()
	if err != nil {
		return config.Default(), nil
	}
	return config.FindAndLoad(wd)
}
