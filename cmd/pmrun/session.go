package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"

	"github.com/chazu/pmachine/builtin"
	"github.com/chazu/pmachine/compiler"
	"github.com/chazu/pmachine/config"
	"github.com/chazu/pmachine/demo"
	"github.com/chazu/pmachine/trace"
	"github.com/chazu/pmachine/vm"
)

var log = commonlog.GetLogger("pmachine.pmrun")

// session runs one sample program.
type session struct {
	cfg    *config.Config
	seed   uint64
	stdin  io.Reader
	stdout io.Writer
}

func (s *session) run(ctx context.Context, name string) error {
	p, ok := demo.Lookup(name)
	if !ok {
		return fmt.Errorf("no sample program %q (try -list)", name)
	}

	var opts []builtin.Option
	if s.seed != 0 {
		opts = append(opts, builtin.WithSeed(s.seed))
	}
	natives, err := builtin.NewRegistry(opts...)
	if err != nil {
		return err
	}
	image, err := compiler.Compile(p.Build(natives))
	if err != nil {
		return fmt.Errorf("compile %s: %w", p.Name, err)
	}
	if s.cfg.Output.Disassemble {
		if err := image.Disassemble(s.stdout); err != nil {
			return err
		}
		fmt.Fprintln(s.stdout)
	}

	m, err := vm.New(image, nil, vm.WithStoreSize(s.cfg.Machine.StoreSize))
	if err != nil {
		return err
	}
	m.SetOutputCallback(func(line string) { fmt.Fprintln(s.stdout, line) })
	m.SetInputCallback(s.input(p.Input))
	m.SetFinishCallback(func(seconds float64) {
		log.Infof("%s finished in %.3fs", p.Name, seconds)
	})

	if s.cfg.Output.Profile {
		m.SetProfiler(vm.NewProfiler())
	}

	if s.cfg.Trace.Enabled {
		closeTrace, err := s.attachTrace(m, p.Name)
		if err != nil {
			return err
		}
		defer closeTrace()
	}

	m.Run()
	runErr := m.Drive(ctx, s.cfg.Machine.BatchSize)

	if prof := m.Profiler(); prof != nil {
		fmt.Fprintln(s.stdout)
		if err := prof.Report(s.stdout, image); err != nil {
			return err
		}
	}
	return runErr
}

// input feeds ReadLn from the program's canned lines, then from stdin.
// Stdin is read on its own goroutine so a blocked read never holds the
// machine's goroutine.
func (s *session) input(canned []string) func(deliver func(string)) {
	lines := append([]string(nil), canned...)
	var scanner *bufio.Scanner
	return func(deliver func(string)) {
		if len(lines) > 0 {
			line := lines[0]
			lines = lines[1:]
			deliver(line)
			return
		}
		if scanner == nil {
			scanner = bufio.NewScanner(s.stdin)
		}
		go func() {
			if scanner.Scan() {
				deliver(scanner.Text())
				return
			}
			if err := scanner.Err(); err != nil {
				log.Warningf("reading input: %s", err)
			}
			deliver("")
		}()
	}
}

// attachTrace records a snapshot after every instruction.
func (s *session) attachTrace(m *vm.Machine, program string) (func(), error) {
	path := s.cfg.TracePath()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace: %w", err)
	}
	bw := bufio.NewWriter(f)
	w, err := trace.NewWriter(bw, trace.NewHeader(program, m.Image().Len()))
	if err != nil {
		f.Close()
		return nil, err
	}
	log.Infof("tracing run %s to %s", w.Header().RunID, path)

	m.SetDebugCallback(func(string) {
		if err := w.Record(m.Snapshot()); err != nil {
			log.Errorf("%s", err)
			m.SetDebugCallback(nil)
		}
	})
	return func() {
		if err := bw.Flush(); err != nil {
			log.Errorf("flush trace: %s", err)
		}
		if err := f.Close(); err != nil {
			log.Errorf("close trace: %s", err)
		}
		log.Infof("wrote %d trace records", w.Count())
	}, nil
}
