// pmtrace prints a snapshot trace written by pmrun -trace.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/chazu/pmachine/trace"
)

func main() {
	headerOnly := flag.Bool("header", false, "Print only the header")
	from := flag.Uint64("from", 0, "First record to print")
	limit := flag.Int("n", 0, "Print at most n records (0 for all)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pmtrace [options] trace.cbor\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	if err := dump(os.Stdout, f, *headerOnly, *from, *limit); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dump(w io.Writer, r io.Reader, headerOnly bool, from uint64, limit int) error {
	tr, err := trace.NewReader(r)
	if err != nil {
		return err
	}
	h := tr.Header()
	fmt.Fprintf(w, "run %s: %s (%d instructions), started %s\n",
		h.RunID, h.Program, h.Instructions, h.StartTime().Format(time.RFC3339))
	if headerOnly {
		return nil
	}

	printed := 0
	for limit == 0 || printed < limit {
		rec, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Seq < from {
			continue
		}
		fmt.Fprintf(w, "%6d %s\n", rec.Seq, rec.Snapshot)
		printed++
	}
	return nil
}
