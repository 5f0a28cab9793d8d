// Package trace records machine snapshots as a CBOR sequence: one header
// item followed by one record per executed instruction.
package trace

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/chazu/pmachine/vm"
)

// Version is written in every header. Readers reject other versions.
const Version = 1

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Header identifies one run.
type Header struct {
	Version      int       `cbor:"v"`
	RunID        uuid.UUID `cbor:"id"`
	Started      int64     `cbor:"t"` // Unix nanoseconds
	Program      string    `cbor:"p"`
	Instructions int       `cbor:"n"`
}

// StartTime returns Started as a time.
func (h Header) StartTime() time.Time {
	return time.Unix(0, h.Started)
}

// Record is the state after one instruction.
type Record struct {
	Seq      uint64      `cbor:"q"`
	Snapshot vm.Snapshot `cbor:"s"`
}

// NewHeader starts a header for program with a fresh run ID.
func NewHeader(program string, instructions int) Header {
	return Header{
		Version:      Version,
		RunID:        uuid.New(),
		Started:      time.Now().UnixNano(),
		Program:      program,
		Instructions: instructions,
	}
}

// Writer appends records to a trace stream.
type Writer struct {
	enc    *cbor.Encoder
	header Header
	seq    uint64
	err    error
}

// NewWriter writes h to w and returns a writer for the records.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	enc := encMode.NewEncoder(w)
	if err := enc.Encode(h); err != nil {
		return nil, fmt.Errorf("trace: write header: %w", err)
	}
	return &Writer{enc: enc, header: h}, nil
}

// Header returns the header written by NewWriter.
func (w *Writer) Header() Header { return w.header }

// Record appends a snapshot. After the first failure every call returns
// the same error.
func (w *Writer) Record(s vm.Snapshot) error {
	if w.err != nil {
		return w.err
	}
	w.seq++
	if err := w.enc.Encode(Record{Seq: w.seq, Snapshot: s}); err != nil {
		w.err = fmt.Errorf("trace: write record %d: %w", w.seq, err)
	}
	return w.err
}

// Count returns how many records were written.
func (w *Writer) Count() uint64 { return w.seq }

// Reader reads a stream written by Writer.
type Reader struct {
	dec    *cbor.Decoder
	header Header
}

// NewReader reads and checks the header.
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(r)
	var h Header
	if err := dec.Decode(&h); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("trace: empty stream")
		}
		return nil, fmt.Errorf("trace: read header: %w", err)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("trace: unsupported version %d", h.Version)
	}
	return &Reader{dec: dec, header: h}, nil
}

func (r *Reader) Header() Header { return r.header }

// Next returns the next record, or io.EOF at the end of the stream.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("trace: read record: %w", err)
	}
	return rec, nil
}
