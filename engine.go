package swiftstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oleg578/swiftstream/logger"
)

// Mode is the scheduling regime of an Engine, fixed at build time.
type Mode int

const (
	// Threaded engines parse on one worker goroutine feeding a bounded channel.
	Threaded Mode = iota
	// Inline engines read and parse on the consumer's goroutine inside Next.
	Inline
)

func (m Mode) String() string {
	if m == Inline {
		return "inline"
	}
	return "threaded"
}

// State is the lifecycle position of an Engine.
type State int32

const (
	Created State = iota
	HeaderRead
	Streaming
	Exhausted
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case HeaderRead:
		return "header_read"
	case Streaming:
		return "streaming"
	case Exhausted:
		return "exhausted"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// result is one item of the sequence: a record or the terminal error.
type result struct {
	rec Record
	err error
}

// Engine is a single-pass, forward-only sequence of Records read from one
// Source. Next, All and Close must not be called concurrently with each
// other; State and the other accessors are safe from any goroutine.
type Engine struct {
	id       string
	cfg      Config
	src      *Source
	tok      *Tokenizer
	parser   RecordParser
	interner *Interner
	headers  []Header
	mode     Mode
	log      *logger.Logger

	state atomic.Int32

	// pending holds the first data row of a headerless source, parsed while
	// the header width was being established.
	pending *result

	// Threaded mode.
	cancel  context.CancelFunc
	group   *errgroup.Group
	results chan result

	records   atomic.Int64
	finishOne sync.Once
	finishErr error
}

func newEngine(src *Source, cfg Config, interner *Interner, log *logger.Logger) *Engine {
	tok := NewTokenizer(src)
	tok.Comma = cfg.delimiter()
	tok.Quote = cfg.quote()
	tok.FieldsPerRecord = -1

	mode := Threaded
	if !src.Transferable {
		mode = Inline
	}

	id := uuid.NewString()
	e := &Engine{
		id:       id,
		cfg:      cfg,
		src:      src,
		tok:      tok,
		parser:   NewRecordParser(cfg),
		interner: interner,
		mode:     mode,
		log:      log.WithComponent("engine").WithFields(logger.Fields(logger.FieldEngineID, id)),
	}
	e.state.Store(int32(Created))
	return e
}

// ID returns the engine's unique identifier.
func (e *Engine) ID() string { return e.id }

// Headers returns the interned header set. The slice must not be modified.
func (e *Engine) Headers() []Header { return e.headers }

// Mode returns the scheduling regime.
func (e *Engine) Mode() Mode { return e.mode }

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// Source returns the resolved source metadata.
func (e *Engine) Source() *Source { return e.src }

// readHeaders establishes the header set from the first row, or synthesizes
// it for headerless sources. An empty source yields no headers.
func (e *Engine) readHeaders() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = HeaderError(InternalError(fmt.Errorf("%v", r)))
		}
	}()

	row, err := e.tok.ReadRow()
	if errors.Is(err, io.EOF) {
		e.tok.FieldsPerRecord = e.widthPolicy(0)
		e.state.Store(int32(HeaderRead))
		return nil
	}
	if err != nil {
		return HeaderError(streamError(err, e.tok.RecordLine()))
	}
	raw := RawRow{Fields: row, Line: e.tok.RecordLine()}

	var names []string
	if e.cfg.HasHeaders {
		names, err = headerNames(e.cfg, raw)
		if err != nil {
			return HeaderError(err)
		}
	} else {
		names = syntheticNames(len(row))
	}

	e.headers = e.interner.InternMany(names)
	e.tok.FieldsPerRecord = e.widthPolicy(len(e.headers))

	if !e.cfg.HasHeaders {
		rec, perr := e.parser.Parse(e.headers, raw)
		e.pending = &result{rec: rec, err: perr}
	}
	e.state.Store(int32(HeaderRead))
	return nil
}

// widthPolicy returns the tokenizer FieldsPerRecord for n headers.
func (e *Engine) widthPolicy(n int) int {
	if e.cfg.Flexible || n == 0 {
		return -1
	}
	return n
}

// start moves the engine to Streaming, spawning the worker in threaded mode.
func (e *Engine) start(ctx context.Context) {
	e.state.Store(int32(Streaming))
	if e.mode == Inline {
		return
	}

	wctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.results = make(chan result, e.cfg.ChannelCapacity)
	g, gctx := errgroup.WithContext(wctx)
	e.group = g
	g.Go(func() error {
		return e.produce(gctx)
	})
}

// produce is the worker loop. It closes the results channel on return.
func (e *Engine) produce(ctx context.Context) (err error) {
	defer close(e.results)
	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(error)
			if !ok {
				perr = fmt.Errorf("%v", r)
			}
			e.send(ctx, result{err: InternalError(perr)})
			err = nil
		}
	}()

	if p := e.pending; p != nil {
		e.pending = nil
		if !e.send(ctx, *p) {
			return ctx.Err()
		}
		if p.err != nil {
			return nil
		}
	}

	for {
		rec, err := e.step()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if !e.send(ctx, result{rec: rec, err: err}) {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
	}
}

// send delivers r unless the consumer has gone away.
func (e *Engine) send(ctx context.Context, r result) bool {
	select {
	case e.results <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// step reads and parses one row. io.EOF marks the end of input.
func (e *Engine) step() (Record, error) {
	row, err := e.tok.ReadRow()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	line := e.tok.RecordLine()
	if err != nil {
		return nil, streamError(err, line)
	}
	rec, err := e.parser.Parse(e.headers, RawRow{Fields: row, Line: line})
	if err != nil {
		return nil, streamError(err, line)
	}
	return rec, nil
}

// Next returns the next Record. It returns io.EOF once the sequence is
// exhausted or the engine is closed. Any other error is terminal: the engine
// is finished and later calls return io.EOF.
func (e *Engine) Next() (Record, error) {
	switch e.State() {
	case Exhausted, Closed:
		return nil, io.EOF
	}

	var r result
	if e.mode == Inline {
		r = e.nextInline()
	} else {
		var ok bool
		r, ok = <-e.results
		if !ok {
			if err := e.finish(Exhausted); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
	}

	if r.err == io.EOF {
		if err := e.finish(Exhausted); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	if r.err != nil {
		var serr *Error
		if errors.As(r.err, &serr) {
			recordStreamError(context.Background(), serr.Code)
			e.log.WithError(r.err).Warn("sequence terminated", logger.Fields(
				logger.FieldCode, string(serr.Code),
				logger.FieldLine, serr.Line,
			))
		}
		if cerr := e.finish(Exhausted); cerr != nil {
			e.log.WithError(cerr).Warn("source close failed")
			if serr != nil {
				serr.WithDetail("close_error", cerr.Error())
			}
		}
		return nil, r.err
	}
	e.records.Add(1)
	return r.rec, nil
}

func (e *Engine) nextInline() (r result) {
	defer func() {
		if p := recover(); p != nil {
			perr, ok := p.(error)
			if !ok {
				perr = fmt.Errorf("%v", p)
			}
			r = result{err: InternalError(perr)}
		}
	}()
	if p := e.pending; p != nil {
		e.pending = nil
		return *p
	}
	rec, err := e.step()
	return result{rec: rec, err: err}
}

// All returns the remaining records as a range-over-func sequence. Breaking
// out of the loop closes the engine. A terminal error is yielded once, with a
// nil Record, as the last item.
func (e *Engine) All() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for {
			rec, err := e.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rec, err) {
				_ = e.Close()
				return
			}
			if err != nil {
				return
			}
		}
	}
}

// Close disposes the engine before exhaustion. It stops the worker, waits for
// it to exit, releases the headers and closes the Source when it is Owned.
// Close is idempotent and safe to call after exhaustion.
func (e *Engine) Close() error {
	return e.finish(Closed)
}

// finish runs cleanup exactly once. The returned error is the worker's error
// when the build context was canceled, or the Source close error.
func (e *Engine) finish(final State) error {
	e.finishOne.Do(func() {
		var werr error
		if e.cancel != nil {
			e.cancel()
		}
		if e.group != nil {
			werr = e.group.Wait()
			if final == Closed {
				werr = nil
			}
		}
		// Drain so buffered records are not retained by the channel.
		if e.results != nil {
			for range e.results {
			}
		}

		e.interner.Release(e.headers)
		cerr := e.src.Close()
		e.state.Store(int32(final))

		n := e.records.Load()
		recordRecords(context.Background(), e.mode, n)
		e.log.Debug("engine finished", logger.Fields(
			logger.FieldState, final.String(),
			logger.FieldRecords, n,
		))

		switch {
		case werr != nil:
			e.finishErr = werr
		case cerr != nil:
			e.finishErr = newError(ErrCodeSourceRead, "failed to close "+e.src.Name, cerr)
		}
	})
	return e.finishErr
}
