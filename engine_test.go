package swiftstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oleg578/swiftstream/logger"
)

// inputKinds builds the same CSV text as a threaded and an inline source.
var inputKinds = []struct {
	name string
	mode Mode
	in   func(string) Input
}{
	{"threaded", Threaded, String},
	{"inline", Inline, func(s string) Input { return Stream(strings.NewReader(s)) }},
}

func listConfig() Config {
	cfg := DefaultConfig()
	cfg.Shape = ShapeList
	return cfg
}

// drain collects every record as string values plus the terminal error.
func drain(t *testing.T, eng *Engine) ([][]*string, error) {
	t.Helper()
	var rows [][]*string
	for {
		rec, err := eng.Next()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		row := make([]*string, 0, rec.Len())
		switch r := rec.(type) {
		case FieldList:
			for _, f := range r {
				row = append(row, fieldPtr(f))
			}
		case FieldMap:
			for _, h := range eng.Headers() {
				row = append(row, fieldPtr(r[h]))
			}
		}
		rows = append(rows, row)
	}
}

func fieldPtr(f Field) *string {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

func vals(vs ...string) []*string {
	out := make([]*string, len(vs))
	for i := range vs {
		out[i] = &vs[i]
	}
	return out
}

func headerNamesOf(eng *Engine) []string {
	out := make([]string, len(eng.Headers()))
	for i, h := range eng.Headers() {
		out[i] = h.Name()
	}
	return out
}

func generateCSV(rows, cols int) string {
	var b strings.Builder
	for c := 0; c < cols; c++ {
		if c > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "col%d", c)
	}
	b.WriteByte('\n')
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteByte(',')
			}
			if c == 2 {
				fmt.Fprintf(&b, "\"q,%d\"", r)
				continue
			}
			fmt.Fprintf(&b, "r%dc%d", r, c)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func TestEngineRoundTrip(t *testing.T) {
	t.Parallel()

	const n, m = 2500, 7
	data := generateCSV(n, m)

	var results [][][]*string
	for _, kind := range inputKinds {
		for _, shape := range []Shape{ShapeMap, ShapeList} {
			cfg := DefaultConfig()
			cfg.Shape = shape
			cfg.ChannelCapacity = 16

			eng, err := Open(context.Background(), kind.in(data), WithConfig(cfg))
			require.NoError(t, err)
			assert.Equal(t, kind.mode, eng.Mode())
			assert.Len(t, eng.Headers(), m)

			rows, err := drain(t, eng)
			require.NoError(t, err, "%s/%s", kind.name, shape)
			require.Len(t, rows, n)
			for _, row := range rows {
				require.Len(t, row, m)
			}
			assert.Equal(t, "q,41", *rows[41][2])
			assert.Equal(t, Exhausted, eng.State())
			results = append(results, rows)
		}
	}
	for _, r := range results[1:] {
		assert.Equal(t, results[0], r, "all modes and shapes agree")
	}
}

func TestEngineScenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		mutate  func(*Config)
		headers []string
		want    [][]*string
	}{
		{
			name:    "emptyFieldStaysEmpty",
			input:   "a,b,c\n1,,3\n",
			headers: []string{"a", "b", "c"},
			want:    [][]*string{vals("1", "", "3")},
		},
		{
			name:  "flexibleDefaultPads",
			input: "a,b\n1\n",
			mutate: func(c *Config) {
				c.Flexible = true
				c.FlexibleDefault = strPtr("X")
			},
			headers: []string{"a", "b"},
			want:    [][]*string{vals("1", "X")},
		},
		{
			name:    "nullMarker",
			input:   "a,b\nNULL,2\n",
			mutate:  func(c *Config) { c.NullString = strPtr("NULL") },
			headers: []string{"a", "b"},
			want:    [][]*string{{nil, vals("2")[0]}},
		},
		{
			name:    "syntheticHeaders",
			input:   "1,2,3",
			mutate:  func(c *Config) { c.HasHeaders = false },
			headers: []string{"c0", "c1", "c2"},
			want:    [][]*string{vals("1", "2", "3")},
		},
		{
			name:    "headerOnly",
			input:   "a,b\n",
			headers: []string{"a", "b"},
		},
		{
			name:    "emptyInput",
			input:   "",
			headers: []string{},
		},
		{
			name:    "emptyInputWithoutHeaders",
			input:   "",
			mutate:  func(c *Config) { c.HasHeaders = false },
			headers: []string{},
		},
		{
			name:    "bomAndTrimmedHeaders",
			input:   "\xEF\xBB\xBF id , name \n1,x\n",
			mutate:  func(c *Config) { c.Trim = TrimHeaders },
			headers: []string{"id", "name"},
			want:    [][]*string{vals("1", "x")},
		},
		{
			name:  "semicolonAndSingleQuote",
			input: "a;b\n'x;y';'it''s'\n",
			mutate: func(c *Config) {
				c.Delimiter = ";"
				c.QuoteChar = "'"
			},
			headers: []string{"a", "b"},
			want:    [][]*string{vals("x;y", "it's")},
		},
	}

	for _, tc := range tests {
		for _, kind := range inputKinds {
			for _, shape := range []Shape{ShapeMap, ShapeList} {
				t.Run(fmt.Sprintf("%s/%s/%s", tc.name, kind.name, shape), func(t *testing.T) {
					t.Parallel()

					cfg := DefaultConfig()
					cfg.Shape = shape
					if tc.mutate != nil {
						tc.mutate(&cfg)
					}
					eng, err := Open(context.Background(), kind.in(tc.input), WithConfig(cfg), WithInterner(NewInterner()))
					require.NoError(t, err)
					defer eng.Close()

					assert.Equal(t, tc.headers, headerNamesOf(eng))
					rows, err := drain(t, eng)
					require.NoError(t, err)
					assert.Equal(t, tc.want, rows)
				})
			}
		}
	}
}

func TestEngineMapScenario(t *testing.T) {
	t.Parallel()

	eng, err := Open(context.Background(), String("a,b,c\n1,,3\n"))
	require.NoError(t, err)
	rec, err := eng.Next()
	require.NoError(t, err)

	m, ok := rec.(FieldMap)
	require.True(t, ok)
	assert.Equal(t, 3, m.Len())
	for name, want := range map[string]string{"a": "1", "b": "", "c": "3"} {
		f, ok := m.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, Field{Value: want, Valid: true}, f, name)
	}

	_, err = eng.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEngineFailStop(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		code  ErrorCode
		line  int
	}{
		{"shortRow", "a,b\n1,2\n3\n4,5\n", ErrCodeRecordSyntax, 3},
		{"longRow", "a,b\n1,2\n3,4,5\n4,5\n", ErrCodeRecordSyntax, 3},
		{"unterminatedQuote", "a,b\n1,2\n\"3,4\n", ErrCodeRecordSyntax, 4},
		{"bareQuote", "a,b\n1,2\n3\"x,4\n", ErrCodeRecordSyntax, 3},
		{"invalidUTF8", "a,b\n1,2\n3,\xff\n5,6\n", ErrCodeEncoding, 3},
	}
	for _, tc := range tests {
		for _, kind := range inputKinds {
			t.Run(tc.name+"/"+kind.name, func(t *testing.T) {
				t.Parallel()

				eng, err := Open(context.Background(), kind.in(tc.input), WithShape(ShapeList))
				require.NoError(t, err)

				rows, err := drain(t, eng)
				assert.Equal(t, [][]*string{vals("1", "2")}, rows)
				var serr *Error
				require.ErrorAs(t, err, &serr)
				assert.Equal(t, tc.code, serr.Code)
				assert.Equal(t, tc.line, serr.Line)
				assert.Equal(t, Exhausted, eng.State())

				_, err = eng.Next()
				assert.ErrorIs(t, err, io.EOF, "no items after the terminal error")
			})
		}
	}
}

func TestEngineFlexibleAcceptsRaggedRows(t *testing.T) {
	t.Parallel()

	cfg := listConfig()
	cfg.Flexible = true
	eng, err := Open(context.Background(), String("a,b\n1\n1,2,3\n\n4,5\n"), WithConfig(cfg))
	require.NoError(t, err)

	rows, err := drain(t, eng)
	require.NoError(t, err)
	assert.Equal(t, [][]*string{{vals("1")[0], nil}, vals("1", "2"), vals("4", "5")}, rows)
}

func TestEngineHeaderlessFirstRowError(t *testing.T) {
	t.Parallel()

	for _, kind := range inputKinds {
		cfg := listConfig()
		cfg.HasHeaders = false
		eng, err := Open(context.Background(), kind.in("\xff,1\n2,3\n"), WithConfig(cfg))
		require.NoError(t, err, kind.name)

		_, err = eng.Next()
		assert.ErrorIs(t, err, ErrEncoding, kind.name)
		_, err = eng.Next()
		assert.ErrorIs(t, err, io.EOF, kind.name)
	}
}

func TestEngineSourceReadError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	src := io.MultiReader(strings.NewReader("a,b\n1,2\n"), iotest.ErrReader(boom))
	eng, err := Open(context.Background(), Stream(src), WithShape(ShapeList))
	require.NoError(t, err)

	rows, err := drain(t, eng)
	assert.Len(t, rows, 1)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, ErrCodeSourceRead, serr.Code)
	assert.ErrorIs(t, err, boom)
}

func TestEngineTruncatedGzip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := io.WriteString(zw, generateCSV(20000, 5))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := writeFile(t, "cut.csv.gz", buf.String()[:buf.Len()/2])
	eng, err := Open(context.Background(), Path(path), WithShape(ShapeList))
	require.NoError(t, err)

	rows, err := drain(t, eng)
	assert.NotEmpty(t, rows)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, ErrCodeSourceRead, serr.Code)
}

type panicReader struct{ calls int }

func (r *panicReader) Read(p []byte) (int, error) {
	r.calls++
	if r.calls == 1 {
		return copy(p, "a,b\n"), nil
	}
	panic("reader exploded")
}

type panicParser struct{}

func (panicParser) Parse([]Header, RawRow) (Record, error) { panic(errors.New("parser exploded")) }

func TestEngineInternalErrors(t *testing.T) {
	t.Parallel()

	t.Run("inline", func(t *testing.T) {
		t.Parallel()
		eng, err := Open(context.Background(), Stream(&panicReader{}))
		require.NoError(t, err)
		_, err = eng.Next()
		var serr *Error
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, ErrCodeInternal, serr.Code)
		assert.Contains(t, err.Error(), "reader exploded")
	})

	t.Run("threaded", func(t *testing.T) {
		t.Parallel()
		src, err := Resolver{}.Resolve(String("a,b\n1,2\n"))
		require.NoError(t, err)
		eng := newEngine(src, DefaultConfig(), NewInterner(), logger.Nop())
		eng.parser = panicParser{}
		require.NoError(t, eng.readHeaders())
		eng.start(context.Background())

		_, err = eng.Next()
		assert.ErrorIs(t, err, ErrInternal)
		assert.Contains(t, err.Error(), "parser exploded")
		_, err = eng.Next()
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestEngineCloseErrorOnTerminalError(t *testing.T) {
	t.Parallel()

	closeErr := errors.New("flush failed")
	for _, mode := range []Mode{Threaded, Inline} {
		var buf bytes.Buffer
		log := logger.NewWithWriter(&logger.Config{Level: "warn", Format: "json"}, &buf, "")
		src := &Source{
			Kind:         OwnedFile,
			Name:         "failing.csv",
			Ownership:    Owned,
			Transferable: mode == Threaded,
			r:            strings.NewReader("a,b\n1,2\n3\n"),
			closers:      []io.Closer{closerFunc(func() error { return closeErr })},
		}
		eng := newEngine(src, listConfig(), NewInterner(), log)
		require.NoError(t, eng.readHeaders())
		eng.start(context.Background())
		require.Equal(t, mode, eng.Mode())

		_, err := eng.Next()
		require.NoError(t, err, mode.String())
		_, err = eng.Next()
		var serr *Error
		require.ErrorAs(t, err, &serr, mode.String())
		assert.Equal(t, ErrCodeRecordSyntax, serr.Code)
		assert.Contains(t, serr.Details["close_error"], "flush failed")
		assert.Contains(t, buf.String(), "source close failed")
		assert.Contains(t, buf.String(), "flush failed")

		_, err = eng.Next()
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestEngineEarlyDispose(t *testing.T) {
	t.Parallel()

	const total = 1_000_000
	var b bytes.Buffer
	b.WriteString("id,value\n")
	for i := 0; i < total; i++ {
		fmt.Fprintf(&b, "%d,%d\n", i, i*2)
	}

	interner := NewInterner()
	cfg := listConfig()
	cfg.ChannelCapacity = 100
	eng, err := Open(context.Background(), Bytes(b.Bytes()), WithConfig(cfg), WithInterner(interner))
	require.NoError(t, err)
	require.Equal(t, Threaded, eng.Mode())
	assert.Equal(t, 1, interner.Refs("id"))

	seen := 0
	for rec, err := range eng.All() {
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(seen), rec.(FieldList)[0].Value)
		seen++
		if seen == 10 {
			break
		}
	}

	assert.Equal(t, 10, seen)
	assert.Equal(t, Closed, eng.State(), "breaking out of All disposes the engine")
	assert.Equal(t, 0, interner.Refs("id"), "headers are released on dispose")
	assert.NoError(t, eng.Close())
	_, err = eng.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEngineAllYieldsTerminalError(t *testing.T) {
	t.Parallel()

	eng, err := Open(context.Background(), String("a\n1\n\"2\n"), WithShape(ShapeList))
	require.NoError(t, err)

	var values []string
	var errs []error
	for rec, err := range eng.All() {
		if err != nil {
			assert.Nil(t, rec)
			errs = append(errs, err)
			continue
		}
		values = append(values, rec.(FieldList)[0].Value)
	}
	assert.Equal(t, []string{"1"}, values)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrRecordSyntax)
}

func TestEngineCloseIdempotent(t *testing.T) {
	t.Parallel()

	for _, kind := range inputKinds {
		interner := NewInterner()
		eng, err := Open(context.Background(), kind.in("a,b\n1,2\n3,4\n"), WithInterner(interner))
		require.NoError(t, err)
		assert.Equal(t, Streaming, eng.State())

		require.NoError(t, eng.Close())
		require.NoError(t, eng.Close())
		assert.Equal(t, Closed, eng.State())
		assert.Equal(t, 0, interner.Refs("a"))
		assert.Equal(t, 2, interner.Len(), "names are kept after release")

		_, err = eng.Next()
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestEngineContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := listConfig()
	cfg.ChannelCapacity = 1
	eng, err := Open(ctx, String(generateCSV(50000, 3)), WithConfig(cfg))
	require.NoError(t, err)

	_, err = eng.Next()
	require.NoError(t, err)
	cancel()

	for {
		_, err = eng.Next()
		if err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Exhausted, eng.State())
}

func TestEngineIdentity(t *testing.T) {
	t.Parallel()

	a, err := Open(context.Background(), String("x\n"))
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(context.Background(), String("x\n"))
	require.NoError(t, err)
	defer b.Close()

	_, err = uuid.Parse(a.ID())
	assert.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, a.Headers(), b.Headers(), "engines share interned headers")
	assert.Equal(t, InMemoryBytes, a.Source().Kind)
	assert.Equal(t, ShapeMap, a.Config().Shape)
}

func TestStateAndModeStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "threaded", Threaded.String())
	assert.Equal(t, "inline", Inline.String())
	for s, want := range map[State]string{
		Created:    "created",
		HeaderRead: "header_read",
		Streaming:  "streaming",
		Exhausted:  "exhausted",
		Closed:     "closed",
		State(42):  "state(42)",
	} {
		assert.Equal(t, want, s.String())
	}
}
