package swiftstream

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// RawRow is one tokenized row. Fields alias tokenizer buffers and are only
// valid during a single Parse call.
type RawRow struct {
	Fields [][]byte
	Line   int
}

// RecordParser converts a RawRow into a Record.
type RecordParser interface {
	Parse(headers []Header, row RawRow) (Record, error)
}

// NewRecordParser returns the parser for cfg.Shape. cfg must be valid.
func NewRecordParser(cfg Config) RecordParser {
	conv := newFieldConverter(cfg, cfg.Trim.fields())
	if cfg.Shape == ShapeList {
		return &listParser{conv: conv}
	}
	return &mapParser{conv: conv}
}

// fieldConverter turns raw bytes into Fields. It is not safe for concurrent
// use: the lossy decoder keeps state.
type fieldConverter struct {
	trim     bool
	lossy    bool
	stripNUL bool
	null     *string
	flexible bool
	pad      Field
	decoder  *encoding.Decoder
}

func newFieldConverter(cfg Config, trim bool) *fieldConverter {
	c := &fieldConverter{
		trim:     trim,
		lossy:    cfg.Lossy,
		stripNUL: cfg.IgnoreNullBytes,
		null:     cfg.NullString,
		flexible: cfg.Flexible,
		pad:      nullField,
	}
	if cfg.FlexibleDefault != nil {
		c.pad = Field{Value: *cfg.FlexibleDefault, Valid: true}
	}
	if cfg.Lossy {
		c.decoder = unicode.UTF8.NewDecoder()
	}
	return c
}

// text applies NUL stripping, trimming and decoding, in that order. column is
// 1-based and only used for error reporting.
func (c *fieldConverter) text(b []byte, line, column int) ([]byte, error) {
	if c.stripNUL && bytes.IndexByte(b, 0) >= 0 {
		b = bytes.ReplaceAll(b, []byte{0}, nil)
	}
	if c.trim {
		b = bytes.TrimSpace(b)
	}
	if !utf8.Valid(b) {
		if !c.lossy {
			return nil, EncodingError(line, column)
		}
		decoded, err := c.decoder.Bytes(b)
		if err != nil {
			return nil, EncodingError(line, column).WithDetail("cause", err.Error())
		}
		b = decoded
	}
	return b, nil
}

func (c *fieldConverter) field(b []byte, line, column int) (Field, error) {
	b, err := c.text(b, line, column)
	if err != nil {
		return Field{}, err
	}
	if c.null != nil && string(b) == *c.null {
		return nullField, nil
	}
	if len(b) == 0 {
		return emptyField, nil
	}
	return Field{Value: string(b), Valid: true}, nil
}

// width reconciles the row width with the header count. It returns how many
// row fields to convert.
func (c *fieldConverter) width(headers []Header, row RawRow) (int, error) {
	n := len(row.Fields)
	if n == len(headers) {
		return n, nil
	}
	if !c.flexible {
		return 0, newError(ErrCodeRecordSyntax,
			fmt.Sprintf("expected %d fields, found %d", len(headers), n), ErrFieldCount).
			WithLine(row.Line)
	}
	return min(n, len(headers)), nil
}

type listParser struct {
	conv *fieldConverter
}

func (p *listParser) Parse(headers []Header, row RawRow) (Record, error) {
	n, err := p.conv.width(headers, row)
	if err != nil {
		return nil, err
	}
	out := make(FieldList, len(headers))
	for i := 0; i < n; i++ {
		f, err := p.conv.field(row.Fields[i], row.Line, i+1)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	for i := n; i < len(out); i++ {
		out[i] = p.conv.pad
	}
	return out, nil
}

type mapParser struct {
	conv *fieldConverter
}

func (p *mapParser) Parse(headers []Header, row RawRow) (Record, error) {
	n, err := p.conv.width(headers, row)
	if err != nil {
		return nil, err
	}
	out := make(FieldMap, len(headers))
	for i := 0; i < n; i++ {
		f, err := p.conv.field(row.Fields[i], row.Line, i+1)
		if err != nil {
			return nil, err
		}
		out[headers[i]] = f
	}
	for i := n; i < len(headers); i++ {
		out[headers[i]] = p.conv.pad
	}
	return out, nil
}

// headerNames converts the first row into header text. Header cells are
// trimmed when the trim mode covers headers and decoded with the same lossy
// and NUL policy as data cells.
func headerNames(cfg Config, row RawRow) ([]string, error) {
	conv := newFieldConverter(cfg, cfg.Trim.headers())
	names := make([]string, len(row.Fields))
	for i, raw := range row.Fields {
		b, err := conv.text(raw, row.Line, i+1)
		if err != nil {
			return nil, err
		}
		names[i] = string(b)
	}
	return names, nil
}

// syntheticNames returns c0, c1, ... for headerless sources.
func syntheticNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("c%d", i)
	}
	return names
}
