package swiftstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// defaultBufferSize is the size of the chunk pulled from the source per read.
const defaultBufferSize = 16 << 10

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var (
	// ErrBareQuote is returned when an unexpected quote is found in an unquoted field.
	ErrBareQuote = errors.New("swiftstream: bare quote in non-quoted field")
	// ErrUnterminatedQuote is returned when a quoted field is not closed before EOF.
	ErrUnterminatedQuote = errors.New("swiftstream: unterminated quoted field")
	// ErrFieldCount is returned when a row contains an unexpected number of fields.
	ErrFieldCount = errors.New("swiftstream: wrong number of fields")
)

// ParseError contains location information for CSV tokenizing errors.
type ParseError struct {
	Line   int
	Column int
	Err    error
}

// Error formats the parse error message with the stored line, column, and Err values.
func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("swiftstream: parse error on line %d, column %d: %v", e.Line, e.Column, e.Err)
}

// Unwrap returns the underlying Err so ParseError participates in errors.Unwrap.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Tokenizer splits a byte stream into rows of raw fields.
//
// The slices returned by ReadRow alias internal buffers and are only valid
// until the next call to ReadRow.
type Tokenizer struct {
	src io.Reader

	// Comma is the field delimiter. Default is ','.
	Comma byte
	// Quote is the quote character. Default is '"'.
	Quote byte
	// FieldsPerRecord controls width enforcement. Zero captures the width of the
	// first row, a positive value is enforced on every row and a negative value
	// allows rows of any width.
	FieldsPerRecord int

	buf    []byte
	bufPos int
	bufLen int
	bufErr error

	dataBuf     []byte
	fieldBounds []int
	fields      [][]byte
	finished    bool
	bomChecked  bool
	line        int
	recordLine  int
}

// NewTokenizer creates a Tokenizer that consumes CSV data from r, panicking if r is nil.
func NewTokenizer(r io.Reader) *Tokenizer {
	if r == nil {
		panic("swiftstream: tokenizer source cannot be nil")
	}

	return &Tokenizer{
		src:         r,
		Comma:       ',',
		Quote:       '"',
		buf:         make([]byte, defaultBufferSize),
		dataBuf:     make([]byte, 0, 512),
		fieldBounds: make([]int, 0, 32),
		fields:      make([][]byte, 0, 16),
		line:        1,
		recordLine:  1,
	}
}

// RecordLine returns the line on which the most recently read row started.
func (t *Tokenizer) RecordLine() int {
	return t.recordLine
}

// ReadRow parses the next row from the underlying stream. Blank lines are
// skipped. io.EOF signals that no more rows remain.
func (t *Tokenizer) ReadRow() ([][]byte, error) {
	if t == nil || t.src == nil || t.finished {
		return nil, io.EOF
	}
	if !t.bomChecked {
		t.skipBOM()
	}

	comma := t.Comma
	if comma == 0 {
		comma = ','
	}
	quote := t.Quote
	if quote == 0 {
		quote = '"'
	}

	t.dataBuf = t.dataBuf[:0]
	t.fieldBounds = t.fieldBounds[:0]
	t.recordLine = t.line

	inQuotes := false
	sawQuotedField := false
	column := 1
	fieldStart := 0

	for {
		if t.bufPos >= t.bufLen {
			if t.bufErr != nil {
				err := t.bufErr
				t.bufErr = nil
				if err == io.EOF {
					if inQuotes {
						t.finished = true
						return nil, t.wrapError(column, ErrUnterminatedQuote)
					}
					// Flush a trailing field if data ended without a newline.
					if len(t.fieldBounds) > 0 || len(t.dataBuf) > 0 || sawQuotedField {
						t.fieldBounds = append(t.fieldBounds, fieldStart, len(t.dataBuf))
						t.finished = true
						return t.buildRow()
					}
					t.finished = true
					return nil, io.EOF
				}
				return nil, err
			}

			n, err := t.src.Read(t.buf)
			if n == 0 {
				if err != nil {
					t.bufErr = err
				}
				continue
			}
			t.bufPos = 0
			t.bufLen = n
			t.bufErr = err
		}

		if !inQuotes {
			// Fast-path plain bytes until a quote or delimiter is encountered.
			data := t.buf[t.bufPos:t.bufLen]
			if len(data) == 0 {
				continue
			}

			quoteIdx := bytes.IndexByte(data, quote)
			switch {
			case quoteIdx == -1:
				rowDone, err := t.consumePlain(comma, t.bufLen, &column, &fieldStart, &sawQuotedField)
				if err != nil {
					return nil, err
				}
				if rowDone {
					return t.buildRow()
				}
				if t.bufPos >= t.bufLen {
					continue
				}
			case quoteIdx > 0:
				// Process plain bytes up to the quote.
				rowDone, err := t.consumePlain(comma, t.bufPos+quoteIdx, &column, &fieldStart, &sawQuotedField)
				if err != nil {
					return nil, err
				}
				if rowDone {
					return t.buildRow()
				}
				if t.bufPos >= t.bufLen {
					continue
				}
			}
		}

		curColumn := column
		b := t.buf[t.bufPos]
		t.bufPos++

		if inQuotes {
			if b == quote {
				// Double quote inside quotes represents an escaped quote.
				next, err := t.peekByte()
				if err == nil && next == quote {
					t.bufPos++
					t.dataBuf = append(t.dataBuf, quote)
					column = curColumn + 2
					continue
				}
				if err != nil && err != io.EOF {
					return nil, err
				}
				inQuotes = false
				column = curColumn + 1
				continue
			}
			if b == '\n' {
				t.dataBuf = append(t.dataBuf, b)
				t.line++
				column = 1
				continue
			}

			start := t.bufPos - 1
			run := 1
			if t.bufPos < t.bufLen {
				data := t.buf[t.bufPos:t.bufLen]
				for i := 0; i < len(data); i++ {
					c := data[i]
					if c == quote || c == '\n' {
						break
					}
					run++
				}
				t.bufPos += run - 1
			}
			column = curColumn + run
			t.dataBuf = append(t.dataBuf, t.buf[start:start+run]...)
			continue
		}

		switch b {
		case comma:
			t.fieldBounds = append(t.fieldBounds, fieldStart, len(t.dataBuf))
			fieldStart = len(t.dataBuf)
			sawQuotedField = false
			column = curColumn + 1
		case '\n', '\r':
			if b == '\r' {
				next, err := t.peekByte()
				if err == nil && next == '\n' {
					t.bufPos++
				}
				if err != nil && err != io.EOF {
					return nil, err
				}
			}
			emit := t.endLine(fieldStart, sawQuotedField)
			sawQuotedField = false
			column = 1
			if emit {
				return t.buildRow()
			}
		case quote:
			// A quote starts a quoted field only if we have not buffered any characters yet.
			if len(t.dataBuf) == fieldStart && !sawQuotedField {
				inQuotes = true
				sawQuotedField = true
				column = curColumn + 1
				continue
			}
			return nil, t.wrapError(curColumn, ErrBareQuote)
		default:
			start := t.bufPos - 1
			run := 1
			if t.bufPos < t.bufLen {
				data := t.buf[t.bufPos:t.bufLen]
				for i := 0; i < len(data); i++ {
					c := data[i]
					if c == comma || c == '\n' || c == '\r' || c == quote {
						break
					}
					run++
				}
				t.bufPos += run - 1
			}
			column = curColumn + run
			t.dataBuf = append(t.dataBuf, t.buf[start:start+run]...)
		}
	}
}

// endLine closes the pending field at a line terminator and reports whether the
// line produced a row. Lines without any bytes are dropped.
func (t *Tokenizer) endLine(fieldStart int, sawQuotedField bool) bool {
	t.line++
	if len(t.fieldBounds) == 0 && len(t.dataBuf) == 0 && !sawQuotedField {
		t.recordLine = t.line
		return false
	}
	t.fieldBounds = append(t.fieldBounds, fieldStart, len(t.dataBuf))
	return true
}

// buildRow maps the accumulated fieldBounds onto the data buffer and applies
// the FieldsPerRecord policy.
func (t *Tokenizer) buildRow() ([][]byte, error) {
	fieldCount := len(t.fieldBounds) / 2

	t.fields = t.fields[:0]
	for i := 0; i < fieldCount; i++ {
		start := t.fieldBounds[2*i]
		end := t.fieldBounds[2*i+1]
		t.fields = append(t.fields, t.dataBuf[start:end:end])
	}

	switch {
	case t.FieldsPerRecord == 0:
		t.FieldsPerRecord = fieldCount
	case t.FieldsPerRecord > 0 && fieldCount != t.FieldsPerRecord:
		return t.fields, &ParseError{Line: t.recordLine, Column: 1, Err: ErrFieldCount}
	}
	return t.fields, nil
}

// wrapError attaches the current line and supplied column to err, producing a *ParseError.
func (t *Tokenizer) wrapError(column int, err error) error {
	return &ParseError{Line: t.line, Column: column, Err: err}
}

// consumePlain consumes unquoted field data in t.buf[t.bufPos:end], updating
// *column, *fieldStart and *sawQuotedField. It reports whether a row
// terminator was seen and returns any read error encountered.
func (t *Tokenizer) consumePlain(comma byte, end int, column *int, fieldStart *int, sawQuotedField *bool) (bool, error) {
	unbounded := end == t.bufLen
	for {
		if unbounded {
			// peekByte may have refilled the buffer.
			end = t.bufLen
		}
		if t.bufPos >= end {
			return false, nil
		}

		// Locate the closest delimiter or row terminator within the buffered bytes.
		data := t.buf[t.bufPos:end]
		idxComma := bytes.IndexByte(data, comma)
		idxNewline := bytes.IndexByte(data, '\n')
		idxCR := bytes.IndexByte(data, '\r')

		next := len(data)
		delim := byte(0)

		if idxComma >= 0 && idxComma < next {
			next = idxComma
			delim = comma
		}
		if idxNewline >= 0 && idxNewline < next {
			next = idxNewline
			delim = '\n'
		}
		if idxCR >= 0 && idxCR < next {
			next = idxCR
			delim = '\r'
		}

		if next > 0 {
			t.dataBuf = append(t.dataBuf, data[:next]...)
			t.bufPos += next
			*column += next
		}

		if delim == 0 {
			return false, nil
		}

		t.bufPos++
		switch delim {
		case comma:
			t.fieldBounds = append(t.fieldBounds, *fieldStart, len(t.dataBuf))
			*fieldStart = len(t.dataBuf)
			*sawQuotedField = false
			*column = *column + 1
		case '\n', '\r':
			if delim == '\r' {
				// Support CRLF by peeking ahead for '\n' and consuming it together.
				// When end stops short of bufLen the next byte is a quote.
				switch {
				case t.bufPos < end:
					if t.buf[t.bufPos] == '\n' {
						t.bufPos++
					}
				case unbounded:
					nextByte, err := t.peekByte()
					if err == nil && nextByte == '\n' {
						t.bufPos++
					} else if err != nil && err != io.EOF {
						return false, err
					}
				}
			}
			emit := t.endLine(*fieldStart, *sawQuotedField)
			*sawQuotedField = false
			*column = 1
			if emit {
				return true, nil
			}
		}
	}
}

// peekByte returns the next buffered byte (refilling from src as needed) and propagates any read error.
func (t *Tokenizer) peekByte() (byte, error) {
	for {
		if t.bufPos < t.bufLen {
			return t.buf[t.bufPos], nil
		}
		if t.bufErr != nil {
			return 0, t.bufErr
		}

		n, err := t.src.Read(t.buf)
		if n == 0 && err != nil {
			t.bufPos, t.bufLen, t.bufErr = 0, 0, err
			return 0, err
		}
		if n == 0 {
			continue
		}
		t.bufPos = 0
		t.bufLen = n
		t.bufErr = err
	}
}

// skipBOM buffers enough of the stream to drop a leading UTF-8 byte order mark.
func (t *Tokenizer) skipBOM() {
	t.bomChecked = true
	for t.bufLen-t.bufPos < len(utf8BOM) && t.bufErr == nil && t.bufLen < len(t.buf) {
		n, err := t.src.Read(t.buf[t.bufLen:])
		t.bufLen += n
		t.bufErr = err
		if n == 0 && err == nil {
			break
		}
	}
	if bytes.HasPrefix(t.buf[t.bufPos:t.bufLen], utf8BOM) {
		t.bufPos += len(utf8BOM)
	}
}
