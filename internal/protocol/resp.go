// Package protocol implements the RESP (Redis Serialization Protocol) codec
// used by keva: a buffer-anchored parser for decoding requests and a buffered
// writer for encoding replies.
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"unicode/utf8"
)

var (
	// ErrMalformed indicates a byte buffer that does not contain a
	// well-formed RESP element (missing terminator, truncated bulk string,
	// non-numeric length or integer, invalid UTF-8 where text is required).
	ErrMalformed = errors.New("protocol: malformed RESP frame")
	// ErrUnexpectedType indicates a Value with an unknown type tag.
	ErrUnexpectedType = errors.New("protocol: unexpected type")
)

// Value represents a RESP value.
type Value struct {
	Type  byte
	Str   string  // simple string or error text
	Num   int64   // integer
	Bulk  []byte  // bulk string payload
	Array []Value // array elements
	Null  bool    // null bulk string or null array
}

// RESP type constants
const (
	TypeSimpleString = '+'
	TypeError        = '-'
	TypeInteger      = ':'
	TypeBulkString   = '$'
	TypeArray        = '*'
)

const (
	maxBulkStringLength = 512 * 1024 * 1024 // 512 MiB
	maxArrayLength      = 1024
	defaultBufSize      = 64 * 1024 // 64 KiB write buffer
)

// Shared byte slices to avoid allocations on every write.
var (
	crlfBytes      = []byte("\r\n")
	nullBulkBytes  = []byte("$-1\r\n")
	nullArrayBytes = []byte("*-1\r\n")
	okBytes        = []byte("+OK\r\n")
	pongBytes      = []byte("+PONG\r\n")
)

// intBufPool provides scratch buffers for integer formatting.
var intBufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 20) // max int64 is 19 digits + sign
		return &b
	},
}

// SimpleString returns a simple-string Value.
func SimpleString(s string) Value { return Value{Type: TypeSimpleString, Str: s} }

// Error returns an error Value carrying the full reply text.
func Error(s string) Value { return Value{Type: TypeError, Str: s} }

// Integer returns an integer Value.
func Integer(n int64) Value { return Value{Type: TypeInteger, Num: n} }

// BulkString returns a bulk-string Value.
func BulkString(b []byte) Value { return Value{Type: TypeBulkString, Bulk: b} }

// NullBulkString returns the null bulk string ($-1).
func NullBulkString() Value { return Value{Type: TypeBulkString, Null: true} }

// Parser decodes RESP elements from a fixed byte buffer.
// The buffer is never modified; a cursor tracks how far decoding has
// consumed it. Bulk payloads alias the input buffer, so the buffer must
// stay untouched while returned Values are in use.
type Parser struct {
	buf []byte
	pos int
}

// NewParser creates a Parser anchored at the start of buf.
func NewParser(buf []byte) *Parser {
	return &Parser{buf: buf}
}

// Parse decodes the next element starting at the cursor and advances the
// cursor past it. A cursor already at the end of the buffer yields io.EOF;
// that is a clean boundary only between top-level elements, never inside
// one.
func (p *Parser) Parse() (Value, error) {
	if p.pos >= len(p.buf) {
		return Value{}, io.EOF
	}

	typeByte := p.buf[p.pos]
	p.pos++

	switch typeByte {
	case TypeArray:
		return p.parseArray()
	case TypeBulkString:
		return p.parseBulkString()
	case TypeSimpleString:
		return p.parseSimpleString()
	case TypeError:
		return p.parseError()
	case TypeInteger:
		return p.parseInteger()
	default:
		return Value{}, fmt.Errorf("%w: unknown type %c", ErrMalformed, typeByte)
	}
}

// readLine returns the bytes strictly between the cursor and the next \r\n
// and advances the cursor past the terminator.
func (p *Parser) readLine() ([]byte, error) {
	i := bytes.Index(p.buf[p.pos:], crlfBytes)
	if i < 0 {
		return nil, fmt.Errorf("%w: unterminated line", ErrMalformed)
	}
	line := p.buf[p.pos : p.pos+i]
	p.pos += i + 2
	return line, nil
}

// readLength reads a decimal length line for an array or bulk string.
func (p *Parser) readLength(what string) (int64, error) {
	line, err := p.readLine()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s length %q", ErrMalformed, what, line)
	}
	return n, nil
}

func (p *Parser) parseArray() (Value, error) {
	count, err := p.readLength("array")
	if err != nil {
		return Value{}, err
	}

	// Negative length is the null array marker, not an empty sequence.
	if count < 0 {
		return Value{Type: TypeArray, Null: true}, nil
	}
	if count > maxArrayLength {
		return Value{}, fmt.Errorf("%w: array too large", ErrMalformed)
	}

	array := make([]Value, 0)
	for i := int64(0); i < count; i++ {
		val, err := p.Parse()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Value{}, fmt.Errorf("%w: truncated array", ErrMalformed)
			}
			return Value{}, err
		}
		array = append(array, val)
	}

	return Value{Type: TypeArray, Array: array}, nil
}

func (p *Parser) parseBulkString() (Value, error) {
	length, err := p.readLength("bulk string")
	if err != nil {
		return Value{}, err
	}

	if length < 0 {
		return Value{Type: TypeBulkString, Null: true}, nil
	}
	if length > maxBulkStringLength {
		return Value{}, fmt.Errorf("%w: bulk string too large", ErrMalformed)
	}

	// The payload must be followed immediately by \r\n.
	if int64(len(p.buf)-p.pos) < length+2 {
		return Value{}, fmt.Errorf("%w: truncated bulk string", ErrMalformed)
	}
	data := p.buf[p.pos : p.pos+int(length)]
	if p.buf[p.pos+int(length)] != '\r' || p.buf[p.pos+int(length)+1] != '\n' {
		return Value{}, fmt.Errorf("%w: missing bulk string terminator", ErrMalformed)
	}
	p.pos += int(length) + 2

	return Value{Type: TypeBulkString, Bulk: data}, nil
}

func (p *Parser) parseSimpleString() (Value, error) {
	line, err := p.readLine()
	if err != nil {
		return Value{}, err
	}
	if !utf8.Valid(line) {
		return Value{}, fmt.Errorf("%w: invalid UTF-8 in simple string", ErrMalformed)
	}
	return Value{Type: TypeSimpleString, Str: string(line)}, nil
}

func (p *Parser) parseError() (Value, error) {
	line, err := p.readLine()
	if err != nil {
		return Value{}, err
	}
	if !utf8.Valid(line) {
		return Value{}, fmt.Errorf("%w: invalid UTF-8 in error", ErrMalformed)
	}
	return Value{Type: TypeError, Str: string(line)}, nil
}

func (p *Parser) parseInteger() (Value, error) {
	line, err := p.readLine()
	if err != nil {
		return Value{}, err
	}
	num, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: invalid integer %q", ErrMalformed, line)
	}
	return Value{Type: TypeInteger, Num: num}, nil
}

// Writer encodes RESP replies onto a bufio.Writer.
// By default every Write* call flushes immediately (autoFlush=true).
// Call SetAutoFlush(false) before a batch, then Flush() once at the end,
// to amortise syscalls across many responses.
type Writer struct {
	wr        *bufio.Writer
	autoFlush bool
}

// NewWriter creates a new RESP Writer with an optimised buffer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{wr: bufio.NewWriterSize(w, defaultBufSize), autoFlush: true}
}

// SetAutoFlush controls whether each Write* call flushes automatically.
func (w *Writer) SetAutoFlush(on bool) { w.autoFlush = on }

// Flush writes any buffered data to the underlying io.Writer.
func (w *Writer) Flush() error { return w.wr.Flush() }

// flush conditionally flushes based on the autoFlush setting.
func (w *Writer) flush() error {
	if w.autoFlush {
		return w.wr.Flush()
	}
	return nil
}

// writeTypedInt writes the integer n with a preceding type byte using
// strconv.AppendInt instead of fmt.Fprintf.
func (w *Writer) writeTypedInt(prefix byte, n int64) error {
	if err := w.wr.WriteByte(prefix); err != nil {
		return err
	}
	bp := intBufPool.Get().(*[]byte)
	b := strconv.AppendInt((*bp)[:0], n, 10)
	_, err := w.wr.Write(b)
	*bp = b
	intBufPool.Put(bp)
	if err != nil {
		return err
	}
	_, err = w.wr.Write(crlfBytes)
	return err
}

// WriteValue encodes an arbitrary Value, nested arrays included.
func (w *Writer) WriteValue(v Value) error {
	if err := w.writeValue(v); err != nil {
		return err
	}
	return w.flush()
}

func (w *Writer) writeValue(v Value) error {
	switch v.Type {
	case TypeSimpleString:
		switch v.Str {
		case "OK":
			_, err := w.wr.Write(okBytes)
			return err
		case "PONG":
			_, err := w.wr.Write(pongBytes)
			return err
		}
		if err := w.wr.WriteByte(TypeSimpleString); err != nil {
			return err
		}
		if _, err := w.wr.WriteString(v.Str); err != nil {
			return err
		}
		_, err := w.wr.Write(crlfBytes)
		return err
	case TypeError:
		if err := w.wr.WriteByte(TypeError); err != nil {
			return err
		}
		if _, err := w.wr.WriteString(v.Str); err != nil {
			return err
		}
		_, err := w.wr.Write(crlfBytes)
		return err
	case TypeInteger:
		return w.writeTypedInt(TypeInteger, v.Num)
	case TypeBulkString:
		if v.Null {
			_, err := w.wr.Write(nullBulkBytes)
			return err
		}
		if err := w.writeTypedInt(TypeBulkString, int64(len(v.Bulk))); err != nil {
			return err
		}
		if _, err := w.wr.Write(v.Bulk); err != nil {
			return err
		}
		_, err := w.wr.Write(crlfBytes)
		return err
	case TypeArray:
		if v.Null {
			_, err := w.wr.Write(nullArrayBytes)
			return err
		}
		if err := w.writeTypedInt(TypeArray, int64(len(v.Array))); err != nil {
			return err
		}
		for _, el := range v.Array {
			if err := w.writeValue(el); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %c", ErrUnexpectedType, v.Type)
	}
}

// WriteSimpleString writes a simple string response (+OK\r\n fast-path).
func (w *Writer) WriteSimpleString(s string) error {
	if s == "OK" {
		if _, err := w.wr.Write(okBytes); err != nil {
			return err
		}
		return w.flush()
	}
	if err := w.wr.WriteByte('+'); err != nil {
		return err
	}
	if _, err := w.wr.WriteString(s); err != nil {
		return err
	}
	if _, err := w.wr.Write(crlfBytes); err != nil {
		return err
	}
	return w.flush()
}

// WriteError writes an error response. The text is written as-is; callers
// that want the conventional ERR marker include it in msg.
func (w *Writer) WriteError(msg string) error {
	if err := w.wr.WriteByte('-'); err != nil {
		return err
	}
	if _, err := w.wr.WriteString(msg); err != nil {
		return err
	}
	if _, err := w.wr.Write(crlfBytes); err != nil {
		return err
	}
	return w.flush()
}

// WriteInteger writes an integer response.
func (w *Writer) WriteInteger(n int64) error {
	if err := w.writeTypedInt(':', n); err != nil {
		return err
	}
	return w.flush()
}

// WriteBulkString writes a bulk string response.
func (w *Writer) WriteBulkString(s []byte) error {
	if err := w.writeTypedInt('$', int64(len(s))); err != nil {
		return err
	}
	if _, err := w.wr.Write(s); err != nil {
		return err
	}
	if _, err := w.wr.Write(crlfBytes); err != nil {
		return err
	}
	return w.flush()
}

// WriteNull writes a null bulk string response.
func (w *Writer) WriteNull() error {
	if _, err := w.wr.Write(nullBulkBytes); err != nil {
		return err
	}
	return w.flush()
}

// WriteArray writes an array of bulk strings, the shape RESP commands use.
func (w *Writer) WriteArray(items [][]byte) error {
	if err := w.writeTypedInt('*', int64(len(items))); err != nil {
		return err
	}
	for _, item := range items {
		if err := w.writeTypedInt('$', int64(len(item))); err != nil {
			return err
		}
		if _, err := w.wr.Write(item); err != nil {
			return err
		}
		if _, err := w.wr.Write(crlfBytes); err != nil {
			return err
		}
	}
	return w.flush()
}

// WriteStringArray writes an array of strings (avoids []byte conversion allocations).
func (w *Writer) WriteStringArray(items []string) error {
	if err := w.writeTypedInt('*', int64(len(items))); err != nil {
		return err
	}
	for _, item := range items {
		if err := w.writeTypedInt('$', int64(len(item))); err != nil {
			return err
		}
		if _, err := w.wr.WriteString(item); err != nil {
			return err
		}
		if _, err := w.wr.Write(crlfBytes); err != nil {
			return err
		}
	}
	return w.flush()
}
