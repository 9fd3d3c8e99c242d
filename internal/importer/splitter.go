// Package importer replays SQL dumps into a database statement by statement.
package importer

import (
	"bytes"
	"errors"
	"io"
	"strings"
)

// DefaultChunkSize is the read size of the splitter.
const DefaultChunkSize = 5 << 20

type scanState int

const (
	stateCode scanState = iota
	stateQuoted
	stateEscaped
	stateLineComment
	stateDash
	stateDashDash
	stateSlash
	stateBlockComment
	stateBlockStar
)

// Splitter reads SQL text in fixed-size chunks and yields one statement at a
// time. Statements end at a semicolon outside string literals and quoted
// identifiers. Comments starting with '#' or '-- ' are dropped up to the end
// of their line. /*...*/ blocks are kept verbatim, since MySQL executes
// /*! */ hints, and nothing inside them ends a statement or opens a quote.
type Splitter struct {
	reader    io.Reader
	chunk     []byte
	stmt      bytes.Buffer
	ready     []string
	state     scanState
	quote     byte
	eof       bool
	bytesRead int64
}

// NewSplitter creates a splitter reading chunkSize bytes at a time
func NewSplitter(r io.Reader, chunkSize int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Splitter{reader: r, chunk: make([]byte, chunkSize)}
}

// BytesRead returns the number of bytes consumed from the reader
func (s *Splitter) BytesRead() int64 {
	return s.bytesRead
}

// Next returns the next statement without its terminator. It returns io.EOF
// once the input is exhausted; a trailing statement without a semicolon is
// returned before that.
func (s *Splitter) Next() (string, error) {
	for len(s.ready) == 0 {
		if s.eof {
			return "", io.EOF
		}

		n, err := s.reader.Read(s.chunk)
		s.bytesRead += int64(n)
		s.scan(s.chunk[:n])

		if errors.Is(err, io.EOF) {
			s.finish()
			s.eof = true
		} else if err != nil {
			return "", err
		}
	}

	stmt := s.ready[0]
	s.ready = s.ready[1:]
	return stmt, nil
}

func (s *Splitter) scan(data []byte) {
	for _, c := range data {
		switch s.state {
		case stateCode:
			switch c {
			case '\'', '"', '`':
				s.quote = c
				s.state = stateQuoted
				s.stmt.WriteByte(c)
			case '#':
				s.state = stateLineComment
			case '-':
				s.state = stateDash
			case '/':
				s.state = stateSlash
			case ';':
				s.emit()
			default:
				s.stmt.WriteByte(c)
			}

		case stateQuoted:
			s.stmt.WriteByte(c)
			switch {
			case c == '\\' && s.quote != '`':
				s.state = stateEscaped
			case c == s.quote:
				s.state = stateCode
			}

		case stateEscaped:
			s.stmt.WriteByte(c)
			s.state = stateQuoted

		case stateLineComment:
			if c == '\n' {
				s.stmt.WriteByte('\n')
				s.state = stateCode
			}

		case stateDash:
			if c == '-' {
				s.state = stateDashDash
				continue
			}
			s.stmt.WriteByte('-')
			s.state = stateCode
			s.scan([]byte{c})

		case stateDashDash:
			if isCommentSpace(c) {
				s.state = stateLineComment
				if c == '\n' {
					s.stmt.WriteByte('\n')
					s.state = stateCode
				}
				continue
			}
			s.stmt.WriteString("--")
			s.state = stateCode
			s.scan([]byte{c})

		case stateSlash:
			if c == '*' {
				s.stmt.WriteString("/*")
				s.state = stateBlockComment
				continue
			}
			s.stmt.WriteByte('/')
			s.state = stateCode
			s.scan([]byte{c})

		case stateBlockComment:
			s.stmt.WriteByte(c)
			if c == '*' {
				s.state = stateBlockStar
			}

		case stateBlockStar:
			s.stmt.WriteByte(c)
			switch c {
			case '/':
				s.state = stateCode
			case '*':
			default:
				s.state = stateBlockComment
			}
		}
	}
}

func (s *Splitter) finish() {
	switch s.state {
	case stateDash:
		s.stmt.WriteByte('-')
	case stateSlash:
		s.stmt.WriteByte('/')
	}
	s.state = stateCode
	s.emit()
}

func (s *Splitter) emit() {
	stmt := strings.TrimSpace(s.stmt.String())
	s.stmt.Reset()
	if stmt != "" {
		s.ready = append(s.ready, stmt)
	}
}

func isCommentSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// SplitStatements splits a complete SQL text. It is a convenience wrapper
// over Splitter for small inputs.
func SplitStatements(sql string) []string {
	splitter := NewSplitter(strings.NewReader(sql), len(sql)+1)
	var statements []string
	for {
		stmt, err := splitter.Next()
		if err != nil {
			return statements
		}
		statements = append(statements, stmt)
	}
}
