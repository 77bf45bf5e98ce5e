package lexer

import (
	"bytes"
	"errors"
	"math"
	"strconv"

	"github.com/atlassian/ddmetrics"
	"github.com/atlassian/ddmetrics/pkg/metrics"
)

// Sample is one parsed DogStatsD metric line.
type Sample struct {
	Kind   metrics.Kind
	Name   string
	Values []float64
	// Rate is the client side sample rate, 1 unless @rate was given.
	Rate float64
	Tags ddmetrics.Tags
	Host string
	// TimestampMillis is 0 unless a T<unix seconds> field was given.
	TimestampMillis int64
}

// Lexer parses DogStatsD v1.3 metric lines:
//
//	name:value[:value...]|type[|@rate][|#tag,tag][|T<seconds>][|h:host]
//
// where type is one of c, g, h, ms or d.  Unknown fields are ignored.  A
// Lexer is not safe for concurrent use, but may be reused.
type Lexer struct {
	// any field added must be considered in Lexer.reset
	input []byte
	len   uint32
	start uint32
	pos   uint32
	s     *Sample
	err   error
}

// assumes we don't have \x00 bytes in input.
const eof byte = 0

var (
	errMissingKeySep   = errors.New("missing key separator")
	errEmptyKey        = errors.New("key zero len")
	errMissingValueSep = errors.New("missing value separator")
	errInvalidType     = errors.New("invalid type")
	errInvalidFormat   = errors.New("invalid format")
	errNoValues        = errors.New("no values")
	errNaN             = errors.New("invalid value NaN")
	errInf             = errors.New("invalid value Inf")
	errInvalidRate     = errors.New("sample rate must be in (0, 1]")
	errUnsupported     = errors.New("events, service checks and sets are not supported")
)

func (l *Lexer) next() byte {
	if l.pos >= l.len {
		return eof
	}
	b := l.input[l.pos]
	l.pos++
	return b
}

func (l *Lexer) reset() {
	l.start = 0
	l.pos = 0
	l.err = nil
	l.s = &Sample{Rate: 1}
}

func (l *Lexer) appendTag(start, end uint32) {
	data := l.input[start:end]
	if len(data) > 0 {
		l.s.Tags = append(l.s.Tags, string(data))
	}
}

// Run parses a single line.  The input may be modified.
func (l *Lexer) Run(input []byte) (*Sample, error) {
	l.reset()
	l.input = input
	l.len = uint32(len(input))

	for state := lexStart; state != nil; {
		state = state(l)
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.s, nil
}

type stateFn func(*Lexer) stateFn

// lexStart rejects the Datadog special types, which start with an underscore.
func lexStart(l *Lexer) stateFn {
	switch b := l.next(); b {
	case '_':
		l.err = errUnsupported
		return nil
	case eof:
		l.err = errInvalidType
		return nil
	default:
		l.pos--
		return lexKeySep
	}
}

// lexKeySep scans until the colon separating key and values, sanitizing the
// key in place as it goes.
func lexKeySep(l *Lexer) stateFn {
	for {
		switch b := l.next(); {
		case b == ':':
			return lexKey
		case b == eof:
			l.err = errMissingKeySep
			return nil
		case b == '/':
			l.input[l.pos-1] = '-'
		case b == ' ' || b == '\t':
			l.input[l.pos-1] = '_'
		case b == '.' || b == '-' || b == '_':
		case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9':
		default:
			// drop the byte
			l.input = append(l.input[:l.pos-1], l.input[l.pos:]...)
			l.len--
			l.pos--
		}
	}
}

func lexKey(l *Lexer) stateFn {
	if l.start == l.pos-1 {
		l.err = errEmptyKey
		return nil
	}
	l.s.Name = string(l.input[l.start : l.pos-1])
	l.start = l.pos
	return lexValues
}

// lexValues collects the colon separated values up to the pipe before the type.
func lexValues(l *Lexer) stateFn {
	for {
		switch b := l.next(); b {
		case ':':
			if !l.appendValue(l.start, l.pos-1) {
				return nil
			}
			l.start = l.pos
		case '|':
			if !l.appendValue(l.start, l.pos-1) {
				return nil
			}
			if len(l.s.Values) == 0 {
				l.err = errNoValues
				return nil
			}
			l.start = l.pos
			return lexType
		case eof:
			l.err = errMissingValueSep
			return nil
		}
	}
}

func (l *Lexer) appendValue(start, end uint32) bool {
	if start == end {
		return true // empty values are skipped
	}
	v, err := strconv.ParseFloat(string(l.input[start:end]), 64)
	if err != nil {
		l.err = err
		return false
	}
	if math.IsNaN(v) {
		l.err = errNaN
		return false
	}
	if math.IsInf(v, 0) {
		l.err = errInf
		return false
	}
	l.s.Values = append(l.s.Values, v)
	return true
}

func lexType(l *Lexer) stateFn {
	switch b := l.next(); b {
	case 'c':
		l.s.Kind = metrics.KindCounter
	case 'g':
		l.s.Kind = metrics.KindGauge
	case 'h':
		l.s.Kind = metrics.KindHistogram
	case 'm':
		if l.next() != 's' {
			l.err = errInvalidType
			return nil
		}
		l.s.Kind = metrics.KindHistogram
	case 'd':
		l.s.Kind = metrics.KindDistribution
	case 's':
		l.err = errUnsupported
		return nil
	default:
		l.err = errInvalidType
		return nil
	}
	return lexFieldSep
}

// lexFieldSep expects a pipe before the next optional field, or the end of input.
func lexFieldSep(l *Lexer) stateFn {
	switch b := l.next(); b {
	case '|':
		return lexField
	case eof:
	default:
		l.err = errInvalidType
	}
	return nil
}

// lexField dispatches on the first byte of an optional field.  Fields are
// lexed by direct calls rather than returned states, each of them stops
// before the next pipe.
func lexField(l *Lexer) stateFn {
	switch b := l.next(); b {
	case '@':
		return lexRate(l)
	case '#':
		return lexTags(l)
	case 'T':
		return lexTimestamp(l)
	case '|':
		// empty field
		l.pos--
		return lexFieldSep
	case eof:
		return nil
	case 'h':
		if l.pos < l.len && l.input[l.pos] == ':' {
			l.pos++
			l.s.Host = string(l.untilPipe())
			return lexFieldSep
		}
		l.untilPipe()
		return lexFieldSep
	default:
		// unknown fields, such as c:container, are ignored
		l.untilPipe()
		return lexFieldSep
	}
}

// untilPipe consumes and returns the bytes up to the next pipe or eof.  The
// pipe is not consumed.
func (l *Lexer) untilPipe() []byte {
	start := l.pos
	p := bytes.IndexByte(l.input[l.pos:l.len], '|')
	if p == -1 {
		l.pos = l.len
	} else {
		l.pos += uint32(p)
	}
	return l.input[start:l.pos]
}

func lexRate(l *Lexer) stateFn {
	v, err := strconv.ParseFloat(string(l.untilPipe()), 64)
	if err != nil {
		l.err = err
		return nil
	}
	if !(v > 0 && v <= 1) {
		l.err = errInvalidRate
		return nil
	}
	l.s.Rate = v
	return lexFieldSep
}

func lexTimestamp(l *Lexer) stateFn {
	v, err := strconv.ParseInt(string(l.untilPipe()), 10, 64)
	if err != nil || v < 0 || v > math.MaxInt64/1000 {
		l.err = errInvalidFormat
		return nil
	}
	l.s.TimestampMillis = v * 1000
	return lexFieldSep
}

// lexTags expects a comma separated list of tags.  Tags have no defined
// format, empty tags are ignored.
func lexTags(l *Lexer) stateFn {
	l.start = l.pos
	for {
		switch b := l.next(); b {
		case ',':
			l.appendTag(l.start, l.pos-1)
			l.start = l.pos
		case '|':
			l.appendTag(l.start, l.pos-1)
			l.pos--
			return lexFieldSep
		case eof:
			l.appendTag(l.start, l.pos)
			return nil
		}
	}
}
