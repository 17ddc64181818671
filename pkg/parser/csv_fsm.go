package parser

// scanState is the state of the line scanner.
type scanState uint8

const (
	stateFieldStart scanState = iota
	stateInField
	stateInQuotedField
	stateQuoteInQuotedField
)

// Scanner splits CSV lines with a small state machine. Quoted fields may
// contain delimiters and doubled quotes; the links column of path traversal
// rows relies on this.
type Scanner struct {
	delimiter byte
	fields    [][]byte
	unescape  []byte
}

// NewScanner creates a scanner for the given delimiter.
func NewScanner(delimiter byte) *Scanner {
	if delimiter == 0 {
		delimiter = ','
	}
	return &Scanner{delimiter: delimiter, fields: make([][]byte, 0, 16)}
}

// ScanLine returns the fields of line. The returned slices alias line and
// the scanner's internal buffers; they are valid until the next call.
func (s *Scanner) ScanLine(line []byte) [][]byte {
	line = trimLineEnding(line)
	s.fields = s.fields[:0]
	s.unescape = s.unescape[:0]
	if len(line) == 0 {
		return s.fields
	}

	state := stateFieldStart
	start, end := 0, 0
	escaped := false

	for i := 0; i <= len(line); i++ {
		atEnd := i == len(line)
		var c byte
		if !atEnd {
			c = line[i]
		}

		switch state {
		case stateFieldStart:
			switch {
			case atEnd:
				s.fields = append(s.fields, nil)
			case c == '"':
				start = i + 1
				state = stateInQuotedField
			case c == s.delimiter:
				s.fields = append(s.fields, nil)
			default:
				start = i
				state = stateInField
			}

		case stateInField:
			if atEnd || c == s.delimiter {
				s.fields = append(s.fields, line[start:i])
				state = stateFieldStart
			}

		case stateInQuotedField:
			if atEnd {
				// unterminated quote: keep what we have
				s.fields = append(s.fields, line[start:i])
				continue
			}
			if c == '"' {
				end = i
				state = stateQuoteInQuotedField
			}

		case stateQuoteInQuotedField:
			switch {
			case atEnd || c == s.delimiter:
				field := line[start:end]
				if escaped {
					field = s.unquote(field)
					escaped = false
				}
				s.fields = append(s.fields, field)
				state = stateFieldStart
			case c == '"':
				escaped = true
				state = stateInQuotedField
			default:
				state = stateInQuotedField
			}
		}
	}
	return s.fields
}

// unquote collapses doubled quotes into the scanner's scratch buffer.
func (s *Scanner) unquote(field []byte) []byte {
	from := len(s.unescape)
	for i := 0; i < len(field); i++ {
		s.unescape = append(s.unescape, field[i])
		if field[i] == '"' && i+1 < len(field) && field[i+1] == '"' {
			i++
		}
	}
	return s.unescape[from:]
}

func trimLineEnding(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
