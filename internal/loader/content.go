package loader

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf16"
)

// ExtractText returns the text shown by a PDF content stream. It honours
// the text-showing operators (Tj, TJ, ' and ") and turns line moves into
// newlines. Fonts are not consulted, so glyphs in custom or composite
// encodings come out as their raw single-byte codes.
func ExtractText(content []byte) string {
	lx := &lexer{b: content}
	var out textBuilder
	var operands []operand

	for {
		tok, ok := lx.next()
		if !ok {
			break
		}
		if tok.kind != opKeyword {
			operands = append(operands, tok)
			continue
		}

		switch tok.word {
		case "Tj":
			if s, ok := lastString(operands); ok {
				out.write(s)
			}
		case "'", `"`:
			out.newline()
			if s, ok := lastString(operands); ok {
				out.write(s)
			}
		case "TJ":
			if n := len(operands); n > 0 && operands[n-1].kind == opArray {
				for _, el := range operands[n-1].arr {
					switch el.kind {
					case opString:
						out.write(decodeString(el.str))
					case opNumber:
						// large negative adjustments are inter-word gaps
						if el.num < -250 {
							out.space()
						}
					}
				}
			}
		case "Td", "TD":
			if n := len(operands); n >= 2 && operands[n-1].kind == opNumber && operands[n-1].num == 0 {
				out.space()
			} else {
				out.newline()
			}
		case "T*", "ET", "Tm":
			out.newline()
		case "BI":
			lx.skipInlineImage()
		}
		operands = operands[:0]
	}
	return out.String()
}

func lastString(ops []operand) (string, bool) {
	if n := len(ops); n > 0 && ops[n-1].kind == opString {
		return decodeString(ops[n-1].str), true
	}
	return "", false
}

// decodeString maps PDF string bytes to text: UTF-16BE when marked with a
// byte order mark, otherwise one rune per byte.
func decodeString(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		u := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(u))
	}
	var sb strings.Builder
	for _, c := range b {
		switch {
		case c == '\t' || c == '\n' || c == '\r':
			sb.WriteByte(' ')
		case c < 0x20 || c == 0x7F:
		default:
			sb.WriteRune(rune(c))
		}
	}
	return sb.String()
}

type textBuilder struct {
	lines []string
	cur   strings.Builder
}

func (t *textBuilder) write(s string) { t.cur.WriteString(s) }

func (t *textBuilder) space() {
	if s := t.cur.String(); s != "" && !strings.HasSuffix(s, " ") {
		t.cur.WriteByte(' ')
	}
}

func (t *textBuilder) newline() {
	line := strings.Join(strings.Fields(t.cur.String()), " ")
	t.cur.Reset()
	if line != "" {
		t.lines = append(t.lines, line)
	}
}

func (t *textBuilder) String() string {
	t.newline()
	return strings.Join(t.lines, "\n")
}

type opKind int

const (
	opKeyword opKind = iota
	opString
	opNumber
	opName
	opArray
	opOther
)

type operand struct {
	kind opKind
	word string
	str  []byte
	num  float64
	arr  []operand
}

type lexer struct {
	b []byte
	i int
}

func isWhite(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	return bytes.IndexByte([]byte("()<>[]{}/%"), c) >= 0
}

func (l *lexer) skipSpace() {
	for l.i < len(l.b) {
		c := l.b[l.i]
		if isWhite(c) {
			l.i++
			continue
		}
		if c == '%' {
			for l.i < len(l.b) && l.b[l.i] != '\n' && l.b[l.i] != '\r' {
				l.i++
			}
			continue
		}
		return
	}
}

func (l *lexer) next() (operand, bool) {
	l.skipSpace()
	if l.i >= len(l.b) {
		return operand{}, false
	}
	c := l.b[l.i]
	switch {
	case c == '(':
		l.i++
		return operand{kind: opString, str: l.literal()}, true
	case c == '<' && l.i+1 < len(l.b) && l.b[l.i+1] == '<':
		l.i += 2
		return operand{kind: opOther}, true
	case c == '>' && l.i+1 < len(l.b) && l.b[l.i+1] == '>':
		l.i += 2
		return operand{kind: opOther}, true
	case c == '<':
		l.i++
		return operand{kind: opString, str: l.hex()}, true
	case c == '[':
		l.i++
		var arr []operand
		for {
			l.skipSpace()
			if l.i >= len(l.b) {
				break
			}
			if l.b[l.i] == ']' {
				l.i++
				break
			}
			el, ok := l.next()
			if !ok {
				break
			}
			arr = append(arr, el)
		}
		return operand{kind: opArray, arr: arr}, true
	case c == '/':
		l.i++
		return operand{kind: opName, word: l.word()}, true
	case isDelim(c):
		// stray ')', ']', '{', '}' or '>'
		l.i++
		return operand{kind: opOther}, true
	}

	w := l.word()
	if f, err := strconv.ParseFloat(w, 64); err == nil {
		return operand{kind: opNumber, num: f}, true
	}
	return operand{kind: opKeyword, word: w}, true
}

func (l *lexer) word() string {
	start := l.i
	for l.i < len(l.b) && !isWhite(l.b[l.i]) && !isDelim(l.b[l.i]) {
		l.i++
	}
	if l.i == start && l.i < len(l.b) {
		l.i++
	}
	return string(l.b[start:l.i])
}

// literal reads a parenthesised string; the opening paren is consumed.
func (l *lexer) literal() []byte {
	var out []byte
	depth := 1
	for l.i < len(l.b) {
		c := l.b[l.i]
		l.i++
		switch c {
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out
			}
			out = append(out, c)
		case '\\':
			if l.i >= len(l.b) {
				return out
			}
			e := l.b[l.i]
			l.i++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if l.i < len(l.b) && l.b[l.i] == '\n' {
					l.i++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for k := 0; k < 2 && l.i < len(l.b) && l.b[l.i] >= '0' && l.b[l.i] <= '7'; k++ {
						v = v*8 + int(l.b[l.i]-'0')
						l.i++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		default:
			out = append(out, c)
		}
	}
	return out
}

// hex reads a hex string; the opening angle bracket is consumed.
func (l *lexer) hex() []byte {
	var digits []byte
	for l.i < len(l.b) && l.b[l.i] != '>' {
		c := l.b[l.i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			digits = append(digits, c)
		}
		l.i++
	}
	l.i++
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	for k := range out {
		v, _ := strconv.ParseUint(string(digits[2*k:2*k+2]), 16, 8)
		out[k] = byte(v)
	}
	return out
}

// skipInlineImage advances past the binary data of an inline image.
func (l *lexer) skipInlineImage() {
	for l.i+1 < len(l.b) {
		if l.b[l.i] == 'E' && l.b[l.i+1] == 'I' &&
			l.i > 0 && isWhite(l.b[l.i-1]) &&
			(l.i+2 >= len(l.b) || isWhite(l.b[l.i+2])) {
			l.i += 2
			return
		}
		l.i++
	}
	l.i = len(l.b)
}
