package template

import (
	"strings"
	"unicode/utf8"
)

// TokenType identifies the type of token.
type TokenType int

// TokenType constants for template token types.
const (
	TokenText        TokenType = iota // Literal text (query)
	TokenPlaceholder                  // Content between ${ and }
	TokenEOF                          // End of input
)

func (t TokenType) String() string {
	switch t {
	case TokenText:
		return "TEXT"
	case TokenPlaceholder:
		return "PLACEHOLDER"
	case TokenEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token.
type Token struct {
	Type  TokenType
	Value string
	Pos   Position
}

// Lexer tokenizes a query template.
type Lexer struct {
	input    string
	file     string
	pos      int // current position in input
	line     int // current line number (1-based)
	col      int // current column number (1-based)
	lastLine int // line at start of current token
	lastCol  int // column at start of current token
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input, file string) *Lexer {
	return &Lexer{
		input: input,
		file:  file,
		pos:   0,
		line:  1,
		col:   1,
	}
}

// Tokenize converts the input into a slice of tokens.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token

	for {
		tok, err := l.nextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}

	return tokens, nil
}

// nextToken returns the next token from the input.
func (l *Lexer) nextToken() (Token, error) {
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.position()}, nil
	}

	if l.matchString("${") {
		return l.scanPlaceholder()
	}

	return l.scanText()
}

// scanText scans literal text until a placeholder or EOF.
func (l *Lexer) scanText() (Token, error) {
	l.markStart()
	start := l.pos

	for l.pos < len(l.input) {
		if l.matchString("${") {
			break
		}
		l.advance()
	}

	if l.pos == start {
		return Token{}, NewLexError(l.position(), "unexpected state in lexer")
	}

	return Token{
		Type:  TokenText,
		Value: l.input[start:l.pos],
		Pos:   l.startPosition(),
	}, nil
}

// scanPlaceholder scans a ${name} reference. Placeholders do not nest
// and may not span lines.
func (l *Lexer) scanPlaceholder() (Token, error) {
	l.markStart()

	// Skip ${
	l.pos += 2
	l.col += 2

	nameStart := l.pos
	for l.pos < len(l.input) {
		r := l.peek()
		if r == '}' {
			name := strings.TrimSpace(l.input[nameStart:l.pos])
			l.advance()
			if name == "" {
				return Token{}, NewLexError(l.startPosition(), "empty placeholder")
			}
			return Token{
				Type:  TokenPlaceholder,
				Value: name,
				Pos:   l.startPosition(),
			}, nil
		}
		if r == '\n' || r == '{' {
			break
		}
		l.advance()
	}

	return Token{}, NewLexError(l.startPosition(), "unclosed placeholder: missing '}'")
}

// Helper methods

// peek returns the current rune without advancing.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

// advance moves to the next rune, updating position tracking.
func (l *Lexer) advance() {
	if l.pos >= len(l.input) {
		return
	}

	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size

	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
}

// matchString checks if the input at current position matches s.
func (l *Lexer) matchString(s string) bool {
	return strings.HasPrefix(l.input[l.pos:], s)
}

// markStart records the start position for the current token.
func (l *Lexer) markStart() {
	l.lastLine = l.line
	l.lastCol = l.col
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{File: l.file, Line: l.line, Column: l.col}
}

// startPosition returns the position where the current token started.
func (l *Lexer) startPosition() Position {
	return Position{File: l.file, Line: l.lastLine, Column: l.lastCol}
}

// Parse tokenizes input into a Template.
func Parse(input, file string) (*Template, error) {
	tokens, err := NewLexer(input, file).Tokenize()
	if err != nil {
		return nil, err
	}
	t := &Template{File: file}
	for _, tok := range tokens {
		switch tok.Type {
		case TokenText:
			t.Nodes = append(t.Nodes, &TextNode{nodeBase: nodeBase{pos: tok.Pos}, Text: tok.Value})
		case TokenPlaceholder:
			t.Nodes = append(t.Nodes, &PlaceholderNode{nodeBase: nodeBase{pos: tok.Pos}, Name: tok.Value})
		case TokenEOF:
		}
	}
	return t, nil
}
