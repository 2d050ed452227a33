package rulequery

// Lexer tokenizes a rule fragment.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // ASCII NUL = EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// NextToken returns the next token. Comments are returned as tokens so the
// guard can reject them.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	start := l.pos
	switch {
	case l.pos >= len(l.input):
		return Token{Type: TokenEOF, Pos: start}
	case l.ch == '-' && l.peekChar() == '-':
		for l.ch != '\n' && l.ch != 0 {
			l.readChar()
		}
		return l.token(TokenComment, start)
	case l.ch == '/' && l.peekChar() == '*':
		l.readChar()
		l.readChar()
		for !(l.ch == '*' && l.peekChar() == '/') && l.ch != 0 {
			l.readChar()
		}
		if l.ch != 0 {
			l.readChar()
			l.readChar()
		}
		return l.token(TokenComment, start)
	case l.ch == '\'':
		if !l.readQuoted('\'') {
			return l.token(TokenIllegal, start)
		}
		return l.token(TokenString, start)
	case l.ch == '"':
		if !l.readQuoted('"') {
			return l.token(TokenIllegal, start)
		}
		return l.token(TokenQuotedIdent, start)
	case l.ch == '@':
		l.readChar()
		if !isLetter(l.ch) {
			return l.token(TokenIllegal, start)
		}
		l.readIdentifier()
		return l.token(TokenParam, start)
	case isLetter(l.ch):
		l.readIdentifier()
		return l.token(TokenIdent, start)
	case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
		l.readNumber()
		return l.token(TokenNumber, start)
	}

	ch := l.ch
	l.readChar()
	switch ch {
	case '(':
		return l.token(TokenLParen, start)
	case ')':
		return l.token(TokenRParen, start)
	case ',':
		return l.token(TokenComma, start)
	case '.':
		return l.token(TokenDot, start)
	case ';':
		return l.token(TokenSemicolon, start)
	case '*':
		return l.token(TokenStar, start)
	case '+', '-', '/', '%', '=':
		return l.token(TokenOperator, start)
	case '<':
		if l.ch == '=' || l.ch == '>' {
			l.readChar()
		}
		return l.token(TokenOperator, start)
	case '>':
		if l.ch == '=' {
			l.readChar()
		}
		return l.token(TokenOperator, start)
	case '!':
		if l.ch == '=' {
			l.readChar()
			return l.token(TokenOperator, start)
		}
	case '|':
		if l.ch == '|' {
			l.readChar()
			return l.token(TokenOperator, start)
		}
	}
	return l.token(TokenIllegal, start)
}

// Tokenize returns every token of input up to, not including, EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var toks []Token
	for {
		tok := l.NextToken()
		if tok.Type == TokenEOF {
			return toks
		}
		toks = append(toks, tok)
	}
}

func (l *Lexer) token(t TokenType, start int) Token {
	end := l.pos
	if end > len(l.input) {
		end = len(l.input)
	}
	return Token{Type: t, Literal: l.input[start:end], Pos: start}
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func (l *Lexer) readIdentifier() {
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
}

func (l *Lexer) readNumber() {
	for isDigit(l.ch) || l.ch == '.' {
		l.readChar()
	}
	if l.ch == 'e' || l.ch == 'E' {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
}

// readQuoted consumes a quoted run where a doubled quote is an escape.
// Returns false when the input ends before the closing quote.
func (l *Lexer) readQuoted(q byte) bool {
	l.readChar() // opening quote
	for {
		switch l.ch {
		case 0:
			if l.pos >= len(l.input) {
				return false
			}
		case q:
			if l.peekChar() == q {
				l.readChar()
			} else {
				l.readChar()
				return true
			}
		}
		l.readChar()
	}
}

func isLetter(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch == '_'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}
