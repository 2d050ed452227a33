// Package rulequery turns operator-authored rule fragments into
// parameterized warehouse queries.
//
// Fragments are never interpolated as raw SQL. Each one is tokenized and
// checked by a Guard that only admits expression-level syntax, allow-listed
// functions and the named bind parameters @threshold, @window_start and
// @now. The Builder then assembles full statements around the fragments,
// quoting generated identifiers with the target dialect and restricting
// FROM to an explicit table allowlist.
package rulequery

// TokenType identifies the kind of a lexical token.
type TokenType int

// Token types.
const (
	TokenEOF TokenType = iota
	TokenIllegal
	TokenIdent
	TokenQuotedIdent
	TokenString
	TokenNumber
	TokenParam
	TokenOperator
	TokenStar
	TokenComma
	TokenDot
	TokenLParen
	TokenRParen
	TokenSemicolon
	TokenComment
)

var tokenNames = map[TokenType]string{
	TokenEOF:         "EOF",
	TokenIllegal:     "ILLEGAL",
	TokenIdent:       "IDENT",
	TokenQuotedIdent: "QUOTED_IDENT",
	TokenString:      "STRING",
	TokenNumber:      "NUMBER",
	TokenParam:       "PARAM",
	TokenOperator:    "OPERATOR",
	TokenStar:        "*",
	TokenComma:       ",",
	TokenDot:         ".",
	TokenLParen:      "(",
	TokenRParen:      ")",
	TokenSemicolon:   ";",
	TokenComment:     "COMMENT",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// Token is a lexical token. Pos is the byte offset of the first character
// in the input and Literal the exact source text.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
}
