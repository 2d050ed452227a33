package rulequery

import (
	"fmt"
	"strings"
)

// Named bind parameters available to monitor rules.
const (
	ParamThreshold   = "threshold"
	ParamWindowStart = "window_start"
	ParamNow         = "now"
)

// expressionKeywords may appear anywhere in a fragment.
var expressionKeywords = map[string]struct{}{
	"and": {}, "or": {}, "not": {}, "is": {}, "null": {}, "in": {},
	"between": {}, "like": {}, "ilike": {}, "case": {}, "when": {},
	"then": {}, "else": {}, "end": {}, "true": {}, "false": {},
	"interval": {}, "cast": {}, "as": {}, "distinct": {}, "asc": {},
	"desc": {}, "nulls": {}, "first": {}, "last": {},
}

// statementKeywords can change what a statement does and are never admitted.
var statementKeywords = map[string]struct{}{
	"select": {}, "insert": {}, "update": {}, "delete": {}, "drop": {},
	"create": {}, "alter": {}, "truncate": {}, "union": {}, "intersect": {},
	"except": {}, "join": {}, "from": {}, "into": {}, "grant": {},
	"revoke": {}, "attach": {}, "detach": {}, "copy": {}, "pragma": {},
	"call": {}, "execute": {}, "exec": {}, "with": {}, "returning": {},
	"set": {}, "install": {}, "load": {}, "export": {}, "import": {},
	"vacuum": {}, "begin": {}, "commit": {}, "rollback": {}, "values": {},
	"limit": {}, "offset": {}, "where": {}, "having": {}, "group": {},
	"order": {}, "window": {}, "over": {}, "lateral": {},
}

// DefaultFunctions are the functions a fragment may call.
var DefaultFunctions = []string{
	"abs", "avg", "ceil", "coalesce", "count", "count_if", "date_diff",
	"date_part", "date_trunc", "floor", "greatest", "least", "length",
	"lower", "max", "min", "nullif", "round", "stddev", "substr",
	"substring", "sum", "trim", "upper",
}

var knownParams = map[string]struct{}{
	ParamThreshold: {}, ParamWindowStart: {}, ParamNow: {},
}

// GuardError describes why a fragment was rejected.
type GuardError struct {
	Expr   string
	Pos    int
	Reason string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("rejected expression %q at offset %d: %s", e.Expr, e.Pos, e.Reason)
}

// Guard validates rule fragments against the restricted grammar.
type Guard struct {
	functions map[string]struct{}
}

// NewGuard returns a guard admitting the given function names. A nil list
// uses DefaultFunctions.
func NewGuard(functions []string) *Guard {
	if functions == nil {
		functions = DefaultFunctions
	}
	g := &Guard{functions: make(map[string]struct{}, len(functions))}
	for _, f := range functions {
		g.functions[strings.ToLower(f)] = struct{}{}
	}
	return g
}

// Check tokenizes expr and returns the tokens if every one is admitted.
func (g *Guard) Check(expr string) ([]Token, error) {
	toks := Tokenize(expr)
	if len(toks) == 0 {
		return nil, &GuardError{Expr: expr, Reason: "empty expression"}
	}

	reject := func(tok Token, format string, args ...any) error {
		return &GuardError{Expr: expr, Pos: tok.Pos, Reason: fmt.Sprintf(format, args...)}
	}

	depth := 0
	for i, tok := range toks {
		switch tok.Type {
		case TokenIllegal:
			return nil, reject(tok, "illegal token %q", tok.Literal)
		case TokenSemicolon:
			return nil, reject(tok, "statement separator not allowed")
		case TokenComment:
			return nil, reject(tok, "comments not allowed")
		case TokenParam:
			name := strings.ToLower(tok.Literal[1:])
			if _, ok := knownParams[name]; !ok {
				return nil, reject(tok, "unknown parameter %s", tok.Literal)
			}
		case TokenIdent:
			word := strings.ToLower(tok.Literal)
			if _, ok := statementKeywords[word]; ok {
				return nil, reject(tok, "keyword %s not allowed", strings.ToUpper(word))
			}
			calls := i+1 < len(toks) && toks[i+1].Type == TokenLParen
			if _, ok := expressionKeywords[word]; ok {
				continue
			}
			if calls {
				if i > 0 && toks[i-1].Type == TokenDot {
					return nil, reject(tok, "qualified function %s not allowed", word)
				}
				if _, ok := g.functions[word]; !ok {
					return nil, reject(tok, "function %s not allowed", word)
				}
			}
		case TokenQuotedIdent:
			// Quoted names are columns only; a quoted call could name any function.
			if i+1 < len(toks) && toks[i+1].Type == TokenLParen {
				return nil, reject(tok, "quoted function name %s not allowed", tok.Literal)
			}
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
			if depth < 0 {
				return nil, reject(tok, "unbalanced parentheses")
			}
		}
	}
	if depth != 0 {
		return nil, &GuardError{Expr: expr, Pos: len(expr), Reason: "unbalanced parentheses"}
	}
	return toks, nil
}

// ParamNames lists the bind parameters referenced by expr, lowercased, in order
// of first appearance.
func ParamNames(expr string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, tok := range Tokenize(expr) {
		if tok.Type != TokenParam {
			continue
		}
		name := strings.ToLower(tok.Literal[1:])
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
