// Package sqlcheck decides whether generated SQL is safe to execute.
// Validate is a pure function over the SQL text: it performs no I/O
// and holds no state, so callers can run it anywhere in the pipeline,
// and it must run before any database connection is opened.
package sqlcheck

import (
	"strings"
	"unicode"
)

// DefaultRowLimit is appended by the conversion pipeline when the
// model omits a LIMIT clause. Validate itself never inserts a limit;
// it only checks that one is present.
const DefaultRowLimit = 100

// Rejection reasons surfaced to callers. These are stable strings:
// they appear in RPC error messages and conversion streams.
const (
	ReasonEmptyStatement     = "empty statement"
	ReasonMultipleStatements = "multiple statements"
	ReasonNonReadOperation   = "non-read operation"
	ReasonMissingLimit       = "missing or invalid LIMIT"
	ReasonTrailingContent    = "trailing content after LIMIT"
	ReasonMalformed          = "unterminated string or comment"
)

// Result is the verdict for one SQL candidate. NormalizedSQL is set
// only on acceptance and carries the whitespace-collapsed, keyword-
// uppercased form used for audit logging.
type Result struct {
	Accepted      bool
	Reason        string
	NormalizedSQL string
}

// Validate accepts exactly one read-only SELECT statement with a
// top-level positive integer LIMIT and nothing after the limit
// clause. Everything else is rejected with a reason.
func Validate(sql string) Result {
	tokens, ok := tokenize(sql)
	if !ok {
		return Result{Reason: ReasonMalformed}
	}
	if len(tokens) == 0 {
		return Result{Reason: ReasonEmptyStatement}
	}

	// A trailing semicolon closes the statement; anything after a
	// top-level semicolon is a second statement.
	if idx := topLevelSemicolon(tokens); idx >= 0 {
		if idx != len(tokens)-1 {
			return Result{Reason: ReasonMultipleStatements}
		}
		tokens = tokens[:idx]
		if len(tokens) == 0 {
			return Result{Reason: ReasonEmptyStatement}
		}
	}

	first := tokens[0]
	if first.kind != tokenWord || !strings.EqualFold(first.text, "SELECT") {
		return Result{Reason: ReasonNonReadOperation}
	}

	limitIdx := lastTopLevelLimit(tokens)
	if limitIdx < 0 {
		return Result{Reason: ReasonMissingLimit}
	}
	if limitIdx+1 >= len(tokens) || !isPositiveInteger(tokens[limitIdx+1]) {
		return Result{Reason: ReasonMissingLimit}
	}

	rest := tokens[limitIdx+2:]
	if len(rest) == 2 &&
		rest[0].kind == tokenWord && strings.EqualFold(rest[0].text, "OFFSET") &&
		isNonNegativeInteger(rest[1]) {
		rest = nil
	}
	if len(rest) > 0 {
		return Result{Reason: ReasonTrailingContent}
	}

	return Result{Accepted: true, NormalizedSQL: normalize(tokens)}
}

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenNumber
	tokenString
	tokenPunct
)

type token struct {
	kind  tokenKind
	text  string
	depth int
}

// tokenize splits SQL into tokens, skipping comments and tracking
// parenthesis depth. String and quoted-identifier contents are kept
// verbatim, including their quotes. Returns ok=false on an
// unterminated string or block comment.
func tokenize(sql string) ([]token, bool) {
	var tokens []token
	depth := 0
	i := 0
	n := len(sql)
	for i < n {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '-' && i+1 < n && sql[i+1] == '-':
			for i < n && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return nil, false
			}
			i += 2 + end + 2
		case c == '\'' || c == '"':
			text, next, ok := scanQuoted(sql, i, c)
			if !ok {
				return nil, false
			}
			tokens = append(tokens, token{kind: tokenString, text: text, depth: depth})
			i = next
		case c == '(':
			tokens = append(tokens, token{kind: tokenPunct, text: "(", depth: depth})
			depth++
			i++
		case c == ')':
			depth--
			tokens = append(tokens, token{kind: tokenPunct, text: ")", depth: depth})
			i++
		case isWordStart(c):
			start := i
			for i < n && isWordPart(sql[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokenWord, text: sql[start:i], depth: depth})
		case c >= '0' && c <= '9':
			start := i
			for i < n && (sql[i] >= '0' && sql[i] <= '9' || sql[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: sql[start:i], depth: depth})
		default:
			// Operators and punctuation; multi-char operators are kept
			// whole so normalization does not split them.
			start := i
			i++
			if i < n && isOperatorPair(sql[start], sql[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokenPunct, text: sql[start:i], depth: depth})
		}
	}
	return tokens, true
}

func scanQuoted(sql string, start int, quote byte) (string, int, bool) {
	i := start + 1
	n := len(sql)
	for i < n {
		if sql[i] == quote {
			// Doubled quote is an escape, not a terminator.
			if i+1 < n && sql[i+1] == quote {
				i += 2
				continue
			}
			return sql[start : i+1], i + 1, true
		}
		i++
	}
	return "", 0, false
}

func isWordStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isWordPart(c byte) bool {
	return isWordStart(c) || c >= '0' && c <= '9'
}

func isOperatorPair(a, b byte) bool {
	switch string([]byte{a, b}) {
	case "<=", ">=", "<>", "!=", "||":
		return true
	}
	return false
}

func topLevelSemicolon(tokens []token) int {
	for i, tok := range tokens {
		if tok.kind == tokenPunct && tok.text == ";" && tok.depth == 0 {
			return i
		}
	}
	return -1
}

func lastTopLevelLimit(tokens []token) int {
	idx := -1
	for i, tok := range tokens {
		if tok.kind == tokenWord && tok.depth == 0 && strings.EqualFold(tok.text, "LIMIT") {
			idx = i
		}
	}
	return idx
}

func isPositiveInteger(tok token) bool {
	if tok.kind != tokenNumber || tok.text == "" {
		return false
	}
	for _, r := range tok.text {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return strings.Trim(tok.text, "0") != ""
}

func isNonNegativeInteger(tok token) bool {
	if tok.kind != tokenNumber || tok.text == "" {
		return false
	}
	for _, r := range tok.text {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

var keywords = map[string]struct{}{
	"SELECT": {}, "DISTINCT": {}, "ALL": {}, "FROM": {}, "WHERE": {},
	"GROUP": {}, "BY": {}, "HAVING": {}, "ORDER": {}, "ASC": {}, "DESC": {},
	"LIMIT": {}, "OFFSET": {}, "JOIN": {}, "INNER": {}, "LEFT": {},
	"RIGHT": {}, "FULL": {}, "OUTER": {}, "CROSS": {}, "ON": {}, "USING": {},
	"AS": {}, "AND": {}, "OR": {}, "NOT": {}, "IN": {}, "IS": {}, "NULL": {},
	"LIKE": {}, "GLOB": {}, "BETWEEN": {}, "EXISTS": {}, "CASE": {},
	"WHEN": {}, "THEN": {}, "ELSE": {}, "END": {}, "UNION": {},
	"INTERSECT": {}, "EXCEPT": {}, "CAST": {},
}

// normalize re-joins the token stream with single spaces, uppercases
// keywords, and tightens punctuation so the accepted form is stable
// for audit logs regardless of the model's whitespace habits.
func normalize(tokens []token) string {
	var b strings.Builder
	for i, tok := range tokens {
		text := tok.text
		if tok.kind == tokenWord {
			upper := strings.ToUpper(text)
			if _, ok := keywords[upper]; ok {
				text = upper
			}
		}
		if i > 0 && needsSpace(tokens[i-1], tok) {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}

func needsSpace(prev, cur token) bool {
	if cur.kind == tokenPunct && (cur.text == "," || cur.text == ")" || cur.text == ";" || cur.text == ".") {
		return false
	}
	if prev.kind == tokenPunct && (prev.text == "(" || prev.text == ".") {
		return false
	}
	// Function calls bind the paren to the name: count(*), not count (*).
	if cur.kind == tokenPunct && cur.text == "(" && prev.kind == tokenWord {
		if _, ok := keywords[strings.ToUpper(prev.text)]; !ok {
			return false
		}
	}
	return true
}
