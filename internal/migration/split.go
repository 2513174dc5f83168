package migration

import "strings"

// SplitStatements splits the content of a migration file on top-level
// semicolons for backends that execute one statement at a time.
//
// Quoted strings and identifiers (including SQLite's [bracketed] form), line
// and (nested) block comments, dollar-quoted bodies and the BEGIN ... END body
// of CREATE TRIGGER are kept intact. Statements consisting only of comments or
// whitespace are dropped.
func SplitStatements(sql string) []string {
	var statements []string
	st := splitState{}
	start := 0

	emit := func(end int) {
		if st.hasCode {
			statements = append(statements, strings.TrimSpace(sql[start:end]))
		}
		st = splitState{}
	}

	n := len(sql)
	for i := 0; i < n; {
		c := sql[i]
		switch {
		case c == '-' && i+1 < n && sql[i+1] == '-':
			if nl := strings.IndexByte(sql[i:], '\n'); nl >= 0 {
				i += nl + 1
			} else {
				i = n
			}
		case c == '/' && i+1 < n && sql[i+1] == '*':
			i = skipBlockComment(sql, i)
		case c == '\'' || c == '"' || c == '`':
			st.hasCode = true
			st.lastWord = ""
			i = skipQuoted(sql, i, c)
		case c == '[' && !isSubscript(sql, i):
			// SQLite bracket identifier; no escapes inside.
			st.hasCode = true
			st.lastWord = ""
			if end := strings.IndexByte(sql[i+1:], ']'); end >= 0 {
				i += end + 2
			} else {
				i = n
			}
		case c == '$':
			st.hasCode = true
			st.lastWord = ""
			if tag := dollarTag(sql[i:]); tag != "" {
				if end := strings.Index(sql[i+len(tag):], tag); end >= 0 {
					i += len(tag) + end + len(tag)
				} else {
					i = n
				}
			} else {
				i++
			}
		case c == ';':
			if st.trigger && st.depth > 0 {
				st.lastWord = ""
				i++
				continue
			}
			emit(i)
			i++
			start = i
		case isWordByte(c):
			j := i + 1
			for j < n && isWordByte(sql[j]) {
				j++
			}
			st.word(strings.ToUpper(sql[i:j]))
			i = j
		default:
			if c != ' ' && c != '\t' && c != '\n' && c != '\r' && c != '\f' {
				st.hasCode = true
				st.lastWord = ""
			}
			i++
		}
	}
	emit(n)

	return statements
}

type splitState struct {
	hasCode  bool
	lead     []string // First words of the statement, enough to spot CREATE ... TRIGGER
	lastWord string
	trigger  bool
	depth    int // BEGIN/CASE nesting inside a trigger body
}

func (s *splitState) word(w string) {
	s.hasCode = true
	s.lastWord = w
	if len(s.lead) < 5 {
		s.lead = append(s.lead, w)
		if len(s.lead) > 1 && s.lead[0] == "CREATE" && w == "TRIGGER" {
			s.trigger = true
		}
	}
	if !s.trigger {
		return
	}
	switch w {
	case "BEGIN", "CASE":
		s.depth++
	case "END":
		if s.depth > 0 {
			s.depth--
		}
	}
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// isSubscript reports whether the '[' at i follows an expression, as in
// tags[1] or ARRAY['a'], rather than opening a bracket identifier.
func isSubscript(sql string, i int) bool {
	if i == 0 {
		return false
	}
	prev := sql[i-1]
	return isWordByte(prev) || prev == ')' || prev == ']'
}

// skipQuoted returns the index just past the quoted token starting at i.
// A doubled quote character is an escaped quote.
func skipQuoted(sql string, i int, quote byte) int {
	n := len(sql)
	for j := i + 1; j < n; j++ {
		if sql[j] != quote {
			continue
		}
		if j+1 < n && sql[j+1] == quote {
			j++
			continue
		}
		return j + 1
	}
	return n
}

// skipBlockComment returns the index just past the block comment starting at i.
func skipBlockComment(sql string, i int) int {
	n := len(sql)
	depth := 0
	for j := i; j < n-1; j++ {
		switch {
		case sql[j] == '/' && sql[j+1] == '*':
			depth++
			j++
		case sql[j] == '*' && sql[j+1] == '/':
			depth--
			j++
			if depth == 0 {
				return j + 1
			}
		}
	}
	return n
}

// dollarTag returns the opening tag ($$ or $name$) at the start of s, or "".
func dollarTag(s string) string {
	for j := 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[:j+1]
		}
		if !isWordByte(c) || (j == 1 && c >= '0' && c <= '9') {
			return ""
		}
	}
	return ""
}
