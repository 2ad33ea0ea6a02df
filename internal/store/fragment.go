package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The memory store accepts the same trusted predicate fragments as the
// SQL store, restricted to the shapes the filter templates produce:
// clauses of the form <attribute> <op> <literal> joined by AND, with
// ops =, <>, <, <=, >, >= and LIKE ('%' wildcards).

type clause struct {
	column string
	op     string
	value  any
	like   string // raw pattern for LIKE
}

// parseFragment splits a predicate fragment into clauses. A malformed
// fragment is a FilterSyntaxFailure for the caller to report; the last
// good result set stays on screen.
func parseFragment(fragment string) ([]clause, error) {
	parts := splitAnd(fragment)
	clauses := make([]clause, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("store: empty clause in filter %q", fragment)
		}
		c, err := parseClause(p)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
	return clauses, nil
}

func parseClause(p string) (clause, error) {
	fields := tokenize(p)
	if len(fields) != 3 {
		return clause{}, fmt.Errorf("store: cannot parse filter clause %q", p)
	}
	col, op, lit := fields[0], strings.ToUpper(fields[1]), fields[2]
	switch op {
	case "=", "<>", "!=", "<", "<=", ">", ">=":
		v, err := parseLiteral(lit)
		if err != nil {
			return clause{}, err
		}
		if op == "!=" {
			op = "<>"
		}
		return clause{column: col, op: op, value: v}, nil
	case "LIKE":
		if !strings.HasPrefix(lit, "'") || !strings.HasSuffix(lit, "'") || len(lit) < 2 {
			return clause{}, fmt.Errorf("store: LIKE pattern must be a quoted string in %q", p)
		}
		return clause{column: col, op: "LIKE", like: lit[1 : len(lit)-1]}, nil
	default:
		return clause{}, fmt.Errorf("store: unsupported operator %q in %q", fields[1], p)
	}
}

func parseLiteral(lit string) (any, error) {
	if strings.HasPrefix(lit, "'") && strings.HasSuffix(lit, "'") && len(lit) >= 2 {
		return lit[1 : len(lit)-1], nil
	}
	if lit == "true" || lit == "false" {
		return lit == "true", nil
	}
	if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(lit, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("store: cannot parse literal %q", lit)
}

// splitAnd splits on the AND keyword outside single quotes.
func splitAnd(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuote := false
	upper := strings.ToUpper(s)
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			inQuote = !inQuote
		}
		if !inQuote && !inWord(s, i) && strings.HasPrefix(upper[i:], "AND") && !inWord(s, i+4) {
			parts = append(parts, cur.String())
			cur.Reset()
			i += 2
			continue
		}
		cur.WriteByte(s[i])
	}
	parts = append(parts, cur.String())
	return parts
}

// inWord reports whether position i sits inside an identifier run,
// judged by the previous character.
func inWord(s string, i int) bool {
	if i <= 0 || i > len(s) {
		return false
	}
	c := s[i-1]
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// tokenize splits a clause into column, operator and literal, keeping
// quoted literals intact.
func tokenize(p string) []string {
	var out []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '\'' {
			inQuote = !inQuote
			cur.WriteByte(c)
			continue
		}
		if c == ' ' && !inQuote {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteByte(c)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// matches evaluates all clauses (joined by AND) against a record.
func matches(rec record, clauses []clause) (bool, error) {
	for _, c := range clauses {
		v, ok := rec[c.column]
		if !ok {
			return false, fmt.Errorf("store: unknown column %q in filter", c.column)
		}
		ok, err := matchClause(v, c)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchClause(v any, c clause) (bool, error) {
	if c.op == "LIKE" {
		return likeMatch(strings.ToLower(valueText(v)), strings.ToLower(c.like)), nil
	}
	cmp, err := compareValues(v, c.value)
	if err != nil {
		return false, err
	}
	switch c.op {
	case "=":
		return cmp == 0, nil
	case "<>":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return false, fmt.Errorf("store: unsupported operator %q", c.op)
}

func compareValues(v, lit any) (int, error) {
	switch want := lit.(type) {
	case string:
		return strings.Compare(valueText(v), want), nil
	case bool:
		got, ok := v.(bool)
		if !ok {
			return 0, fmt.Errorf("store: cannot compare %T to bool", v)
		}
		if got == want {
			return 0, nil
		}
		return 1, nil
	case int64:
		got, err := toInt64(v)
		if err != nil {
			return 0, err
		}
		switch {
		case got < want:
			return -1, nil
		case got > want:
			return 1, nil
		}
		return 0, nil
	case float64:
		var got float64
		switch x := v.(type) {
		case float64:
			got = x
		case int64:
			got = float64(x)
		case int:
			got = float64(x)
		default:
			return 0, fmt.Errorf("store: cannot compare %T to float", v)
		}
		switch {
		case got < want:
			return -1, nil
		case got > want:
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("store: unsupported literal type %T", lit)
}

func valueText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// likeMatch implements SQL LIKE with '%' wildcards.
func likeMatch(s, pattern string) bool {
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return s == pattern
	}
	if parts[0] != "" && !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, mid := range parts[1 : len(parts)-1] {
		if mid == "" {
			continue
		}
		idx := strings.Index(s, mid)
		if idx < 0 {
			return false
		}
		s = s[idx+len(mid):]
	}
	return last == "" || strings.HasSuffix(s, last)
}
