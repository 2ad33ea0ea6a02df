// Package filter builds ad-hoc query predicate fragments from
// per-attribute templates. The fragment text is a trusted query-language
// snippet appended verbatim to the base listing query; this package
// never parses or escapes it.
package filter

import (
	"strings"

	"github.com/mkoski/entityscope/internal/metamodel"
)

// Comparator enumerates the template comparison kinds.
//
// The templates are string-literal and type-agnostic: numeric and date
// attributes receive the same LIKE/= templates as text attributes.
// TODO make these data type specific, so that e.g. strings, numbers and
// dates are handled differently.
type Comparator int

const (
	Equals Comparator = iota
	Like
	StartsWith
)

// String returns the user-visible comparator label.
func (c Comparator) String() string {
	switch c {
	case Equals:
		return "equals"
	case Like:
		return "like"
	case StartsWith:
		return "startsWith"
	default:
		return "unknown"
	}
}

// Comparators returns all comparator kinds in declaration order.
func Comparators() []Comparator {
	return []Comparator{Equals, Like, StartsWith}
}

// ParseComparator resolves a comparator from its label.
func ParseComparator(s string) (Comparator, bool) {
	for _, c := range Comparators() {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// Template is one candidate filter clause for an attribute.
type Template struct {
	Attribute  string     `json:"attribute"`
	Comparator Comparator `json:"comparator"`
}

// TemplatesFor enumerates candidate clauses for every attribute of the
// entity, in metamodel order, each with every comparator kind.
func TemplatesFor(e *metamodel.Entity) []Template {
	var out []Template
	for _, a := range e.Attributes() {
		for _, c := range Comparators() {
			out = append(out, Template{Attribute: a.Name, Comparator: c})
		}
	}
	return out
}

// Materialize appends the clause for attribute/comparator to the current
// predicate text, joining with a single " AND " when the current text is
// non-empty. It returns the new full text plus the character span of the
// placeholder in the appended clause, so the caller can pre-select it
// for the user to overtype.
func Materialize(current, attribute string, cmp Comparator) (text string, selStart, selEnd int) {
	var sb strings.Builder
	sb.WriteString(current)
	if sb.Len() > 0 {
		sb.WriteString(" AND ")
	}
	clauseStart := sb.Len()
	sb.WriteString(attribute)
	sb.WriteString(" ")

	var body, placeholder string
	switch cmp {
	case Like:
		body, placeholder = "LIKE '%foo%'", "foo"
	case StartsWith:
		body, placeholder = "LIKE 'foo%'", "foo"
	case Equals:
		body, placeholder = "= 1", "1"
	}
	sb.WriteString(body)

	text = sb.String()
	clause := text[clauseStart:]
	idx := strings.Index(clause, placeholder)
	if idx < 0 {
		return text, len(text), len(text)
	}
	selStart = clauseStart + idx
	selEnd = selStart + len(placeholder)
	return text, selStart, selEnd
}
