package form

import (
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/mkoski/entityscope/internal/editor"
)

// ShowPropertyMetadata annotates every bound editor with a help string
// describing the attribute: its name, declared runtime value type and
// every non-default struct tag on the backing field. A developer
// debugging aid; a single property failing to introspect is logged and
// skipped without aborting the rest.
func (f *Form) ShowPropertyMetadata() {
	for _, name := range f.bound {
		f.annotate(name)
	}
}

func (f *Form) annotate(name string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("property", name).Interface("panic", r).
				Msg("form: property metadata extraction failed")
		}
	}()
	a, err := f.desc.Attribute(name)
	if err != nil {
		log.Warn().Err(err).Str("property", name).Msg("form: property metadata extraction failed")
		return
	}
	var sb strings.Builder
	sb.WriteString(a.Name)
	sb.WriteString(" ")
	sb.WriteString(a.GoType().String())
	for _, kv := range parseTagPairs(string(a.Tag())) {
		// A tag parameter whose value matches its default (empty) is
		// not shown.
		if kv.value == "" {
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(kv.key)
		sb.WriteString("=")
		sb.WriteString(f.renderTagValue(kv.value))
	}
	if h, ok := f.widgets[name].(editor.HelpSettable); ok {
		h.SetHelp(sb.String())
	}
}

// renderTagValue quotes textual values and renders list-valued tag
// parameters as a compact textual encoding.
func (f *Form) renderTagValue(v string) string {
	if i := strings.IndexAny(v, ",|"); i >= 0 {
		sep := string(v[i])
		return f.enc.Compact(strings.Split(v, sep))
	}
	return `"` + v + `"`
}

type tagPair struct {
	key   string
	value string
}

// parseTagPairs walks a struct tag in its conventional
// `key:"value" key2:"value2"` encoding. Malformed remainders are
// skipped rather than failing the whole annotation.
func parseTagPairs(tag string) []tagPair {
	var out []tagPair
	for tag != "" {
		i := 0
		for i < len(tag) && tag[i] == ' ' {
			i++
		}
		tag = tag[i:]
		if tag == "" {
			break
		}
		i = 0
		for i < len(tag) && tag[i] != ':' && !unicode.IsSpace(rune(tag[i])) {
			i++
		}
		if i == 0 || i+1 >= len(tag) || tag[i] != ':' || tag[i+1] != '"' {
			break
		}
		key := tag[:i]
		tag = tag[i+1:]

		i = 1
		for i < len(tag) && tag[i] != '"' {
			if tag[i] == '\\' {
				i++
			}
			i++
		}
		if i >= len(tag) {
			break
		}
		out = append(out, tagPair{key: key, value: tag[1:i]})
		tag = tag[i+1:]
	}
	return out
}
