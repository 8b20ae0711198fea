package record

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"

	"github.com/keyxmakerx/activitylog/internal/apperror"
	"github.com/keyxmakerx/activitylog/internal/sanitize"
)

// Placeholder syntax understood in message templates:
//
//	%s, %d, %v   next positional argument
//	%2$s         explicit positional argument (1-based)
//	{name}       argument named "name"
//	%%           a literal percent sign
//
// Anything else is copied through verbatim.

// segment is one piece of a parsed template: literal text, or a reference
// to an argument by position (1-based) or by name.
type segment struct {
	text  string
	index int
	name  string
}

func (s segment) isArg() bool {
	return s.index > 0 || s.name != ""
}

// parseTemplate splits a template into literal and placeholder segments.
// Sequential placeholders are resolved to explicit indexes here so later
// passes only deal with index or name references.
func parseTemplate(tpl string) []segment {
	var (
		segs []segment
		lit  strings.Builder
		next = 1
	)
	flush := func() {
		if lit.Len() > 0 {
			segs = append(segs, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(tpl); i++ {
		c := tpl[i]
		switch c {
		case '%':
			if i+1 < len(tpl) && tpl[i+1] == '%' {
				lit.WriteByte('%')
				i++
				continue
			}
			idx, width, ok := scanPercent(tpl[i+1:])
			if !ok {
				lit.WriteByte(c)
				continue
			}
			flush()
			if idx == 0 {
				idx = next
				next++
			}
			segs = append(segs, segment{index: idx})
			i += width
		case '{':
			end := strings.IndexByte(tpl[i+1:], '}')
			if end <= 0 || !isArgName(tpl[i+1:i+1+end]) {
				lit.WriteByte(c)
				continue
			}
			flush()
			segs = append(segs, segment{name: tpl[i+1 : i+1+end]})
			i += end + 1
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return segs
}

// scanPercent parses what follows a '%': an optional "N$" index and a verb
// letter. It returns the explicit index (0 when sequential) and how many
// bytes were consumed.
func scanPercent(s string) (index, width int, ok bool) {
	digits := 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	pos := 0
	if digits > 0 {
		if digits >= len(s) || s[digits] != '$' {
			return 0, 0, false
		}
		n, err := strconv.Atoi(s[:digits])
		if err != nil || n == 0 {
			return 0, 0, false
		}
		index = n
		pos = digits + 1
	}
	if pos >= len(s) || !isVerb(s[pos]) {
		return 0, 0, false
	}
	return index, pos + 1, true
}

func isVerb(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isArgName(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' && r != '.' {
			return false
		}
	}
	return s != ""
}

// Placeholders returns the argument references in tpl: positional ones as
// "#1", "#2", ... and named ones by name.
func Placeholders(tpl string) []string {
	var refs []string
	for _, seg := range parseTemplate(tpl) {
		switch {
		case seg.index > 0:
			refs = append(refs, "#"+strconv.Itoa(seg.index))
		case seg.name != "":
			refs = append(refs, seg.name)
		}
	}
	return refs
}

// checkPlaceholders verifies that every placeholder in tpl resolves to an
// argument in args.
func checkPlaceholders(tpl string, args Args) error {
	for _, seg := range parseTemplate(tpl) {
		if seg.index > len(args) {
			return apperror.NewValidation(fmt.Sprintf(
				"message references argument %d but only %d given", seg.index, len(args)))
		}
		if seg.name != "" {
			if _, ok := args.Get(seg.name); !ok {
				return apperror.NewValidation(fmt.Sprintf(
					"message references unknown argument %q", seg.name))
			}
		}
	}
	return nil
}

// Summary renders the message template with its arguments. Argument values
// are reduced to plain text so stored HTML never reaches a viewer. Records
// without a template get a default "<Context> <action>" line.
func (r Record) Summary() string {
	if r.Message == "" {
		return defaultSummary(r)
	}

	var b strings.Builder
	for _, seg := range parseTemplate(r.Message) {
		if !seg.isArg() {
			b.WriteString(seg.text)
			continue
		}
		var (
			val any
			ok  bool
		)
		if seg.index > 0 {
			if seg.index <= len(r.Args) {
				val, ok = r.Args[seg.index-1].Value, true
			}
		} else {
			val, ok = r.Args.Get(seg.name)
		}
		if !ok {
			continue
		}
		b.WriteString(sanitize.Text(formatValue(val)))
	}
	return b.String()
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = formatValue(e)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// defaultSummary builds "Comment created" from context "comments" and
// action "created", falling back to the connector name.
func defaultSummary(r Record) string {
	label := r.Context
	if label == "" {
		label = r.Connector
	}
	label = strings.ReplaceAll(inflection.Singular(label), "_", " ")
	action := strings.ReplaceAll(r.Action, "_", " ")
	if label == "" {
		return action
	}
	runes := []rune(label)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes) + " " + action
}
