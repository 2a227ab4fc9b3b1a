package template

import (
	"strings"
)

// FormatText renders a value as an indented bullet outline: one "- key: value"
// line per map entry and one "- value" line per list element. Nested
// containers continue on the following lines, two spaces deeper.
func FormatText(v *Value) string {
	var b strings.Builder
	if v.IsScalar() {
		return v.Scalar()
	}
	formatText(&b, v, 0)
	return b.String()
}

func formatText(b *strings.Builder, v *Value, indent int) {
	pad := strings.Repeat(" ", indent)
	switch v.Kind() {
	case KindList:
		for _, item := range v.Items() {
			b.WriteString(pad + "-")
			writeChild(b, item, indent)
		}
	case KindMap:
		for _, key := range v.Keys() {
			child, _ := v.Get(key)
			b.WriteString(pad + "- " + key + ":")
			writeChild(b, child, indent)
		}
	}
}

func writeChild(b *strings.Builder, child *Value, indent int) {
	if child.IsScalar() || child.Len() == 0 {
		b.WriteString(" " + child.Scalar() + "\n")
		return
	}
	b.WriteString("\n")
	formatText(b, child, indent+2)
}
