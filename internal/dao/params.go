package dao

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// builder accumulates the two halves of one statement: the SQL text with
// named placeholders, and the bound-parameter map. Every dynamic value goes
// through bind; fragments never interpolate values into the text.
type builder struct {
	sb   strings.Builder
	args pgx.NamedArgs
	seq  map[string]int
}

func newBuilder() *builder {
	return &builder{
		args: pgx.NamedArgs{},
		seq:  map[string]int{},
	}
}

// bind registers value under a unique alias derived from base and returns
// the "@alias" placeholder to embed in the SQL text.
func (b *builder) bind(base string, value any) string {
	base = aliasSafe(base)
	alias := fmt.Sprintf("%s_%d", base, b.seq[base])
	b.seq[base]++
	b.args[alias] = value
	return "@" + alias
}

// bindAs registers value under a fixed alias (callers guarantee uniqueness).
func (b *builder) bindAs(alias string, value any) string {
	b.args[alias] = value
	return "@" + alias
}

func (b *builder) write(s string) {
	b.sb.WriteString(s)
}

func (b *builder) writef(format string, a ...any) {
	fmt.Fprintf(&b.sb, format, a...)
}

func (b *builder) String() string { return b.sb.String() }

// aliasSafe strips characters pgx named-argument parsing would reject.
func aliasSafe(s string) string {
	var out strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			out.WriteRune(r)
		default:
			out.WriteRune('_')
		}
	}
	return out.String()
}
