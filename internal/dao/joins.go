package dao

import (
	"fmt"
	"strings"

	"restlib/internal/descriptor"
)

// DetectJoins builds the auxiliary joins a query needs, lazily: a declared
// SQL-join field contributes a join only when it is in the requested field
// set. Aliases are assigned t1, t2, ... in declaration order.
func DetectJoins(spec *descriptor.Spec, requested map[string]bool) []descriptor.JoinAux {
	var joins []descriptor.JoinAux
	n := 0
	for _, jf := range spec.SQLJoinFields {
		if requested != nil && !requested[jf.Name] {
			continue
		}
		n++
		joins = append(joins, descriptor.JoinAux{
			Table:      jf.Table,
			Alias:      fmt.Sprintf("t%d", n),
			JoinType:   jf.JoinType,
			SelfField:  jf.SelfField,
			OtherField: jf.OtherField,
			Fields:     jf.Fields,
		})
	}
	return joins
}

// joinsSQL renders the projected join columns and the join clauses
// themselves, mirroring the main query's "t0" aliasing.
func joinsSQL(joins []descriptor.JoinAux) (fields string, clauses string) {
	var fb, cb strings.Builder
	for _, j := range joins {
		for _, f := range j.Fields {
			fb.WriteString(fmt.Sprintf(",\n  %s.%s", j.Alias, f))
		}
		joinType := j.JoinType
		if joinType == "" {
			joinType = "left"
		}
		cb.WriteString(fmt.Sprintf("\n%s join %s as %s on (t0.%s = %s.%s)",
			joinType, j.Table, j.Alias, j.SelfField, j.Alias, j.OtherField))
	}
	return fb.String(), cb.String()
}
