package dao

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"restlib/internal/descriptor"
)

var (
	searchDatePattern  = regexp.MustCompile(`(\d{2})/(\d{2})/(\d{4}|\d{2})`)
	searchIntPattern   = regexp.MustCompile(`\d+`)
	searchFloatPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
)

// searchClause builds the free-text search condition, dispatching on each
// searchable field's declared type: date fields match dd/mm/yyyy tokens by
// equality, numeric fields match extracted numbers within a 10% band, and
// text fields match each word through an accent-insensitive upper ILIKE.
// Candidates across fields and tokens combine with OR. Returns "" when the
// query produces no usable candidate.
func searchClause(b *builder, spec *descriptor.Spec, query string) string {
	query = strings.TrimSpace(query)
	if query == "" || len(spec.SearchFields()) == 0 {
		return ""
	}

	var parts []string
	for _, name := range spec.SearchFields() {
		field, ok := spec.Field(name)
		if !ok {
			continue
		}
		column := field.Column()

		switch field.Type {
		case descriptor.Date, descriptor.DateTime:
			for _, m := range searchDatePattern.FindAllStringSubmatch(query, -1) {
				day, _ := strconv.Atoi(m[1])
				month, _ := strconv.Atoi(m[2])
				year, _ := strconv.Atoi(m[3])
				if len(m[3]) == 2 {
					year += 2000
				}
				d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
				if d.Day() != day || int(d.Month()) != month {
					continue
				}
				ref := b.bind("shf_"+column, d)
				parts = append(parts, fmt.Sprintf("t0.%s = %s", column, ref))
			}

		case descriptor.Int:
			stripped := searchDatePattern.ReplaceAllString(query, "")
			for _, tok := range searchIntPattern.FindAllString(stripped, -1) {
				n, err := strconv.ParseInt(tok, 10, 64)
				if err != nil {
					continue
				}
				lo := b.bind("shf_"+column+"_min", int64(float64(n)*0.9))
				hi := b.bind("shf_"+column+"_max", int64(float64(n)*1.1))
				parts = append(parts, fmt.Sprintf("(t0.%s >= %s and t0.%s <= %s)", column, lo, column, hi))
			}

		case descriptor.Float:
			stripped := searchDatePattern.ReplaceAllString(query, "")
			for _, tok := range searchFloatPattern.FindAllString(stripped, -1) {
				n, err := strconv.ParseFloat(strings.Replace(tok, ",", ".", 1), 64)
				if err != nil {
					continue
				}
				lo := b.bind("shf_"+column+"_min", n*0.9)
				hi := b.bind("shf_"+column+"_max", n*1.1)
				parts = append(parts, fmt.Sprintf("(t0.%s >= %s and t0.%s <= %s)", column, lo, column, hi))
			}

		default: // strings, uuids and untyped fields
			for _, word := range strings.Fields(query) {
				ref := b.bind("shf_"+column, "%"+word+"%")
				parts = append(parts, fmt.Sprintf("upper(unaccent(cast(t0.%s as varchar))) like upper(unaccent(%s))", column, ref))
			}
		}
	}

	if len(parts) == 0 {
		return ""
	}
	return "(\n    " + strings.Join(parts, "\n    or ") + "\n  )"
}
