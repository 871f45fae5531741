package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"restlib/internal/dto"
)

// listQuery is the decoded query string of one request.
type listQuery struct {
	Fields  *dto.FieldsTree
	Limit   int
	After   any
	Search  string
	Filters map[string]any
}

// reserved query keys; everything else is a filter expression.
var reservedKeys = map[string]bool{
	"fields": true,
	"limit":  true,
	"after":  true,
	"offset": true,
	"search": true,
	"expand": true,
}

func parseQuery(r *http.Request) (*listQuery, error) {
	values := r.URL.Query()
	q := &listQuery{Filters: map[string]any{}}

	tree, err := dto.ParseFields(values.Get("fields"))
	if err != nil {
		return nil, err
	}
	q.Fields = tree

	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return nil, fmt.Errorf("limit must be a positive integer, got %q", raw)
		}
		q.Limit = limit
	}

	// offset is a legacy alias for the after cursor; expand is accepted
	// for compatibility and covered by fields
	if raw := values.Get("after"); raw != "" {
		q.After = raw
	} else if raw := values.Get("offset"); raw != "" {
		q.After = raw
	}
	q.Search = values.Get("search")

	for key, vals := range values {
		if reservedKeys[key] || len(vals) == 0 {
			continue
		}
		// repeated params collapse into one comma list; the filter
		// resolver splits them back
		q.Filters[key] = strings.Join(vals, ",")
	}
	return q, nil
}

type pageEnvelope struct {
	Result []map[string]any `json:"result"`
	Next   string           `json:"next,omitempty"`
}

// nextLink rebuilds the request URL with the after cursor pointing past the
// last returned record. limit is the effective page size, the service
// default when the request carried none. Empty when the page was short.
func nextLink(r *http.Request, limit int, docs []*dto.Document) string {
	if limit <= 0 || len(docs) < limit {
		return ""
	}
	last := docs[len(docs)-1].PK()
	if last == nil {
		return ""
	}

	next := *r.URL
	params := next.Query()
	params.Set("after", fmt.Sprintf("%v", last))
	next.RawQuery = params.Encode()
	return next.String()
}
