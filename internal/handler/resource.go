// Package handler exposes registered resources over HTTP. Each resource
// binds one service and answers the standard verb set; the query-string
// contract is fields, limit, after, search plus arbitrary declared filters.
package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"restlib/internal/auth"
	"restlib/internal/dto"
	"restlib/internal/service"

	"github.com/google/uuid"
)

// Resource is one routable REST resource.
type Resource struct {
	// Path is the URL segment under /api, e.g. "clientes".
	Path string
	Svc  *service.Service
}

// Register attaches the verb handlers on the mux using method patterns.
func (rs *Resource) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	base := "/api/" + rs.Path
	item := base + "/{id}"
	mux.HandleFunc("GET "+base, wrap(rs.List))
	mux.HandleFunc("POST "+base, wrap(rs.Create))
	mux.HandleFunc("GET "+item, wrap(rs.Get))
	mux.HandleFunc("PUT "+item, wrap(rs.Update))
	mux.HandleFunc("PATCH "+item, wrap(rs.PartialUpdate))
	mux.HandleFunc("DELETE "+item, wrap(rs.Delete))
}

func (rs *Resource) List(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, err)
		return
	}

	docs, err := rs.Svc.List(r.Context(), service.ListParams{
		After:   q.After,
		Limit:   q.Limit,
		Fields:  q.Fields,
		Filters: q.Filters,
		Search:  q.Search,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	result := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc.ToDict(q.Fields))
	}
	limit := q.Limit
	if limit == 0 {
		limit = rs.Svc.PageSize()
	}
	writeJSON(w, http.StatusOK, pageEnvelope{
		Result: result,
		Next:   nextLink(r, limit, docs),
	})
}

func (rs *Resource) Get(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, err)
		return
	}

	doc, err := rs.Svc.Get(r.Context(), r.PathValue("id"), q.Filters, q.Fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc.ToDict(q.Fields))
}

func (rs *Resource) Create(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, err)
		return
	}
	raw, err := readBody(r)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, err)
		return
	}
	mergeQueryIntoPayload(rs.Svc, raw, q.Filters)

	doc, err := dto.FromMap(rs.Svc.Spec(), raw, dto.Options{GeneratePK: true})
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, err)
		return
	}

	out, err := rs.Svc.Insert(r.Context(), doc, q.Filters, writeOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out.ToDict(dto.NewFieldsTree()))
}

func (rs *Resource) Update(w http.ResponseWriter, r *http.Request) {
	rs.save(w, r, false)
}

func (rs *Resource) PartialUpdate(w http.ResponseWriter, r *http.Request) {
	rs.save(w, r, true)
}

func (rs *Resource) save(w http.ResponseWriter, r *http.Request, partial bool) {
	q, err := parseQuery(r)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, err)
		return
	}
	raw, err := readBody(r)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, err)
		return
	}
	mergeQueryIntoPayload(rs.Svc, raw, q.Filters)

	doc, err := dto.FromMap(rs.Svc.Spec(), raw, dto.Options{PartialUpdate: partial, GeneratePK: true})
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, err)
		return
	}

	id := r.PathValue("id")
	var out *dto.Document
	if partial {
		out, err = rs.Svc.PartialUpdate(r.Context(), id, doc, q.Filters, writeOptions(r))
	} else {
		out, err = rs.Svc.Update(r.Context(), id, doc, q.Filters, writeOptions(r))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out.ToDict(dto.NewFieldsTree()))
}

func (rs *Resource) Delete(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, err)
		return
	}
	if err := rs.Svc.Delete(r.Context(), r.PathValue("id"), q.Filters, writeOptions(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readBody(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid json body: %w", err)
	}
	return raw, nil
}

// mergeQueryIntoPayload copies partition filters missing from the body, so
// writes validate against the same partition the URL scoped.
func mergeQueryIntoPayload(svc *service.Service, raw map[string]any, filters map[string]any) {
	for _, name := range svc.Spec().PartitionFields() {
		if _, ok := raw[name]; ok {
			continue
		}
		if v, ok := filters[name]; ok {
			raw[name] = v
		}
	}
}

func writeOptions(r *http.Request) service.WriteOptions {
	w := service.WriteOptions{
		User:      r.Header.Get("X-User-Email"),
		SessionID: r.Header.Get("X-Session-Id"),
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		if id := auth.Identity(claims); id != "" {
			w.User = id
		}
		if sid, ok := claims["sid"].(string); ok && w.SessionID == "" {
			w.SessionID = sid
		}
	}
	if rid, err := uuid.Parse(r.Header.Get("X-Request-Id")); err == nil {
		w.RequestID = rid
	} else {
		w.RequestID = uuid.New()
	}
	return w
}
