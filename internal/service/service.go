package service

import (
	"context"
	"fmt"

	"restlib/internal/dao"
	"restlib/internal/db"
	"restlib/internal/descriptor"
	"restlib/internal/dto"
	"restlib/internal/errs"
	"restlib/internal/logger"
	"restlib/internal/outbox"

	"github.com/google/uuid"
)

// DefaultMaxDepth bounds recursive relationship loading and saving. Nested
// services past this depth stop descending instead of recursing further.
const DefaultMaxDepth = 5

// DataAccess is the persistence surface the orchestration uses. *dao.DAO
// implements it; tests substitute fakes.
type DataAccess interface {
	Spec() *descriptor.Spec
	Get(ctx context.Context, keyColumn string, key any, fields []string, filters dao.Filters, withConjunto, overrideData bool) ([]map[string]any, error)
	List(ctx context.Context, q dao.ListQuery) ([]map[string]any, error)
	Insert(ctx context.Context, row map[string]any, readOnly []string) (map[string]any, error)
	Update(ctx context.Context, keyColumn string, keyValue any, row map[string]any, filters dao.Filters, readOnly []string, upsert bool) (map[string]any, error)
	Delete(ctx context.Context, filters dao.Filters) error
	ListIDs(ctx context.Context, filters dao.Filters) ([]any, error)
	NextVal(ctx context.Context, baseName string, groupValues []string, start int64) (int64, error)
	InsertConjuntoRelation(ctx context.Context, id any, groupValue any) error
	DeleteConjuntoRelation(ctx context.Context, id any) error
}

// Factory builds the data access for one spec bound to a querier. The
// default wraps dao.New; nested services reuse it on the same transaction.
type Factory func(spec *descriptor.Spec, q db.Querier) DataAccess

// Options tunes a service tree.
type Options struct {
	DefaultPageSize int
	MaxDepth        int
	Outbox          *outbox.Writer
}

// Service orchestrates reads and writes for one registered resource,
// recursing into related resources through the shared registry.
type Service struct {
	registry *descriptor.Registry
	spec     *descriptor.Spec
	pg       *db.Postgres
	q        db.Querier
	factory  Factory
	opts     Options
}

// New builds the service for spec. pg may be nil when q already is the
// desired querier (tests); then writes run without transaction management.
func New(registry *descriptor.Registry, spec *descriptor.Spec, pg *db.Postgres, q db.Querier, factory Factory, opts Options) *Service {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 20
	}
	return &Service{
		registry: registry,
		spec:     spec,
		pg:       pg,
		q:        q,
		factory:  factory,
		opts:     opts,
	}
}

// DefaultFactory wires the real DAO.
func DefaultFactory(daoOpts dao.Options) Factory {
	return func(spec *descriptor.Spec, q db.Querier) DataAccess {
		return dao.New(q, spec, daoOpts)
	}
}

func (s *Service) Spec() *descriptor.Spec { return s.spec }

// PageSize returns the page size served when a list request carries no limit.
func (s *Service) PageSize() int { return s.opts.DefaultPageSize }

// forSpec derives a sibling service on the same querier for a related spec.
func (s *Service) forSpec(spec *descriptor.Spec, q db.Querier) *Service {
	return &Service{
		registry: s.registry,
		spec:     spec,
		pg:       s.pg,
		q:        q,
		factory:  s.factory,
		opts:     s.opts,
	}
}

func (s *Service) data(q db.Querier) DataAccess {
	return s.factory(s.spec, q)
}

// WriteOptions carries request identity for stamping and audit emission.
type WriteOptions struct {
	User      string
	RequestID uuid.UUID
	SessionID string
}

// requirePartition checks that every declared partition field was received.
func (s *Service) requirePartition(partition map[string]any) error {
	for _, name := range s.spec.PartitionFields() {
		if v, ok := partition[name]; !ok || v == nil {
			return &errs.MissingParameterError{Parameter: name}
		}
	}
	return nil
}

// Get fetches one document by any of its candidate keys, scoped by the
// partition filters, with the requested field tree populated (related lists
// and objects included).
func (s *Service) Get(ctx context.Context, id any, partition map[string]any, fields *dto.FieldsTree) (*dto.Document, error) {
	if err := s.requirePartition(partition); err != nil {
		return nil, err
	}
	fields = s.resolveFields(fields)

	allFilters := map[string]any{}
	for k, v := range s.spec.FixedFilters {
		allFilters[k] = v
	}
	for k, v := range partition {
		allFilters[k] = v
	}
	if err := s.checkOverrideFilterOrder(allFilters); err != nil {
		return nil, err
	}
	s.addOverrideDataFilters(allFilters)

	entityFilters, err := s.resolveFilters(allFilters)
	if err != nil {
		return nil, err
	}

	keyField, keyValue, err := s.resolveFieldKey(id)
	if err != nil {
		return nil, err
	}

	overrideData := len(s.spec.OverrideFields) > 0
	rows, err := s.data(s.q).Get(ctx, keyField.Column(), keyValue, rootFieldNames(s.spec, fields), entityFilters, s.spec.Conjunto != nil, overrideData)
	if err != nil {
		return nil, err
	}

	var doc *dto.Document
	if overrideData {
		docs := make([]*dto.Document, 0, len(rows))
		for _, row := range rows {
			docs = append(docs, dto.FromRow(s.spec, row))
		}
		docs = s.groupByOverrideData(docs)
		if len(docs) > 1 {
			return nil, &errs.ConflictError{Detail: fmt.Sprintf("more than one %s found for id %v", s.spec.Name, id)}
		}
		doc = docs[0]
	} else {
		doc = dto.FromRow(s.spec, rows[0])
	}

	if err := s.retrieveRelatedLists(ctx, []*dto.Document{doc}, fields, partition, 0); err != nil {
		return nil, err
	}
	if err := s.retrieveObjectFields(ctx, []*dto.Document{doc}, fields, partition, 0); err != nil {
		return nil, err
	}
	return doc, nil
}

// ListParams carries one list request.
type ListParams struct {
	After       any
	Limit       int
	Fields      *dto.FieldsTree
	OrderFields []string
	Filters     map[string]any
	Search      string
}

// List returns a keyset-paginated page of documents. Filters mix partition
// values and arbitrary declared filters; unknown names are dropped.
func (s *Service) List(ctx context.Context, p ListParams) ([]*dto.Document, error) {
	return s.list(ctx, p, 0)
}

func (s *Service) list(ctx context.Context, p ListParams, depth int) ([]*dto.Document, error) {
	if err := s.requirePartition(p.Filters); err != nil {
		return nil, err
	}
	fields := s.resolveFields(p.Fields)

	allFilters := map[string]any{}
	for k, v := range p.Filters {
		allFilters[k] = v
	}
	for k, v := range s.spec.FixedFilters {
		allFilters[k] = v
	}
	overrideData := len(s.spec.OverrideFields) > 0
	if overrideData {
		if err := s.checkOverrideFilterOrder(allFilters); err != nil {
			return nil, err
		}
		s.addOverrideDataFilters(allFilters)
	}

	entityFilters, err := s.resolveFilters(allFilters)
	if err != nil {
		return nil, err
	}

	limit := p.Limit
	if limit == 0 {
		limit = s.opts.DefaultPageSize
	} else if limit < 0 {
		// negative limit means "no page cap" (internal batched reads)
		limit = 0
	}

	rows, err := s.data(s.q).List(ctx, dao.ListQuery{
		After:        p.After,
		Limit:        limit,
		Fields:       rootFieldNames(s.spec, fields),
		OrderFields:  p.OrderFields,
		Filters:      entityFilters,
		Search:       p.Search,
		WithConjunto: s.spec.Conjunto != nil,
	})
	if err != nil {
		return nil, err
	}

	docs := make([]*dto.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, dto.FromRow(s.spec, row))
	}
	if overrideData {
		docs = s.groupByOverrideData(docs)
	}

	if err := s.retrieveRelatedLists(ctx, docs, fields, p.Filters, depth); err != nil {
		return nil, err
	}
	if err := s.retrieveObjectFields(ctx, docs, fields, p.Filters, depth); err != nil {
		return nil, err
	}
	return docs, nil
}

// resolveFields normalizes the requested tree: resume fields always join
// the root selection.
func (s *Service) resolveFields(fields *dto.FieldsTree) *dto.FieldsTree {
	if fields == nil {
		fields = dto.NewFieldsTree()
	}
	fields.Union(s.spec.ResumeFields())
	if fields.Empty() {
		// nothing requested at all: serve every plain field
		for _, f := range s.spec.Fields {
			fields.Add(f.Name)
		}
	}
	return fields
}

// rootFieldNames flattens the tree root for the DAO projection, nil when
// every field is wanted.
func rootFieldNames(spec *descriptor.Spec, fields *dto.FieldsTree) []string {
	if fields == nil || len(fields.Root) == 0 {
		return nil
	}
	names := make([]string, 0, len(fields.Root))
	for name := range fields.Root {
		names = append(names, name)
	}
	return names
}

// withTx runs fn inside one transaction when the service owns a pool;
// otherwise fn runs on the configured querier (already inside a transaction,
// or a test fake).
func (s *Service) withTx(ctx context.Context, fn func(q db.Querier) error) error {
	if s.pg == nil {
		return fn(s.q)
	}
	tx, err := s.pg.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			logger.Error("tx_rollback_failed", map[string]any{"error": rbErr.Error()})
		}
		return err
	}
	return tx.Commit(ctx)
}
