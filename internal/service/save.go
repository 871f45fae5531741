package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"restlib/internal/dao"
	"restlib/internal/db"
	"restlib/internal/descriptor"
	"restlib/internal/dto"
	"restlib/internal/errs"
	"restlib/internal/logger"
	"restlib/internal/outbox"

	"github.com/google/uuid"
)

type saveParams struct {
	insert  bool
	partial bool
	upsert  bool
	doc     *dto.Document
	id      any
	// relationFieldMap sets entity columns carrying the parent relation on
	// nested detail saves.
	relationFieldMap  map[string]any
	additionalFilters map[string]any
	depth             int
}

// Insert writes a new document inside one transaction, reconciling nested
// detail lists before commit.
func (s *Service) Insert(ctx context.Context, doc *dto.Document, additionalFilters map[string]any, w WriteOptions) (*dto.Document, error) {
	var out *dto.Document
	err := s.withTx(ctx, func(q db.Querier) error {
		var err error
		out, err = s.save(ctx, q, saveParams{
			insert:            true,
			doc:               doc,
			additionalFilters: additionalFilters,
		}, w)
		if err != nil {
			return err
		}
		return s.emitAudit(ctx, q, "insert", out, additionalFilters, w)
	})
	return out, err
}

// Update rewrites an existing document (full PUT semantics: fields absent
// from the payload reset to NULL/default, orphaned detail children are
// deleted).
func (s *Service) Update(ctx context.Context, id any, doc *dto.Document, additionalFilters map[string]any, w WriteOptions) (*dto.Document, error) {
	var out *dto.Document
	err := s.withTx(ctx, func(q db.Querier) error {
		var err error
		out, err = s.save(ctx, q, saveParams{
			doc:               doc,
			id:                id,
			additionalFilters: additionalFilters,
		}, w)
		if err != nil {
			return err
		}
		return s.emitAudit(ctx, q, "update", out, additionalFilters, w)
	})
	return out, err
}

// PartialUpdate applies PATCH semantics: untouched fields stay as they are
// and nested lists are additive only (no orphan deletion).
func (s *Service) PartialUpdate(ctx context.Context, id any, doc *dto.Document, additionalFilters map[string]any, w WriteOptions) (*dto.Document, error) {
	var out *dto.Document
	err := s.withTx(ctx, func(q db.Querier) error {
		var err error
		out, err = s.save(ctx, q, saveParams{
			doc:               doc,
			id:                id,
			partial:           true,
			additionalFilters: additionalFilters,
		}, w)
		if err != nil {
			return err
		}
		return s.emitAudit(ctx, q, "partial_update", out, additionalFilters, w)
	})
	return out, err
}

// save is the write state machine: auto-increment fill, old-record
// resolution, uniqueness and existence checks, the primary DAO call, then
// detail-list reconciliation. The caller owns the transaction.
func (s *Service) save(ctx context.Context, q db.Querier, p saveParams, w WriteOptions) (*dto.Document, error) {
	if p.depth >= s.opts.MaxDepth {
		return nil, &errs.ListFieldConfigError{Detail: fmt.Sprintf("spec %s: nested writes exceed depth %d", s.spec.Name, s.opts.MaxDepth)}
	}
	data := s.data(q)
	doc := p.doc
	pkField := s.spec.PKField()
	pkColumn := pkField.Column()

	if p.insert {
		if err := s.fillAutoIncrementFields(ctx, data, doc); err != nil {
			return nil, err
		}
	}

	// resolve the stored record first on plain updates, so candidate-key
	// lookups land on the real primary key
	var oldDoc *dto.Document
	if !p.insert && !p.upsert {
		var err error
		oldDoc, err = s.retrieveOldDoc(ctx, q, doc, p.id, p.additionalFilters)
		if err != nil {
			return nil, err
		}
		doc.SetRaw(pkField.Name, oldDoc.PK())
	}

	row, err := doc.ToRow(p.partial)
	if err != nil {
		return nil, err
	}

	id := p.id
	if p.insert {
		if row[pkColumn] == nil {
			if id == nil && pkField.Type == descriptor.UUID {
				id = uuid.New()
			}
			if id != nil {
				row[pkColumn] = id
				doc.SetRaw(pkField.Name, id)
			}
		} else {
			id = row[pkColumn]
		}
	} else if id == nil {
		id = doc.PK()
	}

	for column, value := range p.relationFieldMap {
		row[column] = value
		if f, ok := s.spec.FieldByColumn(column); ok {
			doc.SetRaw(f.Name, value)
		}
	}

	s.stampAuthorship(p.insert, row, doc, w)

	additionalEntityFilters, err := s.resolveFilters(p.additionalFilters)
	if err != nil {
		return nil, err
	}

	currentPK := doc.PK()
	if oldDoc != nil {
		currentPK = oldDoc.PK()
	}
	uniques := s.spec.Uniques()
	uniqueNames := make([]string, 0, len(uniques))
	for name := range uniques {
		uniqueNames = append(uniqueNames, name)
	}
	sort.Strings(uniqueNames)
	for _, name := range uniqueNames {
		if err := s.checkUnique(ctx, data, doc, additionalEntityFilters, uniques[name], currentPK); err != nil {
			return nil, err
		}
	}

	if p.insert {
		exists, err := s.entityExists(ctx, data, row[pkColumn], additionalEntityFilters)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, &errs.ConflictError{Detail: fmt.Sprintf("a %s with identifier %v already exists", s.spec.Name, row[pkColumn])}
		}

		returning, err := data.Insert(ctx, row, readOnlyColumns(s.spec))
		if err != nil {
			return nil, err
		}
		mergeReturning(doc, returning)

		if s.spec.Conjunto != nil {
			groupValue := doc.Get(s.spec.Conjunto.Field)
			if groupValue == nil {
				return nil, &errs.MissingParameterError{Parameter: s.spec.Conjunto.Field}
			}
			if err := data.InsertConjuntoRelation(ctx, id, groupValue); err != nil {
				return nil, err
			}
		}
	} else {
		for _, f := range s.spec.Fields {
			if f.NoUpdate {
				delete(row, f.Column())
			}
		}
		keyValue := currentPK
		if p.upsert && keyValue == nil {
			keyValue = id
		}
		returning, err := data.Update(ctx, pkColumn, keyValue, row, additionalEntityFilters, readOnlyColumns(s.spec), p.upsert)
		if err != nil {
			return nil, err
		}
		mergeReturning(doc, returning)
	}

	if len(s.spec.ListFields) > 0 {
		if err := s.saveRelatedLists(ctx, q, p, doc, w); err != nil {
			return nil, err
		}
	}

	return doc, nil
}

// stampAuthorship fills the created-by / updated-by columns when declared.
func (s *Service) stampAuthorship(insert bool, row map[string]any, doc *dto.Document, w WriteOptions) {
	if w.User == "" {
		return
	}
	if insert && s.spec.CreatedByField != "" {
		row[s.spec.ColumnFor(s.spec.CreatedByField)] = w.User
		doc.SetRaw(s.spec.CreatedByField, w.User)
	}
	if s.spec.UpdatedByField != "" {
		row[s.spec.ColumnFor(s.spec.UpdatedByField)] = w.User
		doc.SetRaw(s.spec.UpdatedByField, w.User)
	}
}

// retrieveOldDoc loads the stored record an update targets, scoped by the
// same partition and conjunto filters the update uses.
func (s *Service) retrieveOldDoc(ctx context.Context, q db.Querier, doc *dto.Document, id any, additionalFilters map[string]any) (*dto.Document, error) {
	getFilters := map[string]any{}
	for k, v := range additionalFilters {
		getFilters[k] = v
	}
	if s.spec.Conjunto != nil {
		if _, ok := getFilters[s.spec.Conjunto.Field]; !ok {
			if v := doc.Get(s.spec.Conjunto.Field); v != nil {
				getFilters[s.spec.Conjunto.Field] = v
			}
		}
	}
	for _, pf := range s.spec.PartitionFields() {
		if v := doc.Get(pf); v != nil {
			getFilters[pf] = v
		}
	}

	txSvc := s.forSpec(s.spec, q)
	return txSvc.Get(ctx, id, getFilters, fieldsFromDoc(doc))
}

// fieldsFromDoc builds the field tree covering exactly what the document
// carries, so the old-record fetch reads the same shape.
func fieldsFromDoc(doc *dto.Document) *dto.FieldsTree {
	tree := dto.NewFieldsTree()
	for _, f := range doc.Spec.Fields {
		if doc.Value(f.Name).Provided() {
			tree.Add(f.Name)
		}
	}
	for name, children := range doc.Lists {
		child := tree.Child(name)
		if len(children) > 0 {
			sub := fieldsFromDoc(children[0])
			for n := range sub.Root {
				child.Add(n)
			}
		}
	}
	return tree
}

// checkUnique enforces one declared unique group: any other record (own key
// excluded) matching every group value is a conflict. A nil group value
// skips the check, mirroring SQL NULL-never-equal semantics.
func (s *Service) checkUnique(ctx context.Context, data DataAccess, doc *dto.Document, additional dao.Filters, group []string, currentPK any) error {
	uniqueFilter := map[string]any{}
	for _, name := range group {
		value := doc.Get(name)
		if value == nil {
			return nil
		}
		uniqueFilter[name] = value
	}

	uniqueEntityFilters, err := s.resolveFilters(uniqueFilter)
	if err != nil {
		return err
	}
	pkColumn := s.spec.PKColumn()
	delete(uniqueEntityFilters, pkColumn)
	if len(uniqueEntityFilters) == 0 {
		return nil
	}

	merged := additional.Clone()
	for column, conds := range uniqueEntityFilters {
		merged[column] = conds
	}
	merged[pkColumn] = append(append([]descriptor.Filter(nil), merged[pkColumn]...),
		descriptor.Filter{Operator: descriptor.Different, Value: currentPK})

	found, err := data.List(ctx, dao.ListQuery{
		Limit:   1,
		Fields:  []string{s.spec.PKField().Name},
		Filters: merged,
	})
	if err != nil {
		if _, notFound := err.(*errs.NotFoundError); notFound {
			return nil
		}
		return err
	}
	if len(found) >= 1 {
		return &errs.ConflictError{Detail: fmt.Sprintf("uniqueness violated for %s on fields %s", s.spec.Name, strings.Join(group, ", "))}
	}
	return nil
}

// entityExists checks for a record with the same primary key under the same
// partition filters.
func (s *Service) entityExists(ctx context.Context, data DataAccess, pk any, filters dao.Filters) (bool, error) {
	if pk == nil {
		return false, nil
	}
	_, err := data.Get(ctx, s.spec.PKColumn(), pk, []string{s.spec.PKField().Name}, filters, false, false)
	if err != nil {
		if _, notFound := err.(*errs.NotFoundError); notFound {
			return false, nil
		}
		if _, conflict := err.(*errs.ConflictError); conflict {
			// more than one row still means it exists
			return true, nil
		}
		return false, err
	}
	return true, nil
}

// fillAutoIncrementFields resolves application-level sequences for fields
// not already carrying a value. The sequence key joins the declared group
// fields with the partition fields, sorted, so each scope counts alone.
func (s *Service) fillAutoIncrementFields(ctx context.Context, data DataAccess, doc *dto.Document) error {
	for _, f := range s.spec.Fields {
		ai := f.AutoIncrement
		if ai == nil || ai.DBManaged {
			continue
		}
		if v := doc.Get(f.Name); v != nil && fmt.Sprintf("%v", v) != "" {
			continue
		}

		groupSet := map[string]bool{}
		for _, g := range ai.Group {
			groupSet[g] = true
		}
		for _, pf := range s.spec.PartitionFields() {
			groupSet[pf] = true
		}
		groupFields := make([]string, 0, len(groupSet))
		for g := range groupSet {
			groupFields = append(groupFields, g)
		}
		sort.Strings(groupFields)

		groupValues := make([]string, 0, len(groupFields))
		for _, g := range groupFields {
			if v := doc.Get(g); v != nil {
				groupValues = append(groupValues, fmt.Sprintf("%v", v))
			} else {
				groupValues = append(groupValues, "----")
			}
		}

		next, err := data.NextVal(ctx, ai.SequenceName, groupValues, ai.StartValue)
		if err != nil {
			return err
		}

		rendered := renderSequenceTemplate(ai.Template, doc, next)
		if f.Type == descriptor.Int {
			n, err := strconv.ParseInt(rendered, 10, 64)
			if err != nil {
				return fmt.Errorf("field %s: sequence template rendered non-integer %q", f.Name, rendered)
			}
			doc.SetRaw(f.Name, n)
		} else {
			doc.SetRaw(f.Name, rendered)
		}
	}
	return nil
}

// renderSequenceTemplate substitutes {seq} and {field} placeholders; an
// empty template is the bare counter.
func renderSequenceTemplate(template string, doc *dto.Document, seq int64) string {
	if template == "" {
		return strconv.FormatInt(seq, 10)
	}
	out := strings.ReplaceAll(template, "{seq}", strconv.FormatInt(seq, 10))
	for _, f := range doc.Spec.Fields {
		placeholder := "{" + f.Name + "}"
		if strings.Contains(out, placeholder) {
			out = strings.ReplaceAll(out, placeholder, fmt.Sprintf("%v", doc.Get(f.Name)))
		}
	}
	return out
}

func readOnlyColumns(spec *descriptor.Spec) []string {
	var cols []string
	for _, f := range spec.Fields {
		if f.ReadOnly {
			cols = append(cols, f.Column())
		}
	}
	return cols
}

// mergeReturning folds RETURNING values back into the document.
func mergeReturning(doc *dto.Document, returning map[string]any) {
	for column, value := range returning {
		if f, ok := doc.Spec.FieldByColumn(column); ok {
			doc.SetRaw(f.Name, value)
		}
	}
}

// saveRelatedLists reconciles every provided detail list: children whose
// primary key already exists under the parent update, new children insert,
// and (on full updates only) stored children missing from the payload are
// deleted. PATCH never deletes the missing ones.
func (s *Service) saveRelatedLists(ctx context.Context, q db.Querier, p saveParams, doc *dto.Document, w WriteOptions) error {
	for _, lf := range s.spec.ListFields {
		children, provided := doc.Lists[lf.Name]
		if !provided {
			continue
		}
		child := lf.Ref()
		childData := s.factory(child, q)
		childSvc := s.forSpec(child, q)

		relationKeyField := s.spec.PKField().Name
		if lf.RelationKeyField != "" {
			relationKeyField = lf.RelationKeyField
		}
		relationValue := doc.Get(relationKeyField)
		if relationValue == nil {
			return &errs.ListFieldConfigError{Detail: fmt.Sprintf("spec %s: relation key %s is empty while saving %s", s.spec.Name, relationKeyField, lf.Name)}
		}
		relationFieldMap := map[string]any{lf.RelatedEntityField: relationValue}

		// stored child ids, to diff against the payload
		oldIDs := map[string]any{}
		if !p.insert {
			relationFilter := dao.Filters{
				lf.RelatedEntityField: {{Operator: descriptor.Equals, Value: relationValue}},
			}
			for _, pf := range s.spec.PartitionFields() {
				if !isPartitionField(child, pf) {
					continue
				}
				if v := doc.Get(pf); v != nil {
					relationFilter[child.ColumnFor(pf)] = []descriptor.Filter{{Operator: descriptor.Equals, Value: v}}
				}
			}
			ids, err := childData.ListIDs(ctx, relationFilter)
			if err != nil {
				return err
			}
			for _, id := range ids {
				oldIDs[fmt.Sprintf("%v", id)] = id
			}
		}

		type pendingSave struct {
			insert bool
			doc    *dto.Document
			id     any
		}
		var pending []pendingSave
		for _, childDoc := range children {
			childPK := childDoc.PK()
			isInsert := true
			if childPK != nil {
				key := fmt.Sprintf("%v", childPK)
				if _, existed := oldIDs[key]; existed {
					isInsert = false
					delete(oldIDs, key)
				}
			}
			pending = append(pending, pendingSave{insert: isInsert, doc: childDoc, id: childPK})
		}

		if !p.partial && len(oldIDs) > 0 {
			orphanKeys := make([]string, 0, len(oldIDs))
			for key := range oldIDs {
				orphanKeys = append(orphanKeys, key)
			}
			sort.Strings(orphanKeys)
			for _, key := range orphanKeys {
				if err := childSvc.deleteTx(ctx, q, oldIDs[key], p.additionalFilters, p.depth+1); err != nil {
					return err
				}
			}
		}

		for _, item := range pending {
			if _, err := childSvc.save(ctx, q, saveParams{
				insert:            item.insert,
				partial:           p.partial,
				doc:               item.doc,
				id:                item.id,
				relationFieldMap:  relationFieldMap,
				additionalFilters: p.additionalFilters,
				depth:             p.depth + 1,
			}, w); err != nil {
				return err
			}
		}
	}
	return nil
}

// Delete removes a record and its detail children inside one transaction.
// Zero matched rows surfaces as NotFound, never a silent no-op.
func (s *Service) Delete(ctx context.Context, id any, partition map[string]any, w WriteOptions) error {
	if err := s.requirePartition(partition); err != nil {
		return err
	}
	return s.withTx(ctx, func(q db.Querier) error {
		if err := s.deleteTx(ctx, q, id, partition, 0); err != nil {
			return err
		}
		return s.emitDeleteAudit(ctx, q, id, partition, w)
	})
}

func (s *Service) deleteTx(ctx context.Context, q db.Querier, id any, partition map[string]any, depth int) error {
	if depth >= s.opts.MaxDepth {
		return &errs.ListFieldConfigError{Detail: fmt.Sprintf("spec %s: nested deletes exceed depth %d", s.spec.Name, s.opts.MaxDepth)}
	}
	data := s.data(q)

	keyField, keyValue, err := s.resolveFieldKey(id)
	if err != nil {
		return err
	}

	// children and the conjunto relation key off the primary key
	pkValue := keyValue
	if !keyField.PK && (len(s.spec.ListFields) > 0 || s.spec.Conjunto != nil) {
		txSvc := s.forSpec(s.spec, q)
		doc, err := txSvc.Get(ctx, keyValue, partition, dto.NewFieldsTree())
		if err != nil {
			return err
		}
		pkValue = doc.PK()
	}

	for _, lf := range s.spec.ListFields {
		child := lf.Ref()
		childData := s.factory(child, q)
		childSvc := s.forSpec(child, q)

		relationFilter := dao.Filters{
			lf.RelatedEntityField: {{Operator: descriptor.Equals, Value: pkValue}},
		}
		ids, err := childData.ListIDs(ctx, relationFilter)
		if err != nil {
			return err
		}
		for _, childID := range ids {
			if err := childSvc.deleteTx(ctx, q, childID, partition, depth+1); err != nil {
				return err
			}
		}
	}

	if s.spec.Conjunto != nil {
		if err := data.DeleteConjuntoRelation(ctx, pkValue); err != nil {
			return err
		}
	}

	filters, err := s.resolveFilters(partition)
	if err != nil {
		return err
	}
	filters[keyField.Column()] = append(filters[keyField.Column()], descriptor.NewFilter(keyValue))

	return data.Delete(ctx, filters)
}

func (s *Service) emitAudit(ctx context.Context, q db.Querier, action string, doc *dto.Document, partition map[string]any, w WriteOptions) error {
	if s.opts.Outbox == nil || doc == nil {
		return nil
	}
	err := s.opts.Outbox.Write(ctx, q, outbox.Event{
		TenantID:         partitionValue(doc, partition, "tenant"),
		GrupoEmpresarial: partitionValue(doc, partition, "grupo_empresarial"),
		RequestID:        w.RequestID,
		UserID:           w.User,
		SessionID:        w.SessionID,
		Action:           action,
		ResourceType:     s.spec.Name,
		ResourceID:       fmt.Sprintf("%v", doc.PK()),
		Commit:           doc.ToDict(dto.NewFieldsTree()),
	})
	if err != nil {
		logger.Error("outbox_write_failed", map[string]any{
			"action":   action,
			"resource": s.spec.Name,
			"error":    err.Error(),
		})
	}
	return err
}

func (s *Service) emitDeleteAudit(ctx context.Context, q db.Querier, id any, partition map[string]any, w WriteOptions) error {
	if s.opts.Outbox == nil {
		return nil
	}
	err := s.opts.Outbox.Write(ctx, q, outbox.Event{
		TenantID:         partition["tenant"],
		GrupoEmpresarial: partition["grupo_empresarial"],
		RequestID:        w.RequestID,
		UserID:           w.User,
		SessionID:        w.SessionID,
		Action:           "delete",
		ResourceType:     s.spec.Name,
		ResourceID:       fmt.Sprintf("%v", id),
	})
	if err != nil {
		logger.Error("outbox_write_failed", map[string]any{
			"action":   "delete",
			"resource": s.spec.Name,
			"error":    err.Error(),
		})
	}
	return err
}

func partitionValue(doc *dto.Document, partition map[string]any, name string) any {
	if v := doc.Get(name); v != nil {
		return v
	}
	return partition[name]
}
