package service

import (
	"context"
	"fmt"
	"strings"

	"restlib/internal/descriptor"
	"restlib/internal/dto"
	"restlib/internal/errs"
	"restlib/internal/logger"
)

// retrieveRelatedLists populates the requested list fields for every
// document in one batched query per list field: parent keys collapse into a
// single IN filter and the children regroup by relation key in memory,
// avoiding a query per parent row.
func (s *Service) retrieveRelatedLists(ctx context.Context, docs []*dto.Document, fields *dto.FieldsTree, partition map[string]any, depth int) error {
	if len(docs) == 0 || depth >= s.opts.MaxDepth {
		return nil
	}

	for _, lf := range s.spec.ListFields {
		if !fields.Has(lf.Name) {
			continue
		}
		child := lf.Ref()
		if child == nil {
			return &errs.ListFieldConfigError{Detail: fmt.Sprintf("spec %s: list field %s is unresolved", s.spec.Name, lf.Name)}
		}

		relationKeyField := s.spec.PKField().Name
		if lf.RelationKeyField != "" {
			relationKeyField = lf.RelationKeyField
		}

		keyToDocs := map[string][]*dto.Document{}
		var keys []string
		for _, doc := range docs {
			value := doc.Get(relationKeyField)
			if value == nil {
				doc.Lists[lf.Name] = []*dto.Document{}
				continue
			}
			key := fmt.Sprintf("%v", value)
			if _, seen := keyToDocs[key]; !seen {
				keys = append(keys, key)
			}
			keyToDocs[key] = append(keyToDocs[key], doc)
		}
		if len(keys) == 0 {
			continue
		}

		relatedField, ok := child.FieldByColumn(lf.RelatedEntityField)
		if !ok {
			return &errs.ListFieldConfigError{Detail: fmt.Sprintf("spec %s: list field %s relates through undeclared column %s", s.spec.Name, lf.Name, lf.RelatedEntityField)}
		}

		filters := map[string]any{
			relatedField.Name: strings.Join(keys, ","),
		}
		// partition scoping carries down when every parent shares the value
		for _, pf := range s.spec.PartitionFields() {
			if !isPartitionField(child, pf) {
				continue
			}
			if v := sharedValue(docs, pf); v != nil {
				filters[pf] = v
			} else if v, ok := partition[pf]; ok && v != nil {
				filters[pf] = v
			}
		}

		childTree := fields.ChildTree(lf.Name)
		keyRequested := childTree.Has(relatedField.Name)
		childTree.Add(relatedField.Name)

		childSvc := s.forSpec(child, s.q)
		related, err := childSvc.list(ctx, ListParams{
			Limit:   -1,
			Fields:  childTree,
			Filters: filters,
		}, depth+1)
		if err != nil {
			return err
		}

		relatedMap := map[string][]*dto.Document{}
		for _, rd := range related {
			key := fmt.Sprintf("%v", rd.Get(relatedField.Name))
			relatedMap[key] = append(relatedMap[key], rd)
			if !keyRequested {
				rd.Hide(relatedField.Name)
			}
		}

		for key, parents := range keyToDocs {
			children := relatedMap[key]
			if children == nil {
				children = []*dto.Document{}
			}
			for _, parent := range parents {
				parent.Lists[lf.Name] = children
			}
		}
	}

	return nil
}

// retrieveObjectFields populates the requested related-object fields, again
// with one batched IN query per object field.
func (s *Service) retrieveObjectFields(ctx context.Context, docs []*dto.Document, fields *dto.FieldsTree, partition map[string]any, depth int) error {
	if len(docs) == 0 || depth >= s.opts.MaxDepth {
		return nil
	}

	for _, of := range s.spec.ObjectFields {
		if !fields.Has(of.Name) {
			continue
		}
		related := of.Ref()
		if related == nil {
			return &errs.ListFieldConfigError{Detail: fmt.Sprintf("spec %s: object field %s is unresolved", s.spec.Name, of.Name)}
		}
		childSvc := s.forSpec(related, s.q)
		childTree := fields.ChildTree(of.Name)

		switch of.Owner {
		case descriptor.OwnerOther:
			// the related table carries the pointer back at us
			relationField, ok := related.FieldByColumn(of.RelationField)
			if !ok {
				return &errs.ListFieldConfigError{Detail: fmt.Sprintf("spec %s: object field %s relates through undeclared column %s", s.spec.Name, of.Name, of.RelationField)}
			}

			var keys []string
			seen := map[string]bool{}
			for _, doc := range docs {
				if pk := doc.PK(); pk != nil {
					key := fmt.Sprintf("%v", pk)
					if !seen[key] {
						seen[key] = true
						keys = append(keys, key)
					}
				}
			}
			if len(keys) == 0 {
				continue
			}

			keyRequested := childTree.Has(relationField.Name)
			childTree.Add(relationField.Name)
			childFilters := map[string]any{relationField.Name: strings.Join(keys, ",")}
			carryPartition(related, partition, childFilters)
			relatedDocs, err := childSvc.list(ctx, ListParams{
				Limit:   -1,
				Fields:  childTree,
				Filters: childFilters,
			}, depth+1)
			if err != nil {
				return err
			}

			relatedMap := map[string]*dto.Document{}
			for _, rd := range relatedDocs {
				relatedMap[fmt.Sprintf("%v", rd.Get(relationField.Name))] = rd
				if !keyRequested {
					rd.Hide(relationField.Name)
				}
			}
			for _, doc := range docs {
				doc.Objects[of.Name] = relatedMap[fmt.Sprintf("%v", doc.PK())]
			}

		default: // OwnerSelf: we carry the pointer column
			selfField, ok := s.spec.FieldByColumn(of.RelationField)
			if !ok {
				logger.Warn("object_field_relation_not_declared", map[string]any{
					"spec":     s.spec.Name,
					"field":    of.Name,
					"relation": of.RelationField,
				})
				continue
			}

			var keys []string
			seen := map[string]bool{}
			for _, doc := range docs {
				if v := doc.Get(selfField.Name); v != nil {
					key := fmt.Sprintf("%v", v)
					if !seen[key] {
						seen[key] = true
						keys = append(keys, key)
					}
				}
			}
			if len(keys) == 0 {
				continue
			}

			childFilters := map[string]any{related.PKField().Name: strings.Join(keys, ",")}
			carryPartition(related, partition, childFilters)
			relatedDocs, err := childSvc.list(ctx, ListParams{
				Limit:   -1,
				Fields:  childTree,
				Filters: childFilters,
			}, depth+1)
			if err != nil {
				return err
			}

			relatedMap := map[string]*dto.Document{}
			for _, rd := range relatedDocs {
				relatedMap[fmt.Sprintf("%v", rd.PK())] = rd
			}
			for _, doc := range docs {
				if v := doc.Get(selfField.Name); v != nil {
					doc.Objects[of.Name] = relatedMap[fmt.Sprintf("%v", v)]
				}
			}
		}
	}

	return nil
}

// carryPartition copies the partition values the related spec also
// partitions by into the child filter set.
func carryPartition(related *descriptor.Spec, partition map[string]any, filters map[string]any) {
	for name, value := range partition {
		if value != nil && isPartitionField(related, name) {
			filters[name] = value
		}
	}
}

func isPartitionField(spec *descriptor.Spec, name string) bool {
	for _, pf := range spec.PartitionFields() {
		if pf == name {
			return true
		}
	}
	return false
}

// sharedValue returns the single value every document carries for the
// field, nil when values differ or are absent.
func sharedValue(docs []*dto.Document, field string) any {
	var found any
	for _, doc := range docs {
		v := doc.Get(field)
		if v == nil {
			continue
		}
		if found == nil {
			found = v
		} else if fmt.Sprintf("%v", found) != fmt.Sprintf("%v", v) {
			return nil
		}
	}
	return found
}
