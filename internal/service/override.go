package service

import (
	"fmt"

	"restlib/internal/dto"
	"restlib/internal/errs"
)

// checkOverrideFilterOrder rejects filters that supply an override field
// without every preceding field of the chain: the override scopes narrow
// left to right, so a gap makes the requested scope ambiguous.
func (s *Service) checkOverrideFilterOrder(all map[string]any) error {
	if len(s.spec.OverrideFields) == 0 {
		return nil
	}
	gap := false
	for _, name := range s.spec.OverrideFields {
		v, ok := all[name]
		if !ok || v == nil {
			gap = true
			continue
		}
		if gap {
			return &errs.DataOverrideParameterError{Field: name}
		}
	}
	return nil
}

// groupByOverrideData collapses override candidate rows into the most
// specific one per group. Rows group by the concatenated override-group
// values; within a group a row wins over the kept one when, scanning the
// override fields in reverse declaration order, it carries a real value
// where the kept row still carries the field's null sentinel.
func (s *Service) groupByOverrideData(docs []*dto.Document) []*dto.Document {
	if len(s.spec.OverrideFields) == 0 || len(s.spec.OverrideGroup) == 0 {
		return docs
	}

	grouped := map[string]*dto.Document{}
	var order []string

	for _, doc := range docs {
		groupID := ""
		for _, name := range s.spec.OverrideGroup {
			groupID += fmt.Sprintf("%v_", doc.Get(name))
		}

		kept, ok := grouped[groupID]
		if !ok {
			grouped[groupID] = doc
			order = append(order, groupID)
			continue
		}

		for i := len(s.spec.OverrideFields) - 1; i >= 0; i-- {
			name := s.spec.OverrideFields[i]
			f, ok := s.spec.Field(name)
			if !ok || f.NullValue == nil {
				continue
			}
			null := fmt.Sprintf("%v", f.NullValue)
			candidate := doc.Get(name)
			keptValue := kept.Get(name)

			if candidate != nil && fmt.Sprintf("%v", candidate) != null &&
				(keptValue == nil || fmt.Sprintf("%v", keptValue) == null) {
				grouped[groupID] = doc
				kept = doc
			}
		}
	}

	out := make([]*dto.Document, 0, len(order))
	for _, id := range order {
		out = append(out, grouped[id])
	}
	return out
}
