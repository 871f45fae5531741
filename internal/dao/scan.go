package dao

import (
	"github.com/jackc/pgx/v5"
)

// scanRows reads every row into a column-name keyed map, using the result's
// own field descriptions. Joined columns keep their projected names, so a
// duplicate projection would overwrite; plans keep projections unique.
func scanRows(rows pgx.Rows) ([]map[string]any, error) {
	descs := rows.FieldDescriptions()
	keys := make([]string, len(descs))
	for i, d := range descs {
		keys[i] = d.Name
	}

	out := make([]map[string]any, 0, 16)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(keys))
		for i, v := range vals {
			if i >= len(keys) {
				break
			}
			row[keys[i]] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
