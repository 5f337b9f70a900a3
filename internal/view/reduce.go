package view

import (
	"encoding/json"
	"fmt"
)

// Reducer folds the values of one group, given in ascending key order.
type Reducer interface {
	Reduce(values []json.RawMessage) (json.RawMessage, error)
}

// ReducerFunc adapts a function to Reducer.
type ReducerFunc func(values []json.RawMessage) (json.RawMessage, error)

func (f ReducerFunc) Reduce(values []json.RawMessage) (json.RawMessage, error) { return f(values) }

// Last keeps the value with the highest key in the group.
var Last = ReducerFunc(func(values []json.RawMessage) (json.RawMessage, error) {
	if len(values) == 0 {
		return json.RawMessage("null"), nil
	}
	return values[len(values)-1], nil
})

// Sum adds numeric values.
var Sum = ReducerFunc(func(values []json.RawMessage) (json.RawMessage, error) {
	var total float64
	for _, raw := range values {
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("sum: %w", err)
		}
		total += n
	}
	return json.Marshal(total)
})

// Count counts rows.
var Count = ReducerFunc(func(values []json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(len(values))
})

// Finish applies reduction, grouping and the row limit to rows returned by a
// store scan. rows must be in the order requested by q.
func Finish(v *View, q Query, rows []Row) ([]Row, error) {
	if !q.Reduce {
		if q.Limit > 0 && len(rows) > q.Limit {
			rows = rows[:q.Limit]
		}
		return rows, nil
	}
	if v.Reducer == nil {
		return nil, fmt.Errorf("view %s has no reducer", v.Name)
	}

	asc := rows
	if q.Descending {
		asc = reversed(rows)
	}

	var out []Row
	var group []json.RawMessage
	var groupKey Key
	flush := func() error {
		if len(group) == 0 {
			return nil
		}
		value, err := v.Reducer.Reduce(group)
		if err != nil {
			return fmt.Errorf("reduce %s: %w", v.Name, err)
		}
		out = append(out, Row{Key: groupKey, Value: value})
		group = nil
		return nil
	}
	for _, r := range asc {
		k := groupPrefix(r.Key, q.GroupLevel)
		if len(group) > 0 && Compare(k, groupKey) != 0 {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		groupKey = k
		group = append(group, r.Value)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if q.Descending {
		out = reversed(out)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// groupPrefix is the group key at level; level 0 reduces everything into one group.
func groupPrefix(k Key, level int) Key {
	if level <= 0 {
		return nil
	}
	if level >= len(k) {
		return k
	}
	return k[:level]
}

func reversed(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r
	}
	return out
}
