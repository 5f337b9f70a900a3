package view

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/chirino/cartography/internal/model"
)

// Emit is one row produced by a map function.
type Emit struct {
	Key   Key
	Value any
}

// MapFunc derives index rows from a live document.
type MapFunc func(doc *model.Document) ([]Emit, error)

// View is a secondary index: a map function plus an optional reducer.
type View struct {
	Name    string
	Map     MapFunc
	Reducer Reducer
}

// Query selects a key range of a view. Bounds are inclusive. When Descending is
// set, StartKey is the high bound and EndKey the low bound.
type Query struct {
	StartKey    Key
	EndKey      Key
	Descending  bool
	Limit       int
	Reduce      bool
	GroupLevel  int
	IncludeDocs bool
}

// Row is one query result. Reduced rows have no ID.
type Row struct {
	ID    string          `json:"id,omitempty"`
	Key   Key             `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
	Doc   *model.Document `json:"doc,omitempty"`
}

// IndexRow is the persisted form of an emitted row.
type IndexRow struct {
	View    string
	SortKey string
	DocID   string
	Seq     int
	Key     json.RawMessage
	Value   json.RawMessage
}

var views = map[string]*View{}

// Register adds a view. Called from init().
func Register(v *View) {
	views[v.Name] = v
}

// Lookup returns the named view.
func Lookup(name string) (*View, error) {
	v, ok := views[name]
	if !ok {
		return nil, fmt.Errorf("unknown view %q; valid: %v", name, Names())
	}
	return v, nil
}

// Names returns all registered view names, sorted.
func Names() []string {
	names := make([]string, 0, len(views))
	for n := range views {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IndexRows runs every registered view over doc. Deleted documents emit nothing.
func IndexRows(doc *model.Document) ([]IndexRow, error) {
	if doc == nil || doc.Deleted {
		return nil, nil
	}
	var rows []IndexRow
	for _, name := range Names() {
		v := views[name]
		emits, err := v.Map(doc)
		if err != nil {
			return nil, fmt.Errorf("view %s on %s: %w", name, doc.ID, err)
		}
		for i, e := range emits {
			sk, err := SortKey(e.Key)
			if err != nil {
				return nil, fmt.Errorf("view %s on %s: %w", name, doc.ID, err)
			}
			key, err := json.Marshal(e.Key)
			if err != nil {
				return nil, err
			}
			value, err := json.Marshal(e.Value)
			if err != nil {
				return nil, err
			}
			rows = append(rows, IndexRow{View: name, SortKey: sk, DocID: doc.ID, Seq: i, Key: key, Value: value})
		}
	}
	return rows, nil
}

// Range returns the inclusive sort-key bounds of q. A missing bound is open.
func (q Query) Range() (lo, hi string, err error) {
	start, end := q.StartKey, q.EndKey
	if q.Descending {
		start, end = end, start
	}
	if start != nil {
		if lo, err = SortKey(start); err != nil {
			return "", "", err
		}
	}
	if end != nil {
		if hi, err = SortKey(end); err != nil {
			return "", "", err
		}
	} else {
		hi = "ff"
	}
	return lo, hi, nil
}

// ScanLimit is the row limit a store may push down. Reduced queries must scan the full range.
func (q Query) ScanLimit() int {
	if q.Reduce {
		return 0
	}
	return q.Limit
}

// Decode turns a persisted index row back into a result row.
func (r IndexRow) Decode() (Row, error) {
	var key Key
	if err := json.Unmarshal(r.Key, &key); err != nil {
		return Row{}, fmt.Errorf("decode key of %s: %w", r.DocID, err)
	}
	return Row{ID: r.DocID, Key: key, Value: r.Value}, nil
}

// DecodeValue unmarshals the row value into v.
func (r Row) DecodeValue(v any) error {
	if len(r.Value) == 0 {
		return fmt.Errorf("row %v has no value", r.Key)
	}
	return json.Unmarshal(r.Value, v)
}
