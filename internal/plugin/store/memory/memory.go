package memory

import (
	"context"
	"fmt"
	"strconv"

	"github.com/chirino/cartography/internal/model"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/view"
	"github.com/hashicorp/go-memdb"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrystore.DocumentStore, error) {
			return New()
		},
	})
}

const (
	tableDocs = "documents"
	tableRows = "index_rows"
	sep       = "\x1f"
)

type docRecord struct {
	ID      string
	Rev     string
	Type    string
	Deleted bool
	Body    []byte
}

type rowRecord struct {
	Composite string
	View      string
	SortKey   string
	DocID     string
	Seq       int
	Key       []byte
	Value     []byte
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableDocs: {
				Name: tableDocs,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
				},
			},
			tableRows: {
				Name: tableRows,
				Indexes: map[string]*memdb.IndexSchema{
					"id":  {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Composite"}},
					"doc": {Name: "doc", Indexer: &memdb.StringFieldIndex{Field: "DocID"}},
				},
			},
		},
	}
}

// Store is an in-process DocumentStore backed by go-memdb. Every write runs in
// one memdb transaction, so bulk writes are atomic.
type Store struct {
	db *memdb.MemDB
}

var _ registrystore.DocumentStore = (*Store)(nil)

// New creates an empty store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(_ context.Context, id string) (*model.Document, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	rec, err := lookup(txn, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Deleted {
		return nil, &registrystore.NotFoundError{Resource: "document", ID: id}
	}
	return rec.document(), nil
}

func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	rec, err := lookup(txn, id)
	if err != nil {
		return false, err
	}
	return rec != nil && !rec.Deleted, nil
}

func (s *Store) Put(_ context.Context, doc *model.Document) (string, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()
	rev, err := write(txn, doc)
	if err != nil {
		return "", err
	}
	txn.Commit()
	return rev, nil
}

func (s *Store) BulkWrite(_ context.Context, docs []*model.Document) ([]registrystore.BulkResult, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()
	results := make([]registrystore.BulkResult, len(docs))
	for i, doc := range docs {
		rev, err := write(txn, doc)
		if err != nil {
			return nil, err
		}
		results[i] = registrystore.BulkResult{ID: doc.ID, Rev: rev}
	}
	txn.Commit()
	return results, nil
}

func (s *Store) Query(_ context.Context, viewName string, q view.Query) ([]view.Row, error) {
	v, err := view.Lookup(viewName)
	if err != nil {
		return nil, err
	}
	lo, hi, err := q.Range()
	if err != nil {
		return nil, err
	}

	txn := s.db.Txn(false)
	defer txn.Abort()

	var it memdb.ResultIterator
	if q.Descending {
		it, err = txn.ReverseLowerBound(tableRows, "id", viewName+sep+hi+sep+"\xff")
	} else {
		it, err = txn.LowerBound(tableRows, "id", viewName+sep+lo)
	}
	if err != nil {
		return nil, fmt.Errorf("memory store: scan %s: %w", viewName, err)
	}

	limit := q.ScanLimit()
	var rows []view.Row
	for obj := it.Next(); obj != nil; obj = it.Next() {
		r := obj.(*rowRecord)
		if r.View != viewName || r.SortKey < lo || r.SortKey > hi {
			break
		}
		row, err := r.indexRow().Decode()
		if err != nil {
			return nil, err
		}
		if q.IncludeDocs {
			rec, err := lookup(txn, r.DocID)
			if err != nil {
				return nil, err
			}
			if rec != nil && !rec.Deleted {
				row.Doc = rec.document()
			}
		}
		rows = append(rows, row)
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return view.Finish(v, q, rows)
}

func (s *Store) Close() error { return nil }

func lookup(txn *memdb.Txn, id string) (*docRecord, error) {
	obj, err := txn.First(tableDocs, "id", id)
	if err != nil {
		return nil, fmt.Errorf("memory store: get %s: %w", id, err)
	}
	if obj == nil {
		return nil, nil
	}
	return obj.(*docRecord), nil
}

func write(txn *memdb.Txn, doc *model.Document) (string, error) {
	cur, err := lookup(txn, doc.ID)
	if err != nil {
		return "", err
	}
	var curDoc *model.Document
	if cur != nil {
		curDoc = cur.document()
	}
	if err := registrystore.CheckWrite(curDoc, doc); err != nil {
		return "", err
	}

	rev := registrystore.NextRev(doc.Rev)
	rec := &docRecord{ID: doc.ID, Rev: rev, Type: doc.Type, Deleted: doc.Deleted}
	if !doc.Deleted {
		rec.Body = append([]byte(nil), doc.Body...)
	}
	if err := txn.Insert(tableDocs, rec); err != nil {
		return "", fmt.Errorf("memory store: put %s: %w", doc.ID, err)
	}
	if _, err := txn.DeleteAll(tableRows, "doc", doc.ID); err != nil {
		return "", fmt.Errorf("memory store: unindex %s: %w", doc.ID, err)
	}
	rows, err := view.IndexRows(rec.document())
	if err != nil {
		return "", err
	}
	for _, r := range rows {
		if err := txn.Insert(tableRows, newRowRecord(r)); err != nil {
			return "", fmt.Errorf("memory store: index %s: %w", doc.ID, err)
		}
	}
	return rev, nil
}

func (r *docRecord) document() *model.Document {
	d := &model.Document{ID: r.ID, Rev: r.Rev, Type: r.Type, Deleted: r.Deleted}
	if r.Body != nil {
		d.Body = append([]byte(nil), r.Body...)
	}
	return d
}

func newRowRecord(r view.IndexRow) *rowRecord {
	return &rowRecord{
		Composite: r.View + sep + r.SortKey + sep + r.DocID + sep + strconv.Itoa(r.Seq),
		View:      r.View,
		SortKey:   r.SortKey,
		DocID:     r.DocID,
		Seq:       r.Seq,
		Key:       r.Key,
		Value:     r.Value,
	}
}

func (r *rowRecord) indexRow() view.IndexRow {
	return view.IndexRow{View: r.View, SortKey: r.SortKey, DocID: r.DocID, Seq: r.Seq, Key: r.Key, Value: r.Value}
}
