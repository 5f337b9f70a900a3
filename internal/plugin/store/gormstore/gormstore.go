// Package gormstore implements the DocumentStore contract on top of gorm so the
// postgres and sqlite plugins share one implementation.
package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/chirino/cartography/internal/model"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/view"
	"gorm.io/gorm"
)

type documentRecord struct {
	ID      string `gorm:"primaryKey"`
	Rev     string `gorm:"not null"`
	Type    string `gorm:"not null"`
	Deleted bool   `gorm:"not null;default:false"`
	Body    *string
}

func (documentRecord) TableName() string { return "documents" }

type indexRowRecord struct {
	ViewName  string `gorm:"primaryKey"`
	SortKey   string `gorm:"primaryKey"`
	DocID     string `gorm:"primaryKey"`
	Seq       int    `gorm:"primaryKey"`
	KeyJSON   string `gorm:"column:key_json;not null"`
	ValueJSON string `gorm:"column:value_json;not null"`
}

func (indexRowRecord) TableName() string { return "index_rows" }

// Store is a transactional DocumentStore.
type Store struct {
	db          *gorm.DB
	isDuplicate func(error) bool
}

var _ registrystore.DocumentStore = (*Store)(nil)

// New wraps db. isDuplicate recognizes driver-specific unique violations in
// addition to gorm.ErrDuplicatedKey.
func New(db *gorm.DB, isDuplicate func(error) bool) *Store {
	return &Store{db: db, isDuplicate: isDuplicate}
}

// DB exposes the underlying connection, mainly for tests.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Get(ctx context.Context, id string) (*model.Document, error) {
	rec, err := find(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Deleted {
		return nil, &registrystore.NotFoundError{Resource: "document", ID: id}
	}
	return rec.document(), nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&documentRecord{}).
		Where("id = ? AND deleted = ?", id, false).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", id, err)
	}
	return count > 0, nil
}

func (s *Store) Put(ctx context.Context, doc *model.Document) (string, error) {
	var rev string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rev, err = s.write(tx, doc)
		return err
	})
	return rev, err
}

func (s *Store) BulkWrite(ctx context.Context, docs []*model.Document) ([]registrystore.BulkResult, error) {
	results := make([]registrystore.BulkResult, len(docs))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, doc := range docs {
			rev, err := s.write(tx, doc)
			if err != nil {
				return err
			}
			results[i] = registrystore.BulkResult{ID: doc.ID, Rev: rev}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) Query(ctx context.Context, viewName string, q view.Query) ([]view.Row, error) {
	v, err := view.Lookup(viewName)
	if err != nil {
		return nil, err
	}
	lo, hi, err := q.Range()
	if err != nil {
		return nil, err
	}

	order := "sort_key ASC, doc_id ASC, seq ASC"
	if q.Descending {
		order = "sort_key DESC, doc_id DESC, seq DESC"
	}
	db := s.db.WithContext(ctx)
	scan := db.Where("view_name = ? AND sort_key >= ? AND sort_key <= ?", viewName, lo, hi).Order(order)
	if limit := q.ScanLimit(); limit > 0 {
		scan = scan.Limit(limit)
	}
	var recs []indexRowRecord
	if err := scan.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query %s: %w", viewName, err)
	}

	rows := make([]view.Row, 0, len(recs))
	for _, r := range recs {
		row, err := view.IndexRow{
			View: r.ViewName, SortKey: r.SortKey, DocID: r.DocID, Seq: r.Seq,
			Key: []byte(r.KeyJSON), Value: []byte(r.ValueJSON),
		}.Decode()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	if q.IncludeDocs && len(rows) > 0 {
		ids := make([]string, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
		var docs []documentRecord
		if err := db.Where("id IN ? AND deleted = ?", ids, false).Find(&docs).Error; err != nil {
			return nil, fmt.Errorf("query %s include docs: %w", viewName, err)
		}
		byID := make(map[string]*model.Document, len(docs))
		for i := range docs {
			byID[docs[i].ID] = docs[i].document()
		}
		for i := range rows {
			rows[i].Doc = byID[rows[i].ID]
		}
	}
	return view.Finish(v, q, rows)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func find(db *gorm.DB, id string) (*documentRecord, error) {
	var recs []documentRecord
	if err := db.Where("id = ?", id).Limit(1).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (s *Store) write(tx *gorm.DB, doc *model.Document) (string, error) {
	cur, err := find(tx, doc.ID)
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
	var body *string
	if !doc.Deleted {
		b := string(doc.Body)
		body = &b
	}

	if doc.Rev == "" {
		rec := documentRecord{ID: doc.ID, Rev: rev, Type: doc.Type, Body: body}
		if err := tx.Create(&rec).Error; err != nil {
			if s.duplicate(err) {
				return "", &registrystore.ConflictError{Message: "document already exists", ID: doc.ID}
			}
			return "", fmt.Errorf("create %s: %w", doc.ID, err)
		}
	} else {
		res := tx.Model(&documentRecord{}).
			Where("id = ? AND rev = ? AND deleted = ?", doc.ID, doc.Rev, false).
			Updates(map[string]any{"rev": rev, "deleted": doc.Deleted, "body": body})
		if res.Error != nil {
			return "", fmt.Errorf("update %s: %w", doc.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return "", &registrystore.ConflictError{Message: "document update conflict", ID: doc.ID}
		}
	}

	if err := tx.Where("doc_id = ?", doc.ID).Delete(&indexRowRecord{}).Error; err != nil {
		return "", fmt.Errorf("unindex %s: %w", doc.ID, err)
	}
	rows, err := view.IndexRows(&model.Document{ID: doc.ID, Type: doc.Type, Deleted: doc.Deleted, Body: doc.Body})
	if err != nil {
		return "", err
	}
	if len(rows) > 0 {
		recs := make([]indexRowRecord, len(rows))
		for i, r := range rows {
			recs[i] = indexRowRecord{
				ViewName: r.View, SortKey: r.SortKey, DocID: r.DocID, Seq: r.Seq,
				KeyJSON: string(r.Key), ValueJSON: string(r.Value),
			}
		}
		if err := tx.Create(&recs).Error; err != nil {
			return "", fmt.Errorf("index %s: %w", doc.ID, err)
		}
	}
	return rev, nil
}

func (s *Store) duplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return s.isDuplicate != nil && s.isDuplicate(err)
}

func (r *documentRecord) document() *model.Document {
	d := &model.Document{ID: r.ID, Rev: r.Rev, Type: r.Type, Deleted: r.Deleted}
	if r.Body != nil && !r.Deleted {
		d.Body = []byte(*r.Body)
	}
	return d
}
