package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/cartography/internal/config"
	"github.com/chirino/cartography/internal/model"
	registrymigrate "github.com/chirino/cartography/internal/registry/migrate"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/view"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.DocumentStore, error) {
			cfg := config.FromContext(ctx)
			opts := options.Client().ApplyURI(cfg.DBURL)
			if cfg.DBMaxOpenConns > 0 {
				opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
			}
			if cfg.DBMaxIdleConns > 0 {
				opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
			}
			client, err := mongo.Connect(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
			}
			transactional, err := supportsTransactions(ctx, client)
			if err != nil {
				_ = client.Disconnect(ctx)
				return nil, fmt.Errorf("failed to inspect MongoDB topology: %w", err)
			}
			if !transactional {
				log.Warn("MongoDB is not a replica set; document and index writes are not atomic")
			}
			return &MongoStore{client: client, db: client.Database(cfg.MongoDatabase), transactional: transactional}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &mongoMigrator{}})
}

const (
	collDocuments = "documents"
	collIndexRows = "index_rows"
)

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-schema" }
func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreKind() != "mongo" {
		return nil // skip if not using mongo
	}

	log.Info("Running migration", "name", m.Name())
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(cfg.MongoDatabase)

	collections := map[string][]mongo.IndexModel{
		collDocuments: {
			{Keys: bson.D{{Key: "type", Value: 1}, {Key: "deleted", Value: 1}}},
		},
		collIndexRows: {
			{
				Keys: bson.D{
					{Key: "view_name", Value: 1},
					{Key: "sort_key", Value: 1},
					{Key: "doc_id", Value: 1},
					{Key: "seq", Value: 1},
				},
				Options: options.Index().SetUnique(true).SetName("view_sort_key"),
			},
			{Keys: bson.D{{Key: "doc_id", Value: 1}}},
		},
	}

	for name, indexes := range collections {
		// Ensure collection exists
		db.CreateCollection(ctx, name)
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
		}
	}

	log.Info("MongoDB schema migration complete")
	return nil
}

type documentRecord struct {
	ID      string `bson:"_id"`
	Rev     string `bson:"rev"`
	Type    string `bson:"type"`
	Deleted bool   `bson:"deleted"`
	Body    string `bson:"body,omitempty"`
}

type indexRowRecord struct {
	ViewName string `bson:"view_name"`
	SortKey  string `bson:"sort_key"`
	DocID    string `bson:"doc_id"`
	Seq      int    `bson:"seq"`
	Key      string `bson:"key"`
	Value    string `bson:"value"`
}

// MongoStore implements DocumentStore using MongoDB. On a replica set or
// sharded cluster every write, including its index rows, and every bulk write
// runs in one transaction. A standalone server has no transactions: writes are
// applied operation by operation and bulk writes report per-document results.
type MongoStore struct {
	client        *mongo.Client
	db            *mongo.Database
	transactional bool
}

var _ registrystore.DocumentStore = (*MongoStore)(nil)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func (s *MongoStore) docs() *mongo.Collection { return s.db.Collection(collDocuments) }
func (s *MongoStore) rows() *mongo.Collection { return s.db.Collection(collIndexRows) }

func (s *MongoStore) find(ctx context.Context, id string) (*documentRecord, error) {
	var rec documentRecord
	err := s.docs().FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return &rec, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*model.Document, error) {
	rec, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Deleted {
		return nil, &registrystore.NotFoundError{Resource: "document", ID: id}
	}
	return rec.document(), nil
}

func (s *MongoStore) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.docs().CountDocuments(ctx, bson.M{"_id": id, "deleted": false})
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *MongoStore) Put(ctx context.Context, doc *model.Document) (string, error) {
	if !s.transactional {
		return s.write(ctx, doc)
	}
	var rev string
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		var err error
		rev, err = s.write(ctx, doc)
		return err
	})
	if err != nil {
		return "", err
	}
	return rev, nil
}

func (s *MongoStore) BulkWrite(ctx context.Context, docs []*model.Document) ([]registrystore.BulkResult, error) {
	results := make([]registrystore.BulkResult, len(docs))
	if !s.transactional {
		for i, doc := range docs {
			rev, err := s.write(ctx, doc)
			results[i] = registrystore.BulkResult{ID: doc.ID, Rev: rev, Err: err}
		}
		return results, nil
	}
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		for i, doc := range docs {
			rev, err := s.write(ctx, doc)
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

// inTransaction runs fn in a session transaction. Transient transaction
// errors retry fn from the start.
func (s *MongoStore) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// supportsTransactions reports whether the server is a replica set member or mongos.
func supportsTransactions(ctx context.Context, client *mongo.Client) (bool, error) {
	var hello bson.M
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		return false, err
	}
	if _, ok := hello["setName"]; ok {
		return true, nil
	}
	return hello["msg"] == "isdbgrid", nil
}

func (s *MongoStore) write(ctx context.Context, doc *model.Document) (string, error) {
	cur, err := s.find(ctx, doc.ID)
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
	body := ""
	if !doc.Deleted {
		body = string(doc.Body)
	}
	if doc.Rev == "" {
		_, err := s.docs().InsertOne(ctx, documentRecord{ID: doc.ID, Rev: rev, Type: doc.Type, Body: body})
		if mongo.IsDuplicateKeyError(err) {
			return "", &registrystore.ConflictError{Message: "document already exists", ID: doc.ID}
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", doc.ID, err)
		}
	} else {
		res, err := s.docs().UpdateOne(ctx,
			bson.M{"_id": doc.ID, "rev": doc.Rev, "deleted": false},
			bson.M{"$set": bson.M{"rev": rev, "deleted": doc.Deleted, "body": body}},
		)
		if err != nil {
			return "", fmt.Errorf("update %s: %w", doc.ID, err)
		}
		if res.MatchedCount == 0 {
			return "", &registrystore.ConflictError{Message: "document update conflict", ID: doc.ID}
		}
	}

	if _, err := s.rows().DeleteMany(ctx, bson.M{"doc_id": doc.ID}); err != nil {
		return "", fmt.Errorf("unindex %s: %w", doc.ID, err)
	}
	rows, err := view.IndexRows(doc)
	if err != nil {
		return "", err
	}
	if len(rows) > 0 {
		recs := make([]indexRowRecord, len(rows))
		for i, r := range rows {
			recs[i] = indexRowRecord{
				ViewName: r.View, SortKey: r.SortKey, DocID: r.DocID, Seq: r.Seq,
				Key: string(r.Key), Value: string(r.Value),
			}
		}
		if _, err := s.rows().InsertMany(ctx, recs); err != nil {
			return "", fmt.Errorf("index %s: %w", doc.ID, err)
		}
	}
	return rev, nil
}

func (s *MongoStore) Query(ctx context.Context, viewName string, q view.Query) ([]view.Row, error) {
	v, err := view.Lookup(viewName)
	if err != nil {
		return nil, err
	}
	lo, hi, err := q.Range()
	if err != nil {
		return nil, err
	}

	dir := 1
	if q.Descending {
		dir = -1
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "sort_key", Value: dir},
		{Key: "doc_id", Value: dir},
		{Key: "seq", Value: dir},
	})
	if limit := q.ScanLimit(); limit > 0 {
		opts.SetLimit(int64(limit))
	}
	filter := bson.M{
		"view_name": viewName,
		"sort_key":  bson.M{"$gte": lo, "$lte": hi},
	}
	cursor, err := s.rows().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", viewName, err)
	}
	var recs []indexRowRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("query %s: %w", viewName, err)
	}

	rows := make([]view.Row, 0, len(recs))
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		row, err := view.IndexRow{
			View: r.ViewName, SortKey: r.SortKey, DocID: r.DocID, Seq: r.Seq,
			Key: []byte(r.Key), Value: []byte(r.Value),
		}.Decode()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		ids = append(ids, r.DocID)
	}

	if q.IncludeDocs && len(ids) > 0 {
		cursor, err := s.docs().Find(ctx, bson.M{"_id": bson.M{"$in": ids}, "deleted": false})
		if err != nil {
			return nil, fmt.Errorf("query %s include docs: %w", viewName, err)
		}
		var docs []documentRecord
		if err := cursor.All(ctx, &docs); err != nil {
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

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

func (r *documentRecord) document() *model.Document {
	d := &model.Document{ID: r.ID, Rev: r.Rev, Type: r.Type, Deleted: r.Deleted}
	if !r.Deleted {
		d.Body = []byte(r.Body)
	}
	return d
}
