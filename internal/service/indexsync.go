package service

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/cartography/internal/entity"
	"github.com/chirino/cartography/internal/model"
	registrynotify "github.com/chirino/cartography/internal/registry/notify"
	registrysearch "github.com/chirino/cartography/internal/registry/search"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/security"
)

// IndexSync keeps the search index in step with the document store by
// consuming lifecycle events. Index failures are logged and counted; they
// never reach the writer that produced the event.
type IndexSync struct {
	engine     *entity.Engine
	notifier   registrynotify.Notifier
	index      registrysearch.Index
	collection string
}

// NewIndexSync creates a sync that writes into collection.
func NewIndexSync(engine *entity.Engine, notifier registrynotify.Notifier, index registrysearch.Index, collection string) *IndexSync {
	return &IndexSync{engine: engine, notifier: notifier, index: index, collection: collection}
}

// CheckpointID is the id of the document recording sync progress. Ids under
// "_" are reserved, so no alias label can take it.
func (s *IndexSync) CheckpointID() string { return "_local/index-sync-" + s.collection }

// Start consumes events until ctx is cancelled or the notifier closes.
func (s *IndexSync) Start(ctx context.Context) {
	if s.index == nil {
		log.Info("Search index sync disabled (no search index)")
		return
	}
	events, err := s.notifier.Subscribe(ctx)
	if err != nil {
		log.Error("Index sync: subscribe failed", "err", err)
		return
	}
	log.Info("Search index sync started", "collection", s.collection)
	for ev := range events {
		indexed, failed := 1, 0
		if err := s.Handle(ctx, ev); err != nil {
			indexed, failed = 0, 1
			log.Error("Index sync: event failed", "kind", ev.Kind, "doc", ev.Doc.ID, "type", ev.Doc.Type, "err", err)
		}
		if err := s.advance(ctx, indexed, failed); err != nil {
			log.Warn("Index sync: checkpoint update failed", "err", err)
		}
	}
}

// Handle applies one event to the index.
func (s *IndexSync) Handle(ctx context.Context, ev registrynotify.Event) error {
	if ev.Kind == registrynotify.Deleted {
		switch ev.Doc.Type {
		case model.TypeSituation, model.TypeRelationship, model.TypeChange:
			return s.run("delete", s.index.Delete(ctx, s.collection, ev.Doc.Type, ev.Doc.ID))
		}
		return nil
	}

	switch ev.Doc.Type {
	case model.TypeSituation:
		if err := s.indexSituation(ctx, ev.Doc.ID); err != nil {
			return err
		}
		if ev.Kind == registrynotify.Changed {
			return s.indexLinked(ctx, ev.Doc.ID)
		}
		return nil
	case model.TypeRelationship:
		return s.indexRelationship(ctx, ev.Doc.ID)
	case model.TypeChange:
		return s.indexChange(ctx, ev.Doc.ID)
	case model.TypeAdjustment:
		return s.indexAdjusted(ctx, ev.Doc.ID)
	}
	return nil
}

func (s *IndexSync) indexSituation(ctx context.Context, id string) error {
	summary, err := s.engine.Situation(id).Summarize(ctx)
	if registrystore.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return s.run("summarize", err)
	}
	return s.run("index", s.index.Index(ctx, s.collection, model.TypeSituation, id, summary))
}

// indexLinked refreshes relationships whose summaries embed the situation.
func (s *IndexSync) indexLinked(ctx context.Context, id string) error {
	links, err := s.engine.Situation(id).Relationships(ctx)
	if err != nil {
		return s.run("summarize", err)
	}
	for _, l := range links {
		if err := s.indexRelationship(ctx, l.Relationship); err != nil {
			return err
		}
	}
	return nil
}

func (s *IndexSync) indexRelationship(ctx context.Context, id string) error {
	summary, err := s.engine.Relationship(id).Summarize(ctx)
	if registrystore.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return s.run("summarize", err)
	}
	return s.run("index", s.index.Index(ctx, s.collection, model.TypeRelationship, id, summary))
}

// indexChange stores the change record. Values that are not strings are not
// searchable and are left out.
func (s *IndexSync) indexChange(ctx context.Context, id string) error {
	doc, err := s.engine.Get(ctx, id)
	if registrystore.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return s.run("summarize", err)
	}
	summary, err := doc.Fields()
	if err != nil {
		return s.run("summarize", err)
	}
	if changed, ok := summary["changed"].(map[string]any); ok {
		if field, ok := changed["field"].(map[string]any); ok {
			if _, isString := field["to"].(string); !isString {
				delete(field, "to")
			}
		}
	}
	return s.run("index", s.index.Index(ctx, s.collection, model.TypeChange, id, summary))
}

// indexAdjusted refreshes the relationship whose strength changed.
func (s *IndexSync) indexAdjusted(ctx context.Context, id string) error {
	doc, err := s.engine.Get(ctx, id)
	if registrystore.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return s.run("summarize", err)
	}
	var a model.Adjustment
	if err := doc.Decode(&a); err != nil {
		return s.run("summarize", err)
	}
	if a.Adjusted.Doc.Type != model.TypeRelationship {
		return nil
	}
	return s.indexRelationship(ctx, a.Adjusted.Doc.ID)
}

func (s *IndexSync) run(op string, err error) error {
	if err != nil {
		security.CountIndexSyncError(op)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *IndexSync) advance(ctx context.Context, indexed, failed int) error {
	_, err := s.engine.Update(ctx, s.CheckpointID(), func(cur *model.Document) (*model.Document, error) {
		cp := model.Checkpoint{Header: model.Header{
			ID:           s.CheckpointID(),
			Type:         model.TypeCheckpoint,
			CreationDate: time.Now().UnixMilli(),
		}}
		if cur != nil {
			if err := cur.Decode(&cp); err != nil {
				return nil, err
			}
		}
		cp.Position++
		cp.Indexed += int64(indexed)
		cp.Failed += int64(failed)
		cp.UpdatedAt = time.Now().UnixMilli()
		return model.NewDocument(cp)
	})
	return err
}

// Progress returns the stored checkpoint, or an empty one before the first event.
func (s *IndexSync) Progress(ctx context.Context) (*model.Checkpoint, error) {
	doc, err := s.engine.Get(ctx, s.CheckpointID())
	if registrystore.IsNotFound(err) {
		return &model.Checkpoint{Header: model.Header{ID: s.CheckpointID(), Type: model.TypeCheckpoint}}, nil
	}
	if err != nil {
		return nil, err
	}
	var cp model.Checkpoint
	if err := doc.Decode(&cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
