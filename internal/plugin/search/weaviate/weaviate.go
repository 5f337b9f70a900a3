package weaviate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/cartography/internal/config"
	"github.com/chirino/cartography/internal/model"
	registrymigrate "github.com/chirino/cartography/internal/registry/migrate"
	registrysearch "github.com/chirino/cartography/internal/registry/search"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// IndexedTypes are the document types the index sync writes.
var IndexedTypes = []string{model.TypeSituation, model.TypeRelationship, model.TypeChange}

var objectNamespace = uuid.MustParse("6ba7b812-9dad-11d1-80b4-00c04fd430c8")

func init() {
	registrysearch.Register(registrysearch.Plugin{
		Name: "weaviate",
		Loader: func(ctx context.Context) (registrysearch.Index, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.WeaviateURL == "" {
				return nil, fmt.Errorf("weaviate: CARTOGRAPHY_WEAVIATE_URL is required")
			}
			return New(cfg.WeaviateURL)
		},
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &weaviateMigrator{}})
}

type weaviateMigrator struct{}

func (m *weaviateMigrator) Name() string { return "weaviate-schema" }
func (m *weaviateMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if strings.ToLower(cfg.SearchType) != "weaviate" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	idx, err := New(cfg.WeaviateURL)
	if err != nil {
		return err
	}
	for _, t := range IndexedTypes {
		if err := idx.ensureClass(ctx, cfg.SearchCollection, t); err != nil {
			return err
		}
	}
	log.Info("Weaviate schema migration complete")
	return nil
}

// Index stores one Weaviate class per (collection, type) and searches it
// with BM25 over the concatenated string content of each summary.
type Index struct {
	client *weaviate.Client
	known  sync.Map
}

var _ registrysearch.Index = (*Index)(nil)

// New connects to the Weaviate instance at url.
func New(url string) (*Index, error) {
	scheme := "http"
	host := url
	if rest, ok := strings.CutPrefix(url, "https://"); ok {
		scheme, host = "https", rest
	} else if rest, ok := strings.CutPrefix(url, "http://"); ok {
		host = rest
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: strings.TrimSuffix(host, "/"), Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("weaviate: create client: %w", err)
	}
	return &Index{client: client}, nil
}

// ClassName is the Weaviate class holding docType documents of collection.
func ClassName(collection, docType string) string {
	return capitalize(collection) + capitalize(docType)
}

func capitalize(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if r == '_' || r == '-' || r == ' ' {
			upper = true
			continue
		}
		if upper {
			b.WriteString(strings.ToUpper(string(r)))
			upper = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func objectID(id string) string {
	return uuid.NewSHA1(objectNamespace, []byte(id)).String()
}

func (x *Index) ensureClass(ctx context.Context, collection, docType string) error {
	class := ClassName(collection, docType)
	if _, ok := x.known.Load(class); ok {
		return nil
	}
	if _, err := x.client.Schema().ClassGetter().WithClassName(class).Do(ctx); err == nil {
		x.known.Store(class, true)
		return nil
	}
	err := x.client.Schema().ClassCreator().WithClass(&models.Class{
		Class:       class,
		Description: fmt.Sprintf("%s documents of %s", docType, collection),
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "docId", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "content", DataType: []string{"text"}, Tokenization: "word"},
			{Name: "summary", DataType: []string{"text"}, Tokenization: "field"},
		},
	}).Do(ctx)
	if err != nil {
		// Another writer may have created it first.
		if _, getErr := x.client.Schema().ClassGetter().WithClassName(class).Do(ctx); getErr != nil {
			return fmt.Errorf("weaviate: create class %s: %w", class, err)
		}
	}
	x.known.Store(class, true)
	return nil
}

func (x *Index) exists(ctx context.Context, class, oid string) (bool, error) {
	ok, err := x.client.Data().Checker().WithClassName(class).WithID(oid).Do(ctx)
	if err != nil {
		return false, fmt.Errorf("weaviate: check %s/%s: %w", class, oid, err)
	}
	return ok, nil
}

func (x *Index) Index(ctx context.Context, collection, docType, id string, summary map[string]any) error {
	if err := x.ensureClass(ctx, collection, docType); err != nil {
		return err
	}
	encoded, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("weaviate: encode summary of %s: %w", id, err)
	}
	class := ClassName(collection, docType)
	oid := objectID(id)
	props := map[string]interface{}{
		"docId":   id,
		"content": registrysearch.Content(summary),
		"summary": string(encoded),
	}

	found, err := x.exists(ctx, class, oid)
	if err != nil {
		return err
	}
	if found {
		if err := x.client.Data().Updater().WithClassName(class).WithID(oid).WithProperties(props).Do(ctx); err != nil {
			return fmt.Errorf("weaviate: update %s: %w", id, err)
		}
		return nil
	}
	if _, err := x.client.Data().Creator().WithClassName(class).WithID(oid).WithProperties(props).Do(ctx); err != nil {
		return fmt.Errorf("weaviate: create %s: %w", id, err)
	}
	return nil
}

func (x *Index) Delete(ctx context.Context, collection, docType, id string) error {
	class := ClassName(collection, docType)
	oid := objectID(id)
	found, err := x.exists(ctx, class, oid)
	if err != nil || !found {
		return err
	}
	if err := x.client.Data().Deleter().WithClassName(class).WithID(oid).Do(ctx); err != nil {
		return fmt.Errorf("weaviate: delete %s: %w", id, err)
	}
	return nil
}

func (x *Index) Search(ctx context.Context, collection, docType, query string, limit int) ([]registrysearch.Hit, error) {
	if err := x.ensureClass(ctx, collection, docType); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	class := ClassName(collection, docType)
	result, err := x.client.GraphQL().Get().
		WithClassName(class).
		WithFields(
			graphql.Field{Name: "docId"},
			graphql.Field{Name: "summary"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "score"}}},
		).
		WithBM25(x.client.GraphQL().Bm25ArgBuilder().WithQuery(query)).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate: search %s: %w", class, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate: search %s: %s", class, result.Errors[0].Message)
	}

	hits := []registrysearch.Hit{}
	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return hits, nil
	}
	objects, _ := get[class].([]interface{})
	for _, o := range objects {
		obj, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		hit := registrysearch.Hit{Type: docType}
		hit.ID, _ = obj["docId"].(string)
		if raw, ok := obj["summary"].(string); ok {
			_ = json.Unmarshal([]byte(raw), &hit.Summary)
		}
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			hit.Score = parseScore(additional["score"])
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func parseScore(v interface{}) float64 {
	switch s := v.(type) {
	case float64:
		return s
	case string:
		var f float64
		if _, err := fmt.Sscanf(s, "%g", &f); err == nil {
			return f
		}
	}
	return 0
}

func (x *Index) Close() error { return nil }
