package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/chirino/cartography/internal/model"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// typed returns the struct a document of docType decodes into.
func typed(docType string) (any, error) {
	switch docType {
	case model.TypeChange:
		return &model.Change{}, nil
	case model.TypeAdjustment:
		return &model.Adjustment{}, nil
	case model.TypeAlias:
		return &model.Alias{}, nil
	case model.TypeSituation:
		return &model.Situation{}, nil
	case model.TypeRelationship:
		return &model.Relationship{}, nil
	case model.TypeCheckpoint:
		return &model.Checkpoint{}, nil
	}
	return nil, registrystore.Forbidden("Unknown document type '%s'.", docType)
}

func (p *Pipeline) structural(doc *model.Document, fields map[string]any) error {
	if t, _ := fields["type"].(string); t != doc.Type {
		return registrystore.Forbidden("Document type '%v' does not match '%s'.", fields["type"], doc.Type)
	}
	if id, _ := fields["id"].(string); id != doc.ID {
		return registrystore.Forbidden("Document id '%v' does not match '%s'.", fields["id"], doc.ID)
	}

	if v, ok := fields["immutable"]; ok && v != true {
		return registrystore.Forbidden("'immutable' may only be set to 'true'.")
	}
	if v, ok := fields["revisable"]; ok {
		if v != true {
			return registrystore.Forbidden("'revisable' may only be set to 'true'.")
		}
		if _, ok := fields["creation_date"]; !ok {
			return registrystore.Forbidden("Revisables must have a 'creation_date'.")
		}
	}

	immutable := fields["immutable"] == true
	revisable := fields["revisable"] == true
	switch doc.Type {
	case model.TypeSituation, model.TypeRelationship:
		if !immutable || !revisable {
			return registrystore.Forbidden("A %s must be immutable and revisable.", doc.Type)
		}
	case model.TypeChange, model.TypeAdjustment, model.TypeAlias:
		if !immutable {
			return registrystore.Forbidden("A %s must be immutable.", doc.Type)
		}
		if revisable {
			return registrystore.Forbidden("A %s cannot be revisable.", doc.Type)
		}
	case model.TypeCheckpoint:
		if immutable || revisable {
			return registrystore.Forbidden("A checkpoint cannot be immutable or revisable.")
		}
	}

	target, err := typed(doc.Type)
	if err != nil {
		return err
	}
	if err := doc.Decode(target); err != nil {
		return registrystore.Forbidden("Malformed %s: %v", doc.Type, err)
	}
	if err := p.validator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return registrystore.Forbidden("'%s' is required.", fieldPath(verrs[0]))
		}
		return fmt.Errorf("validate %s: %w", doc.ID, err)
	}
	if c, ok := target.(*model.Change); ok {
		if c.Changed.Doc.Type == "" {
			return registrystore.Forbidden("'changed.doc.type' is required.")
		}
		if _, ok := nested(fields, "changed", "field")["to"]; !ok {
			return registrystore.Forbidden("'changed.field' must have a 'to' field.")
		}
	}
	return nil
}

// fieldPath turns "Change.changed.doc.id" into "changed.doc.id".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ReplaceAll(ns, "Header.", "")
}

func nested(fields map[string]any, path ...string) map[string]any {
	cur := fields
	for _, p := range path {
		next, _ := cur[p].(map[string]any)
		if next == nil {
			return map[string]any{}
		}
		cur = next
	}
	return cur
}
