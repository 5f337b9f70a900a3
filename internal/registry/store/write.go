package store

import "github.com/chirino/cartography/internal/model"

// CheckWrite applies the Put rules to doc given the stored state cur, which is
// nil when the id was never written and a tombstone when it was deleted.
func CheckWrite(cur, doc *model.Document) error {
	if doc.ID == "" {
		return &ValidationError{Field: "id", Message: "is required"}
	}
	if doc.Rev == "" {
		switch {
		case cur != nil && cur.Deleted:
			return &ConflictError{Message: "document was deleted", ID: doc.ID}
		case cur != nil:
			return &ConflictError{Message: "document already exists", ID: doc.ID}
		case doc.Deleted:
			return &NotFoundError{Resource: "document", ID: doc.ID}
		}
		return nil
	}
	if cur == nil || cur.Deleted {
		return &NotFoundError{Resource: "document", ID: doc.ID}
	}
	if cur.Rev != doc.Rev {
		return &ConflictError{Message: "document update conflict", ID: doc.ID}
	}
	return nil
}
