// Package gateway synchronizes carts with the portal's object store.
//
// Every write is a read-modify-write: fetch the edit-frame projection of the
// cart, overlay the changed properties, PUT the whole object back. The
// portal has no partial update, and the edit frame is the only projection it
// accepts on PUT.
package gateway

import (
	"context"

	"portal-cart/internal/facet"
	"portal-cart/internal/model"
)

// Gateway abstracts the cart persistence backend.
// The portal client and the in-memory store both implement it.
//
// All errors are *model.Error values; branch on Kind or errors.Is.
type Gateway interface {
	// Retrieve fetches the full cart object at cartAtID.
	Retrieve(ctx context.Context, cartAtID string) (*model.CartObject, error)

	// GetWriteableCopy fetches the edit-frame projection of the object.
	// Failures propagate; a PUT built from a partial copy would drop
	// properties.
	GetWriteableCopy(ctx context.Context, atID string) (model.Writeable, error)

	// Save replaces the cart's elements, and its file views when fileViews
	// is non-nil. An empty cartAtID is a no-op returning (nil, nil).
	Save(ctx context.Context, cartAtID string, elements []string, fileViews []model.FileView) (*model.CartObject, error)

	// Create makes a new cart. An identifier already in use yields a
	// KindConflict error carrying status 409.
	Create(ctx context.Context, req model.CreateRequest) (*model.CartObject, error)

	// Update overlays properties onto the cart and drops
	// propertiesForRemoval. With expectUpdatedObject false a successful
	// write whose body cannot be read returns (nil, nil).
	Update(ctx context.Context, cartAtID string, properties map[string]any, propertiesForRemoval []string, expectUpdatedObject bool) (*model.CartObject, error)

	// FetchObjects returns the objects behind ids with only fields
	// populated, in the order of ids. Unknown ids are skipped.
	FetchObjects(ctx context.Context, ids []string, fields []string) ([]facet.Item, error)
}

// overlay applies properties and removals to a copy of w.
func overlay(w model.Writeable, properties map[string]any, removals []string) (model.Writeable, error) {
	out := w.Clone()
	for k, v := range properties {
		if err := out.Set(k, v); err != nil {
			return nil, model.NewValidationError(k, err.Error())
		}
	}
	for _, k := range removals {
		out.Delete(k)
	}
	return out, nil
}

// saveProperties builds the overlay Save writes.
func saveProperties(elements []string, fileViews []model.FileView) map[string]any {
	if elements == nil {
		elements = []string{}
	}
	props := map[string]any{"elements": elements}
	if fileViews != nil {
		props["file_views"] = fileViews
	}
	return props
}
