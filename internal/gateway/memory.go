package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"portal-cart/internal/facet"
	"portal-cart/internal/model"
)

// serverOwned lists the properties the edit frame omits.
var serverOwned = []string{"@id", "@type", "uuid", "submitted_by", "date_created"}

// Memory is an in-process Gateway for development and tests. It enforces
// the same identifier uniqueness and soft-delete rules as the portal.
type Memory struct {
	mu      sync.Mutex
	carts   map[string]model.CartObject
	objects map[string]facet.Item
	owner   string
	now     func() time.Time
}

// NewMemory returns an empty store whose carts are submitted by owner.
func NewMemory(owner string) *Memory {
	return &Memory{
		carts:   make(map[string]model.CartObject),
		objects: make(map[string]facet.Item),
		owner:   owner,
		now:     time.Now,
	}
}

// PutCart stores obj as is, replacing any cart with the same @id.
func (m *Memory) PutCart(obj model.CartObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[obj.AtID] = obj
}

// PutObjects makes items available to FetchObjects.
func (m *Memory) PutObjects(items ...facet.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		m.objects[item.ID()] = item
	}
}

// Retrieve returns a copy of the stored cart.
func (m *Memory) Retrieve(ctx context.Context, cartAtID string) (*model.CartObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.carts[cartAtID]
	if !ok {
		return nil, model.NewNotFoundError("cart " + cartAtID)
	}
	return cloneCart(obj), nil
}

// GetWriteableCopy returns the stored cart without server-owned properties.
func (m *Memory) GetWriteableCopy(ctx context.Context, atID string) (model.Writeable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeable(atID)
}

func (m *Memory) writeable(atID string) (model.Writeable, error) {
	obj, ok := m.carts[atID]
	if !ok {
		return nil, model.NewNotFoundError("cart " + atID)
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, model.NewNetworkError("writeable", 0, err)
	}
	var w model.Writeable
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, model.NewNetworkError("writeable", 0, err)
	}
	for _, k := range serverOwned {
		w.Delete(k)
	}
	return w, nil
}

// Save replaces the cart's elements (and file views when non-nil).
func (m *Memory) Save(ctx context.Context, cartAtID string, elements []string, fileViews []model.FileView) (*model.CartObject, error) {
	if cartAtID == "" {
		return nil, nil
	}
	return m.Update(ctx, cartAtID, saveProperties(elements, fileViews), nil, true)
}

// Update overlays properties onto the stored cart.
func (m *Memory) Update(ctx context.Context, cartAtID string, properties map[string]any, propertiesForRemoval []string, expectUpdatedObject bool) (*model.CartObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewNetworkError("update", 0, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.writeable(cartAtID)
	if err != nil {
		return nil, err
	}
	next, err := overlay(current, properties, propertiesForRemoval)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return nil, model.NewValidationError("cart", err.Error())
	}
	var updated model.CartObject
	if err := json.Unmarshal(raw, &updated); err != nil {
		return nil, model.NewValidationError("cart", err.Error())
	}
	if updated.Status != "" && !updated.Status.Valid() {
		return nil, model.NewValidationError("status", fmt.Sprintf("unknown status %q", updated.Status))
	}

	old := m.carts[cartAtID]
	if updated.Identifier != "" && updated.Identifier != old.Identifier && m.identifierTaken(updated.Identifier) {
		return nil, model.NewConflictError("cart identifier " + updated.Identifier)
	}
	updated.AtID = old.AtID
	updated.Types = old.Types
	updated.UUID = old.UUID
	updated.SubmittedBy = old.SubmittedBy
	updated.DateCreated = old.DateCreated
	m.carts[cartAtID] = updated
	return cloneCart(updated), nil
}

// Create stores a new cart, rejecting identifiers in use by live carts.
func (m *Memory) Create(ctx context.Context, req model.CreateRequest) (*model.CartObject, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, model.NewValidationError("name", "required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.Identifier != "" && m.identifierTaken(req.Identifier) {
		return nil, model.NewConflictError("cart identifier " + req.Identifier)
	}
	status := req.Status
	if status == "" {
		status = model.StatusCurrent
	}
	id := uuid.New().String()
	obj := model.CartObject{
		AtID:        "/carts/" + id + "/",
		Types:       []string{"Cart", "Item"},
		UUID:        id,
		Name:        req.Name,
		Identifier:  req.Identifier,
		Status:      status,
		Elements:    []string{},
		FileViews:   []model.FileView{},
		SubmittedBy: m.owner,
		DateCreated: m.now().UTC().Format(time.RFC3339),
	}
	m.carts[obj.AtID] = obj
	return cloneCart(obj), nil
}

func (m *Memory) identifierTaken(identifier string) bool {
	for _, c := range m.carts {
		if c.Identifier == identifier && c.Status != model.StatusDeleted {
			return true
		}
	}
	return false
}

// FetchObjects projects the stored objects onto the top-level properties
// that fields start with.
func (m *Memory) FetchObjects(ctx context.Context, ids []string, fields []string) ([]facet.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]facet.Item, 0, len(ids))
	for _, id := range ids {
		obj, ok := m.objects[id]
		if !ok {
			continue
		}
		item := facet.Item{"@id": id}
		for _, f := range fields {
			top, _, _ := strings.Cut(f, ".")
			if v, ok := obj[top]; ok {
				item[top] = v
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func cloneCart(obj model.CartObject) *model.CartObject {
	out := obj
	out.Types = append([]string(nil), obj.Types...)
	out.Elements = append([]string{}, obj.Elements...)
	out.FileViews = make([]model.FileView, len(obj.FileViews))
	for i, v := range obj.FileViews {
		out.FileViews[i] = model.FileView{Title: v.Title, Files: append([]string{}, v.Files...)}
	}
	return &out
}

// Verify Memory implements Gateway at compile time.
var _ Gateway = (*Memory)(nil)
