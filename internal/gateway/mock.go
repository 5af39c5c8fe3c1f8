package gateway

import (
	"context"
	"sync"

	"portal-cart/internal/facet"
	"portal-cart/internal/model"
)

// Mock implements Gateway for testing.
// Each method can be configured via function fields; Calls records the
// order of invocations.
type Mock struct {
	RetrieveFunc         func(ctx context.Context, cartAtID string) (*model.CartObject, error)
	GetWriteableCopyFunc func(ctx context.Context, atID string) (model.Writeable, error)
	SaveFunc             func(ctx context.Context, cartAtID string, elements []string, fileViews []model.FileView) (*model.CartObject, error)
	CreateFunc           func(ctx context.Context, req model.CreateRequest) (*model.CartObject, error)
	UpdateFunc           func(ctx context.Context, cartAtID string, properties map[string]any, removals []string, expectUpdatedObject bool) (*model.CartObject, error)
	FetchObjectsFunc     func(ctx context.Context, ids []string, fields []string) ([]facet.Item, error)

	mu    sync.Mutex
	calls []string
}

func (m *Mock) record(name string) {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()
}

// Calls returns the method names invoked so far.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Retrieve calls the configured RetrieveFunc or returns not found.
func (m *Mock) Retrieve(ctx context.Context, cartAtID string) (*model.CartObject, error) {
	m.record("Retrieve")
	if m.RetrieveFunc != nil {
		return m.RetrieveFunc(ctx, cartAtID)
	}
	return nil, model.NewNotFoundError("cart " + cartAtID)
}

// GetWriteableCopy calls the configured GetWriteableCopyFunc or returns not found.
func (m *Mock) GetWriteableCopy(ctx context.Context, atID string) (model.Writeable, error) {
	m.record("GetWriteableCopy")
	if m.GetWriteableCopyFunc != nil {
		return m.GetWriteableCopyFunc(ctx, atID)
	}
	return nil, model.NewNotFoundError("cart " + atID)
}

// Save calls the configured SaveFunc or echoes the saved contents.
func (m *Mock) Save(ctx context.Context, cartAtID string, elements []string, fileViews []model.FileView) (*model.CartObject, error) {
	m.record("Save")
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, cartAtID, elements, fileViews)
	}
	if cartAtID == "" {
		return nil, nil
	}
	return &model.CartObject{AtID: cartAtID, Elements: elements, FileViews: fileViews}, nil
}

// Create calls the configured CreateFunc or returns a cart with a fixed @id.
func (m *Mock) Create(ctx context.Context, req model.CreateRequest) (*model.CartObject, error) {
	m.record("Create")
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, req)
	}
	return &model.CartObject{
		AtID:       "/carts/mock/",
		Name:       req.Name,
		Identifier: req.Identifier,
		Status:     req.Status,
		Elements:   []string{},
	}, nil
}

// Update calls the configured UpdateFunc or returns not found.
func (m *Mock) Update(ctx context.Context, cartAtID string, properties map[string]any, removals []string, expectUpdatedObject bool) (*model.CartObject, error) {
	m.record("Update")
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, cartAtID, properties, removals, expectUpdatedObject)
	}
	return nil, model.NewNotFoundError("cart " + cartAtID)
}

// FetchObjects calls the configured FetchObjectsFunc or returns bare items.
func (m *Mock) FetchObjects(ctx context.Context, ids []string, fields []string) ([]facet.Item, error) {
	m.record("FetchObjects")
	if m.FetchObjectsFunc != nil {
		return m.FetchObjectsFunc(ctx, ids, fields)
	}
	out := make([]facet.Item, len(ids))
	for i, id := range ids {
		out[i] = facet.Item{"@id": id}
	}
	return out, nil
}

// Verify Mock implements Gateway interface at compile time.
var _ Gateway = (*Mock)(nil)
