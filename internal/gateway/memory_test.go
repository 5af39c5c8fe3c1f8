package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"portal-cart/internal/facet"
	"portal-cart/internal/model"
)

func TestMemory_CreateAndRetrieve(t *testing.T) {
	m := NewMemory("/users/u1/")
	ctx := context.Background()

	created, err := m.Create(ctx, model.CreateRequest{Name: "Mine", Identifier: "mine"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.Status != model.StatusCurrent || created.SubmittedBy != "/users/u1/" {
		t.Errorf("Create() = %+v", created)
	}

	got, err := m.Retrieve(ctx, created.AtID)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if diff := cmp.Diff(created, got); diff != "" {
		t.Errorf("Retrieve() (-want +got):\n%s", diff)
	}
}

func TestMemory_CreateConflict(t *testing.T) {
	m := NewMemory("")
	ctx := context.Background()

	if _, err := m.Create(ctx, model.CreateRequest{Name: "A", Identifier: "same"}); err != nil {
		t.Fatal(err)
	}
	_, err := m.Create(ctx, model.CreateRequest{Name: "B", Identifier: "same"})

	if !errors.Is(err, model.ErrConflict) || model.StatusCode(err) != 409 {
		t.Errorf("error = %v (status %d), want 409 conflict", err, model.StatusCode(err))
	}
}

func TestMemory_DeletedIdentifierIsReusable(t *testing.T) {
	m := NewMemory("")
	ctx := context.Background()

	first, _ := m.Create(ctx, model.CreateRequest{Name: "A", Identifier: "same"})
	obj, err := m.Update(ctx, first.AtID, map[string]any{"status": model.StatusDeleted}, nil, false)
	if err != nil || obj == nil {
		t.Fatalf("Update() = (%v, %v)", obj, err)
	}

	if _, err := m.Create(ctx, model.CreateRequest{Name: "B", Identifier: "same"}); err != nil {
		t.Errorf("Create() after soft delete error = %v", err)
	}
}

func TestMemory_SaveAndUpdate(t *testing.T) {
	m := NewMemory("")
	ctx := context.Background()
	c, _ := m.Create(ctx, model.CreateRequest{Name: "Mine"})

	views := []model.FileView{{Title: "v", Files: []string{"/f/1/"}}}
	saved, err := m.Save(ctx, c.AtID, []string{"/e/1/"}, views)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if diff := cmp.Diff(views, saved.FileViews); diff != "" {
		t.Errorf("FileViews (-want +got):\n%s", diff)
	}
	if saved.AtID != c.AtID || saved.DateCreated != c.DateCreated {
		t.Error("server-owned properties changed on save")
	}

	if _, err := m.Update(ctx, c.AtID, map[string]any{"status": "bogus"}, nil, true); !errors.Is(err, model.ErrValidation) {
		t.Errorf("Update(bogus status) error = %v, want validation", err)
	}

	if _, err := m.Save(ctx, "/carts/none/", nil, nil); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Save(unknown) error = %v, want not found", err)
	}
}

func TestMemory_RetrieveReturnsCopy(t *testing.T) {
	m := NewMemory("")
	m.PutCart(model.CartObject{AtID: "/carts/c/", Elements: []string{"/e/1/"}})

	a, _ := m.Retrieve(context.Background(), "/carts/c/")
	a.Elements[0] = "/changed/"
	b, _ := m.Retrieve(context.Background(), "/carts/c/")

	if b.Elements[0] != "/e/1/" {
		t.Error("Retrieve() exposed stored slices")
	}
}

func TestMemory_FetchObjects(t *testing.T) {
	m := NewMemory("")
	m.PutObjects(
		facet.Item{"@id": "/e/1/", "assay_term_name": "ChIP-seq", "lab": map[string]any{"title": "X"}},
		facet.Item{"@id": "/e/2/", "assay_term_name": "RNA-seq"},
	)

	got, err := m.FetchObjects(context.Background(), []string{"/e/2/", "/e/9/", "/e/1/"}, []string{"lab.title"})
	if err != nil {
		t.Fatal(err)
	}
	want := []facet.Item{
		{"@id": "/e/2/"},
		{"@id": "/e/1/", "lab": map[string]any{"title": "X"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FetchObjects() (-want +got):\n%s", diff)
	}
}
