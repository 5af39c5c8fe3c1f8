package cart

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"portal-cart/internal/model"
)

func TestAddMultipleElements_DedupWithinBatch(t *testing.T) {
	s := NewState()

	next := Reduce(s, AddMultipleElements{IDs: []string{"/experiments/A/", "/experiments/B/", "/experiments/A/"}})

	want := []string{"/experiments/A/", "/experiments/B/"}
	if diff := cmp.Diff(want, next.Elements); diff != "" {
		t.Errorf("Elements mismatch (-want +got):\n%s", diff)
	}
}

func TestAddMultipleElements_PreservesOrder(t *testing.T) {
	s := &State{Elements: []string{"/c/", "/a/"}}

	next := Reduce(s, AddMultipleElements{IDs: []string{"/b/", "/a/", "/d/", "/b/"}})

	want := []string{"/c/", "/a/", "/b/", "/d/"}
	if diff := cmp.Diff(want, next.Elements); diff != "" {
		t.Errorf("Elements mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/c/", "/a/"}, s.Elements); diff != "" {
		t.Errorf("input state was mutated (-want +got):\n%s", diff)
	}
}

func TestAddMultipleElements_NothingNewIsNoOp(t *testing.T) {
	s := &State{Elements: []string{"/a/", "/b/"}}

	if next := Reduce(s, AddMultipleElements{IDs: []string{"/b/", "/a/"}}); next != s {
		t.Error("expected same state pointer when every id is present")
	}
}

func TestAddElement_Dedup(t *testing.T) {
	s := NewState()
	sequence := []Action{
		AddElement{ID: "/a/"},
		AddMultipleElements{IDs: []string{"/b/", "/a/"}},
		AddElement{ID: "/b/"},
		AddMultipleElements{IDs: []string{"/c/", "/c/", "/a/"}},
		AddElement{ID: "/a/"},
	}

	for _, a := range sequence {
		s = Reduce(s, a)
	}

	seen := map[string]bool{}
	for _, e := range s.Elements {
		if seen[e] {
			t.Fatalf("duplicate element %s in %v", e, s.Elements)
		}
		seen[e] = true
	}
	if len(s.Elements) != 3 {
		t.Errorf("len(Elements) = %d, want 3", len(s.Elements))
	}
}

func TestAddElement_ExistingReturnsSameState(t *testing.T) {
	s := &State{Elements: []string{"/a/"}}

	if next := Reduce(s, AddElement{ID: "/a/"}); next != s {
		t.Error("expected same state pointer for duplicate add")
	}
}

func TestRemoveElement_AbsentReturnsSameState(t *testing.T) {
	s := &State{
		Elements:  []string{"/a/"},
		FileViews: []model.FileView{{Title: "v1", Files: []string{"/a/f1/"}}},
	}

	if next := Reduce(s, RemoveElement{ID: "/missing/"}); next != s {
		t.Error("expected same state pointer when removing absent id")
	}
	if next := Reduce(s, RemoveMultipleElements{IDs: []string{"/x/", "/y/"}}); next != s {
		t.Error("expected same state pointer when removing absent ids")
	}
}

func TestRemoveElement_CascadesIntoFileViews(t *testing.T) {
	s := &State{
		Elements:  []string{"/x/", "/y/"},
		FileViews: []model.FileView{{Title: "v1", Files: []string{"/x/f1/"}}},
	}

	next := Reduce(s, RemoveElement{ID: "/x/"})

	if diff := cmp.Diff([]string{"/y/"}, next.Elements); diff != "" {
		t.Errorf("Elements mismatch (-want +got):\n%s", diff)
	}
	wantViews := []model.FileView{{Title: "v1", Files: []string{}}}
	if diff := cmp.Diff(wantViews, next.FileViews); diff != "" {
		t.Errorf("FileViews mismatch (-want +got):\n%s", diff)
	}
	if len(s.FileViews[0].Files) != 1 {
		t.Error("input file view was mutated")
	}
}

func TestRemoveElement_NoViewContainsRemovedID(t *testing.T) {
	s := &State{
		Elements: []string{"/a/", "/b/", "/c/"},
		FileViews: []model.FileView{
			{Title: "v1", Files: []string{"/a/", "/b/"}},
			{Title: "v2", Files: []string{"/c/f/", "/a/f2/"}},
			{Title: "v3", Files: []string{"/b/f/"}},
		},
	}

	next := Reduce(s, RemoveMultipleElements{IDs: []string{"/a/", "/c/"}})

	for _, v := range next.FileViews {
		for _, f := range v.Files {
			if f == "/a/" || f == "/c/" {
				t.Errorf("view %s still contains removed id %s", v.Title, f)
			}
		}
	}
	if diff := cmp.Diff([]string{"/b/"}, next.Elements); diff != "" {
		t.Errorf("Elements mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/b/f/"}, next.FileViews[2].Files); diff != "" {
		t.Errorf("untouched view changed (-want +got):\n%s", diff)
	}
}

func TestClearCart_EmptiesBoth(t *testing.T) {
	s := &State{
		Elements:  []string{"/a/"},
		FileViews: []model.FileView{{Title: "v1", Files: []string{"/a/f/"}}},
	}

	next := Reduce(s, ClearCart{})

	if len(next.Elements) != 0 || len(next.FileViews) != 0 {
		t.Errorf("ClearCart left elements=%v views=%v", next.Elements, next.FileViews)
	}
	if next.Elements == nil || next.FileViews == nil {
		t.Error("ClearCart should leave empty, non-nil collections")
	}
	if again := Reduce(next, ClearCart{}); again != next {
		t.Error("clearing an empty cart should return the same state")
	}
}

func TestReplaceCart_Overwrites(t *testing.T) {
	s := &State{Elements: []string{"/a/", "/b/"}}
	ids := []string{"/c/"}

	next := Reduce(s, ReplaceCart{IDs: ids})

	if diff := cmp.Diff([]string{"/c/"}, next.Elements); diff != "" {
		t.Errorf("Elements mismatch (-want +got):\n%s", diff)
	}
	ids[0] = "/mutated/"
	if next.Elements[0] != "/c/" {
		t.Error("ReplaceCart aliased the caller's slice")
	}
	if same := Reduce(next, ReplaceCart{IDs: []string{"/c/"}}); same != next {
		t.Error("replacing with identical ids should return the same state")
	}
}

func TestCacheSavedCart_OnlyTouchesSnapshot(t *testing.T) {
	s := &State{Elements: []string{"/a/"}}
	obj := &model.CartObject{AtID: "/carts/1/", Elements: []string{"/z/"}}

	next := Reduce(s, CacheSavedCart{Obj: obj})

	if next.SavedCartObj != obj {
		t.Error("SavedCartObj not cached")
	}
	if diff := cmp.Diff([]string{"/a/"}, next.Elements); diff != "" {
		t.Errorf("Elements changed (-want +got):\n%s", diff)
	}
	if Reduce(next, CacheSavedCart{Obj: obj}) != next {
		t.Error("caching the same snapshot should be a no-op")
	}
}

func TestLoadCart(t *testing.T) {
	obj := &model.CartObject{
		AtID:        "/carts/abc/",
		Name:        "Shared",
		Identifier:  "shared",
		Status:      model.StatusListed,
		Locked:      true,
		Elements:    []string{"/a/"},
		FileViews:   []model.FileView{{Title: "v", Files: []string{"/a/f/"}}},
		Description: "<b>bold</b><script>x()</script>",
	}

	next := Reduce(NewState(), LoadCart{Obj: obj})

	if next.Current != "/carts/abc/" || next.Name != "Shared" || !next.Locked {
		t.Errorf("LoadCart did not copy metadata: %+v", next)
	}
	if next.Description != "<b>bold</b>" {
		t.Errorf("Description = %q, want sanitized", next.Description)
	}
	obj.Elements[0] = "/mutated/"
	if next.Elements[0] != "/a/" {
		t.Error("LoadCart aliased the snapshot's elements")
	}
}

func TestSingleFieldActions(t *testing.T) {
	alert := &Alert{Code: "MAX_ELEMENTS", Message: "full"}
	tests := []struct {
		name   string
		action Action
		check  func(*State) bool
	}{
		{"in progress", SetInProgress{InProgress: true}, func(s *State) bool { return s.InProgress }},
		{"name", SetName{Name: "Cart"}, func(s *State) bool { return s.Name == "Cart" }},
		{"identifier", SetIdentifier{Identifier: "cart"}, func(s *State) bool { return s.Identifier == "cart" }},
		{"locked", SetLocked{Locked: true}, func(s *State) bool { return s.Locked }},
		{"status", SetStatus{Status: model.StatusListed}, func(s *State) bool { return s.Status == model.StatusListed }},
		{"current", SetCurrent{AtID: "/carts/1/"}, func(s *State) bool { return s.Current == "/carts/1/" }},
		{"alert", DisplayAlert{Alert: alert}, func(s *State) bool { return s.Alert == alert }},
		{"description", SetDescription{Text: "notes"}, func(s *State) bool { return s.Description == "notes" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState()
			next := Reduce(s, tt.action)
			if next == s {
				t.Fatal("expected a new state")
			}
			if !tt.check(next) {
				t.Errorf("field not set: %+v", next)
			}
			if again := Reduce(next, tt.action); again != next {
				t.Error("re-applying the same value should return the same state")
			}
		})
	}
}

func TestSetDescription_Sanitizes(t *testing.T) {
	next := Reduce(NewState(), SetDescription{Text: "<script>steal()</script>Notes <i>here</i>"})

	if next.Description != "Notes <i>here</i>" {
		t.Errorf("Description = %q", next.Description)
	}
}

func TestFileViews(t *testing.T) {
	s := NewState()

	s = Reduce(s, AddFileView{Title: "v1"})
	if len(s.FileViews) != 1 || s.FileViews[0].Title != "v1" {
		t.Fatalf("AddFileView: %+v", s.FileViews)
	}
	if Reduce(s, AddFileView{Title: "v1"}) != s {
		t.Error("adding an existing view should be a no-op")
	}

	s = Reduce(s, AddToFileView{Title: "v1", Files: []string{"/f1/", "/f2/", "/f1/"}})
	s = Reduce(s, AddToFileView{Title: "v1", Files: []string{"/f2/", "/f3/"}})
	if diff := cmp.Diff([]string{"/f1/", "/f2/", "/f3/"}, s.FileViews[0].Files); diff != "" {
		t.Errorf("Files mismatch (-want +got):\n%s", diff)
	}
	if Reduce(s, AddToFileView{Title: "missing", Files: []string{"/f9/"}}) != s {
		t.Error("adding to a missing view should be a no-op")
	}

	before := s
	s = Reduce(s, RemoveFromFileView{Title: "v1", Files: []string{"/f2/"}})
	if diff := cmp.Diff([]string{"/f1/", "/f3/"}, s.FileViews[0].Files); diff != "" {
		t.Errorf("Files mismatch (-want +got):\n%s", diff)
	}
	if len(before.FileViews[0].Files) != 3 {
		t.Error("RemoveFromFileView mutated the previous state")
	}
	if Reduce(s, RemoveFromFileView{Title: "missing", Files: []string{"/f1/"}}) != s {
		t.Error("removing from a missing view should be a no-op")
	}

	if Reduce(s, RemoveFileView{Title: "missing"}) != s {
		t.Error("removing a missing view should be a no-op")
	}
	s = Reduce(s, RemoveFileView{Title: "v1"})
	if len(s.FileViews) != 0 {
		t.Errorf("RemoveFileView left %+v", s.FileViews)
	}
}

func TestReduce_NilState(t *testing.T) {
	next := Reduce(nil, AddElement{ID: "/a/"})

	if diff := cmp.Diff([]string{"/a/"}, next.Elements); diff != "" {
		t.Errorf("Elements mismatch (-want +got):\n%s", diff)
	}
}

func TestConvertNameToIdentifier(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"My New Cart!", "my-new-cart-"},
		{"simple", "simple"},
		{"  Lots   of   space ", "-lots-of-space-"},
		{"RNA-seq (K562)", "rna-seq-k562-"},
		{"under_score", "under_score"},
	}

	for _, tt := range tests {
		if got := ConvertNameToIdentifier(tt.name); got != tt.want {
			t.Errorf("ConvertNameToIdentifier(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
