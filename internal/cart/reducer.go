package cart

import (
	"strings"

	"portal-cart/internal/model"
)

// Reduce applies a to s and returns the next state.
//
// The result is s itself when nothing changes, and a fresh *State sharing
// every untouched slice with s otherwise. Slices reachable from s are never
// written. A nil s is treated as NewState().
func Reduce(s *State, a Action) *State {
	if s == nil {
		s = NewState()
	}

	switch a := a.(type) {
	case AddElement:
		if s.Has(a.ID) {
			return s
		}
		next := *s
		next.Elements = appendCopy(s.Elements, a.ID)
		return &next

	case AddMultipleElements:
		merged, changed := mergeUnique(s.Elements, a.IDs)
		if !changed {
			return s
		}
		next := *s
		next.Elements = merged
		return &next

	case RemoveElement:
		return removeElements(s, []string{a.ID})

	case RemoveMultipleElements:
		return removeElements(s, a.IDs)

	case ClearCart:
		if len(s.Elements) == 0 && len(s.FileViews) == 0 {
			return s
		}
		next := *s
		next.Elements = []string{}
		next.FileViews = []model.FileView{}
		return &next

	case ReplaceCart:
		if equalStrings(s.Elements, a.IDs) {
			return s
		}
		next := *s
		next.Elements = appendCopy(nil, a.IDs...)
		return &next

	case CacheSavedCart:
		if s.SavedCartObj == a.Obj {
			return s
		}
		next := *s
		next.SavedCartObj = a.Obj
		return &next

	case LoadCart:
		return loadCart(s, a.Obj)

	case SetInProgress:
		if s.InProgress == a.InProgress {
			return s
		}
		next := *s
		next.InProgress = a.InProgress
		return &next

	case SetName:
		if s.Name == a.Name {
			return s
		}
		next := *s
		next.Name = a.Name
		return &next

	case SetIdentifier:
		if s.Identifier == a.Identifier {
			return s
		}
		next := *s
		next.Identifier = a.Identifier
		return &next

	case SetDescription:
		text := SanitizeDescription(a.Text)
		if s.Description == text {
			return s
		}
		next := *s
		next.Description = text
		return &next

	case SetLocked:
		if s.Locked == a.Locked {
			return s
		}
		next := *s
		next.Locked = a.Locked
		return &next

	case SetStatus:
		if s.Status == a.Status {
			return s
		}
		next := *s
		next.Status = a.Status
		return &next

	case SetCurrent:
		if s.Current == a.AtID {
			return s
		}
		next := *s
		next.Current = a.AtID
		return &next

	case DisplayAlert:
		if s.Alert == a.Alert {
			return s
		}
		next := *s
		next.Alert = a.Alert
		return &next

	case AddFileView:
		if _, ok := s.FileView(a.Title); ok {
			return s
		}
		next := *s
		next.FileViews = make([]model.FileView, len(s.FileViews), len(s.FileViews)+1)
		copy(next.FileViews, s.FileViews)
		next.FileViews = append(next.FileViews, model.FileView{Title: a.Title, Files: []string{}})
		return &next

	case RemoveFileView:
		idx := viewIndex(s.FileViews, a.Title)
		if idx < 0 {
			return s
		}
		next := *s
		next.FileViews = make([]model.FileView, 0, len(s.FileViews)-1)
		next.FileViews = append(next.FileViews, s.FileViews[:idx]...)
		next.FileViews = append(next.FileViews, s.FileViews[idx+1:]...)
		return &next

	case AddToFileView:
		idx := viewIndex(s.FileViews, a.Title)
		if idx < 0 {
			return s
		}
		files, changed := mergeUnique(s.FileViews[idx].Files, a.Files)
		if !changed {
			return s
		}
		return replaceView(s, idx, files)

	case RemoveFromFileView:
		idx := viewIndex(s.FileViews, a.Title)
		if idx < 0 {
			return s
		}
		drop := toSet(a.Files)
		files, changed := filterOut(s.FileViews[idx].Files, func(f string) bool { return drop[f] })
		if !changed {
			return s
		}
		return replaceView(s, idx, files)
	}

	return s
}

// removeElements drops ids from the cart and cascades into file views:
// a file leaves every view when the element it belongs to leaves the cart.
func removeElements(s *State, ids []string) *State {
	drop := toSet(ids)
	elements, changed := filterOut(s.Elements, func(e string) bool { return drop[e] })
	if !changed {
		return s
	}

	next := *s
	next.Elements = elements

	var views []model.FileView
	for i, v := range s.FileViews {
		files, viewChanged := filterOut(v.Files, func(f string) bool { return ownedByAny(f, drop) })
		if !viewChanged {
			continue
		}
		if views == nil {
			views = make([]model.FileView, len(s.FileViews))
			copy(views, s.FileViews)
		}
		views[i] = model.FileView{Title: v.Title, Files: files}
	}
	if views != nil {
		next.FileViews = views
	}
	return &next
}

// ownedByAny reports whether file is one of the removed elements or lives
// under one of their paths.
func ownedByAny(file string, removed map[string]bool) bool {
	if removed[file] {
		return true
	}
	for id := range removed {
		if strings.HasSuffix(id, "/") && strings.HasPrefix(file, id) {
			return true
		}
	}
	return false
}

func loadCart(s *State, obj *model.CartObject) *State {
	if obj == nil {
		return s
	}
	next := *s
	next.Elements = appendCopy(nil, obj.Elements...)
	next.FileViews = make([]model.FileView, len(obj.FileViews))
	for i, v := range obj.FileViews {
		next.FileViews[i] = model.FileView{Title: v.Title, Files: appendCopy(nil, v.Files...)}
	}
	next.Name = obj.Name
	next.Identifier = obj.Identifier
	next.Description = SanitizeDescription(obj.Description)
	next.Status = obj.Status
	next.Locked = obj.Locked
	next.Current = obj.AtID
	next.SavedCartObj = obj
	return &next
}

func replaceView(s *State, idx int, files []string) *State {
	next := *s
	next.FileViews = make([]model.FileView, len(s.FileViews))
	copy(next.FileViews, s.FileViews)
	next.FileViews[idx] = model.FileView{Title: s.FileViews[idx].Title, Files: files}
	return &next
}

func viewIndex(views []model.FileView, title string) int {
	for i, v := range views {
		if v.Title == title {
			return i
		}
	}
	return -1
}

// mergeUnique appends the members of add missing from base, in first-seen
// order. base is never written; changed is false when nothing was added.
func mergeUnique(base, add []string) ([]string, bool) {
	seen := toSet(base)
	var merged []string
	for _, id := range add {
		if seen[id] {
			continue
		}
		seen[id] = true
		if merged == nil {
			merged = make([]string, len(base), len(base)+len(add))
			copy(merged, base)
		}
		merged = append(merged, id)
	}
	if merged == nil {
		return base, false
	}
	return merged, true
}

// filterOut returns list without the entries matching drop.
func filterOut(list []string, drop func(string) bool) ([]string, bool) {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if !drop(v) {
			out = append(out, v)
		}
	}
	if len(out) == len(list) {
		return list, false
	}
	return out, true
}

func appendCopy(list []string, add ...string) []string {
	out := make([]string, 0, len(list)+len(add))
	out = append(out, list...)
	return append(out, add...)
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, v := range list {
		set[v] = true
	}
	return set
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
