// Package reconcile computes the difference between a cart held locally and
// the copy last saved on the portal. The manager reports it as drift so the
// UI can show unsaved changes, and uses it to decide whether a reload would
// discard anything.
package reconcile

import (
	"portal-cart/internal/cart"
	"portal-cart/internal/model"
)

// ElementDiff describes the element changes needed to make the saved cart
// match the local one. Order follows the side the ids come from.
type ElementDiff struct {
	ToAdd    []string `json:"to_add"`    // local but not saved
	ToRemove []string `json:"to_remove"` // saved but not local
}

// IsEmpty returns true if no element changes are needed.
func (d *ElementDiff) IsEmpty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// DiffElements computes the set difference between saved and local elements.
func DiffElements(saved, local []string) *ElementDiff {
	savedSet := toSet(saved)
	localSet := toSet(local)

	diff := &ElementDiff{ToAdd: []string{}, ToRemove: []string{}}
	for _, id := range local {
		if !savedSet[id] {
			diff.ToAdd = append(diff.ToAdd, id)
			savedSet[id] = true // dedup repeated local ids
		}
	}
	for _, id := range saved {
		if !localSet[id] {
			diff.ToRemove = append(diff.ToRemove, id)
			localSet[id] = true
		}
	}
	return diff
}

// ViewDiff describes one file view that differs between the two copies.
type ViewDiff struct {
	Title   string       `json:"title"`
	Created bool         `json:"created,omitempty"` // view exists only locally
	Deleted bool         `json:"deleted,omitempty"` // view exists only on the server
	Files   *ElementDiff `json:"files,omitempty"`
}

// DiffFileViews matches views by title. Views present on one side only are
// reported as created or deleted; views on both sides with different file
// lists carry a file diff.
func DiffFileViews(saved, local []model.FileView) []ViewDiff {
	savedByTitle := make(map[string]model.FileView, len(saved))
	for _, v := range saved {
		savedByTitle[v.Title] = v
	}
	localTitles := make(map[string]bool, len(local))

	diffs := []ViewDiff{}
	for _, lv := range local {
		localTitles[lv.Title] = true
		sv, exists := savedByTitle[lv.Title]
		if !exists {
			diffs = append(diffs, ViewDiff{Title: lv.Title, Created: true, Files: DiffElements(nil, lv.Files)})
			continue
		}
		if files := DiffElements(sv.Files, lv.Files); !files.IsEmpty() {
			diffs = append(diffs, ViewDiff{Title: lv.Title, Files: files})
		}
	}
	for _, sv := range saved {
		if !localTitles[sv.Title] {
			diffs = append(diffs, ViewDiff{Title: sv.Title, Deleted: true})
			localTitles[sv.Title] = true
		}
	}
	return diffs
}

// Drift is the full local-vs-saved comparison of one cart.
type Drift struct {
	Cart      string       `json:"cart"`
	Saved     bool         `json:"saved"` // false when nothing was ever saved
	Elements  *ElementDiff `json:"elements"`
	FileViews []ViewDiff   `json:"file_views"`
	Changed   []string     `json:"changed"` // metadata fields whose values differ
}

// IsEmpty returns true when the local cart matches the saved copy.
func (d *Drift) IsEmpty() bool {
	return d.Elements.IsEmpty() && len(d.FileViews) == 0 && len(d.Changed) == 0
}

// Compute compares a local state with its cached server snapshot. A state
// with no snapshot is compared against an empty cart.
func Compute(s *cart.State) *Drift {
	if s == nil {
		s = cart.NewState()
	}
	saved := s.SavedCartObj
	d := &Drift{Cart: s.Current, Saved: saved != nil, Changed: []string{}}
	if saved == nil {
		saved = &model.CartObject{}
	}

	d.Elements = DiffElements(saved.Elements, s.Elements)
	d.FileViews = DiffFileViews(saved.FileViews, s.FileViews)

	if d.Saved {
		if saved.Name != s.Name {
			d.Changed = append(d.Changed, "name")
		}
		if saved.Identifier != s.Identifier {
			d.Changed = append(d.Changed, "identifier")
		}
		if saved.Description != s.Description {
			d.Changed = append(d.Changed, "description")
		}
		if StatusChanged(saved.Status, s.Status) {
			d.Changed = append(d.Changed, "status")
		}
		if saved.Locked != s.Locked {
			d.Changed = append(d.Changed, "locked")
		}
	}
	return d
}

// StatusChanged returns true if the local status is set and differs.
func StatusChanged(saved, local model.CartStatus) bool {
	return local != "" && saved != local
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
