package cart

import "portal-cart/internal/model"

// Action is a named mutation request. The set is closed: only the types in
// this file implement it.
type Action interface {
	action()
}

type (
	// AddElement appends ID unless already present.
	AddElement struct{ ID string }

	// AddMultipleElements merges IDs into the cart, deduplicated.
	AddMultipleElements struct{ IDs []string }

	// RemoveElement drops ID and every file view entry it owns.
	RemoveElement struct{ ID string }

	// RemoveMultipleElements drops IDs with the same file view cascade.
	RemoveMultipleElements struct{ IDs []string }

	// ClearCart empties elements and file views together.
	ClearCart struct{}

	// ReplaceCart overwrites the element list with a canonical server copy.
	ReplaceCart struct{ IDs []string }

	// CacheSavedCart stores the last known server snapshot.
	CacheSavedCart struct{ Obj *model.CartObject }

	// LoadCart replaces the whole cart from one server snapshot.
	LoadCart struct{ Obj *model.CartObject }

	SetInProgress  struct{ InProgress bool }
	SetName        struct{ Name string }
	SetIdentifier  struct{ Identifier string }
	SetDescription struct{ Text string }
	SetLocked      struct{ Locked bool }
	SetStatus      struct{ Status model.CartStatus }
	SetCurrent     struct{ AtID string }

	// DisplayAlert shows Alert; a nil Alert dismisses the current one.
	DisplayAlert struct{ Alert *Alert }

	AddFileView    struct{ Title string }
	RemoveFileView struct{ Title string }

	// AddToFileView appends Files missing from the view titled Title.
	AddToFileView struct {
		Title string
		Files []string
	}

	// RemoveFromFileView drops Files from the view titled Title.
	RemoveFromFileView struct {
		Title string
		Files []string
	}
)

func (AddElement) action()             {}
func (AddMultipleElements) action()    {}
func (RemoveElement) action()          {}
func (RemoveMultipleElements) action() {}
func (ClearCart) action()              {}
func (ReplaceCart) action()            {}
func (CacheSavedCart) action()         {}
func (LoadCart) action()               {}
func (SetInProgress) action()          {}
func (SetName) action()                {}
func (SetIdentifier) action()          {}
func (SetDescription) action()         {}
func (SetLocked) action()              {}
func (SetStatus) action()              {}
func (SetCurrent) action()             {}
func (DisplayAlert) action()           {}
func (AddFileView) action()            {}
func (RemoveFileView) action()         {}
func (AddToFileView) action()          {}
func (RemoveFromFileView) action()     {}
