// Package cart holds the in-memory cart state, the closed action vocabulary
// that mutates it and the pure reducer applying one to the other.
//
// States are immutable snapshots handled by pointer. Reduce returns the same
// pointer when an action changes nothing, so observers can skip work with a
// pointer comparison.
package cart

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"portal-cart/internal/model"
)

// Element limits. Adding past the limit is refused with a blocking alert
// rather than silently truncated.
const (
	MaxAnonymousElements = 4000
	MaxLoggedInElements  = 8000
)

// State is one snapshot of the active cart.
// Never modify a State or any slice reachable from it; dispatch an Action.
type State struct {
	Elements     []string          `json:"elements"`
	FileViews    []model.FileView  `json:"file_views"`
	Name         string            `json:"name"`
	Identifier   string            `json:"identifier"`
	Description  string            `json:"description,omitempty"`
	Locked       bool              `json:"locked"`
	Status       model.CartStatus  `json:"status,omitempty"`
	Current      string            `json:"current,omitempty"` // @id of the mirrored server cart
	SavedCartObj *model.CartObject `json:"saved_cart_obj,omitempty"`
	InProgress   bool              `json:"in_progress"`
	Alert        *Alert            `json:"alert,omitempty"`
}

// Alert is a blocking message the rendering layer must show.
type Alert struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewState returns an empty cart with non-nil collections.
func NewState() *State {
	return &State{
		Elements:  []string{},
		FileViews: []model.FileView{},
	}
}

// Has reports whether id is in the cart.
func (s *State) Has(id string) bool {
	for _, e := range s.Elements {
		if e == id {
			return true
		}
	}
	return false
}

// FileView returns the view titled title, if any.
func (s *State) FileView(title string) (model.FileView, bool) {
	for _, v := range s.FileViews {
		if v.Title == title {
			return v, true
		}
	}
	return model.FileView{}, false
}

var nonWord = regexp.MustCompile(`\W+`)

// ConvertNameToIdentifier derives the URI-safe identifier of a cart name:
// lowercase, with every run of non-word characters replaced by one hyphen.
// "My New Cart!" becomes "my-new-cart-".
func ConvertNameToIdentifier(name string) string {
	return nonWord.ReplaceAllString(strings.ToLower(name), "-")
}

var descriptionPolicy = bluemonday.UGCPolicy()

// SanitizeDescription strips unsafe markup from free text before it is
// stored or displayed.
func SanitizeDescription(text string) string {
	return strings.TrimSpace(descriptionPolicy.Sanitize(text))
}
