// Package model defines the cart wire types shared by the store, the
// persistence gateway and the HTTP surface.
package model

import (
	"encoding/json"
	"fmt"
)

// CartStatus is the lifecycle state of a server-side cart object.
type CartStatus string

const (
	StatusCurrent  CartStatus = "current"
	StatusListed   CartStatus = "listed"
	StatusUnlisted CartStatus = "unlisted"
	StatusDisabled CartStatus = "disabled" // reserved auto-save cart
	StatusDeleted  CartStatus = "deleted"  // soft delete, never removed server-side
)

// Valid reports whether s is one of the known statuses.
func (s CartStatus) Valid() bool {
	switch s {
	case StatusCurrent, StatusListed, StatusUnlisted, StatusDisabled, StatusDeleted:
		return true
	}
	return false
}

// FileView is a named, user-curated subset of files from the cart's datasets.
type FileView struct {
	Title string   `json:"title"`
	Files []string `json:"files"`
}

// CartObject is the persisted cart as the portal returns it.
// Server-owned fields (@id, @type, dates) are read-only.
type CartObject struct {
	AtID        string     `json:"@id,omitempty"`
	Types       []string   `json:"@type,omitempty"`
	UUID        string     `json:"uuid,omitempty"`
	Name        string     `json:"name"`
	Identifier  string     `json:"identifier,omitempty"`
	Status      CartStatus `json:"status,omitempty"`
	Locked      bool       `json:"locked"`
	Elements    []string   `json:"elements"`
	FileViews   []FileView `json:"file_views,omitempty"`
	Description string     `json:"description,omitempty"`
	SubmittedBy string     `json:"submitted_by,omitempty"`
	DateCreated string     `json:"date_created,omitempty"`
}

// CreateRequest carries the properties of a new cart.
type CreateRequest struct {
	Name       string     `json:"name"`
	Identifier string     `json:"identifier,omitempty"`
	Status     CartStatus `json:"status,omitempty"`
}

// Writeable is the edit-frame projection of a stored object: every
// property the server lets a client PUT back, and nothing else.
// Unknown properties are carried through untouched.
type Writeable map[string]json.RawMessage

// Set replaces property key with the JSON encoding of v.
func (w Writeable) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	w[key] = raw
	return nil
}

// Delete removes property key.
func (w Writeable) Delete(key string) {
	delete(w, key)
}

// Clone returns a shallow copy so overlays never touch the fetched copy.
func (w Writeable) Clone() Writeable {
	out := make(Writeable, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Graph is the {"@graph": [...]} envelope the portal wraps write
// responses and search results in.
type Graph[T any] struct {
	Graph []T `json:"@graph"`
}
