package handler

import (
	"context"
	"log/slog"
	"net/http"

	"portal-cart/internal/cart"
	"portal-cart/internal/facet"
	"portal-cart/internal/manager"
	"portal-cart/internal/model"
	"portal-cart/internal/reconcile"
	"portal-cart/internal/session"
)

// cartResponse is the active cart as the rendering layer sees it.
type cartResponse struct {
	*cart.State
	MaxElements int `json:"max_elements"`
}

type elementsRequest struct {
	Elements []string `json:"elements"`
}

type fileViewRequest struct {
	Title string `json:"title"`
}

type filesRequest struct {
	Files []string `json:"files"`
}

type facetsRequest struct {
	SelectedTerms facet.SelectedTerms `json:"selected_terms"`
	// Preset picks the field set: "datasets" (default) or "files".
	Preset string `json:"preset,omitempty"`
	// Fields overrides the preset with explicit field paths.
	Fields []string `json:"fields,omitempty"`
}

type createCartRequest struct {
	Name       string           `json:"name"`
	Identifier string           `json:"identifier,omitempty"`
	Status     model.CartStatus `json:"status,omitempty"`
}

type cartRefRequest struct {
	Cart string `json:"cart"`
}

// writeCart answers with the manager's state. With ?wait=true it first
// waits for queued saves, so the response carries their outcome.
func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, m *manager.Manager, status int) {
	if r.URL.Query().Get("wait") == "true" {
		if err := m.Wait(r.Context()); err != nil {
			h.writeError(w, err)
			return
		}
	}
	h.writeJSON(w, status, cartResponse{State: m.State(), MaxElements: m.MaxElements()})
}

// handleGetCart returns the active cart.
// GET /cart
// A session minted for this request has no cart yet; it is answered with
// an empty one so header-less reads never register a manager.
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	if s, ok := session.FromContext(r.Context()); ok && s.Minted {
		h.writeJSON(w, http.StatusOK, cartResponse{State: cart.NewState(), MaxElements: h.registry.Limit(s)})
		return
	}
	m, err := h.manager(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, r, m, http.StatusOK)
}

// handleAddElements adds datasets to the cart.
// POST /cart/elements
func (h *Handler) handleAddElements(w http.ResponseWriter, r *http.Request) {
	h.mutateElements(w, r, (*manager.Manager).AddElements)
}

// handleRemoveElements removes datasets and their file view entries.
// DELETE /cart/elements
func (h *Handler) handleRemoveElements(w http.ResponseWriter, r *http.Request) {
	h.mutateElements(w, r, (*manager.Manager).RemoveElements)
}

func (h *Handler) mutateElements(w http.ResponseWriter, r *http.Request, op func(*manager.Manager, context.Context, []string) error) {
	m, err := h.manager(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req elementsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if len(req.Elements) == 0 {
		h.writeError(w, model.NewValidationError("elements", "at least one element required"))
		return
	}

	h.logger.InfoContext(r.Context(), "cart elements",
		slog.String("method", r.Method),
		slog.Int("elements", len(req.Elements)),
	)

	if err := op(m, r.Context(), req.Elements); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, r, m, http.StatusOK)
}

// handleClear empties the cart.
// POST /cart/clear
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	m, err := h.manager(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := m.Clear(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, r, m, http.StatusOK)
}

// handleReload re-reads the active cart from the portal.
// POST /cart/reload
func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	m, err := h.manager(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := m.Reload(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, r, m, http.StatusOK)
}

// handleUpdateSettings edits cart metadata and writes it through.
// PATCH /cart
func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	m, err := h.manager(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req manager.Settings
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := m.SetSettings(r.Context(), req); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, r, m, http.StatusOK)
}

// handleFacets assembles facets over the cart's elements.
// POST /cart/facets
func (h *Handler) handleFacets(w http.ResponseWriter, r *http.Request) {
	m, err := h.manager(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req facetsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := cartFacets(r.Context(), m, req.Preset, req.Fields, req.SelectedTerms)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// cartFacets assembles the facets a request names. The files preset counts
// over the files of the cart's datasets rather than the datasets.
func cartFacets(ctx context.Context, m *manager.Manager, preset string, names []string, selected facet.SelectedTerms) (facet.Result, error) {
	fields, files, err := facetFields(preset, names)
	if err != nil {
		return facet.Result{}, err
	}
	if files {
		return m.FileFacets(ctx, selected, fields)
	}
	return m.Facets(ctx, selected, fields)
}

// facetFields resolves a facet request to its field set. Explicit names
// replace the preset's fields.
func facetFields(preset string, names []string) (fields []facet.Field, files bool, err error) {
	switch preset {
	case "", "datasets":
		fields = facet.DatasetFields()
	case "files":
		fields, files = facet.FileFields(), true
	default:
		return nil, false, model.NewValidationError("preset", "must be datasets or files")
	}
	if len(names) > 0 {
		fields = make([]facet.Field, len(names))
		for i, n := range names {
			fields[i] = facet.Field{Name: n, Title: n}
		}
	}
	return fields, files, nil
}

// handleDrift reports how the local cart differs from the saved copy.
// GET /cart/drift
func (h *Handler) handleDrift(w http.ResponseWriter, r *http.Request) {
	if s, ok := session.FromContext(r.Context()); ok && s.Minted {
		h.writeJSON(w, http.StatusOK, reconcile.Compute(cart.NewState()))
		return
	}
	m, err := h.manager(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m.Drift())
}

// DELETE /cart/alert
func (h *Handler) handleDismissAlert(w http.ResponseWriter, r *http.Request) {
	m, err := h.manager(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	m.DismissAlert()
	h.writeCart(w, r, m, http.StatusOK)
}

// POST /cart/file-views
func (h *Handler) handleAddFileView(w http.ResponseWriter, r *http.Request) {
	m, err := h.manager(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req fileViewRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := m.AddFileView(r.Context(), req.Title); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, r, m, http.StatusCreated)
}

// DELETE /cart/file-views/{title}
func (h *Handler) handleRemoveFileView(w http.ResponseWriter, r *http.Request) {
	m, err := h.manager(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := m.RemoveFileView(r.Context(), r.PathValue("title")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, r, m, http.StatusOK)
}

// POST /cart/file-views/{title}/files
func (h *Handler) handleAddToFileView(w http.ResponseWriter, r *http.Request) {
	h.mutateFileView(w, r, (*manager.Manager).AddToFileView)
}

// DELETE /cart/file-views/{title}/files
func (h *Handler) handleRemoveFromFileView(w http.ResponseWriter, r *http.Request) {
	h.mutateFileView(w, r, (*manager.Manager).RemoveFromFileView)
}

func (h *Handler) mutateFileView(w http.ResponseWriter, r *http.Request, op func(*manager.Manager, context.Context, string, []string) error) {
	m, err := h.manager(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req filesRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if len(req.Files) == 0 {
		h.writeError(w, model.NewValidationError("files", "at least one file required"))
		return
	}
	if err := op(m, r.Context(), r.PathValue("title"), req.Files); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, r, m, http.StatusOK)
}

// handleCreateCart creates a saved cart and makes it active. An identifier
// already in use answers 409.
// POST /carts
func (h *Handler) handleCreateCart(w http.ResponseWriter, r *http.Request) {
	m, err := h.manager(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req createCartRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "creating cart",
		slog.String("name", req.Name),
		slog.String("identifier", req.Identifier),
	)

	if _, err := m.CreateCart(r.Context(), req.Name, req.Identifier, req.Status); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, r, m, http.StatusCreated)
}

// POST /cart/switch
func (h *Handler) handleSwitchCart(w http.ResponseWriter, r *http.Request) {
	m, err := h.manager(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req cartRefRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := m.SwitchCart(r.Context(), req.Cart); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, r, m, http.StatusOK)
}

// POST /cart/delete
func (h *Handler) handleDeleteCart(w http.ResponseWriter, r *http.Request) {
	m, err := h.manager(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req cartRefRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := m.DeleteCart(r.Context(), req.Cart); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleShared returns the saved contents of any readable cart without
// touching the caller's own cart.
// GET /shared?cart=/carts/x/
func (h *Handler) handleShared(w http.ResponseWriter, r *http.Request) {
	atID := r.URL.Query().Get("cart")
	if atID == "" {
		h.writeError(w, model.NewValidationError("cart", "required"))
		return
	}
	obj, err := h.gw.Retrieve(r.Context(), atID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if obj.Status == model.StatusDeleted {
		h.writeError(w, model.NewNotFoundError("cart "+atID))
		return
	}
	h.writeJSON(w, http.StatusOK, obj)
}
