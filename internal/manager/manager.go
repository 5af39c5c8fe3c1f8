// Package manager runs the save-and-dispatch operations of one active cart.
//
// =============================================================================
// OPTIMISTIC UPDATE + SERIALIZED SAVE
// =============================================================================
//
// Every mutation is applied to the local store first, so readers see it at
// once. For logged-in sessions a persistence job is then queued:
//
//	SetInProgress(true) -> gateway call (SaveTimeout) -> CacheSavedCart -> SetInProgress(false)
//
// Jobs for one cart run on a single worker goroutine in enqueue order, so a
// slow save can never land after a later one and overwrite it. Each job
// carries the elements as they were when it was queued and the cart @id as
// it is when it runs; the first save of a session without a cart creates the
// auto-save cart and later jobs reuse it.
//
// A gateway call that outlives SaveTimeout fails the job with a network
// error: InProgress is cleared and an alert dispatched right away, and the
// worker holds the next job until the late call has returned.
// Anonymous sessions skip the queue entirely.
// =============================================================================
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"portal-cart/internal/cart"
	"portal-cart/internal/facet"
	"portal-cart/internal/gateway"
	"portal-cart/internal/model"
	"portal-cart/internal/reconcile"
	"portal-cart/internal/session"
)

const (
	// DefaultSaveTimeout bounds each gateway call made by a job.
	DefaultSaveTimeout = 30 * time.Second

	// AutoSaveName names the cart created for a user's first save.
	AutoSaveName = "Auto Save"

	queueSize = 64
)

// Alert codes dispatched by the manager.
const (
	AlertMaxElements = "MAX_ELEMENTS"
	AlertSaveTimeout = "SAVE_TIMEOUT"
	AlertSaveFailed  = "SAVE_FAILED"
)

// ErrClosed is returned by operations on a closed Manager.
var ErrClosed = errors.New("cart manager closed")

// Options configures a Manager.
type Options struct {
	Gateway gateway.Gateway
	Session session.Session
	Logger  *slog.Logger

	// Initial is the starting state; nil starts with an empty cart.
	Initial *cart.State

	SaveTimeout time.Duration // 0 uses DefaultSaveTimeout
	MaxElements int           // 0 uses the session's default limit
}

// job is one unit of persistence work.
type job struct {
	name   string
	run    func(ctx context.Context) error
	notify bool       // dispatch an alert on failure; set for fire-and-forget jobs
	done   chan error // buffered; receives the outcome
}

// Manager owns one cart store and its save queue.
type Manager struct {
	store       *cart.Store
	gw          gateway.Gateway
	sess        session.Session
	logger      *slog.Logger
	saveTimeout time.Duration
	maxElements int

	opMu sync.Mutex // serializes check-then-dispatch in mutations

	mu     sync.Mutex // guards closed and sends on jobs
	closed bool
	jobs   chan job
	done   chan struct{}
}

// New starts a Manager and its save worker. Call Close to stop it.
func New(opts Options) (*Manager, error) {
	if opts.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if opts.Session.Anonymous() && opts.Session.Token == "" {
		return nil, errors.New("session has no identity")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.SaveTimeout
	if timeout <= 0 {
		timeout = DefaultSaveTimeout
	}
	limit := opts.MaxElements
	if limit <= 0 {
		limit = cart.MaxLoggedInElements
		if opts.Session.Anonymous() {
			limit = cart.MaxAnonymousElements
		}
	}

	m := &Manager{
		store:       cart.NewStore(opts.Initial),
		gw:          opts.Gateway,
		sess:        opts.Session,
		logger:      logger.With(slog.String("session", opts.Session.Key())),
		saveTimeout: timeout,
		maxElements: limit,
		jobs:        make(chan job, queueSize),
		done:        make(chan struct{}),
	}
	go m.worker()
	return m, nil
}

// State returns the current cart snapshot.
func (m *Manager) State() *cart.State { return m.store.State() }

// Subscribe registers fn to run after every state change.
func (m *Manager) Subscribe(fn func(*cart.State)) (unsubscribe func()) {
	return m.store.Subscribe(fn)
}

// Session returns the session the manager serves.
func (m *Manager) Session() session.Session { return m.sess }

// MaxElements returns the element limit in force.
func (m *Manager) MaxElements() int { return m.maxElements }

// AddElements adds ids to the cart. Adding past the element limit changes
// nothing, dispatches an alert and returns ErrMaxElements.
func (m *Manager) AddElements(ctx context.Context, ids []string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	s := m.store.State()
	if s.Locked {
		return model.NewLockedError()
	}
	added := countNew(s, ids)
	if added == 0 {
		return nil
	}
	if len(s.Elements)+added > m.maxElements {
		m.store.Dispatch(cart.DisplayAlert{Alert: &cart.Alert{
			Code:    AlertMaxElements,
			Message: fmt.Sprintf("Carts can hold at most %d items. Remove some items before adding more.", m.maxElements),
		}})
		return model.NewMaxElementsError(m.maxElements)
	}

	if len(ids) == 1 {
		m.store.Dispatch(cart.AddElement{ID: ids[0]})
	} else {
		m.store.Dispatch(cart.AddMultipleElements{IDs: ids})
	}
	return m.queueSave("add_elements", false)
}

// RemoveElements removes ids and cascades them out of every file view.
func (m *Manager) RemoveElements(ctx context.Context, ids []string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	s := m.store.State()
	if s.Locked {
		return model.NewLockedError()
	}
	var next *cart.State
	if len(ids) == 1 {
		next = m.store.Dispatch(cart.RemoveElement{ID: ids[0]})
	} else {
		next = m.store.Dispatch(cart.RemoveMultipleElements{IDs: ids})
	}
	if next == s {
		return nil
	}
	return m.queueSave("remove_elements", true)
}

// Clear empties the cart and its file views.
func (m *Manager) Clear(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	s := m.store.State()
	if s.Locked {
		return model.NewLockedError()
	}
	m.store.Dispatch(cart.ClearCart{})
	return m.queueSave("clear", true)
}

// AddFileView creates an empty file view.
func (m *Manager) AddFileView(ctx context.Context, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.NewValidationError("title", "required")
	}
	return m.mutateViews("add_file_view", cart.AddFileView{Title: title})
}

// RemoveFileView deletes the view titled title.
func (m *Manager) RemoveFileView(ctx context.Context, title string) error {
	return m.mutateViews("remove_file_view", cart.RemoveFileView{Title: title})
}

// AddToFileView adds files to an existing view.
func (m *Manager) AddToFileView(ctx context.Context, title string, files []string) error {
	if _, ok := m.store.State().FileView(title); !ok {
		return model.NewNotFoundError("file view " + title)
	}
	return m.mutateViews("add_to_file_view", cart.AddToFileView{Title: title, Files: files})
}

// RemoveFromFileView removes files from a view.
func (m *Manager) RemoveFromFileView(ctx context.Context, title string, files []string) error {
	return m.mutateViews("remove_from_file_view", cart.RemoveFromFileView{Title: title, Files: files})
}

func (m *Manager) mutateViews(name string, a cart.Action) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	s := m.store.State()
	if s.Locked {
		return model.NewLockedError()
	}
	if m.store.Dispatch(a) == s {
		return nil
	}
	return m.queueSave(name, true)
}

// DismissAlert clears the displayed alert.
func (m *Manager) DismissAlert() {
	m.store.Dispatch(cart.DisplayAlert{Alert: nil})
}

// queueSave enqueues a save of the current elements. Callers hold opMu.
func (m *Manager) queueSave(name string, withViews bool) error {
	if m.sess.Anonymous() {
		return nil
	}
	snapshot := m.store.State()
	elements := snapshot.Elements
	var views []model.FileView
	if withViews {
		views = snapshot.FileViews
	}

	_, err := m.enqueue(name, true, func(ctx context.Context) error {
		atID, err := m.ensureCart(ctx)
		if err != nil {
			return err
		}
		obj, err := m.gw.Save(ctx, atID, elements, views)
		if err != nil {
			return err
		}
		if obj != nil {
			m.apply(ctx, cart.CacheSavedCart{Obj: obj})
		}
		return nil
	})
	return err
}

// ensureCart returns the @id of the mirrored cart, creating the auto-save
// cart on the first save. Runs on the worker.
func (m *Manager) ensureCart(ctx context.Context) (string, error) {
	if atID := m.store.State().Current; atID != "" {
		return atID, nil
	}
	obj, err := m.gw.Create(ctx, model.CreateRequest{Name: AutoSaveName, Status: model.StatusDisabled})
	if err != nil {
		return "", fmt.Errorf("creating auto-save cart: %w", err)
	}
	m.apply(ctx, cart.SetCurrent{AtID: obj.AtID})
	if m.store.State().Name == "" {
		m.apply(ctx, cart.SetName{Name: obj.Name})
	}
	m.apply(ctx, cart.SetStatus{Status: obj.Status})
	m.logger.Info("created auto-save cart", slog.String("cart", obj.AtID))
	return obj.AtID, nil
}

// Settings holds the cart metadata a user can edit. Nil fields are left
// unchanged.
type Settings struct {
	Name        *string           `json:"name,omitempty"`
	Identifier  *string           `json:"identifier,omitempty"`
	Description *string           `json:"description,omitempty"`
	Status      *model.CartStatus `json:"status,omitempty"`
	Locked      *bool             `json:"locked,omitempty"`
}

// SetSettings applies cart metadata locally, then writes it through and
// waits for the result. Setting a name without an identifier derives one.
func (m *Manager) SetSettings(ctx context.Context, in Settings) error {
	if in.Status != nil && (!in.Status.Valid() || *in.Status == model.StatusDeleted) {
		return model.NewValidationError("status", fmt.Sprintf("cannot set status %q", *in.Status))
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return model.NewValidationError("name", "required")
	}

	m.opMu.Lock()
	props := map[string]any{}
	var removals []string
	if in.Name != nil {
		m.store.Dispatch(cart.SetName{Name: *in.Name})
		props["name"] = *in.Name
		if in.Identifier == nil {
			id := cart.ConvertNameToIdentifier(*in.Name)
			in.Identifier = &id
		}
	}
	if in.Identifier != nil {
		m.store.Dispatch(cart.SetIdentifier{Identifier: *in.Identifier})
		props["identifier"] = *in.Identifier
	}
	if in.Description != nil {
		s := m.store.Dispatch(cart.SetDescription{Text: *in.Description})
		if s.Description == "" {
			removals = append(removals, "description")
		} else {
			props["description"] = s.Description
		}
	}
	if in.Status != nil {
		m.store.Dispatch(cart.SetStatus{Status: *in.Status})
		props["status"] = *in.Status
	}
	if in.Locked != nil {
		m.store.Dispatch(cart.SetLocked{Locked: *in.Locked})
		props["locked"] = *in.Locked
	}
	m.opMu.Unlock()

	if m.sess.Anonymous() || (len(props) == 0 && len(removals) == 0) {
		return nil
	}
	return m.run(ctx, "set_settings", func(ctx context.Context) error {
		atID, err := m.ensureCart(ctx)
		if err != nil {
			return err
		}
		obj, err := m.gw.Update(ctx, atID, props, removals, true)
		if err != nil {
			return err
		}
		m.apply(ctx, cart.CacheSavedCart{Obj: obj})
		return nil
	})
}

// CreateCart creates a new server cart and makes it the active one.
// An identifier already in use fails with a KindConflict error (status 409)
// and leaves the active cart untouched.
func (m *Manager) CreateCart(ctx context.Context, name, identifier string, status model.CartStatus) (*model.CartObject, error) {
	if m.sess.Anonymous() {
		return nil, model.NewValidationError("session", "log in to save carts")
	}
	if strings.TrimSpace(name) == "" {
		return nil, model.NewValidationError("name", "required")
	}
	if identifier == "" {
		identifier = cart.ConvertNameToIdentifier(name)
	}
	if status == "" {
		status = model.StatusCurrent
	}

	var created *model.CartObject
	err := m.run(ctx, "create_cart", func(ctx context.Context) error {
		obj, err := m.gw.Create(ctx, model.CreateRequest{Name: name, Identifier: identifier, Status: status})
		if err != nil {
			return err
		}
		m.apply(ctx, cart.LoadCart{Obj: obj})
		created = obj
		return nil
	})
	return created, err
}

// DeleteCart soft-deletes the cart at atID. The active cart cannot be
// deleted; switch away first.
func (m *Manager) DeleteCart(ctx context.Context, atID string) error {
	if m.sess.Anonymous() {
		return model.NewValidationError("session", "log in to manage carts")
	}
	if atID == "" {
		return model.NewValidationError("cart", "required")
	}
	if atID == m.store.State().Current {
		return model.NewValidationError("cart", "cannot delete the active cart")
	}
	return m.run(ctx, "delete_cart", func(ctx context.Context) error {
		_, err := m.gw.Update(ctx, atID, map[string]any{"status": model.StatusDeleted}, nil, false)
		return err
	})
}

// SwitchCart replaces the active cart with the saved cart at atID.
func (m *Manager) SwitchCart(ctx context.Context, atID string) error {
	if m.sess.Anonymous() {
		return model.NewValidationError("session", "log in to switch carts")
	}
	if atID == "" {
		return model.NewValidationError("cart", "required")
	}
	return m.run(ctx, "switch_cart", func(ctx context.Context) error {
		obj, err := m.gw.Retrieve(ctx, atID)
		if err != nil {
			return err
		}
		if obj.Status == model.StatusDeleted {
			return model.NewNotFoundError("cart " + atID)
		}
		if obj.AtID == "" {
			obj.AtID = atID
		}
		m.apply(ctx, cart.LoadCart{Obj: obj})
		return nil
	})
}

// Reload re-reads the active cart from the server, discarding local drift.
func (m *Manager) Reload(ctx context.Context) error {
	atID := m.store.State().Current
	if atID == "" || m.sess.Anonymous() {
		return nil
	}
	return m.SwitchCart(ctx, atID)
}

// Facets fetches the objects behind the cart's elements and assembles
// facets over them.
func (m *Manager) Facets(ctx context.Context, selected facet.SelectedTerms, fields []facet.Field) (facet.Result, error) {
	if len(fields) == 0 {
		fields = facet.DatasetFields()
	}
	elements := m.store.State().Elements
	items, err := m.gw.FetchObjects(ctx, elements, facet.Names(fields))
	if err != nil {
		return facet.Result{}, err
	}
	return facet.Assemble(selected, items, fields), nil
}

// FileFacets assembles facets over the files of the cart's datasets.
// Files the search embeds are used as returned; files listed only by @id
// are fetched in a second pass.
func (m *Manager) FileFacets(ctx context.Context, selected facet.SelectedTerms, fields []facet.Field) (facet.Result, error) {
	if len(fields) == 0 {
		fields = facet.FileFields()
	}
	elements := m.store.State().Elements
	datasets, err := m.gw.FetchObjects(ctx, elements, facet.FileFieldNames(fields))
	if err != nil {
		return facet.Result{}, err
	}
	files, refs := facet.Files(datasets)
	if len(refs) > 0 {
		fetched, err := m.gw.FetchObjects(ctx, refs, facet.Names(fields))
		if err != nil {
			return facet.Result{}, err
		}
		files = append(files, fetched...)
	}
	return facet.Assemble(selected, files, fields), nil
}

// Drift compares the local cart with the last saved copy.
func (m *Manager) Drift() *reconcile.Drift {
	return reconcile.Compute(m.store.State())
}

// Wait blocks until every job queued before the call has finished.
func (m *Manager) Wait(ctx context.Context) error {
	if m.sess.Anonymous() {
		return nil
	}
	err := m.run(ctx, "barrier", nil)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Close drains the queue and stops the worker.
func (m *Manager) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.jobs)
	}
	m.mu.Unlock()
	<-m.done
}

// run enqueues fn and waits for it.
func (m *Manager) run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	done, err := m.enqueue(name, false, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) enqueue(name string, notify bool, fn func(ctx context.Context) error) (<-chan error, error) {
	j := job{name: name, run: fn, notify: notify, done: make(chan error, 1)}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.jobs <- j
	return j.done, nil
}

func (m *Manager) worker() {
	defer close(m.done)
	for j := range m.jobs {
		if j.run == nil {
			j.done <- nil
			continue
		}
		j.done <- m.execute(j)
	}
}

// execute runs one job under the watchdog.
func (m *Manager) execute(j job) error {
	m.store.Dispatch(cart.SetInProgress{InProgress: true})
	defer m.store.Dispatch(cart.SetInProgress{InProgress: false})

	ctx, cancel := context.WithTimeout(context.Background(), m.saveTimeout)
	defer cancel()

	start := time.Now()
	err := m.runWithWatchdog(ctx, j)
	if err == nil {
		m.logger.Debug("cart job done",
			slog.String("job", j.name),
			slog.Duration("duration", time.Since(start)))
		return nil
	}

	m.logger.Error("cart job failed",
		slog.String("job", j.name),
		slog.String("cart", m.store.State().Current),
		slog.String("kind", string(model.KindOf(err))),
		slog.String("error", err.Error()))

	if j.notify && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		m.store.Dispatch(cart.DisplayAlert{Alert: &cart.Alert{
			Code:    AlertSaveFailed,
			Message: "Your cart changes could not be saved.",
		}})
	}
	return err
}

// runWithWatchdog runs the job and watches its deadline. When the deadline
// passes first, InProgress is cleared and the timeout alert shown at once,
// but the worker still waits for the abandoned call to return: a save
// already on the wire must finish before the next job starts.
func (m *Manager) runWithWatchdog(ctx context.Context, j job) error {
	result := make(chan error, 1)
	go func() { result <- j.run(ctx) }()

	select {
	case err := <-result:
		if err != nil && ctx.Err() != nil {
			m.alertTimeout()
			return model.NewNetworkError(j.name, 0, fmt.Errorf("timed out after %s: %w", m.saveTimeout, err))
		}
		return err
	case <-ctx.Done():
		m.store.Dispatch(cart.SetInProgress{InProgress: false})
		m.alertTimeout()
		<-result
		return model.NewNetworkError(j.name, 0, fmt.Errorf("timed out after %s", m.saveTimeout))
	}
}

func (m *Manager) alertTimeout() {
	m.store.Dispatch(cart.DisplayAlert{Alert: &cart.Alert{
		Code:    AlertSaveTimeout,
		Message: "The portal did not answer in time. Your cart changes were not saved.",
	}})
}

// apply dispatches a job result unless the job was abandoned by the
// watchdog; a late result must not overwrite newer state.
func (m *Manager) apply(ctx context.Context, a cart.Action) {
	if ctx.Err() == nil {
		m.store.Dispatch(a)
	}
}

// countNew returns how many distinct ids are not yet in s.
func countNew(s *cart.State, ids []string) int {
	present := make(map[string]bool, len(s.Elements)+len(ids))
	for _, e := range s.Elements {
		present[e] = true
	}
	n := 0
	for _, id := range ids {
		if !present[id] {
			present[id] = true
			n++
		}
	}
	return n
}
