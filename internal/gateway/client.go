package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"portal-cart/internal/facet"
	"portal-cart/internal/model"
)

// =============================================================================
// PORTAL REST CONVENTIONS
// =============================================================================
//
//   GET  /carts/<id>/?datastore=database              full object
//   GET  /carts/<id>/?frame=edit&datastore=database   writeable projection
//   PUT  /carts/<id>/                                 full replace, {"@graph": [obj]}
//   POST /carts/@@put-cart                            create, {"@graph": [obj]}
//   GET  /search/?@id=..&field=..&limit=all&format=json
//
// datastore=database bypasses the search index, which lags writes by up to a
// few seconds. A search matching nothing answers 404 with an empty @graph.
// =============================================================================

const (
	createPath = "/carts/@@put-cart"
	searchPath = "/search/"

	// DefaultBatchSize bounds the @id parameters per search request; the
	// portal rejects URLs much longer than this produces.
	DefaultBatchSize        = 100
	DefaultFetchConcurrency = 4
)

// userAgent identifies this client to the portal.
const userAgent = "portal-cart/1.0"

// Config holds portal client configuration.
type Config struct {
	PortalURL string
	AccessKey string // optional; basic auth when set with SecretKey
	SecretKey string

	// Transport carries the requests; nil uses http.DefaultTransport.
	Transport http.RoundTripper
	Timeout   time.Duration

	BatchSize        int
	FetchConcurrency int
}

// Client implements Gateway against the portal's REST API.
type Client struct {
	httpClient       *http.Client
	portalURL        string
	accessKey        string
	secretKey        string
	batchSize        int
	fetchConcurrency int
}

// New creates a portal client with the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.PortalURL == "" {
		return nil, fmt.Errorf("portal URL is required")
	}
	if _, err := url.Parse(cfg.PortalURL); err != nil {
		return nil, fmt.Errorf("invalid portal URL: %w", err)
	}
	if (cfg.AccessKey == "") != (cfg.SecretKey == "") {
		return nil, fmt.Errorf("access key and secret key must be set together")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	concurrency := cfg.FetchConcurrency
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: cfg.Transport,
		},
		portalURL:        strings.TrimSuffix(cfg.PortalURL, "/"),
		accessKey:        cfg.AccessKey,
		secretKey:        cfg.SecretKey,
		batchSize:        batchSize,
		fetchConcurrency: concurrency,
	}, nil
}

// Retrieve fetches the full cart object.
func (c *Client) Retrieve(ctx context.Context, cartAtID string) (*model.CartObject, error) {
	body, err := c.do(ctx, "retrieve", http.MethodGet, objectPath(cartAtID, false), nil)
	if err != nil {
		return nil, err
	}
	var obj model.CartObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, model.NewNetworkError("retrieve", http.StatusOK, fmt.Errorf("parsing cart: %w", err))
	}
	return &obj, nil
}

// GetWriteableCopy fetches the edit-frame projection of atID.
func (c *Client) GetWriteableCopy(ctx context.Context, atID string) (model.Writeable, error) {
	body, err := c.do(ctx, "writeable", http.MethodGet, objectPath(atID, true), nil)
	if err != nil {
		return nil, err
	}
	var w model.Writeable
	if err := json.Unmarshal(body, &w); err != nil || w == nil {
		if err == nil {
			err = errors.New("empty object")
		}
		return nil, model.NewNetworkError("writeable", http.StatusOK, fmt.Errorf("parsing edit frame: %w", err))
	}
	return w, nil
}

// Save replaces the cart's elements (and file views when non-nil).
func (c *Client) Save(ctx context.Context, cartAtID string, elements []string, fileViews []model.FileView) (*model.CartObject, error) {
	if cartAtID == "" {
		return nil, nil
	}
	return c.Update(ctx, cartAtID, saveProperties(elements, fileViews), nil, true)
}

// Update performs the read-modify-write for cartAtID.
func (c *Client) Update(ctx context.Context, cartAtID string, properties map[string]any, propertiesForRemoval []string, expectUpdatedObject bool) (*model.CartObject, error) {
	current, err := c.GetWriteableCopy(ctx, cartAtID)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", cartAtID, err)
	}
	next, err := overlay(current, properties, propertiesForRemoval)
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, "update", http.MethodPut, objectPath(cartAtID, false), next)
	if err != nil {
		return nil, err
	}
	obj, err := firstInGraph(body)
	if err != nil {
		if !expectUpdatedObject {
			return nil, nil
		}
		return nil, model.NewNetworkError("update", http.StatusOK, err)
	}
	return obj, nil
}

// Create posts a new cart.
func (c *Client) Create(ctx context.Context, req model.CreateRequest) (*model.CartObject, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, model.NewValidationError("name", "required")
	}
	body, err := c.do(ctx, "create", http.MethodPost, createPath, req)
	if err != nil {
		return nil, err
	}
	obj, err := firstInGraph(body)
	if err != nil {
		return nil, model.NewNetworkError("create", http.StatusOK, err)
	}
	return obj, nil
}

// FetchObjects searches for ids in batches, a bounded number at a time.
func (c *Client) FetchObjects(ctx context.Context, ids []string, fields []string) ([]facet.Item, error) {
	if len(ids) == 0 {
		return []facet.Item{}, nil
	}

	var batches [][]string
	for start := 0; start < len(ids); start += c.batchSize {
		end := min(start+c.batchSize, len(ids))
		batches = append(batches, ids[start:end])
	}

	results := make([][]facet.Item, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fetchConcurrency)
	for i, batch := range batches {
		g.Go(func() error {
			items, err := c.searchBatch(gctx, batch, fields)
			if err != nil {
				return err
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]facet.Item, len(ids))
	for _, items := range results {
		for _, item := range items {
			byID[item.ID()] = item
		}
	}
	out := make([]facet.Item, 0, len(ids))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			out = append(out, item)
			delete(byID, id)
		}
	}
	return out, nil
}

func (c *Client) searchBatch(ctx context.Context, ids, fields []string) ([]facet.Item, error) {
	q := url.Values{}
	for _, id := range ids {
		q.Add("@id", id)
	}
	q.Add("field", "@id")
	for _, f := range fields {
		if f != "@id" {
			q.Add("field", f)
		}
	}
	q.Set("limit", "all")
	q.Set("format", "json")

	body, err := c.do(ctx, "search", http.MethodGet, searchPath+"?"+q.Encode(), nil)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var graph model.Graph[facet.Item]
	if err := json.Unmarshal(body, &graph); err != nil {
		return nil, model.NewNetworkError("search", http.StatusOK, fmt.Errorf("parsing results: %w", err))
	}
	return graph.Graph, nil
}

// do issues one request, records metrics and maps non-2xx statuses to
// typed errors. It returns the raw response body.
func (c *Client) do(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	timer := prometheus.NewTimer(requestDuration.WithLabelValues(op))
	defer timer.ObserveDuration()

	respBody, err := c.roundTrip(ctx, op, method, path, body)
	observe(op, err)
	return respBody, err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, model.NewValidationError("body", err.Error())
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.portalURL+path, bodyReader)
	if err != nil {
		return nil, model.NewNetworkError(op, 0, fmt.Errorf("creating request: %w", err))
	}
	c.setHeaders(req, body != nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.NewNetworkError(op, 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewNetworkError(op, resp.StatusCode, fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, model.FromStatus(op, resourceOf(path), resp.StatusCode)
	}
	return respBody, nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessKey != "" {
		req.SetBasicAuth(c.accessKey, c.secretKey)
	}
}

// objectPath returns the request path of an object @id.
func objectPath(atID string, editFrame bool) string {
	p := atID
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	if editFrame {
		return p + "?frame=edit&datastore=database"
	}
	return p + "?datastore=database"
}

// resourceOf names the object a path refers to in error messages.
func resourceOf(path string) string {
	if strings.HasPrefix(path, searchPath) {
		return "search results"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return "cart " + path
}

func firstInGraph(body []byte) (*model.CartObject, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty response")
	}
	var graph model.Graph[model.CartObject]
	if err := json.Unmarshal(body, &graph); err != nil {
		return nil, fmt.Errorf("parsing @graph: %w", err)
	}
	if len(graph.Graph) == 0 {
		return nil, errors.New("empty @graph")
	}
	return &graph.Graph[0], nil
}

// Verify Client implements Gateway at compile time.
var _ Gateway = (*Client)(nil)
