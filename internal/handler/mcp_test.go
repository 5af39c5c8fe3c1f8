package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"portal-cart/internal/facet"
	"portal-cart/internal/gateway"
)

// jsonrpcRequest is a JSON-RPC 2.0 request structure for testing.
type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jsonrpcResponse is a JSON-RPC 2.0 response structure for testing.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolCallParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

// callToolResult is the expected result structure from a tool call.
type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

// mcpClient drives the streamable HTTP endpoint the way an agent does.
type mcpClient struct {
	t         *testing.T
	srv       http.Handler
	sessionID string
	nextID    int
}

func newMCPClient(t *testing.T, srv http.Handler) *mcpClient {
	t.Helper()
	c := &mcpClient{t: t, srv: srv, nextID: 1}
	w := c.post(jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID,
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": "2025-06-18",
			"clientInfo":      map[string]string{"name": "test", "version": "1.0"},
			"capabilities":    map[string]any{},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Failed to initialize MCP session: %s", w.Body.String())
	}
	c.sessionID = w.Header().Get("Mcp-Session-Id")
	return c
}

func (c *mcpClient) post(req jsonrpcRequest) *httptest.ResponseRecorder {
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, c.sessionID)
	w := httptest.NewRecorder()
	c.srv.ServeHTTP(w, httpReq)
	return w
}

// rpc sends one request and returns its decoded JSON-RPC response.
func (c *mcpClient) rpc(method string, params any) jsonrpcResponse {
	c.t.Helper()
	c.nextID++
	w := c.post(jsonrpcRequest{JSONRPC: "2.0", ID: c.nextID, Method: method, Params: params})
	if w.Code != http.StatusOK {
		c.t.Fatalf("%s Status = %d\nBody: %s", method, w.Code, w.Body.String())
	}
	jsonData, err := parseSSEResponse(w.Body.String())
	if err != nil {
		c.t.Fatalf("Failed to parse SSE response: %v", err)
	}
	var resp jsonrpcResponse
	if err := json.Unmarshal(jsonData, &resp); err != nil {
		c.t.Fatalf("Failed to decode response: %v\nBody: %s", err, jsonData)
	}
	return resp
}

// call invokes a tool and returns its result.
func (c *mcpClient) call(tool string, args any) callToolResult {
	c.t.Helper()
	resp := c.rpc("tools/call", toolCallParams{Name: tool, Arguments: args})
	if resp.Error != nil {
		c.t.Fatalf("%s: unexpected JSON-RPC error %+v", tool, resp.Error)
	}
	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		c.t.Fatalf("Failed to parse result: %v", err)
	}
	return result
}

func TestMCPServerCreation(t *testing.T) {
	h, _ := testServer(t, gateway.NewMemory(""))
	if h.NewMCPServer() == nil || h.NewMCPHandler() == nil {
		t.Fatal("MCP server construction returned nil")
	}
}

func TestMCPToolsList(t *testing.T) {
	_, srv := testServer(t, gateway.NewMemory(""))
	c := newMCPClient(t, srv)

	resp := c.rpc("tools/list", nil)
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}
	var toolsResult struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &toolsResult); err != nil {
		t.Fatalf("Failed to parse tools result: %v", err)
	}

	var names []string
	for _, tool := range toolsResult.Tools {
		names = append(names, tool.Name)
	}
	want := []string{"add_to_cart", "cart_facets", "get_cart", "remove_from_cart"}
	if diff := cmp.Diff(want, names, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("tools (-want +got):\n%s", diff)
	}
}

func TestMCPCartTools(t *testing.T) {
	_, srv := testServer(t, gateway.NewMemory(""))
	c := newMCPClient(t, srv)
	sess := `anon="agent-1"`

	result := c.call("add_to_cart", map[string]any{
		"session":  sess,
		"elements": []string{"/e/1/", "/e/2/"},
	})
	if result.IsError {
		t.Fatalf("add_to_cart failed: %+v", result.Content)
	}

	result = c.call("remove_from_cart", map[string]any{
		"session":  sess,
		"elements": []string{"/e/1/"},
	})
	if result.IsError {
		t.Fatalf("remove_from_cart failed: %+v", result.Content)
	}

	result = c.call("get_cart", map[string]any{"session": sess})
	if result.IsError || len(result.Content) == 0 {
		t.Fatalf("get_cart result = %+v", result)
	}
	var out CartOutput
	if err := json.Unmarshal([]byte(result.Content[0].Text), &out); err != nil {
		t.Fatalf("Failed to parse cart from result: %v", err)
	}
	if diff := cmp.Diff([]string{"/e/2/"}, out.Cart.Elements); diff != "" {
		t.Errorf("elements (-want +got):\n%s", diff)
	}

	// The REST surface sees the same cart for the same session.
	if got := decodeCart(t, do(t, srv, http.MethodGet, "/cart", sess, nil)); len(got.Elements) != 1 {
		t.Errorf("REST elements = %v", got.Elements)
	}
}

func TestMCPCartFacets(t *testing.T) {
	mem := gateway.NewMemory("")
	mem.PutObjects(
		facet.Item{"@id": "/e/1/", "assay_term_name": "ChIP-seq"},
		facet.Item{"@id": "/e/2/", "assay_term_name": "ChIP-seq"},
	)
	_, srv := testServer(t, mem)
	c := newMCPClient(t, srv)
	sess := `anon="agent-2"`
	c.call("add_to_cart", map[string]any{"session": sess, "elements": []string{"/e/1/", "/e/2/"}})

	result := c.call("cart_facets", map[string]any{"session": sess})
	if result.IsError || len(result.Content) == 0 {
		t.Fatalf("cart_facets result = %+v", result)
	}
	var res facet.Result
	if err := json.Unmarshal([]byte(result.Content[0].Text), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Selected) != 2 {
		t.Errorf("Selected = %d, want 2", len(res.Selected))
	}
	if terms := res.Facets[0].Terms; len(terms) != 1 || terms[0].Count != 2 {
		t.Errorf("assay terms = %+v", terms)
	}
}

func TestMCPToolErrors(t *testing.T) {
	_, srv := testServer(t, gateway.NewMemory(""))
	c := newMCPClient(t, srv)

	tests := []struct {
		name     string
		tool     string
		args     map[string]any
		contains string
	}{
		{"missing session", "get_cart", map[string]any{"session": ""}, "cart_session_invalid"},
		{"malformed session", "get_cart", map[string]any{"session": "user="}, "cart_session_invalid"},
		{"no elements", "add_to_cart", map[string]any{"session": `anon="e"`, "elements": []string{}}, "elements is required"},
		{"over limit", "add_to_cart", map[string]any{"session": `anon="e"`, "elements": []string{"/1/", "/2/", "/3/", "/4/"}}, "MAX_ELEMENTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.call(tt.tool, tt.args)
			if !result.IsError {
				t.Fatalf("expected a tool error, got %+v", result)
			}
			if len(result.Content) == 0 || !strings.Contains(result.Content[0].Text, tt.contains) {
				t.Errorf("content = %+v, want %q", result.Content, tt.contains)
			}
		})
	}
}

// setMCPHeaders sets the required headers for MCP Streamable HTTP requests.
func setMCPHeaders(req *http.Request, sessionID string) {
	req.Header.Set("Content-Type", "application/json")
	// MCP Streamable HTTP requires Accept header with both json and event-stream
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
}

// parseSSEResponse extracts JSON data from SSE formatted response.
// SSE format: "event: message\ndata: {json}\n\n"
func parseSSEResponse(body string) ([]byte, error) {
	lines := strings.Split(body, "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "data: ") {
			return []byte(strings.TrimPrefix(line, "data: ")), nil
		}
	}
	// If no SSE format found, assume plain JSON
	return []byte(body), nil
}
