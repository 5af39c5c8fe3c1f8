// MCP transport for the cart service using the official MCP Go SDK.
// Exposes the active cart of a session as MCP tools.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"portal-cart/internal/cart"
	"portal-cart/internal/facet"
	"portal-cart/internal/manager"
	"portal-cart/internal/model"
	"portal-cart/internal/session"
)

// MCP requests do not pass through the session middleware; every tool
// takes the Cart-Session dictionary as its session argument instead.

// GetCartInput is the input schema for get_cart.
type GetCartInput struct {
	Session string `json:"session" jsonschema:"Cart-Session dictionary identifying the caller, for example user=/users/u1/ quoted as an sf-string"`
}

// ElementsInput is the input schema for add_to_cart and remove_from_cart.
type ElementsInput struct {
	Session  string   `json:"session" jsonschema:"Cart-Session dictionary identifying the caller"`
	Elements []string `json:"elements" jsonschema:"dataset @ids such as /experiments/ENCSR000AAA/"`
	Wait     bool     `json:"wait,omitempty" jsonschema:"wait for the save to finish before answering"`
}

// FacetsInput is the input schema for cart_facets.
type FacetsInput struct {
	Session       string              `json:"session" jsonschema:"Cart-Session dictionary identifying the caller"`
	SelectedTerms map[string][]string `json:"selected_terms,omitempty" jsonschema:"chosen terms per field path"`
	Preset        string              `json:"preset,omitempty" jsonschema:"datasets (default) or files"`
}

// CartOutput is the result of the cart tools.
type CartOutput struct {
	Cart        *cart.State `json:"cart"`
	MaxElements int         `json:"max_elements"`
}

// NewMCPServer creates an MCP server with the cart tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "portal-cart",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Portal cart service. Inspect and edit a session's cart of datasets " +
				"and summarize its contents as facets.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the active cart of a session.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_to_cart",
		Description: "Add datasets to the active cart. Fails when the cart is locked or would exceed its size limit.",
	}, h.mcpAddToCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_from_cart",
		Description: "Remove datasets from the active cart, along with their files in every file view.",
	}, h.mcpRemoveFromCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cart_facets",
		Description: "Count the cart's datasets by assay, biosample, organism and other fields, filtered by selected terms.",
	}, h.mcpCartFacets)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpGetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetCartInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	m, err := h.mcpManager(ctx, input.Session)
	if err != nil {
		return nil, nil, err
	}
	return nil, cartOutput(m), nil
}

func (h *Handler) mcpAddToCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ElementsInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	return h.mcpMutate(ctx, input, (*manager.Manager).AddElements)
}

func (h *Handler) mcpRemoveFromCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ElementsInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	return h.mcpMutate(ctx, input, (*manager.Manager).RemoveElements)
}

func (h *Handler) mcpMutate(ctx context.Context, input ElementsInput, op func(*manager.Manager, context.Context, []string) error) (*mcp.CallToolResult, *CartOutput, error) {
	m, err := h.mcpManager(ctx, input.Session)
	if err != nil {
		return nil, nil, err
	}
	if len(input.Elements) == 0 {
		return nil, nil, fmt.Errorf("elements is required")
	}
	if err := op(m, ctx, input.Elements); err != nil {
		return nil, nil, h.mcpError(err)
	}
	if input.Wait {
		if err := m.Wait(ctx); err != nil {
			return nil, nil, h.mcpError(err)
		}
	}
	return nil, cartOutput(m), nil
}

func (h *Handler) mcpCartFacets(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input FacetsInput,
) (*mcp.CallToolResult, *facet.Result, error) {
	m, err := h.mcpManager(ctx, input.Session)
	if err != nil {
		return nil, nil, err
	}
	res, err := cartFacets(ctx, m, input.Preset, nil, facet.SelectedTerms(input.SelectedTerms))
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, &res, nil
}

func cartOutput(m *manager.Manager) *CartOutput {
	return &CartOutput{Cart: m.State(), MaxElements: m.MaxElements()}
}

// mcpManager resolves the session argument to its cart manager.
func (h *Handler) mcpManager(ctx context.Context, header string) (*manager.Manager, error) {
	if header == "" {
		return nil, fmt.Errorf("%s: session is required", session.CodeSessionInvalid)
	}
	s, err := session.Parse(header)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", session.CodeSessionInvalid, err)
	}
	m, err := h.registry.Get(ctx, s)
	if err != nil {
		return nil, h.mcpError(err)
	}
	return m, nil
}

// mcpError converts cart errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var cartErr *model.Error
	if errors.As(err, &cartErr) {
		return fmt.Errorf("%s: %s", cartErr.Code, cartErr.Message)
	}
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
