package mcp

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/morsel/internal/analysis"
	"github.com/hpungsan/morsel/internal/catalog"
	"github.com/hpungsan/morsel/internal/config"
	"github.com/hpungsan/morsel/internal/errors"
	"github.com/hpungsan/morsel/internal/label"
	"github.com/hpungsan/morsel/internal/ops"
	"github.com/hpungsan/morsel/internal/session"
)

// Handlers holds dependencies for MCP tool handlers. A stdio server has one
// client, so one controller serves every analysis tool.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	ctrl     *session.Controller
	labels   *label.Extractor
	products *catalog.Catalog
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config, ctrl *session.Controller, labels *label.Extractor, products *catalog.Catalog) *Handlers {
	return &Handlers{db: db, cfg: cfg, ctrl: ctrl, labels: labels, products: products}
}

// Request types for each tool

// AnalysisStartRequest represents the arguments for analysis_start.
type AnalysisStartRequest struct {
	Ingredients string  `json:"ingredients,omitempty"`
	ProductName *string `json:"product_name,omitempty"`
	Product     string  `json:"product,omitempty"`
	ProfileID   string  `json:"profile_id,omitempty"`
	NoProfile   bool    `json:"no_profile,omitempty"`
}

// FollowUpRequest represents the arguments for analysis_follow_up.
type FollowUpRequest struct {
	Message   string `json:"message"`
	ProfileID string `json:"profile_id,omitempty"`
	NoProfile bool   `json:"no_profile,omitempty"`
}

// LabelExtractRequest represents the arguments for label_extract.
type LabelExtractRequest struct {
	Image string `json:"image"`
}

// ProductSearchRequest represents the arguments for product_search.
type ProductSearchRequest struct {
	Query string `json:"query,omitempty"`
}

// HistoryListRequest represents the arguments for history_list.
type HistoryListRequest struct {
	StarredOnly bool `json:"starred_only,omitempty"`
	Limit       int  `json:"limit,omitempty"`
	Offset      int  `json:"offset,omitempty"`
}

// HistoryStarRequest represents the arguments for history_star.
type HistoryStarRequest struct {
	ID      string `json:"id"`
	Starred *bool  `json:"starred,omitempty"`
}

// IDRequest represents the arguments of tools addressing one row by ID.
type IDRequest struct {
	ID string `json:"id"`
}

// ProfileCreateRequest represents the arguments for profile_create.
type ProfileCreateRequest struct {
	Name         string   `json:"name"`
	Restrictions []string `json:"restrictions,omitempty"`
	Allergies    []string `json:"allergies,omitempty"`
	Preferences  []string `json:"preferences,omitempty"`
	Activate     bool     `json:"activate,omitempty"`
}

// Output types

// AnalysisOutput is returned by analysis_start.
type AnalysisOutput struct {
	SessionID   string          `json:"session_id"`
	ProductName *string         `json:"product_name,omitempty"`
	Result      analysis.Result `json:"result"`
	State       session.State   `json:"state"`
}

// FollowUpOutput is returned by analysis_follow_up.
type FollowUpOutput struct {
	Reply     string        `json:"reply"`
	TurnCount int           `json:"turn_count"`
	State     session.State `json:"state"`
}

// StateOutput is returned by analysis_get and analysis_reset.
type StateOutput struct {
	State   session.State      `json:"state"`
	Session *analysis.Snapshot `json:"session,omitempty"`
}

// ProductSearchOutput is returned by product_search.
type ProductSearchOutput struct {
	Items []catalog.Product `json:"items"`
}

// Handler implementations

// HandleAnalysisStart handles the analysis_start tool call.
func (h *Handlers) HandleAnalysisStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AnalysisStartRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidInput(err.Error())), nil
	}

	if input.Product != "" {
		p, err := h.products.Lookup(input.Product)
		if err != nil {
			return errorResult(err), nil
		}
		name := p.DisplayName()
		input.Ingredients = p.Ingredients
		input.ProductName = &name
	}

	profile, err := h.profile(ctx, input.ProfileID, input.NoProfile)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.ctrl.StartAnalysis(ctx, session.StartInput{
		Ingredients: input.Ingredients,
		ProductName: input.ProductName,
		Profile:     profile,
	})
	if err != nil {
		return errorResult(err), nil
	}

	out := AnalysisOutput{Result: *result, State: h.ctrl.State()}
	if snap, ok := h.ctrl.Snapshot(); ok {
		out.SessionID = snap.ID
		out.ProductName = snap.ProductName
	}
	return successResult(out)
}

// HandleAnalysisFollowUp handles the analysis_follow_up tool call.
func (h *Handlers) HandleAnalysisFollowUp(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FollowUpRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidInput(err.Error())), nil
	}

	profile, err := h.profile(ctx, input.ProfileID, input.NoProfile)
	if err != nil {
		return errorResult(err), nil
	}

	reply, err := h.ctrl.AskFollowUp(ctx, input.Message, profile)
	if err != nil {
		return errorResult(err), nil
	}

	out := FollowUpOutput{Reply: reply, State: h.ctrl.State()}
	if snap, ok := h.ctrl.Snapshot(); ok {
		out.TurnCount = len(snap.Transcript)
	}
	return successResult(out)
}

// HandleAnalysisReset handles the analysis_reset tool call.
func (h *Handlers) HandleAnalysisReset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.ctrl.Reset()
	return successResult(StateOutput{State: h.ctrl.State()})
}

// HandleAnalysisGet handles the analysis_get tool call.
func (h *Handlers) HandleAnalysisGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := StateOutput{State: h.ctrl.State()}
	if snap, ok := h.ctrl.Snapshot(); ok {
		out.Session = snap
	}
	return successResult(out)
}

// HandleLabelExtract handles the label_extract tool call.
func (h *Handlers) HandleLabelExtract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LabelExtractRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidInput(err.Error())), nil
	}

	result, err := h.labels.ExtractBase64(ctx, input.Image)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleProductSearch handles the product_search tool call.
func (h *Handlers) HandleProductSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProductSearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidInput(err.Error())), nil
	}

	return successResult(ProductSearchOutput{Items: h.products.Search(input.Query)})
}

// HandleHistoryList handles the history_list tool call.
func (h *Handlers) HandleHistoryList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidInput(err.Error())), nil
	}

	result, err := ops.ListHistory(ctx, h.db, ops.ListHistoryInput{
		StarredOnly: input.StarredOnly,
		Limit:       input.Limit,
		Offset:      input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHistoryStar handles the history_star tool call.
func (h *Handlers) HandleHistoryStar(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryStarRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidInput(err.Error())), nil
	}

	result, err := ops.StarHistory(ctx, h.db, ops.StarInput{ID: input.ID, Starred: input.Starred})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHistoryDelete handles the history_delete tool call.
func (h *Handlers) HandleHistoryDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidInput(err.Error())), nil
	}

	result, err := ops.DeleteHistory(ctx, h.db, input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleProfileList handles the profile_list tool call.
func (h *Handlers) HandleProfileList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.ListProfiles(ctx, h.db)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleProfileCreate handles the profile_create tool call.
func (h *Handlers) HandleProfileCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProfileCreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidInput(err.Error())), nil
	}

	result, err := ops.CreateProfile(ctx, h.db, ops.CreateProfileInput{
		Name:         input.Name,
		Restrictions: input.Restrictions,
		Allergies:    input.Allergies,
		Preferences:  input.Preferences,
		Activate:     input.Activate,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleProfileActivate handles the profile_activate tool call.
func (h *Handlers) HandleProfileActivate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidInput(err.Error())), nil
	}

	result, err := ops.ActivateProfile(ctx, h.db, input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleProfileDelete handles the profile_delete tool call.
func (h *Handlers) HandleProfileDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidInput(err.Error())), nil
	}

	result, err := ops.DeleteProfile(ctx, h.db, input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// profile resolves the dietary profile for an analysis call.
func (h *Handlers) profile(ctx context.Context, id string, none bool) (*analysis.Profile, error) {
	if none {
		return nil, nil
	}
	return ops.ResolveProfile(ctx, h.db, id)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	mErr := errors.As(err)

	errorObj := map[string]any{
		"code":    mErr.Code,
		"message": mErr.Message,
		"status":  mErr.Status,
	}
	if mErr.Code == errors.ErrInternal {
		errorObj["message"] = "an internal error occurred"
	} else if mErr.Details != nil {
		errorObj["details"] = mErr.Details
	}

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
