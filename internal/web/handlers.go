package web

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hpungsan/morsel/internal/analysis"
	"github.com/hpungsan/morsel/internal/catalog"
	"github.com/hpungsan/morsel/internal/errors"
	"github.com/hpungsan/morsel/internal/label"
	"github.com/hpungsan/morsel/internal/ops"
	"github.com/hpungsan/morsel/internal/session"
)

// SessionCookie names the cookie that ties a browser to its controller.
const SessionCookie = "morsel_sid"

type sessionKey struct{}

// browserSession assigns each browser a session key, issuing a cookie on
// first visit or when the presented value is not a key this server issues.
func browserSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sid string
		if c, err := r.Cookie(SessionCookie); err == nil && validSessionID(c.Value) {
			sid = c.Value
		} else {
			sid = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    sid,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sid)))
	})
}

func validSessionID(v string) bool {
	_, err := uuid.Parse(v)
	return err == nil
}

func sessionID(r *http.Request) string {
	sid, _ := r.Context().Value(sessionKey{}).(string)
	return sid
}

// controller returns the browser's controller, creating it. Only starting an
// analysis creates one; other routes use existingController.
func (h *Handlers) controller(r *http.Request) *session.Controller {
	return h.sessions.Get(sessionID(r))
}

func (h *Handlers) existingController(r *http.Request) (*session.Controller, bool) {
	return h.sessions.Lookup(sessionID(r))
}

// Request and response bodies

// AnalysisRequest is the body of POST /api/analysis.
type AnalysisRequest struct {
	Ingredients string  `json:"ingredients"`
	ProductName *string `json:"product_name,omitempty"`
	Product     string  `json:"product,omitempty"`
	ProfileID   string  `json:"profile_id,omitempty"`
	NoProfile   bool    `json:"no_profile,omitempty"`
}

// FollowUpRequest is the body of POST /api/analysis/follow-up.
type FollowUpRequest struct {
	Message   string `json:"message"`
	ProfileID string `json:"profile_id,omitempty"`
	NoProfile bool   `json:"no_profile,omitempty"`
}

// ExtractRequest is the JSON body of POST /api/extract.
type ExtractRequest struct {
	Image string `json:"image"`
}

// StarRequest is the optional body of POST /api/history/{id}/star.
type StarRequest struct {
	Starred *bool `json:"starred,omitempty"`
}

// ProfileRequest is the body of profile create and update.
type ProfileRequest struct {
	Name         *string  `json:"name,omitempty"`
	Restrictions []string `json:"restrictions,omitempty"`
	Allergies    []string `json:"allergies,omitempty"`
	Preferences  []string `json:"preferences,omitempty"`
	Activate     bool     `json:"activate,omitempty"`
}

// SessionView is the active session as returned by GET /api/analysis.
type SessionView struct {
	ID              string          `json:"id"`
	IngredientsText string          `json:"ingredients_text"`
	ProductName     *string         `json:"product_name,omitempty"`
	Result          analysis.Result `json:"result"`
	Transcript      []TurnView      `json:"transcript"`
	CreatedAt       int64           `json:"created_at"`
}

// StateResponse reports the controller state and the active session, if any.
type StateResponse struct {
	State   session.State `json:"state"`
	Session *SessionView  `json:"session,omitempty"`
}

// FollowUpResponse is returned by POST /api/analysis/follow-up.
type FollowUpResponse struct {
	Reply     string        `json:"reply"`
	ReplyHTML string        `json:"reply_html"`
	TurnCount int           `json:"turn_count"`
	State     session.State `json:"state"`
}

func stateResponse(c *session.Controller) StateResponse {
	out := StateResponse{State: c.State()}
	if snap, ok := c.Snapshot(); ok {
		out.Session = &SessionView{
			ID:              snap.ID,
			IngredientsText: snap.IngredientsText,
			ProductName:     snap.ProductName,
			Result:          snap.Result,
			Transcript:      turnViews(snap.Transcript),
			CreatedAt:       snap.CreatedAt.Unix(),
		}
	}
	return out
}

// Analysis

// HandleStartAnalysis handles POST /api/analysis.
func (h *Handlers) HandleStartAnalysis(w http.ResponseWriter, r *http.Request) {
	var req AnalysisRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}

	if req.Product != "" {
		p, err := h.products.Lookup(req.Product)
		if err != nil {
			h.renderError(w, r, err)
			return
		}
		name := p.DisplayName()
		req.Ingredients = p.Ingredients
		req.ProductName = &name
	}

	profile, err := h.profile(r, req.ProfileID, req.NoProfile)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	if strings.TrimSpace(req.Ingredients) == "" {
		h.renderError(w, r, errors.NewInvalidInput("ingredients text is required"))
		return
	}

	c := h.controller(r)
	if _, err := c.StartAnalysis(r.Context(), session.StartInput{
		Ingredients: req.Ingredients,
		ProductName: req.ProductName,
		Profile:     profile,
	}); err != nil {
		h.renderError(w, r, err)
		return
	}

	renderJSON(w, http.StatusOK, stateResponse(c))
}

// HandleGetAnalysis handles GET /api/analysis.
func (h *Handlers) HandleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	c, ok := h.existingController(r)
	if !ok {
		renderJSON(w, http.StatusOK, StateResponse{State: session.StateIdle})
		return
	}
	renderJSON(w, http.StatusOK, stateResponse(c))
}

// HandleResetAnalysis handles DELETE /api/analysis.
func (h *Handlers) HandleResetAnalysis(w http.ResponseWriter, r *http.Request) {
	h.sessions.Drop(sessionID(r))
	renderJSON(w, http.StatusOK, StateResponse{State: session.StateIdle})
}

// HandleFollowUp handles POST /api/analysis/follow-up.
func (h *Handlers) HandleFollowUp(w http.ResponseWriter, r *http.Request) {
	var req FollowUpRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}

	profile, err := h.profile(r, req.ProfileID, req.NoProfile)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	c, ok := h.existingController(r)
	if !ok {
		h.renderError(w, r, errors.NewNoActiveSession())
		return
	}
	reply, err := c.AskFollowUp(r.Context(), req.Message, profile)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	out := FollowUpResponse{Reply: reply, ReplyHTML: renderMarkdown(reply), State: c.State()}
	if snap, ok := c.Snapshot(); ok {
		out.TurnCount = len(snap.Transcript)
	}
	renderJSON(w, http.StatusOK, out)
}

// Labels and products

// HandleExtract handles POST /api/extract. The image is either a multipart
// "image" file or a JSON body {"image": "<base64 or data URL>"}.
func (h *Handlers) HandleExtract(w http.ResponseWriter, r *http.Request) {
	// Base64 inflates by 4/3; leave headroom for the JSON or multipart envelope.
	r.Body = http.MaxBytesReader(w, r.Body, label.MaxImageBytes*4/3+64<<10)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("image")
		if err != nil {
			h.renderError(w, r, errors.NewInvalidInput("image file is required"))
			return
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, label.MaxImageBytes+1))
		if err != nil {
			h.renderError(w, r, errors.NewInvalidInput("failed to read image"))
			return
		}
		out, err := h.labels.Extract(r.Context(), data)
		if err != nil {
			h.renderError(w, r, err)
			return
		}
		renderJSON(w, http.StatusOK, out)
		return
	}

	var req ExtractRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	if !strings.HasPrefix(req.Image, "data:") && req.Image != "" {
		if _, err := base64.StdEncoding.DecodeString(req.Image); err != nil {
			h.renderError(w, r, errors.NewInvalidInput("image must be base64 or a data URL"))
			return
		}
	}
	out, err := h.labels.ExtractBase64(r.Context(), req.Image)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleProductSearch handles GET /api/products?q=.
func (h *Handlers) HandleProductSearch(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string][]catalog.Product{
		"items": h.products.Search(r.URL.Query().Get("q")),
	})
}

// History

// HandleHistoryList handles GET /api/history.
func (h *Handlers) HandleHistoryList(w http.ResponseWriter, r *http.Request) {
	result, err := ops.ListHistory(r.Context(), h.db, ops.ListHistoryInput{
		StarredOnly: parseBoolParam(r, "starred"),
		Limit:       parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset:      parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HistoryView is a history item with assistant turns rendered to HTML.
type HistoryView struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	ProductName     *string         `json:"product_name,omitempty"`
	IngredientsText string          `json:"ingredients_text"`
	Result          analysis.Result `json:"result"`
	IsStarred       bool            `json:"is_starred"`
	Transcript      []TurnView      `json:"transcript"`
	CreatedAt       int64           `json:"created_at"`
	UpdatedAt       int64           `json:"updated_at"`
}

// HandleHistoryShow handles GET /api/history/{id}.
func (h *Handlers) HandleHistoryShow(w http.ResponseWriter, r *http.Request) {
	item, err := ops.ShowHistory(r.Context(), h.db, chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, HistoryView{
		ID:              item.ID,
		SessionID:       item.SessionID,
		ProductName:     item.ProductName,
		IngredientsText: item.IngredientsText,
		Result:          item.Result,
		IsStarred:       item.IsStarred,
		Transcript:      turnViews(item.Transcript),
		CreatedAt:       item.CreatedAt,
		UpdatedAt:       item.UpdatedAt,
	})
}

// HandleHistoryStar handles POST /api/history/{id}/star. Without a body it toggles.
func (h *Handlers) HandleHistoryStar(w http.ResponseWriter, r *http.Request) {
	var req StarRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	result, err := ops.StarHistory(r.Context(), h.db, ops.StarInput{
		ID:      chi.URLParam(r, "id"),
		Starred: req.Starred,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleHistoryDelete handles DELETE /api/history/{id}.
func (h *Handlers) HandleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	result, err := ops.DeleteHistory(r.Context(), h.db, chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// Profiles

// HandleProfileList handles GET /api/profiles.
func (h *Handlers) HandleProfileList(w http.ResponseWriter, r *http.Request) {
	result, err := ops.ListProfiles(r.Context(), h.db)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleProfileCreate handles POST /api/profiles.
func (h *Handlers) HandleProfileCreate(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	input := ops.CreateProfileInput{
		Restrictions: req.Restrictions,
		Allergies:    req.Allergies,
		Preferences:  req.Preferences,
		Activate:     req.Activate,
	}
	if req.Name != nil {
		input.Name = *req.Name
	}
	result, err := ops.CreateProfile(r.Context(), h.db, input)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusCreated, result)
}

// HandleProfileUpdate handles PATCH /api/profiles/{id}. Omitted fields are unchanged.
func (h *Handlers) HandleProfileUpdate(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	result, err := ops.UpdateProfile(r.Context(), h.db, ops.UpdateProfileInput{
		ID:           chi.URLParam(r, "id"),
		Name:         req.Name,
		Restrictions: req.Restrictions,
		Allergies:    req.Allergies,
		Preferences:  req.Preferences,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleProfileActivate handles POST /api/profiles/{id}/activate.
func (h *Handlers) HandleProfileActivate(w http.ResponseWriter, r *http.Request) {
	result, err := ops.ActivateProfile(r.Context(), h.db, chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleProfileDeactivate handles POST /api/profiles/deactivate.
func (h *Handlers) HandleProfileDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := ops.DeactivateProfiles(r.Context(), h.db); err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"active_id": nil})
}

// HandleProfileDelete handles DELETE /api/profiles/{id}.
func (h *Handlers) HandleProfileDelete(w http.ResponseWriter, r *http.Request) {
	result, err := ops.DeleteProfile(r.Context(), h.db, chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// profile resolves the dietary profile for an analysis request.
func (h *Handlers) profile(r *http.Request, id string, none bool) (*analysis.Profile, error) {
	if none {
		return nil, nil
	}
	return ops.ResolveProfile(r.Context(), h.db, id)
}
