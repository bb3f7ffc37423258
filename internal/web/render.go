package web

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/hpungsan/morsel/internal/analysis"
	"github.com/hpungsan/morsel/internal/errors"
)

// Raw HTML in model output is escaped; goldmark omits it unless WithUnsafe is set.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// TurnView is a transcript turn as returned by the API. Assistant turns carry
// their markdown rendered to HTML alongside the raw text.
type TurnView struct {
	Role        analysis.Role `json:"role"`
	Content     string        `json:"content"`
	ContentHTML string        `json:"content_html,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

func turnViews(turns []analysis.Turn) []TurnView {
	out := make([]TurnView, len(turns))
	for i, t := range turns {
		out[i] = TurnView{Role: t.Role, Content: t.Content, Timestamp: t.Timestamp}
		if t.Role == analysis.RoleAssistant {
			out[i].ContentHTML = renderMarkdown(t.Content)
		}
	}
	return out
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderError writes {error:{code,message,status}} with the error's HTTP status.
// Internal error messages are replaced so causes like SQL errors never leak.
func (h *Handlers) renderError(w http.ResponseWriter, r *http.Request, err error) {
	mErr := errors.As(err)

	message := mErr.Message
	if mErr.Code == errors.ErrInternal {
		h.log.Error("internal error", zap.String("path", r.URL.Path), zap.Error(err))
		message = "an internal error occurred"
	}

	errorObj := map[string]any{
		"code":    string(mErr.Code),
		"message": message,
		"status":  mErr.Status,
	}
	renderJSON(w, mErr.Status, map[string]any{"error": errorObj})
}

// renderMarkdown converts markdown text to HTML using goldmark.
func renderMarkdown(md string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return ""
	}
	return buf.String()
}

// decodeJSON reads a JSON request body into v, rejecting unknown fields.
// An empty body leaves v unchanged.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.NewInvalidInput("request body too large")
		}
		return errors.NewInvalidInput("invalid JSON body: " + err.Error())
	}
	return nil
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}
