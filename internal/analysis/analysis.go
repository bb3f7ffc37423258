// Package analysis holds the conversation-session data model: the verdict of an
// initial analysis, the dietary profile used to personalize it, and the
// append-only transcript of follow-up turns anchored to that verdict.
package analysis

import (
	"fmt"
	"strings"
	"time"
)

// Verdict is the three-way classification of a product.
type Verdict string

const (
	VerdictPass    Verdict = "pass"    // generally safe, no major concerns
	VerdictCaution Verdict = "caution" // some concerning ingredients, use discretion
	VerdictAvoid   Verdict = "avoid"   // contains ingredients to avoid
)

// Verdicts lists the valid verdicts in severity order.
var Verdicts = []Verdict{VerdictPass, VerdictCaution, VerdictAvoid}

// Valid reports whether v is one of pass, caution or avoid.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictPass, VerdictCaution, VerdictAvoid:
		return true
	}
	return false
}

// Result is the structured outcome of an initial analysis.
type Result struct {
	Verdict        Verdict `json:"verdict"`
	WhatStoodOut   string  `json:"whatStoodOut"`
	WhyMatters     string  `json:"whyMatters"`
	WhatsUncertain string  `json:"whatsUncertain"`
	BottomLine     string  `json:"bottomLine"`
}

// Validate checks that all five fields are present and the verdict is in range.
func (r *Result) Validate() error {
	if !r.Verdict.Valid() {
		return fmt.Errorf("verdict %q is not one of pass, caution, avoid", r.Verdict)
	}
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"whatStoodOut", r.WhatStoodOut},
		{"whyMatters", r.WhyMatters},
		{"whatsUncertain", r.WhatsUncertain},
		{"bottomLine", r.BottomLine},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing or empty fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Profile is a caller-supplied dietary profile. A nil *Profile means no personalization.
type Profile struct {
	Restrictions []string `json:"restrictions"`
	Allergies    []string `json:"allergies"`
	Preferences  []string `json:"preferences"`
}

// Role identifies the author of a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in a follow-up transcript.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the conversational state anchored to one successful initial analysis.
// Identity, input and the initial result never change after NewSession; the
// transcript only grows, and only through Append.
type Session struct {
	id              string
	ingredientsText string
	productName     *string
	initial         Result
	transcript      []Turn
	createdAt       time.Time
}

// NewSession creates a session for a freshly computed result.
func NewSession(id, ingredientsText string, productName *string, initial Result, createdAt time.Time) *Session {
	var name *string
	if productName != nil {
		n := *productName
		name = &n
	}
	return &Session{
		id:              id,
		ingredientsText: ingredientsText,
		productName:     name,
		initial:         initial,
		createdAt:       createdAt,
	}
}

func (s *Session) ID() string              { return s.id }
func (s *Session) IngredientsText() string { return s.ingredientsText }
func (s *Session) Initial() Result         { return s.initial }
func (s *Session) CreatedAt() time.Time    { return s.createdAt }
func (s *Session) Len() int                { return len(s.transcript) }

// ProductName returns the product name, or "" when none was given.
func (s *Session) ProductName() string {
	if s.productName == nil {
		return ""
	}
	return *s.productName
}

// HasProductName reports whether a product name was supplied.
func (s *Session) HasProductName() bool {
	return s.productName != nil && strings.TrimSpace(*s.productName) != ""
}

// Transcript returns a copy of the turns in chronological order.
func (s *Session) Transcript() []Turn {
	out := make([]Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Append adds a turn at the end of the transcript.
func (s *Session) Append(role Role, content string, at time.Time) {
	s.transcript = append(s.transcript, Turn{Role: role, Content: content, Timestamp: at})
}

// Snapshot is a detached, serializable copy of a session.
type Snapshot struct {
	ID              string    `json:"id"`
	IngredientsText string    `json:"ingredients_text"`
	ProductName     *string   `json:"product_name,omitempty"`
	Result          Result    `json:"result"`
	Transcript      []Turn    `json:"transcript"`
	CreatedAt       time.Time `json:"created_at"`
}

// Snapshot copies the session so callers can read it without holding a lock.
func (s *Session) Snapshot() *Snapshot {
	snap := &Snapshot{
		ID:              s.id,
		IngredientsText: s.ingredientsText,
		Result:          s.initial,
		Transcript:      s.Transcript(),
		CreatedAt:       s.createdAt,
	}
	if s.productName != nil {
		n := *s.productName
		snap.ProductName = &n
	}
	return snap
}
