// Package interpret converts raw gateway content into typed results.
// Initial analyses follow a strict JSON contract; follow-up replies are free text.
package interpret

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hpungsan/morsel/internal/analysis"
	"github.com/hpungsan/morsel/internal/errors"
)

// verdictPayload uses pointers so a missing field is distinguishable from an empty one.
type verdictPayload struct {
	Verdict        *string `json:"verdict"`
	WhatStoodOut   *string `json:"whatStoodOut"`
	WhyMatters     *string `json:"whyMatters"`
	WhatsUncertain *string `json:"whatsUncertain"`
	BottomLine     *string `json:"bottomLine"`
}

// Verdict parses an initial-analysis response. Anything other than exactly one
// JSON object carrying all five fields with an allowed verdict is rejected with
// MALFORMED_ANALYSIS. Unknown extra fields are ignored.
func Verdict(raw string) (*analysis.Result, error) {
	var p verdictPayload
	if err := decodeSingle(raw, &p); err != nil {
		return nil, errors.NewMalformedAnalysis(err)
	}

	fields := []struct {
		name  string
		value *string
	}{
		{"verdict", p.Verdict},
		{"whatStoodOut", p.WhatStoodOut},
		{"whyMatters", p.WhyMatters},
		{"whatsUncertain", p.WhatsUncertain},
		{"bottomLine", p.BottomLine},
	}
	var missing []string
	for _, f := range fields {
		if f.value == nil {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewMalformedAnalysis(fmt.Errorf("missing fields: %s", strings.Join(missing, ", ")))
	}

	result := &analysis.Result{
		Verdict:        analysis.Verdict(*p.Verdict),
		WhatStoodOut:   *p.WhatStoodOut,
		WhyMatters:     *p.WhyMatters,
		WhatsUncertain: *p.WhatsUncertain,
		BottomLine:     *p.BottomLine,
	}
	if err := result.Validate(); err != nil {
		return nil, errors.NewMalformedAnalysis(err)
	}
	return result, nil
}

// Reply returns a follow-up answer trimmed of surrounding whitespace.
func Reply(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", errors.NewEmptyResponse()
	}
	return text, nil
}

// LabelExtraction is the outcome of reading a label image.
type LabelExtraction struct {
	ProductName *string `json:"product_name,omitempty"`
	Ingredients string  `json:"ingredients"`
}

type labelPayload struct {
	ProductName *string `json:"productName"`
	Ingredients *string `json:"ingredients"`
	Error       *string `json:"error"`
}

// Label parses a label-extraction response. A response without ingredients
// yields NO_INGREDIENTS_FOUND, carrying the model's own explanation when given.
func Label(raw string) (*LabelExtraction, error) {
	var p labelPayload
	if err := decodeSingle(raw, &p); err != nil {
		return nil, errors.NewMalformedAnalysis(err)
	}
	if p.Ingredients == nil || strings.TrimSpace(*p.Ingredients) == "" {
		msg := ""
		if p.Error != nil {
			msg = strings.TrimSpace(*p.Error)
		}
		return nil, errors.NewNoIngredientsFound(msg)
	}

	out := &LabelExtraction{Ingredients: strings.TrimSpace(*p.Ingredients)}
	if p.ProductName != nil {
		if name := strings.TrimSpace(*p.ProductName); name != "" && !strings.EqualFold(name, "null") {
			out.ProductName = &name
		}
	}
	return out, nil
}

// decodeSingle decodes exactly one JSON object from raw and rejects trailing data.
func decodeSingle(raw string, v any) error {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("content is not a JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("unexpected data after JSON object")
	}
	return nil
}
