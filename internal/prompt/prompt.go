// Package prompt builds the chat message lists sent to the inference gateway.
// Builders are pure: identical inputs always produce identical messages.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hpungsan/morsel/internal/analysis"
)

// Message roles understood by the gateway.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part is one element of a multi-part message (used for label images).
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image, typically as a base64 data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// Message is one chat message. When Parts is set it is sent instead of Content.
type Message struct {
	Role    string
	Content string
	Parts   []Part
}

// MarshalJSON encodes content as a plain string, or as the parts array for multi-part messages.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			Role    string `json:"role"`
			Content []Part `json:"content"`
		}{m.Role, m.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Content})
}

const initialTask = `You are an AI-native ingredient understanding copilot for food & beverages.

Your job is to reduce cognitive load at decision time. Given an ingredient list, you provide a clear, actionable analysis.`

const outputContract = `You MUST respond with a single valid JSON object containing exactly these five fields and nothing else:
{
  "verdict": "pass" | "caution" | "avoid",
  "whatStoodOut": "2-3 notable ingredients or patterns (concise)",
  "whyMatters": "Health, dietary, or environmental implications (1-2 sentences)",
  "whatsUncertain": "Gaps in knowledge or ambiguous ingredients (1 sentence)",
  "bottomLine": "Actionable recommendation (1 sentence)"
}

Verdict meanings:
- "pass": Generally safe, no major concerns
- "caution": Some concerning ingredients, use discretion
- "avoid": Contains ingredients to avoid based on health/diet/allergies

No other verdict values are allowed. Do not add prose outside the JSON object.
Be direct, practical, and honest about uncertainty. Focus on what the user needs to know to make a decision.`

const followUpRules = `Answer the user's follow-up questions about THIS product only.
- Ground every answer in the ingredients and the analysis above.
- Do not introduce or analyze other products, even if asked; suggest running a new analysis instead.
- Stay concise: a few sentences unless the user asks for more detail.
- If something cannot be known from the ingredient list, say so plainly.`

// BuildInitial returns the system and user messages for a first analysis.
func BuildInitial(ingredients string, productName *string, profile *analysis.Profile) []Message {
	var sys strings.Builder
	sys.WriteString(initialTask)
	sys.WriteString("\n\n")
	if profile != nil {
		writeProfile(&sys, profile)
		sys.WriteString("Flag any ingredients that conflict with this profile's restrictions, allergies, or preferences.\n\n")
	}
	sys.WriteString(outputContract)

	return []Message{
		{Role: RoleSystem, Content: sys.String()},
		{Role: RoleUser, Content: fmt.Sprintf("Product: %s\n\nIngredients:\n%s", displayName(productName), ingredients)},
	}
}

// BuildFollowUp returns the full message list for a follow-up question: a
// system message restating the product and prior verdict, the transcript
// replayed in order, and the new question last.
func BuildFollowUp(s *analysis.Session, message string, profile *analysis.Profile) []Message {
	var sys strings.Builder
	sys.WriteString("You are an AI-native ingredient understanding copilot for food & beverages. ")
	sys.WriteString("You already analyzed a product for this user.\n\n")

	fmt.Fprintf(&sys, "Product: %s\n\nIngredients:\n%s\n\n", sessionProductName(s), s.IngredientsText())

	r := s.Initial()
	sys.WriteString("Your previous analysis:\n")
	fmt.Fprintf(&sys, "- Verdict: %s\n", r.Verdict)
	fmt.Fprintf(&sys, "- What stood out: %s\n", r.WhatStoodOut)
	fmt.Fprintf(&sys, "- Why it matters: %s\n", r.WhyMatters)
	fmt.Fprintf(&sys, "- What's uncertain: %s\n", r.WhatsUncertain)
	fmt.Fprintf(&sys, "- Bottom line: %s\n\n", r.BottomLine)

	if profile != nil {
		writeProfile(&sys, profile)
		sys.WriteString("Keep this profile in mind when answering.\n\n")
	}
	sys.WriteString(followUpRules)

	turns := s.Transcript()
	msgs := make([]Message, 0, len(turns)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: sys.String()})
	for _, t := range turns {
		msgs = append(msgs, Message{Role: string(t.Role), Content: t.Content})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: message})
	return msgs
}

const labelTask = `You are an OCR specialist that extracts ingredient lists from food product labels.

Given an image of a nutrition/ingredient label, extract ONLY the ingredients list text.

Respond with valid JSON in this exact format:
{
  "productName": "Product name if visible, or null",
  "ingredients": "The full ingredients list as text, cleaned up but preserving all ingredient names"
}

If you cannot find ingredients in the image, respond with:
{
  "productName": null,
  "ingredients": null,
  "error": "Could not find ingredients in this image"
}`

// BuildLabelExtraction returns the messages asking the gateway to read a label image.
func BuildLabelExtraction(imageDataURL string) []Message {
	return []Message{
		{Role: RoleSystem, Content: labelTask},
		{Role: RoleUser, Parts: []Part{
			{Type: "image_url", ImageURL: &ImageURL{URL: imageDataURL}},
			{Type: "text", Text: "Extract the ingredients list from this product label image."},
		}},
	}
}

func writeProfile(b *strings.Builder, p *analysis.Profile) {
	b.WriteString("User's dietary profile:\n")
	fmt.Fprintf(b, "- Restrictions: %s\n", joinOrNone(p.Restrictions))
	fmt.Fprintf(b, "- Allergies: %s\n", joinOrNone(p.Allergies))
	fmt.Fprintf(b, "- Preferences: %s\n", joinOrNone(p.Preferences))
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, ", ")
}

func displayName(name *string) string {
	if name == nil || strings.TrimSpace(*name) == "" {
		return "Unknown"
	}
	return strings.TrimSpace(*name)
}

func sessionProductName(s *analysis.Session) string {
	if !s.HasProductName() {
		return "Unknown"
	}
	return strings.TrimSpace(s.ProductName())
}
