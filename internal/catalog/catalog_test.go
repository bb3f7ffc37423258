package catalog

import (
	"testing"

	"github.com/hpungsan/morsel/internal/errors"
)

func TestSearch(t *testing.T) {
	c := Default()

	tests := []struct {
		query string
		want  []string
	}{
		{"granola", []string{"Nature Valley Classic Granola Bar"}},
		{"SILK", []string{"Silk Almond Milk"}},
		{"milk", []string{"Silk Almond Milk"}},
		{"  monster ", []string{"Monster Energy Drink"}},
		{"whole", []string{"Dave's Killer Bread Whole Wheat Bread"}},
		{"quinoa", nil},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := c.Search(tt.query)
			if len(got) != len(tt.want) {
				t.Fatalf("Search(%q) returned %d products, want %d", tt.query, len(got), len(tt.want))
			}
			for i, p := range got {
				if p.DisplayName() != tt.want[i] {
					t.Errorf("Search(%q)[%d] = %q, want %q", tt.query, i, p.DisplayName(), tt.want[i])
				}
			}
		})
	}
}

func TestSearch_EmptyQueryReturnsAll(t *testing.T) {
	c := Default()
	if got := len(c.Search("")); got != 5 {
		t.Errorf("Search(\"\") returned %d products, want 5", got)
	}
	if got := len(c.All()); got != 5 {
		t.Errorf("All() returned %d products, want 5", got)
	}
}

func TestNew_CopiesInput(t *testing.T) {
	products := []Product{{Name: "Bar", Brand: "Acme", Ingredients: "Oats"}}
	c := New(products)
	products[0].Name = "Changed"

	if got := c.All()[0].Name; got != "Bar" {
		t.Errorf("Name = %q, want %q", got, "Bar")
	}
}

func TestLookup(t *testing.T) {
	c := Default()

	p, err := c.Lookup("yogurt")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if p.Brand != "Chobani" {
		t.Errorf("Brand = %q, want Chobani", p.Brand)
	}

	if _, err := c.Lookup("quinoa"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Lookup(quinoa) error = %v, want NOT_FOUND", err)
	}
	if _, err := c.Lookup("  "); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Lookup(blank) error = %v, want INVALID_INPUT", err)
	}
}
