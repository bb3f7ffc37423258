// Package catalog is a small built-in product list used for quick lookups by
// name or brand. It stands in for a real product database.
package catalog

import (
	"strings"

	"github.com/hpungsan/morsel/internal/errors"
)

// Product is a packaged product with its declared ingredient list.
type Product struct {
	Name        string `json:"name"`
	Brand       string `json:"brand"`
	Ingredients string `json:"ingredients"`
}

// DisplayName is the name used as the analysis product name.
func (p Product) DisplayName() string {
	return p.Brand + " " + p.Name
}

// Catalog searches a fixed list of products.
type Catalog struct {
	products []Product
}

// New creates a catalog over products. The slice is copied.
func New(products []Product) *Catalog {
	out := make([]Product, len(products))
	copy(out, products)
	return &Catalog{products: out}
}

// Default returns a catalog of common grocery products.
func Default() *Catalog {
	return New(sampleProducts)
}

// Search returns products whose name or brand contains query, ignoring case.
// An empty query returns every product.
func (c *Catalog) Search(query string) []Product {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		if q == "" || strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Brand), q) {
			out = append(out, p)
		}
	}
	return out
}

// Lookup returns the first product matching query.
func (c *Catalog) Lookup(query string) (Product, error) {
	if strings.TrimSpace(query) == "" {
		return Product{}, errors.NewInvalidInput("product query is required")
	}
	matches := c.Search(query)
	if len(matches) == 0 {
		return Product{}, errors.NewNotFound("product", query)
	}
	return matches[0], nil
}

// All returns every product.
func (c *Catalog) All() []Product {
	return c.Search("")
}

var sampleProducts = []Product{
	{
		Name:        "Classic Granola Bar",
		Brand:       "Nature Valley",
		Ingredients: "Whole Grain Oats, Sugar, Canola Oil, Rice Flour, Honey, Salt, Brown Sugar Syrup, Baking Soda, Soy Lecithin, Natural Flavor",
	},
	{
		Name:        "Greek Yogurt",
		Brand:       "Chobani",
		Ingredients: "Cultured Nonfat Milk, Cream, Natural Flavors, Fruit Pectin, Locust Bean Gum, Vitamin D3",
	},
	{
		Name:        "Almond Milk",
		Brand:       "Silk",
		Ingredients: "Almondmilk (Filtered Water, Almonds), Cane Sugar, Vitamin and Mineral Blend (Calcium Carbonate, Vitamin E Acetate, Vitamin A Palmitate, Vitamin D2), Sea Salt, Gellan Gum, Sunflower Lecithin, Locust Bean Gum, Ascorbic Acid (to protect freshness), Natural Flavor",
	},
	{
		Name:        "Whole Wheat Bread",
		Brand:       "Dave's Killer Bread",
		Ingredients: "Organic Whole Wheat Flour, Water, Organic Cracked Whole Wheat, Organic Cane Sugar, Organic Wheat Gluten, Organic Oat Fiber, Organic Molasses, Yeast, Sea Salt, Organic Cultured Wheat Flour, Organic Vinegar",
	},
	{
		Name:        "Energy Drink",
		Brand:       "Monster",
		Ingredients: "Carbonated Water, Sugar, Glucose, Citric Acid, Natural Flavors, Taurine, Sodium Citrate, Color Added, Panax Ginseng Extract, L-Carnitine L-Tartrate, Caffeine, Sorbic Acid, Benzoic Acid, Niacinamide, Sucralose, Salt, D-Glucuronolactone, Inositol, Guarana Extract, Pyridoxine Hydrochloride, Riboflavin, Maltodextrin, Cyanocobalamin",
	},
}
